// Package synthesis turns a plan's intake data into a final plan document:
// three independent sub-analyses run concurrently, then one synthesis call
// combines everything.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/womenshealth/planner/internal/domain/plan"
	"github.com/womenshealth/planner/internal/platform/llm"
	"github.com/womenshealth/planner/internal/platform/planformat"
	"github.com/womenshealth/planner/internal/platform/prompt"
	"github.com/womenshealth/planner/internal/platform/telemetry"
)

// Sentinels used when a sub-analysis has no input. The model is not called.
const (
	ExamNotProvided = "Nenhum exame laboratorial ou de imagem foi fornecido."
	TCMNotProvided  = "Nenhuma observação de Medicina Tradicional Chinesa foi fornecida."
	IFMNotProvided  = "Nenhum dado da Matriz de Medicina Funcional foi fornecido."
)

// Fallbacks used when a sub-analysis call fails.
const (
	ExamFallback = "Não foi possível analisar os exames neste momento."
	TCMFallback  = "Não foi possível analisar as observações de Medicina Tradicional Chinesa neste momento."
	IFMFallback  = "Não foi possível analisar a Matriz de Medicina Funcional neste momento."
)

type analysis struct {
	name     prompt.Name
	inputKey string
	sentinel string
	fallback string
}

var analyses = []analysis{
	{prompt.ExamAnalysis, planformat.KeyExams, ExamNotProvided, ExamFallback},
	{prompt.TCMAnalysis, planformat.KeyTCMObservations, TCMNotProvided, TCMFallback},
	{prompt.IFMAnalysis, planformat.KeyIFMMatrix, IFMNotProvided, IFMFallback},
}

// GenerationError reports a failed synthesis. Its message carries the cause.
type GenerationError struct {
	Step string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("plan generation failed at %s: %v", e.Step, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type Orchestrator struct {
	client    llm.Client
	templates *prompt.Store
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

func NewOrchestrator(client llm.Client, templates *prompt.Store, logger zerolog.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		client:    client,
		templates: templates,
		logger:    logger.With().Str("component", "synthesis").Logger(),
		metrics:   metrics,
	}
}

// Generate runs the pipeline for p. Only the final synthesis call can fail
// the run; sub-analysis failures degrade to fallback sentences. There are no
// retries, and cancellation is governed entirely by ctx.
func (o *Orchestrator) Generate(ctx context.Context, p *plan.Plan) (*plan.FinalPlan, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "synthesis.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", p.ID.String()))

	log := o.logger.With().Str("plan_id", p.ID.String()).Logger()
	vars := planformat.Format(p)

	results := make([]string, len(analyses))
	var g errgroup.Group
	for i, a := range analyses {
		g.Go(func() error {
			results[i] = o.runAnalysis(ctx, log, a, vars)
			return nil
		})
	}
	_ = g.Wait()

	final := make(map[string]string, len(vars)+len(analyses))
	for k, v := range vars {
		final[k] = v
	}
	for i, a := range analyses {
		final[string(a.name)] = results[i]
	}

	promptText, err := o.templates.Render(prompt.FinalPlan, final)
	if err != nil {
		return nil, fail(span, &GenerationError{Step: string(prompt.FinalPlan), Err: err})
	}
	resp, err := o.call(ctx, prompt.FinalPlan, promptText)
	if err != nil {
		return nil, fail(span, &GenerationError{Step: string(prompt.FinalPlan), Err: err})
	}

	content := strings.TrimSpace(resp.Content)
	fp := &plan.FinalPlan{
		Content:         content,
		Recommendations: ExtractRecommendations(content),
		TokenUsage:      EstimateTokens(content),
	}
	span.SetAttributes(attribute.Int("plan.token_usage", fp.TokenUsage))
	log.Info().
		Int("token_usage", fp.TokenUsage).
		Int("recommendations", len(fp.Recommendations)).
		Msg("plan synthesized")
	return fp, nil
}

// runAnalysis never fails: empty input yields the sentinel without a model
// call and any error yields the fallback sentence.
func (o *Orchestrator) runAnalysis(ctx context.Context, log zerolog.Logger, a analysis, vars planformat.Vars) string {
	if strings.TrimSpace(vars[a.inputKey]) == "" {
		return a.sentinel
	}
	promptText, err := o.templates.Render(a.name, vars)
	if err == nil {
		var resp *llm.Response
		if resp, err = o.call(ctx, a.name, promptText); err == nil {
			return strings.TrimSpace(resp.Content)
		}
	}
	log.Warn().Err(err).Str("analysis", string(a.name)).Msg("sub-analysis failed, using fallback")
	o.metrics.AnalysisFallback(string(a.name))
	return a.fallback
}

func (o *Orchestrator) call(ctx context.Context, step prompt.Name, promptText string) (*llm.Response, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm."+string(step))
	defer span.End()

	start := time.Now()
	resp, err := o.client.Complete(ctx, llm.Request{
		System: o.templates.System(),
		Prompt: promptText,
		Label:  string(step),
	})
	o.metrics.LLMCall(string(step), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	return resp, nil
}

func fail(span trace.Span, err *GenerationError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
