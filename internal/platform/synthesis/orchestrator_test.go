package synthesis

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/womenshealth/planner/internal/domain/plan"
	"github.com/womenshealth/planner/internal/platform/llm"
	"github.com/womenshealth/planner/internal/platform/prompt"
	"github.com/womenshealth/planner/internal/platform/telemetry"
)

func newTestOrchestrator(t *testing.T, client llm.Client) *Orchestrator {
	t.Helper()
	store, err := prompt.Load()
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	return NewOrchestrator(client, store, zerolog.Nop(), telemetry.NewMetrics())
}

func symptomsOnlyPlan() *plan.Plan {
	return &plan.Plan{
		ID:    uuid.New(),
		Title: "Plano",
		Symptoms: []plan.Symptom{
			{Description: "Cólica intensa", Priority: 1},
			{Description: "Fadiga", Priority: 2},
			{Description: "Insônia", Priority: 3},
		},
	}
}

func fullPlan() *plan.Plan {
	p := symptomsOnlyPlan()
	p.Exams = []plan.Exam{{Name: "Ferritina", Results: "12 ng/mL"}}
	p.TCMObservations = plan.TCMObservations{Tongue: "pálida"}
	p.IFMMatrix = plan.IFMMatrix{Energy: "fadiga"}
	return p
}

func finalText() string {
	var b strings.Builder
	for _, h := range prompt.PlanHeadings {
		b.WriteString(h.String() + "\nConteúdo da seção.\n\n")
	}
	return b.String()
}

func scripted(analyses map[string]string, final string, finalErr error) *llm.Mock {
	return &llm.Mock{Handler: func(req llm.Request) (*llm.Response, error) {
		if req.Label == string(prompt.FinalPlan) {
			if finalErr != nil {
				return nil, finalErr
			}
			return &llm.Response{Content: final}, nil
		}
		if out, ok := analyses[req.Label]; ok {
			return &llm.Response{Content: out}, nil
		}
		return nil, errors.New("provider unavailable")
	}}
}

func finalPrompt(t *testing.T, m *llm.Mock) string {
	t.Helper()
	calls := m.CallsFor(string(prompt.FinalPlan))
	if len(calls) != 1 {
		t.Fatalf("expected 1 final synthesis call, got %d", len(calls))
	}
	return calls[0].Prompt
}

func expectContains(t *testing.T, s string, subs ...string) {
	t.Helper()
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			t.Errorf("expected %q in prompt", sub)
		}
	}
}

func expectNotContains(t *testing.T, s string, subs ...string) {
	t.Helper()
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			t.Errorf("did not expect %q in prompt", sub)
		}
	}
}

func TestGenerate_EmptyInputsUseSentinelsWithoutCalls(t *testing.T) {
	m := scripted(nil, finalText(), nil)
	o := newTestOrchestrator(t, m)

	fp, err := o.Generate(context.Background(), symptomsOnlyPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp == nil {
		t.Fatal("expected a final plan")
	}

	// only the final synthesis may reach the provider
	if n := len(m.Calls()); n != 1 {
		t.Errorf("expected 1 provider call, got %d", n)
	}
	expectContains(t, finalPrompt(t, m), ExamNotProvided, TCMNotProvided, IFMNotProvided, "1. Cólica intensa (prioridade 1)")
}

func TestGenerate_ResultsMatchedByAnalysis(t *testing.T) {
	m := scripted(map[string]string{
		string(prompt.ExamAnalysis): "RESULTADO-EXAMES",
		string(prompt.TCMAnalysis):  "RESULTADO-MTC",
		string(prompt.IFMAnalysis):  "RESULTADO-IFM",
	}, finalText(), nil)
	o := newTestOrchestrator(t, m)

	if _, err := o.Generate(context.Background(), fullPlan()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectContains(t, finalPrompt(t, m),
		"ANÁLISE DOS EXAMES\nRESULTADO-EXAMES",
		"ANÁLISE DE MEDICINA TRADICIONAL CHINESA\nRESULTADO-MTC",
		"ANÁLISE DA MATRIZ IFM\nRESULTADO-IFM")
	calls := m.Calls()
	if len(calls) != 4 {
		t.Errorf("expected 4 provider calls, got %d", len(calls))
	}
	for _, c := range calls {
		if c.System == "" {
			t.Errorf("%s: expected a system prompt", c.Label)
		}
	}
}

func TestGenerate_SubAnalysisFailureDegrades(t *testing.T) {
	m := scripted(map[string]string{
		string(prompt.TCMAnalysis): "Padrão de deficiência de Qi.",
	}, finalText(), nil)
	o := newTestOrchestrator(t, m)

	fp, err := o.Generate(context.Background(), fullPlan())
	if err != nil {
		t.Fatalf("sub-analysis failures must not abort: %v", err)
	}
	if fp == nil {
		t.Fatal("expected a final plan")
	}

	fpPrompt := finalPrompt(t, m)
	expectContains(t, fpPrompt, ExamFallback, IFMFallback, "Padrão de deficiência de Qi.")
	expectNotContains(t, fpPrompt, TCMFallback)
}

func TestGenerate_SynthesisFailure(t *testing.T) {
	cause := errors.New("upstream 503: model overloaded")
	m := scripted(nil, "", cause)
	o := newTestOrchestrator(t, m)

	fp, err := o.Generate(context.Background(), symptomsOnlyPlan())
	if fp != nil {
		t.Errorf("expected no final plan, got %+v", fp)
	}
	if err == nil {
		t.Fatal("expected error")
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if genErr.Step != string(prompt.FinalPlan) {
		t.Errorf("expected step %q, got %q", prompt.FinalPlan, genErr.Step)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be wrapped")
	}
	if !strings.Contains(err.Error(), "upstream 503: model overloaded") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestGenerate_PackagesResult(t *testing.T) {
	text := "  " + finalText() + "  "
	m := scripted(nil, text, nil)
	o := newTestOrchestrator(t, m)

	fp, err := o.Generate(context.Background(), symptomsOnlyPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content := strings.TrimSpace(text)
	if fp.Content != content {
		t.Error("expected trimmed content")
	}
	if fp.TokenUsage != EstimateTokens(content) {
		t.Errorf("expected %d tokens, got %d", EstimateTokens(content), fp.TokenUsage)
	}
	if !reflect.DeepEqual(fp.Recommendations, ExtractRecommendations(content)) {
		t.Errorf("unexpected recommendations %+v", fp.Recommendations)
	}
	if len(fp.Recommendations) != 3 {
		t.Errorf("expected 3 recommendations, got %d", len(fp.Recommendations))
	}
}

func TestGenerate_AnalysesRunConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		started int
		all     = make(chan struct{})
	)
	m := &llm.Mock{Handler: func(req llm.Request) (*llm.Response, error) {
		if req.Label == string(prompt.FinalPlan) {
			return &llm.Response{Content: finalText()}, nil
		}
		mu.Lock()
		started++
		if started == len(analyses) {
			close(all)
		}
		mu.Unlock()
		select {
		case <-all:
			return &llm.Response{Content: "ok " + req.Label}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("analyses did not overlap")
		}
	}}
	o := newTestOrchestrator(t, m)

	if _, err := o.Generate(context.Background(), fullPlan()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectNotContains(t, finalPrompt(t, m), ExamFallback, TCMFallback, IFMFallback)
}

func TestGenerate_CancelledContextFailsFinalCall(t *testing.T) {
	m := scripted(nil, finalText(), nil)
	o := newTestOrchestrator(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Generate(ctx, symptomsOnlyPlan()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
