package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/womenshealth/planner/internal/platform/blobstore"
	"github.com/womenshealth/planner/internal/platform/lock"
	"github.com/womenshealth/planner/internal/platform/telemetry"
)

var (
	ErrInvalid              = errors.New("invalid plan")
	ErrPlanCompleted        = errors.New("plan is completed and can no longer be changed")
	ErrGenerationInProgress = errors.New("plan generation is already in progress")
	ErrNotCompleted         = errors.New("plan has not been generated yet")
	ErrExamNotFound         = errors.New("exam not found")
	ErrNoExamFile           = errors.New("exam has no attached file")
	ErrNoCompany            = errors.New("request is not scoped to a company")
)

// InterruptedMessage is stored on plans whose generation was cut short by a
// process restart.
const InterruptedMessage = "geração interrompida antes da conclusão"

// Generator turns intake data into a final plan.
type Generator interface {
	Generate(ctx context.Context, p *Plan) (*FinalPlan, error)
}

// Renderer lays out a completed plan as a document.
type Renderer interface {
	Render(p *Plan) ([]byte, error)
}

// QuotaAccountant gates and charges model token usage per company.
type QuotaAccountant interface {
	CheckQuota(ctx context.Context, companyID uuid.UUID) error
	ChargeTokens(ctx context.Context, companyID uuid.UUID, n int) error
}

type Deps struct {
	Generator  Generator
	Quota      QuotaAccountant
	Locker     lock.Locker
	Renderer   Renderer
	Blobs      blobstore.BlobStore
	PresignTTL time.Duration
	Metrics    *telemetry.Metrics
	Logger     zerolog.Logger
}

type Service struct {
	plans      Repository
	generator  Generator
	quota      QuotaAccountant
	locker     lock.Locker
	renderer   Renderer
	blobs      blobstore.BlobStore
	presignTTL time.Duration
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, deps Deps) *Service {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = time.Hour
	}
	return &Service{
		plans:      repo,
		generator:  deps.Generator,
		quota:      deps.Quota,
		locker:     deps.Locker,
		renderer:   deps.Renderer,
		blobs:      deps.Blobs,
		presignTTL: deps.PresignTTL,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With().Str("component", "plan").Logger(),
		now:        time.Now,
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validate(p *Plan) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return invalid("title is required")
	}
	if p.Patient.Age != nil && (*p.Patient.Age < 0 || *p.Patient.Age > 130) {
		return invalid("patient.age out of range")
	}
	if p.Patient.Height != nil && *p.Patient.Height <= 0 {
		return invalid("patient.height must be positive")
	}
	if p.Patient.Weight != nil && *p.Patient.Weight <= 0 {
		return invalid("patient.weight must be positive")
	}
	for i, s := range p.Symptoms {
		if strings.TrimSpace(s.Description) == "" {
			return invalid("symptoms[%d].description is required", i)
		}
		if s.Priority < 1 {
			return invalid("symptoms[%d].priority must be at least 1", i)
		}
	}
	for i, e := range p.Exams {
		if strings.TrimSpace(e.Name) == "" {
			return invalid("exams[%d].name is required", i)
		}
	}
	for i, ev := range p.Timeline {
		if ev.Date.IsZero() {
			return invalid("timeline[%d].date is required", i)
		}
		if strings.TrimSpace(ev.Description) == "" {
			return invalid("timeline[%d].description is required", i)
		}
	}
	return nil
}

// load fetches a plan and hides plans owned by other companies.
func (s *Service) load(ctx context.Context, companyID, id uuid.UUID) (*Plan, error) {
	if companyID == uuid.Nil {
		return nil, ErrNoCompany
	}
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return p, nil
}

func checkEditable(p *Plan) error {
	switch p.Status {
	case StatusCompleted:
		return ErrPlanCompleted
	case StatusGenerating:
		return ErrGenerationInProgress
	}
	return nil
}

// CreatePlan stores a new draft. CreatedBy and CompanyID must be set by the
// caller from the authenticated identity.
func (s *Service) CreatePlan(ctx context.Context, p *Plan) error {
	if p.CompanyID == uuid.Nil {
		return ErrNoCompany
	}
	if err := validate(p); err != nil {
		return err
	}
	p.Status = StatusDraft
	p.FinalPlan = nil
	p.GenerationStartedAt, p.GenerationCompletedAt, p.GenerationError = nil, nil, nil
	for i := range p.Exams {
		// files are attached through AttachExamFile only
		p.Exams[i].FileKey, p.Exams[i].FileURL = "", ""
	}
	return s.plans.Create(ctx, p)
}

// GetPlan returns the plan with presigned URLs for attached exam files.
func (s *Service) GetPlan(ctx context.Context, companyID, id uuid.UUID) (*Plan, error) {
	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	s.presignExams(ctx, p)
	return p, nil
}

func (s *Service) presignExams(ctx context.Context, p *Plan) {
	if s.blobs == nil {
		return
	}
	for i := range p.Exams {
		if p.Exams[i].FileKey == "" {
			continue
		}
		u, err := s.blobs.PresignURL(ctx, p.Exams[i].FileKey, s.presignTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("plan_id", p.ID.String()).Int("exam", i).Msg("presign exam file failed")
			continue
		}
		p.Exams[i].FileURL = u
	}
}

func (s *Service) ListPlans(ctx context.Context, companyID uuid.UUID, params SearchParams, limit, offset int) ([]*Plan, int, error) {
	if companyID == uuid.Nil {
		return nil, 0, ErrNoCompany
	}
	switch params.Status {
	case "", StatusDraft, StatusGenerating, StatusCompleted, StatusError:
	default:
		return nil, 0, invalid("unknown status %q", params.Status)
	}
	return s.plans.Search(ctx, companyID, params, limit, offset)
}

// UpdatePlan replaces the title and intake sub-records of a draft or failed
// plan. Exam file keys can only be kept, never pointed at new objects.
func (s *Service) UpdatePlan(ctx context.Context, companyID, id uuid.UUID, in *Plan) (*Plan, error) {
	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(p); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(p.Exams))
	for _, e := range p.Exams {
		if e.FileKey != "" {
			known[e.FileKey] = true
		}
	}
	for i := range in.Exams {
		if !known[in.Exams[i].FileKey] {
			in.Exams[i].FileKey = ""
		}
		in.Exams[i].FileURL = ""
	}

	p.Title = in.Title
	p.Patient = in.Patient
	p.MenstrualHistory = in.MenstrualHistory
	p.Symptoms = in.Symptoms
	p.HealthHistory = in.HealthHistory
	p.Lifestyle = in.Lifestyle
	p.Exams = in.Exams
	p.TCMObservations = in.TCMObservations
	p.Timeline = in.Timeline
	p.IFMMatrix = in.IFMMatrix
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.plans.Update(ctx, p); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrGenerationInProgress
		}
		return nil, err
	}
	s.presignExams(ctx, p)
	return p, nil
}

func (s *Service) DeletePlan(ctx context.Context, companyID, id uuid.UUID) error {
	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return err
	}
	if p.Status == StatusGenerating {
		return ErrGenerationInProgress
	}
	if err := s.plans.Delete(ctx, id); err != nil {
		return err
	}
	for _, e := range p.Exams {
		s.deleteBlob(ctx, e.FileKey)
	}
	return nil
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if key == "" || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("delete exam file failed")
	}
}

// GeneratePlan runs the model pipeline for a draft or failed plan.
//
// Quota and inactive-company failures are returned before the plan is
// touched. Once the plan is in generating, the outcome is reported through
// the stored plan: completed with a final plan, or error with the cause's
// message. Generations for one company never overlap, which keeps the quota
// check and the charge consistent.
func (s *Service) GeneratePlan(ctx context.Context, companyID, id uuid.UUID) (*Plan, error) {
	// the run outlives a disconnecting client
	ctx = context.WithoutCancel(ctx)

	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(p); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "generate:"+companyID.String())
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire generation lock: %w", err)
	}
	defer release()

	log := s.logger.With().Str("plan_id", p.ID.String()).Str("company_id", companyID.String()).Logger()

	if err := s.quota.CheckQuota(ctx, companyID); err != nil {
		s.metrics.GenerationFinished(telemetry.OutcomeRejected, 0)
		log.Info().Err(err).Msg("generation rejected")
		return nil, err
	}

	started := s.now().UTC()
	p.Status = StatusGenerating
	p.GenerationStartedAt = &started
	p.GenerationCompletedAt, p.GenerationError, p.FinalPlan = nil, nil, nil
	if err := s.plans.MarkGenerating(ctx, p); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrGenerationInProgress
		}
		return nil, err
	}
	log.Info().Msg("generation started")

	result, genErr := s.generator.Generate(ctx, p)
	finished := s.now().UTC()
	p.GenerationCompletedAt = &finished
	elapsed := finished.Sub(started)

	if genErr != nil {
		msg := genErr.Error()
		p.Status = StatusError
		p.GenerationError = &msg
		if err := s.plans.SaveGenerationResult(ctx, p); err != nil {
			return nil, fmt.Errorf("record generation failure: %w", err)
		}
		s.metrics.GenerationFinished(telemetry.OutcomeError, elapsed)
		log.Error().Err(genErr).Dur("duration", elapsed).Msg("generation failed")
		return p, nil
	}

	if err := s.quota.ChargeTokens(ctx, companyID, result.TokenUsage); err != nil {
		// the plan was produced; losing the charge must not lose the plan
		log.Error().Err(err).Int("tokens", result.TokenUsage).Msg("charge tokens failed")
	} else {
		s.metrics.TokensCharged(result.TokenUsage)
	}

	p.Status = StatusCompleted
	p.FinalPlan = result
	if err := s.plans.SaveGenerationResult(ctx, p); err != nil {
		return nil, fmt.Errorf("record generation result: %w", err)
	}
	s.metrics.GenerationFinished(telemetry.OutcomeCompleted, elapsed)
	log.Info().
		Dur("duration", elapsed).
		Int("tokens", result.TokenUsage).
		Int("recommendations", len(result.Recommendations)).
		Msg("generation completed")
	return p, nil
}

// RecoverInterrupted fails plans left in generating by a previous process.
// Only plans started before cutoff are touched.
func (s *Service) RecoverInterrupted(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.plans.FailStale(ctx, cutoff, InterruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn().Int("plans", n).Msg("marked interrupted generations as failed")
	}
	return n, nil
}

// RenderPDF renders a completed plan. No bytes are returned on failure.
func (s *Service) RenderPDF(ctx context.Context, companyID, id uuid.UUID) ([]byte, *Plan, error) {
	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusCompleted {
		return nil, nil, ErrNotCompleted
	}
	out, err := s.renderer.Render(p)
	s.metrics.PDFRendered(err)
	if err != nil {
		s.logger.Error().Err(err).Str("plan_id", p.ID.String()).Msg("render pdf failed")
		return nil, nil, fmt.Errorf("render plan %s: %w", p.ID, err)
	}
	return out, p, nil
}

func examAt(p *Plan, index int) (*Exam, error) {
	if index < 0 || index >= len(p.Exams) {
		return nil, ErrExamNotFound
	}
	return &p.Exams[index], nil
}

// AttachExamFile stores a file for exam index and records its key. A
// previously attached file is deleted once the new key is saved.
func (s *Service) AttachExamFile(ctx context.Context, companyID, id uuid.UUID, index int, contentType string, r io.Reader) (*Plan, error) {
	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(p); err != nil {
		return nil, err
	}
	exam, err := examAt(p, index)
	if err != nil {
		return nil, err
	}
	ct, err := blobstore.NormalizeContentType(contentType)
	if err != nil {
		return nil, err
	}

	key := blobstore.ExamKey(companyID, p.ID, index, ct)
	if _, err := s.blobs.Upload(ctx, key, ct, r); err != nil {
		return nil, err
	}
	previous := exam.FileKey
	exam.FileKey = key
	if err := s.plans.Update(ctx, p); err != nil {
		s.deleteBlob(ctx, key)
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrGenerationInProgress
		}
		return nil, err
	}
	s.deleteBlob(ctx, previous)
	s.presignExams(ctx, p)
	return p, nil
}

// ExamFileURL returns a presigned URL for the file attached to exam index.
func (s *Service) ExamFileURL(ctx context.Context, companyID, id uuid.UUID, index int) (string, error) {
	p, err := s.load(ctx, companyID, id)
	if err != nil {
		return "", err
	}
	exam, err := examAt(p, index)
	if err != nil {
		return "", err
	}
	if exam.FileKey == "" {
		return "", ErrNoExamFile
	}
	return s.blobs.PresignURL(ctx, exam.FileKey, s.presignTTL)
}

func (s *Service) PresignTTL() time.Duration { return s.presignTTL }
