package plan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("plan not found")
	// ErrStateConflict is returned by conditional writes when the stored
	// status no longer allows the transition.
	ErrStateConflict = errors.New("plan status changed concurrently")
	// ErrUnknownCompany is returned by Create when the owning company does not exist.
	ErrUnknownCompany = errors.New("company does not exist")
)

// SearchParams filters plan listings. Zero values mean "no filter".
type SearchParams struct {
	Status    string
	Title     string
	CreatedBy string
}

type Repository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	// Update writes title and intake sub-records; only draft or error plans are touched.
	Update(ctx context.Context, p *Plan) error
	// MarkGenerating moves a draft or error plan to generating.
	MarkGenerating(ctx context.Context, p *Plan) error
	// SaveGenerationResult persists status, final plan, timestamps and error.
	SaveGenerationResult(ctx context.Context, p *Plan) error
	// FailStale moves plans stuck in generating since before cutoff to error.
	FailStale(ctx context.Context, cutoff time.Time, message string) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, companyID uuid.UUID, params SearchParams, limit, offset int) ([]*Plan, int, error)
}
