package company

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("company not found")
	ErrNameTaken = errors.New("company name already exists")
)

type Repository interface {
	Create(ctx context.Context, c *Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*Company, error)
	// Update writes name, active and token_limit. tokens_used is never
	// written here.
	Update(ctx context.Context, c *Company) error
	List(ctx context.Context, limit, offset int) ([]*Company, int, error)
	// AddTokens increments tokens_used in a single statement.
	AddTokens(ctx context.Context, id uuid.UUID, n int64) error
	ResetUsage(ctx context.Context, id uuid.UUID) error
}
