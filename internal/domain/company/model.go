package company

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTokenLimit applies when a company is created without a limit.
const DefaultTokenLimit int64 = 100000

// Company is the tenant boundary and carries the token quota.
type Company struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Active     bool      `db:"active" json:"active"`
	TokenLimit int64     `db:"token_limit" json:"token_limit"`
	TokensUsed int64     `db:"tokens_used" json:"tokens_used"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Usage is the quota report returned by the usage endpoint.
type Usage struct {
	CompanyID   uuid.UUID `json:"company_id"`
	Active      bool      `json:"active"`
	TokenLimit  int64     `json:"token_limit"`
	TokensUsed  int64     `json:"tokens_used"`
	Remaining   int64     `json:"remaining"`
	PercentUsed float64   `json:"percent_used"`
}

// QuotaExhausted reports whether no further generation may start.
func (c *Company) QuotaExhausted() bool {
	return c.TokensUsed >= c.TokenLimit
}

func (c *Company) Usage() Usage {
	u := Usage{
		CompanyID:  c.ID,
		Active:     c.Active,
		TokenLimit: c.TokenLimit,
		TokensUsed: c.TokensUsed,
	}
	if c.TokenLimit > c.TokensUsed {
		u.Remaining = c.TokenLimit - c.TokensUsed
	}
	if c.TokenLimit > 0 {
		u.PercentUsed = float64(c.TokensUsed) * 100 / float64(c.TokenLimit)
	}
	return u
}
