package company

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalid         = errors.New("invalid company")
	ErrCompanyInactive = errors.New("company is inactive")
	ErrQuotaExceeded   = errors.New("company token quota exceeded")
)

type Service struct {
	companies Repository
	logger    zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{companies: repo, logger: logger.With().Str("component", "company").Logger()}
}

func validate(c *Company) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if c.TokenLimit < 0 {
		return fmt.Errorf("%w: token_limit must not be negative", ErrInvalid)
	}
	return nil
}

func (s *Service) CreateCompany(ctx context.Context, c *Company) error {
	if err := validate(c); err != nil {
		return err
	}
	return s.companies.Create(ctx, c)
}

func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (*Company, error) {
	return s.companies.GetByID(ctx, id)
}

func (s *Service) UpdateCompany(ctx context.Context, c *Company) error {
	if err := validate(c); err != nil {
		return err
	}
	return s.companies.Update(ctx, c)
}

func (s *Service) ListCompanies(ctx context.Context, limit, offset int) ([]*Company, int, error) {
	return s.companies.List(ctx, limit, offset)
}

// CheckQuota fails with ErrCompanyInactive or ErrQuotaExceeded when the
// company may not start a generation. It never changes state.
func (s *Service) CheckQuota(ctx context.Context, companyID uuid.UUID) error {
	c, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return err
	}
	if !c.Active {
		return ErrCompanyInactive
	}
	if c.QuotaExhausted() {
		return ErrQuotaExceeded
	}
	return nil
}

// ChargeTokens adds n to the company's usage counter.
func (s *Service) ChargeTokens(ctx context.Context, companyID uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.companies.AddTokens(ctx, companyID, int64(n)); err != nil {
		return err
	}
	s.logger.Debug().Str("company_id", companyID.String()).Int("tokens", n).Msg("tokens charged")
	return nil
}

func (s *Service) GetUsage(ctx context.Context, companyID uuid.UUID) (*Usage, error) {
	c, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	u := c.Usage()
	return &u, nil
}

func (s *Service) ResetUsage(ctx context.Context, companyID uuid.UUID) (*Usage, error) {
	if err := s.companies.ResetUsage(ctx, companyID); err != nil {
		return nil, err
	}
	s.logger.Info().Str("company_id", companyID.String()).Msg("token usage reset")
	return s.GetUsage(ctx, companyID)
}
