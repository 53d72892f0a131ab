package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/womenshealth/planner/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type planRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &planRepoPG{pool: pool}
}

func (r *planRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const planCols = `id, title, patient, menstrual_history, symptoms, health_history,
	lifestyle, exams, tcm_observations, timeline, ifm_matrix, status, final_plan,
	generation_started_at, generation_completed_at, generation_error,
	created_by, company_id, created_at, updated_at`

func (r *planRepoPG) scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Title, &p.Patient, &p.MenstrualHistory, &p.Symptoms,
		&p.HealthHistory, &p.Lifestyle, &p.Exams, &p.TCMObservations, &p.Timeline,
		&p.IFMMatrix, &p.Status, &p.FinalPlan,
		&p.GenerationStartedAt, &p.GenerationCompletedAt, &p.GenerationError,
		&p.CreatedBy, &p.CompanyID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *planRepoPG) Create(ctx context.Context, p *Plan) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO plan (id, title, patient, menstrual_history, symptoms, health_history,
			lifestyle, exams, tcm_observations, timeline, ifm_matrix, status,
			created_by, company_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		p.ID, p.Title, p.Patient, p.MenstrualHistory, nonNil(p.Symptoms), p.HealthHistory,
		p.Lifestyle, nonNil(p.Exams), p.TCMObservations, nonNil(p.Timeline), p.IFMMatrix, p.Status,
		p.CreatedBy, p.CompanyID).Scan(&p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrUnknownCompany
	}
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return r.scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM plan WHERE id = $1`, id))
}

func (r *planRepoPG) Update(ctx context.Context, p *Plan) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE plan SET title=$2, patient=$3, menstrual_history=$4, symptoms=$5,
			health_history=$6, lifestyle=$7, exams=$8, tcm_observations=$9,
			timeline=$10, ifm_matrix=$11, updated_at=NOW()
		WHERE id = $1 AND status IN ('draft', 'error')`,
		p.ID, p.Title, p.Patient, p.MenstrualHistory, nonNil(p.Symptoms),
		p.HealthHistory, p.Lifestyle, nonNil(p.Exams), p.TCMObservations,
		nonNil(p.Timeline), p.IFMMatrix)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *planRepoPG) MarkGenerating(ctx context.Context, p *Plan) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE plan SET status='generating', generation_started_at=$2,
			generation_completed_at=NULL, generation_error=NULL, final_plan=NULL, updated_at=NOW()
		WHERE id = $1 AND status IN ('draft', 'error')`,
		p.ID, p.GenerationStartedAt)
	if err != nil {
		return fmt.Errorf("mark plan generating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *planRepoPG) SaveGenerationResult(ctx context.Context, p *Plan) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE plan SET status=$2, final_plan=$3, generation_completed_at=$4,
			generation_error=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Status, p.FinalPlan, p.GenerationCompletedAt, p.GenerationError)
	if err != nil {
		return fmt.Errorf("save generation result: %w", err)
	}
	return nil
}

func (r *planRepoPG) FailStale(ctx context.Context, cutoff time.Time, message string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE plan SET status='error', generation_error=$2, generation_completed_at=NOW(), updated_at=NOW()
		WHERE status = 'generating' AND generation_started_at < $1`,
		cutoff, message)
	if err != nil {
		return 0, fmt.Errorf("fail stale generations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *planRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM plan WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *planRepoPG) Search(ctx context.Context, companyID uuid.UUID, params SearchParams, limit, offset int) ([]*Plan, int, error) {
	query := `SELECT ` + planCols + ` FROM plan WHERE company_id = $1`
	countQuery := `SELECT COUNT(*) FROM plan WHERE company_id = $1`
	args := []interface{}{companyID}
	idx := 2

	if params.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, params.Status)
		idx++
	}
	if params.Title != "" {
		query += fmt.Sprintf(` AND title ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND title ILIKE $%d`, idx)
		args = append(args, "%"+params.Title+"%")
		idx++
	}
	if params.CreatedBy != "" {
		query += fmt.Sprintf(` AND created_by = $%d`, idx)
		countQuery += fmt.Sprintf(` AND created_by = $%d`, idx)
		args = append(args, params.CreatedBy)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Plan
	for rows.Next() {
		p, err := r.scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// nonNil keeps JSONB array columns as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
