package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	platformpg "bizportal/internal/platform/postgres"
	"bizportal/internal/review/models"
	"bizportal/pkg/platform/sentinel"
	txcontext "bizportal/pkg/platform/tx"
)

// Store keeps business profiles in business_profiles. Applications live in
// the businesses JSONB array; business_ids mirrors their ids for the GIN
// lookup.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, p *models.Profile) error {
	businesses, err := encodeBusinesses(p)
	if err != nil {
		return err
	}
	_, err = txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO business_profiles (id, user_id, owner_email, businesses, business_ids, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.UserID, p.OwnerEmail, businesses, pq.Array(p.BusinessIDs()), p.CreatedAt, p.UpdatedAt, p.Version)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert business profile: %w", err)
	}
	return nil
}

func (s *Store) FindByBusinessID(ctx context.Context, businessID string) (*models.Profile, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, user_id, owner_email, businesses, created_at, updated_at, version
		FROM business_profiles
		WHERE business_ids @> ARRAY[$1]::text[]
	`, businessID)

	var (
		p          models.Profile
		businesses []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.OwnerEmail, &businesses, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load business profile: %w", err)
	}
	if err := json.Unmarshal(businesses, &p.Businesses); err != nil {
		return nil, fmt.Errorf("decode businesses: %w", err)
	}
	return &p, nil
}

func (s *Store) Update(ctx context.Context, p *models.Profile) error {
	businesses, err := encodeBusinesses(p)
	if err != nil {
		return err
	}
	exec := txcontext.ExecerFrom(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE business_profiles
		SET owner_email = $3, businesses = $4, business_ids = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`, p.ID, p.Version, p.OwnerEmail, businesses, pq.Array(p.BusinessIDs()), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update business profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update business profile: %w", err)
	}
	if affected == 1 {
		p.Version++
		return nil
	}

	var exists bool
	if err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM business_profiles WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check business profile: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

// referenceExpr mirrors Application.ReferenceNumber.
const referenceExpr = `COALESCE(NULLIF(btrim(b.app->>'applicationReferenceNumber'), ''), 'APP-' || right(b.app->>'businessId', 8))`

func (s *Store) List(ctx context.Context, filter models.Filter) ([]*models.View, int, error) {
	clauses := []string{`COALESCE(b.app->>'applicationStatus', '') <> ''`}
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf(`b.app->>'applicationStatus' = $%d`, len(args)))
	}
	if filter.ReferenceNumber != "" {
		args = append(args, filter.ReferenceNumber)
		clauses = append(clauses, fmt.Sprintf(`%s = $%d`, referenceExpr, len(args)))
	}
	from := `
		FROM business_profiles p
		CROSS JOIN LATERAL jsonb_array_elements(p.businesses) AS b(app)
		WHERE ` + strings.Join(clauses, " AND ")

	exec := txcontext.ExecerFrom(ctx, s.db)
	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	query := `SELECT p.user_id, p.owner_email, b.app` + from + `
		ORDER BY (b.app->>'submittedAt')::timestamptz DESC NULLS LAST,
			(b.app->>'createdAt')::timestamptz DESC,
			b.app->>'businessId'`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var views []*models.View
	for rows.Next() {
		var (
			p   models.Profile
			raw []byte
			app models.Application
		)
		if err := rows.Scan(&p.UserID, &p.OwnerEmail, &raw); err != nil {
			return nil, 0, fmt.Errorf("scan application: %w", err)
		}
		if err := json.Unmarshal(raw, &app); err != nil {
			return nil, 0, fmt.Errorf("decode application: %w", err)
		}
		views = append(views, models.NewView(&p, &app))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate applications: %w", err)
	}
	return views, total, nil
}

func encodeBusinesses(p *models.Profile) ([]byte, error) {
	businesses := p.Businesses
	if businesses == nil {
		businesses = []models.Application{}
	}
	b, err := json.Marshal(businesses)
	if err != nil {
		return nil, fmt.Errorf("encode businesses: %w", err)
	}
	return b, nil
}
