package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bizportal/internal/forms/models"
	platformpg "bizportal/internal/platform/postgres"
	"bizportal/pkg/platform/sentinel"
	txcontext "bizportal/pkg/platform/tx"
)

// Store keeps groups in form_groups and versions in form_definitions.
// Targeting sets are text[] columns; sections are JSONB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const groupColumns = `id, form_type, industry_scope, name, retired_at, deactivated_until, deactivate_reason, created_at, updated_at, version`

const definitionColumns = `id, group_id, form_type, version, name, status, business_types, jurisdiction_codes,
	effective_from, effective_to, sections, published_at, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateGroup(ctx context.Context, group *models.Group, first *models.Definition) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
			INSERT INTO form_groups (`+groupColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, group.ID, string(group.FormType), group.IndustryScope, group.Name, group.RetiredAt,
			group.DeactivatedUntil, group.DeactivateReason, group.CreatedAt, group.UpdatedAt, group.Version)
		if err != nil {
			if platformpg.IsUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert form group: %w", err)
		}
		if first == nil {
			return nil
		}
		return s.CreateDefinition(ctx, first)
	})
}

func (s *Store) FindGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM form_groups WHERE id = $1`, id)
	return scanGroup(row)
}

func (s *Store) ListGroups(ctx context.Context, filter models.GroupFilter) ([]*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM form_groups WHERE ($1 = '' OR form_type = $1) AND ($2 OR retired_at IS NULL)
		ORDER BY form_type, industry_scope, created_at`
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, query, string(filter.FormType), filter.IncludeRetired)
	if err != nil {
		return nil, fmt.Errorf("list form groups: %w", err)
	}
	defer rows.Close()

	var out []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form groups: %w", err)
	}
	return out, nil
}

func (s *Store) ExecuteGroup(ctx context.Context, id uuid.UUID, validate func(*models.Group) error, mutate func(*models.Group)) (*models.Group, error) {
	var result *models.Group
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)
		g, err := scanGroup(exec.QueryRowContext(ctx,
			`SELECT `+groupColumns+` FROM form_groups WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := validate(g); err != nil {
			return err
		}
		mutate(g)
		_, err = exec.ExecContext(ctx, `
			UPDATE form_groups
			SET name = $2, retired_at = $3, deactivated_until = $4, deactivate_reason = $5, updated_at = $6, version = version + 1
			WHERE id = $1
		`, g.ID, g.Name, g.RetiredAt, g.DeactivatedUntil, g.DeactivateReason, g.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update form group: %w", err)
		}
		g.Version++
		result = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateDefinition(ctx context.Context, def *models.Definition) error {
	sections, err := encodeSections(def.Sections)
	if err != nil {
		return err
	}
	_, err = txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO form_definitions (`+definitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, def.ID, def.GroupID, string(def.FormType), def.Version, def.Name, string(def.Status),
		pq.Array(orEmpty(def.BusinessTypes)), pq.Array(orEmpty(def.JurisdictionCodes)),
		def.EffectiveFrom, def.EffectiveTo, sections, def.PublishedAt, def.CreatedBy, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		if platformpg.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("insert form definition: %w", err)
	}
	return nil
}

func (s *Store) FindDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM form_definitions WHERE id = $1`, id)
	return scanDefinition(row)
}

func (s *Store) ListDefinitions(ctx context.Context, groupID uuid.UUID) ([]*models.Definition, error) {
	return s.queryDefinitions(ctx, `SELECT `+definitionColumns+` FROM form_definitions
		WHERE group_id = $1 ORDER BY created_at DESC, version DESC`, groupID)
}

func (s *Store) ListPublished(ctx context.Context, formType models.FormType) ([]*models.Definition, error) {
	return s.queryDefinitions(ctx, `SELECT `+definitionColumns+` FROM form_definitions
		WHERE form_type = $1 AND status = 'published'
		AND group_id IN (SELECT id FROM form_groups WHERE retired_at IS NULL)`, string(formType))
}

func (s *Store) ExecuteDefinition(ctx context.Context, id uuid.UUID, validate func(*models.Definition) error, mutate func(*models.Definition)) (*models.Definition, error) {
	var result *models.Definition
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		def, err := s.lockDefinition(ctx, id)
		if err != nil {
			return err
		}
		if err := validate(def); err != nil {
			return err
		}
		mutate(def)
		if err := s.saveDefinition(ctx, def); err != nil {
			return err
		}
		result = def
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Publish archives the group's current published version before saving the
// new one, so the one-published-per-group index never sees two.
func (s *Store) Publish(ctx context.Context, id uuid.UUID, validate func(*models.Definition) error, mutate func(*models.Definition)) (*models.Definition, []*models.Definition, error) {
	var (
		result     *models.Definition
		superseded []*models.Definition
	)
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		def, err := s.lockDefinition(ctx, id)
		if err != nil {
			return err
		}
		if err := validate(def); err != nil {
			return err
		}
		mutate(def)

		superseded, err = s.queryDefinitions(ctx, `
			UPDATE form_definitions
			SET status = 'archived', updated_at = $3
			WHERE group_id = $1 AND status = 'published' AND id <> $2
			RETURNING `+definitionColumns, def.GroupID, def.ID, def.UpdatedAt)
		if err != nil {
			return fmt.Errorf("archive superseded definitions: %w", err)
		}
		if err := s.saveDefinition(ctx, def); err != nil {
			return err
		}
		result = def
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, superseded, nil
}

func (s *Store) lockDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM form_definitions WHERE id = $1 FOR UPDATE`, id)
	return scanDefinition(row)
}

func (s *Store) saveDefinition(ctx context.Context, def *models.Definition) error {
	sections, err := encodeSections(def.Sections)
	if err != nil {
		return err
	}
	_, err = txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE form_definitions
		SET name = $2, status = $3, business_types = $4, jurisdiction_codes = $5, effective_from = $6,
			effective_to = $7, sections = $8, published_at = $9, updated_at = $10
		WHERE id = $1
	`, def.ID, def.Name, string(def.Status), pq.Array(orEmpty(def.BusinessTypes)), pq.Array(orEmpty(def.JurisdictionCodes)),
		def.EffectiveFrom, def.EffectiveTo, sections, def.PublishedAt, def.UpdatedAt)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update form definition: %w", err)
	}
	return nil
}

func (s *Store) queryDefinitions(ctx context.Context, query string, args ...any) ([]*models.Definition, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query form definitions: %w", err)
	}
	defer rows.Close()

	var out []*models.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form definitions: %w", err)
	}
	return out, nil
}

func scanGroup(row scanner) (*models.Group, error) {
	var (
		g        models.Group
		formType string
	)
	err := row.Scan(&g.ID, &formType, &g.IndustryScope, &g.Name, &g.RetiredAt, &g.DeactivatedUntil,
		&g.DeactivateReason, &g.CreatedAt, &g.UpdatedAt, &g.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan form group: %w", err)
	}
	g.FormType = models.FormType(formType)
	return &g, nil
}

func scanDefinition(row scanner) (*models.Definition, error) {
	var (
		d                 models.Definition
		formType, status  string
		businessTypes     pq.StringArray
		jurisdictionCodes pq.StringArray
		sections          []byte
	)
	err := row.Scan(&d.ID, &d.GroupID, &formType, &d.Version, &d.Name, &status, &businessTypes, &jurisdictionCodes,
		&d.EffectiveFrom, &d.EffectiveTo, &sections, &d.PublishedAt, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan form definition: %w", err)
	}
	d.FormType = models.FormType(formType)
	d.Status = models.DefinitionStatus(status)
	if len(businessTypes) > 0 {
		d.BusinessTypes = businessTypes
	}
	if len(jurisdictionCodes) > 0 {
		d.JurisdictionCodes = jurisdictionCodes
	}
	if err := json.Unmarshal(sections, &d.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return &d, nil
}

func encodeSections(sections []models.Section) ([]byte, error) {
	if sections == nil {
		sections = []models.Section{}
	}
	b, err := json.Marshal(sections)
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	return b, nil
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
