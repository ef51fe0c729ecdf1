package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bizportal/internal/audit/models"
	"bizportal/internal/platform/postgres"
	"bizportal/pkg/platform/sentinel"
	txcontext "bizportal/pkg/platform/tx"
)

// Store implements the audit store on the audit_entries table. Rows are only
// inserted, except for the one-time anchor columns.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	SELECT id, user_id, event_type, field_changed, old_value, new_value,
	       role, metadata, hash, timestamp, anchor_ref, anchored_at
	FROM audit_entries`

// Append inserts an entry. It joins a transaction present in ctx.
func (s *Store) Append(ctx context.Context, entry *models.Entry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_entries (
			id, user_id, event_type, field_changed, old_value, new_value,
			role, metadata, hash, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		string(entry.EventType),
		entry.FieldChanged,
		entry.OldValue,
		entry.NewValue,
		entry.Role,
		meta,
		entry.Hash,
		entry.Timestamp,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert audit entry: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query audit entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return entries[0], nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE user_id = $1 ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AttachAnchor sets the anchor columns once.
func (s *Store) AttachAnchor(ctx context.Context, id uuid.UUID, ref string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_entries
		SET anchor_ref = $2, anchored_at = $3
		WHERE id = $1 AND anchor_ref IS NULL
	`, id, ref, at)
	if err != nil {
		return fmt.Errorf("update audit anchor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update audit anchor: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var existing sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT anchor_ref FROM audit_entries WHERE id = $1`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read audit anchor: %w", err)
	}
	if existing.String == ref {
		return nil
	}
	return sentinel.ErrConflict
}

func scanEntries(rows *sql.Rows) ([]*models.Entry, error) {
	var entries []*models.Entry
	for rows.Next() {
		var (
			e          models.Entry
			eventType  string
			meta       []byte
			anchorRef  sql.NullString
			anchoredAt sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.UserID, &eventType, &e.FieldChanged, &e.OldValue, &e.NewValue,
			&e.Role, &meta, &e.Hash, &e.Timestamp, &anchorRef, &anchoredAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.Timestamp = e.Timestamp.UTC()
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		if anchorRef.Valid {
			e.AnchorRef = anchorRef.String
		}
		if anchoredAt.Valid {
			t := anchoredAt.Time.UTC()
			e.AnchoredAt = &t
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
