package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bizportal/internal/approval/models"
	platformpg "bizportal/internal/platform/postgres"
	"bizportal/pkg/platform/sentinel"
	txcontext "bizportal/pkg/platform/tx"
)

// Store persists approval requests in approval_requests. Votes, details and
// metadata are JSONB columns; version guards every update.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	SELECT id, approval_id, request_type, user_id, requested_by, request_details,
		status, approvals, required_approvals, metadata, metadata_sanitized,
		applied_at, apply_error, created_at, updated_at, version
	FROM approval_requests`

func (s *Store) Create(ctx context.Context, req *models.Request) error {
	details, approvals, metadata, err := encodeJSON(req)
	if err != nil {
		return err
	}
	_, err = txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, approval_id, request_type, user_id, requested_by, request_details,
			status, approvals, required_approvals, metadata, metadata_sanitized,
			applied_at, apply_error, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, req.ID, req.ApprovalID, string(req.RequestType), req.UserID, req.RequestedBy, details,
		string(req.Status), approvals, req.RequiredApprovals, metadata, req.MetadataSanitized,
		req.AppliedAt, req.ApplyError, req.CreatedAt, req.UpdatedAt, req.Version)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *Store) FindByApprovalID(ctx context.Context, approvalID string) (*models.Request, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, selectColumns+` WHERE approval_id = $1`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("load approval request: %w", err)
	}
	defer rows.Close()
	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return reqs[0], nil
}

func (s *Store) Update(ctx context.Context, req *models.Request) error {
	details, approvals, metadata, err := encodeJSON(req)
	if err != nil {
		return err
	}
	exec := txcontext.ExecerFrom(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE approval_requests SET
			request_details = $3, status = $4, approvals = $5, metadata = $6,
			metadata_sanitized = $7, applied_at = $8, apply_error = $9,
			updated_at = $10, version = version + 1
		WHERE approval_id = $1 AND version = $2
	`, req.ApprovalID, req.Version, details, string(req.Status), approvals, metadata,
		req.MetadataSanitized, req.AppliedAt, req.ApplyError, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if affected == 1 {
		req.Version++
		return nil
	}

	var exists bool
	err = exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE approval_id = $1)`, req.ApprovalID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check approval request: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *Store) List(ctx context.Context, filter models.Filter) ([]*models.Request, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(filter.Status))
	add("request_type", string(filter.RequestType))
	add("user_id", filter.UserID)
	add("requested_by", filter.RequestedBy)

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	exec := txcontext.ExecerFrom(ctx, s.db)
	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count approval requests: %w", err)
	}

	query := selectColumns + where + ` ORDER BY created_at DESC, approval_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()
	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

func encodeJSON(req *models.Request) (details, approvals, metadata []byte, err error) {
	if details, err = json.Marshal(orEmpty(req.RequestDetails)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode request details: %w", err)
	}
	votes := req.Approvals
	if votes == nil {
		votes = []models.Vote{}
	}
	if approvals, err = json.Marshal(votes); err != nil {
		return nil, nil, nil, fmt.Errorf("encode approvals: %w", err)
	}
	if metadata, err = json.Marshal(orEmpty(req.Metadata)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return details, approvals, metadata, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func scanRequests(rows *sql.Rows) ([]*models.Request, error) {
	var out []*models.Request
	for rows.Next() {
		var (
			r                            models.Request
			requestType, status          string
			details, approvals, metadata []byte
			appliedAt                    sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ApprovalID, &requestType, &r.UserID, &r.RequestedBy, &details,
			&status, &approvals, &r.RequiredApprovals, &metadata, &r.MetadataSanitized,
			&appliedAt, &r.ApplyError, &r.CreatedAt, &r.UpdatedAt, &r.Version); err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		r.RequestType = models.RequestType(requestType)
		r.Status = models.Status(status)
		if appliedAt.Valid {
			t := appliedAt.Time
			r.AppliedAt = &t
		}
		if err := json.Unmarshal(details, &r.RequestDetails); err != nil {
			return nil, fmt.Errorf("decode request details: %w", err)
		}
		if err := json.Unmarshal(approvals, &r.Approvals); err != nil {
			return nil, fmt.Errorf("decode approvals: %w", err)
		}
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return out, nil
}
