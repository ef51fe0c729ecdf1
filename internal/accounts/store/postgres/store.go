package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bizportal/internal/accounts/models"
	platformpg "bizportal/internal/platform/postgres"
	"bizportal/pkg/platform/sentinel"
	txcontext "bizportal/pkg/platform/tx"
)

// Store persists accounts and roles in Postgres.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, email, email_verified, first_name, last_name, phone_number,
	password_hash, role, is_active, is_verified, token_version, applied_approvals, updated_at`

func (s *Store) Create(ctx context.Context, a *models.Account) error {
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.Email, a.EmailVerified, a.FirstName, a.LastName, a.PhoneNumber,
		a.PasswordHash, a.Role, a.IsActive, a.IsVerified, a.TokenVersion,
		pq.Array(nonNil(a.AppliedApprovals)), a.UpdatedAt)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) CreateRole(ctx context.Context, r *models.Role) error {
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx,
		`INSERT INTO roles (id, slug, name) VALUES ($1, $2, $3)`, r.ID, r.Slug, r.Name)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Account, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *Store) FindRole(ctx context.Context, id string) (*models.Role, error) {
	var r models.Role
	err := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, slug, name FROM roles WHERE id = $1`, id).Scan(&r.ID, &r.Slug, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	return &r, nil
}

// FindWithRole loads the account and its role in one query.
func (s *Store) FindWithRole(ctx context.Context, id string) (*models.Account, *models.Role, error) {
	var (
		a                models.Account
		r                models.Role
		appliedApprovals pq.StringArray
	)
	err := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT a.id, a.email, a.email_verified, a.first_name, a.last_name, a.phone_number,
			a.password_hash, a.role, a.is_active, a.is_verified, a.token_version,
			a.applied_approvals, a.updated_at, r.id, r.slug, r.name
		FROM accounts a
		JOIN roles r ON r.id = a.role
		WHERE a.id = $1
	`, id).Scan(&a.ID, &a.Email, &a.EmailVerified, &a.FirstName, &a.LastName, &a.PhoneNumber,
		&a.PasswordHash, &a.Role, &a.IsActive, &a.IsVerified, &a.TokenVersion,
		&appliedApprovals, &a.UpdatedAt, &r.ID, &r.Slug, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load account with role: %w", err)
	}
	a.AppliedApprovals = []string(appliedApprovals)
	return &a, &r, nil
}

// Update locks the row for the duration of fn.
func (s *Store) Update(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	var updated *models.Account
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)
		acct, err := scanAccount(exec.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(acct); err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, `
			UPDATE accounts SET
				email = $2, email_verified = $3, first_name = $4, last_name = $5,
				phone_number = $6, password_hash = $7, role = $8, is_active = $9,
				is_verified = $10, token_version = $11, applied_approvals = $12,
				updated_at = $13
			WHERE id = $1
		`, acct.ID, acct.Email, acct.EmailVerified, acct.FirstName, acct.LastName,
			acct.PhoneNumber, acct.PasswordHash, acct.Role, acct.IsActive,
			acct.IsVerified, acct.TokenVersion, pq.Array(nonNil(acct.AppliedApprovals)), acct.UpdatedAt)
		if err != nil {
			if platformpg.IsUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("update account: %w", err)
		}
		updated = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var (
		a                models.Account
		appliedApprovals pq.StringArray
	)
	err := row.Scan(&a.ID, &a.Email, &a.EmailVerified, &a.FirstName, &a.LastName, &a.PhoneNumber,
		&a.PasswordHash, &a.Role, &a.IsActive, &a.IsVerified, &a.TokenVersion,
		&appliedApprovals, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.AppliedApprovals = []string(appliedApprovals)
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
