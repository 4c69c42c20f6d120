package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"networth/internal/domain/account"
)

const manualAccountColumns = `id, user_id, name, type, balance, currency, institution, created_at, updated_at`

// ManualAccountRepository implements the account.ManualRepository interface for PostgreSQL
type ManualAccountRepository struct {
	db    *DB
	newID func() string
}

var _ account.ManualRepository = (*ManualAccountRepository)(nil)

// NewManualAccountRepository creates a new PostgreSQL manual account repository
func NewManualAccountRepository(db *DB) *ManualAccountRepository {
	return &ManualAccountRepository{db: db, newID: uuid.NewString}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManualAccount(row rowScanner) (*account.ManualAccount, error) {
	var acc account.ManualAccount
	var institution sql.NullString

	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.Name, &acc.Type, &acc.Balance,
		&acc.Currency, &institution, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if institution.Valid {
		acc.Institution = account.StringPtr(institution.String)
	}

	return &acc, nil
}

// ListByUserID retrieves all manual accounts of a user
func (r *ManualAccountRepository) ListByUserID(ctx context.Context, userID string) ([]*account.ManualAccount, error) {
	query := `SELECT ` + manualAccountColumns + `
		FROM manual_accounts
		WHERE user_id = $1
		ORDER BY name, created_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.ManualAccount
	for rows.Next() {
		acc, err := scanManualAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manual account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating manual accounts: %w", err)
	}

	return accounts, nil
}

// GetByID retrieves a manual account owned by userID
func (r *ManualAccountRepository) GetByID(ctx context.Context, id, userID string) (*account.ManualAccount, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, account.ErrAccountNotFound
	}

	query := `SELECT ` + manualAccountColumns + `
		FROM manual_accounts
		WHERE id = $1 AND user_id = $2`

	acc, err := scanManualAccount(r.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manual account: %w", err)
	}

	return acc, nil
}

// Create inserts a new manual account
func (r *ManualAccountRepository) Create(ctx context.Context, params account.CreateManualParams) (*account.ManualAccount, error) {
	query := `
		INSERT INTO manual_accounts (id, user_id, name, type, balance, currency, institution)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + manualAccountColumns

	acc, err := scanManualAccount(r.db.QueryRowContext(ctx, query,
		r.newID(), params.UserID, params.Name, params.Type, params.Balance, params.Currency, nullString(params.Institution),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create manual account: %w", err)
	}

	return acc, nil
}

// Update replaces the editable fields of a manual account
func (r *ManualAccountRepository) Update(ctx context.Context, id, userID string, params account.ManualParams) (*account.ManualAccount, error) {
	query := `
		UPDATE manual_accounts
		SET name = $1,
		    type = $2,
		    balance = $3,
		    currency = $4,
		    institution = $5,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $6 AND user_id = $7
		RETURNING ` + manualAccountColumns

	acc, err := scanManualAccount(r.db.QueryRowContext(ctx, query,
		params.Name, params.Type, params.Balance, params.Currency, nullString(params.Institution), id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update manual account: %w", err)
	}

	return acc, nil
}

// Delete removes a manual account
func (r *ManualAccountRepository) Delete(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM manual_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete manual account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}

	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
