package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screenloom/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// CreateIfAbsent inserts the account unless it already exists. Returns true
// when a row was actually inserted.
func (r *AccountRepo) CreateIfAbsent(ctx context.Context, a *models.Account) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (id, credit_balance, privileged)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.CreditBalance, a.Privileged)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, credit_balance, privileged, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.CreditBalance, &a.Privileged, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetBalance(ctx context.Context, id uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
		SELECT credit_balance FROM accounts WHERE id = $1
	`, id).Scan(&balance)
	return balance, err
}

// DeductCreditsGuarded atomically deducts amount where credit_balance >= amount.
// This single conditional UPDATE is the only serialization point for
// concurrent charges on one account: the store either applies the decrement
// or matches no row, with no lost updates. ok=false means insufficient funds;
// nothing was mutated.
func (r *AccountRepo) DeductCreditsGuarded(ctx context.Context, id uuid.UUID, amount int) (newBalance int, ok bool, err error) {
	err = r.pool.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance - $1, updated_at = now()
		WHERE id = $2 AND credit_balance >= $1
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

// AddCredits adds amount to the account and returns the new balance.
func (r *AccountRepo) AddCredits(ctx context.Context, id uuid.UUID, amount int) (newBalance int, err error) {
	err = r.pool.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}
