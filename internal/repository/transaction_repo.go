package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screenloom/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.CreditTransaction) error {
	detail, err := marshalDetail(t.Detail)
	if err != nil {
		return err
	}
	var tokenTotal, tokenPrompt, tokenCompletion *int
	if t.Tokens != nil {
		tokenTotal, tokenPrompt, tokenCompletion = &t.Tokens.Total, &t.Tokens.Prompt, &t.Tokens.Completion
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount_delta, reason, job_key, token_total, token_prompt, token_completion, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, t.ID, t.AccountID, t.AmountDelta, t.Reason, t.JobKey, tokenTotal, tokenPrompt, tokenCompletion, detail).Scan(&t.CreatedAt)
}

// CreateSummary inserts a summary transaction keyed by job_key. A second
// insert with the same key is a no-op; the existing row is loaded back into t.
// Returns true when the row was actually inserted.
func (r *TransactionRepo) CreateSummary(ctx context.Context, t *models.CreditTransaction) (bool, error) {
	detail, err := marshalDetail(t.Detail)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount_delta, reason, job_key, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_key) DO NOTHING
	`, t.ID, t.AccountID, t.AmountDelta, t.Reason, t.JobKey, detail)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, r.pool.QueryRow(ctx, `
			SELECT created_at FROM credit_transactions WHERE id = $1
		`, t.ID).Scan(&t.CreatedAt)
	}
	existing, err := r.getByJobKey(ctx, *t.JobKey)
	if err != nil {
		return false, err
	}
	*t = *existing
	return false, nil
}

func (r *TransactionRepo) getByJobKey(ctx context.Context, jobKey string) (*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount_delta, reason, job_key, token_total, token_prompt, token_completion, detail, created_at
		FROM credit_transactions WHERE job_key = $1
	`, jobKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, pgx.ErrNoRows
	}
	return list[0], nil
}

// ListByAccountID returns the newest transactions first, bounded by limit.
func (r *TransactionRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount_delta, reason, job_key, token_total, token_prompt, token_completion, detail, created_at
		FROM credit_transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]*models.CreditTransaction, error) {
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var tokenTotal, tokenPrompt, tokenCompletion *int
		var detail []byte
		if err := rows.Scan(&t.ID, &t.AccountID, &t.AmountDelta, &t.Reason, &t.JobKey,
			&tokenTotal, &tokenPrompt, &tokenCompletion, &detail, &t.CreatedAt); err != nil {
			return nil, err
		}
		if tokenTotal != nil {
			t.Tokens = &models.TokenCounts{Total: *tokenTotal}
			if tokenPrompt != nil {
				t.Tokens.Prompt = *tokenPrompt
			}
			if tokenCompletion != nil {
				t.Tokens.Completion = *tokenCompletion
			}
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &t.Detail); err != nil {
				return nil, err
			}
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func marshalDetail(detail []models.TransactionDetail) ([]byte, error) {
	if len(detail) == 0 {
		return nil, nil
	}
	return json.Marshal(detail)
}
