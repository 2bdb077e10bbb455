package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/screenloom/backend/internal/models"
)

// Charging constants. A generation call is charged a safe minimum upfront and
// trued-up to the real token cost once known.
const (
	MinCharge       = 10
	TokensPerCredit = 10
	StartingCredits = 100
)

// CostForTokens converts reported token usage into credits:
// max(MinCharge, ceil(tokens/TokensPerCredit)).
func CostForTokens(tokens int) int {
	cost := (tokens + TokensPerCredit - 1) / TokensPerCredit
	if cost < MinCharge {
		cost = MinCharge
	}
	return cost
}

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	CreateIfAbsent(ctx context.Context, a *models.Account) (bool, error)
	GetBalance(ctx context.Context, id uuid.UUID) (int, error)
	DeductCreditsGuarded(ctx context.Context, id uuid.UUID, amount int) (newBalance int, ok bool, err error)
	AddCredits(ctx context.Context, id uuid.UUID, amount int) (newBalance int, err error)
}

// TransactionStore is the minimal transaction log interface for the ledger.
type TransactionStore interface {
	Create(ctx context.Context, t *models.CreditTransaction) error
	CreateSummary(ctx context.Context, t *models.CreditTransaction) (inserted bool, err error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

// Notifier publishes balance and transaction events to realtime subscribers.
type Notifier interface {
	BalanceUpdated(ev models.BalanceEvent)
	TransactionRecorded(ev models.CreditEvent)
}

// Service is the single source of truth for affordability. It is the only
// component permitted to mutate balances; insufficiency is a normal ok=false
// return, never an error. Privileged charges are a no-op: ok with no store
// access, no transaction and no events.
type Service struct {
	Accounts     AccountStore
	Transactions TransactionStore
	Notifier     Notifier
	Logger       *slog.Logger
}

func NewService(accounts AccountStore, transactions TransactionStore, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{Accounts: accounts, Transactions: transactions, Notifier: notifier, Logger: logger}
}

// EnsureAccount idempotently creates the account, granting StartingCredits to
// non-privileged accounts, and returns the current balance. Privileged
// accounts get a zero-balance row and no grant transaction.
func (s *Service) EnsureAccount(ctx context.Context, accountID uuid.UUID, privileged bool) (int, error) {
	account := &models.Account{ID: accountID, Privileged: privileged}
	if !privileged {
		account.CreditBalance = StartingCredits
	}
	created, err := s.Accounts.CreateIfAbsent(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("ensure account %s: %w", accountID, err)
	}
	if privileged {
		return 0, nil
	}
	if created {
		t := &models.CreditTransaction{
			ID:          uuid.New(),
			AccountID:   accountID,
			AmountDelta: StartingCredits,
			Reason:      models.ReasonStartingGrant,
		}
		if err := s.Transactions.Create(ctx, t); err != nil {
			return 0, fmt.Errorf("record starting grant: %w", err)
		}
		s.Notifier.BalanceUpdated(models.BalanceEvent{AccountID: accountID, Balance: StartingCredits})
		return StartingCredits, nil
	}
	balance, err := s.Accounts.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.Notifier.BalanceUpdated(models.BalanceEvent{AccountID: accountID, Balance: balance})
	return balance, nil
}

// ReserveMinimum charges MinCharge before a call whose exact cost is unknown.
// ok=false means insufficient funds and nothing was mutated.
func (s *Service) ReserveMinimum(ctx context.Context, accountID uuid.UUID, privileged bool, reason string) (bool, error) {
	return s.Deduct(ctx, accountID, MinCharge, privileged, reason, nil)
}

// Settle trues the reserved charge up to the real token cost. Only the extra
// beyond what was already reserved is charged; a settle at or below the
// reservation is a no-op.
func (s *Service) Settle(ctx context.Context, accountID uuid.UUID, tokens models.TokenCounts, reserved int, privileged bool, reason string) (bool, error) {
	total := CostForTokens(tokens.Total)
	extra := total - reserved
	if extra <= 0 {
		return true, nil
	}
	return s.Deduct(ctx, accountID, extra, privileged, reason, &tokens)
}

// Deduct is the atomic charge primitive. The guarded decrement serializes
// concurrent charges at the store; on ok it appends a transaction and emits
// balance plus transaction events. On ok=false nothing was mutated.
func (s *Service) Deduct(ctx context.Context, accountID uuid.UUID, amount int, privileged bool, reason string, tokens *models.TokenCounts) (bool, error) {
	if privileged || amount <= 0 {
		return true, nil
	}
	newBalance, ok, err := s.Accounts.DeductCreditsGuarded(ctx, accountID, amount)
	if err != nil {
		return false, fmt.Errorf("deduct %d from %s: %w", amount, accountID, err)
	}
	if !ok {
		s.Logger.Info("deduct refused, insufficient credits", "account_id", accountID, "amount", amount, "reason", reason)
		return false, nil
	}
	t := &models.CreditTransaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		AmountDelta: -amount,
		Reason:      reason,
		Tokens:      tokens,
	}
	if err := s.Transactions.Create(ctx, t); err != nil {
		return false, fmt.Errorf("record charge: %w", err)
	}
	s.Notifier.BalanceUpdated(models.BalanceEvent{AccountID: accountID, Balance: newBalance})
	s.Notifier.TransactionRecorded(creditEvent(t))
	return true, nil
}

// RecordSummary writes one consolidated, reporting-only transaction for
// charges already applied via Deduct. It never moves the balance. Inserts are
// idempotent on jobKey so step-runner retries cannot duplicate the summary.
func (s *Service) RecordSummary(ctx context.Context, accountID uuid.UUID, totalAmount int, reason, jobKey string, detail []models.TransactionDetail) (*models.CreditTransaction, error) {
	t := &models.CreditTransaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		AmountDelta: -totalAmount,
		Reason:      reason,
		JobKey:      &jobKey,
		Detail:      detail,
	}
	inserted, err := s.Transactions.CreateSummary(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("record summary %q: %w", jobKey, err)
	}
	if inserted {
		s.Notifier.TransactionRecorded(creditEvent(t))
	}
	return t, nil
}

func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.Accounts.GetBalance(ctx, accountID)
}

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// ListTransactions returns the account's transactions newest-first, with the
// limit clamped to a sane bound.
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	return s.Transactions.ListByAccountID(ctx, accountID, limit)
}

func creditEvent(t *models.CreditTransaction) models.CreditEvent {
	return models.CreditEvent{
		AccountID:     t.AccountID,
		TransactionID: t.ID,
		AmountDelta:   t.AmountDelta,
		Reason:        t.Reason,
		Tokens:        t.Tokens,
		CreatedAt:     t.CreatedAt,
		Detail:        t.Detail,
	}
}
