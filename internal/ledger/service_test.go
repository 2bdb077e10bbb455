package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/screenloom/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory fakes for AccountStore, TransactionStore and Notifier.
// These let us test the real Service logic without a database. The account
// fake counts store accesses so privileged-bypass tests can assert the
// balance was never read or written.
// ---------------------------------------------------------------------------

type memAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	accesses int
}

func newMemAccounts(accs ...*models.Account) *memAccounts {
	m := &memAccounts{accounts: make(map[uuid.UUID]*models.Account)}
	for _, a := range accs {
		cp := *a
		m.accounts[a.ID] = &cp
	}
	return m
}

func (m *memAccounts) CreateIfAbsent(_ context.Context, a *models.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	if _, ok := m.accounts[a.ID]; ok {
		return false, nil
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return true, nil
}

func (m *memAccounts) GetBalance(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	a, ok := m.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	return a.CreditBalance, nil
}

func (m *memAccounts) DeductCreditsGuarded(_ context.Context, id uuid.UUID, amount int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	a, ok := m.accounts[id]
	if !ok {
		return 0, false, fmt.Errorf("account %s not found", id)
	}
	if a.CreditBalance < amount {
		return 0, false, nil
	}
	a.CreditBalance -= amount
	return a.CreditBalance, true, nil
}

func (m *memAccounts) AddCredits(_ context.Context, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses++
	a, ok := m.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	a.CreditBalance += amount
	return a.CreditBalance, nil
}

func (m *memAccounts) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].CreditBalance
}

func (m *memAccounts) accessCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accesses
}

// ---

type memTransactions struct {
	mu      sync.Mutex
	entries []*models.CreditTransaction
}

func (m *memTransactions) Create(_ context.Context, t *models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memTransactions) CreateSummary(_ context.Context, t *models.CreditTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.JobKey != nil && t.JobKey != nil && *e.JobKey == *t.JobKey {
			*t = *e
			return false, nil
		}
	}
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.entries = append(m.entries, &cp)
	return true, nil
}

func (m *memTransactions) ListByAccountID(_ context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memTransactions) all() []*models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CreditTransaction, len(m.entries))
	copy(out, m.entries)
	return out
}

// ---

type recorderNotifier struct {
	mu           sync.Mutex
	balances     []models.BalanceEvent
	transactions []models.CreditEvent
}

func (r *recorderNotifier) BalanceUpdated(ev models.BalanceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = append(r.balances, ev)
}

func (r *recorderNotifier) TransactionRecorded(ev models.CreditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, ev)
}

func (r *recorderNotifier) transactionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transactions)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func acct(id uuid.UUID, balance int) *models.Account {
	return &models.Account{ID: id, CreditBalance: balance}
}

func newTestService(accounts *memAccounts) (*Service, *memTransactions, *recorderNotifier) {
	transactions := &memTransactions{}
	notifier := &recorderNotifier{}
	svc := NewService(accounts, transactions, notifier, slog.Default())
	return svc, transactions, notifier
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCostForTokens(t *testing.T) {
	cases := []struct {
		tokens int
		want   int
	}{
		{0, MinCharge},
		{1, MinCharge},
		{42, MinCharge},  // ceil(42/10)=5, below minimum
		{100, MinCharge}, // exactly the minimum
		{101, 11},
		{230, 23},
		{1000, 100},
	}
	for _, tc := range cases {
		if got := CostForTokens(tc.tokens); got != tc.want {
			t.Errorf("CostForTokens(%d) = %d, want %d", tc.tokens, got, tc.want)
		}
	}
}

func TestDeduct_Insufficient(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts(acct(account, 5))
	svc, transactions, notifier := newTestService(accounts)

	ok, err := svc.Deduct(context.Background(), account, 10, false, models.ReasonScreenGeneration, nil)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if ok {
		t.Error("expected insufficient, got ok")
	}
	if got := accounts.balance(account); got != 5 {
		t.Errorf("balance after refused deduct: got %d, want 5", got)
	}
	if n := len(transactions.all()); n != 0 {
		t.Errorf("expected 0 transactions, got %d", n)
	}
	if n := notifier.transactionCount(); n != 0 {
		t.Errorf("expected 0 transaction events, got %d", n)
	}
}

// TestDeduct_Concurrent drives many concurrent deducts into one account and
// checks the final balance equals initial minus the successful charges, with
// no charge ever driving the balance negative.
func TestDeduct_Concurrent(t *testing.T) {
	account := uuid.New()
	const initial = 100
	const amount = 10
	const attempts = 25

	accounts := newMemAccounts(acct(account, initial))
	svc, transactions, _ := newTestService(accounts)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Deduct(context.Background(), account, amount, false, models.ReasonScreenGeneration, nil)
			if err != nil {
				t.Errorf("Deduct: %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != initial/amount {
		t.Errorf("successful deducts: got %d, want %d", succeeded, initial/amount)
	}
	if got := accounts.balance(account); got != 0 {
		t.Errorf("final balance: got %d, want 0", got)
	}
	if n := len(transactions.all()); n != succeeded {
		t.Errorf("transactions: got %d, want %d", n, succeeded)
	}
}

// TestReserveThenSettle_BelowMinimum: a settle whose real cost is at or
// below the reservation charges nothing extra.
func TestReserveThenSettle_BelowMinimum(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts(acct(account, 1000))
	svc, transactions, _ := newTestService(accounts)
	ctx := context.Background()

	ok, err := svc.ReserveMinimum(ctx, account, false, models.ReasonScreenGeneration)
	if err != nil || !ok {
		t.Fatalf("ReserveMinimum: ok=%v err=%v", ok, err)
	}
	ok, err = svc.Settle(ctx, account, models.TokenCounts{Total: 42, Prompt: 30, Completion: 12}, MinCharge, false, models.ReasonScreenGeneration)
	if err != nil || !ok {
		t.Fatalf("Settle: ok=%v err=%v", ok, err)
	}

	if got := accounts.balance(account); got != 1000-MinCharge {
		t.Errorf("balance: got %d, want %d", got, 1000-MinCharge)
	}
	if n := len(transactions.all()); n != 1 {
		t.Errorf("transactions: got %d, want 1 (reservation only)", n)
	}
}

// TestReserveThenSettle_AboveMinimum: a 230-token screen costs 23 credits; 10
// are reserved upfront and settle charges only the 13 extra.
func TestReserveThenSettle_AboveMinimum(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts(acct(account, 1000))
	svc, transactions, _ := newTestService(accounts)
	ctx := context.Background()

	if ok, err := svc.ReserveMinimum(ctx, account, false, models.ReasonScreenGeneration); err != nil || !ok {
		t.Fatalf("ReserveMinimum: ok=%v err=%v", ok, err)
	}
	tokens := models.TokenCounts{Total: 230, Prompt: 180, Completion: 50}
	if ok, err := svc.Settle(ctx, account, tokens, MinCharge, false, models.ReasonScreenGeneration); err != nil || !ok {
		t.Fatalf("Settle: ok=%v err=%v", ok, err)
	}

	if got := accounts.balance(account); got != 1000-23 {
		t.Errorf("balance: got %d, want %d", got, 1000-23)
	}
	entries := transactions.all()
	if len(entries) != 2 {
		t.Fatalf("transactions: got %d, want 2", len(entries))
	}
	if entries[0].AmountDelta != -MinCharge {
		t.Errorf("reservation delta: got %d, want %d", entries[0].AmountDelta, -MinCharge)
	}
	if entries[1].AmountDelta != -13 {
		t.Errorf("settle delta: got %d, want -13", entries[1].AmountDelta)
	}
	if entries[1].Tokens == nil || entries[1].Tokens.Total != 230 {
		t.Error("settle transaction should carry the token counts")
	}
}

func TestRecordSummary_Idempotent(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts(acct(account, 970))
	svc, transactions, notifier := newTestService(accounts)
	ctx := context.Background()

	detail := []models.TransactionDetail{
		{AmountDelta: -10, Reason: "home", TokenCount: 42},
		{AmountDelta: -10, Reason: "detail", TokenCount: 55},
		{AmountDelta: -10, Reason: "activity", TokenCount: 61},
	}
	jobKey := "generate_project:abc:1700000000"

	first, err := svc.RecordSummary(ctx, account, 30, models.ReasonGenerationSummary, jobKey, detail)
	if err != nil {
		t.Fatalf("RecordSummary: %v", err)
	}
	second, err := svc.RecordSummary(ctx, account, 30, models.ReasonGenerationSummary, jobKey, detail)
	if err != nil {
		t.Fatalf("RecordSummary (retry): %v", err)
	}

	if first.ID != second.ID {
		t.Error("retried summary should resolve to the same transaction")
	}
	if n := len(transactions.all()); n != 1 {
		t.Errorf("transactions: got %d, want 1", n)
	}
	// Reporting only: the balance must not move.
	if got := accounts.balance(account); got != 970 {
		t.Errorf("balance moved: got %d, want 970", got)
	}
	if first.AmountDelta != -30 {
		t.Errorf("summary delta: got %d, want -30", first.AmountDelta)
	}
	if n := notifier.transactionCount(); n != 1 {
		t.Errorf("expected exactly one summary event, got %d", n)
	}
}

// TestPrivilegedBypass: every charging op returns ok without touching the
// store, writing a transaction, or emitting an event.
func TestPrivilegedBypass(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts() // deliberately empty: any access would fail
	svc, transactions, notifier := newTestService(accounts)
	ctx := context.Background()

	if ok, err := svc.ReserveMinimum(ctx, account, true, models.ReasonScreenGeneration); err != nil || !ok {
		t.Fatalf("ReserveMinimum: ok=%v err=%v", ok, err)
	}
	if ok, err := svc.Settle(ctx, account, models.TokenCounts{Total: 9999}, 0, true, models.ReasonScreenGeneration); err != nil || !ok {
		t.Fatalf("Settle: ok=%v err=%v", ok, err)
	}
	if ok, err := svc.Deduct(ctx, account, 500, true, models.ReasonScreenGeneration, nil); err != nil || !ok {
		t.Fatalf("Deduct: ok=%v err=%v", ok, err)
	}

	if n := accounts.accessCount(); n != 0 {
		t.Errorf("store accesses: got %d, want 0", n)
	}
	if n := len(transactions.all()); n != 0 {
		t.Errorf("transactions: got %d, want 0", n)
	}
	if n := notifier.transactionCount(); n != 0 {
		t.Errorf("events: got %d, want 0", n)
	}
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts()
	svc, transactions, _ := newTestService(accounts)
	ctx := context.Background()

	balance, err := svc.EnsureAccount(ctx, account, false)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if balance != StartingCredits {
		t.Errorf("initial balance: got %d, want %d", balance, StartingCredits)
	}
	grants := 0
	for _, e := range transactions.all() {
		if e.Reason == models.ReasonStartingGrant {
			grants++
		}
	}
	if grants != 1 {
		t.Fatalf("starting grants: got %d, want 1", grants)
	}

	// Spend some, then ensure again: no second grant, balance preserved.
	if ok, _ := svc.Deduct(ctx, account, 40, false, models.ReasonScreenGeneration, nil); !ok {
		t.Fatal("deduct should succeed")
	}
	balance, err = svc.EnsureAccount(ctx, account, false)
	if err != nil {
		t.Fatalf("EnsureAccount (second): %v", err)
	}
	if balance != StartingCredits-40 {
		t.Errorf("balance after re-ensure: got %d, want %d", balance, StartingCredits-40)
	}
	grants = 0
	for _, e := range transactions.all() {
		if e.Reason == models.ReasonStartingGrant {
			grants++
		}
	}
	if grants != 1 {
		t.Errorf("starting grants after re-ensure: got %d, want 1", grants)
	}
}

func TestListTransactions_LimitClamped(t *testing.T) {
	account := uuid.New()
	accounts := newMemAccounts(acct(account, 10000))
	svc, _, _ := newTestService(accounts)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if ok, err := svc.Deduct(ctx, account, 1, false, models.ReasonScreenGeneration, nil); err != nil || !ok {
			t.Fatalf("Deduct %d: ok=%v err=%v", i, ok, err)
		}
	}

	list, err := svc.ListTransactions(ctx, account, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(list) != defaultTransactionLimit {
		t.Errorf("default limit: got %d entries, want %d", len(list), defaultTransactionLimit)
	}

	list, err = svc.ListTransactions(ctx, account, 5)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(list) != 5 {
		t.Errorf("explicit limit: got %d entries, want 5", len(list))
	}
}
