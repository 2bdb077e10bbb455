package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/screenloom/backend/internal/middleware"
	"github.com/screenloom/backend/internal/models"
)

// LedgerReader is the ledger's read contract consumed by the billing UI.
type LedgerReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

// CreditsHandler serves the /v1/credits endpoints.
type CreditsHandler struct {
	Ledger LedgerReader
	Logger *slog.Logger
}

type balanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int       `json:"balance"`
}

// GetBalance handles GET /v1/credits.
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("read balance", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: acc.ID, Balance: balance})
}

// ListTransactions handles GET /v1/credits/transactions?limit=N,
// newest-first.
func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.Ledger.ListTransactions(r.Context(), acc.ID, limit)
	if err != nil {
		h.Logger.Error("list transactions", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, list)
}
