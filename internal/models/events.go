package models

import (
	"time"

	"github.com/google/uuid"
)

// Wire shapes published to realtime subscribers.

type JobStatusEvent struct {
	ProjectID    uuid.UUID `json:"project_id"`
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	ThemeID      string    `json:"theme_id,omitempty"`
	TotalScreens int       `json:"total_screens,omitempty"`
}

type FrameEvent struct {
	ProjectID      uuid.UUID `json:"project_id"`
	UserID         uuid.UUID `json:"user_id"`
	FrameID        string    `json:"frame_id"`
	Title          string    `json:"title"`
	HTMLContent    string    `json:"html_content"`
	IsLoading      bool      `json:"is_loading"`
	Ord            *int      `json:"order,omitempty"`
	ReplaceFrameID string    `json:"replace_frame_id,omitempty"`
}

type BalanceEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int       `json:"balance"`
}

// CreditEvent mirrors a ledger transaction on the wire. Incremental
// summary-delta events reuse this shape with a zero TransactionID; they are
// realtime-only and have no ledger row behind them.
type CreditEvent struct {
	AccountID     uuid.UUID           `json:"account_id"`
	TransactionID uuid.UUID           `json:"transaction_id,omitempty"`
	AmountDelta   int                 `json:"amount_delta"`
	Reason        string              `json:"reason"`
	Tokens        *TokenCounts        `json:"token_counts,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Detail        []TransactionDetail `json:"detail,omitempty"`
}
