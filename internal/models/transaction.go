package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction reason tags. Charge reasons may be suffixed with ":<project name>".
const (
	ReasonStartingGrant     = "starting_grant"
	ReasonScreenGeneration  = "screen_generation"
	ReasonFrameRegeneration = "frame_regeneration"
	ReasonGenerationSummary = "generation_summary"
)

// TokenCounts is the model usage reported by the generation provider for one
// or more calls.
type TokenCounts struct {
	Total      int `json:"total"`
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Add returns the element-wise sum of two token counts.
func (t TokenCounts) Add(o TokenCounts) TokenCounts {
	return TokenCounts{
		Total:      t.Total + o.Total,
		Prompt:     t.Prompt + o.Prompt,
		Completion: t.Completion + o.Completion,
	}
}

// TransactionDetail is one line item inside a consolidated summary transaction.
type TransactionDetail struct {
	AmountDelta int    `json:"amount_delta"`
	Reason      string `json:"reason"`
	TokenCount  int    `json:"token_count"`
}

// CreditTransaction is an append-only, immutable ledger entry. Negative
// AmountDelta is a charge, positive a grant. Summary transactions carry a
// JobKey for idempotent inserts and a Detail breakdown; they never move the
// balance themselves.
type CreditTransaction struct {
	ID          uuid.UUID           `json:"id"`
	AccountID   uuid.UUID           `json:"account_id"`
	AmountDelta int                 `json:"amount_delta"`
	Reason      string              `json:"reason"`
	JobKey      *string             `json:"job_key,omitempty"`
	Tokens      *TokenCounts        `json:"token_counts,omitempty"`
	Detail      []TransactionDetail `json:"detail,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}
