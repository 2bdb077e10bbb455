package middleware

import (
	"net/http"

	"github.com/screenloom/backend/internal/ledger"
)

// CreditGate rejects generation requests early when the authenticated
// account cannot afford even the minimum charge. It is a cheap front-door
// check on the balance loaded at auth time; the ledger's guarded decrement
// remains the authority once the job runs.
func CreditGate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !acc.Privileged && acc.CreditBalance < ledger.MinCharge {
				http.Error(w, `{"error":"not enough credits"}`, http.StatusPaymentRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
