package main

import (
	"net/http"

	"github.com/screenloom/backend/internal/handlers"
	"github.com/screenloom/backend/internal/middleware"
	"github.com/screenloom/backend/internal/realtime"
)

// RegisterV1Routes adds the /v1/ endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (CreditGate on generation POSTs) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo middleware.APIKeyRepo,
	genHandler *handlers.GenerationHandler,
	creditsHandler *handlers.CreditsHandler,
	hub *realtime.Hub,
) {
	auth := middleware.APIKeyAuth(apiKeyRepo)
	gate := middleware.CreditGate()

	// POST /v1/generations: auth -> CreditGate -> enqueue project generation
	mux.Handle("POST /v1/generations", auth(gate(http.HandlerFunc(genHandler.Generate))))

	// POST /v1/frames/{id}/regenerate: auth -> CreditGate -> enqueue frame regeneration
	mux.Handle("POST /v1/frames/{id}/regenerate", auth(gate(http.HandlerFunc(genHandler.Regenerate))))

	// GET /v1/projects/{id}/frames: auth -> ordered frames
	mux.Handle("GET /v1/projects/{id}/frames", auth(http.HandlerFunc(genHandler.ListFrames)))

	// GET /v1/credits: auth -> balance
	mux.Handle("GET /v1/credits", auth(http.HandlerFunc(creditsHandler.GetBalance)))

	// GET /v1/credits/transactions: auth -> newest-first transaction history
	mux.Handle("GET /v1/credits/transactions", auth(http.HandlerFunc(creditsHandler.ListTransactions)))

	// GET /v1/realtime: auth -> websocket subscription to the account's events
	mux.Handle("GET /v1/realtime", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc := middleware.AccountFromCtx(r.Context())
		if acc == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, acc.ID)
	})))
}
