package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/bealive/commitment-ledger/internal/auth"
	"github.com/bealive/commitment-ledger/internal/metrics"
)

// NewRouter wires the HTTP surface: health, metrics, the WebSocket feed, and
// the /api/v1 ledger routes. hub may be nil. An empty corsOrigins allows
// every origin.
func NewRouter(h *Handler, hub *Hub, authn *auth.Authenticator, corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(corsHandler(corsOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"commitment-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for challenge events. Long-lived, so it sits
		// outside the request timeout.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(authn.Middleware)

			r.Post("/challenges", h.CreateChallenge)
			r.Get("/challenges", h.ListChallenges)
			r.Route("/challenges/{challengeID}", func(r chi.Router) {
				r.Get("/", h.GetChallenge)
				r.Post("/cancel", h.CancelChallenge)
				r.Post("/commitments", h.Commit)
				r.Get("/commitments", h.ListCommitments)
				r.Get("/quote", h.Quote)
				r.Post("/resolve", h.Resolve)
				r.Get("/settlement", h.GetSettlement)
				r.Post("/updates", h.PostUpdate)
				r.Get("/updates", h.ListUpdates)
			})

			r.Get("/participants/me/commitments", h.MyCommitments)
		})
	})

	return r
}

// corsHandler lets the web client call the API cross-origin. With a
// wildcard origin credentials stay disabled.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", auth.HeaderParticipant},
		AllowCredentials: false,
	}).Handler
}
