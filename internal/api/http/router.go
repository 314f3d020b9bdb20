package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sabi-money/sabi-server/internal/logger"
)

// NewRouter wires the handler's operations into a chi router.
func NewRouter(h *Handler) http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger(h.logger))

	mux.Route("/api/v1/wallets", func(r chi.Router) {
		r.Post("/", h.CreateWallet)
		r.Route("/{walletID}", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/transactions", h.ListTransactions)
			r.Route("/recovery", func(r chi.Router) {
				r.Post("/", h.InitiateRecovery)
				r.Get("/", h.GetRecoveryStatus)
				r.Post("/shares", h.SubmitShare)
				r.Post("/claim", h.ClaimBundle)
			})
		})
	})

	mux.Get("/api/v1/events/{provider}/{eventID}", h.GetEvent)

	mux.Post("/webhooks/{provider}", h.Webhook)

	mux.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	return mux
}

// requestLogger logs one line per request with status and latency. Request
// bodies are never logged; recovery payloads pass through here.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
