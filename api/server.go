/*
server.go - HTTP server setup and routing

PURPOSE:
  Configures the chi router with middleware, CORS, metrics and all
  API routes, and runs the HTTP server with graceful shutdown.
*/
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the HTTP server with its router and handlers.
type Server struct {
	router  *chi.Mux
	handler *Handler
	srv     *http.Server
}

func NewServer(handler *Handler) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: handler,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	h := s.handler

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", instrument("/api/accounts", h.EnrollAccount))
			r.Get("/", instrument("/api/accounts", h.ListAccounts))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", instrument("/api/accounts/{id}", h.GetAccountSummary))
				r.Delete("/", instrument("/api/accounts/{id}", h.UnenrollAccount))
				r.Post("/suspend", instrument("/api/accounts/{id}/suspend", h.SuspendAccount))
				r.Post("/reinstate", instrument("/api/accounts/{id}/reinstate", h.ReinstateAccount))
				r.Post("/reset-cycle", instrument("/api/accounts/{id}/reset-cycle", h.ResetCycle))
				r.Post("/adjustments", instrument("/api/accounts/{id}/adjustments", h.CreateAdjustment))
				r.Post("/reversals", instrument("/api/accounts/{id}/reversals", h.CreateReversal))
				r.Get("/transactions", instrument("/api/accounts/{id}/transactions", h.GetTransactions))
				r.Get("/attempts", instrument("/api/accounts/{id}/attempts", h.ListAttempts))
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", instrument("/api/payments", h.InitiatePayment))
			r.Route("/{correlationId}", func(r chi.Router) {
				r.Get("/", instrument("/api/payments/{correlationId}", h.GetAttemptStatus))
				r.Delete("/", instrument("/api/payments/{correlationId}", h.CancelPayment))
				r.Post("/callback", instrument("/api/payments/{correlationId}/callback", h.PaymentCallback))
			})
		})
	})
}

// Router exposes the configured mux, mainly for httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the listener fails.
func (s *Server) Start(port string) error {
	addr := fmt.Sprintf(":%s", port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[Server] Listening on %s", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
