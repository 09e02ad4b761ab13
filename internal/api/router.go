// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(h.LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.AuthMiddleware)

	// Wallet
	protected.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")

	// Games
	protected.HandleFunc("/games", h.GetGames).Methods("GET")
	protected.HandleFunc("/games/play", h.Play).Methods("POST")
	protected.HandleFunc("/bets", h.GetBetHistory).Methods("GET")

	// Crash round
	protected.HandleFunc("/crash/round", h.GetCrashRound).Methods("GET")
	protected.HandleFunc("/crash/bet", h.CrashBet).Methods("POST")
	protected.HandleFunc("/crash/cashout", h.CrashCashout).Methods("POST")

	// WebSocket feed for the live crash round
	protected.HandleFunc("/ws/crash", h.HandleCrashWebSocket).Methods("GET")

	// Operator routes
	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(h.AdminMiddleware)
	admin.HandleFunc("/gaming", h.SetGaming).Methods("POST")
	admin.HandleFunc("/audit", h.GetAuditEvents).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
