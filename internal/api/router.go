// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	// Apply global middleware
	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(h.LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/token", h.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.AuthMiddleware)

	// Ledger
	protected.HandleFunc("/ledger/deposit", h.Deposit).Methods("POST")
	protected.HandleFunc("/ledger/emergency-withdraw", h.EmergencyWithdraw).Methods("POST")
	protected.HandleFunc("/ledger/bets", h.PlaceBet).Methods("POST")
	protected.HandleFunc("/ledger/bets/resolve", h.ResolveBet).Methods("POST")
	protected.HandleFunc("/ledger/rewards", h.RewardTokens).Methods("POST")
	protected.HandleFunc("/accounts/{address}", h.GetAccount).Methods("GET")

	// Roles
	protected.HandleFunc("/operators", h.GetOperators).Methods("GET")
	protected.HandleFunc("/admins", h.GetAdmins).Methods("GET")
	protected.HandleFunc("/blacklist", h.GetBlacklist).Methods("GET")
	protected.HandleFunc("/blacklist", h.Blacklist()).Methods("POST")
	protected.HandleFunc("/blacklist/{address}", h.Unblacklist()).Methods("DELETE")
	protected.HandleFunc("/admin/operators", h.AddOperator()).Methods("POST")
	protected.HandleFunc("/admin/operators/{address}", h.RemoveOperator()).Methods("DELETE")
	protected.HandleFunc("/admin/admins", h.AddAdmin()).Methods("POST")
	protected.HandleFunc("/admin/admins/{address}", h.RemoveAdmin()).Methods("DELETE")

	// Admin configuration
	protected.HandleFunc("/admin/pause", h.SetPaused).Methods("PUT")
	protected.HandleFunc("/admin/fee", h.SetDepositFee).Methods("PUT")
	protected.HandleFunc("/admin/fees-address", h.SetFeesAddress).Methods("PUT")
	protected.HandleFunc("/admin/recover", h.RecoverFunds).Methods("POST")

	// Status and audit trail
	protected.HandleFunc("/status", h.Status).Methods("GET")
	protected.HandleFunc("/events", h.GetEvents).Methods("GET")
	protected.HandleFunc("/ws/events", h.HandleWebSocket).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
