// Package api provides the HTTP API for the ledger
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alexbotov/betledger/internal/access"
	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/auth"
	"github.com/alexbotov/betledger/internal/control"
	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/internal/ledger"
	"github.com/alexbotov/betledger/internal/transport"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler contains all HTTP handlers
type Handler struct {
	auth    *auth.Service
	ledger  *ledger.Service
	access  *access.Service
	control *control.Service
	audit   *audit.Service
	hub     *Hub
	logger  *zap.Logger
}

// New creates a new API handler. A nil hub disables the event stream.
func New(authSvc *auth.Service, ledgerSvc *ledger.Service, accessSvc *access.Service, controlSvc *control.Service, auditSvc *audit.Service, hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:    authSvc,
		ledger:  ledgerSvc,
		access:  accessSvc,
		control: controlSvc,
		audit:   auditSvc,
		hub:     hub,
		logger:  logger,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondLedgerError maps domain errors onto status codes
func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "UNAUTHORIZED", "Caller lacks the required role")
	case errors.Is(err, control.ErrPaused):
		respondError(w, http.StatusServiceUnavailable, "CONTRACT_PAUSED", "Ledger is paused")
	case errors.Is(err, access.ErrBlacklisted):
		respondError(w, http.StatusForbidden, "BLACKLISTED", "Address is blacklisted")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusConflict, "INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, ledger.ErrBetAlreadyPending):
		respondError(w, http.StatusConflict, "BET_ALREADY_PENDING", "A bet is already pending")
	case errors.Is(err, ledger.ErrNoPendingBet):
		respondError(w, http.StatusConflict, "NO_PENDING_BET", "No pending bet")
	case errors.Is(err, ledger.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, domain.ErrInvalidAddress):
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Invalid address")
	case errors.Is(err, transport.ErrTransportFailure):
		respondError(w, http.StatusBadGateway, "TRANSPORT_FAILURE", "Value transfer did not complete")
	case errors.Is(err, access.ErrAlreadyOperator), errors.Is(err, access.ErrAlreadyAdmin),
		errors.Is(err, access.ErrAlreadyBlacklisted):
		respondError(w, http.StatusConflict, "ALREADY_MEMBER", err.Error())
	case errors.Is(err, access.ErrNotOperator), errors.Is(err, access.ErrNotAdmin),
		errors.Is(err, access.ErrNotBlacklisted):
		respondError(w, http.StatusNotFound, "NOT_MEMBER", err.Error())
	case errors.Is(err, access.ErrLastAdmin):
		respondError(w, http.StatusConflict, "LAST_ADMIN", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, s string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Invalid address")
		return "", false
	}
	return addr, true
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"paused": h.control.IsPaused(),
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "betledger",
		"version":     "1.0.0",
		"description": "Custodial wager balance ledger",
	})
}

// === Authentication ===

// Login handles POST /api/v1/auth/token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		switch err {
		case auth.ErrInvalidCredentials:
			respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid address or secret")
		default:
			respondError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// === Ledger ===

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type userAmountRequest struct {
	User   string `json:"user"`
	Amount int64  `json:"amount"`
}

type resolveRequest struct {
	User     string `json:"user"`
	Won      bool   `json:"won"`
	Winnings int64  `json:"winnings"`
}

// Deposit handles POST /api/v1/ledger/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.ledger.Deposit(r.Context(), actorFrom(r), req.Amount)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// EmergencyWithdraw handles POST /api/v1/ledger/emergency-withdraw
func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := h.ledger.EmergencyWithdraw(r.Context(), actorFrom(r))
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"amount": amount,
	})
}

// PlaceBet handles POST /api/v1/ledger/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req userAmountRequest
	if !decode(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, req.User)
	if !ok {
		return
	}

	if err := h.ledger.PlaceBet(r.Context(), actorFrom(r), user, req.Amount); err != nil {
		respondLedgerError(w, err)
		return
	}

	h.respondAccount(w, r, user, http.StatusCreated)
}

// ResolveBet handles POST /api/v1/ledger/bets/resolve
func (h *Handler) ResolveBet(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, req.User)
	if !ok {
		return
	}

	if err := h.ledger.ResolveBet(r.Context(), actorFrom(r), user, req.Won, req.Winnings); err != nil {
		respondLedgerError(w, err)
		return
	}

	h.respondAccount(w, r, user, http.StatusOK)
}

// RewardTokens handles POST /api/v1/ledger/rewards
func (h *Handler) RewardTokens(w http.ResponseWriter, r *http.Request) {
	var req userAmountRequest
	if !decode(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, req.User)
	if !ok {
		return
	}

	if err := h.ledger.RewardTokens(r.Context(), actorFrom(r), user, req.Amount); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":   user,
		"amount": req.Amount,
	})
}

// GetAccount handles GET /api/v1/accounts/{address}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	h.respondAccount(w, r, user, http.StatusOK)
}

func (h *Handler) respondAccount(w http.ResponseWriter, r *http.Request, user domain.Address, status int) {
	acct, err := h.ledger.GetAccount(r.Context(), user)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	data := map[string]interface{}{
		"address":     user.Checksum(),
		"balance":     acct.Balance,
		"pending_bet": acct.PendingBet,
	}
	if wallet, err := h.ledger.GetWalletBalance(r.Context(), user); err == nil {
		data["wallet_balance"] = wallet
	} else {
		h.logger.Warn("wallet balance lookup failed", zap.String("user", user.String()), zap.Error(err))
	}

	respondJSON(w, status, data)
}

// === Roles ===

type addressRequest struct {
	Address string `json:"address"`
}

// GetOperators handles GET /api/v1/operators
func (h *Handler) GetOperators(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operators": h.access.Operators(),
	})
}

// GetAdmins handles GET /api/v1/admins
func (h *Handler) GetAdmins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"admins": h.access.Admins(),
	})
}

// GetBlacklist handles GET /api/v1/blacklist
func (h *Handler) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"blacklisted": h.access.Blacklisted(),
	})
}

type memberFunc func(r *http.Request, actor, addr domain.Address) error

// addMember decodes {"address"} from the body
func (h *Handler) addMember(fn memberFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addressRequest
		if !decode(w, r, &req) {
			return
		}
		addr, ok := parseAddress(w, req.Address)
		if !ok {
			return
		}
		if err := fn(r, actorFrom(r), addr); err != nil {
			respondLedgerError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]interface{}{"address": addr})
	}
}

// removeMember reads the address from the path
func (h *Handler) removeMember(fn memberFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := parseAddress(w, mux.Vars(r)["address"])
		if !ok {
			return
		}
		if err := fn(r, actorFrom(r), addr); err != nil {
			respondLedgerError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"address": addr})
	}
}

func (h *Handler) AddOperator() http.HandlerFunc {
	return h.addMember(func(r *http.Request, actor, addr domain.Address) error {
		return h.access.AddOperator(r.Context(), actor, addr)
	})
}

func (h *Handler) RemoveOperator() http.HandlerFunc {
	return h.removeMember(func(r *http.Request, actor, addr domain.Address) error {
		return h.access.RemoveOperator(r.Context(), actor, addr)
	})
}

func (h *Handler) AddAdmin() http.HandlerFunc {
	return h.addMember(func(r *http.Request, actor, addr domain.Address) error {
		return h.access.AddAdmin(r.Context(), actor, addr)
	})
}

func (h *Handler) RemoveAdmin() http.HandlerFunc {
	return h.removeMember(func(r *http.Request, actor, addr domain.Address) error {
		return h.access.RemoveAdmin(r.Context(), actor, addr)
	})
}

func (h *Handler) Blacklist() http.HandlerFunc {
	return h.addMember(func(r *http.Request, actor, addr domain.Address) error {
		return h.access.Blacklist(r.Context(), actor, addr)
	})
}

func (h *Handler) Unblacklist() http.HandlerFunc {
	return h.removeMember(func(r *http.Request, actor, addr domain.Address) error {
		return h.access.Unblacklist(r.Context(), actor, addr)
	})
}

// === Admin configuration ===

// SetPaused handles PUT /api/v1/admin/pause
func (h *Handler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := h.control.SetPaused(r.Context(), actorFrom(r), req.Paused); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.control.Status())
}

// SetDepositFee handles PUT /api/v1/admin/fee
func (h *Handler) SetDepositFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent int `json:"percent"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := h.ledger.SetDepositFee(r.Context(), actorFrom(r), req.Percent); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"percent": req.Percent})
}

// SetFeesAddress handles PUT /api/v1/admin/fees-address
func (h *Handler) SetFeesAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decode(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	if err := h.ledger.SetFeesAddress(r.Context(), actorFrom(r), addr); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"address": addr})
}

// RecoverFunds handles POST /api/v1/admin/recover
func (h *Handler) RecoverFunds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, req.To)
	if !ok {
		return
	}

	if err := h.ledger.RecoverFunds(r.Context(), actorFrom(r), to, req.Amount); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"to":     to,
		"amount": req.Amount,
	})
}

// === Status & audit ===

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	percent, feesAddr := h.ledger.FeeConfig()
	totals := h.ledger.Totals()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pause":        h.control.Status(),
		"fee_percent":  percent,
		"fees_address": feesAddr,
		"totals":       totals,
		"liabilities":  totals.Liabilities(),
	})
}

// GetEvents handles GET /api/v1/events. Callers without a role only see
// events that name them.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &audit.EventFilter{
		Type: domain.EventType(q.Get("type")),
	}

	if v := q.Get("address"); v != "" {
		addr, ok := parseAddress(w, v)
		if !ok {
			return
		}
		filter.Address = addr
	}
	actor := actorFrom(r)
	if h.access.RequireOperatorOrAdmin(actor) != nil {
		filter.Address = actor
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "Limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_TIME", key+" must be RFC3339")
				return
			}
			*dst = t
		}
	}

	events, err := h.audit.GetEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "AUDIT_ERROR", "Failed to query events")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
