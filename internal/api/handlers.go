package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tadeleke/corebank/internal/auth"
	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/money"
	"github.com/tadeleke/corebank/internal/transfer"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corebank_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corebank_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// maxTransferAmount is the caller-facing ceiling per transfer; the engine
// itself only requires positivity.
var maxTransferAmount = money.MustParse("1000000")

type Handler struct {
	engine *transfer.Engine
	auth   *auth.Service
	users  auth.UserStore
	logger *slog.Logger
}

func NewHandler(engine *transfer.Engine, authSvc *auth.Service, users auth.UserStore, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, auth: authSvc, users: users, logger: logger}
}

func (h *Handler) observe(method, endpoint string, code int) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("POST", "/auth/signup", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.observe("POST", "/auth/signup", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Valid email required")
		return
	}
	if len(req.Password) < 8 {
		h.observe("POST", "/auth/signup", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		h.observe("POST", "/auth/signup", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "First and last name required")
		return
	}

	user, pair, err := h.auth.Signup(r.Context(), auth.SignupRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			h.observe("POST", "/auth/signup", http.StatusConflict)
			respondWithError(w, http.StatusConflict, "User already exists")
			return
		}
		h.logger.Error("signup failed", "error", err)
		h.observe("POST", "/auth/signup", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.observe("POST", "/auth/signup", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, map[string]any{
		"user":   user,
		"tokens": pair,
	})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("POST", "/auth/signin", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	user, pair, err := h.auth.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.observe("POST", "/auth/signin", http.StatusUnauthorized)
			respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error("signin failed", "error", err)
		h.observe("POST", "/auth/signin", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.observe("POST", "/auth/signin", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"user":   user,
		"tokens": pair,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.observe("POST", "/auth/refresh", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Refresh token required")
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.observe("POST", "/auth/refresh", http.StatusUnauthorized)
		respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	h.observe("POST", "/auth/refresh", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := CallerClaims(r.Context())
	if err := h.auth.Logout(r.Context(), claims.UserID); err != nil {
		h.observe("POST", "/auth/logout", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.observe("POST", "/auth/logout", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	claims := CallerClaims(r.Context())
	user, err := h.users.UserByID(r.Context(), claims.UserID)
	if err != nil {
		h.observe("GET", "/users/me", http.StatusNotFound)
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	h.observe("GET", "/users/me", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{"user": user})
}

type transferRequest struct {
	ReceiverAccountNumber string `json:"receiver_account_number"`
	Amount                string `json:"amount"`
	Description           string `json:"description"`
	IdempotencyKey        string `json:"idempotency_key"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	claims := CallerClaims(r.Context())

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("POST", "/transfers", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	// The header form wins over the body field when both are present.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	if req.ReceiverAccountNumber == "" {
		h.observe("POST", "/transfers", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Receiver account number required")
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || !money.IsPositive(amount) {
		h.observe("POST", "/transfers", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required")
		return
	}
	if money.Cmp(amount, maxTransferAmount) > 0 {
		h.observe("POST", "/transfers", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Amount exceeds the per-transfer limit")
		return
	}

	result, err := h.engine.Transfer(r.Context(), claims.UserID, transfer.Request{
		ReceiverAccountNumber: req.ReceiverAccountNumber,
		Amount:                req.Amount,
		Description:           req.Description,
		IdempotencyKey:        req.IdempotencyKey,
	})
	if err != nil {
		code, msg := transferErrorStatus(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("transfer failed", "error", err, "sender_id", claims.UserID)
		}
		h.observe("POST", "/transfers", code)
		respondWithError(w, code, msg)
		return
	}

	h.observe("POST", "/transfers", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":     "Transfer successful",
		"transaction": result,
	})
}

func transferErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSenderNotFound):
		return http.StatusNotFound, "Sender not found"
	case errors.Is(err, domain.ErrReceiverNotFound):
		return http.StatusNotFound, "Receiver not found"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "Insufficient balance"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "Positive amount required"
	case errors.Is(err, domain.ErrSameAccount):
		return http.StatusUnprocessableEntity, "Cannot transfer to own account"
	case errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusConflict, "Request with this idempotency key is in progress"
	case errors.Is(err, domain.ErrLockTimeout), errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Temporarily unavailable, retry with the same idempotency key"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	claims := CallerClaims(r.Context())
	entries, err := h.engine.History(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("history query failed", "error", err, "user_id", claims.UserID)
		h.observe("GET", "/transfers", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.observe("GET", "/transfers", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

func (h *Handler) AdminListTransfers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.ListAll(r.Context())
	if err != nil {
		h.logger.Error("admin ledger query failed", "error", err)
		h.observe("GET", "/admin/transfers", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.observe("GET", "/admin/transfers", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}
