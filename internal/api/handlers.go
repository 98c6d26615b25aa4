package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/gas"
	"github.com/xtrntr/marketplace/internal/marketplace"
	"github.com/xtrntr/marketplace/internal/models"
)

// GasLimitHeader lets a caller cap the gas a call may use
const GasLimitHeader = "X-Gas-Limit"

type contextKey string

const participantKey contextKey = "participant"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Market      *marketplace.Marketplace
	AuthService *auth.AuthService
	Logger      zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(market *marketplace.Marketplace, authService *auth.AuthService, logger zerolog.Logger) *Handler {
	return &Handler{Market: market, AuthService: authService, Logger: logger}
}

// Routes mounts the public and protected endpoints on r
func (h *Handler) Routes(r chi.Router) {
	r.Use(hlog.NewHandler(h.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", status).Int("size", size).Dur("duration", duration).Msg("request")
	}))

	r.Get("/healthz", h.Health)

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/period", h.GetPeriod)
	r.Get("/intervals/{id}", h.GetInterval)
	r.Get("/intervals/{id}/result", h.GetResult)
	r.Get("/intervals/{id}/verify", h.VerifyInterval)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/intervals/{id}/bids", h.SubmitBid)
		r.Post("/intervals/{id}/asks", h.SubmitAsk)
		r.Post("/intervals/{id}/clear", h.ClearInterval)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register handles participant registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Name and password required")
		return
	}

	p, err := h.AuthService.Register(r.Context(), req.Name, req.Password)
	if errors.Is(err, models.ErrNameTaken) {
		writeError(w, http.StatusConflict, "Name already taken")
		return
	}
	if errors.Is(err, auth.ErrInvalidParticipant) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to register participant")
		writeError(w, http.StatusInternalServerError, "Failed to register participant")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":   p.ID,
		"name": p.Name,
	})
}

// Login handles participant login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		name, err := h.AuthService.ParticipantFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), participantKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPeriod reports the current interval and period
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Market.Position())
}

// GetInterval returns the orders and result of one interval
func (h *Handler) GetInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := intervalParam(w, r)
	if !ok {
		return
	}

	b, err := h.Market.Book(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interval_id": id,
		"status":      b.Status(),
		"bids":        b.Bids(),
		"asks":        b.Asks(),
		"result":      b.Result,
	})
}

// GetResult returns the clearing result of one interval
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := intervalParam(w, r)
	if !ok {
		return
	}

	result, err := h.Market.Result(r.Context(), id)
	if errors.Is(err, exchange.ErrNotCleared) {
		writeError(w, http.StatusNotFound, "Interval not cleared")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// VerifyInterval recomputes a stored clearing and compares it with the record
func (h *Handler) VerifyInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := intervalParam(w, r)
	if !ok {
		return
	}

	err := h.Market.Verify(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"interval_id": id, "verified": true})
	case errors.Is(err, exchange.ErrNotCleared):
		writeError(w, http.StatusNotFound, "Interval not cleared")
	case errors.Is(err, exchange.ErrResultMismatch):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"interval_id": id,
			"verified":    false,
			"error":       err.Error(),
		})
	default:
		h.internalError(w, r, err)
	}
}

// SubmitBid places a buy order
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.Market.SubmitBid)
}

// SubmitAsk places a sell order
func (h *Handler) SubmitAsk(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.Market.SubmitAsk)
}

type submitFunc func(ctx context.Context, call marketplace.Call, intervalID int64, amount, price uint64) (models.Order, marketplace.Receipt, error)

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, fn submitFunc) {
	call, ok := callFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := intervalParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount uint64 `json:"amount"`
		Price  uint64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, receipt, err := fn(r.Context(), call, id, req.Amount, req.Price)
	if err != nil {
		h.callError(w, r, receipt, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order":      order,
		"gas_used":   receipt.GasUsed,
		"gas_refund": receipt.Refund(),
	})
}

// ClearInterval runs the clearing of one interval
func (h *Handler) ClearInterval(w http.ResponseWriter, r *http.Request) {
	call, ok := callFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := intervalParam(w, r)
	if !ok {
		return
	}

	result, receipt, err := h.Market.ClearInterval(r.Context(), call, id)
	if err != nil {
		h.callError(w, r, receipt, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":     result,
		"gas_used":   receipt.GasUsed,
		"gas_refund": receipt.Refund(),
	})
}

func callFromRequest(w http.ResponseWriter, r *http.Request) (marketplace.Call, bool) {
	name, ok := r.Context().Value(participantKey).(string)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return marketplace.Call{}, false
	}

	call := marketplace.Call{Sender: name}
	if raw := r.Header.Get(GasLimitHeader); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || limit == 0 {
			writeError(w, http.StatusBadRequest, "Invalid "+GasLimitHeader+" header")
			return marketplace.Call{}, false
		}
		call.GasLimit = limit
	}
	return call, true
}

func intervalParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid interval ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) callError(w http.ResponseWriter, r *http.Request, receipt marketplace.Receipt, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("call failed")
		msg = "Internal error"
	}
	writeJSON(w, status, map[string]interface{}{
		"error":      msg,
		"gas_used":   receipt.GasUsed,
		"gas_refund": receipt.Refund(),
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "Internal error")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, marketplace.ErrWrongPeriod):
		return http.StatusConflict
	case errors.Is(err, marketplace.ErrInvalidAmount), errors.Is(err, marketplace.ErrOutOfRange),
		errors.Is(err, marketplace.ErrNoSender):
		return http.StatusBadRequest
	case errors.Is(err, gas.ErrOutOfGas):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
