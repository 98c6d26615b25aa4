package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/gas"
	"github.com/xtrntr/marketplace/internal/marketplace"
	"github.com/xtrntr/marketplace/internal/period"
)

var anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testServer struct {
	router *chi.Mux
	auth   *auth.AuthService
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: anchor.Add(time.Minute)}

	schedule := period.Schedule{Anchor: anchor, Phases: []period.Phase{
		{Period: period.Bidding, Duration: 10 * time.Minute},
		{Period: period.Clearing, Duration: 5 * time.Minute},
	}}
	market, err := marketplace.New(schedule, marketplace.NewMemoryStore(),
		marketplace.WithClock(marketplace.ClockFunc(func() time.Time { return ts.now })))
	require.NoError(t, err)

	ts.auth = auth.NewAuthService(auth.NewMemoryParticipants(), "test-secret-key-123", time.Hour)
	handler := NewHandler(market, ts.auth, zerolog.Nop())

	ts.router = chi.NewRouter()
	handler.Routes(ts.router)
	return ts
}

func (ts *testServer) token(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	_, err := ts.auth.Register(ctx, name, "testpass")
	require.NoError(t, err)
	token, err := ts.auth.Login(ctx, name, "testpass")
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var response map[string]interface{}
	if w.Body.Len() > 0 {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	}
	return w, response
}

func TestHandler_Register(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectedBody   map[string]interface{}
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"name":     "trader1",
				"password": "testpass",
			},
			expectedStatus: http.StatusCreated,
			expectedBody: map[string]interface{}{
				"id":   float64(1), // JSON numbers are float64
				"name": "trader1",
			},
		},
		{
			name: "Missing Password",
			requestBody: map[string]interface{}{
				"name": "trader1",
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: map[string]interface{}{
				"error": "Name and password required",
			},
		},
		{
			name: "Name Too Long",
			requestBody: map[string]interface{}{
				"name":     strings.Repeat("n", 51),
				"password": "testpass",
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: map[string]interface{}{
				"error": "invalid participant: name too long (max 50 characters)",
			},
		},
		{
			name: "Password Too Long",
			requestBody: map[string]interface{}{
				"name":     "trader1",
				"password": strings.Repeat("p", 101),
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: map[string]interface{}{
				"error": "invalid participant: password too long (max 100 characters)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w, response := ts.do(t, "POST", "/auth/register", "", tt.requestBody, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, response)
		})
	}
}

func TestHandler_RegisterDuplicate(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]interface{}{"name": "trader1", "password": "testpass"}

	w, _ := ts.do(t, "POST", "/auth/register", "", body, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w, response := ts.do(t, "POST", "/auth/register", "", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Name already taken", response["error"])
}

func TestHandler_Login(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.auth.Register(context.Background(), "trader1", "testpass")
	require.NoError(t, err)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectToken    bool
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"name":     "trader1",
				"password": "testpass",
			},
			expectedStatus: http.StatusOK,
			expectToken:    true,
		},
		{
			name: "Invalid Credentials",
			requestBody: map[string]interface{}{
				"name":     "trader1",
				"password": "wrongpass",
			},
			expectedStatus: http.StatusUnauthorized,
			expectToken:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, "POST", "/auth/login", "", tt.requestBody, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectToken {
				assert.Contains(t, response, "token")
				assert.NotEmpty(t, response["token"])
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_ProtectedRoutesNeedToken(t *testing.T) {
	ts := newTestServer(t)

	w, response := ts.do(t, "POST", "/intervals/0/bids", "", map[string]interface{}{"amount": 1, "price": 1}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authorization header required", response["error"])

	w, response = ts.do(t, "POST", "/intervals/0/clear", "garbage", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", response["error"])
}

func TestHandler_SubmitOrder(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "trader1")

	tests := []struct {
		name           string
		path           string
		requestBody    map[string]interface{}
		headers        map[string]string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Success - Bid",
			path:           "/intervals/0/bids",
			requestBody:    map[string]interface{}{"amount": 5, "price": 100},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Success - Ask",
			path:           "/intervals/0/asks",
			requestBody:    map[string]interface{}{"amount": 3, "price": 90},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Zero Amount",
			path:           "/intervals/0/bids",
			requestBody:    map[string]interface{}{"amount": 0, "price": 100},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "amount must be positive",
		},
		{
			name:           "Price Above Bound",
			path:           "/intervals/0/bids",
			requestBody:    map[string]interface{}{"amount": 5, "price": marketplace.MaxQuantity + 1},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "amount or price out of range",
		},
		{
			name:           "Amount Above Bound",
			path:           "/intervals/0/asks",
			requestBody:    map[string]interface{}{"amount": uint64(1<<64 - 1), "price": 90},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "amount or price out of range",
		},
		{
			name:           "Negative Amount",
			path:           "/intervals/0/bids",
			requestBody:    map[string]interface{}{"amount": -1, "price": 100},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request body",
		},
		{
			name:           "Future Interval",
			path:           "/intervals/1/bids",
			requestBody:    map[string]interface{}{"amount": 5, "price": 100},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "Bad Interval ID",
			path:           "/intervals/abc/bids",
			requestBody:    map[string]interface{}{"amount": 5, "price": 100},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid interval ID",
		},
		{
			name:           "Bad Gas Header",
			path:           "/intervals/0/bids",
			requestBody:    map[string]interface{}{"amount": 5, "price": 100},
			headers:        map[string]string{GasLimitHeader: "lots"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid X-Gas-Limit header",
		},
		{
			name:           "Out Of Gas",
			path:           "/intervals/0/bids",
			requestBody:    map[string]interface{}{"amount": 5, "price": 100},
			headers:        map[string]string{GasLimitHeader: "50"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, "POST", tt.path, token, tt.requestBody, tt.headers)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, response["error"])
			}
			if tt.expectedStatus == http.StatusCreated {
				order, ok := response["order"].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, "trader1", order["sender"])
				assert.Contains(t, response, "gas_used")
				assert.Contains(t, response, "gas_refund")
			}
		})
	}

	w, response := ts.do(t, "GET", "/intervals/0", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OPEN", response["status"])
	assert.Len(t, response["bids"], 1)
	assert.Len(t, response["asks"], 1)
}

func TestHandler_RejectedCallReportsGas(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "trader1")

	// clearing during BIDDING is rejected after the call and period checks
	w, response := ts.do(t, "POST", "/intervals/0/clear", token, nil, map[string]string{GasLimitHeader: "1000"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, float64(gas.GasCall+gas.GasPeriodCheck), response["gas_used"])
	assert.Equal(t, float64(1000-gas.GasCall-gas.GasPeriodCheck), response["gas_refund"])
}

func TestHandler_FullCycle(t *testing.T) {
	ts := newTestServer(t)
	buyer := ts.token(t, "trader1")
	seller := ts.token(t, "trader2")

	w, _ := ts.do(t, "POST", "/intervals/0/bids", buyer, map[string]interface{}{"amount": 5, "price": 120}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = ts.do(t, "POST", "/intervals/0/asks", seller, map[string]interface{}{"amount": 3, "price": 100}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, response := ts.do(t, "GET", "/intervals/0/result", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Interval not cleared", response["error"])

	ts.now = anchor.Add(11 * time.Minute)

	w, response = ts.do(t, "GET", "/period", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CLEARING", response["period"])
	assert.Equal(t, float64(0), response["interval_id"])

	w, response = ts.do(t, "POST", "/intervals/0/bids", buyer, map[string]interface{}{"amount": 1, "price": 1}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, response = ts.do(t, "POST", "/intervals/0/clear", seller, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result, ok := response["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), result["cleared_quantity"])
	assert.Equal(t, float64(100), result["clearing_price"])
	assert.Equal(t, "trader2", result["cleared_by"])

	w, _ = ts.do(t, "POST", "/intervals/0/clear", buyer, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, response = ts.do(t, "GET", "/intervals/0/result", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), response["cleared_quantity"])

	w, response = ts.do(t, "GET", "/intervals/0/verify", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, response["verified"])

	w, response = ts.do(t, "GET", "/intervals/0", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CLEARED", response["status"])
}

func TestHandler_VerifyUncleared(t *testing.T) {
	ts := newTestServer(t)
	w, response := ts.do(t, "GET", "/intervals/7/verify", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Interval not cleared", response["error"])
}

func TestHandler_Health(t *testing.T) {
	ts := newTestServer(t)
	w, response := ts.do(t, "GET", "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", response["status"])
}
