package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/execution"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
	"github.com/alanyoungcy/perpcore/internal/server/handler"
	"github.com/alanyoungcy/perpcore/internal/server/middleware"
	"github.com/alanyoungcy/perpcore/internal/store/memory"
)

var (
	marketKey   = common.HexToHash("0xe7")
	positionKey = common.HexToHash("0x99")
)

type fixedStats execution.KeeperStats

func (s fixedStats) Stats() execution.KeeperStats { return execution.KeeperStats(s) }

type stream []domain.StreamMessage

func (s stream) StreamRecent(_ context.Context, _ string, count int) ([]domain.StreamMessage, error) {
	if count < len(s) {
		return s[:count], nil
	}
	return s, nil
}

func newTestServer(t *testing.T, apiKey string, healthErr error) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store := memory.New(nil)
	require.NoError(t, store.SaveMarket(ctx, domain.Market{
		Key:                 marketKey,
		PriceImpactExponent: fixedpoint.One(),
		BorrowingFactor:     fixedpoint.Units(1),
	}))

	srv := NewServer(Config{APIKey: apiKey}, Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Checker{
			"store": func(context.Context) error { return healthErr },
		}, logger),
		Status: handler.NewStatusHandler("full", "memory", fixedStats{
			Ticks:    3,
			Statuses: map[domain.RequestStatus]uint64{domain.RequestStatusExecuted: 2},
		}),
		Markets:   handler.NewMarketHandler(store, logger),
		Positions: handler.NewPositionHandler(store, logger),
		Events: handler.NewEventsHandler(stream{
			{ID: "2-0", Payload: []byte(`{"status":"executed"}`)},
			{ID: "1-0", Payload: []byte(`not json`)},
		}, "executions:log", logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	}, logger)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, path string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t, "", nil)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"health", "/api/health", http.StatusOK},
		{"status", "/api/status", http.StatusOK},
		{"market", "/api/markets/" + marketKey.Hex(), http.StatusOK},
		{"market not found", "/api/markets/" + common.HexToHash("0x01").Hex(), http.StatusNotFound},
		{"market bad key", "/api/markets/xyz", http.StatusBadRequest},
		{"position not found", "/api/positions/" + positionKey.Hex(), http.StatusNotFound},
		{"trades of unknown position", "/api/positions/" + positionKey.Hex() + "/trades", http.StatusOK},
		{"events", "/api/events?count=5", http.StatusOK},
		{"metrics", "/metrics", http.StatusOK},
		{"unknown", "/api/orders", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, tt.path, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusBody(t *testing.T) {
	_, body := do(t, newTestServer(t, "", nil), "/api/status", nil)
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, "memory", body["backend"])
	keeper, ok := body["keeper"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, keeper["ticks"])
}

func TestMarketBody(t *testing.T) {
	_, body := do(t, newTestServer(t, "", nil), "/api/markets/"+marketKey.Hex(), nil)
	assert.Equal(t, marketKey.Hex(), body["key"])
	assert.Equal(t, "1000000000000000000", body["borrowing_factor"])
}

func TestEventsSkipInvalidPayloads(t *testing.T) {
	_, body := do(t, newTestServer(t, "", nil), "/api/events", nil)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "2-0", events[0].(map[string]any)["id"])
}

func TestHealthDegraded(t *testing.T) {
	rec, body := do(t, newTestServer(t, "", errors.New("connection refused")), "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["store"])
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, "s3cret", nil)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		code   int
	}{
		{"health is public", "/api/health", nil, http.StatusOK},
		{"metrics is public", "/metrics", nil, http.StatusOK},
		{"status needs a token", "/api/status", nil, http.StatusUnauthorized},
		{"wrong token", "/api/status", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/status", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"bearer token", "/api/status", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, tt.path, tt.header)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t, "", nil)

	rec, _ := do(t, h, "/api/status", nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec, _ = do(t, h, "/api/status", map[string]string{middleware.RequestIDHeader: "req-1"})
	assert.Equal(t, "req-1", rec.Header().Get(middleware.RequestIDHeader))
}

func TestCORS(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewServer(Config{CORSOrigins: []string{"https://ops.example.com"}, APIKey: "k"}, Handlers{
		Health: handler.NewHealthHandler(nil, logger),
	}, logger).Handler()

	tests := []struct {
		name   string
		method string
		origin string
		allow  string
		code   int
	}{
		{"allowed origin", http.MethodGet, "https://OPS.example.com", "https://OPS.example.com", http.StatusOK},
		{"other origin", http.MethodGet, "https://evil.example.com", "", http.StatusOK},
		{"preflight skips auth", http.MethodOptions, "https://ops.example.com", "https://ops.example.com", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/health", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := NewServer(Config{Port: 0}, Handlers{Health: handler.NewHealthHandler(nil, nil)}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
