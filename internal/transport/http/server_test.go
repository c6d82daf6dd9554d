package transporthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"backlab/internal/market"
	"backlab/internal/runner"
	"backlab/internal/store/runstore"
	"backlab/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSource struct{}

func (noopSource) Name() string { return "noop" }
func (noopSource) Fetch(context.Context, market.FetchRequest) ([]market.Candle, error) {
	return nil, fmt.Errorf("remote fetch disabled in tests")
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := market.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// 预置一段震荡行情，保证均线策略能产生交易
	tf, err := market.ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.Duration.Milliseconds()
	base := int64(1_700_000_000_000) - int64(1_700_000_000_000)%step
	candles := make([]market.Candle, 0, 200)
	for i := 0; i < 200; i++ {
		price := 100 + 10*math.Sin(2*math.Pi*float64(i)/16)
		open := base + int64(i)*step
		candles = append(candles, market.Candle{
			OpenTime:  open,
			CloseTime: open + step - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1,
		})
	}
	_, err = store.InsertCandles(context.Background(), "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	fetch, err := market.NewFetchService(market.FetchServiceConfig{
		Store:   store,
		Sources: map[string]market.CandleSource{"noop": noopSource{}},
	})
	require.NoError(t, err)

	runs, err := runstore.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	svc, err := runner.NewService(runner.ServiceConfig{
		Registry: strategy.NewRegistry(),
		Market:   fetch,
		Runs:     runs,
	})
	require.NoError(t, err)

	server, err := NewServer(Config{Fetch: fetch, Service: svc})
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStrategiesEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := doJSON(t, server.Router(), http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Strategies []struct {
			Name string `json:"name"`
		} `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	names := make([]string, 0, len(resp.Strategies))
	for _, s := range resp.Strategies {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "ma_cross")
	assert.Contains(t, names, "rsi_reversal")
}

func TestCandlesEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := doJSON(t, server.Router(), http.MethodGet, "/api/candles?symbol=BTCUSDT&timeframe=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Candles []market.Candle `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Candles, 200)

	rec = doJSON(t, server.Router(), http.MethodGet, "/api/candles?timeframe=1h", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	body := map[string]any{
		"strategy":  "ma_cross",
		"symbol":    "BTCUSDT",
		"timeframe": "1h",
		"space": map[string]any{
			"fast_ma": map[string]any{"min": 2, "max": 3, "step": 1, "type": "int"},
			"slow_ma": map[string]any{"min": 5, "max": 6, "step": 1, "type": "int"},
		},
		"search": map[string]any{
			"mode":       "grid",
			"min_trades": 1,
			"top_k":      3,
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		Run runstore.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Run.ID)
	assert.Equal(t, runstore.RunStatusPending, created.Run.Status)

	var final runstore.Run
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec = doJSON(t, router, http.MethodGet, "/api/runs/"+created.Run.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var detail struct {
			Run runstore.Run `json:"run"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		final = detail.Run
		if final.Status == runstore.RunStatusDone || final.Status == runstore.RunStatusFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, runstore.RunStatusDone, final.Status, "error=%s", final.Error)
	require.NotEmpty(t, final.Result)

	rec = doJSON(t, router, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Run.ID)

	rec = doJSON(t, router, http.MethodGet, "/api/runs/"+created.Run.ID+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "BTCUSDT")
}

func TestRunStartValidation(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/runs", map[string]any{"strategy": "ma_cross"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/runs", map[string]any{
		"strategy": "nope", "symbol": "BTCUSDT", "timeframe": "1h",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/fetch/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
