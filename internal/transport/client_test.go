package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalcache/internal/models"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:         baseURL,
		AuthToken:       "tok-1",
		RPS:             1000,
		Burst:           1000,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	})
}

func TestClient_FetchList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/signals", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "BTC-USD", r.URL.Query().Get("market"))
		assert.Equal(t, "70", r.URL.Query().Get("min_score"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		_ = json.NewEncoder(w).Encode(models.ListResult{
			Signals:    []models.Signal{{ID: "a", Market: "BTC-USD"}},
			TotalCount: 41,
		})
	}))
	defer srv.Close()

	lr, err := testClient(srv.URL).FetchList(context.Background(), models.ListQuery{
		Market: "BTC-USD", MinScore: 70, Page: 2, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 41, lr.TotalCount)
	require.Len(t, lr.Signals, 1)
	assert.Equal(t, "a", lr.Signals[0].ID)
}

func TestClient_FetchDetailAbsentOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, ok, err := testClient(srv.URL).FetchDetail(context.Background(), "ghost")
	require.NoError(t, err, "404 is absence, not an error")
	assert.False(t, ok)
}

func TestClient_MutateSaved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/signals/sig-1/saved", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]bool{"saved": true})
	}))
	defer srv.Close()

	saved, err := testClient(srv.URL).MutateSaved(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestClient_FetchAggregate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analytics/summary", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.Aggregate{TotalSignals: 12, AverageScore: 66.5})
	}))
	defer srv.Close()

	agg, err := testClient(srv.URL).FetchAggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, agg.TotalSignals)
	assert.Equal(t, 66.5, agg.AverageScore)
}

func TestClient_BreakerOpensOnConsecutiveUpstreamFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := c.FetchAggregate(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, int64(3), hits.Load())

	_, err := c.FetchAggregate(context.Background())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), hits.Load(), "open breaker short-circuits without hitting upstream")
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 10; i++ {
		_, ok, err := c.FetchDetail(context.Background(), "ghost")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	// Breaker still closed: a real request goes through.
	_, _, err := c.FetchDetail(context.Background(), "ghost")
	assert.NoError(t, err)
}
