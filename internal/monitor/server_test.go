package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollingk/trader/internal/krx"
	"github.com/rollingk/trader/internal/ledger"
)

func TestHealthz(t *testing.T) {
	store := ledger.NewStore(t.TempDir(), "paper", "r1")
	srv := httptest.NewServer(NewServer(store).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestPositions_NotFoundWithoutSnapshot(t *testing.T) {
	store := ledger.NewStore(t.TempDir(), "paper", "r1")
	srv := httptest.NewServer(NewServer(store).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPositions_ServesLatestSnapshot(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 35, 0, 0, krx.KST)
	store := ledger.NewStore(t.TempDir(), "paper", "r1").WithClock(func() time.Time { return now })
	_, err := store.WriteSnapshot(ledger.Snapshot{
		TS:        now.Format(time.RFC3339),
		Positions: map[string]ledger.PositionReturns{},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(store).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap ledger.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, now.Format(time.RFC3339), snap.TS)
}

func TestMetricsEndpoint(t *testing.T) {
	store := ledger.NewStore(t.TempDir(), "paper", "r1")
	srv := httptest.NewServer(NewServer(store).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
