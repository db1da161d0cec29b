package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/driftwatch/internal/model"
	"github.com/sells-group/driftwatch/internal/monitoring"
	"github.com/sells-group/driftwatch/internal/store"
)

func newServeStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestRouter_Health(t *testing.T) {
	srv := httptest.NewServer(newRouter(newServeStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_Checks(t *testing.T) {
	st := newServeStore(t)
	ctx := context.Background()

	check, err := st.CreateCheck(ctx, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	check.Verdict = &model.DriftVerdict{Severity: model.SeverityWeak, Decision: model.DecisionSkip}
	require.NoError(t, st.CompleteCheck(ctx, check))

	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/checks")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var checks []model.CheckRun
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&checks))
		require.Len(t, checks, 1)
		assert.Equal(t, check.ID, checks[0].ID)
	})

	t.Run("by id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/checks/" + check.ID)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.CheckRun
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.NotNil(t, got.Verdict)
		assert.Equal(t, model.DecisionSkip, got.Verdict.Decision)
	})

	t.Run("unknown id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/checks/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var snap monitoring.MetricsSnapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
		assert.Equal(t, 1, snap.ChecksComplete)
		assert.Equal(t, 24, snap.LookbackHours)
	})

	t.Run("latest verdict", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/verdict/latest")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.CheckRun
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, check.ID, got.ID)
	})
}

func TestRouter_LatestVerdict_Empty(t *testing.T) {
	srv := httptest.NewServer(newRouter(newServeStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/verdict/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunServer_DrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-release
			w.WriteHeader(http.StatusOK)
		}),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- runServer(ctx, srv, ln) }()

	reqDone := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err == nil {
			resp.Body.Close()
		}
		reqDone <- err
	}()

	<-started
	cancel()

	// Shutdown must wait for the in-flight request, not abort it.
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-reqDone)
	require.NoError(t, <-serveDone)
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDay("29/08/2026")
	require.Error(t, err)
}
