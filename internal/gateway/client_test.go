package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
)

func newTestSession(t *testing.T) *SessionManager {
	t.Helper()
	s, err := store.NewSQLiteStore(config.StorageConfig{
		FilePath: filepath.Join(t.TempDir(), "session.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewSessionManager(s)
}

func newTestGateway(t *testing.T, upstream *httptest.Server, callbacks Callbacks) (*Gateway, *SessionManager) {
	t.Helper()
	session := newTestSession(t)
	cfg := config.UpstreamConfig{
		BaseURL:     upstream.URL,
		Timeout:     "5s",
		RefreshPath: "/auth/refresh-token",
		LoginPath:   "/auth/login",
		ExemptPaths: []string{"/auth/login", "/auth/register"},
	}
	return New(cfg, session, callbacks), session
}

func TestSingleFlightRefresh(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(100 * time.Millisecond) // hold callers in the shared refresh
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rt-old", req.RefreshToken)
		json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  "at-new",
			"refreshToken": "rt-new",
		})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	g, session := newTestGateway(t, upstream, Callbacks{})
	session.SetTokens(context.Background(), "at-stale", "rt-old")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Do(context.Background(), http.MethodGet, "/orders", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, int32(1), refreshCalls.Load())
	require.Equal(t, "at-new", session.AccessToken(context.Background()))
	require.Equal(t, "rt-new", session.RefreshToken(context.Background()))
}

func TestCallerCancellationDoesNotAbortSharedRefresh(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  "at-new",
			"refreshToken": "rt-new",
		})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	var loggedOut atomic.Bool
	g, session := newTestGateway(t, upstream, Callbacks{
		OnLogout: func() { loggedOut.Store(true) },
	})
	session.SetTokens(context.Background(), "at-stale", "rt-old")

	// The first caller starts the refresh, then aborts its own request while
	// the refresh is still in flight. A second caller with a live context
	// joins the same refresh.
	electedCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var electedErr, joinedErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, electedErr = g.Do(electedCtx, http.MethodGet, "/orders", nil)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		_, joinedErr = g.Do(context.Background(), http.MethodGet, "/orders", nil)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	// The canceled caller fails on its own retry, but never as an expired
	// session: the refresh token was valid and the upstream accepted it.
	require.Error(t, electedErr)
	require.NotErrorIs(t, electedErr, ErrSessionExpired)
	require.NoError(t, joinedErr)

	require.False(t, loggedOut.Load())
	require.Equal(t, int32(1), refreshCalls.Load())
	require.Equal(t, "at-new", session.AccessToken(context.Background()))
	require.Equal(t, "rt-new", session.RefreshToken(context.Background()))
}

type recordedConnectivity struct {
	mu   sync.Mutex
	seen []bool
}

func (r *recordedConnectivity) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, online)
}

func (r *recordedConnectivity) last() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return false, false
	}
	return r.seen[len(r.seen)-1], true
}

func TestRequestPathFeedsConnectivity(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	obs := &recordedConnectivity{}
	g, _ := newTestGateway(t, upstream, Callbacks{})
	g.ObserveConnectivity(obs)

	// Any HTTP answer, even an error status, proves the link is up.
	_, err := g.Do(context.Background(), http.MethodGet, "/menu-items", nil)
	require.Error(t, err)
	online, ok := obs.last()
	require.True(t, ok)
	require.True(t, online)
}

func TestTransportFailureFeedsConnectivity(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // unreachable from here on

	obs := &recordedConnectivity{}
	g, _ := newTestGateway(t, upstream, Callbacks{})
	g.ObserveConnectivity(obs)

	_, err := g.Do(context.Background(), http.MethodGet, "/menu-items", nil)
	require.Error(t, err)
	online, ok := obs.last()
	require.True(t, ok)
	require.False(t, online)
}

func TestCanceledRequestIsNoConnectivitySignal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer upstream.Close()

	obs := &recordedConnectivity{}
	g, _ := newTestGateway(t, upstream, Callbacks{})
	g.ObserveConnectivity(obs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.Do(ctx, http.MethodGet, "/menu-items", nil)
	require.Error(t, err)
	_, ok := obs.last()
	require.False(t, ok)
}

func TestExempt401PassesThrough(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad credentials"}`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	g, _ := newTestGateway(t, upstream, Callbacks{})

	_, err := g.Do(context.Background(), http.MethodPost, "/auth/login", map[string]string{"email": "x"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.Status)
	require.Equal(t, int32(0), refreshCalls.Load())
}

func TestRefreshRejectionLogsOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	var loggedOut atomic.Bool
	g, session := newTestGateway(t, upstream, Callbacks{
		OnLogout: func() { loggedOut.Store(true) },
	})
	session.SetTokens(context.Background(), "at", "rt")

	_, err := g.Do(context.Background(), http.MethodGet, "/orders", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.True(t, loggedOut.Load())
	require.Empty(t, session.AccessToken(context.Background()))
	require.Empty(t, session.RefreshToken(context.Background()))
}

func TestFailedRefreshDoesNotWedgeLaterCalls(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	g, session := newTestGateway(t, upstream, Callbacks{})

	session.SetTokens(context.Background(), "at", "rt")
	_, err := g.Do(context.Background(), http.MethodGet, "/orders", nil)
	require.ErrorIs(t, err, ErrSessionExpired)

	// A second attempt must start its own refresh, not wait on a dead one.
	session.SetTokens(context.Background(), "at", "rt")
	_, err = g.Do(context.Background(), http.MethodGet, "/orders", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, int32(2), refreshCalls.Load())
}

func TestSubscriptionExpiredBypassesRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"SUBSCRIPTION_EXPIRED","message":"renew your plan"}}`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	var redirected atomic.Bool
	g, session := newTestGateway(t, upstream, Callbacks{
		OnSubscriptionExpired: func() { redirected.Store(true) },
	})
	session.SetTokens(context.Background(), "at", "rt")

	_, err := g.Do(context.Background(), http.MethodGet, "/orders", nil)
	require.ErrorIs(t, err, ErrSubscriptionExpired)
	require.True(t, redirected.Load())
	require.Equal(t, int32(0), refreshCalls.Load())
}

func TestProceedsWithoutTokenWhenNoSession(t *testing.T) {
	var sawAuth atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/menu-items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			sawAuth.Store(true)
		}
		w.Write([]byte(`[]`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	g, _ := newTestGateway(t, upstream, Callbacks{})

	body, err := g.Do(context.Background(), http.MethodGet, "/menu-items", nil)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(body))
	require.False(t, sawAuth.Load())
}

func TestLoginStoresSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"accessToken":  "at-1",
				"refreshToken": "rt-1",
				"user":         map[string]string{"id": "u1", "role": "manager"},
			},
		})
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	g, session := newTestGateway(t, upstream, Callbacks{})

	_, err := g.Login(context.Background(), map[string]string{"email": "a", "password": "b"})
	require.NoError(t, err)
	require.Equal(t, "at-1", session.AccessToken(context.Background()))
	require.Equal(t, "rt-1", session.RefreshToken(context.Background()))
	require.JSONEq(t, `{"id":"u1","role":"manager"}`, string(session.User()))
}

func TestSessionMirrorFallback(t *testing.T) {
	// Tokens written by one manager are visible to a fresh one over the same
	// store, simulating a process restart.
	s, err := store.NewSQLiteStore(config.StorageConfig{
		FilePath: filepath.Join(t.TempDir(), "session.db"),
	})
	require.NoError(t, err)
	defer s.Close()

	first := NewSessionManager(s)
	first.SetTokens(context.Background(), "at-1", "rt-1")

	second := NewSessionManager(s)
	require.Equal(t, "at-1", second.AccessToken(context.Background()))
	require.Equal(t, "rt-1", second.RefreshToken(context.Background()))
}
