// Package gateway wraps every outbound call to the back-office API: it
// attaches the bearer token, unwraps the encrypted response envelope, and on
// auth expiry coordinates a single token refresh shared by all concurrent
// callers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
)

var (
	// ErrSessionExpired means the refresh token was rejected or unusable;
	// the session has been cleared and the operator must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrSubscriptionExpired is an authoritative business rejection, not an
	// auth expiry; no refresh is attempted.
	ErrSubscriptionExpired = errors.New("subscription expired")
)

const subscriptionExpiredCode = "SUBSCRIPTION_EXPIRED"

// HTTPError is a non-2xx upstream response passed through to the caller.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.Status)
}

// Callbacks are the hard-transition hooks: the UI layer redirects on these.
type Callbacks struct {
	OnLogout              func()
	OnSubscriptionExpired func()
}

// ConnectivityObserver receives connectivity observations from the request
// path: a transport failure is a strong offline hint, any HTTP answer proof
// the link is up.
type ConnectivityObserver interface {
	SetOnline(online bool)
}

type Gateway struct {
	client      *http.Client
	baseURL     string
	secret      string
	refreshPath string
	loginPath   string
	exemptPaths []string

	session *SessionManager
	refresh singleflight.Group

	callbacks    Callbacks
	connectivity ConnectivityObserver
}

func New(cfg config.UpstreamConfig, session *SessionManager, callbacks Callbacks) *Gateway {
	return &Gateway{
		client:      &http.Client{Timeout: cfg.GetTimeout()},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secret:      cfg.EnvelopeSecret,
		refreshPath: cfg.RefreshPath,
		loginPath:   cfg.LoginPath,
		exemptPaths: cfg.ExemptPaths,
		session:     session,
		callbacks:   callbacks,
	}
}

// ObserveConnectivity registers an observer fed from every outbound request,
// so offline detection does not wait for the next scheduled probe.
func (g *Gateway) ObserveConnectivity(o ConnectivityObserver) {
	g.connectivity = o
}

// Do performs an authenticated request and returns the (envelope-decoded)
// response body. On a 401 for a non-exempt path it joins or starts the shared
// refresh, then retries the original call exactly once.
func (g *Gateway) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	token := g.session.AccessToken(ctx)
	status, respBody, err := g.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if status >= 200 && status < 300 {
		return DecodeEnvelope(respBody, g.secret), nil
	}

	if isSubscriptionExpired(respBody) {
		if g.callbacks.OnSubscriptionExpired != nil {
			g.callbacks.OnSubscriptionExpired()
		}
		return nil, ErrSubscriptionExpired
	}

	if status != http.StatusUnauthorized || g.isExempt(path) {
		// An exempt 401 means bad credentials, not an expired session.
		return nil, &HTTPError{Status: status, Body: respBody}
	}

	newToken, err := g.refreshToken(ctx)
	if err != nil {
		return nil, err
	}

	status, respBody, err = g.send(ctx, method, path, body, newToken)
	if err != nil {
		return nil, err
	}
	if status >= 200 && status < 300 {
		return DecodeEnvelope(respBody, g.secret), nil
	}
	return nil, &HTTPError{Status: status, Body: respBody}
}

// Login authenticates against the exempt login endpoint and installs the
// resulting session (tokens plus identity claims).
func (g *Gateway) Login(ctx context.Context, credentials any) (json.RawMessage, error) {
	body, err := g.Do(ctx, http.MethodPost, g.loginPath, credentials)
	if err != nil {
		return nil, err
	}

	accessToken, refreshToken, err := UnwrapTokenPair(body)
	if err != nil {
		return nil, fmt.Errorf("login response: %w", err)
	}
	g.session.SetTokens(ctx, accessToken, refreshToken)

	if entity, err := UnwrapEntity(body); err == nil {
		var payload struct {
			User json.RawMessage `json:"user"`
		}
		if json.Unmarshal(entity, &payload) == nil && len(payload.User) > 0 {
			g.session.SetUser(ctx, payload.User)
		}
	}
	return body, nil
}

// CurrentUser returns the identity claims of the logged-in session, or nil.
func (g *Gateway) CurrentUser() json.RawMessage {
	return g.session.User()
}

// refreshToken elects exactly one in-flight refresh; concurrent callers share
// its outcome. singleflight clears the in-flight slot on every exit path, so a
// failed refresh cannot wedge later calls.
//
// The refresh itself runs detached from the elected caller's context: its
// outcome is shared state, and a caller aborting its own request mid-refresh
// must not read as a rejected refresh token. The HTTP client timeout still
// bounds the detached call.
func (g *Gateway) refreshToken(ctx context.Context) (string, error) {
	refreshCtx := context.WithoutCancel(ctx)
	v, err, shared := g.refresh.Do("refresh", func() (any, error) {
		return g.doRefresh(refreshCtx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Log.Debug("Joined in-flight token refresh")
	}
	return v.(string), nil
}

func (g *Gateway) doRefresh(ctx context.Context) (string, error) {
	refreshToken := g.session.RefreshToken(ctx)
	if refreshToken == "" {
		g.forceLogout(ctx)
		return "", ErrSessionExpired
	}

	status, body, err := g.send(ctx, http.MethodPost, g.refreshPath, map[string]string{
		"refreshToken": refreshToken,
	}, "")
	if err != nil {
		logger.Log.Error("Token refresh request failed", zap.Error(err))
		g.forceLogout(ctx)
		return "", ErrSessionExpired
	}

	// A 401 from the refresh endpoint itself is terminal: retrying would
	// recurse forever on a dead refresh token.
	if status < 200 || status >= 300 {
		logger.Log.Warn("Token refresh rejected", zap.Int("status", status))
		g.forceLogout(ctx)
		return "", ErrSessionExpired
	}

	accessToken, newRefreshToken, err := UnwrapTokenPair(DecodeEnvelope(body, g.secret))
	if err != nil {
		logger.Log.Error("Token refresh response unparseable", zap.Error(err))
		g.forceLogout(ctx)
		return "", ErrSessionExpired
	}

	g.session.SetTokens(ctx, accessToken, newRefreshToken)
	logger.Log.Info("Access token refreshed")
	return accessToken, nil
}

func (g *Gateway) forceLogout(ctx context.Context) {
	g.session.Clear(ctx)
	if g.callbacks.OnLogout != nil {
		g.callbacks.OnLogout()
	}
}

func (g *Gateway) send(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// A caller-side cancellation says nothing about the link.
		if g.connectivity != nil && ctx.Err() == nil {
			g.connectivity.SetOnline(false)
		}
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if g.connectivity != nil {
		g.connectivity.SetOnline(true)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (g *Gateway) isExempt(path string) bool {
	for _, exempt := range g.exemptPaths {
		if path == exempt || strings.HasPrefix(path, exempt+"/") {
			return true
		}
	}
	return false
}

func isSubscriptionExpired(body []byte) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return false
	}
	for _, field := range []string{"code", "errorCode"} {
		var code string
		if json.Unmarshal(obj[field], &code) == nil && code == subscriptionExpiredCode {
			return true
		}
	}
	var nested struct {
		Code string `json:"code"`
	}
	return json.Unmarshal(obj["error"], &nested) == nil && nested.Code == subscriptionExpiredCode
}
