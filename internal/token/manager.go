// Package token owns the two credentials every mutating call needs: the
// long-lived JWT (externally issued) and the rotating short-lived CSRF token.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/cachestore"
	"github.com/starford/laguz/internal/transport"
)

// expirySkew: a JWT expiring within this margin is treated as already absent.
const expirySkew = 10 * time.Second

// CSRFPath is the token refresh endpoint.
const CSRFPath = "/csrf"

// Manager produces valid credentials, transparently refreshing the CSRF
// token when stale. It does not refresh the JWT: absence signals the caller
// must re-authenticate.
type Manager struct {
	cache *cachestore.Store
	tr    transport.Transport
	group singleflight.Group
	now   func() time.Time
}

// NewManager creates a token manager backed by the given cache and transport.
func NewManager(cache *cachestore.Store, tr transport.Transport) *Manager {
	return &Manager{cache: cache, tr: tr, now: time.Now}
}

// AuthToken returns the persisted JWT if its embedded expiry is more than
// expirySkew in the future. An expired or structurally invalid token is
// evicted and apperr.ErrUnauthorized returned; a structural decode failure
// additionally clears the user profile.
func (m *Manager) AuthToken() (string, error) {
	tok, ok, err := m.cache.AuthToken()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.ErrUnauthorized
	}

	// Expiry inspection only: verification is the server's job, the client
	// has no signing key.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		slog.Warn("stored auth token is malformed, clearing session", slog.String("error", err.Error()))
		if cerr := m.cache.ClearSession(); cerr != nil {
			return "", cerr
		}
		return "", apperr.ErrUnauthorized
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		slog.Warn("stored auth token has no usable expiry, clearing session")
		if cerr := m.cache.ClearSession(); cerr != nil {
			return "", cerr
		}
		return "", apperr.ErrUnauthorized
	}
	if m.now().Add(expirySkew).After(exp.Time) {
		if err := m.cache.ClearAuthToken(); err != nil {
			return "", err
		}
		return "", apperr.ErrUnauthorized
	}
	return tok, nil
}

// CSRFToken returns a CSRF token, refreshing from the server when the cached
// one is absent or forceRefresh is set. Concurrent callers during a refresh
// share a single network request. When the refresh fails at the network
// level, the last known token is returned even if nominally expired; only if
// none was ever obtained does the failure propagate.
func (m *Manager) CSRFToken(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		tok, ok, err := m.cache.CSRFToken(false)
		if err != nil {
			return "", err
		}
		if ok && tok != "" {
			return tok, nil
		}
	}

	v, err, _ := m.group.Do("csrf-refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	headers := map[string]string{}
	if jwt, err := m.AuthToken(); err == nil {
		headers["Authorization"] = "Bearer " + jwt
	}

	resp, err := m.tr.Execute(ctx, http.MethodGet, CSRFPath, nil, headers)
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) {
			if se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden {
				return "", apperr.ErrUnauthorized
			}
			return "", fmt.Errorf("token: csrf refresh: %w", err)
		}
		// Network failure: a stale token beats no token.
		if tok, ok, cerr := m.cache.CSRFToken(true); cerr == nil && ok && tok != "" {
			slog.Debug("csrf refresh unreachable, using last known token")
			return tok, nil
		}
		return "", fmt.Errorf("token: csrf refresh: %w", apperr.ErrOffline)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := resp.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token: csrf refresh: empty token in response")
	}
	if err := m.cache.SaveCSRFToken(payload.Token); err != nil {
		return "", err
	}
	return payload.Token, nil
}

// SetCSRFToken unconditionally overwrites and persists the CSRF token, used
// when the server supplies a fresh one as a side channel of another response.
func (m *Manager) SetCSRFToken(token string) error {
	if token == "" {
		return nil
	}
	return m.cache.SaveCSRFToken(token)
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
