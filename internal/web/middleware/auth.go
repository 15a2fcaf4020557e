package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/logging"
)

// Scope is what an API key may do. Scopes are ordered: a key holding
// ScopeLedger may also stage.
type Scope int

const (
	ScopeNone Scope = iota
	// ScopeStage reads formats and imports and drives an import up to
	// preview.
	ScopeStage
	// ScopeLedger additionally publishes and reverts imports.
	ScopeLedger
)

func (s Scope) String() string {
	switch s {
	case ScopeStage:
		return "stage"
	case ScopeLedger:
		return "ledger"
	}
	return "none"
}

func (s Scope) action() string {
	if s == ScopeLedger {
		return "publish or revert imports"
	}
	return "stage imports"
}

type scopeKey struct{}

// ScopeFrom returns the scope APIKeys granted the request.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// keyring holds the configured keys per scope.
type keyring struct {
	stage  [][]byte
	ledger [][]byte
}

func newKeyring(cfg *config.SecurityConfig) keyring {
	var k keyring
	for _, key := range cfg.APIKeys {
		k.stage = append(k.stage, []byte(key))
	}
	for _, key := range cfg.PublishAPIKeys {
		k.ledger = append(k.ledger, []byte(key))
	}
	return k
}

// scope compares key against every configured key so the time taken does
// not depend on which key matched.
func (k keyring) scope(key string) Scope {
	b := []byte(key)
	stage, ledger := 0, 0
	for _, c := range k.stage {
		stage |= subtle.ConstantTimeCompare(b, c)
	}
	for _, c := range k.ledger {
		ledger |= subtle.ConstantTimeCompare(b, c)
	}
	switch {
	case ledger == 1:
		return ScopeLedger
	case stage == 1:
		return ScopeStage
	}
	return ScopeNone
}

// APIKeys authenticates the X-API-Key header and records the key's scope
// on the request context. Keys from API_KEYS get ScopeStage, keys from
// PUBLISH_API_KEYS get ScopeLedger. With RequireAPIKey off every request
// gets ScopeLedger.
func APIKeys(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys := newKeyring(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := ScopeLedger
			if cfg.RequireAPIKey {
				key := r.Header.Get("X-API-Key")
				if key == "" {
					deny(w, r, http.StatusUnauthorized, "AUTH001", "missing API key")
					return
				}
				if scope = keys.scope(key); scope == ScopeNone {
					deny(w, r, http.StatusForbidden, "AUTH002", "invalid API key")
					return
				}
			}
			noteScope(r.Context(), scope)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
		})
	}
}

// RequireScope rejects requests whose key lacks want. It must run after
// APIKeys.
func RequireScope(want Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ScopeFrom(r.Context()) < want {
				deny(w, r, http.StatusForbidden, "AUTH003", "API key is not allowed to "+want.action())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	logging.FromContext(r.Context()).Warn("auth: "+msg,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ClientIP(r),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
