// Package auth guards the HTTP surface with bearer tokens: either a
// static operator token or JWTs verified against a JWKS endpoint.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/maestro-dev/maestro/pkg/config"
)

type contextKey struct{}

// AnonymousPrincipal identifies requests when authentication is
// disabled.
const AnonymousPrincipal = "anonymous"

// OperatorPrincipal identifies requests authenticated with the static
// token.
const OperatorPrincipal = "operator"

// WithPrincipal attaches the authenticated principal to the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, contextKey{}, principal)
}

// PrincipalFromContext returns the authenticated principal, or the
// anonymous principal when none was attached.
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(contextKey{}).(string); ok && p != "" {
		return p
	}
	return AnonymousPrincipal
}

// Authenticator validates bearer tokens. With a JWKS URL configured it
// keeps a refreshing key set; otherwise it compares against the static
// token in constant time.
type Authenticator struct {
	cfg    config.AuthConfig
	keySet jwk.Set
	logger *slog.Logger
}

func NewAuthenticator(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{cfg: cfg, logger: logger.With("component", "auth")}

	if cfg.Enabled && cfg.JWKSURL != "" {
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		a.keySet = jwk.NewCachedSet(cache, cfg.JWKSURL)
	}
	return a, nil
}

// Authenticate resolves a bearer token to a principal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	if a.cfg.Token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.Token)) == 1 {
		return OperatorPrincipal, nil
	}

	if a.keySet != nil {
		opts := []jwt.ParseOption{
			jwt.WithKeySet(a.keySet),
			jwt.WithValidate(true),
		}
		if a.cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
		}
		if a.cfg.Audience != "" {
			opts = append(opts, jwt.WithAudience(a.cfg.Audience))
		}

		parsed, err := jwt.Parse([]byte(token), opts...)
		if err != nil {
			return "", fmt.Errorf("token rejected: %w", err)
		}
		if parsed.Subject() == "" {
			return "", fmt.Errorf("token carries no subject")
		}
		return parsed.Subject(), nil
	}

	return "", fmt.Errorf("token rejected")
}

// Middleware enforces bearer authentication and attaches the principal
// to the request context. Disabled auth passes everything through as
// the anonymous principal.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), AnonymousPrincipal)))
			return
		}

		principal, err := a.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			a.logger.Warn("request rejected", "remote", r.RemoteAddr, "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
