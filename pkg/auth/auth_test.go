package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
)

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(PrincipalFromContext(r.Context())))
	})
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), config.AuthConfig{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Middleware(echoPrincipal()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AnonymousPrincipal, rec.Body.String())
}

func TestMiddlewareStaticToken(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), config.AuthConfig{Enabled: true, Token: "sesame"}, nil)
	require.NoError(t, err)
	handler := a.Middleware(echoPrincipal())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OperatorPrincipal, rec.Body.String())

	for _, header := range []string{"", "Bearer wrong", "Basic sesame"} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestMiddlewareJWT(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	defer jwks.Close()

	cfg := config.AuthConfig{
		Enabled:  true,
		JWKSURL:  jwks.URL,
		Issuer:   "https://issuer.example.com",
		Audience: "maestro",
	}
	a, err := NewAuthenticator(context.Background(), cfg, nil)
	require.NoError(t, err)
	handler := a.Middleware(echoPrincipal())

	sign := func(mutate func(b *jwt.Builder)) string {
		b := jwt.NewBuilder().
			Issuer(cfg.Issuer).
			Audience([]string{cfg.Audience}).
			Subject("alice").
			IssuedAt(time.Now()).
			Expiration(time.Now().Add(time.Hour))
		if mutate != nil {
			mutate(b)
		}
		tok, err := b.Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
		require.NoError(t, err)
		return string(signed)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	rejected := map[string]string{
		"wrong issuer":   sign(func(b *jwt.Builder) { b.Issuer("https://other.example.com") }),
		"wrong audience": sign(func(b *jwt.Builder) { b.Audience([]string{"someone-else"}) }),
		"expired":        sign(func(b *jwt.Builder) { b.Expiration(time.Now().Add(-time.Minute)) }),
	}
	for name, token := range rejected {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}
