package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestStaticSourceHonoursJWTExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	opaque := NewStaticSource("  opaque-token ")
	tok, err := opaque.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "opaque-token", tok)

	_, err = NewStaticSource("").Token(context.Background())
	require.ErrorIs(t, err, ErrNoSession)

	valid := NewStaticSource(signedJWT(t, now.Add(time.Hour)))
	valid.now = func() time.Time { return now }
	_, err = valid.Token(context.Background())
	require.NoError(t, err)

	expired := NewStaticSource(signedJWT(t, now.Add(-time.Minute)))
	expired.now = func() time.Time { return now }
	_, err = expired.Token(context.Background())
	require.ErrorIs(t, err, ErrExpired)
}

func TestFileStoreRoundTripIsSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bin")
	key := bytes.Repeat([]byte{7}, 32)
	store, err := NewFileStore(path, key)
	require.NoError(t, err)

	_, err = store.Token(context.Background())
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, store.Save(Token{AccessToken: "secret-access", Expiry: time.Now().Add(time.Hour)}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-access")

	tok, err := store.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "secret-access", tok)

	other, err := NewFileStore(path, bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	_, err = other.Load()
	require.Error(t, err)

	require.NoError(t, store.Save(Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}))
	_, err = store.Token(context.Background())
	require.ErrorIs(t, err, ErrExpired)

	_, err = NewFileStore(path, []byte("short"))
	require.Error(t, err)
}

func TestOAuth2SourceReusesAndPersistsTokens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "session.bin"), bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	cfg := OAuth2Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"}

	src := NewOAuth2Source(cfg, store, discardLogger())
	for i := 0; i < 3; i++ {
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "cc-token", tok)
	}
	require.EqualValues(t, 1, hits.Load())

	restarted := NewOAuth2Source(cfg, store, discardLogger())
	tok, err := restarted.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cc-token", tok)
	require.EqualValues(t, 1, hits.Load())
}

func TestOAuth2SourceLogsPersistFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	store, err := NewFileStore(filepath.Join(blocker, "session.bin"), bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	var logs bytes.Buffer
	src := NewOAuth2Source(OAuth2Config{TokenURL: srv.URL, ClientID: "id"}, store, slog.New(slog.NewTextHandler(&logs, nil)))

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cc-token", tok)
	require.Contains(t, logs.String(), "persist session token failed")
}

func TestOAuth2SourceBoundsSlowTokenEndpoint(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := OAuth2Config{TokenURL: srv.URL, ClientID: "id", Timeout: 50 * time.Millisecond}
	_, err := NewOAuth2Source(cfg, nil, discardLogger()).Token(context.Background())
	require.Error(t, err)

	cfg.Timeout = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = NewOAuth2Source(cfg, nil, discardLogger()).Token(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "device", "exp": exp.Unix()})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}
