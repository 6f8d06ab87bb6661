package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures the client credentials flow.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// OAuth2Source obtains tokens with the client credentials grant and reuses
// them until they expire. When a store is supplied, fetched tokens survive
// restarts.
type OAuth2Source struct {
	src oauth2.TokenSource
}

// NewOAuth2Source builds a token source; store may be nil.
func NewOAuth2Source(cfg OAuth2Config, store *FileStore, logger *slog.Logger) *OAuth2Source {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	// The token endpoint is reached through a bounded client instead of
	// http.DefaultClient.
	fetchCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	var base oauth2.TokenSource = cc.TokenSource(fetchCtx)
	var initial *oauth2.Token
	if store != nil {
		base = &savingSource{base: base, store: store, logger: logger.With("component", "session.oauth2")}
		if tok, err := store.Load(); err == nil && tok.Valid(time.Now()) {
			initial = &oauth2.Token{AccessToken: tok.AccessToken, TokenType: "Bearer", Expiry: tok.Expiry}
		}
	}
	return &OAuth2Source{src: oauth2.ReuseTokenSource(initial, base)}
}

// Token returns a valid access token, fetching a new one when needed. It
// stops waiting when ctx ends; an abandoned fetch still ends at the client
// timeout.
func (s *OAuth2Source) Token(ctx context.Context) (string, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := s.src.Token()
		ch <- result{tok: tok, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return r.tok.AccessToken, nil
	}
}

type savingSource struct {
	base   oauth2.TokenSource
	store  *FileStore
	logger *slog.Logger
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}); err != nil {
		s.logger.Warn("persist session token failed", "error", err)
	}
	return tok, nil
}
