package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// RefreshSkew is subtracted from a token's expiry so it is never used
	// close enough to the deadline to expire mid-request.
	RefreshSkew = 60 * time.Second
	// DefaultTTL applies when the auth endpoint omits expiresIn.
	DefaultTTL = 3600 * time.Second
	// ExchangeTimeout bounds one credential exchange.
	ExchangeTimeout = 30 * time.Second
)

// Token is a bearer credential for the read API. Expiry is the instant the
// portal stops accepting it.
type Token struct {
	Value  string
	Expiry time.Time
}

// Valid reports whether t may still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.Expiry.Add(-RefreshSkew))
}

// Grant is what a TokenSource hands back: the token and its lifetime.
type Grant struct {
	AccessToken string
	TTL         time.Duration
}

// TokenSource exchanges credentials for a fresh grant.
type TokenSource interface {
	Exchange(ctx context.Context) (Grant, error)
}

// TokenCache holds a single token and refreshes it lazily. Concurrent
// callers that find it stale share one exchange.
type TokenCache struct {
	source    TokenSource
	now       func() time.Time
	onRefresh func(err error)
	mu        sync.RWMutex
	current   Token
	group     singleflight.Group
	logger    *slog.Logger
}

// CacheOption configures a TokenCache.
type CacheOption func(*TokenCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithRefreshHook is called after every exchange with its error (nil on
// success).
func WithRefreshHook(fn func(err error)) CacheOption {
	return func(c *TokenCache) { c.onRefresh = fn }
}

func NewTokenCache(source TokenSource, opts ...CacheOption) *TokenCache {
	c := &TokenCache{
		source: source,
		now:    time.Now,
		logger: slog.Default().With("component", "token-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token while it is valid and exchanges
// credentials otherwise.
func (c *TokenCache) Token(ctx context.Context) (Token, error) {
	c.mu.RLock()
	tok := c.current
	c.mu.RUnlock()
	if tok.Valid(c.now()) {
		return tok, nil
	}

	// The exchange outlives any one caller so a dropped request cannot fail
	// the others waiting on it.
	ch := c.group.DoChan("token", func() (any, error) {
		c.mu.RLock()
		tok := c.current
		c.mu.RUnlock()
		if tok.Valid(c.now()) {
			return tok, nil
		}
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ExchangeTimeout)
		defer cancel()
		return c.refresh(exCtx)
	})
	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

func (c *TokenCache) refresh(ctx context.Context) (Token, error) {
	issued := c.now()
	grant, err := c.source.Exchange(ctx)
	if err == nil && grant.AccessToken == "" {
		err = &AuthError{Reason: "auth response carried no access token"}
	}
	if c.onRefresh != nil {
		c.onRefresh(err)
	}
	if err != nil {
		c.logger.Error("token exchange failed", "error", err)
		return Token{}, err
	}
	ttl := grant.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tok := Token{Value: grant.AccessToken, Expiry: issued.Add(ttl)}
	c.mu.Lock()
	c.current = tok
	c.mu.Unlock()
	c.logger.Info("token refreshed", "expires_at", tok.Expiry, "ttl", ttl)
	return tok, nil
}

// CredentialSource exchanges an API key and secret at {baseURL}/auth/token.
type CredentialSource struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
}

type tokenRequest struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (s *CredentialSource) Exchange(ctx context.Context) (Grant, error) {
	if s.APIKey == "" || s.APISecret == "" {
		return Grant{}, &AuthError{Reason: "api key and secret are not configured"}
	}
	body, err := json.Marshal(tokenRequest{APIKey: s.APIKey, APISecret: s.APISecret})
	if err != nil {
		return Grant{}, fmt.Errorf("marshaling token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.BaseURL, "/")+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return Grant{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Grant{}, &AuthError{Reason: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Grant{}, &AuthError{Status: resp.StatusCode, Reason: truncate(string(raw), 256)}
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Grant{}, &AuthError{Status: resp.StatusCode, Reason: "decoding auth response: " + err.Error()}
	}
	return Grant{AccessToken: tr.AccessToken, TTL: time.Duration(tr.ExpiresIn) * time.Second}, nil
}
