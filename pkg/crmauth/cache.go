/**
 * @description
 * TokenCache hands out the CRM access token. It checks an in-process memo
 * first, then the shared TokenStore, and only refreshes over the network when
 * neither holds a token with at least 30s of life left. Refreshes that hit the
 * issuer's rate limit are retried with exponential backoff and jitter.
 *
 * @dependencies
 * - golang.org/x/oauth2: Token type and bearer header handling.
 * - golang.org/x/sync/singleflight: Collapses concurrent refreshes in one process.
 * - github.com/cenkalti/backoff/v4: Retry loop for rate-limited refreshes.
 */
package crmauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var (
	ErrAuthProtocol      = errors.New("crm auth: no access_token in response")
	ErrAuthRefreshFailed = errors.New("crm auth: token refresh failed")

	errRateLimited = errors.New("crm auth: rate limited")
)

const (
	checkBuffer      = 30 * time.Second
	refreshBuffer    = 60 * time.Second
	minLifetime      = 60 * time.Second
	defaultExpiresIn = 3600
	refreshTimeout   = 90 * time.Second

	MaxRefreshAttempts = 4
	BaseRetryDelay     = 700 * time.Millisecond
	MaxRetryJitter     = 250 * time.Millisecond

	DefaultCacheKey = "crm.access_token"
)

var rateLimitPhrases = []string{
	"too many requests",
	"please try again after some time",
}

// Config holds the OAuth refresh-token grant parameters.
type Config struct {
	AccountsBaseURL string
	TokenEndpoint   string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	CacheKey        string
	// TokenType is sent in the Authorization header. Defaults to Bearer.
	TokenType string
}

func (c Config) tokenURL() string {
	return strings.TrimRight(c.AccountsBaseURL, "/") + "/" + strings.TrimLeft(c.TokenEndpoint, "/")
}

// TokenCache is safe for concurrent use.
type TokenCache struct {
	cfg        Config
	store      TokenStore
	httpClient *http.Client
	logger     *slog.Logger
	group      singleflight.Group

	mu   sync.RWMutex
	memo *oauth2.Token

	now       func() time.Time
	baseDelay time.Duration
	jitter    func() time.Duration

	refreshTimeout time.Duration
}

// NewTokenCache builds a TokenCache. A nil store falls back to a process-local one.
func NewTokenCache(cfg Config, store TokenStore, httpClient *http.Client, logger *slog.Logger) *TokenCache {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.CacheKey) == "" {
		cfg.CacheKey = DefaultCacheKey
	}
	if strings.TrimSpace(cfg.TokenType) == "" {
		cfg.TokenType = "Bearer"
	}
	return &TokenCache{
		cfg:        cfg,
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		baseDelay:  BaseRetryDelay,
		jitter:     func() time.Duration { return rand.N(MaxRetryJitter + 1) },

		refreshTimeout: refreshTimeout,
	}
}

// AccessToken returns a token with more than 30s of life left.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.BearerToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// BearerToken returns a copy of the current token, refreshing it if needed.
// The shared refresh is detached from any single caller: a cancelled caller
// returns early while the others keep waiting on the result.
func (c *TokenCache) BearerToken(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.memoToken(); tok != nil {
		return tok, nil
	}

	ch := c.group.DoChan(c.cfg.CacheKey, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		if tok := c.memoToken(); tok != nil {
			return tok, nil
		}
		if tok := c.sharedToken(refreshCtx); tok != nil {
			c.setMemo(tok)
			return tok, nil
		}
		return c.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tok := *res.Val.(*oauth2.Token)
		return &tok, nil
	}
}

// Reset drops the in-process memo. The shared store is left untouched.
func (c *TokenCache) Reset() {
	c.mu.Lock()
	c.memo = nil
	c.mu.Unlock()
}

func (c *TokenCache) fresh(expiresAt time.Time) bool {
	return c.now().Add(checkBuffer).Before(expiresAt)
}

func (c *TokenCache) memoToken() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.memo == nil || !c.fresh(c.memo.Expiry) {
		return nil
	}
	tok := *c.memo
	return &tok
}

func (c *TokenCache) setMemo(tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *tok
	c.memo = &cp
}

func (c *TokenCache) sharedToken(ctx context.Context) *oauth2.Token {
	stored, err := c.store.Get(ctx, c.cfg.CacheKey)
	if err != nil {
		c.logger.Warn("shared token store read failed", "error", err)
		return nil
	}
	if stored == nil || stored.Token == "" || !c.fresh(stored.ExpiresAt) {
		return nil
	}
	return &oauth2.Token{AccessToken: stored.Token, TokenType: c.cfg.TokenType, Expiry: stored.ExpiresAt}
}

func (c *TokenCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	now := c.now()
	accessToken, expiresIn, err := c.requestToken(ctx)
	if err != nil {
		return nil, err
	}

	lifetime := time.Duration(expiresIn) * time.Second
	tok := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   c.cfg.TokenType,
		Expiry:      now.Add(max(minLifetime, lifetime) - refreshBuffer),
	}

	if ttl := lifetime - refreshBuffer; ttl > 0 {
		stored := StoredToken{Token: tok.AccessToken, ExpiresAt: tok.Expiry}
		if err := c.store.Put(ctx, c.cfg.CacheKey, stored, ttl); err != nil {
			c.logger.Warn("shared token store write failed", "error", err)
		}
	}
	c.setMemo(tok)
	c.logger.Info("crm access token refreshed", "expires_at", tok.Expiry)
	return tok, nil
}

// requestToken posts the refresh-token grant, retrying only on rate limits.
func (c *TokenCache) requestToken(ctx context.Context) (string, int, error) {
	var (
		accessToken string
		expiresIn   int
		attempt     int
	)
	operation := func() error {
		attempt++
		tok, exp, err := c.postRefresh(ctx)
		if err != nil {
			if errors.Is(err, errRateLimited) {
				return err
			}
			return backoff.Permanent(err)
		}
		accessToken, expiresIn = tok, exp
		return nil
	}
	notify := func(err error, delay time.Duration) {
		c.logger.Warn("crm token refresh rate limited, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newJitterBackOff(c.baseDelay, c.jitter), MaxRefreshAttempts-1), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if errors.Is(err, errRateLimited) {
			return "", 0, fmt.Errorf("%w after %d attempts: %w", ErrAuthRefreshFailed, attempt, err)
		}
		return "", 0, err
	}
	return accessToken, expiresIn, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in"`
}

func (c *TokenCache) postRefresh(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", c.cfg.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: build request: %v", ErrAuthRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAuthRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read response: %v", ErrAuthRefreshFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if looksRateLimited(resp.StatusCode, string(body)) {
			return "", 0, fmt.Errorf("%w: status %d: %s", errRateLimited, resp.StatusCode, body)
		}
		return "", 0, fmt.Errorf("%w: status %d: %s", ErrAuthRefreshFailed, resp.StatusCode, body)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAuthProtocol, err)
	}
	if parsed.AccessToken == "" {
		return "", 0, ErrAuthProtocol
	}
	expiresIn := defaultExpiresIn
	if parsed.ExpiresIn != nil {
		expiresIn = *parsed.ExpiresIn
	}
	return parsed.AccessToken, expiresIn, nil
}

func looksRateLimited(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// jitterBackOff doubles base on every call and adds a random jitter on top.
type jitterBackOff struct {
	base    time.Duration
	jitter  func() time.Duration
	attempt int
}

func newJitterBackOff(base time.Duration, jitter func() time.Duration) *jitterBackOff {
	return &jitterBackOff{base: base, jitter: jitter}
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	delay := b.base << b.attempt
	b.attempt++
	if b.jitter != nil {
		delay += b.jitter()
	}
	return delay
}

func (b *jitterBackOff) Reset() { b.attempt = 0 }
