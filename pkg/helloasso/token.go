package helloasso

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	tokenExpirySkew    = 30 * time.Second
	defaultTokenExpiry = 25 * time.Minute
	tokenFetchTimeout  = 15 * time.Second
)

// Token is an access token as returned by the token endpoint.
type Token struct {
	AccessToken string
	// ExpiresIn is zero when the endpoint did not say.
	ExpiresIn time.Duration
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// TokenCache memoizes access tokens per credential pair. Concurrent misses
// for the same pair share one fetch.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
	group   singleflight.Group
	now     func() time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{
		entries: map[string]cachedToken{},
		now:     time.Now,
	}
}

// Get returns a cached token for the pair or calls fetch. The fetch is shared
// by every waiter, so it runs detached from the caller's cancellation and is
// bounded by tokenFetchTimeout instead.
func (c *TokenCache) Get(ctx context.Context, clientID, clientSecret string, fetch func(context.Context) (Token, error)) (string, error) {
	key := cacheKey(clientID, clientSecret)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expiry) {
		return entry.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		entry, ok := c.entries[key]
		c.mu.Unlock()
		if ok && c.now().Before(entry.expiry) {
			return entry.value, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		tok, err := fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = cachedToken{value: tok.AccessToken, expiry: c.expiryOf(tok)}
		c.mu.Unlock()
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the token of the pair, typically after a 401.
func (c *TokenCache) Invalidate(clientID, clientSecret string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(clientID, clientSecret))
	c.mu.Unlock()
}

func (c *TokenCache) expiryOf(tok Token) time.Time {
	now := c.now()
	if tok.ExpiresIn > 0 {
		return now.Add(tok.ExpiresIn - tokenExpirySkew)
	}
	if exp, ok := jwtExpiry(tok.AccessToken); ok {
		return exp.Add(-tokenExpirySkew)
	}
	return now.Add(defaultTokenExpiry)
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// is only inspected to schedule its refresh.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time.UTC(), true
}

func cacheKey(clientID, clientSecret string) string {
	sum := sha256.Sum256([]byte(clientSecret))
	return clientID + ":" + hex.EncodeToString(sum[:8])
}
