package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-broker-agent/internal/cache"
	"github.com/go-broker-agent/internal/domain"
)

// CachedClient decorates a Client with TTL caches for account lists and
// portfolio reads, so repeated reads inside one polling cycle cost one
// broker call. Validate is never cached.
type CachedClient struct {
	inner      Client
	accounts   *cache.Cache[[]Account]
	portfolios *cache.Cache[*domain.PortfolioSnapshot]
}

func NewCachedClient(inner Client, ttl time.Duration) *CachedClient {
	return &CachedClient{
		inner:      inner,
		accounts:   cache.New[[]Account](ttl),
		portfolios: cache.New[*domain.PortfolioSnapshot](ttl),
	}
}

func (c *CachedClient) Validate(ctx context.Context, secret string) error {
	return c.inner.Validate(ctx, secret)
}

func (c *CachedClient) ListAccounts(ctx context.Context, secret string) ([]Account, error) {
	return c.accounts.GetOrSet(cacheKey(secret, ""), func() ([]Account, error) {
		return c.inner.ListAccounts(ctx, secret)
	})
}

func (c *CachedClient) FetchPortfolio(ctx context.Context, secret, accountRef string) (*domain.PortfolioSnapshot, error) {
	return c.portfolios.GetOrSet(cacheKey(secret, accountRef), func() (*domain.PortfolioSnapshot, error) {
		return c.inner.FetchPortfolio(ctx, secret, accountRef)
	})
}

// Invalidate drops cached reads for one credential, e.g. after its secret
// was rotated.
func (c *CachedClient) Invalidate(secret string) {
	c.accounts.Delete(cacheKey(secret, ""))
	c.portfolios.Clear()
}

// cacheKey hashes the secret so plaintext credentials never sit in cache
// key maps.
func cacheKey(secret, accountRef string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]) + "/" + accountRef
}
