package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	gocache "github.com/patrickmn/go-cache"

	"github.com/hackgods/provider-availability/internal/availability"
)

type ruleKey struct {
	providerID uuid.UUID
	day        time.Weekday
}

type cachedRule struct {
	rule  availability.ScheduleRule
	found bool
}

// CachedRuleStore keeps recently read weekday rules in a bounded LRU. Misses
// are cached too so unconfigured providers do not hit the database on every
// slot lookup. Writes through this store invalidate immediately; writes from
// other replicas are picked up after ttl or when Invalidate is called.
type CachedRuleStore struct {
	next  RuleStore
	cache *expirable.LRU[ruleKey, cachedRule]
}

func NewCachedRuleStore(next RuleStore, size int, ttl time.Duration) *CachedRuleStore {
	if size <= 0 {
		size = 4096
	}
	return &CachedRuleStore{
		next:  next,
		cache: expirable.NewLRU[ruleKey, cachedRule](size, nil, ttl),
	}
}

func (c *CachedRuleStore) GetRule(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*availability.ScheduleRule, error) {
	key := ruleKey{providerID, day}
	if hit, ok := c.cache.Get(key); ok {
		if !hit.found {
			return nil, ErrRuleNotFound
		}
		rule := hit.rule.Clone()
		return &rule, nil
	}

	rule, err := c.next.GetRule(ctx, providerID, day)
	if errors.Is(err, ErrRuleNotFound) {
		c.cache.Add(key, cachedRule{})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, cachedRule{rule: rule.Clone(), found: true})
	return rule, nil
}

// GetWeek always reads through; the schedule editor wants current data.
func (c *CachedRuleStore) GetWeek(ctx context.Context, providerID uuid.UUID) (availability.Week, error) {
	return c.next.GetWeek(ctx, providerID)
}

func (c *CachedRuleStore) ReplaceWeek(ctx context.Context, providerID uuid.UUID, week availability.Week) error {
	defer c.Invalidate(providerID)
	return c.next.ReplaceWeek(ctx, providerID, week)
}

func (c *CachedRuleStore) Invalidate(providerID uuid.UUID) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		c.cache.Remove(ruleKey{providerID, d})
	}
}

const providerListKey = "providers"

// CachedDirectory memoizes the provider directory, which changes rarely
// and is read on every search page.
type CachedDirectory struct {
	next  ProviderDirectory
	cache *gocache.Cache
}

func NewCachedDirectory(next ProviderDirectory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedDirectory) ListProviders(ctx context.Context) ([]Provider, error) {
	if hit, ok := c.cache.Get(providerListKey); ok {
		return append([]Provider(nil), hit.([]Provider)...), nil
	}

	providers, err := c.next.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(providerListKey, append([]Provider(nil), providers...))
	return providers, nil
}

func (c *CachedDirectory) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	key := "provider:" + id.String()
	if hit, ok := c.cache.Get(key); ok {
		p := hit.(Provider)
		return &p, nil
	}

	p, err := c.next.GetProviderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, *p)
	return p, nil
}

func (c *CachedDirectory) UpsertProvider(ctx context.Context, p Provider) error {
	defer func() {
		c.cache.Delete(providerListKey)
		c.cache.Delete("provider:" + p.ID.String())
	}()
	return c.next.UpsertProvider(ctx, p)
}
