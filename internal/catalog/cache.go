package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// Lookup resolves products for display.
type Lookup interface {
	Get(ctx context.Context, id int64) (*domain.Product, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

// CachedCatalog puts a redis read-through cache in front of a Lookup.
// Entries may be stale for up to the TTL, so it must only back display reads.
type CachedCatalog struct {
	source  Lookup
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group
	logger  *slog.Logger
}

func NewCachedCatalog(source Lookup, client *redis.Client, baseTTL time.Duration, logger *slog.Logger) *CachedCatalog {
	return &CachedCatalog{
		source:  source,
		client:  client,
		baseTTL: baseTTL,
		logger:  logger,
	}
}

func (c *CachedCatalog) Get(ctx context.Context, id int64) (*domain.Product, error) {
	key := cacheKey(id)

	v, err, _ := c.sfg.Do(key, func() (any, error) {
		p, err := c.load(ctx, key)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("catalog cache get failed", "error", err, "product_id", id)
		}

		p, err = c.source.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			c.store(ctx, *p)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Product), nil
}

func (c *CachedCatalog) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	products := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}

	var misses []int64
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("catalog cache mget failed", "error", err)
		misses = ids
	} else {
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				misses = append(misses, ids[i])
				continue
			}
			var p domain.Product
			if err := json.Unmarshal([]byte(s), &p); err != nil {
				misses = append(misses, ids[i])
				continue
			}
			products[p.ID] = p
		}
	}

	if len(misses) == 0 {
		return products, nil
	}

	loaded, err := c.source.GetMany(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, p := range loaded {
		products[id] = p
		c.store(ctx, p)
	}

	return products, nil
}

func (c *CachedCatalog) load(ctx context.Context, key string) (*domain.Product, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product failed: %w", err)
	}
	return &p, nil
}

func (c *CachedCatalog) store(ctx context.Context, p domain.Product) {
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.Warn("marshal product failed", "error", err, "product_id", p.ID)
		return
	}

	jitter := time.Duration(rand.Int63n(int64(c.baseTTL/5) + 1))
	if err := c.client.Set(ctx, cacheKey(p.ID), data, c.baseTTL+jitter).Err(); err != nil {
		c.logger.Warn("catalog cache set failed", "error", err, "product_id", p.ID)
	}
}

func cacheKey(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}
