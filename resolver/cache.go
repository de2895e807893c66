package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "netrange:resolution:"

// Store is a shared key value store which outlives a single run.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Ping checks that the server can be reached before any lookups depend on it.
func (store *RedisStore) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

func (store *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := store.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (store *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return store.client.Set(ctx, key, value, ttl).Err()
}

func (store *RedisStore) Close() error {
	return store.client.Close()
}

// Cache wraps a resolver with an in memory LRU and an optional shared store. Concurrent lookups of the same address
// are collapsed into a single call. Failed lookups are never cached.
type Cache struct {
	resolver aggregator.Resolver
	memory   *lru.Cache
	store    Store
	ttl      time.Duration
	group    singleflight.Group
}

// NewCache creates a cache holding at most size resolutions in memory. The store may be nil.
func NewCache(resolver aggregator.Resolver, size int, store Store, ttl time.Duration) (*Cache, error) {
	memory, err := lru.New(max(size, 1))
	if err != nil {
		return nil, err
	}

	return &Cache{
		resolver: resolver,
		memory:   memory,
		store:    store,
		ttl:      ttl,
	}, nil
}

func (cache *Cache) Resolve(ctx context.Context, addr netip.Addr) (aggregator.Resolution, error) {
	key := cacheKeyPrefix + addr.String()

	if value, ok := cache.memory.Get(key); ok {
		return value.(aggregator.Resolution), nil
	}

	value, err, _ := cache.group.Do(key, func() (any, error) {
		if resolution, ok := cache.loadStored(ctx, key); ok {
			cache.memory.Add(key, resolution)
			return resolution, nil
		}

		resolution, err := cache.resolver.Resolve(ctx, addr)
		if err != nil {
			return resolution, err
		}

		cache.memory.Add(key, resolution)
		cache.save(ctx, key, resolution)
		return resolution, nil
	})

	return value.(aggregator.Resolution), err
}

// The shared store is best effort. Failures are logged and treated as misses.
func (cache *Cache) loadStored(ctx context.Context, key string) (resolution aggregator.Resolution, ok bool) {
	if cache.store == nil {
		return
	}

	data, ok, err := cache.store.Get(ctx, key)
	if err != nil {
		log.Warn("Failed to read cached resolution", "key", key, "err", err)
		return resolution, false
	} else if !ok {
		return
	}

	if err = json.Unmarshal(data, &resolution); err != nil {
		log.Warn("Discarding malformed cached resolution", "key", key, "err", err)
		return resolution, false
	}

	return resolution, true
}

func (cache *Cache) save(ctx context.Context, key string, resolution aggregator.Resolution) {
	if cache.store == nil {
		return
	}

	data, err := json.Marshal(resolution)
	if err != nil {
		log.Warn("Failed to encode resolution", "key", key, "err", err)
		return
	}

	if err = cache.store.Set(ctx, key, data, cache.ttl); err != nil {
		log.Warn("Failed to store resolution", "key", key, "err", err)
	}
}
