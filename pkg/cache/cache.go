package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

var ErrMiss = errors.New("cache miss")

// LocalTTL caps how long a value read from redis is kept in memory.
const LocalTTL = time.Minute

type localEntry struct {
	Expires time.Time
	Data    []byte
}

// Cache keeps metadata responses in a memory layer in front of redis. Without
// a redis client it is memory only.
type Cache struct {
	client   *redis.Client
	mu       sync.Mutex
	memCache map[string]localEntry
	now      func() time.Time
}

func NewCache(addr, password string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newCache(rdb)
}

// FromUrl connects using a redis:// url. A non empty password replaces the
// one in the url.
func FromUrl(redisUrl, password string) (*Cache, error) {
	opt, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opt.Password = password
	}
	return newCache(redis.NewClient(opt)), nil
}

// Open accepts either a redis:// url or a plain host:port address.
func Open(addr, password string) (*Cache, error) {
	if strings.Contains(addr, "://") {
		return FromUrl(addr, password)
	}
	return NewCache(addr, password, 0), nil
}

func NewMemoryCache() *Cache {
	return newCache(nil)
}

func newCache(client *redis.Client) *Cache {
	return &Cache{
		client:   client,
		memCache: make(map[string]localEntry),
		now:      time.Now,
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) getLocal(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	local, found := c.memCache[key]
	if !found {
		return nil, false
	}
	if local.Expires.Before(c.now()) {
		delete(c.memCache, key)
		return nil, false
	}
	return local.Data, true
}

// setLocal also drops every expired entry, keys that are never read again
// would otherwise stay in memory.
func (c *Cache) setLocal(key string, data []byte, expiration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, entry := range c.memCache {
		if entry.Expires.Before(now) {
			delete(c.memCache, k)
		}
	}
	c.memCache[key] = localEntry{Expires: now.Add(expiration), Data: data}
}

func (c *Cache) Get(ctx context.Context, key string, out any) error {
	if data, ok := c.getLocal(key); ok {
		return sonic.Unmarshal(data, out)
	}
	if c.client == nil {
		return ErrMiss
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err = sonic.Unmarshal(data, out); err != nil {
		return err
	}
	ttl := LocalTTL
	if remaining, err := c.client.TTL(ctx, key).Result(); err == nil && remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	c.setLocal(key, data, ttl)
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return err
	}
	c.setLocal(key, data, expiration)
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Invalidate drops a key from both layers.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.memCache, key)
	c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
