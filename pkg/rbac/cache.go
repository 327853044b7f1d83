package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache tiers reported to CacheStats
const (
	CacheTierLocal = "l1"
	CacheTierRedis = "l2"
)

// CacheStats receives cache hit and miss events. *observability.Metrics implements it.
type CacheStats interface {
	CacheHit(tier string)
	CacheMiss()
}

// CacheConfig configures CachedPermissionSets
type CacheConfig struct {
	Size      int
	TTL       time.Duration
	RedisTTL  time.Duration
	KeyPrefix string
	// FillTimeout bounds a shared fill. Fills outlive the caller that
	// started them so other waiters are not cancelled with it.
	FillTimeout time.Duration
}

// DefaultCacheConfig returns sizes suited to the five built-in roles
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size:        64,
		TTL:         30 * time.Second,
		RedisTTL:    5 * time.Minute,
		KeyPrefix:   "tenantgate:rbac:",
		FillTimeout: 5 * time.Second,
	}
}

// CachedPermissionSets is a read-through cache in front of a PermissionSetSource.
// Sets handed out are shared and must not be modified.
//
// Every role has a generation, bumped by Invalidate locally and in Redis. A
// fill records the generations it started under and only stores its result
// if neither moved, so a fill racing an invalidation never writes back the
// set that was just revoked.
type CachedPermissionSets struct {
	source      PermissionSetSource
	local       *expirable.LRU[Role, PermissionSet]
	redis       *redis.Client
	redisTTL    time.Duration
	prefix      string
	fillTimeout time.Duration
	group       singleflight.Group
	stats       CacheStats

	mu          sync.Mutex
	generations map[Role]uint64
}

// NewCachedPermissionSets wraps source. redisClient and stats may be nil.
func NewCachedPermissionSets(source PermissionSetSource, redisClient *redis.Client, config CacheConfig, stats CacheStats) *CachedPermissionSets {
	defaults := DefaultCacheConfig()
	if config.Size <= 0 {
		config.Size = defaults.Size
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.RedisTTL <= 0 {
		config.RedisTTL = defaults.RedisTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.FillTimeout <= 0 {
		config.FillTimeout = defaults.FillTimeout
	}

	return &CachedPermissionSets{
		source:      source,
		local:       expirable.NewLRU[Role, PermissionSet](config.Size, nil, config.TTL),
		redis:       redisClient,
		redisTTL:    config.RedisTTL,
		prefix:      config.KeyPrefix,
		fillTimeout: config.FillTimeout,
		stats:       stats,
		generations: make(map[Role]uint64),
	}
}

func (c *CachedPermissionSets) key(role Role) string {
	return c.prefix + "role:" + string(role)
}

func (c *CachedPermissionSets) generationKey(role Role) string {
	return c.prefix + "gen:" + string(role)
}

func (c *CachedPermissionSets) channel() string {
	return c.prefix + "invalidate"
}

// RolePermissions returns the cached set, filling it from Redis or the source.
// Concurrent misses for the same role share one fill. Each caller waits on its
// own ctx; abandoning the wait does not cancel the fill for the others.
func (c *CachedPermissionSets) RolePermissions(ctx context.Context, role Role) (PermissionSet, error) {
	if set, ok := c.local.Get(role); ok {
		c.hit(CacheTierLocal)
		return set, nil
	}

	ch := c.group.DoChan(string(role), func() (interface{}, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fillTimeout)
		defer cancel()
		return c.fill(fillCtx, role)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

func (c *CachedPermissionSets) fill(ctx context.Context, role Role) (PermissionSet, error) {
	localGen := c.localGeneration(role)
	redisGen, redisGenOK := c.redisGeneration(ctx, role)

	if redisGenOK {
		if set, ok := c.fromRedis(ctx, role); ok {
			c.hit(CacheTierRedis)
			c.storeLocal(role, set, localGen)
			return set, nil
		}
	}

	if c.stats != nil {
		c.stats.CacheMiss()
	}

	set, err := c.source.RolePermissions(ctx, role)
	if err != nil {
		return nil, err
	}

	c.storeLocal(role, set, localGen)
	if redisGenOK {
		c.toRedis(ctx, role, set, redisGen)
	}
	return set, nil
}

func (c *CachedPermissionSets) localGeneration(role Role) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[role]
}

// storeLocal adds set unless role was invalidated since gen was read
func (c *CachedPermissionSets) storeLocal(role Role, set PermissionSet, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[role] == gen {
		c.local.Add(role, set)
	}
}

// dropLocal bumps the local generation and evicts role
func (c *CachedPermissionSets) dropLocal(role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[role]++
	c.local.Remove(role)
}

func (c *CachedPermissionSets) hit(tier string) {
	if c.stats != nil {
		c.stats.CacheHit(tier)
	}
}

// redisGeneration reads the shared generation of role. ok is false when
// Redis is absent or failing, in which case the Redis tier is skipped.
func (c *CachedPermissionSets) redisGeneration(ctx context.Context, role Role) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, c.generationKey(role)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

// fromRedis treats any Redis failure as a miss
func (c *CachedPermissionSets) fromRedis(ctx context.Context, role Role) (PermissionSet, bool) {
	data, err := c.redis.Get(ctx, c.key(role)).Bytes()
	if err != nil {
		return nil, false
	}

	var set PermissionSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, false
	}
	return set, true
}

var errStaleFill = errors.New("rbac: role invalidated during fill")

// toRedis stores set only while the shared generation still equals gen. The
// generation key is watched, so an Invalidate landing between the check and
// the write aborts the transaction.
func (c *CachedPermissionSets) toRedis(ctx context.Context, role Role, set PermissionSet, gen int64) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}

	genKey := c.generationKey(role)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(role), data, c.redisTTL)
			return nil
		})
		return err
	}, genKey)
}

// Invalidate drops a role from both tiers and tells other instances to drop
// it. Fills already running for the role discard their result.
func (c *CachedPermissionSets) Invalidate(ctx context.Context, role Role) error {
	c.dropLocal(role)
	c.group.Forget(string(role))

	if c.redis == nil {
		return nil
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey(role))
		pipe.Del(ctx, c.key(role))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cached role %s: %w", role, err)
	}
	if err := c.redis.Publish(ctx, c.channel(), string(role)).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation of role %s: %w", role, err)
	}
	return nil
}

// Len returns the number of locally cached roles
func (c *CachedPermissionSets) Len() int {
	return c.local.Len()
}

// Listen drops locally cached roles as other instances invalidate them. It
// blocks until ctx is done. Without Redis it returns immediately.
func (c *CachedPermissionSets) Listen(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}

	pubsub := c.redis.Subscribe(ctx, c.channel())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to subscribe to cache invalidations: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.dropLocal(Role(msg.Payload))
		}
	}
}
