package sink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/telemetry"
)

// Cache hands out one reusable identity handle per physical channel.
// Threads resolve to their parent channel before the cache is consulted,
// so a thread id never appears as a cache key.
//
// First acquisition for a channel runs under a per-channel mutex:
// several messages racing into a fresh channel trigger exactly one
// identity creation. The outer map mutex is never held across platform
// calls.
type Cache struct {
	client Client

	mu      sync.Mutex
	handles map[string]*Handle
	locks   map[string]*sync.Mutex

	limits *limiterPool
}

// NewCache builds a cache over the given platform client. rps/burst
// configure per-channel call pacing.
func NewCache(client Client, rps float64, burst int) *Cache {
	return &Cache{
		client:  client,
		handles: make(map[string]*Handle),
		locks:   make(map[string]*sync.Mutex),
		limits:  newLimiterPool(rps, burst),
	}
}

func (c *Cache) channelLock(channel string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[channel]
	if !ok {
		l = &sync.Mutex{}
		c.locks[channel] = l
	}
	return l
}

// Acquire returns the channel's identity handle, reusing a platform-side
// identity when one already exists and creating one otherwise. Creation
// failures surface as typed sink errors; the caller turns them into a
// user-visible, non-fatal result.
func (c *Cache) Acquire(ctx context.Context, channel string) (*Handle, error) {
	c.mu.Lock()
	h := c.handles[channel]
	c.mu.Unlock()
	if h != nil {
		telemetry.SinkCache.WithLabelValues("hit").Inc()
		return h, nil
	}

	lock := c.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	// another caller may have filled the slot while we waited
	c.mu.Lock()
	h = c.handles[channel]
	c.mu.Unlock()
	if h != nil {
		telemetry.SinkCache.WithLabelValues("hit").Inc()
		return h, nil
	}

	telemetry.SinkCache.WithLabelValues("miss").Inc()
	if err := c.limits.Wait(ctx, channel); err != nil {
		return nil, err
	}
	h, err := c.client.FindIdentity(ctx, channel)
	if err != nil {
		logger.Log.Error("sink_identity_lookup_failed", zap.String("channel", channel), zap.Error(err))
		return nil, err
	}
	if h == nil {
		if err := c.limits.Wait(ctx, channel); err != nil {
			return nil, err
		}
		h, err = c.client.CreateIdentity(ctx, channel)
		if err != nil {
			logger.Log.Error("sink_identity_create_failed", zap.String("channel", channel), zap.Error(err))
			return nil, err
		}
		telemetry.SinkCache.WithLabelValues("create").Inc()
		logger.Log.Info("sink_identity_created", zap.String("channel", channel), zap.String("identity", h.ID))
	}

	c.mu.Lock()
	c.handles[channel] = h
	c.mu.Unlock()
	return h, nil
}

// Invalidate drops the cached handle for a channel, forcing
// re-acquisition on next use. Called when a post fails with an
// identity-not-found class of error.
func (c *Cache) Invalidate(channel string) {
	c.mu.Lock()
	delete(c.handles, channel)
	c.mu.Unlock()
	telemetry.SinkCache.WithLabelValues("invalidate").Inc()
	logger.Log.Info("sink_handle_invalidated", zap.String("channel", channel))
}

// Wait applies the channel's rate limiter; callers pace every platform
// call through it, not only acquisition.
func (c *Cache) Wait(ctx context.Context, channel string) error {
	return c.limits.Wait(ctx, channel)
}
