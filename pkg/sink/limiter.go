package sink

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool hands out one rate limiter per channel so a burst in one
// venue cannot starve platform calls for the others.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

// Wait blocks until the channel's limiter admits one call or ctx ends.
func (p *limiterPool) Wait(ctx context.Context, key string) error {
	return p.get(key).Wait(ctx)
}
