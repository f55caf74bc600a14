package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"perp-backend/internal/domain"
)

// SignalSource fetches the latest signal a strategy service published for a
// symbol. A nil signal with a nil error means there is none.
type SignalSource interface {
	Latest(ctx context.Context, strategy domain.StrategyKind, symbol string) (*domain.Signal, error)
}

type signalKey struct {
	strategy domain.StrategyKind
	symbol   string
}

// SignalRegistry holds the most recent pushed signal per strategy and symbol.
type SignalRegistry struct {
	mu      sync.RWMutex
	signals map[signalKey]domain.Signal
}

func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{signals: make(map[signalKey]domain.Signal)}
}

func (r *SignalRegistry) Record(sig domain.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[signalKey{sig.Strategy, sig.Symbol}] = sig
}

func (r *SignalRegistry) Latest(_ context.Context, strategy domain.StrategyKind, symbol string) (*domain.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sig, ok := r.signals[signalKey{strategy, symbol}]
	if !ok {
		return nil, nil
	}
	return &sig, nil
}

const (
	DefaultSignalTTL       = 60 * time.Second
	defaultSignalRateLimit = 5
)

type cachedSignal struct {
	sig *domain.Signal
	at  time.Time
}

// SignalCache fronts a remote SignalSource. Entries live for ttl, concurrent
// misses for the same key share one upstream call and upstream calls are
// rate limited. Pushed signals in the registry win when they are fresher.
type SignalCache struct {
	src      SignalSource
	registry *SignalRegistry
	ttl      time.Duration
	limiter  *rate.Limiter
	group    singleflight.Group
	now      func() time.Time

	mu      sync.Mutex
	entries map[signalKey]cachedSignal
}

// NewSignalCache builds a cache over src. registry may be nil; src may be nil
// when only pushed signals are available.
func NewSignalCache(src SignalSource, registry *SignalRegistry, ttl time.Duration, perSecond float64) *SignalCache {
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	if perSecond <= 0 {
		perSecond = defaultSignalRateLimit
	}
	return &SignalCache{
		src:      src,
		registry: registry,
		ttl:      ttl,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		now:      time.Now,
		entries:  make(map[signalKey]cachedSignal),
	}
}

// Get returns the freshest known signal for (strategy, symbol), or nil.
func (c *SignalCache) Get(ctx context.Context, strategy domain.StrategyKind, symbol string) (*domain.Signal, error) {
	var pushed *domain.Signal
	if c.registry != nil {
		pushed, _ = c.registry.Latest(ctx, strategy, symbol)
		if pushed != nil && c.now().Sub(pushed.ReceivedAt) <= c.ttl {
			return pushed, nil
		}
	}
	if c.src == nil {
		return pushed, nil
	}

	key := signalKey{strategy, symbol}
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.at) <= c.ttl {
		c.mu.Unlock()
		return e.sig, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(string(strategy)+"/"+symbol, func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		sig, err := c.src.Latest(ctx, strategy, symbol)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cachedSignal{sig: sig, at: c.now()}
		c.mu.Unlock()
		return sig, nil
	})
	if err != nil {
		if pushed != nil {
			return pushed, nil
		}
		return nil, err
	}
	sig, _ := v.(*domain.Signal)
	if sig == nil {
		return pushed, nil
	}
	return sig, nil
}
