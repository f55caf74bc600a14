package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Loop runs Tick every Interval until the context is cancelled. A tick that
// is still running when the next one is due causes that one to be skipped.
// Errors and panics go to OnError and never stop the loop.
type Loop struct {
	Name     string
	Interval time.Duration
	Tick     func(ctx context.Context) error
	OnError  func(name string, err error)
	Metrics  *Metrics

	inFlight atomic.Bool
	skipped  atomic.Int64
}

// Run blocks until ctx is done and the in-flight tick (if any) has returned.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			if !l.inFlight.CompareAndSwap(false, true) {
				l.skipped.Add(1)
				if l.Metrics != nil {
					l.Metrics.loopSkipped.WithLabelValues(l.Name).Inc()
				}
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer l.inFlight.Store(false)
				l.runTick(ctx)
			}()
		}
	}
}

// Skipped reports how many ticks were dropped so far.
func (l *Loop) Skipped() int64 { return l.skipped.Load() }

func (l *Loop) runTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.fail(fmt.Errorf("panic in %s: %v\n%s", l.Name, r, debug.Stack()))
		}
		if l.Metrics != nil {
			l.Metrics.loopDuration.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
		}
	}()
	if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
		l.fail(err)
	}
}

func (l *Loop) fail(err error) {
	if l.Metrics != nil {
		l.Metrics.loopErrors.WithLabelValues(l.Name).Inc()
	}
	if l.OnError != nil {
		l.OnError(l.Name, err)
	}
}
