// Package poller runs a fetch function on an interval until a completion
// condition holds, with backoff on failed ticks and an explicit stop handle.
package poller

import (
	"context"
	"sync"
	"time"
)

// Backoff selects how the interval grows after consecutive failed ticks
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffNone        Backoff = "none"
)

// Reason explains why a poller finished
type Reason string

const (
	ReasonSuccess   Reason = "success"
	ReasonMaxErrors Reason = "max_errors"
	ReasonStopped   Reason = "stopped"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxInterval = 30 * time.Second
)

// Options configures a poller
type Options[T any] struct {
	// Fetch retrieves the current status. Required.
	Fetch func(ctx context.Context) (T, error)
	// OnUpdate receives every successfully fetched value
	OnUpdate func(T)
	// IsComplete stops polling when it returns true
	IsComplete func(T) bool
	// OnError is called for every failed tick with the consecutive error count
	OnError func(err error, count int)
	// OnComplete is called exactly once when polling ends
	OnComplete func(last T, reason Reason)

	Interval    time.Duration
	MaxInterval time.Duration
	// MaxErrors stops polling after that many consecutive failures; 0 never gives up
	MaxErrors int
	Backoff   Backoff
	// Delayed waits one interval before the first tick
	Delayed bool
}

// Poller is the handle of a running poll loop.
// Callbacks must not call Stop.
type Poller[T any] struct {
	opts   Options[T]
	cancel context.CancelFunc
	done   chan struct{}

	// deliver serializes callbacks against Stop so that nothing is delivered
	// once Stop has returned
	deliver sync.Mutex
	active  bool
	last    T
}

// Start launches the poll loop. The loop ends when ctx is cancelled, when
// Stop is called, when IsComplete returns true or after MaxErrors failures.
func Start[T any](ctx context.Context, opts Options[T]) *Poller[T] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	if opts.Backoff == "" {
		opts.Backoff = BackoffExponential
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Poller[T]{
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
		active: true,
	}
	go p.run(ctx)
	return p
}

// Stop ends polling. It is idempotent and does nothing after the loop
// has already finished on its own.
func (p *Poller[T]) Stop() {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	if !p.active {
		return
	}
	p.active = false
	p.cancel()
	if p.opts.OnComplete != nil {
		p.opts.OnComplete(p.last, ReasonStopped)
	}
}

// Active reports whether the poller is still polling
func (p *Poller[T]) Active() bool {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	return p.active
}

// Done is closed when the poll goroutine has exited
func (p *Poller[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the poll goroutine exits or ctx is done
func (p *Poller[T]) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()

	errorCount := 0
	if p.opts.Delayed {
		if !sleep(ctx, p.opts.Interval) {
			p.finish(ReasonStopped)
			return
		}
	}

	for {
		data, err := p.opts.Fetch(ctx)
		if ctx.Err() != nil {
			p.finish(ReasonStopped)
			return
		}

		if err != nil {
			errorCount++
			if !p.deliverError(err, errorCount) {
				return
			}
			if p.opts.MaxErrors > 0 && errorCount >= p.opts.MaxErrors {
				p.finish(ReasonMaxErrors)
				return
			}
		} else {
			errorCount = 0
			complete, ok := p.deliverUpdate(data)
			if !ok {
				return
			}
			if complete {
				p.finish(ReasonSuccess)
				return
			}
		}

		if !sleep(ctx, p.nextInterval(errorCount)) {
			p.finish(ReasonStopped)
			return
		}
	}
}

// deliverUpdate hands data to OnUpdate unless the poller was stopped.
// It reports whether polling is complete and whether it is still active.
func (p *Poller[T]) deliverUpdate(data T) (complete, ok bool) {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	if !p.active {
		return false, false
	}
	p.last = data
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(data)
	}
	return p.opts.IsComplete != nil && p.opts.IsComplete(data), true
}

func (p *Poller[T]) deliverError(err error, count int) bool {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	if !p.active {
		return false
	}
	if p.opts.OnError != nil {
		p.opts.OnError(err, count)
	}
	return true
}

// finish marks the poller inactive and reports the reason, unless Stop
// already did
func (p *Poller[T]) finish(reason Reason) {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	if !p.active {
		return
	}
	p.active = false
	if p.opts.OnComplete != nil {
		p.opts.OnComplete(p.last, reason)
	}
}

func (p *Poller[T]) nextInterval(errorCount int) time.Duration {
	return NextInterval(p.opts.Interval, p.opts.MaxInterval, p.opts.Backoff, errorCount)
}

// NextInterval computes the delay before the next tick after errorCount
// consecutive failures
func NextInterval(interval, maxInterval time.Duration, backoff Backoff, errorCount int) time.Duration {
	if errorCount == 0 {
		return interval
	}

	next := interval
	switch backoff {
	case BackoffExponential:
		for i := 0; i < errorCount && next < maxInterval; i++ {
			next *= 2
		}
	case BackoffLinear:
		next = interval * time.Duration(errorCount+1)
	}

	if next > maxInterval {
		return maxInterval
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
