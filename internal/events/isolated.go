package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is reported when an isolation worker cannot accept work.
	ErrQueueFull = errors.New("isolated handler queue full")
	// ErrClosed is reported for events raised after the worker was closed.
	ErrClosed = errors.New("isolated handler closed")

	errDeferred = errors.New("deferred")
)

type IsolationOptions struct {
	Name      string
	Timeout   time.Duration
	QueueSize int
	Workers   int
	Logger    *slog.Logger
	// OnResult observes every background execution.
	OnResult func(name string, ev Event, err error)
}

type job[E Event] struct {
	ctx context.Context
	ev  E
}

// Isolation runs a handler on background workers so slow collaborators
// cannot hold up the raise that triggered them.
type Isolation[E Event] struct {
	fn     func(context.Context, E) error
	opts   IsolationOptions
	queue  chan job[E]
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Isolated starts the workers for fn.
func Isolated[E Event](fn func(ctx context.Context, ev E) error, opts IsolationOptions) *Isolation[E] {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	iso := &Isolation[E]{fn: fn, opts: opts, queue: make(chan job[E], opts.QueueSize)}
	for i := 0; i < opts.Workers; i++ {
		iso.wg.Add(1)
		go iso.work()
	}
	return iso
}

// Handle enqueues ev without blocking.
func (i *Isolation[E]) Handle(ctx context.Context, ev E) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}
	select {
	case i.queue <- job[E]{ctx: context.WithoutCancel(ctx), ev: ev}:
		return errDeferred
	default:
		return ErrQueueFull
	}
}

func (i *Isolation[E]) work() {
	defer i.wg.Done()
	for j := range i.queue {
		err := i.run(j)
		if err != nil {
			i.opts.Logger.Error("isolated handler failed", "handler", i.opts.Name, "event", string(j.ev.Name()), "article", j.ev.ArticleID(), "error", err)
		}
		if i.opts.OnResult != nil {
			i.opts.OnResult(i.opts.Name, j.ev, err)
		}
	}
}

// run abandons fn after the timeout; a handler that ignores its context
// keeps running but no longer occupies the worker.
func (i *Isolation[E]) run(j job[E]) error {
	ctx, cancel := context.WithTimeout(j.ctx, i.opts.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("handler panic: %v", p)
			}
		}()
		done <- i.fn(ctx, j.ev)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s: %w", i.opts.Timeout, ctx.Err())
	}
}

// Close stops accepting work and waits for queued jobs until ctx ends.
func (i *Isolation[E]) Close(ctx context.Context) error {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.queue)
	}
	i.mu.Unlock()
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain %s: %w", i.opts.Name, ctx.Err())
	}
}
