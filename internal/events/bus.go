package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type subscription struct {
	name string
	// invoke runs the handler when ev matches its variant.
	invoke func(ctx context.Context, ev Event) (matched bool, err error)
}

// Builder collects subscriptions during start-up.
type Builder struct {
	Logger  *slog.Logger
	subs    []subscription
	closers []func(context.Context) error
	built   bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Subscribe registers fn for the E variant. E may be Event itself to receive
// every variant. Handlers run in registration order.
func Subscribe[E Event](b *Builder, name string, fn func(ctx context.Context, ev E) error) {
	if b.built {
		panic("events: subscribe after Build")
	}
	b.subs = append(b.subs, subscription{
		name: name,
		invoke: func(ctx context.Context, ev Event) (bool, error) {
			typed, ok := ev.(E)
			if !ok {
				return false, nil
			}
			return true, fn(ctx, typed)
		},
	})
}

// SubscribeIsolated registers fn behind an isolation worker. The bus drains
// the worker on Close.
func SubscribeIsolated[E Event](b *Builder, name string, fn func(ctx context.Context, ev E) error, opts IsolationOptions) {
	if opts.Logger == nil {
		opts.Logger = b.Logger
	}
	opts.Name = name
	iso := Isolated(fn, opts)
	b.closers = append(b.closers, iso.Close)
	Subscribe[E](b, name, iso.Handle)
}

// Build freezes the subscriptions.
func (b *Builder) Build() *Bus {
	b.built = true
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:    append([]subscription(nil), b.subs...),
		closers: append([]func(context.Context) error(nil), b.closers...),
		logger:  logger,
	}
}

// Bus dispatches events synchronously to the subscriptions fixed at Build.
type Bus struct {
	subs    []subscription
	closers []func(context.Context) error
	logger  *slog.Logger
}

type HandlerResult struct {
	Handler string
	Err     error
	// Deferred is set when the handler was queued on an isolation worker.
	Deferred bool
}

type Report struct {
	Event   Name
	Results []HandlerResult
}

// Err returns a *DispatchError when any handler failed, nil otherwise.
func (r Report) Err() error {
	var failed []HandlerResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &DispatchError{Event: r.Event, Failures: failed}
}

// Merge appends other's results; used when one operation raises several
// events.
func (r *Report) Merge(other Report) {
	if r.Event == "" {
		r.Event = other.Event
	}
	r.Results = append(r.Results, other.Results...)
}

// DispatchError aggregates handler failures of one or more raises.
type DispatchError struct {
	Event    Name
	Failures []HandlerResult
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Handler+": "+f.Err.Error())
	}
	return fmt.Sprintf("event %s: %d handler(s) failed: %s", e.Event, len(e.Failures), strings.Join(parts, "; "))
}

func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Raise delivers ev to every matching handler in registration order. A
// failing or panicking handler does not stop the remaining ones.
func (b *Bus) Raise(ctx context.Context, ev Event) Report {
	rep := Report{Event: ev.Name()}
	if b == nil {
		return rep
	}
	for _, sub := range b.subs {
		matched, err := b.invoke(ctx, sub, ev)
		if !matched {
			continue
		}
		res := HandlerResult{Handler: sub.name}
		switch {
		case errors.Is(err, errDeferred):
			res.Deferred = true
		case err != nil:
			res.Err = err
			b.logger.Warn("event handler failed", "event", string(ev.Name()), "handler", sub.name, "article", ev.ArticleID(), "error", err)
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

func (b *Bus) invoke(ctx context.Context, sub subscription, ev Event) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			matched = true
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return sub.invoke(ctx, ev)
}

// Handlers returns subscription names in dispatch order.
func (b *Bus) Handlers() []string {
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.name)
	}
	return out
}

// Close drains isolation workers.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, c := range b.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
