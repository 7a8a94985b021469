package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/parlance/internal/clock"
	"github.com/ent0n29/parlance/internal/observability"
	"github.com/ent0n29/parlance/internal/protocol"
)

var (
	ErrNotFound = errors.New("connection not found")
	// ErrGone marks a push to a connection that is no longer reachable.
	// It is terminal for that send and never retried.
	ErrGone = errors.New("connection gone")
)

// Transport delivers a payload to an attached connection. Implementations
// return an error wrapping ErrGone when the connection is closed.
type Transport interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
}

type Options struct {
	TTL     time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// BroadcastConcurrency bounds parallel pushes in Broadcast.
	BroadcastConcurrency int
}

type BroadcastResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Registry maps connection ids to reachability. State lives in the Store;
// the registry only adds TTL handling and delivery.
type Registry struct {
	store     Store
	transport Transport
	ttl       time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	fanout    int
}

func NewRegistry(store Store, transport Transport, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BroadcastConcurrency <= 0 {
		opts.BroadcastConcurrency = 16
	}
	return &Registry{
		store:     store,
		transport: transport,
		ttl:       opts.TTL,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		fanout:    opts.BroadcastConcurrency,
	}
}

// Ping checks the backing store. The accept path refuses connections when it fails.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Registry) Register(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, fmt.Errorf("register connection: empty id")
	}
	now := r.clock.Now()
	rec := Record{ID: id, ConnectedAt: now, ExpiresAt: now.Add(r.ttl)}
	if err := r.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("register connection: %w", err)
	}
	r.event("register")
	return rec, nil
}

func (r *Registry) Deregister(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deregister connection: %w", err)
	}
	r.event("deregister")
	return nil
}

// Get returns the record unless it is missing or past its TTL.
func (r *Registry) Get(ctx context.Context, id string) (Record, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if rec.Expired(r.clock.Now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns live records; expired rows still in the store are skipped.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	live := all[:0]
	for _, rec := range all {
		if !rec.Expired(now) {
			live = append(live, rec)
		}
	}
	return live, nil
}

// Push delivers res to one connection. A stale target yields ErrGone and is
// logged as an isolated delivery failure. The record is left to its owner's
// Deregister or to TTL expiry.
func (r *Registry) Push(ctx context.Context, id string, res protocol.Response) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	return r.push(ctx, id, payload, res.Action)
}

func (r *Registry) push(ctx context.Context, id string, payload []byte, action string) error {
	if _, err := r.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.pushFailed(id, action, "stale", ErrGone)
			return fmt.Errorf("%w: %s", ErrGone, id)
		}
		r.pushFailed(id, action, "store", err)
		return err
	}
	if err := r.transport.Send(ctx, id, payload); err != nil {
		if errors.Is(err, ErrGone) {
			r.pushFailed(id, action, "gone", err)
			return err
		}
		r.pushFailed(id, action, "send", err)
		return fmt.Errorf("push to %s: %w", id, err)
	}
	if r.metrics != nil {
		r.metrics.WSMessages.WithLabelValues("out", action).Inc()
	}
	return nil
}

// Broadcast pushes res to every live connection concurrently. Per-connection
// failures are counted and never abort the remaining deliveries.
func (r *Registry) Broadcast(ctx context.Context, res protocol.Response) (BroadcastResult, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("marshal broadcast payload: %w", err)
	}
	records, err := r.List(ctx)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("list connections: %w", err)
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.fanout)
	for _, rec := range records {
		id := rec.ID
		g.Go(func() error {
			if err := r.push(ctx, id, payload, res.Action); err != nil {
				failed.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return BroadcastResult{Delivered: int(delivered.Load()), Failed: int(failed.Load())}, nil
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapExpired(ctx)
			}
		}
	}()
}

func (r *Registry) reapExpired(ctx context.Context) int {
	n, err := r.store.DeleteExpired(ctx, r.clock.Now())
	if err != nil {
		r.logger.Warn("connection reap failed", "error", err)
		return 0
	}
	if n > 0 {
		r.logger.Debug("reaped expired connections", "count", n)
	}
	return n
}

func (r *Registry) pushFailed(id, action, reason string, err error) {
	r.logger.Info("push delivery failed", "connection_id", id, "action", action, "reason", reason, "error", err)
	if r.metrics != nil {
		r.metrics.PushFailures.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) event(name string) {
	if r.metrics != nil {
		r.metrics.ConnectionEvents.WithLabelValues(name).Inc()
	}
}
