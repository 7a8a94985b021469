package health

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/parlance/internal/capability"
	"github.com/ent0n29/parlance/internal/clock"
	"github.com/ent0n29/parlance/internal/connections"
	"github.com/ent0n29/parlance/internal/observability"
	"github.com/ent0n29/parlance/internal/protocol"
)

// Broadcaster delivers an unsolicited event to every registered connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, res protocol.Response) (connections.BroadcastResult, error)
}

type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Store        Store
	Sinks        []Sink
	Broadcaster  Broadcaster
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Monitor is the singleton periodic health job. Cycles never overlap: a
// cycle that starts while another is running is skipped.
type Monitor struct {
	pair capability.Pair
	opts Options

	running atomic.Bool

	mu        sync.RWMutex
	errors    map[string]int
	lastError map[string]string
	latest    AggregateHealth
	hasLatest bool
}

func NewMonitor(pair capability.Pair, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		pair:      pair,
		opts:      opts,
		errors:    make(map[string]int),
		lastError: make(map[string]string),
	}
}

// Restore seeds Latest from the store so a restarted process keeps routing
// around a capability that was already down.
func (m *Monitor) Restore(ctx context.Context) error {
	agg, ok, err := m.opts.Store.Latest(ctx)
	if err != nil || !ok {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = agg
	m.hasLatest = true
	m.errors[agg.Specialized.Capability] = agg.Specialized.ConsecutiveErrors
	m.errors[agg.General.Capability] = agg.General.ConsecutiveErrors
	return nil
}

func (m *Monitor) Latest() (AggregateHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// RecommendFallback reports the failover recommendation of the last cycle.
func (m *Monitor) RecommendFallback() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLatest && m.latest.RecommendFallback
}

// ReportFailure counts a failed live call against the capability's
// consecutive error counter. The next successful probe resets it.
func (m *Monitor) ReportFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[name]++
	if err != nil {
		m.lastError[name] = err.Error()
	}
}

// Start runs a cycle immediately and then every Interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	go func() {
		defer ticker.Stop()
		m.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce probes both capabilities once. It reports false when another cycle
// was already running and this one was skipped.
func (m *Monitor) RunOnce(ctx context.Context) (AggregateHealth, bool) {
	if !m.running.CompareAndSwap(false, true) {
		m.opts.Logger.Debug("health cycle skipped, previous still running")
		return AggregateHealth{}, false
	}
	defer m.running.Store(false)

	var specialized, general Verdict
	var g errgroup.Group
	g.Go(func() error {
		specialized = m.probe(ctx, m.pair.Specialized)
		return nil
	})
	g.Go(func() error {
		general = m.probe(ctx, m.pair.General)
		return nil
	})
	_ = g.Wait()

	agg := Aggregate(specialized, general)
	m.mu.Lock()
	m.latest = agg
	m.hasLatest = true
	m.mu.Unlock()

	m.record(agg)
	if err := m.opts.Store.Save(ctx, agg); err != nil {
		m.opts.Logger.Warn("persist health verdict failed", "error", err)
	}
	for _, sink := range m.opts.Sinks {
		if err := sink.Publish(ctx, agg); err != nil {
			m.opts.Logger.Warn("publish health verdict failed", "error", err)
		}
	}
	if agg.Status != StatusHealthy {
		m.broadcast(ctx, agg)
	}
	return agg, true
}

// probe runs one bounded check. Failures are not retried within the cycle.
func (m *Monitor) probe(ctx context.Context, c capability.Capability) Verdict {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	started := m.opts.Clock.Now()
	err := c.Probe(probeCtx)
	finished := m.opts.Clock.Now()

	name := c.Name()
	m.mu.Lock()
	defer m.mu.Unlock()
	v := Verdict{
		Capability:   name,
		Healthy:      err == nil,
		CheckedAt:    finished,
		ResponseTime: finished.Sub(started),
	}
	if err != nil {
		m.errors[name]++
		m.lastError[name] = strings.TrimSpace(err.Error())
	} else {
		m.errors[name] = 0
		delete(m.lastError, name)
	}
	v.ConsecutiveErrors = m.errors[name]
	v.LastError = m.lastError[name]
	return v
}

func (m *Monitor) broadcast(ctx context.Context, agg AggregateHealth) {
	if m.opts.Broadcaster == nil {
		return
	}
	res, err := m.opts.Broadcaster.Broadcast(ctx, protocol.OK(protocol.EventHealthStatus, "", agg.Notice()))
	if err != nil {
		m.opts.Logger.Warn("health broadcast failed", "status", agg.Status, "error", err)
		return
	}
	m.opts.Logger.Info("health broadcast sent",
		"status", agg.Status,
		"recommend_fallback", agg.RecommendFallback,
		"delivered", res.Delivered,
		"failed", res.Failed,
	)
}

func (m *Monitor) record(agg AggregateHealth) {
	if m.opts.Metrics == nil {
		return
	}
	m.opts.Metrics.HealthCycles.WithLabelValues(string(agg.Status)).Inc()
	for _, v := range []Verdict{agg.Specialized, agg.General} {
		value := 0.0
		if v.Healthy {
			value = 1
		}
		m.opts.Metrics.HealthStatus.WithLabelValues(v.Capability).Set(value)
	}
}
