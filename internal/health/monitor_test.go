package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/parlance/internal/capability"
	"github.com/ent0n29/parlance/internal/clock"
	"github.com/ent0n29/parlance/internal/connections"
	"github.com/ent0n29/parlance/internal/protocol"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []protocol.Response
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, res protocol.Response) (connections.BroadcastResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, res)
	return connections.BroadcastResult{Delivered: 1}, nil
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type recordingSink struct {
	published []Status
}

func (s *recordingSink) Publish(_ context.Context, agg AggregateHealth) error {
	s.published = append(s.published, agg.Status)
	return nil
}

func (s *recordingSink) Close() error { return nil }

type blockingCapability struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCapability) Name() string { return capability.NameSpecialized }

func (b *blockingCapability) Process(context.Context, capability.Request) (capability.Result, error) {
	return capability.Result{}, nil
}

func (b *blockingCapability) Probe(ctx context.Context) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

type hangingCapability struct{}

func (hangingCapability) Name() string { return capability.NameSpecialized }

func (hangingCapability) Process(context.Context, capability.Request) (capability.Result, error) {
	return capability.Result{}, nil
}

func (hangingCapability) Probe(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestMonitor(t *testing.T) (*Monitor, *capability.MockCapability, *capability.MockCapability, *recordingBroadcaster, *InMemoryStore) {
	t.Helper()
	spec := capability.NewMockCapability(capability.NameSpecialized, 0.9)
	gen := capability.NewMockCapability(capability.NameGeneral, 0.8)
	store := NewInMemoryStore()
	b := &recordingBroadcaster{}
	m := NewMonitor(capability.Pair{Specialized: spec, General: gen}, Options{
		Store:       store,
		Broadcaster: b,
		Clock:       clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	return m, spec, gen, b, store
}

func TestMonitorDegradedCycleBroadcastsAndRecommendsFallback(t *testing.T) {
	ctx := context.Background()
	m, spec, _, b, store := newTestMonitor(t)
	spec.SetFailure(errors.New("model unavailable"))

	agg, ran := m.RunOnce(ctx)
	if !ran {
		t.Fatalf("RunOnce() skipped")
	}
	if agg.Status != StatusDegraded || !agg.RecommendFallback {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	if agg.Specialized.ConsecutiveErrors != 1 || agg.Specialized.LastError != "model unavailable" {
		t.Fatalf("unexpected specialized verdict: %+v", agg.Specialized)
	}
	if !m.RecommendFallback() {
		t.Fatalf("RecommendFallback() = false after degraded cycle")
	}
	if b.count() != 1 {
		t.Fatalf("broadcasts = %d, want 1", b.count())
	}
	if got := b.sent[0]; got.Action != protocol.EventHealthStatus || !got.Success {
		t.Fatalf("unexpected broadcast: %+v", got)
	}
	if store.Saved() != 1 {
		t.Fatalf("saved = %d, want 1", store.Saved())
	}

	agg, _ = m.RunOnce(ctx)
	if agg.Specialized.ConsecutiveErrors != 2 {
		t.Fatalf("ConsecutiveErrors = %d, want 2", agg.Specialized.ConsecutiveErrors)
	}
}

func TestMonitorHealthyCycleResetsCountersWithoutBroadcast(t *testing.T) {
	ctx := context.Background()
	m, spec, _, b, _ := newTestMonitor(t)
	spec.SetFailure(errors.New("down"))
	m.RunOnce(ctx)
	spec.SetFailure(nil)

	agg, _ := m.RunOnce(ctx)
	if agg.Status != StatusHealthy || agg.RecommendFallback {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	if agg.Specialized.ConsecutiveErrors != 0 || agg.Specialized.LastError != "" {
		t.Fatalf("counters not reset: %+v", agg.Specialized)
	}
	if b.count() != 1 {
		t.Fatalf("broadcasts = %d, want only the degraded one", b.count())
	}
}

func TestMonitorReportFailureFeedsCounter(t *testing.T) {
	m, _, gen, _, _ := newTestMonitor(t)
	m.ReportFailure(capability.NameGeneral, errors.New("500"))
	m.ReportFailure(capability.NameGeneral, errors.New("500"))
	gen.SetFailure(errors.New("probe failed"))

	agg, _ := m.RunOnce(context.Background())
	if agg.General.ConsecutiveErrors != 3 {
		t.Fatalf("ConsecutiveErrors = %d, want 3", agg.General.ConsecutiveErrors)
	}
	if agg.Status != StatusDegraded || agg.RecommendFallback {
		t.Fatalf("general-down aggregate = %+v, want degraded without fallback", agg)
	}
}

func TestMonitorSkipsOverlappingCycles(t *testing.T) {
	blocking := &blockingCapability{entered: make(chan struct{}, 1), release: make(chan struct{})}
	gen := capability.NewMockCapability(capability.NameGeneral, 0.8)
	m := NewMonitor(capability.Pair{Specialized: blocking, General: gen}, Options{})

	done := make(chan bool, 1)
	go func() {
		_, ran := m.RunOnce(context.Background())
		done <- ran
	}()
	<-blocking.entered

	if _, ran := m.RunOnce(context.Background()); ran {
		t.Fatalf("overlapping RunOnce() should be skipped")
	}
	close(blocking.release)
	if ran := <-done; !ran {
		t.Fatalf("first RunOnce() should have run")
	}
}

func TestMonitorPublishesToSinksAndRestores(t *testing.T) {
	ctx := context.Background()
	spec := capability.NewMockCapability(capability.NameSpecialized, 0.9)
	gen := capability.NewMockCapability(capability.NameGeneral, 0.8)
	spec.SetFailure(errors.New("down"))
	store := NewInMemoryStore()
	sink := &recordingSink{}
	pair := capability.Pair{Specialized: spec, General: gen}

	first := NewMonitor(pair, Options{Store: store, Sinks: []Sink{sink}})
	first.RunOnce(ctx)
	if len(sink.published) != 1 || sink.published[0] != StatusDegraded {
		t.Fatalf("published = %v, want [degraded]", sink.published)
	}

	restarted := NewMonitor(pair, Options{Store: store})
	if restarted.RecommendFallback() {
		t.Fatalf("RecommendFallback() before Restore should be false")
	}
	if err := restarted.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !restarted.RecommendFallback() {
		t.Fatalf("RecommendFallback() after Restore = false, want true")
	}
}

func TestMonitorHungCheckCountsAsUnhealthy(t *testing.T) {
	gen := capability.NewMockCapability(capability.NameGeneral, 0.8)
	b := &recordingBroadcaster{}
	m := NewMonitor(capability.Pair{Specialized: hangingCapability{}, General: gen}, Options{
		ProbeTimeout: 50 * time.Millisecond,
		Broadcaster:  b,
		Clock:        clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})

	started := time.Now()
	agg, ran := m.RunOnce(context.Background())
	if !ran {
		t.Fatalf("RunOnce() skipped")
	}
	if took := time.Since(started); took > 2*time.Second {
		t.Fatalf("cycle took %v, want it bounded by ProbeTimeout", took)
	}
	if agg.Specialized.Healthy || !strings.Contains(agg.Specialized.LastError, "deadline exceeded") {
		t.Fatalf("specialized verdict = %+v, want unhealthy after deadline", agg.Specialized)
	}
	if !agg.General.Healthy {
		t.Fatalf("general verdict = %+v, want healthy", agg.General)
	}
	if agg.Status != StatusDegraded || !agg.RecommendFallback {
		t.Fatalf("aggregate = %+v, want degraded with fallback", agg)
	}
	if b.count() != 1 {
		t.Fatalf("broadcasts = %d, want 1", b.count())
	}
}
