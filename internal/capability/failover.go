package capability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/parlance/internal/observability"
	"github.com/ent0n29/parlance/internal/redact"
)

// Advisor reports whether calls should go to the general capability first.
type Advisor interface {
	RecommendFallback() bool
}

// FailureReporter receives failed calls so health counters reflect live traffic.
type FailureReporter interface {
	ReportFailure(capability string, err error)
}

// Failover prefers the specialized capability and falls back to the general
// one on error. When the advisor recommends fallback the order is reversed.
type Failover struct {
	pair     Pair
	advisor  Advisor
	reporter FailureReporter
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewFailover(pair Pair, advisor Advisor, reporter FailureReporter, metrics *observability.Metrics, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		pair:     pair,
		advisor:  advisor,
		reporter: reporter,
		metrics:  metrics,
		logger:   logger,
	}
}

func (f *Failover) Process(ctx context.Context, req Request) (Result, error) {
	first, second := f.pair.Specialized, f.pair.General
	if f.advisor != nil && f.advisor.RecommendFallback() {
		first, second = second, first
	}

	res, firstErr := f.call(ctx, first, req)
	if firstErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, firstErr
	}
	if f.metrics != nil {
		f.metrics.ObserveIndicator("fallback_" + second.Name())
	}
	f.logger.Warn("capability failed, trying fallback",
		"operation", req.Operation, "failed", first.Name(), "fallback", second.Name(), "error", redact.Error(firstErr))

	res, secondErr := f.call(ctx, second, req)
	if secondErr != nil {
		return Result{}, fmt.Errorf("%s failed: %v; %s failed: %w", first.Name(), firstErr, second.Name(), secondErr)
	}
	return res, nil
}

func (f *Failover) call(ctx context.Context, c Capability, req Request) (Result, error) {
	if f.metrics != nil {
		f.metrics.CapabilityCalls.WithLabelValues(c.Name(), string(req.Operation)).Inc()
	}
	res, err := c.Process(ctx, req)
	if err != nil {
		if f.metrics != nil {
			f.metrics.CapabilityErrors.WithLabelValues(c.Name(), string(req.Operation)).Inc()
		}
		if f.reporter != nil && ctx.Err() == nil {
			f.reporter.ReportFailure(c.Name(), err)
		}
		return Result{}, wrapError(c.Name(), req.Operation, err)
	}
	res.Capability = c.Name()
	return res, nil
}
