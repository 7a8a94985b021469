// Package health probes the capability pair on a fixed interval and derives
// the failover recommendation read by request handlers.
package health

import (
	"time"

	"github.com/ent0n29/parlance/internal/protocol"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Verdict is the result of probing one capability in one cycle.
type Verdict struct {
	Capability        string        `json:"capability"`
	Healthy           bool          `json:"healthy"`
	CheckedAt         time.Time     `json:"checkedAt"`
	ConsecutiveErrors int           `json:"consecutiveErrors"`
	LastError         string        `json:"lastError,omitempty"`
	ResponseTime      time.Duration `json:"responseTime,omitempty"`
}

type AggregateHealth struct {
	Status            Status    `json:"status"`
	RecommendFallback bool      `json:"recommendFallback"`
	Message           string    `json:"message,omitempty"`
	CheckedAt         time.Time `json:"checkedAt"`
	Specialized       Verdict   `json:"specialized"`
	General           Verdict   `json:"general"`
}

// Aggregate folds the two verdicts: healthy when both are healthy, unhealthy
// when neither is, degraded otherwise. Fallback is recommended exactly when
// the specialized capability is down and the general one is up.
func Aggregate(specialized, general Verdict) AggregateHealth {
	agg := AggregateHealth{
		Specialized:       specialized,
		General:           general,
		RecommendFallback: !specialized.Healthy && general.Healthy,
		CheckedAt:         specialized.CheckedAt,
	}
	if general.CheckedAt.After(agg.CheckedAt) {
		agg.CheckedAt = general.CheckedAt
	}
	switch {
	case specialized.Healthy && general.Healthy:
		agg.Status = StatusHealthy
	case !specialized.Healthy && !general.Healthy:
		agg.Status = StatusUnhealthy
	default:
		agg.Status = StatusDegraded
	}
	agg.Message = DegradationMessage(agg)
	return agg
}

// DegradationMessage returns the user-facing notice for a non-healthy
// aggregate, or "" when everything is healthy.
func DegradationMessage(agg AggregateHealth) string {
	switch {
	case agg.Specialized.Healthy && agg.General.Healthy:
		return ""
	case !agg.Specialized.Healthy && agg.General.Healthy:
		return "Specialized transcription is unavailable. Requests are falling back to the general capability; accuracy may be reduced."
	case agg.Specialized.Healthy && !agg.General.Healthy:
		return "The general capability is unavailable. Specialized transcription remains available."
	default:
		return "Translation service is temporarily unavailable. Please try again shortly."
	}
}

// Notice renders the aggregate as the healthStatus broadcast payload.
func (a AggregateHealth) Notice() protocol.HealthNotice {
	return protocol.HealthNotice{
		Status:            string(a.Status),
		Message:           a.Message,
		RecommendFallback: a.RecommendFallback,
		CheckedAt:         a.CheckedAt,
		Capabilities:      []protocol.CapabilityHealth{a.Specialized.wire(), a.General.wire()},
	}
}

func (v Verdict) wire() protocol.CapabilityHealth {
	return protocol.CapabilityHealth{
		Name:              v.Capability,
		Healthy:           v.Healthy,
		ConsecutiveErrors: v.ConsecutiveErrors,
		LastError:         v.LastError,
		ResponseTimeMS:    float64(v.ResponseTime.Microseconds()) / 1000,
	}
}
