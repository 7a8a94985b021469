package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// ActionLatencyStats summarizes the retained samples of one action. Values
// are milliseconds rounded to two decimals.
type ActionLatencyStats struct {
	Action      string  `json:"action"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencySnapshot is the /v1/perf/latency body.
type LatencySnapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	WindowSize  int                  `json:"window_size"`
	Actions     []ActionLatencyStats `json:"actions"`
	Indicators  []Indicator          `json:"indicators,omitempty"`
}

// p95 budgets per realtime action; actions without one omit the target.
var actionTargetsMS = map[string]float64{
	"ping":               20,
	"startTranscription": 150,
	"stopTranscription":  150,
	"audioChunk":         900,
	"translate":          800,
	"synthesizeSpeech":   1500,
}

type latencyWindow struct {
	size int

	mu      sync.Mutex
	rings   map[string]*sampleRing
	counted map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:    size,
		rings:   make(map[string]*sampleRing),
		counted: make(map[string]int),
	}
}

// Observe records one handling time. Blank actions and negative values are ignored.
func (w *latencyWindow) Observe(action string, ms float64) {
	if action == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[action]
	if r == nil {
		r = &sampleRing{buf: make([]float64, w.size)}
		w.rings[action] = r
	}
	r.push(ms)
}

func (w *latencyWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	w.mu.Lock()
	w.counted[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Actions:     make([]ActionLatencyStats, 0, len(w.rings)),
	}
	for _, action := range slices.Sorted(maps.Keys(w.rings)) {
		if stats, ok := w.rings[action].summarize(action); ok {
			snap.Actions = append(snap.Actions, stats)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.counted)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.counted[name]})
	}
	return snap
}

// sampleRing overwrites its oldest value once full.
type sampleRing struct {
	buf  []float64
	n    int
	pos  int
	last float64
}

func (r *sampleRing) push(v float64) {
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	r.n = min(r.n+1, len(r.buf))
	r.last = v
}

func (r *sampleRing) summarize(action string) (ActionLatencyStats, bool) {
	if r.n == 0 {
		return ActionLatencyStats{}, false
	}
	sorted := slices.Clone(r.buf[:r.n])
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return ActionLatencyStats{
		Action:      action,
		Samples:     r.n,
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(r.n)),
		P50MS:       round2(quantile(sorted, 0.50)),
		P95MS:       round2(quantile(sorted, 0.95)),
		P99MS:       round2(quantile(sorted, 0.99)),
		TargetP95MS: actionTargetsMS[action],
	}, true
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
