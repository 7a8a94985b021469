package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCapability produces deterministic local results for development and
// tests. SetFailure makes both Process and Probe fail until cleared.
type MockCapability struct {
	name       string
	confidence float64

	mu      sync.RWMutex
	failure error
	calls   int
}

func NewMockCapability(name string, confidence float64) *MockCapability {
	return &MockCapability{name: name, confidence: confidence}
}

func (m *MockCapability) Name() string { return m.name }

func (m *MockCapability) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MockCapability) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MockCapability) Process(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	m.calls++
	failure := m.failure
	m.mu.Unlock()
	if failure != nil {
		return Result{}, &Error{Capability: m.name, Operation: req.Operation, Err: failure}
	}

	res := Result{Confidence: m.confidence, Capability: m.name}
	switch req.Operation {
	case OpTranscribe:
		res.Text = fmt.Sprintf("[%s] %d bytes of speech", req.SourceLanguage, len(req.Audio))
	case OpTranslate:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return Result{}, &Error{Capability: m.name, Operation: req.Operation, Err: fmt.Errorf("text is required")}
		}
		res.Text = fmt.Sprintf("[%s] %s", req.TargetLanguage, text)
	case OpSynthesize:
		res.Audio = []byte(strings.TrimSpace(req.Text))
		res.Format = "pcm_16000"
	default:
		return Result{}, &Error{Capability: m.name, Operation: req.Operation, Err: ErrUnsupportedOperation}
	}
	return res, nil
}

func (m *MockCapability) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure
}
