package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubAdvisor bool

func (a stubAdvisor) RecommendFallback() bool { return bool(a) }

type recordingReporter struct {
	mu     sync.Mutex
	failed []string
}

func (r *recordingReporter) ReportFailure(name string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, name)
}

func newMockPairForTest() (Pair, *MockCapability, *MockCapability) {
	spec := NewMockCapability(NameSpecialized, 0.9)
	gen := NewMockCapability(NameGeneral, 0.7)
	return Pair{Specialized: spec, General: gen}, spec, gen
}

func TestFailoverPrefersSpecialized(t *testing.T) {
	pair, spec, gen := newMockPairForTest()
	f := NewFailover(pair, stubAdvisor(false), nil, nil, nil)

	res, err := f.Process(context.Background(), Request{Operation: OpTranslate, Text: "hello", TargetLanguage: "es-US"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Capability != NameSpecialized || res.Text != "[es-US] hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if spec.Calls() != 1 || gen.Calls() != 0 {
		t.Fatalf("calls = %d/%d, want 1/0", spec.Calls(), gen.Calls())
	}
}

func TestFailoverFallsBackOnError(t *testing.T) {
	pair, spec, _ := newMockPairForTest()
	spec.SetFailure(errors.New("model overloaded"))
	reporter := &recordingReporter{}
	f := NewFailover(pair, stubAdvisor(false), reporter, nil, nil)

	res, err := f.Process(context.Background(), Request{Operation: OpTranscribe, Audio: []byte{1, 2, 3}, SourceLanguage: "en-US"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Capability != NameGeneral {
		t.Fatalf("Capability = %q, want general", res.Capability)
	}
	if len(reporter.failed) != 1 || reporter.failed[0] != NameSpecialized {
		t.Fatalf("reported failures = %v, want [specialized]", reporter.failed)
	}
}

func TestFailoverAdvisorRoutesToGeneralFirst(t *testing.T) {
	pair, spec, gen := newMockPairForTest()
	f := NewFailover(pair, stubAdvisor(true), nil, nil, nil)

	res, err := f.Process(context.Background(), Request{Operation: OpSynthesize, Text: "hola"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Capability != NameGeneral || string(res.Audio) != "hola" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if spec.Calls() != 0 || gen.Calls() != 1 {
		t.Fatalf("calls = %d/%d, want 0/1", spec.Calls(), gen.Calls())
	}
}

func TestFailoverBothFail(t *testing.T) {
	pair, spec, gen := newMockPairForTest()
	spec.SetFailure(errors.New("spec down"))
	gen.SetFailure(errors.New("gen down"))
	reporter := &recordingReporter{}
	f := NewFailover(pair, nil, reporter, nil, nil)

	_, err := f.Process(context.Background(), Request{Operation: OpTranslate, Text: "x", TargetLanguage: "fr"})
	var capErr *Error
	if !errors.As(err, &capErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if capErr.Capability != NameGeneral {
		t.Fatalf("wrapped capability = %q, want general", capErr.Capability)
	}
	if len(reporter.failed) != 2 {
		t.Fatalf("reported failures = %v, want 2", reporter.failed)
	}
}

func TestNewPairModes(t *testing.T) {
	pair, err := NewPair(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewPair(auto) error = %v", err)
	}
	if _, ok := pair.Specialized.(*MockCapability); !ok {
		t.Fatalf("auto without urls should use mocks, got %T", pair.Specialized)
	}
	pair, err = NewPair(Config{Mode: "auto", SpecializedURL: "http://a", GeneralURL: "http://b"})
	if err != nil {
		t.Fatalf("NewPair(auto urls) error = %v", err)
	}
	if _, ok := pair.General.(*HTTPCapability); !ok {
		t.Fatalf("auto with urls should use http, got %T", pair.General)
	}
	if _, err := NewPair(Config{Mode: "http"}); err == nil {
		t.Fatalf("NewPair(http) without urls should fail")
	}
	if _, err := NewPair(Config{Mode: "grpc"}); err == nil {
		t.Fatalf("NewPair(grpc) should fail")
	}
}
