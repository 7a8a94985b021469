// Package capability defines the downstream processing pair (specialized and
// general) behind transcription, translation and speech synthesis.
package capability

import (
	"context"
	"errors"
	"fmt"
)

type Operation string

const (
	OpTranscribe Operation = "transcribe"
	OpTranslate  Operation = "translate"
	OpSynthesize Operation = "synthesize"
)

const (
	NameSpecialized = "specialized"
	NameGeneral     = "general"
)

type Request struct {
	Operation      Operation         `json:"operation"`
	Text           string            `json:"text,omitempty"`
	Audio          []byte            `json:"audio,omitempty"`
	SourceLanguage string            `json:"sourceLanguage,omitempty"`
	TargetLanguage string            `json:"targetLanguage,omitempty"`
	VoiceID        string            `json:"voiceId,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
}

type Result struct {
	Text       string  `json:"text,omitempty"`
	Audio      []byte  `json:"audio,omitempty"`
	Format     string  `json:"format,omitempty"`
	Confidence float64 `json:"confidence"`
	// Capability names the implementation that produced the result.
	Capability string `json:"-"`
}

// Capability is one downstream processing backend.
type Capability interface {
	Name() string
	Process(ctx context.Context, req Request) (Result, error)
	// Probe is a cheap liveness check bounded by ctx.
	Probe(ctx context.Context) error
}

var ErrUnsupportedOperation = errors.New("unsupported operation")

// Error is a downstream processing failure.
type Error struct {
	Capability string
	Operation  Operation
	Status     int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("capability %s %s: status %d: %v", e.Capability, e.Operation, e.Status, e.Err)
	}
	return fmt.Sprintf("capability %s %s: %v", e.Capability, e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapError(name string, op Operation, err error) error {
	var capErr *Error
	if errors.As(err, &capErr) {
		return err
	}
	return &Error{Capability: name, Operation: op, Err: err}
}
