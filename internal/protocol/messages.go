package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Action identifies the request variants a client may send.
type Action string

const (
	ActionStartTranscription Action = "startTranscription"
	ActionAudioChunk         Action = "audioChunk"
	ActionStopTranscription  Action = "stopTranscription"
	ActionTranslate          Action = "translate"
	ActionSynthesizeSpeech   Action = "synthesizeSpeech"
	ActionPing               Action = "ping"
)

// Response and event action names.
const (
	EventTranscriptionStarted = "transcriptionStarted"
	EventTranscriptionResult  = "transcriptionResult"
	EventTranscriptionStopped = "transcriptionStopped"
	EventTranscriptionError   = "transcriptionError"
	EventTranslateResponse    = "translateResponse"
	EventTranslationError     = "translationError"
	EventSynthesizeResponse   = "synthesizeSpeechResponse"
	EventSynthesisError       = "synthesisError"
	EventPong                 = "pong"
	EventError                = "error"
	EventConnected            = "connected"
	EventHealthStatus         = "healthStatus"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

var knownActions = [...]Action{
	ActionStartTranscription,
	ActionAudioChunk,
	ActionStopTranscription,
	ActionTranslate,
	ActionSynthesizeSpeech,
	ActionPing,
}

// Actions lists every recognized action in declaration order.
func Actions() []Action {
	out := make([]Action, len(knownActions))
	copy(out, knownActions[:])
	return out
}

func (a Action) Known() bool {
	for _, k := range knownActions {
		if a == k {
			return true
		}
	}
	return false
}

// Envelope is the request unit a client writes to the channel.
type Envelope struct {
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Response is written back for every envelope and for unsolicited events.
type Response struct {
	Success   bool            `json:"success"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

func NewRequestID() string {
	return uuid.NewString()
}

// NewEnvelope builds an envelope with data marshalled to JSON.
func NewEnvelope(action Action, sessionID string, data any) (Envelope, error) {
	env := Envelope{Action: action, SessionID: sessionID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s data: %w", action, err)
		}
		env.Data = raw
	}
	return env, nil
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	env.Action = Action(strings.TrimSpace(string(env.Action)))
	if env.Action == "" {
		return Envelope{}, fmt.Errorf("%w: missing action", ErrInvalidEnvelope)
	}
	return env, nil
}

func ParseResponse(raw []byte) (Response, error) {
	var res Response
	if err := json.Unmarshal(raw, &res); err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	if strings.TrimSpace(res.Action) == "" {
		return Response{}, errors.New("invalid response: missing action")
	}
	return res, nil
}

// DecodeData unmarshals an envelope or response payload into out.
// An empty payload leaves out untouched.
func DecodeData(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

func OK(action, requestID string, data any) Response {
	res := Response{Success: true, Action: action, RequestID: requestID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Fail(EventError, requestID, fmt.Sprintf("marshal response: %v", err))
		}
		res.Data = raw
	}
	return res
}

func Fail(action, requestID, msg string) Response {
	return Response{Success: false, Action: action, Error: msg, RequestID: requestID}
}

// UnknownAction is the fixed failure returned for unrecognized action names.
func UnknownAction(name, requestID string) Response {
	return Fail(EventError, requestID, "Unknown action: "+name)
}
