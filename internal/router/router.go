// Package router dispatches inbound envelopes to session and capability logic
// and always answers with a response envelope.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ent0n29/parlance/internal/capability"
	"github.com/ent0n29/parlance/internal/clock"
	"github.com/ent0n29/parlance/internal/observability"
	"github.com/ent0n29/parlance/internal/protocol"
	"github.com/ent0n29/parlance/internal/redact"
	"github.com/ent0n29/parlance/internal/session"
)

// Processor runs one downstream capability call. *capability.Failover
// is the production implementation.
type Processor interface {
	Process(ctx context.Context, req capability.Request) (capability.Result, error)
}

type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

type Router struct {
	sessions  *session.Manager
	processor Processor
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func New(sessions *session.Manager, processor Processor, opts Options) *Router {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		sessions:  sessions,
		processor: processor,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

type handlerFunc func(r *Router, ctx context.Context, connectionID string, env protocol.Envelope) (any, error)

type route struct {
	handle handlerFunc
	ok     string
	fail   string
}

// routeFor is the dispatch table. Every protocol.Action has a case.
func routeFor(action protocol.Action) (route, bool) {
	switch action {
	case protocol.ActionStartTranscription:
		return route{(*Router).startTranscription, protocol.EventTranscriptionStarted, protocol.EventTranscriptionError}, true
	case protocol.ActionAudioChunk:
		return route{(*Router).audioChunk, protocol.EventTranscriptionResult, protocol.EventTranscriptionError}, true
	case protocol.ActionStopTranscription:
		return route{(*Router).stopTranscription, protocol.EventTranscriptionStopped, protocol.EventTranscriptionError}, true
	case protocol.ActionTranslate:
		return route{(*Router).translate, protocol.EventTranslateResponse, protocol.EventTranslationError}, true
	case protocol.ActionSynthesizeSpeech:
		return route{(*Router).synthesizeSpeech, protocol.EventSynthesizeResponse, protocol.EventSynthesisError}, true
	case protocol.ActionPing:
		return route{(*Router).ping, protocol.EventPong, protocol.EventError}, true
	default:
		return route{}, false
	}
}

// HandleRaw parses and dispatches one wire message.
func (r *Router) HandleRaw(ctx context.Context, connectionID string, raw []byte) protocol.Response {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		return protocol.Fail(protocol.EventError, "", err.Error())
	}
	return r.Handle(ctx, connectionID, env)
}

// Handle never panics and never returns an error: every failure becomes a
// failed response carrying the request id.
func (r *Router) Handle(ctx context.Context, connectionID string, env protocol.Envelope) (res protocol.Response) {
	rt, ok := routeFor(env.Action)
	if !ok {
		r.logger.Debug("unknown action", "connection_id", connectionID, "action", env.Action)
		return protocol.UnknownAction(string(env.Action), env.RequestID)
	}

	started := r.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("action handler panicked",
				"connection_id", connectionID,
				"action", env.Action,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			res = protocol.Fail(rt.fail, env.RequestID, "internal error")
		}
		if r.metrics != nil {
			r.metrics.WSMessages.WithLabelValues("in", string(env.Action)).Inc()
			r.metrics.ObserveAction(string(env.Action), r.clock.Now().Sub(started), res.Success)
		}
	}()

	data, err := rt.handle(r, ctx, connectionID, env)
	if err != nil {
		return protocol.Fail(rt.fail, env.RequestID, r.errorMessage(connectionID, env, err))
	}
	return protocol.OK(rt.ok, env.RequestID, data)
}

// errorMessage surfaces taxonomy errors verbatim and hides everything else.
func (r *Router) errorMessage(connectionID string, env protocol.Envelope, err error) string {
	var capErr *capability.Error
	switch {
	case errors.Is(err, session.ErrValidation),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrInvalidState):
		return err.Error()
	case errors.As(err, &capErr):
		r.logger.Warn("capability call failed",
			"connection_id", connectionID, "action", env.Action, "session_id", env.SessionID, "error", redact.Error(err))
		return fmt.Sprintf("%s failed: %s", capErr.Operation, redact.Error(capErr.Err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	default:
		r.logger.Error("action failed",
			"connection_id", connectionID, "action", env.Action, "session_id", env.SessionID, "error", redact.Error(err))
		return "internal error"
	}
}
