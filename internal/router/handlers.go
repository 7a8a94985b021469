package router

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/ent0n29/parlance/internal/capability"
	"github.com/ent0n29/parlance/internal/protocol"
	"github.com/ent0n29/parlance/internal/session"
)

func (r *Router) startTranscription(ctx context.Context, connectionID string, env protocol.Envelope) (any, error) {
	var data protocol.StartTranscriptionData
	if err := decode(env, &data); err != nil {
		return nil, err
	}
	s, err := r.sessions.StartSession(ctx, data.InputLanguage, data.OutputLanguage, session.Options{ConnectionID: connectionID})
	if err != nil {
		return nil, err
	}
	r.sessionEvent("start")
	r.logger.Info("session started",
		"session_id", s.ID, "connection_id", connectionID,
		"input_language", s.InputLanguage, "output_language", s.OutputLanguage)
	return protocol.TranscriptionStarted{
		SessionID:      s.ID,
		InputLanguage:  s.InputLanguage,
		OutputLanguage: s.OutputLanguage,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
	}, nil
}

func (r *Router) audioChunk(ctx context.Context, connectionID string, env protocol.Envelope) (any, error) {
	if err := requireSession(env); err != nil {
		return nil, err
	}
	var data protocol.AudioChunkData
	if err := decode(env, &data); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data.AudioBase64))
	if err != nil {
		return nil, &session.ValidationError{Field: "audio", Reason: "must be base64"}
	}
	if len(audio) == 0 {
		return nil, &session.ValidationError{Field: "audio", Reason: "is required"}
	}

	s, err := r.sessions.Touch(ctx, env.SessionID, connectionID)
	if err != nil {
		return nil, err
	}
	if s.Status != session.StatusActive {
		return nil, &session.InvalidStateError{SessionID: s.ID, Op: "audioChunk", Status: s.Status}
	}

	transcript, err := r.processor.Process(ctx, capability.Request{
		Operation:      capability.OpTranscribe,
		Audio:          audio,
		SourceLanguage: s.InputLanguage,
	})
	if err != nil {
		return nil, err
	}
	out := protocol.TranscriptionResult{
		SessionID:      s.ID,
		Sequence:       data.Sequence,
		Transcript:     transcript.Text,
		Confidence:     transcript.Confidence,
		Capability:     transcript.Capability,
		InputLanguage:  s.InputLanguage,
		OutputLanguage: s.OutputLanguage,
		IsFinal:        data.IsFinal,
	}
	if strings.TrimSpace(transcript.Text) == "" || strings.EqualFold(s.InputLanguage, s.OutputLanguage) {
		return out, nil
	}

	translated, err := r.processor.Process(ctx, capability.Request{
		Operation:      capability.OpTranslate,
		Text:           transcript.Text,
		SourceLanguage: s.InputLanguage,
		TargetLanguage: s.OutputLanguage,
	})
	if err != nil {
		return nil, err
	}
	out.Translation = translated.Text
	return out, nil
}

func (r *Router) stopTranscription(ctx context.Context, connectionID string, env protocol.Envelope) (any, error) {
	if err := requireSession(env); err != nil {
		return nil, err
	}
	s, err := r.sessions.Stop(ctx, env.SessionID)
	if err != nil {
		return nil, err
	}
	r.sessionEvent("stop")
	r.logger.Info("session stopped", "session_id", s.ID, "connection_id", connectionID)
	return protocol.TranscriptionStopped{
		SessionID:      s.ID,
		Status:         string(s.Status),
		LastActivityAt: s.LastActivityAt,
	}, nil
}

func (r *Router) translate(ctx context.Context, connectionID string, env protocol.Envelope) (any, error) {
	var data protocol.TranslateData
	if err := decode(env, &data); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(data.Text)
	if text == "" {
		return nil, &session.ValidationError{Field: "text", Reason: "is required"}
	}
	source := strings.TrimSpace(data.SourceLanguage)
	target := strings.TrimSpace(data.TargetLanguage)
	if env.SessionID != "" {
		s, err := r.sessions.Touch(ctx, env.SessionID, connectionID)
		if err != nil {
			return nil, err
		}
		if source == "" {
			source = s.InputLanguage
		}
		if target == "" {
			target = s.OutputLanguage
		}
	}
	if target == "" {
		return nil, &session.ValidationError{Field: "targetLanguage", Reason: "is required"}
	}
	if strings.EqualFold(source, target) {
		return nil, &session.ValidationError{Field: "targetLanguage", Reason: "must differ from sourceLanguage"}
	}

	res, err := r.processor.Process(ctx, capability.Request{
		Operation:      capability.OpTranslate,
		Text:           text,
		SourceLanguage: source,
		TargetLanguage: target,
	})
	if err != nil {
		return nil, err
	}
	return protocol.TranslationResult{
		TranslatedText: res.Text,
		SourceLanguage: source,
		TargetLanguage: target,
		Confidence:     res.Confidence,
		Capability:     res.Capability,
	}, nil
}

func (r *Router) synthesizeSpeech(ctx context.Context, connectionID string, env protocol.Envelope) (any, error) {
	var data protocol.SynthesizeSpeechData
	if err := decode(env, &data); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(data.Text)
	if text == "" {
		return nil, &session.ValidationError{Field: "text", Reason: "is required"}
	}
	language := strings.TrimSpace(data.Language)
	if env.SessionID != "" {
		s, err := r.sessions.Touch(ctx, env.SessionID, connectionID)
		if err != nil {
			return nil, err
		}
		if language == "" {
			language = s.OutputLanguage
		}
	}
	if language == "" {
		return nil, &session.ValidationError{Field: "language", Reason: "is required"}
	}

	res, err := r.processor.Process(ctx, capability.Request{
		Operation:      capability.OpSynthesize,
		Text:           text,
		TargetLanguage: language,
		VoiceID:        strings.TrimSpace(data.VoiceID),
	})
	if err != nil {
		return nil, err
	}
	return protocol.SpeechResult{
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		Format:      res.Format,
		Language:    language,
		Capability:  res.Capability,
	}, nil
}

func (r *Router) ping(context.Context, string, protocol.Envelope) (any, error) {
	return protocol.Pong{Timestamp: r.clock.Now().UTC().Format(time.RFC3339Nano)}, nil
}

func (r *Router) sessionEvent(name string) {
	if r.metrics != nil {
		r.metrics.SessionEvents.WithLabelValues(name).Inc()
	}
}

func decode(env protocol.Envelope, out any) error {
	if err := protocol.DecodeData(env.Data, out); err != nil {
		return &session.ValidationError{Field: "data", Reason: err.Error()}
	}
	return nil
}

func requireSession(env protocol.Envelope) error {
	if strings.TrimSpace(env.SessionID) == "" {
		return &session.ValidationError{Field: "sessionId", Reason: "is required"}
	}
	return nil
}
