package protocol

import "time"

type StartTranscriptionData struct {
	InputLanguage  string            `json:"inputLanguage"`
	OutputLanguage string            `json:"outputLanguage"`
	Options        map[string]string `json:"options,omitempty"`
}

type AudioChunkData struct {
	AudioBase64 string `json:"audio"`
	Sequence    int    `json:"sequence"`
	SampleRate  int    `json:"sampleRate,omitempty"`
	IsFinal     bool   `json:"isFinal,omitempty"`
}

type TranslateData struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

type SynthesizeSpeechData struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	VoiceID  string `json:"voiceId,omitempty"`
}

type TranscriptionStarted struct {
	SessionID      string    `json:"sessionId"`
	InputLanguage  string    `json:"inputLanguage"`
	OutputLanguage string    `json:"outputLanguage"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type TranscriptionResult struct {
	SessionID      string  `json:"sessionId"`
	Sequence       int     `json:"sequence"`
	Transcript     string  `json:"transcript"`
	Translation    string  `json:"translation,omitempty"`
	Confidence     float64 `json:"confidence"`
	Capability     string  `json:"capability"`
	InputLanguage  string  `json:"inputLanguage"`
	OutputLanguage string  `json:"outputLanguage"`
	IsFinal        bool    `json:"isFinal,omitempty"`
}

type TranscriptionStopped struct {
	SessionID      string    `json:"sessionId"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

type TranslationResult struct {
	TranslatedText string  `json:"translatedText"`
	SourceLanguage string  `json:"sourceLanguage"`
	TargetLanguage string  `json:"targetLanguage"`
	Confidence     float64 `json:"confidence"`
	Capability     string  `json:"capability"`
}

type SpeechResult struct {
	AudioBase64 string `json:"audio"`
	Format      string `json:"format"`
	Language    string `json:"language"`
	Capability  string `json:"capability"`
}

type Pong struct {
	Timestamp string `json:"timestamp"`
}

type Connected struct {
	ConnectionID string `json:"connectionId"`
}

type CapabilityHealth struct {
	Name              string  `json:"name"`
	Healthy           bool    `json:"healthy"`
	ConsecutiveErrors int     `json:"consecutiveErrors"`
	LastError         string  `json:"lastError,omitempty"`
	ResponseTimeMS    float64 `json:"responseTimeMs,omitempty"`
}

// HealthNotice is the unsolicited degradation broadcast.
type HealthNotice struct {
	Status            string             `json:"status"`
	Message           string             `json:"message"`
	RecommendFallback bool               `json:"recommendFallback"`
	CheckedAt         time.Time          `json:"checkedAt"`
	Capabilities      []CapabilityHealth `json:"capabilities"`
}
