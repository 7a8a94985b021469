package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/parlance/internal/app"
	"github.com/ent0n29/parlance/internal/audio"
	"github.com/ent0n29/parlance/internal/config"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Config{
		MetricsNamespace:    "test_parlancectl_" + strings.ReplaceAll(t.Name(), "/", "_"),
		SessionTTL:          time.Hour,
		ConnectionTTL:       time.Hour,
		HandlerConcurrency:  4,
		CapabilityMode:      "mock",
		CapabilityTimeout:   time.Second,
		HealthCheckInterval: time.Hour,
		HealthProbeTimeout:  time.Second,
	}
	built, err := app.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Build() error = %v", err)
	}
	t.Cleanup(func() { _ = built.Cleanup() })
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/realtime/ws"
}

func TestPingCommand(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"ping", "-url", url}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "pong server_time=") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestTranslateCommand(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"translate", "-url", url, "-from", "en-US", "-to", "de-DE", "good", "evening"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "[de-DE] good evening") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestSmokeCommandWritesSpeech(t *testing.T) {
	url := startServer(t)
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "in.wav")
	if err := audio.WritePCM16File(wavPath, audio.Tone(16000, 500*time.Millisecond, 300), 16000); err != nil {
		t.Fatalf("write input wav: %v", err)
	}
	outPath := filepath.Join(dir, "out.wav")

	var stdout, stderr bytes.Buffer
	code := run([]string{"smoke", "-url", url, "-wav", wavPath, "-chunk-ms", "200", "-speak-out", outPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"session=", "chunk 3/3", "stopped status=ended", "speech written to"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read speech: %v", err)
	}
	if _, _, err := audio.DecodePCM16(data); err != nil {
		t.Fatalf("speech is not a valid wav: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"launch"},
		{"translate"},
		{"smoke", "-chunk-ms", "1"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(args, &stdout, &stderr); code != 2 {
			t.Fatalf("run(%v) = %d, want 2", args, code)
		}
	}
}

func TestSampleRateOf(t *testing.T) {
	if got := sampleRateOf("pcm_24000"); got != 24000 {
		t.Fatalf("sampleRateOf(pcm_24000) = %d", got)
	}
	if got := sampleRateOf("mp3"); got != audio.DefaultSampleRate {
		t.Fatalf("sampleRateOf(mp3) = %d", got)
	}
}
