package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/parlance/internal/audio"
	"github.com/ent0n29/parlance/internal/logging"
	"github.com/ent0n29/parlance/internal/protocol"
	"github.com/ent0n29/parlance/internal/realtime"
)

const usage = `usage: parlancectl <command> [flags]

commands:
  ping       round-trip a ping and print the latency
  translate  translate the remaining arguments as text
  smoke      start a session, stream audio chunks, stop, optionally synthesize
`

type options struct {
	url      string
	timeout  time.Duration
	verbose  bool
	from     string
	to       string
	wavPath  string
	chunk    time.Duration
	realtime float64
	speakOut string
	texts    []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd := args[0]
	cfg, err := parseFlags(cmd, args[1:], stderr)
	if err != nil {
		fmt.Fprintf(stderr, "parlancectl: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd {
	case "ping":
		err = withClient(ctx, cfg, stderr, func(c *client) error { return runPing(ctx, c, stdout) })
	case "translate":
		err = withClient(ctx, cfg, stderr, func(c *client) error { return runTranslate(ctx, c, cfg, stdout) })
	case "smoke":
		err = withClient(ctx, cfg, stderr, func(c *client) error { return runSmoke(ctx, c, cfg, stdout) })
	default:
		fmt.Fprintf(stderr, "parlancectl: unknown command %q\n%s", cmd, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "parlancectl %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func parseFlags(cmd string, args []string, stderr io.Writer) (options, error) {
	var cfg options
	var chunkMS int
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.url, "url", "ws://127.0.0.1:8080/v1/realtime/ws", "realtime websocket URL")
	fs.DurationVar(&cfg.timeout, "timeout", 15*time.Second, "per-request response timeout")
	fs.BoolVar(&cfg.verbose, "verbose", false, "log connection status changes")
	fs.StringVar(&cfg.from, "from", "en-US", "input language")
	fs.StringVar(&cfg.to, "to", "es-US", "output language")
	fs.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file to stream (smoke); a synthetic tone when empty")
	fs.IntVar(&chunkMS, "chunk-ms", 250, "audio chunk size in milliseconds (smoke)")
	fs.Float64Var(&cfg.realtime, "realtime", 0, "chunk pacing multiplier, 0 sends as fast as possible (smoke)")
	fs.StringVar(&cfg.speakOut, "speak-out", "", "write the synthesized final translation to this WAV path (smoke)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.url = strings.TrimSpace(cfg.url)
	if cfg.url == "" {
		return options{}, errors.New("url is required")
	}
	if chunkMS < 10 || chunkMS > 5000 {
		return options{}, errors.New("chunk-ms must be in [10,5000]")
	}
	if cfg.realtime < 0 {
		return options{}, errors.New("realtime must be >= 0")
	}
	cfg.chunk = time.Duration(chunkMS) * time.Millisecond
	for _, t := range fs.Args() {
		if t = strings.TrimSpace(t); t != "" {
			cfg.texts = append(cfg.texts, t)
		}
	}
	if cmd == "translate" && len(cfg.texts) == 0 {
		return options{}, errors.New("translate needs text arguments")
	}
	return cfg, nil
}

type client struct {
	mgr *realtime.Manager
}

func withClient(ctx context.Context, cfg options, stderr io.Writer, fn func(*client) error) error {
	dialer, err := realtime.NewWebSocketDialer(cfg.url, nil)
	if err != nil {
		return err
	}
	level := "warn"
	if cfg.verbose {
		level = "debug"
	}
	logger := logging.New(stderr, level, "text")
	mgr, err := realtime.NewManager(realtime.Options{
		Dialer:               dialer,
		Logger:               logger,
		ResponseTimeout:      cfg.timeout,
		HeartbeatInterval:    -1,
		MaxReconnectAttempts: 2,
	})
	if err != nil {
		return err
	}
	if cfg.verbose {
		mgr.OnStatus(func(ev realtime.StatusEvent) {
			logger.Info("connection status",
				"state", ev.State, "previous", ev.Previous, "attempt", ev.Attempt)
		})
	}
	if err := mgr.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.url, err)
	}
	defer mgr.Disconnect()
	return fn(&client{mgr: mgr})
}

// call sends one request and decodes a successful response into out.
func (c *client) call(ctx context.Context, action protocol.Action, sessionID string, data, out any) (protocol.Response, error) {
	env, err := protocol.NewEnvelope(action, sessionID, data)
	if err != nil {
		return protocol.Response{}, err
	}
	res, err := c.mgr.SendMessage(ctx, env)
	if err != nil {
		return protocol.Response{}, err
	}
	if !res.Success {
		return res, fmt.Errorf("%s: %s", res.Action, res.Error)
	}
	if out != nil {
		if err := protocol.DecodeData(res.Data, out); err != nil {
			return res, err
		}
	}
	return res, nil
}

func runPing(ctx context.Context, c *client, stdout io.Writer) error {
	started := time.Now()
	var pong protocol.Pong
	if _, err := c.call(ctx, protocol.ActionPing, "", nil, &pong); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pong server_time=%s rtt_ms=%.1f\n", pong.Timestamp, float64(time.Since(started).Microseconds())/1000)
	return nil
}

func runTranslate(ctx context.Context, c *client, cfg options, stdout io.Writer) error {
	var out protocol.TranslationResult
	_, err := c.call(ctx, protocol.ActionTranslate, "", protocol.TranslateData{
		Text:           strings.Join(cfg.texts, " "),
		SourceLanguage: cfg.from,
		TargetLanguage: cfg.to,
	}, &out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (capability=%s confidence=%.2f)\n", out.TranslatedText, out.Capability, out.Confidence)
	return nil
}

func runSmoke(ctx context.Context, c *client, cfg options, stdout io.Writer) error {
	pcm, sampleRate, err := loadAudio(cfg.wavPath)
	if err != nil {
		return err
	}

	var started protocol.TranscriptionStarted
	if _, err := c.call(ctx, protocol.ActionStartTranscription, "", protocol.StartTranscriptionData{
		InputLanguage:  cfg.from,
		OutputLanguage: cfg.to,
	}, &started); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	fmt.Fprintf(stdout, "session=%s %s->%s audio=%s\n", started.SessionID, started.InputLanguage, started.OutputLanguage, audio.Duration(pcm, sampleRate))

	stopped := false
	defer func() {
		if !stopped {
			_, _ = c.call(context.WithoutCancel(ctx), protocol.ActionStopTranscription, started.SessionID, nil, nil)
		}
	}()

	frames := audio.Chunk(pcm, sampleRate, cfg.chunk)
	var last protocol.TranscriptionResult
	for i, frame := range frames {
		var result protocol.TranscriptionResult
		_, err := c.call(ctx, protocol.ActionAudioChunk, started.SessionID, protocol.AudioChunkData{
			AudioBase64: base64.StdEncoding.EncodeToString(frame),
			Sequence:    i,
			SampleRate:  sampleRate,
			IsFinal:     i == len(frames)-1,
		}, &result)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		fmt.Fprintf(stdout, "chunk %d/%d transcript=%q translation=%q capability=%s\n",
			i+1, len(frames), result.Transcript, result.Translation, result.Capability)
		last = result
		if cfg.realtime > 0 && i < len(frames)-1 {
			time.Sleep(time.Duration(float64(audio.Duration(frame, sampleRate)) / cfg.realtime))
		}
	}

	var stop protocol.TranscriptionStopped
	if _, err := c.call(ctx, protocol.ActionStopTranscription, started.SessionID, nil, &stop); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	stopped = true
	fmt.Fprintf(stdout, "stopped status=%s\n", stop.Status)

	if cfg.speakOut == "" || last.Translation == "" {
		return nil
	}
	var speech protocol.SpeechResult
	if _, err := c.call(ctx, protocol.ActionSynthesizeSpeech, "", protocol.SynthesizeSpeechData{
		Text:     last.Translation,
		Language: cfg.to,
	}, &speech); err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(speech.AudioBase64)
	if err != nil {
		return fmt.Errorf("decode speech: %w", err)
	}
	if err := audio.WritePCM16File(cfg.speakOut, raw, sampleRateOf(speech.Format)); err != nil {
		return fmt.Errorf("write %s: %w", cfg.speakOut, err)
	}
	fmt.Fprintf(stdout, "speech written to %s (%d bytes, %s)\n", cfg.speakOut, len(raw), speech.Format)
	return nil
}

func loadAudio(path string) ([]byte, int, error) {
	if strings.TrimSpace(path) == "" {
		return audio.Tone(audio.DefaultSampleRate, time.Second, 440), audio.DefaultSampleRate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return audio.DecodePCM16(data)
}

// sampleRateOf reads the rate from formats like pcm_16000.
func sampleRateOf(format string) int {
	_, rate, ok := strings.Cut(format, "_")
	if !ok {
		return audio.DefaultSampleRate
	}
	var n int
	if _, err := fmt.Sscanf(rate, "%d", &n); err != nil || n <= 0 {
		return audio.DefaultSampleRate
	}
	return n
}
