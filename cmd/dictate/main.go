// Command dictate is the live dictation client. It reads 16-bit little-endian
// mono PCM from stdin, periodically sends the growing audio window to an ASR
// server, and prints stabilized transcript lines to stdout while the unstable
// tail is re-rendered on stderr.
//
// Capture is left to the platform, e.g.:
//
//	arecord -f S16_LE -r 16000 -c 1 -t raw | dictate -config dictate.yaml
//
// Recording runs until stdin closes or SIGINT/SIGTERM arrives; either way a
// final transcription pass flushes the remaining text before exit.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rmtew/dictate/internal/config"
	"github.com/rmtew/dictate/internal/observe"
	"github.com/rmtew/dictate/internal/responder"
	"github.com/rmtew/dictate/internal/session"
	"github.com/rmtew/dictate/pkg/asr/localai"
	"github.com/rmtew/dictate/pkg/audio"
)

// errStdinClosed signals a normal end of capture, distinguishing it from real
// read failures inside the errgroup.
var errStdinClosed = errors.New("stdin closed")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "dictate.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "", "ASR server base URL (overrides server.base_url)")
	language := flag.String("language", "", "language hint (overrides server.language)")
	model := flag.String("model", "", "model identifier (overrides server.model)")
	savePath := flag.String("save", "", "write the session audio as WAV on exit (overrides session.save_recording_path)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictate: %v\n", err)
		return 1
	}
	if *serverURL != "" {
		cfg.Server.BaseURL = *serverURL
	}
	if *language != "" {
		cfg.Server.Language = *language
	}
	if *model != "" {
		cfg.Server.Model = *model
	}
	if *savePath != "" {
		cfg.Session.SaveRecordingPath = *savePath
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("dictate starting",
		"server", cfg.Server.BaseURL,
		"sample_rate", cfg.Session.SampleRate,
		"log_level", cfg.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx := context.Background()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dictate"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── ASR client ────────────────────────────────────────────────────────────
	var clientOpts []localai.Option
	if cfg.Server.Language != "" {
		clientOpts = append(clientOpts, localai.WithLanguage(cfg.Server.Language))
	}
	if cfg.Server.Model != "" {
		clientOpts = append(clientOpts, localai.WithModel(cfg.Server.Model))
	}
	if cfg.Server.TimeoutMs > 0 {
		clientOpts = append(clientOpts, localai.WithTimeout(cfg.Server.Timeout()))
	}
	client, err := localai.New(cfg.Server.BaseURL, clientOpts...)
	if err != nil {
		slog.Error("failed to create ASR client", "err", err)
		return 1
	}

	// ── Responder (optional) ──────────────────────────────────────────────────
	var resp *responder.Responder
	if cfg.Responder.Enabled {
		resp, err = responder.New(responder.Config{
			BaseURL:      cfg.Responder.BaseURL,
			APIKey:       cfg.Responder.APIKey,
			Model:        cfg.Responder.Model,
			SystemPrompt: cfg.Responder.SystemPrompt,
			HistoryLimit: cfg.Responder.HistoryLimit,
			Handler: func(prompt, reply string) {
				fmt.Fprintf(os.Stdout, "> %s\n", reply)
			},
		})
		if err != nil {
			slog.Error("failed to create responder", "err", err)
			return 1
		}
	}

	// ── Session ───────────────────────────────────────────────────────────────
	sink := newConsoleSink(os.Stdout, os.Stderr, resp)
	sess, err := session.New(session.Config{
		Transcriber:          client,
		Sink:                 sink,
		SampleRate:           cfg.Session.SampleRate,
		RetranscribeInterval: cfg.Session.RetranscribeInterval(),
		MinWindow:            cfg.Session.MinWindow(),
		Metrics:              metrics,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	// The session outlives the capture signal context so the final pass can
	// still reach the server after Ctrl+C.
	sessCtx, sessCancel := context.WithCancel(ctx)
	defer sessCancel()
	sess.Start(sessCtx)
	defer sess.Close()
	if resp != nil {
		resp.Start(sessCtx)
		defer resp.Close()
	}

	// ── Capture until stdin closes or a signal arrives ────────────────────────
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.StartRecording(sigCtx); err != nil {
		slog.Error("failed to start recording", "err", err)
		return 1
	}
	slog.Info("recording — speak now, Ctrl+C or EOF to finish")

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return readAudio(gctx, sess)
	})
	if cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Telemetry.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	stop()
	if err != nil && !errors.Is(err, errStdinClosed) && !errors.Is(err, context.Canceled) {
		slog.Error("capture error", "err", err)
		// Fall through: the final pass still flushes what was heard.
	}

	// ── Final pass ────────────────────────────────────────────────────────────
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := sess.StopRecording(stopCtx); err != nil {
		slog.Error("failed to stop recording", "err", err)
		return 1
	}

	if cfg.Session.SaveRecordingPath != "" {
		samples := sess.Recording()
		if err := audio.WriteWAVFile(cfg.Session.SaveRecordingPath, samples, cfg.Session.SampleRate); err != nil {
			slog.Warn("failed to save recording", "path", cfg.Session.SaveRecordingPath, "err", err)
		} else {
			slog.Info("recording saved", "path", cfg.Session.SaveRecordingPath,
				"duration", audio.Duration(len(samples), cfg.Session.SampleRate))
		}
	}

	slog.Info("goodbye")
	return 0
}

// loadConfig reads the config file. A missing file is tolerated when the
// server URL is supplied on the command line; defaults cover the rest.
func loadConfig(path, serverFlag string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && serverFlag != "" {
		cfg = config.Default()
		cfg.Server.BaseURL = serverFlag
		return cfg, nil
	}
	return nil, err
}

// readAudio streams PCM chunks from stdin into the session ledger until EOF
// or cancellation. The blocking reads run in their own goroutine because a
// read on a quiet pipe cannot be interrupted; on cancellation that goroutine
// is abandoned and dies with the process.
func readAudio(ctx context.Context, sess *session.Session) error {
	chunks := make(chan []float32)
	errc := make(chan error, 1)

	go func() {
		r := bufio.NewReader(os.Stdin)
		// 100 ms of 16-bit samples at 16 kHz.
		buf := make([]byte, 3200)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				// Drop a trailing odd byte; the next read realigns.
				samples := audio.PCM16ToFloat32(buf[:n&^1])
				select {
				case chunks <- samples:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					errc <- errStdinClosed
				} else {
					errc <- fmt.Errorf("read stdin: %w", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case samples := <-chunks:
			sess.PushAudio(samples)
		case err := <-errc:
			return err
		}
	}
}

// consoleSink renders committed lines to stdout and the unstable tail as an
// in-place overwritten line on stderr.
type consoleSink struct {
	mu        sync.Mutex
	out       io.Writer
	errw      io.Writer
	shown     int // rune width of the interim line currently displayed
	responder *responder.Responder
}

func newConsoleSink(out, errw io.Writer, resp *responder.Responder) *consoleSink {
	return &consoleSink{out: out, errw: errw, responder: resp}
}

// CommitLine implements session.Sink.
func (c *consoleSink) CommitLine(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearInterimLocked()
	fmt.Fprintln(c.out, text)
	if c.responder != nil {
		c.responder.Submit(text)
	}
}

// SetInterim implements session.Sink.
func (c *consoleSink) SetInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearInterimLocked()
	if text == "" {
		return
	}
	fmt.Fprintf(c.errw, "\r%s", text)
	c.shown = len(text)
}

// clearInterimLocked blanks the interim line. Must be called with c.mu held.
func (c *consoleSink) clearInterimLocked() {
	if c.shown == 0 {
		return
	}
	fmt.Fprintf(c.errw, "\r%*s\r", c.shown, "")
	c.shown = 0
}
