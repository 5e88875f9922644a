// streamtail connects to the event stream and prints every event to the console.
// Usage: go run ./cmd/streamtail --config configs/commsd.example.yaml
//
// The stream token comes from --token, then STREAM_TOKEN, then stream.token
// in the config file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/events"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/logging"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/commsd.example.yaml", "path to config file")
	token := flag.String("token", "", "stream bearer token")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	statsEvery := flag.Duration("stats", 10*time.Second, "stats interval (0 disables)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg.Logging.Level = "debug"
	cfg.Logging.Development = true
	zl, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := logging.Slog(zl)

	tok := resolveToken(*token, os.Getenv("STREAM_TOKEN"), cfg.Stream.Token)
	if cfg.Stream.URL == "" || tok == "" {
		logger.Error("stream url and token required",
			"url_set", cfg.Stream.URL != "",
			"token_set", tok != "",
		)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := events.NewRouter(cfg.Stream.EventTypes, logger)
	mgr := stream.NewManager(cfg.Stream, router, stream.WithLogger(logger))

	printer := newPrinter(os.Stdout, *verbose)
	for _, t := range router.Types() {
		if _, err := mgr.Subscribe(t, printer.handle); err != nil {
			logger.Error("failed to subscribe", "event", t, "error", err)
			os.Exit(1)
		}
	}

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting", "url", cfg.Stream.URL, "events", router.Types())
	if err := mgr.Connect(ctx, tok); err != nil {
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	if *statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					st := mgr.Stats()
					logger.Info("stats",
						"state", st.State,
						"retry_count", st.RetryCount,
						"reconnects", st.Reconnects,
						"events_received", st.EventsReceived,
						"malformed_frames", st.MalformedFrames,
						"callback_errors", st.Router.CallbackErrors,
					)
				}
			}
		}()
	}

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("stop failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func resolveToken(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

type printer struct {
	out     *os.File
	verbose bool
}

func newPrinter(out *os.File, verbose bool) *printer {
	return &printer{out: out, verbose: verbose}
}

func (p *printer) handle(ev events.Event) error {
	_, err := fmt.Fprintln(p.out, formatEvent(ev, p.verbose))
	return err
}

func formatEvent(ev events.Event, verbose bool) string {
	ts := ev.Timestamp.UTC().Format(time.RFC3339Nano)
	if !verbose {
		return fmt.Sprintf("[%s] %s bytes=%d", ev.Type, ts, len(ev.Data))
	}

	var body any
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		return fmt.Sprintf("[%s] %s %s", ev.Type, ts, ev.Data)
	}
	data, _ := json.MarshalIndent(body, "", "  ")
	return fmt.Sprintf("[%s] %s %s", ev.Type, ts, data)
}
