package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/eugener/mithril/internal/config"
	"github.com/eugener/mithril/internal/credential"
	"github.com/eugener/mithril/internal/session"
	"github.com/eugener/mithril/internal/telemetry"
	"github.com/eugener/mithril/internal/worker"
)

// tokenOutput is what -check-less runs print to stdout. The secret goes
// here and nowhere else; logs never carry it.
type tokenOutput struct {
	Token     string    `json:"token"`
	ExpiresOn time.Time `json:"expiresOn"`
	Source    string    `json:"source"`
	Scope     string    `json:"scope"`
}

func run(configPath string, checkOnly, watch bool, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting mithril",
		"version", version,
		"mode", cfg.Auth.Mode,
		"cloud", cfg.Auth.Cloud)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	resolver := &dnscache.Resolver{}
	sess, err := session.New(cfg, session.Options{
		Prompt:     stderrPrompt,
		HTTPClient: credential.NewHTTPClient(resolver),
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	if checkOnly {
		fmt.Fprintf(stdout, "configuration ok: source=%s scope=%s\n", sess.Source(), sess.Scope())
		return nil
	}

	secret, err := sess.Token(ctx)
	if err != nil {
		return err
	}

	out := tokenOutput{Token: secret, Source: sess.Source(), Scope: sess.Scope()}
	if exp, ok := sess.Expiry(); ok {
		out.ExpiresOn = exp
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	slog.Info("token acquired", "source", sess.Source(), "expires_on", out.ExpiresOn)

	if watch {
		slog.Info("watching token expiry, interrupt to stop")
		return worker.NewRunner(worker.NewRefresher(sess)).Run(ctx)
	}
	return nil
}

// stderrPrompt keeps device code instructions off stdout so the token JSON
// stays machine-readable.
func stderrPrompt(_, _, message string) {
	fmt.Fprintln(os.Stderr, message)
}
