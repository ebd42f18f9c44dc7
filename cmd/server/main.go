package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shuhub/collector/internal/app"
	"github.com/urfave/cli/v2"
)

const version = "0.3.0"

func main() {
	cliApp := &cli.App{
		Name:    "collector",
		Usage:   "debt collection voice agent backend",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			dialCommand(),
			callsCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg app.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	base := log.Logger
	if cfg.Environment == "development" {
		base = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return base.With().
		Timestamp().
		Str("service", "collector").
		Str("environment", cfg.Environment).
		Logger().
		Level(level)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API, Twilio webhooks and media bridge",
		Action: func(c *cli.Context) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if cfg.SentryDSN != "" {
				err := sentry.Init(sentry.ClientOptions{
					Dsn:              cfg.SentryDSN,
					EnableTracing:    true,
					TracesSampleRate: 0.2,
					Environment:      cfg.Environment,
				})
				if err != nil {
					logger.Warn().Err(err).Msg("sentry init failed")
				} else {
					logger.Info().Msg("sentry initialized")
					defer sentry.Flush(2 * time.Second)
				}
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				sentry.CaptureException(err)
				return fmt.Errorf("init app: %w", err)
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           a.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("listen: %w", err)
			case <-ctx.Done():
			}

			// Live calls hold hijacked sockets that Shutdown does not wait for,
			// so drain them before closing the listener.
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			a.Drain(drainCtx)

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func dialCommand() *cli.Command {
	return &cli.Command{
		Name:  "dial",
		Usage: "ask a running server to call a debtor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "debtor phone number", Required: true},
			&cli.StringFlag{Name: "subject", Usage: "debtor id", Required: true},
			&cli.StringFlag{Name: "from", Usage: "caller id (defaults to TWILIO_PHONE_NUMBER on the server)"},
			&cli.StringFlag{Name: "server", Usage: "server base URL", Value: "http://localhost:8080", EnvVars: []string{"COLLECTOR_URL"}},
			&cli.StringFlag{Name: "token", Usage: "operator bearer token", EnvVars: []string{"COLLECTOR_TOKEN"}},
		},
		Action: func(c *cli.Context) error {
			body, _ := json.Marshal(map[string]string{
				"phoneNumber": c.String("to"),
				"subjectId":   c.String("subject"),
				"from":        c.String("from"),
			})
			req, err := http.NewRequestWithContext(c.Context, http.MethodPost,
				strings.TrimRight(c.String("server"), "/")+"/call", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if tok := c.String("token"); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}

			resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
			if err != nil {
				return fmt.Errorf("place call: %w", err)
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server answered %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
			}
			var placed struct {
				CallID string `json:"callId"`
			}
			if err := json.Unmarshal(out, &placed); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Fprintln(c.App.Writer, placed.CallID)
			return nil
		},
	}
}

func callsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calls",
		Usage: "list recently archived calls",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "number of calls", Value: 20},
		},
		Action: func(c *cli.Context) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, zerolog.Nop())
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer a.Close()

			list, err := a.ListArchivedCalls(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "CALL\tSUBJECT\tSTATE\tSTARTED\tDURATION\tANOMALY")
			for _, call := range list {
				duration := "-"
				if call.EndedAt != nil {
					duration = call.EndedAt.Sub(call.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					call.CallID, call.SubjectID, call.Status,
					call.StartedAt.Format(time.RFC3339), duration, call.Anomaly)
			}
			return w.Flush()
		},
	}
}
