// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/fluxmq-authhttp/authhttp"
	"github.com/absmach/fluxmq-authhttp/authhttp/middleware"
	"github.com/absmach/fluxmq-authhttp/broker"
	"github.com/absmach/fluxmq-authhttp/config"
	"github.com/absmach/fluxmq-authhttp/server/health"
	"github.com/absmach/fluxmq-authhttp/server/otel"
	"github.com/absmach/fluxmq-authhttp/topics"
)

const version = "0.1.0"

// Exit codes.
const (
	exitAllowed = 0
	exitDenied  = 1
	exitUsage   = 2
	exitFailure = 1
)

const usage = `Usage: authhttp [-config file] <command> [flags]

Commands:
  check-user  -username u -password p          run a credential check
  check-acl   -client c -username u -topic t -access read|write|sub
                                               run a topic access check
  serve                                        run health and telemetry endpoints

`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authhttp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "Path to configuration file")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "check-user":
		return checkUser(cfg, rest, stdout, stderr)
	case "check-acl":
		return checkACL(cfg, rest, stdout, stderr)
	case "serve":
		return serve(cfg, newLogger(cfg.Log, stdout))
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return exitUsage
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// cliClient is the client identity a check is run for.
type cliClient struct {
	id       string
	username *string
}

func (c cliClient) ID() string {
	return c.id
}

func (c cliClient) Username() (string, bool) {
	if c.username == nil {
		return "", false
	}
	return *c.username, true
}

// optional returns nil unless the flag was given on the command line, so an
// omitted value is distinct from an empty one.
func optional(fs *flag.FlagSet, name string) *string {
	var v *string
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			s := f.Value.String()
			v = &s
		}
	})
	return v
}

func newPlugin(cfg *config.Config, logger *slog.Logger) (*broker.Plugin, error) {
	logging := func(svc authhttp.Service) authhttp.Service {
		return middleware.NewLogging(svc, logger)
	}
	p := broker.NewPlugin(cfg.Auth, logger, []broker.Middleware{logging})
	if err := p.Init(nil); err != nil {
		return nil, err
	}
	return p, nil
}

func checkUser(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check-user", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("username", "", "MQTT username (omit for none)")
	fs.String("password", "", "MQTT password (omit for none)")
	client := fs.String("client", "authhttp-cli", "MQTT client ID")
	timeout := fs.Duration("timeout", 0, "Overall deadline (0 uses the configured authority timeout)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	p, err := newPlugin(cfg, newLogger(cfg.Log, stderr))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize delegate: %v\n", err)
		return exitUsage
	}
	defer p.Cleanup()

	ctx, cancel := checkContext(*timeout)
	defer cancel()

	username := optional(fs, "username")
	err = p.UnpwdCheck(ctx, cliClient{id: *client, username: username}, username, optional(fs, "password"))
	return report(stdout, err)
}

func checkACL(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check-acl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	client := fs.String("client", "", "MQTT client ID")
	fs.String("username", "", "MQTT username (omit for an anonymous client)")
	topic := fs.String("topic", "", "Topic or topic filter")
	access := fs.String("access", "", "Access kind: read, write or sub")
	timeout := fs.Duration("timeout", 0, "Overall deadline (0 uses the configured authority timeout)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	kind, err := authhttp.ParseAccessKind(*access)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	if *client == "" {
		fmt.Fprintln(stderr, "check-acl requires -client")
		return exitUsage
	}
	if err := topics.Validate(*topic, kind == authhttp.AccessSubscribe); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	p, err := newPlugin(cfg, newLogger(cfg.Log, stderr))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize delegate: %v\n", err)
		return exitUsage
	}
	defer p.Cleanup()

	ctx, cancel := checkContext(*timeout)
	defer cancel()

	err = p.ACLCheck(ctx, kind, cliClient{id: *client, username: optional(fs, "username")}, *topic)
	return report(stdout, err)
}

func checkContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func report(w io.Writer, err error) int {
	if err == nil {
		fmt.Fprintln(w, authhttp.Allowed)
		return exitAllowed
	}
	fmt.Fprintf(w, "%s: %s\n", authhttp.Denied, authhttp.Reason(err))
	return exitDenied
}

func serve(cfg *config.Config, logger *slog.Logger) int {
	slog.SetDefault(logger)

	slog.Info("Starting HTTP auth delegate", "version", version)
	slog.Info("Configuration loaded",
		"user_uri", cfg.Auth.UserURI,
		"acl_uri", cfg.Auth.ACLURI,
		"timeout", cfg.Auth.Timeout,
		"health_enabled", cfg.Server.HealthEnabled,
		"telemetry_enabled", cfg.Telemetry.Enabled,
		"log_level", cfg.Log.Level)

	mws := []broker.Middleware{func(svc authhttp.Service) authhttp.Service {
		return middleware.NewLogging(svc, logger)
	}}

	if cfg.Telemetry.Enabled {
		instanceID, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		}
		shutdown, err := otel.InitProvider(cfg.Telemetry, cfg.Auth, instanceID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			return exitUsage
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("OpenTelemetry shutdown error", "error", err)
			}
		}()

		if cfg.Telemetry.MetricsEnabled {
			m, err := otel.NewMetrics()
			if err != nil {
				slog.Error("Failed to create metrics", "error", err)
				return exitUsage
			}
			mws = append(mws, func(svc authhttp.Service) authhttp.Service {
				return middleware.NewMetrics(svc, m)
			})
		}
		if cfg.Telemetry.TracesEnabled {
			mws = append(mws, func(svc authhttp.Service) authhttp.Service {
				return middleware.NewTracing(svc, nil)
			})
		}
		slog.Info("OpenTelemetry initialized",
			"endpoint", cfg.Telemetry.Endpoint,
			"traces", cfg.Telemetry.TracesEnabled,
			"metrics", cfg.Telemetry.MetricsEnabled)
	}

	plugin := broker.NewPlugin(cfg.Auth, logger, mws)
	if err := plugin.Init(nil); err != nil {
		slog.Error("Failed to initialize auth plugin", "error", err)
		return exitUsage
	}
	defer plugin.Cleanup()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, plugin, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("HTTP auth delegate started")

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	code := 0
	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
		code = exitFailure
	}
	cancel()

	wg.Wait()
	slog.Info("HTTP auth delegate stopped")
	return code
}
