package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-session-relay/broadcast"
	"github.com/jrsteele09/go-session-relay/internal/config"
	"github.com/jrsteele09/go-session-relay/internal/logging"
	"github.com/jrsteele09/go-session-relay/internal/redisclient"
	"github.com/jrsteele09/go-session-relay/metrics"
	"github.com/jrsteele09/go-session-relay/server"
	"github.com/jrsteele09/go-session-relay/server/authflowrepo"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := applyFlags(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

// flagEnv maps each command-line flag to the environment variable it overrides.
var flagEnv = map[string]string{
	"port":               "PORT",
	"env":                "ENV",
	"base-url":           "BASE_URL",
	"redis-url":          "REDIS_URL",
	"relay-targets-file": "RELAY_TARGETS_FILE",
	"poll-interval":      "WATCH_POLL_INTERVAL",
}

// applyFlags copies the flags given on the command line into the environment,
// where the config package reads them.
func applyFlags(args []string) error {
	flagSet := pflag.NewFlagSet("session-relay", pflag.ContinueOnError)
	flagSet.String("port", "", "listen port (PORT)")
	flagSet.String("env", "", "environment, DEV enables console logging (ENV)")
	flagSet.String("base-url", "", "public base URL, used for the OAuth2 redirect (BASE_URL)")
	flagSet.String("redis-url", "", "Redis URL; empty keeps storage in memory (REDIS_URL)")
	flagSet.String("relay-targets-file", "", "YAML file of named relay targets (RELAY_TARGETS_FILE)")
	flagSet.String("poll-interval", "", "session poll interval, e.g. 5s (WATCH_POLL_INTERVAL)")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}

	var err error
	flagSet.Visit(func(f *pflag.Flag) {
		if setErr := os.Setenv(flagEnv[f.Name], f.Value.String()); setErr != nil && err == nil {
			err = setErr
		}
	})
	return err
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	logger := logging.Setup(config.EnvVars{}.GetEnv())
	c, err := config.New()
	if err != nil {
		return err
	}
	displayAppname(c.GetAppName())

	deps, closeDeps, err := newDeps(c, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	handler, err := server.New(c, deps)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// newDeps picks Redis-backed storage when REDIS_URL is set, so several
// instances share sessions, and in-memory storage otherwise.
func newDeps(c config.Config, logger zerolog.Logger) (server.Deps, func(), error) {
	deps := server.Deps{
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger,
	}

	redisURL := c.GetRedisURL()
	if redisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, sessions are kept in memory on this instance only")
		deps.Store = storage.NewMemoryStore()
		deps.Bus = broadcast.NewMemoryBus()
		deps.AuthFlows = authflowrepo.NewInMemoryRepo(c.GetAuthFlowTimeout(), nil)
		return deps, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := redisclient.New(ctx, redisURL)
	if err != nil {
		return server.Deps{}, nil, err
	}
	deps.Store = storage.NewRedisStore(client.Client, logger)
	deps.Bus = broadcast.NewRedisBus(client.Client, logger)
	deps.AuthFlows = authflowrepo.NewRedisRepo(client.Client, c.GetAuthFlowTimeout())
	deps.Health = client.Health
	return deps, func() { _ = client.Close() }, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
