// Package main provides the entrypoint for the breezebar status indicator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/breezebar/breezebar/internal/aqi"
	"github.com/breezebar/breezebar/internal/aqi/feed"
	"github.com/breezebar/breezebar/internal/aqi/openmeteo"
	"github.com/breezebar/breezebar/internal/history"
	"github.com/breezebar/breezebar/internal/location"
	"github.com/breezebar/breezebar/internal/poll"
	"github.com/breezebar/breezebar/internal/settings"
	"github.com/breezebar/breezebar/internal/statusapi"
	"github.com/breezebar/breezebar/internal/ui"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var (
		provider     = flag.String("provider", "forecast", "upstream variant: feed-geo, feed-city or forecast")
		settingsPath = flag.String("settings", settings.DefaultPath(), "settings file path")
		apiAddr      = flag.String("api-addr", statusapi.DefaultAddr, "status API listen address (empty disables)")
		headless     = flag.Bool("headless", false, "run without the terminal status view")
		logPath      = flag.String("log-file", "", "log file path (defaults to stderr when headless, a file otherwise)")
	)
	flag.Parse()

	log, logClose, err := newLogger(*logPath, *headless)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logClose()

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("provider", *provider).
		Msg("starting breezebar")

	store := settings.NewFileStore(*settingsPath)

	client, err := newClient(*provider, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid provider")
	}

	hist, err := history.Open(historyPath())
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable, trend disabled")
		hist = nil
	} else {
		defer hist.Close()
	}

	locProvider := locationProvider()

	presenter := ui.NewPresenter()
	ctrl := poll.NewController(poll.ControllerConfig{
		Store:     store,
		Location:  locProvider,
		Client:    client,
		Presenter: presenter,
		History:   hist,
		PermissionPrompt: func() {
			log.Warn().Msg("location access is denied; set BREEZEBAR_LAT/BREEZEBAR_LON or configure a city")
		},
		Logger: log.With().Str("component", "poll").Logger(),
	})
	ctrl.Start()
	defer ctrl.Close()

	// A fresh fix at startup keeps the indicator tracking the machine's
	// current position rather than the last persisted one.
	if locProvider.AuthorizationStatus() == location.AuthAuthorized {
		ctrl.HandleAuthorizationChange(location.AuthAuthorized)
	}

	if *apiAddr != "" {
		api := statusapi.NewServer(statusapi.ServerConfig{
			Addr:       *apiAddr,
			Controller: ctrl,
			History:    hist,
			Logger:     log.With().Str("component", "statusapi").Logger(),
		})
		api.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("status API shutdown failed")
			}
		}()
	}

	if *headless {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down")
		return
	}

	if err := ui.Run(ctrl, presenter); err != nil {
		log.Fatal().Err(err).Msg("status view failed")
	}
}

// newClient selects the upstream variant. Feed lookups by coordinates and by
// city are mutually exclusive configurations of the same client.
func newClient(variant string, log zerolog.Logger) (aqi.Client, error) {
	clientLog := log.With().Str("component", "client").Logger()

	switch variant {
	case "feed-geo":
		return feed.NewClient(feed.ClientConfig{Mode: feed.ModeGeo, Logger: clientLog}), nil
	case "feed-city":
		return feed.NewClient(feed.ClientConfig{Mode: feed.ModeCity, Logger: clientLog}), nil
	case "forecast":
		return openmeteo.NewClient(openmeteo.ClientConfig{Logger: clientLog}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", variant)
	}
}

// locationProvider builds the platform location source. Without an OS
// geolocation service, coordinates come from the environment.
func locationProvider() location.Provider {
	lat, latErr := strconv.ParseFloat(os.Getenv("BREEZEBAR_LAT"), 64)
	lon, lonErr := strconv.ParseFloat(os.Getenv("BREEZEBAR_LON"), 64)
	if latErr == nil && lonErr == nil {
		return location.NewStaticProvider(lat, lon)
	}
	return location.NewUnavailableProvider()
}

func newLogger(path string, headless bool) (zerolog.Logger, func(), error) {
	if path == "" {
		if headless {
			log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "breezebar").Logger()
			return log, func() {}, nil
		}
		path = defaultLogPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("create log dir: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("open log file: %v", err)
	}

	log := zerolog.New(f).With().Timestamp().Str("service", "breezebar").Logger()
	return log, func() { _ = f.Close() }, nil
}

func defaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "breezebar.log"
	}
	return filepath.Join(home, ".config", "breezebar", "breezebar.log")
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "breezebar-history.db"
	}
	return filepath.Join(home, ".config", "breezebar", "history.db")
}
