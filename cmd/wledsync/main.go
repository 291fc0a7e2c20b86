package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/app"
	"github.com/dokzlo13/wledsync/internal/config"
	"github.com/dokzlo13/wledsync/internal/wled"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	discover := flag.Bool("discover", false, "List WLED controllers on the local network and exit")
	resetZones := flag.Bool("reset-zones", false, "Clear stored zone definitions on startup")
	flag.Parse()

	if *discover {
		setupLogging("info", false, true)
		runDiscovery(3 * time.Second)
		return
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting wledsync")

	// Create application
	application, err := app.New(cfg, app.Options{ResetZones: *resetZones})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Run until a shutdown signal or a fatal error
	if err := application.Run(app.SignalContext()); err != nil {
		log.Fatal().Err(err).Msg("wledsync stopped")
	}
}

func runDiscovery(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	log.Info().Dur("timeout", timeout).Msg("Browsing for WLED controllers")
	found, err := wled.Discover(ctx, timeout)
	if err != nil {
		log.Error().Err(err).Msg("Discovery failed")
	}
	if len(found) == 0 {
		fmt.Println("No controllers found")
		return
	}

	fmt.Println("controllers:")
	for _, c := range found {
		fmt.Printf("  - id: %s\n    address: %s\n    name: %s\n", c.Name, c.Address(), c.Name)
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
