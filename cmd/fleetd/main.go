// fleetd serves the fleet console: a dashboard of simulated iOS devices
// driven by buttons or by voice through a Gemini Live session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-fleet/internal/config"
	"github.com/teslashibe/go-fleet/internal/log"
	"github.com/teslashibe/go-fleet/pkg/console"
)

func main() {
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Error("fleetd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	app, err := console.New(cfg)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer app.Shutdown()

	return app.Run(ctx)
}

// parseFlags applies environment overrides, then command line flags.
func parseFlags() config.Config {
	cfg := config.Default()
	cfg.LoadEnv()

	flag.StringVar(&cfg.Port, "port", cfg.Port, "Dashboard HTTP port")
	flag.StringVar(&cfg.DeviceConfig, "devices", cfg.DeviceConfig, "Device list file or http(s) URL")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "Simulated device command latency")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Gemini Live model")
	flag.StringVar(&cfg.Voice, "voice", cfg.Voice, "Prebuilt voice name")
	flag.StringVar(&cfg.SpeakerBackend, "speaker", cfg.SpeakerBackend, "Speaker backend: browser, rtp, mock")
	flag.StringVar(&cfg.RTPTarget, "rtp-target", cfg.RTPTarget, "host:port for the rtp speaker")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Dashboard static files")
	flag.StringVar(&cfg.CredentialFile, "credentials", cfg.CredentialFile, "File holding an API key")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg
}
