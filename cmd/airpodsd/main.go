// Command airpodsd is a headless daemon bridging a BlueZ-paired Apple
// Accessory Protocol peer to a session-bus surface and MPRIS media control
// (spec.md section 6).
//
// Grounded on the teacher's cmd/gui (the equivalent single entry point that
// builds the dependency graph) restructured around urfave/cli/v2, whose
// App/Flags/Action shape is taken from the sibling pack repo bluetuith's
// cmd/cli.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/mstroecker/airpodsd/internal/bluez"
	"github.com/mstroecker/airpodsd/internal/bus"
	"github.com/mstroecker/airpodsd/internal/config"
	"github.com/mstroecker/airpodsd/internal/devicestate"
	"github.com/mstroecker/airpodsd/internal/media"
	"github.com/mstroecker/airpodsd/internal/orchestrator"
)

// Version is set at compile-time via -ldflags.
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "airpodsd",
		Usage:   "Headless AirPods daemon: BlueZ + AAP bridged to a session-bus surface.",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Directory holding global.toml and peers.toml.",
				Value: defaultConfigDir(),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of debug, info, warn, error.",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "BlueZ adapter object to observe.",
				Value: "hci0",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "airpodsd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "airpodsd"
	}
	return filepath.Join(home, ".config", "airpodsd")
}

func run(cCtx *cli.Context) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "airpodsd"})
	if lvl, err := log.ParseLevel(cCtx.String("log-level")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := config.Open(cCtx.String("config-dir"))
	if err != nil {
		return fmt.Errorf("airpodsd: open config: %w", err)
	}

	state := devicestate.New()
	state.SetEarPauseMode(cfg.GlobalConfig().EarPauseMode)

	mediaCtl, err := media.New()
	if err != nil {
		return fmt.Errorf("airpodsd: media controller: %w", err)
	}
	mediaCtl.SetPolicy(cfg.GlobalConfig().EarPauseMode)

	observer, err := bluez.New()
	if err != nil {
		logger.Error("failed to start bluez observer", "err", err)
		os.Exit(1)
	}

	adapter := cCtx.String("adapter")
	orch := orchestrator.New(logger, observer, state, cfg, mediaCtl, adapter)

	surface, err := bus.Register(state, orch.Commands())
	if err != nil {
		logger.Error("failed to acquire bus name", "err", err)
		os.Exit(1)
	}
	orch.AttachSurface(surface)

	if sysBattery, err := bluez.NewSystemBatteryProvider(adapter); err != nil {
		logger.Warn("system battery indicator unavailable", "err", err)
	} else {
		orch.AttachSystemBattery(sysBattery)
	}

	cfg.ReloadFunc = func() {
		mediaCtl.SetPolicy(cfg.GlobalConfig().EarPauseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("airpodsd started", "config-dir", cCtx.String("config-dir"), "adapter", cCtx.String("adapter"))
	return orch.Run(ctx)
}
