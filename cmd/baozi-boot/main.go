// baozi-boot supervises the node daemon.
//
// It launches the image in the committed boot slot (or the factory image),
// relaunches it at once when it exits with the restart code, and restarts
// it after a delay when it crashes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/baozi-iot/baozi-node/internal/infrastructure/config"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/database"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/logging"
	"github.com/baozi-iot/baozi-node/internal/partition"
	"github.com/baozi-iot/baozi-node/internal/process"
	"github.com/baozi-iot/baozi-node/internal/settings"
	"github.com/baozi-iot/baozi-node/internal/system"
)

var version = "dev"

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := defaultConfigPath
	if env := os.Getenv("BAOZI_CONFIG"); env != "" {
		path = env
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version).Component("boot")

	store, err := settings.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer store.Close()

	slots, err := partition.New(ctx, cfg.OTA.SlotsDir, store,
		partition.WithLogger(log),
		partition.WithFactoryImage(cfg.Boot.FactoryImage),
	)
	if err != nil {
		return fmt.Errorf("opening boot slots: %w", err)
	}

	mgr := newSupervisor(ctx, cfg.Boot, slots, log)
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("stopping node")
		return mgr.Stop()
	case <-mgr.Done():
	}

	if mgr.Status() == process.StatusFailed {
		return fmt.Errorf("node gave up after %d crashes: %w", mgr.RestartCount(), mgr.LastError())
	}
	return nil
}

// imageResolver returns the binary to launch.
type imageResolver interface {
	ActiveImage(ctx context.Context) (string, error)
}

func newSupervisor(ctx context.Context, cfg config.BootConfig, images imageResolver, log *logging.Logger) *process.Manager {
	mgr := process.NewManager(process.Config{
		Name:               "baozi-node",
		Resolve:            func() (string, error) { return images.ActiveImage(ctx) },
		Args:               cfg.Args,
		RestartExitCode:    system.RestartExitCode,
		RestartDelay:       config.Seconds(cfg.RestartDelay),
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		OnExit: func(code int, err error) {
			log.Info("node exited", "code", code, "error", err)
		},
	})
	mgr.SetLogger(log)
	return mgr
}
