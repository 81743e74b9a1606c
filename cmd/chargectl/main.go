package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/chargectl/internal/actuator"
	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/config"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
	"codeberg.org/mutker/chargectl/internal/metrics"
	"codeberg.org/mutker/chargectl/internal/mqtt"
	"codeberg.org/mutker/chargectl/internal/pid"
	"codeberg.org/mutker/chargectl/internal/settings"
	"codeberg.org/mutker/chargectl/internal/telemetry"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/pflag"
)

// statePublisher receives a controller snapshot on every status tick.
type statePublisher interface {
	Publish(snapshot charge.Snapshot)
	Close() error
}

type noopPublisher struct{}

func (noopPublisher) Publish(charge.Snapshot) {}
func (noopPublisher) Close() error            { return nil }

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if cfg.HasSetLimit() || cfg.CycleLimit {
		if err := runCommand(); err != nil {
			logFailure(err, "Failed to update charge limit")
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		logFailure(err, "Failed to run charge limiter")
		os.Exit(1)
	}
}

// runCommand handles --set-limit and --cycle-limit. A running daemon picks
// the new value up from the settings database.
func runCommand() error {
	store, err := settings.Open(cfg.SettingsDB, logger.Component("settings"))
	if err != nil {
		return err
	}
	defer store.Close()

	limit := cfg.SetLimit
	if cfg.CycleLimit {
		limit = charge.NextPreset(store.GetLimit())
	}

	if err := store.SetLimit(limit); err != nil {
		return err
	}

	fmt.Printf("Charge limit set to %d%%\n", limit)

	return nil
}

func run() error {
	errFactory := errors.New()

	pidFile := pid.New(os.TempDir())
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	store, err := settings.Open(cfg.SettingsDB, logger.Component("settings"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer store.Close()

	driver, err := actuator.Open(cfg.SysfsRoot, cfg.Battery, actuator.Mode(cfg.Mode), logger.Component("actuator"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer driver.Close()

	ctrl := charge.New(driver,
		charge.WithLimitConfig(charge.LimitConfig{Limit: store.GetLimit(), Margin: cfg.Hysteresis}),
		charge.WithSettings(store),
		charge.WithLogger(logger.Component("controller")),
	)

	interval := time.Duration(cfg.Interval) * time.Second

	source := telemetry.NewSource(telemetry.Config{
		Root:     cfg.SysfsRoot,
		Battery:  cfg.Battery,
		Adapter:  cfg.Adapter,
		Interval: interval,
	}, logger.Component("telemetry"))
	source.Subscribe(ctrl.OnTelemetryUpdate)
	store.OnChange(ctrl.OnLimitChanged)

	collector, err := metrics.NewService(metrics.Config{
		Enabled:   cfg.Datadog.Enabled,
		Address:   cfg.Datadog.Address,
		Namespace: cfg.Datadog.Namespace,
		Tags:      cfg.Datadog.Tags,
	}, logger.Component("metrics"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer collector.Close()

	publisher := newPublisher(ctrl)
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	logger.Info().
		Str("version", versioninfo.Short()).
		Str("battery", cfg.Battery).
		Str("mode", cfg.Mode).
		Int("limit", ctrl.CurrentLimit()).
		Int("hysteresis", cfg.Hysteresis).
		Msg("Charge limiter started")

	var wg sync.WaitGroup
	for _, worker := range []func(context.Context){
		ctrl.Run,
		source.Run,
		func(ctx context.Context) { store.Watch(ctx, interval) },
	} {
		wg.Add(1)
		go func(work func(context.Context)) {
			defer wg.Done()
			work(ctx)
		}(worker)
	}

	loop(ctx, interval, ctrl, collector, publisher)
	wg.Wait()

	cleanup(ctrl)

	return nil
}

func newPublisher(ctrl *charge.Controller) statePublisher {
	if !cfg.MQTT.Enabled {
		return noopPublisher{}
	}

	bridge := mqtt.NewBridge(mqtt.Config{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		BaseTopic: cfg.MQTT.BaseTopic,
		ClientID:  cfg.MQTT.ClientID,
		Discovery: cfg.MQTT.Discovery,
	}, ctrl, logger.Component("mqtt"))

	if err := bridge.Connect(); err != nil {
		logger.Warn().Err(err).Msg("MQTT broker not reachable yet, retrying in background")
	}

	return bridge
}

// loop reports controller state until ctx is done. Control decisions are
// made by the controller worker, not here.
func loop(ctx context.Context, interval time.Duration, ctrl *charge.Controller, collector metrics.Collector, publisher statePublisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last charge.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := ctrl.Snapshot()
			logStatus(snapshot, last)
			last = snapshot

			if err := collector.Record(ctx, snapshot); err != nil {
				logger.Debug().Err(err).Msg("Failed to record metrics")
			}
			publisher.Publish(snapshot)
		}
	}
}

func logStatus(snapshot, last charge.Snapshot) {
	logger.Debug().
		Int("battery_level", snapshot.Reading.Percentage).
		Str("status", string(snapshot.Reading.Status)).
		Bool("plugged_in", snapshot.Reading.PluggedIn).
		Int("limit", snapshot.Limit.Limit).
		Int("resume", snapshot.Limit.Resume()).
		Str("capability", snapshot.Capability.String()).
		Str("state", string(snapshot.State)).
		Str("last_action", snapshot.LastAction.String()).
		Msg("")

	if snapshot.Available != last.Available {
		if snapshot.Available {
			logger.Info().Str("capability", snapshot.Capability.String()).Msg("Charge limiting available")
		} else {
			logger.Warn().Msg("Charge limiting unavailable")
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(ctrl *charge.Controller) {
	if cfg.RestoreOnExit {
		if err := ctrl.Restore(); err != nil {
			logFailure(err, "Failed to restore charging")
		}
	}
	logger.Info().Msg("Exiting...")
}

func logFailure(err error, msg string) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.ErrorWithCode(appErr).Msg(msg)
		return
	}

	logger.Error().Err(err).Msg(msg)
}
