package metrics

import (
	"context"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
	"github.com/DataDog/datadog-go/statsd"
)

const (
	GaugeBatteryLevel     = "battery.level"
	GaugeBatteryCharging  = "battery.charging"
	GaugeBatteryPluggedIn = "battery.plugged_in"
	GaugeChargeLimit      = "charge.limit"
	GaugeResumeThreshold  = "charge.resume_threshold"
	GaugeAvailable        = "charge.available"
	GaugeBlocked          = "charge.blocked"
)

type service struct {
	client gaugeClient
	log    logger.Logger
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op collector
	if !cfg.Enabled {
		log.Debug().Msg("Metrics collection disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	client, err := statsd.New(cfg.Address,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
		statsd.WithoutTelemetry(),
	)
	if err != nil {
		return nil, errFactory.Wrap(ErrInitMetrics, err)
	}

	log.Info().
		Str("addr", cfg.Address).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")

	return newService(client, log), nil
}

func newService(client gaugeClient, log logger.Logger) *service {
	return &service{
		client: client,
		log:    log,
	}
}

func (s *service) Record(ctx context.Context, snapshot charge.Snapshot) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	tags := []string{
		"mode:" + snapshot.Capability.String(),
		"status:" + string(snapshot.Reading.Status),
	}

	gauges := []struct {
		name  string
		value float64
	}{
		{GaugeBatteryLevel, float64(snapshot.Reading.Percentage)},
		{GaugeBatteryCharging, boolToFloat(snapshot.Reading.Charging)},
		{GaugeBatteryPluggedIn, boolToFloat(snapshot.Reading.PluggedIn)},
		{GaugeChargeLimit, float64(snapshot.Limit.Limit)},
		{GaugeResumeThreshold, float64(snapshot.Limit.Resume())},
		{GaugeAvailable, boolToFloat(snapshot.Available)},
		{GaugeBlocked, boolToFloat(snapshot.State == charge.StateChargingBlocked)},
	}

	for _, g := range gauges {
		if err := s.client.Gauge(g.name, g.value, tags, 1); err != nil {
			s.log.Warn().Err(err).Str("metric", g.name).Msg("Failed to emit gauge metric")
			return errFactory.Wrap(ErrCollectMetrics, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.client.Flush(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to flush metrics")
	}

	if err := s.client.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}

	return nil
}

// No-op implementation
func (*noopCollector) Record(context.Context, charge.Snapshot) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
