package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
)

const defaultInterval = 5 * time.Second

var _ Publisher = (*Source)(nil)

type Config struct {
	Root     string
	Battery  string
	Adapter  string
	Interval time.Duration
}

// Source polls the power_supply class for one battery and its adapter.
type Source struct {
	cfg Config
	log logger.Logger

	mu          sync.Mutex
	subscribers []func(charge.Reading)
	last        charge.Reading
	hasLast     bool
	lastErr     string
}

func NewSource(cfg Config, log logger.Logger) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Source{
		cfg: cfg,
		log: log,
	}
}

// Subscribe registers fn for every changed reading. Callbacks run on the
// polling goroutine and must not block.
func (s *Source) Subscribe(fn func(charge.Reading)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, fn)
}

// Run polls until ctx is done. The first successful reading is always
// emitted, later ones only when they differ from the previous.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.poll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Source) poll() {
	reading, err := s.Read()

	s.mu.Lock()
	if err != nil {
		msg := err.Error()
		repeated := msg == s.lastErr
		s.lastErr = msg
		s.mu.Unlock()

		if !repeated {
			s.log.Warn().Err(err).Msg("Failed to read battery state")
		}
		return
	}
	s.lastErr = ""

	if s.hasLast && s.last == reading {
		s.mu.Unlock()
		return
	}
	s.last = reading
	s.hasLast = true
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	s.log.Debug().
		Int("percentage", reading.Percentage).
		Str("status", string(reading.Status)).
		Bool("plugged_in", reading.PluggedIn).
		Msg("Battery state changed")

	for _, fn := range subscribers {
		fn(reading)
	}
}

// Read samples the battery once.
func (s *Source) Read() (charge.Reading, error) {
	batteryDir := filepath.Join(s.cfg.Root, s.cfg.Battery)

	percentage, err := readPercentage(batteryDir)
	if err != nil {
		return charge.Reading{}, err
	}

	raw, err := readAttr(batteryDir, "status")
	if err != nil {
		return charge.Reading{}, err
	}
	status := ParseStatus(raw)

	pluggedIn, err := s.readOnline()
	if err != nil {
		// no adapter node, infer from what the battery reports
		pluggedIn = status != charge.StatusDischarging && status != charge.StatusUnknown
	}

	return charge.Reading{
		Percentage: percentage,
		Charging:   status == charge.StatusCharging,
		PluggedIn:  pluggedIn,
		Status:     status,
	}, nil
}

func (s *Source) readOnline() (bool, error) {
	if s.cfg.Adapter == "" {
		return false, errors.New().WithMessage(ErrReadFailed, "no adapter configured")
	}

	value, err := readInt(filepath.Join(s.cfg.Root, s.cfg.Adapter), "online")
	if err != nil {
		return false, err
	}

	return value != 0, nil
}

// ParseStatus maps the kernel's status strings onto charge.Status.
func ParseStatus(raw string) charge.Status {
	switch strings.TrimSpace(raw) {
	case "Charging":
		return charge.StatusCharging
	case "Not charging":
		return charge.StatusNotCharging
	case "Discharging":
		return charge.StatusDischarging
	case "Full":
		return charge.StatusFull
	default:
		return charge.StatusUnknown
	}
}

func readPercentage(batteryDir string) (int, error) {
	if capacity, err := readInt(batteryDir, "capacity"); err == nil {
		return clampPercentage(capacity), nil
	}

	for _, pair := range [][2]string{
		{"charge_now", "charge_full"},
		{"energy_now", "energy_full"},
	} {
		now, err := readInt(batteryDir, pair[0])
		if err != nil {
			continue
		}
		full, err := readInt(batteryDir, pair[1])
		if err != nil || full <= 0 {
			continue
		}

		return clampPercentage(now * 100 / full), nil
	}

	return 0, errors.New().WithData(ErrReadFailed, "no capacity source under "+batteryDir)
}

func clampPercentage(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}

func readAttr(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", errors.New().Wrap(ErrReadFailed, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func readInt(dir, name string) (int, error) {
	raw, err := readAttr(dir, name)
	if err != nil {
		return 0, err
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New().Wrap(ErrInvalidValue, err).WithMessage(name + " is not an integer")
	}

	return value, nil
}
