package actuator

import (
	"path/filepath"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
)

// Mode selects which control primitive is exposed to the controller.
type Mode string

const (
	// ModeAuto exposes toggle when the driver advertises inhibit-charge.
	ModeAuto     Mode = "auto"
	ModeToggle   Mode = "toggle"
	ModeDeadline Mode = "deadline"
)

func (m Mode) IsValid() bool {
	switch m {
	case ModeAuto, ModeToggle, ModeDeadline:
		return true
	default:
		return false
	}
}

// Driver is a charge.Actuator holding resources that must be released.
type Driver interface {
	charge.Actuator
	Close() error
}

// Open returns the driver for the battery directory under sysfsRoot. A
// missing attribute is not an error here: the controller reports the
// feature unavailable until the attribute shows up.
func Open(sysfsRoot, battery string, mode Mode, log logger.Logger) (Driver, error) {
	if !mode.IsValid() {
		return nil, errors.New().WithData(errors.ErrInvalidConfig, "unknown actuator mode: "+string(mode))
	}

	batteryDir := filepath.Join(sysfsRoot, battery)

	if mode == ModeDeadline {
		log.Debug().Str("path", batteryDir).Msg("Using deadline charging control")
		return NewDeadline(batteryDir, log), nil
	}

	log.Debug().Str("path", batteryDir).Msg("Using toggle charging control")

	return NewToggle(batteryDir), nil
}

// Toggle switches charging on and off through charge_behaviour.
type Toggle struct {
	ctl *sysfsControl
}

func NewToggle(batteryDir string) *Toggle {
	return &Toggle{ctl: newSysfsControl(batteryDir)}
}

func (t *Toggle) SupportedModes() (charge.Capability, error) {
	ok, err := t.ctl.supportsInhibit()
	if err != nil || !ok {
		return charge.CapabilityNone, err
	}

	return charge.CapabilityToggle, nil
}

func (t *Toggle) ChargingEnabled() (bool, error) {
	return t.ctl.chargingAllowed()
}

func (t *Toggle) SetChargingEnabled(enabled bool) error {
	if enabled {
		return t.ctl.write(behaviourAuto)
	}

	return t.ctl.write(behaviourInhibit)
}

func (*Toggle) SetChargingDeadline(time.Duration) error {
	return errors.New().WithMessage(errors.ErrNotImplemented, "toggle control has no deadline")
}

func (*Toggle) Close() error {
	return nil
}

var _ charge.DeadlineNotifier = (*Deadline)(nil)

// Deadline inhibits charging until a deadline and then hands control back
// to the firmware. Charging cannot be toggled directly.
type Deadline struct {
	ctl *sysfsControl
	log logger.Logger

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	onElapsed  []func()
}

func NewDeadline(batteryDir string, log logger.Logger) *Deadline {
	return &Deadline{
		ctl: newSysfsControl(batteryDir),
		log: log,
	}
}

func (d *Deadline) SupportedModes() (charge.Capability, error) {
	ok, err := d.ctl.supportsInhibit()
	if err != nil || !ok {
		return charge.CapabilityNone, err
	}

	return charge.CapabilityDeadlineBypass, nil
}

func (d *Deadline) ChargingEnabled() (bool, error) {
	return d.ctl.chargingAllowed()
}

func (*Deadline) SetChargingEnabled(bool) error {
	return errors.New().WithMessage(errors.ErrNotImplemented, "deadline control cannot toggle charging")
}

// SetChargingDeadline inhibits charging for timeout, replacing any pending
// deadline. A negative timeout clears the deadline and resumes charging now.
func (d *Deadline) SetChargingDeadline(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()

	if timeout < 0 {
		return d.ctl.write(behaviourAuto)
	}

	if err := d.ctl.write(behaviourInhibit); err != nil {
		return err
	}

	generation := d.generation
	d.timer = time.AfterFunc(timeout, func() { d.expire(generation) })

	return nil
}

// OnDeadlineElapsed registers fn to run after a deadline lapses and charging
// has been handed back to the firmware.
func (d *Deadline) OnDeadlineElapsed(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.onElapsed = append(d.onElapsed, fn)
}

// expire resumes charging unless the deadline armed as generation has since
// been replaced, cleared or cancelled.
func (d *Deadline) expire(generation uint64) {
	d.mu.Lock()
	if generation != d.generation {
		d.mu.Unlock()
		return
	}

	d.timer = nil
	d.generation++
	if err := d.ctl.write(behaviourAuto); err != nil {
		d.mu.Unlock()
		d.log.Error().Err(err).Msg("Failed to resume charging after deadline")
		return
	}
	callbacks := slices.Clone(d.onElapsed)
	d.mu.Unlock()

	d.log.Info().Msg("Charging deadline elapsed, charging resumed")

	for _, fn := range callbacks {
		fn()
	}
}

// stopLocked cancels the pending timer. A timer that already fired and is
// waiting on mu sees the new generation and does nothing.
func (d *Deadline) stopLocked() {
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Close cancels a pending deadline without touching the hardware.
func (d *Deadline) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()

	return nil
}
