package charge

import (
	"fmt"
	"time"
)

const (
	// NoLimit is the limit value meaning "charge to full".
	NoLimit = 100
	// MinLimit is the lowest accepted limit.
	MinLimit = 1
	// DefaultMargin is the gap between the limit and the resume threshold.
	DefaultMargin = 2

	// NoDeadline clears any pending charging deadline.
	NoDeadline time.Duration = -1
	// StopDeadline is how long a deadline-only actuator is told to hold
	// charging off once the limit is reached.
	StopDeadline = time.Hour
)

// Actuator drives the hardware charging control. Implementations may block
// on I/O and are only ever called from the controller's worker.
type Actuator interface {
	SupportedModes() (Capability, error)
	ChargingEnabled() (bool, error)
	SetChargingEnabled(enabled bool) error
	// SetChargingDeadline stops charging until d elapses; a negative d
	// removes the deadline and lets charging resume.
	SetChargingDeadline(d time.Duration) error
}

// DeadlineNotifier is implemented by actuators that hand charging back to
// the firmware on their own once a deadline lapses.
type DeadlineNotifier interface {
	OnDeadlineElapsed(fn func())
}

// LimitStore persists the configured limit.
type LimitStore interface {
	GetLimit() int
	SetLimit(limit int) error
}

// Status is the charging status reported by the battery.
type Status string

const (
	StatusCharging    Status = "charging"
	StatusNotCharging Status = "not_charging"
	StatusDischarging Status = "discharging"
	StatusFull        Status = "full"
	StatusUnknown     Status = "unknown"
)

// IsRecognized reports whether the status is one the controller can act on.
func (s Status) IsRecognized() bool {
	switch s {
	case StatusCharging, StatusNotCharging, StatusDischarging, StatusFull:
		return true
	default:
		return false
	}
}

// Reading is a single battery telemetry sample.
type Reading struct {
	Percentage int
	Charging   bool
	PluggedIn  bool
	Status     Status
}

// DefaultReading is assumed until the first telemetry sample arrives.
func DefaultReading() Reading {
	return Reading{
		Percentage: 100,
		Status:     StatusUnknown,
	}
}

// LimitConfig is the configured charge limit plus its hysteresis margin.
type LimitConfig struct {
	Limit  int
	Margin int
}

// NewLimitConfig builds a LimitConfig using DefaultMargin.
func NewLimitConfig(limit int) LimitConfig {
	return LimitConfig{Limit: limit, Margin: DefaultMargin}
}

// Resume is the percentage below which charging is re-enabled.
func (c LimitConfig) Resume() int {
	margin := c.Margin
	if margin < 1 {
		margin = DefaultMargin
	}

	return c.Limit - margin
}

// Unlimited reports whether the limit disables limiting altogether.
func (c LimitConfig) Unlimited() bool {
	return c.Limit >= NoLimit
}

// ValidLimit reports whether limit is within [MinLimit, NoLimit].
func ValidLimit(limit int) bool {
	return limit >= MinLimit && limit <= NoLimit
}

// Capability is the set of control primitives an actuator supports.
type Capability uint8

const (
	CapabilityToggle Capability = 1 << iota
	CapabilityDeadlineBypass

	CapabilityNone Capability = 0
)

func (c Capability) SupportsToggle() bool {
	return c&CapabilityToggle != 0
}

func (c Capability) SupportsDeadline() bool {
	return c&CapabilityDeadlineBypass != 0
}

func (c Capability) IsEmpty() bool {
	return !c.SupportsToggle() && !c.SupportsDeadline()
}

func (c Capability) String() string {
	switch {
	case c.SupportsToggle() && c.SupportsDeadline():
		return "toggle+deadline"
	case c.SupportsToggle():
		return "toggle"
	case c.SupportsDeadline():
		return "deadline"
	default:
		return "none"
	}
}

// ActionKind tags the variant held by an Action.
type ActionKind int

const (
	NoAction ActionKind = iota
	SetChargingEnabled
	SetDeadline
)

// Action is the outcome of a policy evaluation.
type Action struct {
	Kind     ActionKind
	Enabled  bool
	Deadline time.Duration
}

func None() Action {
	return Action{Kind: NoAction}
}

func EnableCharging(enabled bool) Action {
	return Action{Kind: SetChargingEnabled, Enabled: enabled}
}

func Deadline(d time.Duration) Action {
	return Action{Kind: SetDeadline, Deadline: d}
}

// AllowsCharging reports whether applying the action leaves charging on.
// It is meaningless for NoAction.
func (a Action) AllowsCharging() bool {
	switch a.Kind {
	case SetChargingEnabled:
		return a.Enabled
	case SetDeadline:
		return a.Deadline < 0
	default:
		return false
	}
}

func (a Action) String() string {
	switch a.Kind {
	case SetChargingEnabled:
		return fmt.Sprintf("set_charging_enabled(%t)", a.Enabled)
	case SetDeadline:
		if a.Deadline < 0 {
			return "set_deadline(none)"
		}
		return fmt.Sprintf("set_deadline(%s)", a.Deadline)
	default:
		return "no_action"
	}
}

// State is the controller's view of the actuator.
type State string

const (
	StateUnknown         State = "unknown"
	StateChargingAllowed State = "charging_allowed"
	StateChargingBlocked State = "charging_blocked"
)

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Reading    Reading
	Limit      LimitConfig
	Capability Capability
	State      State
	Available  bool
	LastAction Action
}
