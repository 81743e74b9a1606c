package charge

import (
	"context"
	"sync"

	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
)

// Controller caches the latest battery reading and limit, and applies the
// policy decision to the actuator from a single worker goroutine.
type Controller struct {
	actuator Actuator
	store    LimitStore
	log      logger.Logger

	mu         sync.Mutex
	reading    Reading
	limit      LimitConfig
	state      State
	lastAction Action

	capMu      sync.Mutex
	capability Capability
	needsSeed  bool

	// owned by the worker
	lastAppliedEnabled bool

	wake chan struct{}
}

type Option func(*Controller)

// WithLimitConfig sets the initial limit instead of NoLimit.
func WithLimitConfig(cfg LimitConfig) Option {
	return func(c *Controller) {
		c.limit = cfg
	}
}

// WithSettings persists limits changed through SetLimit and CycleLimit.
func WithSettings(store LimitStore) Option {
	return func(c *Controller) {
		c.store = store
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

func New(actuator Actuator, opts ...Option) *Controller {
	c := &Controller{
		actuator:           actuator,
		log:                logger.Nop(),
		reading:            DefaultReading(),
		limit:              NewLimitConfig(NoLimit),
		state:              StateUnknown,
		lastAction:         None(),
		lastAppliedEnabled: true,
		wake:               make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	if notifier, ok := actuator.(DeadlineNotifier); ok {
		notifier.OnDeadlineElapsed(c.onDeadlineElapsed)
	}

	return c
}

// Run evaluates pending requests until ctx is cancelled. It is the only
// goroutine issuing actuator commands.
func (c *Controller) Run(ctx context.Context) {
	c.log.Debug().Msg("Charge controller worker started")

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("Charge controller worker stopped")
			return
		case <-c.wake:
			c.evaluateAndApply()
		}
	}
}

// OnTelemetryUpdate replaces the cached reading and schedules an evaluation.
func (c *Controller) OnTelemetryUpdate(reading Reading) {
	c.mu.Lock()
	c.reading = reading
	c.mu.Unlock()

	c.requestEvaluation()
}

// OnConfigChanged replaces the cached limit and schedules an evaluation.
// Limits outside [MinLimit, NoLimit] are ignored.
func (c *Controller) OnConfigChanged(cfg LimitConfig) {
	if !ValidLimit(cfg.Limit) {
		c.log.Warn().Int("limit", cfg.Limit).Msg("Ignoring out of range charge limit")
		return
	}

	c.mu.Lock()
	changed := c.limit != cfg
	c.limit = cfg
	c.mu.Unlock()

	if changed {
		c.log.Info().
			Int("limit", cfg.Limit).
			Int("resume", cfg.Resume()).
			Msg("Charge limit updated")
	}

	c.requestEvaluation()
}

// OnLimitChanged adapts a settings change notification, keeping the margin.
func (c *Controller) OnLimitChanged(limit int) {
	c.mu.Lock()
	cfg := c.limit
	c.mu.Unlock()

	cfg.Limit = limit
	c.OnConfigChanged(cfg)
}

// IsAvailable reports whether the battery reports a usable charging status
// and the actuator exposes a supported control primitive.
func (c *Controller) IsAvailable() bool {
	c.mu.Lock()
	status := c.reading.Status
	c.mu.Unlock()

	return status.IsRecognized() && !c.acquireCapability().IsEmpty()
}

func (c *Controller) CurrentLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.limit.Limit
}

// SetLimit stores limit and applies it.
func (c *Controller) SetLimit(limit int) error {
	if !ValidLimit(limit) {
		return errors.New().WithData(errors.ErrInvalidLimit, limit)
	}

	if c.store != nil {
		if err := c.store.SetLimit(limit); err != nil {
			return err
		}
	}

	c.OnLimitChanged(limit)

	return nil
}

// CycleLimit advances the limit to the next preset and returns it.
func (c *Controller) CycleLimit() (int, error) {
	next := NextPreset(c.CurrentLimit())
	if err := c.SetLimit(next); err != nil {
		return c.CurrentLimit(), err
	}

	return next, nil
}

func (c *Controller) Snapshot() Snapshot {
	c.capMu.Lock()
	capability := c.capability
	c.capMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Reading:    c.reading,
		Limit:      c.limit,
		Capability: capability,
		State:      c.state,
		Available:  c.reading.Status.IsRecognized() && !capability.IsEmpty(),
		LastAction: c.lastAction,
	}
}

// Restore lifts any limit imposed by the controller. Call it only after Run
// has returned.
func (c *Controller) Restore() error {
	capability := c.acquireCapability()
	if c.takeSeed() {
		c.seed(capability)
	}

	var action Action
	switch {
	case capability.SupportsToggle():
		if c.lastAppliedEnabled {
			return nil
		}
		action = EnableCharging(true)
	case capability.SupportsDeadline():
		action = Deadline(NoDeadline)
	default:
		return nil
	}

	if err := c.apply(action); err != nil {
		return errors.New().Wrap(errors.ErrRestoreCharging, err)
	}
	c.recordApplied(action)
	c.log.Info().Str("action", action.String()).Msg("Charging restored")

	return nil
}

// onDeadlineElapsed records that the actuator resumed charging by itself and
// re-evaluates, so a battery still at the limit is stopped again.
func (c *Controller) onDeadlineElapsed() {
	c.mu.Lock()
	c.state = StateChargingAllowed
	c.lastAction = Deadline(NoDeadline)
	c.mu.Unlock()

	c.log.Debug().Msg("Charging deadline elapsed")
	c.requestEvaluation()
}

func (c *Controller) requestEvaluation() {
	select {
	case c.wake <- struct{}{}:
	default:
		// a pending evaluation will read the latest inputs
	}
}

func (c *Controller) inputs() (Reading, LimitConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reading, c.limit
}

func (c *Controller) evaluateAndApply() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("Charge evaluation aborted")
		}
	}()

	reading, cfg := c.inputs()

	c.log.Debug().
		Int("percentage", reading.Percentage).
		Bool("charging", reading.Charging).
		Bool("plugged_in", reading.PluggedIn).
		Str("status", string(reading.Status)).
		Int("limit", cfg.Limit).
		Msg("Battery state")

	capability := c.acquireCapability()
	if !reading.Status.IsRecognized() || capability.IsEmpty() {
		c.log.Debug().
			Str("status", string(reading.Status)).
			Str("capability", capability.String()).
			Msg("Charge control unavailable, skipping evaluation")
		return
	}

	if c.takeSeed() {
		c.seed(capability)
	}

	action := Decide(reading, cfg, capability, c.lastAppliedEnabled)
	if action.Kind == NoAction {
		if reading.PluggedIn && !cfg.Unlimited() &&
			reading.Percentage >= cfg.Resume() && reading.Percentage < cfg.Limit {
			c.log.Debug().
				Int("percentage", reading.Percentage).
				Int("resume", cfg.Resume()).
				Int("limit", cfg.Limit).
				Msg("Waiting to resume charging")
		}
		return
	}

	if err := c.apply(action); err != nil {
		if errors.HasCode(err, errors.ErrActuatorUnreachable) {
			c.invalidateCapability()
		}
		c.log.Error().
			Err(err).
			Str("error_code", string(errors.CodeOf(err))).
			Str("action", action.String()).
			Msg("Failed to apply charge action")
		return
	}

	c.recordApplied(action)

	c.log.Info().
		Int("percentage", reading.Percentage).
		Int("limit", cfg.Limit).
		Int("resume", cfg.Resume()).
		Str("mode", modeName(capability)).
		Str("action", action.String()).
		Msg(actionMessage(action))
}

func (c *Controller) apply(action Action) error {
	errFactory := errors.New()

	var err error
	switch action.Kind {
	case SetChargingEnabled:
		err = c.actuator.SetChargingEnabled(action.Enabled)
	case SetDeadline:
		err = c.actuator.SetChargingDeadline(action.Deadline)
	default:
		return nil
	}

	if err != nil {
		return errFactory.Wrap(errors.ErrActuatorCall, err)
	}

	return nil
}

func (c *Controller) recordApplied(action Action) {
	c.lastAppliedEnabled = action.AllowsCharging()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastAction = action
	if c.lastAppliedEnabled {
		c.state = StateChargingAllowed
	} else {
		c.state = StateChargingBlocked
	}
}

// seed reads the current toggle state so the first evaluation does not
// issue a redundant command. Deadline actuators cannot be queried.
func (c *Controller) seed(capability Capability) {
	if !capability.SupportsToggle() {
		return
	}

	enabled, err := c.actuator.ChargingEnabled()
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("error_code", string(errors.CodeOf(err))).
			Msg("Failed to read charging state, assuming enabled")
		return
	}

	c.lastAppliedEnabled = enabled

	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		c.state = StateChargingAllowed
	} else {
		c.state = StateChargingBlocked
	}
}

func (c *Controller) acquireCapability() Capability {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	if !c.capability.IsEmpty() || c.actuator == nil {
		return c.capability
	}

	capability, err := c.actuator.SupportedModes()
	if err != nil {
		c.log.Debug().
			Err(err).
			Str("error_code", string(errors.CodeOf(err))).
			Msg("Charging control unreachable")
		return CapabilityNone
	}

	if capability.IsEmpty() {
		c.log.Debug().Msg("Charging control supports neither toggle nor deadline")
		return CapabilityNone
	}

	c.log.Info().Str("capability", capability.String()).Msg("Charging control supported")
	c.capability = capability
	c.needsSeed = true

	return capability
}

func (c *Controller) takeSeed() bool {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	seed := c.needsSeed
	c.needsSeed = false

	return seed
}

func (c *Controller) invalidateCapability() {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	c.capability = CapabilityNone
	c.needsSeed = false
}

func modeName(capability Capability) string {
	if capability.SupportsToggle() {
		return "toggle"
	}

	return "deadline"
}

func actionMessage(action Action) string {
	if action.AllowsCharging() {
		return "Enabling charge"
	}

	return "Disabling charge"
}
