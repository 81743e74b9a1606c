package charge

// Decide computes the action that moves the actuator toward the configured
// limit. It is pure: identical inputs always yield the same Action.
//
// Rules are evaluated in order and the first match wins:
//
//  1. limit 100: enable charging
//  2. percentage >= limit: disable charging
//  3. percentage < resume: enable charging
//  4. otherwise (dead band): no action
//
// Toggle is used whenever the capability offers it; the deadline primitive
// is the fallback. An empty capability yields NoAction.
func Decide(reading Reading, cfg LimitConfig, capability Capability, lastAppliedEnabled bool) Action {
	switch {
	case capability.SupportsToggle():
		return decideToggle(reading, cfg, lastAppliedEnabled)
	case capability.SupportsDeadline():
		return decideDeadline(reading, cfg)
	default:
		return None()
	}
}

func decideToggle(reading Reading, cfg LimitConfig, lastAppliedEnabled bool) Action {
	switch {
	case cfg.Unlimited():
		if !lastAppliedEnabled {
			return EnableCharging(true)
		}
	case reading.Percentage >= cfg.Limit:
		if lastAppliedEnabled || reading.Charging {
			return EnableCharging(false)
		}
	case reading.Percentage < cfg.Resume():
		if !lastAppliedEnabled || !reading.Charging {
			return EnableCharging(true)
		}
	}

	return None()
}

// The deadline state cannot be read back, so stop and clear commands are
// re-issued on every qualifying evaluation.
func decideDeadline(reading Reading, cfg LimitConfig) Action {
	switch {
	case cfg.Unlimited():
		return Deadline(NoDeadline)
	case reading.Percentage >= cfg.Limit:
		if reading.Charging {
			return Deadline(StopDeadline)
		}
	case reading.Percentage < cfg.Resume():
		return Deadline(NoDeadline)
	}

	return None()
}
