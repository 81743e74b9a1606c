package charge_test

import (
	"testing"

	"codeberg.org/mutker/chargectl/internal/charge"
	"github.com/stretchr/testify/assert"
)

func TestNextPreset(t *testing.T) {
	tests := []struct {
		current  int
		expected int
	}{
		{100, 90},
		{90, 80},
		{80, 75},
		{75, 100},
		{85, 100},
		{50, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, charge.NextPreset(tt.current), "after %d", tt.current)
	}
}

func TestStatusIsRecognized(t *testing.T) {
	for _, s := range []charge.Status{
		charge.StatusCharging,
		charge.StatusNotCharging,
		charge.StatusDischarging,
		charge.StatusFull,
	} {
		assert.True(t, s.IsRecognized(), string(s))
	}
	assert.False(t, charge.StatusUnknown.IsRecognized())
	assert.False(t, charge.Status("").IsRecognized())
}

func TestCapability(t *testing.T) {
	assert.True(t, charge.CapabilityNone.IsEmpty())
	assert.Equal(t, "none", charge.CapabilityNone.String())
	assert.Equal(t, "toggle", charge.CapabilityToggle.String())
	assert.Equal(t, "deadline", charge.CapabilityDeadlineBypass.String())
	assert.Equal(t, "toggle+deadline", (charge.CapabilityToggle | charge.CapabilityDeadlineBypass).String())
}
