package telemetry_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
	"codeberg.org/mutker/chargectl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, value := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644))
	}
}

func newSource(t *testing.T, battery, adapter map[string]string) (*telemetry.Source, string) {
	t.Helper()

	root := t.TempDir()
	writeAttrs(t, filepath.Join(root, "BAT0"), battery)
	if adapter != nil {
		writeAttrs(t, filepath.Join(root, "AC"), adapter)
	}

	return telemetry.NewSource(telemetry.Config{
		Root:     root,
		Battery:  "BAT0",
		Adapter:  "AC",
		Interval: 10 * time.Millisecond,
	}, logger.Nop()), root
}

func TestParseStatus(t *testing.T) {
	tests := map[string]charge.Status{
		"Charging":     charge.StatusCharging,
		"Not charging": charge.StatusNotCharging,
		"Discharging":  charge.StatusDischarging,
		"Full":         charge.StatusFull,
		"Unknown":      charge.StatusUnknown,
		"":             charge.StatusUnknown,
		" Charging\n":  charge.StatusCharging,
	}

	for raw, expected := range tests {
		assert.Equal(t, expected, telemetry.ParseStatus(raw), "status %q", raw)
	}
}

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		battery  map[string]string
		adapter  map[string]string
		expected charge.Reading
	}{
		{
			name:     "capacity while charging",
			battery:  map[string]string{"capacity": "64", "status": "Charging"},
			adapter:  map[string]string{"online": "1"},
			expected: charge.Reading{Percentage: 64, Charging: true, PluggedIn: true, Status: charge.StatusCharging},
		},
		{
			name:     "inhibited on AC",
			battery:  map[string]string{"capacity": "80", "status": "Not charging"},
			adapter:  map[string]string{"online": "1"},
			expected: charge.Reading{Percentage: 80, PluggedIn: true, Status: charge.StatusNotCharging},
		},
		{
			name:     "on battery",
			battery:  map[string]string{"capacity": "42", "status": "Discharging"},
			adapter:  map[string]string{"online": "0"},
			expected: charge.Reading{Percentage: 42, Status: charge.StatusDischarging},
		},
		{
			name:     "charge counters",
			battery:  map[string]string{"charge_now": "3000000", "charge_full": "4000000", "status": "Charging"},
			adapter:  map[string]string{"online": "1"},
			expected: charge.Reading{Percentage: 75, Charging: true, PluggedIn: true, Status: charge.StatusCharging},
		},
		{
			name:     "energy counters",
			battery:  map[string]string{"energy_now": "45000000", "energy_full": "50000000", "status": "Full"},
			adapter:  map[string]string{"online": "1"},
			expected: charge.Reading{Percentage: 90, PluggedIn: true, Status: charge.StatusFull},
		},
		{
			name:     "capacity clamped",
			battery:  map[string]string{"capacity": "104", "status": "Full"},
			adapter:  map[string]string{"online": "1"},
			expected: charge.Reading{Percentage: 100, PluggedIn: true, Status: charge.StatusFull},
		},
		{
			name:     "no adapter node",
			battery:  map[string]string{"capacity": "55", "status": "Not charging"},
			expected: charge.Reading{Percentage: 55, PluggedIn: true, Status: charge.StatusNotCharging},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, _ := newSource(t, tt.battery, tt.adapter)

			reading, err := source.Read()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, reading)
		})
	}
}

func TestReadFailures(t *testing.T) {
	source, _ := newSource(t, map[string]string{"status": "Charging"}, nil)
	_, err := source.Read()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrReadFailed))

	source, _ = newSource(t, map[string]string{"capacity": "80"}, nil)
	_, err = source.Read()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrReadFailed))
}

func TestRunEmitsOnlyChanges(t *testing.T) {
	source, root := newSource(t,
		map[string]string{"capacity": "79", "status": "Charging"},
		map[string]string{"online": "1"},
	)

	var (
		mu       sync.Mutex
		readings []charge.Reading
	)
	source.Subscribe(func(r charge.Reading) {
		mu.Lock()
		defer mu.Unlock()
		readings = append(readings, r)
	})

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(readings)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		source.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	// several unchanged polls
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, count())

	writeAttrs(t, filepath.Join(root, "BAT0"), map[string]string{"capacity": "80"})
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 79, readings[0].Percentage)
	assert.Equal(t, 80, readings[1].Percentage)
	assert.True(t, readings[1].Charging)
}
