package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/chargectl/internal/config"
	"codeberg.org/mutker/chargectl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chargectl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// load isolates Load from the host's /etc and environment.
func load(t *testing.T, args []string, opts ...config.Option) (*config.Config, error) {
	t.Helper()
	t.Setenv("CHARGECTL_CONFIG", "")

	opts = append([]config.Option{
		config.WithSearchPaths(t.TempDir()),
		config.WithEnvFile(""),
		config.WithArgs(args),
	}, opts...)

	return config.Load(opts...)
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
interval = 10
log_level = "debug"
battery = "BAT1"
adapter = "ADP1"
sysfs_root = "/tmp/power_supply"
mode = "deadline"
hysteresis = 5
restore_on_exit = false
settings_db = "/tmp/settings.db"

[mqtt]
enabled = true
host = "broker.lan"
port = 8883
base_topic = "laptop"
ha_discovery = true

[datadog]
enabled = true
address = "10.0.0.2:8125"
tags = ["env:home", "host:laptop"]
`)

	cfg, err := load(t, nil, config.WithConfigFile(configPath))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Interval, "Expected Interval 10")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "BAT1", cfg.Battery)
	assert.Equal(t, "ADP1", cfg.Adapter)
	assert.Equal(t, "/tmp/power_supply", cfg.SysfsRoot)
	assert.Equal(t, "deadline", cfg.Mode)
	assert.Equal(t, 5, cfg.Hysteresis)
	assert.False(t, cfg.RestoreOnExit)
	assert.Equal(t, "/tmp/settings.db", cfg.SettingsDB)

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.lan", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "laptop", cfg.MQTT.BaseTopic)
	assert.True(t, cfg.MQTT.Discovery)

	assert.True(t, cfg.Datadog.Enabled)
	assert.Equal(t, "10.0.0.2:8125", cfg.Datadog.Address)
	assert.Equal(t, config.DefaultDatadogNS, cfg.Datadog.Namespace)
	assert.Equal(t, []string{"env:home", "host:laptop"}, cfg.Datadog.Tags)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultInterval, cfg.Interval)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultBattery, cfg.Battery)
	assert.Equal(t, config.DefaultAdapter, cfg.Adapter)
	assert.Equal(t, config.DefaultSysfsRoot, cfg.SysfsRoot)
	assert.Equal(t, config.DefaultMode, cfg.Mode)
	assert.Equal(t, config.DefaultHysteresis, cfg.Hysteresis)
	assert.True(t, cfg.RestoreOnExit)
	assert.Equal(t, config.DefaultSettingsDB, cfg.SettingsDB)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, config.DefaultMQTTBaseTopic, cfg.MQTT.BaseTopic)
	assert.False(t, cfg.Datadog.Enabled)
	assert.False(t, cfg.HasSetLimit())
	assert.False(t, cfg.CycleLimit)
}

func TestLoadConfigEnvVar(t *testing.T) {
	configPath := writeConfig(t, `hysteresis = 4`)
	t.Setenv("CHARGECTL_CONFIG", configPath)

	cfg, err := config.Load(config.WithArgs(nil), config.WithSearchPaths(t.TempDir()), config.WithEnvFile(""))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Hysteresis)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := load(t, nil, config.WithConfigFile(configPath))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := load(t, nil, config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chargectl.toml"), []byte(`battery = "BAT2"`), 0o600))
	t.Setenv("CHARGECTL_CONFIG", "")

	cfg, err := config.Load(config.WithArgs(nil), config.WithSearchPaths(dir), config.WithEnvFile(""))
	require.NoError(t, err)
	assert.Equal(t, "BAT2", cfg.Battery)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{"log level", `log_level = "invalid"`, errors.ErrInvalidLogLevel},
		{"interval", `interval = 0`, errors.ErrInvalidInterval},
		{"hysteresis", `hysteresis = 0`, errors.ErrInvalidConfig},
		{"mode", `mode = "bypass"`, errors.ErrInvalidConfig},
		{"battery", `battery = ""`, errors.ErrMissingConfig},
		{"mqtt base topic", "[mqtt]\nenabled = true\nbase_topic = \"\"", errors.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, nil, config.WithConfigFile(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
interval = 10
[mqtt]
host = "file.lan"
`)
	t.Setenv("CHARGECTL_INTERVAL", "30")
	t.Setenv("CHARGECTL_MQTT_HOST", "env.lan")

	cfg, err := load(t, nil, config.WithConfigFile(configPath))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Interval)
	assert.Equal(t, "env.lan", cfg.MQTT.Host)
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "warn"
mode = "toggle"
`)
	t.Setenv("CHARGECTL_MODE", "deadline")

	cfg, err := load(t, []string{"--log-level", "debug", "--mode=auto", "--hysteresis", "3"}, config.WithConfigFile(configPath))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, "auto", cfg.Mode)
	assert.Equal(t, 3, cfg.Hysteresis)
}

func TestConfigFlag(t *testing.T) {
	configPath := writeConfig(t, `adapter = "ACAD"`)

	cfg, err := load(t, []string{"--config", configPath})
	require.NoError(t, err)
	assert.Equal(t, "ACAD", cfg.Adapter)
}

func TestOneShotFlags(t *testing.T) {
	cfg, err := load(t, []string{"--set-limit", "80"})
	require.NoError(t, err)
	assert.True(t, cfg.HasSetLimit())
	assert.Equal(t, 80, cfg.SetLimit)

	cfg, err = load(t, []string{"--cycle-limit"})
	require.NoError(t, err)
	assert.True(t, cfg.CycleLimit)

	_, err = load(t, []string{"--set-limit", "0"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLimit))

	_, err = load(t, []string{"--no-such-flag"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrBindFlags))
}

func TestEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "chargectl.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHARGECTL_SYSFS_ROOT=/tmp/env_file_root\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CHARGECTL_SYSFS_ROOT") })

	cfg, err := load(t, nil, config.WithEnvFile(envFile))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env_file_root", cfg.SysfsRoot)

	// a missing file is skipped
	_, err = load(t, nil, config.WithEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, err)
}
