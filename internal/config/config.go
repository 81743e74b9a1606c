package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/chargectl/internal/actuator"
	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval      = 5
	DefaultLogLevel      = "info"
	DefaultBattery       = "BAT0"
	DefaultAdapter       = "AC"
	DefaultSysfsRoot     = "/sys/class/power_supply"
	DefaultMode          = string(actuator.ModeAuto)
	DefaultHysteresis    = 2
	DefaultRestoreOnExit = true
	DefaultSettingsDB    = "/var/lib/chargectl/settings.db"

	DefaultMQTTPort      = 1883
	DefaultMQTTBaseTopic = "chargectl"
	DefaultDatadogAddr   = "127.0.0.1:8125"
	DefaultDatadogNS     = "chargectl."

	defaultEnvPrefix  = "CHARGECTL"
	configEnvVar      = "CHARGECTL_CONFIG"
	configName        = "chargectl"
	defaultSearchPath = "/etc"
	defaultEnvFile    = "/etc/default/chargectl"

	// unsetLimit marks --set-limit as not given
	unsetLimit = -1
)

type Config struct {
	Interval      int           `mapstructure:"interval"`
	LogLevel      string        `mapstructure:"log_level"`
	Battery       string        `mapstructure:"battery"`
	Adapter       string        `mapstructure:"adapter"`
	SysfsRoot     string        `mapstructure:"sysfs_root"`
	Mode          string        `mapstructure:"mode"`
	Hysteresis    int           `mapstructure:"hysteresis"`
	RestoreOnExit bool          `mapstructure:"restore_on_exit"`
	SettingsDB    string        `mapstructure:"settings_db"`
	MQTT          MQTTConfig    `mapstructure:"mqtt"`
	Datadog       DatadogConfig `mapstructure:"datadog"`

	// One-shot commands, flags only
	SetLimit   int  `mapstructure:"-"`
	CycleLimit bool `mapstructure:"-"`
}

type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BaseTopic string `mapstructure:"base_topic"`
	ClientID  string `mapstructure:"client_id"`
	Discovery bool   `mapstructure:"ha_discovery"`
}

type DatadogConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Address   string   `mapstructure:"address"`
	Namespace string   `mapstructure:"namespace"`
	Tags      []string `mapstructure:"tags"`
}

// HasSetLimit reports whether --set-limit was given.
func (c *Config) HasSetLimit() bool {
	return c.SetLimit != unsetLimit
}

// Load reads defaults, the TOML config file, CHARGECTL_* environment
// variables and command line flags, in increasing precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix:   defaultEnvPrefix,
		envFile:     defaultEnvFile,
		searchPaths: []string{defaultSearchPath},
		configPath:  os.Getenv(configEnvVar),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if path, _ := fs.GetString("config"); path != "" {
		o.configPath = path
	}

	if err := loadEnvFile(o.envFile); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	cfg.SetLimit, _ = fs.GetInt("set-limit")
	cfg.CycleLimit, _ = fs.GetBool("cycle-limit")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("battery", DefaultBattery)
	v.SetDefault("adapter", DefaultAdapter)
	v.SetDefault("sysfs_root", DefaultSysfsRoot)
	v.SetDefault("mode", DefaultMode)
	v.SetDefault("hysteresis", DefaultHysteresis)
	v.SetDefault("restore_on_exit", DefaultRestoreOnExit)
	v.SetDefault("settings_db", DefaultSettingsDB)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", DefaultMQTTPort)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", DefaultMQTTBaseTopic)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.ha_discovery", false)

	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.address", DefaultDatadogAddr)
	v.SetDefault("datadog.namespace", DefaultDatadogNS)
	v.SetDefault("datadog.tags", []string{})
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("chargectl", pflag.ContinueOnError)

	fs.String("config", "", "Path to the configuration file")
	fs.Int("interval", DefaultInterval, "Interval between battery polls in seconds")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String("battery", DefaultBattery, "power_supply name of the battery")
	fs.String("adapter", DefaultAdapter, "power_supply name of the AC adapter")
	fs.String("mode", DefaultMode, "Charging control mode (auto, toggle, deadline)")
	fs.Int("hysteresis", DefaultHysteresis, "Percentage points below the limit before charging resumes")
	fs.String("settings-db", DefaultSettingsDB, "Path to the settings database")
	fs.Int("set-limit", unsetLimit, "Store a new charge limit (1-100) and exit")
	fs.Bool("cycle-limit", false, "Advance the charge limit to the next preset and exit")

	return fs
}

// bindFlags makes explicitly given flags override file and env values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"interval":    "interval",
		"log_level":   "log-level",
		"battery":     "battery",
		"adapter":     "adapter",
		"mode":        "mode",
		"hysteresis":  "hysteresis",
		"settings_db": "settings-db",
	}

	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(path)
}

func readConfigFile(v *viper.Viper, o *options) error {
	errFactory := errors.New()

	v.SetConfigType("toml")

	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	for _, path := range o.searchPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Hysteresis < 1 || c.Hysteresis > 99 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "hysteresis must be between 1 and 99")
	}

	if !actuator.Mode(c.Mode).IsValid() {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "unknown mode: "+c.Mode)
	}

	if c.Battery == "" || c.SysfsRoot == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "battery and sysfs_root are required")
	}

	if c.HasSetLimit() && !charge.ValidLimit(c.SetLimit) {
		return errFactory.WithData(errors.ErrInvalidLimit, c.SetLimit)
	}

	if c.MQTT.Enabled && c.MQTT.BaseTopic == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "mqtt.base_topic is required")
	}

	return nil
}
