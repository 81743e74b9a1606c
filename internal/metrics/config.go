package metrics

import "codeberg.org/mutker/chargectl/internal/errors"

const (
	defaultAddress   = "127.0.0.1:8125"
	defaultNamespace = "chargectl."
)

type Config struct {
	Enabled   bool
	Address   string
	Namespace string
	Tags      []string
}

func DefaultConfig() Config {
	return Config{
		Address:   defaultAddress,
		Namespace: defaultNamespace,
		Enabled:   false, // Disabled by default
	}
}

func (c Config) Validate() error {
	// Only validate the agent address if metrics is enabled
	if c.Enabled && c.Address == "" {
		return errors.New().New(ErrInvalidAddress)
	}

	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
