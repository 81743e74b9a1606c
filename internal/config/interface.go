package config

// Option customizes Load.
type Option func(*options) error

type options struct {
	configPath  string
	envPrefix   string
	envFile     string
	searchPaths []string
	args        []string
	argsSet     bool
}

// WithConfigFile specifies an explicit configuration file path. A missing
// file is an error, unlike the default search.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix.
// Default is "CHARGECTL"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithEnvFile loads KEY=value lines from path into the environment before
// reading it. Variables already set win. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *options) error {
		o.envFile = path
		return nil
	}
}

// WithSearchPaths replaces the directories searched for chargectl.toml.
func WithSearchPaths(paths ...string) Option {
	return func(o *options) error {
		o.searchPaths = paths
		return nil
	}
}

// WithArgs parses args instead of os.Args[1:].
func WithArgs(args []string) Option {
	return func(o *options) error {
		o.args = args
		o.argsSet = true
		return nil
	}
}
