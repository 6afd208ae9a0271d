package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen to be safe, reasonable
// starting points that work for most users without any config file.
const (
	defaultPollInterval   = "5m"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Profiles: make(map[string]Profile),
		Watch:    defaultWatchConfig(),
		Logging:  defaultLoggingConfig(),
		Network:  defaultNetworkConfig(),
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		PollInterval: defaultPollInterval,
		Websocket:    true,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
