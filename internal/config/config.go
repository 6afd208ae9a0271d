// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for odb. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) with
// per-profile section-level overrides that completely replace global sections.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// It contains named profiles and global configuration sections. When a profile
// defines its own section (e.g. [profile.work.logging]), that section
// completely replaces the global one — there is no merging of individual
// fields.
type Config struct {
	Profiles map[string]Profile `toml:"profile"`
	Watch    WatchConfig        `toml:"watch"`
	Logging  LoggingConfig      `toml:"logging"`
	Network  NetworkConfig      `toml:"network"`
}

// WatchConfig controls the watch command: polling cadence and whether to
// hold a push notification channel open between polls.
type WatchConfig struct {
	PollInterval string `toml:"poll_interval"`
	Websocket    bool   `toml:"websocket"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior: timeouts, user agent, and
// protocol version. force_http_11 is useful behind corporate proxies that
// don't support HTTP/2.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	Profile    string // --profile flag (empty = use default)
}
