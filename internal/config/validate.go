package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minPollInterval   = 30 * time.Second
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// validLogLevels enumerates accepted log_level values.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// validLogFormats enumerates accepted log_format values.
var validLogFormats = map[string]bool{
	"auto": true, "text": true, "json": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProfiles(cfg.Profiles)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks a fully resolved profile. Unlike Validate(), which
// checks raw config file values, this runs after the override chain
// (defaults -> file -> env -> CLI) has been applied, so it sees the final
// merged result including env-supplied values.
func ValidateResolved(rp *ResolvedProfile) error {
	var errs []error

	if !validAccountTypes[rp.AccountType] {
		errs = append(errs, fmt.Errorf(
			"account_type: must be one of business, sharepoint; got %q", rp.AccountType))
	}

	errs = append(errs, checkClientID("client_id", rp.ClientID)...)
	errs = append(errs, checkDiscoveryURL("discovery_url", rp.DiscoveryURL)...)
	errs = append(errs, checkAPIVersion("api_version", rp.APIVersion)...)
	errs = append(errs, checkRemotePath("remote_path", rp.RemotePath)...)
	errs = append(errs, validateWatch(&rp.Watch)...)
	errs = append(errs, validateLogging(&rp.Logging)...)
	errs = append(errs, validateNetwork(&rp.Network)...)

	return errors.Join(errs...)
}

// validateWatch checks watch section constraints.
func validateWatch(w *WatchConfig) []error {
	return checkMinDuration("watch.poll_interval", w.PollInterval, minPollInterval)
}

// validateLogging checks logging section constraints.
func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf(
			"logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf(
			"logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

// validateNetwork checks network section constraints.
func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, checkMinDuration("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, checkMinDuration("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

// checkMinDuration verifies a duration string parses and meets a floor.
func checkMinDuration(field, value string, floor time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q", field, value)}
	}

	if d < floor {
		return []error{fmt.Errorf("%s: must be at least %s; got %s", field, floor, value)}
	}

	return nil
}
