package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Valid account types for profiles.
const (
	AccountTypeBusiness   = "business"
	AccountTypeSharePoint = "sharepoint"
)

// Default remote path when none is specified.
const defaultRemotePath = "/"

// Default profile name when --profile is omitted.
const defaultProfileName = "default"

// Profile represents a single account configuration within a TOML config
// file. Identity and discovery fields left empty fall back to the stock
// Office 365 values at wire-up time; they exist here so national clouds and
// custom app registrations can override them. Per-profile section overrides
// (e.g. [profile.work.logging]) completely replace the corresponding global
// section — individual fields are not merged.
type Profile struct {
	AccountType       string `toml:"account_type"`
	ClientID          string `toml:"client_id"`
	Tenant            string `toml:"tenant"`
	RemotePath        string `toml:"remote_path"`
	DiscoveryURL      string `toml:"discovery_url"`
	DiscoveryResource string `toml:"discovery_resource"`
	Capability        string `toml:"capability"`
	APIVersion        string `toml:"api_version"`
	TokenPath         string `toml:"token_path"`
	StatePath         string `toml:"state_path"`

	// Per-profile section overrides (completely replace global sections).
	Watch   *WatchConfig   `toml:"watch,omitempty"`
	Logging *LoggingConfig `toml:"logging,omitempty"`
	Network *NetworkConfig `toml:"network,omitempty"`
}

// ResolvedProfile contains profile fields plus effective config sections
// after merging global defaults with per-profile overrides. This is the
// final product consumed by the CLI.
type ResolvedProfile struct {
	Name              string
	AccountType       string
	ClientID          string
	Tenant            string
	RemotePath        string
	DiscoveryURL      string
	DiscoveryResource string
	Capability        string
	APIVersion        string
	TokenPath         string
	StatePath         string

	Watch   WatchConfig
	Logging LoggingConfig
	Network NetworkConfig
}

// TokenFile returns the effective token file path: the profile's token_path
// if set, otherwise the platform default for the profile name.
func (rp *ResolvedProfile) TokenFile() string {
	if rp.TokenPath != "" {
		return rp.TokenPath
	}

	return ProfileTokenPath(rp.Name)
}

// StateDB returns the effective state database path: the profile's
// state_path if set, otherwise the platform default for the profile name.
func (rp *ResolvedProfile) StateDB() string {
	if rp.StatePath != "" {
		return rp.StatePath
	}

	return ProfileDBPath(rp.Name)
}

// ResolveProfile merges global defaults with profile-specific overrides.
// If profileName is empty, the default profile is selected. Section-level
// override semantics are "replace, not merge" — if a profile defines
// [profile.work.logging], that entire LoggingConfig replaces the global one.
func ResolveProfile(cfg *Config, profileName string) (*ResolvedProfile, error) {
	name, err := resolveProfileName(cfg, profileName)
	if err != nil {
		return nil, err
	}

	profile := cfg.Profiles[name]

	resolved := &ResolvedProfile{
		Name:              name,
		AccountType:       profile.AccountType,
		ClientID:          profile.ClientID,
		Tenant:            profile.Tenant,
		RemotePath:        profile.RemotePath,
		DiscoveryURL:      profile.DiscoveryURL,
		DiscoveryResource: profile.DiscoveryResource,
		Capability:        profile.Capability,
		APIVersion:        profile.APIVersion,
		TokenPath:         expandTilde(profile.TokenPath),
		StatePath:         expandTilde(profile.StatePath),
	}

	if resolved.AccountType == "" {
		resolved.AccountType = AccountTypeBusiness
	}

	if resolved.RemotePath == "" {
		resolved.RemotePath = defaultRemotePath
	}

	resolved.Watch = resolveSection(profile.Watch, cfg.Watch)
	resolved.Logging = resolveSection(profile.Logging, cfg.Logging)
	resolved.Network = resolveSection(profile.Network, cfg.Network)

	return resolved, nil
}

// resolveSection returns the profile override if present, otherwise the global value.
func resolveSection[T any](profileOverride *T, global T) T {
	if profileOverride != nil {
		return *profileOverride
	}

	return global
}

// resolveProfileName determines which profile to use.
func resolveProfileName(cfg *Config, profileName string) (string, error) {
	if len(cfg.Profiles) == 0 {
		return "", fmt.Errorf("no profiles defined in config")
	}

	if profileName != "" {
		return lookupExplicitProfile(cfg, profileName)
	}

	return lookupDefaultProfile(cfg)
}

// lookupExplicitProfile validates that the named profile exists.
func lookupExplicitProfile(cfg *Config, name string) (string, error) {
	if _, ok := cfg.Profiles[name]; !ok {
		return "", fmt.Errorf("profile %q not found in config", name)
	}

	return name, nil
}

// lookupDefaultProfile finds the default profile when no name is given.
func lookupDefaultProfile(cfg *Config) (string, error) {
	if _, ok := cfg.Profiles[defaultProfileName]; ok {
		return defaultProfileName, nil
	}

	if len(cfg.Profiles) == 1 {
		for name := range cfg.Profiles {
			return name, nil
		}
	}

	return "", fmt.Errorf(
		"multiple profiles defined but none named %q; use --profile to select one",
		defaultProfileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// ProfileDBPath returns the state database path for a profile.
// Format: {dataDir}/state/{profile}.db
func ProfileDBPath(profileName string) string {
	dataDir := DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "state", profileName+".db")
}

// ProfileTokenPath returns the OAuth token file path for a profile.
// Format: {configDir}/tokens/{profile}.json
func ProfileTokenPath(profileName string) string {
	configDir := DefaultConfigDir()
	if configDir == "" {
		return ""
	}

	return filepath.Join(configDir, "tokens", profileName+".json")
}
