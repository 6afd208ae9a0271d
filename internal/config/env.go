package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "ODB_CONFIG"
	EnvProfile  = "ODB_PROFILE"
	EnvClientID = "ODB_CLIENT_ID"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // ODB_CONFIG: override config file path
	Profile    string // ODB_PROFILE: active profile name
	ClientID   string // ODB_CLIENT_ID: application (client) ID override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Profile:    os.Getenv(EnvProfile),
		ClientID:   os.Getenv(EnvClientID),
	}
}
