package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[watch]
poll_interval = "10m"
websocket = false

[logging]
log_level = "debug"
log_format = "json"

[network]
connect_timeout = "30s"
data_timeout = "120s"
user_agent = "ISV|test|test/v0.1.0"
force_http_11 = true

[profile.default]
account_type = "business"
client_id = "22c49a0d-d21c-4792-aed1-8f163c982546"
tenant = "contoso.onmicrosoft.com"
remote_path = "/Documents"

[profile.archive]
account_type = "sharepoint"
remote_path = "/Shared Documents"
token_path = "~/secrets/archive.json"
state_path = "/var/lib/odb/archive.db"
`

	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10m", cfg.Watch.PollInterval)
	assert.False(t, cfg.Watch.Websocket)

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)

	assert.Equal(t, "30s", cfg.Network.ConnectTimeout)
	assert.Equal(t, "120s", cfg.Network.DataTimeout)
	assert.Equal(t, "ISV|test|test/v0.1.0", cfg.Network.UserAgent)
	assert.True(t, cfg.Network.ForceHTTP11)

	require.Len(t, cfg.Profiles, 2)

	def := cfg.Profiles["default"]
	assert.Equal(t, "business", def.AccountType)
	assert.Equal(t, "22c49a0d-d21c-4792-aed1-8f163c982546", def.ClientID)
	assert.Equal(t, "contoso.onmicrosoft.com", def.Tenant)
	assert.Equal(t, "/Documents", def.RemotePath)

	archive := cfg.Profiles["archive"]
	assert.Equal(t, "sharepoint", archive.AccountType)
	assert.Equal(t, "/Shared Documents", archive.RemotePath)
	assert.Equal(t, "~/secrets/archive.json", archive.TokenPath)
	assert.Equal(t, "/var/lib/odb/archive.db", archive.StatePath)
}

func TestLoad_MinimalConfig_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "5m", cfg.Watch.PollInterval)
	assert.True(t, cfg.Watch.Websocket)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "10s", cfg.Network.ConnectTimeout)
}

func TestLoad_PartialConfig_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "warn"
log_format = "auto"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.LogLevel)
	assert.Equal(t, "5m", cfg.Watch.PollInterval)
	assert.Equal(t, "60s", cfg.Network.DataTimeout)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `[watch
not valid toml`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	require.Error(t, err)
}

func TestLoad_UnknownKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_lvl = "debug"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "logging.log_lvl"`)
	assert.Contains(t, err.Error(), `did you mean "log_level"`)
}

func TestLoad_UnknownProfileKey(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
account_type = "business"
remote_pth = "/Documents"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "profile.work.remote_pth"`)
	assert.Contains(t, err.Error(), `did you mean "remote_path"`)
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeTestConfig(t, `
[watch]
poll_interval = "1s"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "watch.poll_interval")
}

func TestLoad_ProfileSectionOverrides(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
account_type = "business"

[profile.work.logging]
log_level = "debug"
log_format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	work := cfg.Profiles["work"]
	require.NotNil(t, work.Logging)
	assert.Equal(t, "debug", work.Logging.LogLevel)
	assert.Equal(t, "json", work.Logging.LogFormat)
	assert.Nil(t, work.Watch)
	assert.Nil(t, work.Network)
}

func TestLoad_PartialSectionOverride_FailsValidation(t *testing.T) {
	// Override sections replace the global section wholesale, so a profile
	// override must spell out every key of that section.
	path := writeTestConfig(t, `
[profile.work.logging]
log_level = "debug"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.log_format")
}

func TestLoadOrDefault_FileExists(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "debug"
log_format = "auto"
`)
	cfg, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoadOrDefault_FileNotFound(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "5m", cfg.Watch.PollInterval)
}

// --- Resolve: four-layer override chain ---

func TestResolve_NoConfigFile_SyntheticProfile(t *testing.T) {
	resolved, err := Resolve(
		EnvOverrides{ConfigPath: "/nonexistent/config.toml"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "default", resolved.Name)
	assert.Equal(t, AccountTypeBusiness, resolved.AccountType)
	assert.Equal(t, "/", resolved.RemotePath)
	assert.Equal(t, "5m", resolved.Watch.PollInterval)
}

func TestResolve_NoConfigFile_NamedSyntheticProfile(t *testing.T) {
	resolved, err := Resolve(
		EnvOverrides{ConfigPath: "/nonexistent/config.toml"},
		CLIOverrides{Profile: "work"},
	)
	require.NoError(t, err)
	assert.Equal(t, "work", resolved.Name)
	assert.Equal(t, AccountTypeBusiness, resolved.AccountType)
}

func TestResolve_CLIConfigPathOverridesEnv(t *testing.T) {
	path := writeTestConfig(t, `
[profile.real]
account_type = "business"
remote_path = "/Projects"
`)
	resolved, err := Resolve(
		EnvOverrides{ConfigPath: "/wrong/path.toml"},
		CLIOverrides{ConfigPath: path},
	)
	require.NoError(t, err)
	assert.Equal(t, "real", resolved.Name)
	assert.Equal(t, "/Projects", resolved.RemotePath)
}

func TestResolve_CLIProfileOverridesEnv(t *testing.T) {
	path := writeTestConfig(t, `
[profile.home]
account_type = "business"

[profile.work]
account_type = "sharepoint"
`)
	resolved, err := Resolve(
		EnvOverrides{ConfigPath: path, Profile: "home"},
		CLIOverrides{Profile: "work"},
	)
	require.NoError(t, err)
	assert.Equal(t, "work", resolved.Name)
	assert.Equal(t, AccountTypeSharePoint, resolved.AccountType)
}

func TestResolve_EnvProfileSelector(t *testing.T) {
	path := writeTestConfig(t, `
[profile.home]
account_type = "business"

[profile.work]
account_type = "sharepoint"
`)
	resolved, err := Resolve(
		EnvOverrides{ConfigPath: path, Profile: "home"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "home", resolved.Name)
}

func TestResolve_EnvClientIDOverride(t *testing.T) {
	path := writeTestConfig(t, `
[profile.default]
account_type = "business"
client_id = "22c49a0d-d21c-4792-aed1-8f163c982546"
`)
	resolved, err := Resolve(
		EnvOverrides{ConfigPath: path, ClientID: "f7373c1c-2bb2-4290-a9cf-fc6f9ba4e288"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "f7373c1c-2bb2-4290-a9cf-fc6f9ba4e288", resolved.ClientID)
}

func TestResolve_EnvClientIDOverride_InvalidUUID(t *testing.T) {
	path := writeTestConfig(t, `
[profile.default]
account_type = "business"
`)
	_, err := Resolve(
		EnvOverrides{ConfigPath: path, ClientID: "not-a-uuid"},
		CLIOverrides{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestResolve_UnknownProfile(t *testing.T) {
	path := writeTestConfig(t, `
[profile.home]
account_type = "business"
`)
	_, err := Resolve(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{Profile: "nope"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "nope" not found`)
}

func TestResolve_InvalidConfigFile(t *testing.T) {
	path := writeTestConfig(t, `[invalid toml`)
	_, err := Resolve(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
	)
	require.Error(t, err)
}
