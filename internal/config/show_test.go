package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_DefaultProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"default": {AccountType: AccountTypeBusiness},
	}
	resolved, err := ResolveProfile(cfg, "default")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = RenderEffective(resolved, &buf)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, `profile "default"`)
	assert.Contains(t, output, `account_type = "business"`)
	assert.Contains(t, output, `remote_path  = "/"`)
	assert.Contains(t, output, "[watch]")
	assert.Contains(t, output, `poll_interval = "5m"`)
	assert.Contains(t, output, "websocket     = true")
	assert.Contains(t, output, "[logging]")
	assert.Contains(t, output, `log_level  = "info"`)
	assert.Contains(t, output, "[network]")
	assert.Contains(t, output, `connect_timeout = "10s"`)
	assert.Contains(t, output, "token_path")
	assert.Contains(t, output, "state_path")
}

func TestRenderEffective_OptionalFieldsShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"work": {
			AccountType:       AccountTypeBusiness,
			ClientID:          "22c49a0d-d21c-4792-aed1-8f163c982546",
			Tenant:            "contoso.onmicrosoft.com",
			DiscoveryURL:      "https://api.office.com/discovery/v2.0/me",
			DiscoveryResource: "https://api.office.com/discovery/",
			Capability:        "MyFiles",
			APIVersion:        "v2.0",
		},
	}
	resolved, err := ResolveProfile(cfg, "work")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(resolved, &buf))

	output := buf.String()
	assert.Contains(t, output, `client_id    = "22c49a0d-d21c-4792-aed1-8f163c982546"`)
	assert.Contains(t, output, `tenant       = "contoso.onmicrosoft.com"`)
	assert.Contains(t, output, `discovery_url      = "https://api.office.com/discovery/v2.0/me"`)
	assert.Contains(t, output, `capability   = "MyFiles"`)
	assert.Contains(t, output, `api_version  = "v2.0"`)
}

func TestRenderEffective_OptionalFieldsOmittedWhenEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"default": {AccountType: AccountTypeBusiness},
	}
	resolved, err := ResolveProfile(cfg, "default")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(resolved, &buf))

	output := buf.String()
	assert.NotContains(t, output, "client_id")
	assert.NotContains(t, output, "tenant")
	assert.NotContains(t, output, "discovery_url")
	assert.NotContains(t, output, "user_agent")
}

func TestRenderEffective_SectionOverrideReflected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"work": {
			AccountType: AccountTypeBusiness,
			Logging:     &LoggingConfig{LogLevel: "debug", LogFormat: "json"},
		},
	}
	resolved, err := ResolveProfile(cfg, "work")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(resolved, &buf))

	assert.Contains(t, buf.String(), `log_level  = "debug"`)
	assert.Contains(t, buf.String(), `log_format = "json"`)
}

// failingWriter returns an error after n successful writes.
type failingWriter struct {
	n int
}

func (fw *failingWriter) Write(p []byte) (int, error) {
	if fw.n <= 0 {
		return 0, errors.New("write failed")
	}

	fw.n--

	return len(p), nil
}

func TestRenderEffective_WriteError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"default": {AccountType: AccountTypeBusiness},
	}
	resolved, err := ResolveProfile(cfg, "default")
	require.NoError(t, err)

	err = RenderEffective(resolved, &failingWriter{n: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write failed")
}
