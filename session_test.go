package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/auth"
	"github.com/odbgo/odb/internal/config"
	"github.com/odbgo/odb/internal/tokenfile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServiceInfoFromProfile_Defaults(t *testing.T) {
	rp := &config.ResolvedProfile{Name: "default"}

	info := serviceInfoFromProfile(rp)

	assert.Equal(t, auth.DefaultDiscoveryURL, info.DiscoveryURL)
	assert.Equal(t, auth.DefaultDiscoveryResource, info.DiscoveryResource)
	assert.Equal(t, auth.DefaultCapability, info.Capability)
	assert.Equal(t, auth.DefaultAPIVersion, info.APIVersion)
	assert.False(t, info.Resolved())
}

func TestServiceInfoFromProfile_Overrides(t *testing.T) {
	rp := &config.ResolvedProfile{
		Name:              "gov",
		DiscoveryURL:      "https://api.example.gov/discovery/v2.0/me/services",
		DiscoveryResource: "https://api.example.gov/discovery/",
		Capability:        "RootSite",
		APIVersion:        "v2.1",
	}

	info := serviceInfoFromProfile(rp)

	assert.Equal(t, "https://api.example.gov/discovery/v2.0/me/services", info.DiscoveryURL)
	assert.Equal(t, "https://api.example.gov/discovery/", info.DiscoveryResource)
	assert.Equal(t, "RootSite", info.Capability)
	assert.Equal(t, "v2.1", info.APIVersion)
}

func TestServiceInfoFromProfile_PartialOverride(t *testing.T) {
	// Only capability overridden: the rest keeps defaults.
	rp := &config.ResolvedProfile{
		Name:       "sp",
		Capability: "RootSite",
	}

	info := serviceInfoFromProfile(rp)

	assert.Equal(t, "RootSite", info.Capability)
	assert.Equal(t, auth.DefaultDiscoveryURL, info.DiscoveryURL)
	assert.Equal(t, auth.DefaultAPIVersion, info.APIVersion)
}

func TestNewCredentialFlow_MissingClientID(t *testing.T) {
	rp := &config.ResolvedProfile{Name: "work"}

	_, err := newCredentialFlow(rp, nil, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "work" has no client_id`)
	assert.Contains(t, err.Error(), "--client-id")
}

func TestNewCredentialFlow_Valid(t *testing.T) {
	rp := &config.ResolvedProfile{
		Name:      "work",
		ClientID:  "22c49a0d-d21c-4792-aed1-8f163c982546",
		Tenant:    "contoso.onmicrosoft.com",
		TokenPath: filepath.Join(t.TempDir(), "token.json"),
	}

	flow, err := newCredentialFlow(rp, nil, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, flow)
}

func TestPersistToken_WritesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "work.json")

	save := persistToken(path, discardLogger())
	save(&oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	})

	tok, _, err := tokenfile.Load(path)
	require.NoError(t, err)
	require.NotNil(t, tok)

	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestPersistToken_PreservesMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.json")

	// Simulate a completed login: token plus identity metadata on disk.
	err := tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}, map[string]string{
		tokenfile.MetaUPN:         "ada@contoso.com",
		tokenfile.MetaAccountType: "business",
	})
	require.NoError(t, err)

	// A mid-run refresh must not drop the saved metadata.
	save := persistToken(path, discardLogger())
	save(&oauth2.Token{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
	})

	tok, meta, err := tokenfile.Load(path)
	require.NoError(t, err)
	require.NotNil(t, tok)

	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "ada@contoso.com", meta[tokenfile.MetaUPN])
	assert.Equal(t, "business", meta[tokenfile.MetaAccountType])
}

func TestNewAPISession_NotLoggedIn(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = &config.ResolvedProfile{
		Name:      "work",
		ClientID:  "22c49a0d-d21c-4792-aed1-8f163c982546",
		TokenPath: filepath.Join(t.TempDir(), "missing.json"),
	}

	_, err := newAPISession()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
	assert.Contains(t, err.Error(), "odb login")
}
