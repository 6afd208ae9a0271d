package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/auth"
	"github.com/odbgo/odb/internal/config"
	"github.com/odbgo/odb/internal/msauth"
	"github.com/odbgo/odb/internal/onedrive"
	"github.com/odbgo/odb/internal/tokenfile"
)

// apiSession holds the authenticated client stack for one profile: the
// device-code credential flow, the session manager driving the discovery
// protocol, and the API client on top.
type apiSession struct {
	profile *config.ResolvedProfile
	flow    *msauth.Flow
	manager *auth.Manager
	client  *onedrive.Client
	logger  *slog.Logger
	meta    map[string]string
}

// newAPISession wires the full client stack for the resolved profile. It
// requires a prior 'odb login'; a missing token file gets a friendly pointer
// instead of a raw path error.
func newAPISession() (*apiSession, error) {
	rp := resolvedCfg
	logger := buildLogger()
	httpClient := newHTTPClient()

	tok, meta, err := tokenfile.Load(rp.TokenFile())
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, fmt.Errorf("not logged in — run 'odb login' first")
	}

	flow, err := newCredentialFlow(rp, httpClient, logger)
	if err != nil {
		return nil, err
	}

	flow.SeedToken(tok)

	manager := auth.NewManager(flow, httpClient, logger)
	if err := manager.Configure(serviceInfoFromProfile(rp)); err != nil {
		return nil, err
	}

	return &apiSession{
		profile: rp,
		flow:    flow,
		manager: manager,
		client:  onedrive.NewClient(manager, httpClient, logger),
		logger:  logger,
		meta:    meta,
	}, nil
}

// newCredentialFlow builds the device-code flow for a profile. Every issued
// token is persisted immediately so an interrupt never loses refresh
// material; sign-out removes the file through the same flow.
func newCredentialFlow(rp *config.ResolvedProfile, httpClient *http.Client, logger *slog.Logger) (*msauth.Flow, error) {
	if rp.ClientID == "" {
		return nil, fmt.Errorf(
			"profile %q has no client_id — set it in the config or pass --client-id to 'odb login'",
			rp.Name)
	}

	tokenPath := rp.TokenFile()

	return msauth.NewFlow(
		msauth.Config{ClientID: rp.ClientID, Tenant: rp.Tenant},
		msauth.Options{
			HTTPClient: httpClient,
			Display:    displayDeviceCode,
			OnToken:    persistToken(tokenPath, logger),
			OnClear:    func() error { return tokenfile.Remove(tokenPath) },
			Logger:     logger,
		},
	)
}

// displayDeviceCode prints sign-in instructions to stderr. Always visible —
// the flow cannot complete without them, so --quiet does not apply.
func displayDeviceCode(da msauth.DeviceAuth) {
	fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
	fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)
}

// persistToken returns an OnToken callback that saves each issued token,
// carrying existing metadata forward so a mid-run refresh never drops it.
func persistToken(path string, logger *slog.Logger) func(*oauth2.Token) {
	return func(tok *oauth2.Token) {
		meta, err := tokenfile.ReadMeta(path)
		if err != nil {
			logger.Warn("reading saved token metadata", "error", err)
		}

		if err := tokenfile.Save(path, tok, meta); err != nil {
			logger.Warn("persisting token", "error", err)
		}
	}
}

// serviceInfoFromProfile builds the service configuration from stock
// defaults plus any profile overrides. Resolved endpoint state always comes
// from discovery, never from config.
func serviceInfoFromProfile(rp *config.ResolvedProfile) auth.ServiceInfo {
	info := auth.DefaultServiceInfo()

	if rp.DiscoveryURL != "" {
		info.DiscoveryURL = rp.DiscoveryURL
	}

	if rp.DiscoveryResource != "" {
		info.DiscoveryResource = rp.DiscoveryResource
	}

	if rp.Capability != "" {
		info.Capability = rp.Capability
	}

	if rp.APIVersion != "" {
		info.APIVersion = rp.APIVersion
	}

	return info
}
