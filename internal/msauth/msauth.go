// Package msauth implements the ActiveDirectory credential flow against the
// resource-parameter (v1) Azure AD endpoints: silent renewal through the
// refresh-token grant and interactive sign-in through the device code flow.
// It satisfies auth.CredentialFlow; the session protocol never sees any of
// the endpoint mechanics here.
package msauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/auth"
)

// DefaultAuthority is the public Azure AD login host.
const DefaultAuthority = "https://login.microsoftonline.com"

// defaultTenant signs in against the multi-tenant endpoint.
const defaultTenant = "common"

// Sentinel errors for flow availability.
var (
	// ErrNoSavedIdentity reports that silent acquisition has no refresh
	// token to redeem. The caller falls back to interactive sign-in.
	ErrNoSavedIdentity = errors.New("msauth: no saved identity")

	// ErrInteractiveUnavailable reports that interactive sign-in was needed
	// but no device-code display is wired (headless invocation).
	ErrInteractiveUnavailable = errors.New("msauth: interactive sign-in unavailable")
)

// DeviceAuth holds the device code fields a host displays to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Config describes the Azure AD application the flow signs in as.
type Config struct {
	// ClientID is the registered public-client application ID.
	ClientID string

	// Tenant scopes sign-in to one directory. Defaults to "common".
	Tenant string

	// Authority overrides the login host, mainly for sovereign clouds.
	// Defaults to DefaultAuthority.
	Authority string
}

// Options wires optional Flow collaborators.
type Options struct {
	// HTTPClient is used for token endpoint calls. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Display is invoked with the device code during interactive sign-in.
	// Without it the flow is silent-only and interactive acquisition fails
	// with ErrInteractiveUnavailable.
	Display func(DeviceAuth)

	// OnToken receives every issued token so callers can persist refresh
	// material between runs. Called outside the flow lock.
	OnToken func(*oauth2.Token)

	// OnClear is invoked by ClearIdentity so persisted state gets removed.
	OnClear func() error

	Logger *slog.Logger
}

// Flow acquires resource-scoped ActiveDirectory credentials. Safe for
// concurrent use; the refresh token is the only mutable state.
type Flow struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	display    func(DeviceAuth)
	onToken    func(*oauth2.Token)
	onClear    func() error

	mu      sync.Mutex
	refresh string
}

// NewFlow builds an ActiveDirectory credential flow.
func NewFlow(cfg Config, opts Options) (*Flow, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("msauth: client ID is required")
	}

	if cfg.Tenant == "" {
		cfg.Tenant = defaultTenant
	}

	if cfg.Authority == "" {
		cfg.Authority = DefaultAuthority
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Flow{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		display:    opts.Display,
		onToken:    opts.OnToken,
		onClear:    opts.OnClear,
	}, nil
}

// SeedToken primes the flow with a previously saved token, enabling silent
// acquisition in a fresh process.
func (f *Flow) SeedToken(tok *oauth2.Token) {
	if tok == nil || tok.RefreshToken == "" {
		return
	}

	f.mu.Lock()
	f.refresh = tok.RefreshToken
	f.mu.Unlock()
}

// HasIdentity reports whether silent acquisition has anything to redeem.
func (f *Flow) HasIdentity() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refresh != ""
}

// ClearIdentity forgets the cached refresh token and removes persisted
// state through the OnClear hook.
func (f *Flow) ClearIdentity(_ context.Context) error {
	f.mu.Lock()
	f.refresh = ""
	f.mu.Unlock()

	if f.onClear != nil {
		return f.onClear()
	}

	return nil
}

// storeToken captures rotated refresh material and invokes the persistence
// hook outside the lock.
func (f *Flow) storeToken(tok *oauth2.Token) {
	f.mu.Lock()

	if tok.RefreshToken == "" {
		// The service may omit the refresh token on renewal; carry the
		// previous one forward so persistence never loses it.
		tok.RefreshToken = f.refresh
	}

	f.refresh = tok.RefreshToken
	f.mu.Unlock()

	if f.onToken != nil {
		f.onToken(tok)
	}
}

// credential wraps an issued token as a session-layer credential. The
// expiry predicate delegates to oauth2's clock-skew-aware validity check.
func (f *Flow) credential(tok *oauth2.Token) auth.Credential {
	return auth.Credential{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		AccountType: auth.AccountTypeActiveDirectory,
		Expiring:    func() bool { return !tok.Valid() },
	}
}

// authority returns the tenant-scoped login base URL.
func (f *Flow) authority() string {
	return strings.TrimSuffix(f.cfg.Authority, "/") + "/" + f.cfg.Tenant
}

// tokenURL returns the v1 token endpoint.
func (f *Flow) tokenURL() string {
	return f.authority() + "/oauth2/token"
}

// oauthConfig builds the oauth2 configuration for the device code flow.
func (f *Flow) oauthConfig() *oauth2.Config {
	base := f.authority()

	return &oauth2.Config{
		ClientID: f.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:       base + "/oauth2/authorize",
			TokenURL:      base + "/oauth2/token",
			DeviceAuthURL: base + "/oauth2/devicecode",
		},
	}
}

// Compile-time check that Flow satisfies the session layer's contract.
var (
	_ auth.CredentialFlow  = (*Flow)(nil)
	_ auth.IdentityClearer = (*Flow)(nil)
)
