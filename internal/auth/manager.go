// Package auth implements the account session lifecycle for the legacy
// OneDrive for Business service: a token scoped to the Office 365 discovery
// resource, endpoint resolution through the discovery service, and a token
// scoped to the resolved files endpoint. The result is a cached
// AccountSession that outbound requests stamp as a bearer credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// defaultTokenType is used when a credential flow does not report one.
const defaultTokenType = "Bearer"

// AccountSession is the cached credential used to authorize outbound calls.
// Sessions are immutable snapshots: the manager replaces the whole value on
// renewal and hands copies to callers, so concurrent readers never observe
// a partially updated session.
type AccountSession struct {
	AccessToken string
	TokenType   string
	AccountType AccountType
}

// Manager owns the account session and the discovery state. Safe for
// concurrent use: reads hit the cached immutable session, and
// re-authentication is deduplicated so concurrent callers share a single
// protocol run instead of racing duplicate interactive prompts.
type Manager struct {
	flow       CredentialFlow
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	info     ServiceInfo
	session  *AccountSession
	expiring func() bool

	group singleflight.Group
}

// NewManager creates a session manager using the given credential flow.
// Configure must be called before the first EnsureAuthenticated.
func NewManager(flow CredentialFlow, httpClient *http.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		flow:       flow,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Configure validates and installs the service configuration. Any
// previously resolved endpoint and cached session are invalidated —
// changing where to authenticate makes both stale.
func (m *Manager) Configure(info ServiceInfo) error {
	if err := info.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Resolved state belongs to the discovery step; a caller-supplied value
	// is discarded. The generation carries over so observers never see it
	// go backwards.
	info.ServiceResource = ""
	info.BaseURL = ""
	info.Generation = m.info.Generation

	m.info = info
	m.session = nil
	m.expiring = nil

	return nil
}

// ServiceInfo returns a snapshot of the configuration and any resolved
// endpoint state.
func (m *Manager) ServiceInfo() ServiceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.info
}

// Session returns the cached session, if any, without triggering
// authentication. The bool reports whether a non-expiring session exists.
func (m *Manager) Session() (AccountSession, bool) {
	return m.cachedSession()
}

// EnsureAuthenticated returns the cached session when it is present and not
// expiring, and otherwise runs the full authentication protocol. Concurrent
// callers with no valid session share one protocol run.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (AccountSession, error) {
	if sess, ok := m.cachedSession(); ok {
		return sess, nil
	}

	v, err, _ := m.group.Do("authenticate", func() (any, error) {
		// Re-check inside the group: a caller queued behind a completed run
		// must reuse its session instead of starting another protocol.
		if sess, ok := m.cachedSession(); ok {
			return sess, nil
		}

		return m.authenticate(ctx)
	})
	if err != nil {
		return AccountSession{}, err
	}

	return v.(AccountSession), nil
}

// AppendAuthHeader ensures a valid session exists and stamps its bearer
// credential on the request. Authentication failures propagate to the
// caller — they are never converted into an unauthenticated request.
func (m *Manager) AppendAuthHeader(ctx context.Context, req *http.Request) error {
	sess, err := m.EnsureAuthenticated(ctx)
	if err != nil {
		return err
	}

	if sess.AccessToken == "" {
		// Unreachable given the session invariant; kept so a broken flow
		// degrades to an unauthenticated request instead of a panic.
		return nil
	}

	req.Header.Set("Authorization", authorizationValue(sess.TokenType, sess.AccessToken))

	return nil
}

// EndpointURL returns the resolved files endpoint base URL, authenticating
// first when needed. The request layer uses this to address API calls.
func (m *Manager) EndpointURL(ctx context.Context) (string, error) {
	if _, err := m.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.info.BaseURL == "" {
		return "", fmt.Errorf("auth: service endpoint not resolved")
	}

	return m.info.BaseURL, nil
}

// SignOut discards the cached session and the resolved discovery state, and
// clears the flow's persisted identity when the flow supports it. The
// configured (non-resolved) service settings survive, so a later
// EnsureAuthenticated starts the protocol from scratch.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.expiring = nil
	m.info.ServiceResource = ""
	m.info.BaseURL = ""
	m.mu.Unlock()

	if clearer, ok := m.flow.(IdentityClearer); ok {
		if err := clearer.ClearIdentity(ctx); err != nil {
			return fmt.Errorf("auth: clearing saved identity: %w", err)
		}
	}

	m.logger.Info("signed out")

	return nil
}

// cachedSession returns the current session if one exists and the identity
// backend does not report it expiring.
func (m *Manager) cachedSession() (AccountSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return AccountSession{}, false
	}

	if m.expiring() {
		return AccountSession{}, false
	}

	return *m.session, true
}

// authenticate runs the three-stage protocol: token for the discovery
// resource, endpoint resolution, token for the resolved service resource.
// Stages are strictly sequential and a failure never leaves a partial
// session or partially resolved endpoint behind.
func (m *Manager) authenticate(ctx context.Context) (AccountSession, error) {
	info := m.ServiceInfo()

	if err := info.validate(); err != nil {
		return AccountSession{}, err
	}

	m.logger.Debug("authenticating",
		slog.String("discovery_resource", info.DiscoveryResource),
		slog.String("api_version", info.APIVersion),
	)

	discoveryCred, err := m.acquire(ctx, "discovery sign-in", info.DiscoveryResource)
	if err != nil {
		return AccountSession{}, err
	}

	entry, err := m.discover(ctx, info, discoveryCred)
	if err != nil {
		return AccountSession{}, err
	}

	serviceCred, err := m.acquire(ctx, "service sign-in", entry.ServiceResourceID)
	if err != nil {
		return AccountSession{}, err
	}

	session := AccountSession{
		AccessToken: serviceCred.AccessToken,
		TokenType:   serviceCred.TokenType,
		AccountType: serviceCred.AccountType,
	}

	if session.TokenType == "" {
		session.TokenType = defaultTokenType
	}

	expiring := serviceCred.Expiring
	if expiring == nil {
		// A flow that cannot judge expiry yields a session renewed only on
		// explicit invalidation.
		expiring = func() bool { return false }
	}

	m.mu.Lock()
	m.info.ServiceResource = entry.ServiceResourceID
	m.info.BaseURL = entry.ServiceEndpointURI
	m.info.Generation++
	generation := m.info.Generation
	m.session = &session
	m.expiring = expiring
	m.mu.Unlock()

	m.logger.Info("authenticated",
		slog.String("account_type", string(session.AccountType)),
		slog.String("base_url", entry.ServiceEndpointURI),
		slog.Int("generation", generation),
	)

	return session, nil
}

// acquire obtains a resource-scoped credential: silently when possible,
// interactively only when the silent path fails. An interactive abort keeps
// its ErrAuthenticationCancelled identity; any other interactive failure is
// wrapped as an AuthError carrying the cause.
func (m *Manager) acquire(ctx context.Context, stage, resource string) (Credential, error) {
	cred, silentErr := m.flow.AcquireSilent(ctx, resource)
	if silentErr == nil && cred.AccessToken != "" {
		return cred, nil
	}

	if silentErr != nil {
		m.logger.Debug("silent acquisition failed, falling back to interactive",
			slog.String("stage", stage),
			slog.String("error", silentErr.Error()),
		)
	}

	cred, err := m.flow.AcquireInteractive(ctx, resource)
	if err != nil {
		if errors.Is(err, ErrAuthenticationCancelled) {
			return Credential{}, fmt.Errorf("auth: %s: %w", stage, err)
		}

		return Credential{}, &AuthError{Stage: stage, Err: err}
	}

	if cred.AccessToken == "" {
		return Credential{}, &AuthError{Stage: stage, Err: errors.New("credential flow returned an empty access token")}
	}

	return cred, nil
}

// authorizationValue formats an Authorization header value, defaulting the
// scheme to Bearer.
func authorizationValue(tokenType, token string) string {
	if tokenType == "" {
		tokenType = defaultTokenType
	}

	return tokenType + " " + token
}
