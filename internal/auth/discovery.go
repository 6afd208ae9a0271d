package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxDiscoveryErrorBody caps how much of a discovery error response is read
// into an error message.
const maxDiscoveryErrorBody = 4 * 1024

// discoveryResponse mirrors the discovery service JSON. Unexported —
// callers receive the selected entry folded into ServiceInfo.
type discoveryResponse struct {
	Value []serviceEntry `json:"value"`
}

type serviceEntry struct {
	Capability         string `json:"capability"`
	ServiceAPIVersion  string `json:"serviceApiVersion"`
	ServiceResourceID  string `json:"serviceResourceId"`
	ServiceEndpointURI string `json:"serviceEndpointUri"`
	EntityKey          string `json:"entityKey"`
}

// discover calls the discovery service with the given credential and selects
// the entry matching the configured capability and API version. It never
// mutates manager state — the caller folds a successful result in.
func (m *Manager) discover(ctx context.Context, info ServiceInfo, cred Credential) (serviceEntry, error) {
	endpoint := strings.TrimSuffix(info.DiscoveryURL, "/") + "/services"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return serviceEntry{}, fmt.Errorf("auth: creating discovery request: %w", err)
	}

	req.Header.Set("Authorization", authorizationValue(cred.TokenType, cred.AccessToken))
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return serviceEntry{}, fmt.Errorf("auth: calling discovery service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryErrorBody))

		return serviceEntry{}, fmt.Errorf("auth: discovery service returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dr discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return serviceEntry{}, fmt.Errorf("auth: decoding discovery response: %w", err)
	}

	entry, ok := selectService(dr.Value, info.Capability, info.APIVersion)
	if !ok {
		m.logger.Warn("no matching service entry",
			slog.String("capability", info.Capability),
			slog.String("api_version", info.APIVersion),
			slog.Int("entries", len(dr.Value)),
		)

		return serviceEntry{}, fmt.Errorf("auth: %s %s: %w", info.Capability, info.APIVersion, ErrServiceNotFound)
	}

	m.logger.Debug("service resolved",
		slog.String("service_resource", entry.ServiceResourceID),
		slog.String("base_url", entry.ServiceEndpointURI),
	)

	return entry, nil
}

// selectService picks the first entry matching capability and API version.
// Both comparisons are case-insensitive — the service has returned mixed
// casing across tenants.
func selectService(entries []serviceEntry, capability, apiVersion string) (serviceEntry, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.Capability, capability) && strings.EqualFold(e.ServiceAPIVersion, apiVersion) {
			return e, true
		}
	}

	return serviceEntry{}, false
}
