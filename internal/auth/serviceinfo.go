package auth

import (
	"fmt"
	"net/url"
)

// Well-known Office 365 discovery defaults.
const (
	DefaultDiscoveryURL      = "https://api.office.com/discovery/v2.0/me"
	DefaultDiscoveryResource = "https://api.office.com/discovery/"
	DefaultCapability        = "MyFiles"
	DefaultAPIVersion        = "v2.0"
)

// ServiceInfo describes where to authenticate and where the resolved files
// endpoint lives. DiscoveryURL, DiscoveryResource, Capability, and
// APIVersion are configuration; ServiceResource, BaseURL, and Generation
// are owned by the discovery step and stay zero until it succeeds.
type ServiceInfo struct {
	DiscoveryURL      string
	DiscoveryResource string
	Capability        string
	APIVersion        string

	// Resolved endpoint state. Generation increments on each successful
	// resolution so observers can detect a re-resolution.
	ServiceResource string
	BaseURL         string
	Generation      int
}

// DefaultServiceInfo returns the stock Office 365 discovery configuration.
func DefaultServiceInfo() ServiceInfo {
	return ServiceInfo{
		DiscoveryURL:      DefaultDiscoveryURL,
		DiscoveryResource: DefaultDiscoveryResource,
		Capability:        DefaultCapability,
		APIVersion:        DefaultAPIVersion,
	}
}

// Resolved reports whether discovery has populated the service endpoint.
func (si ServiceInfo) Resolved() bool {
	return si.ServiceResource != "" && si.BaseURL != ""
}

// validate checks the configurable fields. Resolved fields are owned by the
// discovery step and deliberately not validated here.
func (si ServiceInfo) validate() error {
	if si.DiscoveryURL == "" {
		return fmt.Errorf("auth: service info: discovery URL is required")
	}

	u, err := url.Parse(si.DiscoveryURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("auth: service info: invalid discovery URL %q", si.DiscoveryURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("auth: service info: discovery URL must be http(s), got %q", si.DiscoveryURL)
	}

	if si.DiscoveryResource == "" {
		return fmt.Errorf("auth: service info: discovery resource is required")
	}

	if si.Capability == "" {
		return fmt.Errorf("auth: service info: capability is required")
	}

	if si.APIVersion == "" {
		return fmt.Errorf("auth: service info: API version is required")
	}

	return nil
}
