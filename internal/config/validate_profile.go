package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// validAccountTypes enumerates accepted account_type values.
var validAccountTypes = map[string]bool{
	AccountTypeBusiness:   true,
	AccountTypeSharePoint: true,
}

// profileNamePattern restricts profile names so they stay usable as file
// name components (token files, state databases).
var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// apiVersionPattern matches service API versions like "v2.0".
var apiVersionPattern = regexp.MustCompile(`^v\d+\.\d+$`)

// validateProfiles checks all profile-level constraints.
func validateProfiles(profiles map[string]Profile) []error {
	var errs []error

	for name := range profiles {
		p := profiles[name]
		errs = append(errs, validateSingleProfile(name, &p)...)
	}

	return errs
}

// validateSingleProfile validates one profile's fields. Identity and
// discovery fields are optional at the file level (they default at wire-up
// time), so only non-empty values are format-checked here.
func validateSingleProfile(name string, p *Profile) []error {
	var errs []error

	if !profileNamePattern.MatchString(name) {
		errs = append(errs, fmt.Errorf(
			"profile %q: name must contain only letters, digits, '-' and '_'", name))
	}

	if p.AccountType != "" && !validAccountTypes[p.AccountType] {
		errs = append(errs, fmt.Errorf(
			"profile.%s.account_type: must be one of business, sharepoint; got %q",
			name, p.AccountType))
	}

	errs = append(errs, prefixFields(name, checkClientID("client_id", p.ClientID))...)
	errs = append(errs, prefixFields(name, checkDiscoveryURL("discovery_url", p.DiscoveryURL))...)
	errs = append(errs, prefixFields(name, checkAPIVersion("api_version", p.APIVersion))...)
	errs = append(errs, prefixFields(name, checkRemotePath("remote_path", p.RemotePath))...)
	errs = append(errs, validateProfileOverrides(name, p)...)

	return errs
}

// validateProfileOverrides checks per-profile section overrides. An override
// section replaces the global section wholesale, so it must satisfy the same
// constraints a global section would.
func validateProfileOverrides(name string, p *Profile) []error {
	var errs []error

	if p.Watch != nil {
		errs = append(errs, prefixFields(name, validateWatch(p.Watch))...)
	}

	if p.Logging != nil {
		errs = append(errs, prefixFields(name, validateLogging(p.Logging))...)
	}

	if p.Network != nil {
		errs = append(errs, prefixFields(name, validateNetwork(p.Network))...)
	}

	return errs
}

// prefixFields qualifies field errors with the profile name.
func prefixFields(profileName string, errs []error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		out = append(out, fmt.Errorf("profile.%s.%w", profileName, err))
	}

	return out
}

// ProfileKeys returns the settable profile keys in sorted order.
func ProfileKeys() []string {
	return slices.Clone(profileKeys)
}

// ValidateProfileKeyValue checks a single key-value pair before `config set`
// writes it: the key must be a known profile key and the value must pass the
// same per-field checks Load applies. A set must never produce a file the
// loader then refuses to read.
func ValidateProfileKeyValue(profileName, key, value string) error {
	if !knownProfileKeys[key] {
		if suggestion := closestMatch(key, profileKeys); suggestion != "" {
			return fmt.Errorf("unknown profile key %q — did you mean %q?", key, suggestion)
		}

		return fmt.Errorf("unknown profile key %q", key)
	}

	var p Profile

	switch key {
	case "account_type":
		p.AccountType = value
	case "client_id":
		p.ClientID = value
	case "tenant":
		p.Tenant = value
	case "remote_path":
		p.RemotePath = value
	case "discovery_url":
		p.DiscoveryURL = value
	case "discovery_resource":
		p.DiscoveryResource = value
	case "capability":
		p.Capability = value
	case "api_version":
		p.APIVersion = value
	case "token_path":
		p.TokenPath = value
	case "state_path":
		p.StatePath = value
	}

	if errs := validateSingleProfile(profileName, &p); len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// checkClientID verifies a non-empty client ID parses as a UUID, the form
// Azure AD application registrations use.
func checkClientID(field, value string) []error {
	if value == "" {
		return nil
	}

	if _, err := uuid.Parse(value); err != nil {
		return []error{fmt.Errorf("%s: must be an application (client) UUID; got %q", field, value)}
	}

	return nil
}

// checkDiscoveryURL verifies a non-empty discovery URL is absolute http(s).
func checkDiscoveryURL(field, value string) []error {
	if value == "" {
		return nil
	}

	u, err := url.Parse(value)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return []error{fmt.Errorf("%s: invalid URL %q", field, value)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: must be http(s); got %q", field, value)}
	}

	return nil
}

// checkAPIVersion verifies a non-empty API version looks like "v2.0".
func checkAPIVersion(field, value string) []error {
	if value == "" {
		return nil
	}

	if !apiVersionPattern.MatchString(value) {
		return []error{fmt.Errorf("%s: must look like \"v2.0\"; got %q", field, value)}
	}

	return nil
}

// checkRemotePath verifies a non-empty remote path is rooted.
func checkRemotePath(field, value string) []error {
	if value == "" {
		return nil
	}

	if !strings.HasPrefix(value, "/") {
		return []error{fmt.Errorf("%s: must start with \"/\"; got %q", field, value)}
	}

	return nil
}
