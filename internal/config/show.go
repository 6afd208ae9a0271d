package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(rp *ResolvedProfile, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for profile %q\n\n", rp.Name)

	renderProfileSection(ew, rp)
	renderWatchSection(ew, &rp.Watch)
	renderLoggingSection(ew, &rp.Logging)
	renderNetworkSection(ew, &rp.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderProfileSection(ew *errWriter, rp *ResolvedProfile) {
	ew.printf("[profile]\n")
	ew.printf("  name         = %q\n", rp.Name)
	ew.printf("  account_type = %q\n", rp.AccountType)
	ew.printf("  remote_path  = %q\n", rp.RemotePath)

	if rp.ClientID != "" {
		ew.printf("  client_id    = %q\n", rp.ClientID)
	}

	if rp.Tenant != "" {
		ew.printf("  tenant       = %q\n", rp.Tenant)
	}

	if rp.DiscoveryURL != "" {
		ew.printf("  discovery_url      = %q\n", rp.DiscoveryURL)
	}

	if rp.DiscoveryResource != "" {
		ew.printf("  discovery_resource = %q\n", rp.DiscoveryResource)
	}

	if rp.Capability != "" {
		ew.printf("  capability   = %q\n", rp.Capability)
	}

	if rp.APIVersion != "" {
		ew.printf("  api_version  = %q\n", rp.APIVersion)
	}

	ew.printf("  token_path   = %q\n", rp.TokenFile())
	ew.printf("  state_path   = %q\n", rp.StateDB())
	ew.printf("\n")
}

func renderWatchSection(ew *errWriter, w *WatchConfig) {
	ew.printf("[watch]\n")
	ew.printf("  poll_interval = %q\n", w.PollInterval)
	ew.printf("  websocket     = %t\n", w.Websocket)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  force_http_11   = %t\n", n.ForceHTTP11)
}
