package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/odbgo/odb/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProfile    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective profile loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.ResolvedProfile

// skipConfigCommands lists commands that must work even when the config
// file is broken or absent. Uses CommandPath() for explicit matching, safe
// against future subcommand collisions.
var skipConfigCommands = map[string]bool{
	"odb config init": true,
	"odb config path": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "odb",
		Short:   "OneDrive for Business CLI client",
		Long:    "A CLI client for the legacy OneDrive for Business API, with change tracking.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE loads configuration before every command. A
		// missing config file is fine (first-run synthetic profile); a
		// broken one fails fast here with the validation report.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "profile name")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newChangesCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// effectiveConfigPath resolves the config file location: CLI flag wins,
// then the environment, then the platform default.
func effectiveConfigPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	if env := os.Getenv(config.EnvConfig); env != "" {
		return env
	}

	return config.DefaultConfigPath()
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for use by
// subcommands.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Profile:    flagProfile,
	}

	env := config.ReadEnvOverrides()

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Format "auto" picks
// text on a terminal and JSON otherwise, so piped logs stay parseable.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isatty.IsTerminal(os.Stderr.Fd())) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// fallbackDataTimeout bounds requests when no network config is resolved.
const fallbackDataTimeout = 60 * time.Second

// newHTTPClient builds an HTTP client from the resolved network config.
// connect_timeout bounds dialing; data_timeout bounds the whole exchange.
// force_http_11 disables HTTP/2 for proxies that mishandle it.
func newHTTPClient() *http.Client {
	if resolvedCfg == nil {
		return &http.Client{Timeout: fallbackDataTimeout}
	}

	// Durations were validated at load time; a parse failure here means a
	// programming error, so zero (no timeout) is an acceptable fallback.
	connectTimeout, _ := time.ParseDuration(resolvedCfg.Network.ConnectTimeout)
	dataTimeout, _ := time.ParseDuration(resolvedCfg.Network.DataTimeout)

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}

	if resolvedCfg.Network.ForceHTTP11 {
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	var rt http.RoundTripper = transport
	if ua := resolvedCfg.Network.UserAgent; ua != "" {
		rt = &userAgentTransport{base: transport, agent: ua}
	}

	return &http.Client{Timeout: dataTimeout, Transport: rt}
}

// userAgentTransport stamps a configured User-Agent on every request.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)

	return t.base.RoundTrip(req)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
