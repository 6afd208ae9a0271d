package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/odbgo/odb/internal/auth"
	"github.com/odbgo/odb/internal/config"
	"github.com/odbgo/odb/internal/msauth"
	"github.com/odbgo/odb/internal/tokenfile"
)

var (
	flagClientID      string
	flagTenant        string
	flagPurge         bool
	flagNoPromptCheck bool
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a device code and save the session",
		RunE:  runLogin,
	}

	cmd.Flags().StringVar(&flagClientID, "client-id", "", "application (client) ID")
	cmd.Flags().StringVar(&flagTenant, "tenant", "", "directory tenant name or ID")
	cmd.Flags().BoolVar(&flagNoPromptCheck, "no-prompt-check", false,
		"attempt sign-in even without a terminal")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		RunE:  runLogout,
	}

	cmd.Flags().BoolVar(&flagPurge, "purge", false, "also remove the profile from the config file")

	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity without contacting the service",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// Device-code sign-in needs a human to read the code; a scripted run
	// would hang waiting for one.
	if !flagNoPromptCheck && !isatty.IsTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("sign-in needs a terminal to show the device code" +
			" — pass --no-prompt-check to attempt it anyway")
	}

	logger := buildLogger()
	httpClient := newHTTPClient()

	rp := resolvedCfg
	if flagClientID != "" {
		rp.ClientID = flagClientID
	}

	if flagTenant != "" {
		rp.Tenant = flagTenant
	}

	flow, err := newCredentialFlow(rp, httpClient, logger)
	if err != nil {
		return err
	}

	// Seed any saved token so a repeat login refreshes silently instead of
	// prompting. Switching accounts requires 'odb logout' first.
	if tok, _, loadErr := tokenfile.Load(rp.TokenFile()); loadErr == nil && tok != nil {
		flow.SeedToken(tok)
	}

	manager := auth.NewManager(flow, httpClient, logger)
	if err := manager.Configure(serviceInfoFromProfile(rp)); err != nil {
		return err
	}

	logger.Info("login started", "profile", rp.Name)

	sess, err := manager.EnsureAuthenticated(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationCancelled) {
			return fmt.Errorf("sign-in was cancelled")
		}

		return err
	}

	upn := saveSessionMeta(rp, manager, sess, logger)

	if err := ensureProfileSaved(rp, logger); err != nil {
		logger.Warn("saving profile to config", "error", err)
	}

	logger.Info("login successful", "profile", rp.Name, "upn", upn)

	if upn != "" {
		statusf("Signed in as %s.\n", upn)
	} else {
		statusf("Login successful.\n")
	}

	return nil
}

// saveSessionMeta caches identity claims and the resolved endpoint in the
// token file so whoami works offline. Failures are logged, not fatal — the
// session itself is already saved.
func saveSessionMeta(rp *config.ResolvedProfile, manager *auth.Manager, sess auth.AccountSession, logger *slog.Logger) string {
	meta := map[string]string{
		tokenfile.MetaAccountType: string(sess.AccountType),
	}

	identity, err := msauth.ParseIdentity(sess.AccessToken)
	if err != nil {
		logger.Warn("parsing identity claims", "error", err)
	} else {
		meta[tokenfile.MetaUPN] = identity.UPN
		meta[tokenfile.MetaTenantID] = identity.TenantID
	}

	info := manager.ServiceInfo()
	meta[tokenfile.MetaEndpoint] = info.BaseURL
	meta[tokenfile.MetaResource] = info.ServiceResource

	if err := tokenfile.LoadAndMergeMeta(rp.TokenFile(), meta); err != nil {
		logger.Warn("caching session metadata", "error", err)
	}

	return identity.UPN
}

// ensureProfileSaved bootstraps the config file on first login: creates the
// file when absent, appends the profile section when missing. Existing
// sections are never rewritten — the config file belongs to the user.
func ensureProfileSaved(rp *config.ResolvedProfile, logger *slog.Logger) error {
	path := effectiveConfigPath()

	keys := map[string]string{
		"account_type": rp.AccountType,
		"client_id":    rp.ClientID,
		"tenant":       rp.Tenant,
		"remote_path":  rp.RemotePath,
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info("creating config file", "path", path, "profile", rp.Name)

		return config.CreateConfigWithProfile(path, rp.Name, keys)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if _, ok := cfg.Profiles[rp.Name]; ok {
		return nil
	}

	logger.Info("adding profile to config", "path", path, "profile", rp.Name)

	return config.AppendProfileSection(path, rp.Name, keys)
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	rp := resolvedCfg

	logger.Info("logout", "profile", rp.Name)

	if err := signOutProfile(cmd.Context(), rp, logger); err != nil {
		return err
	}

	statusf("Logged out.\n")

	if flagPurge {
		return purgeProfile(rp.Name)
	}

	return nil
}

// signOutProfile routes logout through the credential flow so its persisted
// identity is cleared the same way a long-lived session clears it. Without
// a client_id no flow can be built; removing the token file directly covers
// that — a local sign-out must never require credentials config.
func signOutProfile(ctx context.Context, rp *config.ResolvedProfile, logger *slog.Logger) error {
	if rp.ClientID == "" {
		return tokenfile.Remove(rp.TokenFile())
	}

	// Sign-out performs no network I/O, so no HTTP client is wired in.
	flow, err := newCredentialFlow(rp, nil, logger)
	if err != nil {
		return err
	}

	return auth.NewManager(flow, nil, logger).SignOut(ctx)
}

// purgeProfile removes the profile section from the config file. A missing
// config file means there is nothing to purge.
func purgeProfile(name string) error {
	path := effectiveConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := config.DeleteProfileSection(path, name); err != nil {
		return err
	}

	statusf("Removed profile %q from config.\n", name)

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Profile     string `json:"profile"`
	UPN         string `json:"upn,omitempty"`
	Name        string `json:"name,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	AccountType string `json:"account_type,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Resource    string `json:"resource,omitempty"`
	TokenPath   string `json:"token_path"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	rp := resolvedCfg

	tok, meta, err := tokenfile.Load(rp.TokenFile())
	if err != nil {
		return err
	}

	if tok == nil {
		return fmt.Errorf("not logged in — run 'odb login' first")
	}

	out := whoamiOutput{
		Profile:     rp.Name,
		UPN:         meta[tokenfile.MetaUPN],
		TenantID:    meta[tokenfile.MetaTenantID],
		AccountType: meta[tokenfile.MetaAccountType],
		Endpoint:    meta[tokenfile.MetaEndpoint],
		Resource:    meta[tokenfile.MetaResource],
		TokenPath:   rp.TokenFile(),
	}

	// Claims from the saved access token are authoritative over cached
	// metadata; an expired token still carries readable claims.
	if identity, parseErr := msauth.ParseIdentity(tok.AccessToken); parseErr == nil {
		if identity.UPN != "" {
			out.UPN = identity.UPN
		}

		if identity.TenantID != "" {
			out.TenantID = identity.TenantID
		}

		out.Name = identity.Name
	}

	if flagJSON {
		return printWhoamiJSON(out)
	}

	printWhoamiText(out)

	return nil
}

func printWhoamiJSON(out whoamiOutput) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printWhoamiText(out whoamiOutput) {
	fmt.Printf("Profile: %s\n", out.Profile)

	if out.UPN != "" {
		if out.Name != "" {
			fmt.Printf("User:    %s (%s)\n", out.UPN, out.Name)
		} else {
			fmt.Printf("User:    %s\n", out.UPN)
		}
	}

	if out.TenantID != "" {
		fmt.Printf("Tenant:  %s\n", out.TenantID)
	}

	if out.AccountType != "" {
		fmt.Printf("Type:    %s\n", out.AccountType)
	}

	if out.Endpoint != "" {
		fmt.Printf("API:     %s\n", out.Endpoint)
	}

	fmt.Printf("Token:   %s\n", out.TokenPath)
}
