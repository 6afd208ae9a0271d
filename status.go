package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/state"
	"github.com/odbgo/odb/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

var flagRuns int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sign-in state and recent change runs",
		Long: `Display the profile's sign-in state and its recent change runs.

Reads only local files — the service is never contacted.`,
		RunE: runStatus,
	}

	cmd.Flags().IntVar(&flagRuns, "runs", 5, "number of recent runs to show")

	return cmd
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Profile    string          `json:"profile"`
	UPN        string          `json:"upn,omitempty"`
	TokenState string          `json:"token_state"`
	StateDB    string          `json:"state_db"`
	Runs       []statusRunJSON `json:"runs,omitempty"`
}

type statusRunJSON struct {
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Path       string `json:"path"`
	Pages      int    `json:"pages"`
	Items      int    `json:"items"`
	Result     string `json:"result"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()
	rp := resolvedCfg

	out := statusOutput{
		Profile: rp.Name,
		StateDB: rp.StateDB(),
	}

	tok, meta, err := tokenfile.Load(rp.TokenFile())
	if err != nil {
		// Unreadable counts as missing: either way a re-login is needed.
		logger.Warn("reading token file", "error", err)
	}

	out.TokenState = tokenState(tok)
	out.UPN = meta[tokenfile.MetaUPN]

	// Opening the store would create the database; stat first so status
	// stays side-effect free.
	if _, statErr := os.Stat(rp.StateDB()); statErr == nil {
		runs, runsErr := loadRecentRuns(ctx, rp.StateDB(), rp.Name, flagRuns, logger)
		if runsErr != nil {
			logger.Warn("reading run history", "error", runsErr)
		} else {
			out.Runs = runs
		}
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		logger.Warn("checking state database", "error", statErr)
	}

	if flagJSON {
		return printStatusJSON(out)
	}

	printStatusText(out)

	return nil
}

// tokenState classifies a loaded token for status display. A refresh token
// keeps the session usable even after the access token expires, so it still
// counts as valid.
func tokenState(tok *oauth2.Token) string {
	switch {
	case tok == nil:
		return tokenStateMissing
	case tok.Valid() || tok.RefreshToken != "":
		return tokenStateValid
	default:
		return tokenStateExpired
	}
}

// loadRecentRuns reads the newest runs for the profile from the state store.
func loadRecentRuns(ctx context.Context, dbPath, profile string, limit int, logger *slog.Logger) ([]statusRunJSON, error) {
	store, err := state.Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, profile, limit)
	if err != nil {
		return nil, err
	}

	out := make([]statusRunJSON, 0, len(runs))

	for _, r := range runs {
		entry := statusRunJSON{
			StartedAt: time.Unix(0, r.StartedAt).UTC().Format(time.RFC3339),
			Path:      displayRunPath(r.Path),
			Pages:     r.Pages,
			Items:     r.Items,
			Result:    string(r.Result),
		}

		if r.FinishedAt != nil {
			entry.FinishedAt = time.Unix(0, *r.FinishedAt).UTC().Format(time.RFC3339)
		}

		out = append(out, entry)
	}

	return out, nil
}

// displayRunPath renders a stored run path for humans; runs against the
// drive root are stored with an empty path.
func displayRunPath(p string) string {
	if p == "" {
		return "/"
	}

	return "/" + p
}

func printStatusJSON(out statusOutput) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(out statusOutput) {
	fmt.Printf("Profile: %s\n", out.Profile)

	if out.UPN != "" {
		fmt.Printf("User:    %s\n", out.UPN)
	}

	fmt.Printf("Token:   %s\n", out.TokenState)
	fmt.Printf("State:   %s\n", out.StateDB)

	if len(out.Runs) == 0 {
		fmt.Println("\nNo change runs recorded.")

		return
	}

	fmt.Println()

	headers := []string{"STARTED", "RESULT", "PATH", "PAGES", "ITEMS"}
	rows := make([][]string, 0, len(out.Runs))

	for _, r := range out.Runs {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			started = formatTime(t)
		}

		rows = append(rows, []string{
			started,
			r.Result,
			r.Path,
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Items),
		})
	}

	printTable(os.Stdout, headers, rows)
}
