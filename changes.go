package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odbgo/odb/internal/onedrive"
	"github.com/odbgo/odb/internal/state"
)

var (
	flagFull     bool
	flagPageSize int
)

// runHistoryKeep bounds per-profile run history in the state database. Run
// rows carry no continuation state, only bookkeeping for `status`.
const runHistoryKeep = 50

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes [path]",
		Short: "List changes since the last run",
		Long: `List items changed under a folder since the last changes run.

The first run lists everything; later runs resume from the saved cursor and
report only what changed in between. Cursors are kept per profile and path
in the local state database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChanges,
	}

	cmd.Flags().BoolVar(&flagFull, "full", false, "discard the saved cursor and list everything")
	cmd.Flags().IntVar(&flagPageSize, "page-size", 0, "items per page (service default when 0)")

	return cmd
}

func runChanges(cmd *cobra.Command, args []string) error {
	remotePath := cleanRemotePath(argOrProfilePath(args))
	ctx := cmd.Context()

	sess, err := newAPISession()
	if err != nil {
		return err
	}

	store, err := state.Open(resolvedCfg.StateDB(), sess.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if flagFull {
		if err := store.ClearCursor(ctx, sess.profile.Name, remotePath); err != nil {
			return err
		}
	}

	items, err := deltaPass(ctx, sess, store, remotePath)
	if err != nil {
		return err
	}

	if flagJSON {
		return printChangesJSON(items)
	}

	printChangesTable(items)

	return nil
}

// deltaPass runs one full delta listing for the path: builds the request
// from any saved cursor, follows next-page links to exhaustion, persists
// the cursor after every page, and records the run in the state store.
func deltaPass(ctx context.Context, sess *apiSession, store *state.Store, remotePath string) ([]onedrive.Item, error) {
	profile := sess.profile.Name

	req, err := resumeRequest(ctx, sess, store, remotePath)
	if err != nil {
		return nil, err
	}

	run, err := store.StartRun(ctx, profile, remotePath)
	if err != nil {
		return nil, err
	}

	var all []onedrive.Item

	pages := 0
	restarted := false

	for req != nil {
		page, fetchErr := req.Fetch(ctx)
		if fetchErr != nil {
			// HTTP 410 means the service expired the saved cursor.
			// Drop it and re-enumerate from scratch, once per pass.
			if errors.Is(fetchErr, onedrive.ErrGone) && !restarted {
				sess.logger.Warn("saved cursor expired, restarting full listing",
					"path", remotePath)

				req, err = restartListing(ctx, sess, store, remotePath)
				if err != nil {
					finishRun(ctx, store, run, pages, len(all), err, sess.logger)

					return nil, err
				}

				all = all[:0]
				pages = 0
				restarted = true

				continue
			}

			finishRun(ctx, store, run, pages, len(all), fetchErr, sess.logger)

			return nil, fetchErr
		}

		if page == nil {
			break
		}

		all = append(all, page.Items...)
		pages++

		cont := page.Continuation()
		if saveErr := saveCursor(ctx, store, profile, remotePath, cont); saveErr != nil {
			sess.logger.Warn("saving cursor", "error", saveErr)
		}

		if cont.Kind != onedrive.ContinuationNextPage {
			break
		}

		req = page.NextPageRequest()
	}

	finishRun(ctx, store, run, pages, len(all), nil, sess.logger)

	return onedrive.NormalizeDelta(all, sess.logger), nil
}

// restartListing clears the stale cursor and builds a fresh full-listing
// request for the path.
func restartListing(ctx context.Context, sess *apiSession, store *state.Store, remotePath string) (*onedrive.ItemDeltaRequest, error) {
	if err := store.ClearCursor(ctx, sess.profile.Name, remotePath); err != nil {
		return nil, err
	}

	return resumeRequest(ctx, sess, store, remotePath)
}

// resumeRequest builds the delta request for a path. A saved delta link is
// followed exactly as the service handed it back; otherwise a fresh listing
// starts, carrying any saved page token.
func resumeRequest(ctx context.Context, sess *apiSession, store *state.Store, remotePath string) (*onedrive.ItemDeltaRequest, error) {
	cursor, err := store.GetCursor(ctx, sess.profile.Name, remotePath)
	if err != nil {
		return nil, err
	}

	if cursor != nil && cursor.DeltaLink != "" {
		sess.logger.Debug("resuming from delta link", "path", remotePath)

		return sess.client.ItemDeltaFromLink(cursor.DeltaLink), nil
	}

	token := ""
	if cursor != nil {
		token = cursor.Token
	}

	req := sess.client.ItemDelta(onedrive.DeltaPath(remotePath), token)
	if flagPageSize > 0 {
		req = req.Top(flagPageSize)
	}

	return req, nil
}

// saveCursor persists continuation state after a page so an interrupted
// listing resumes where it stopped instead of starting over.
func saveCursor(ctx context.Context, store *state.Store, profile, path string, cont onedrive.Continuation) error {
	return store.SaveCursor(ctx, &state.Cursor{
		Profile:   profile,
		Path:      path,
		Token:     cont.Token,
		DeltaLink: cont.DeltaLink,
	})
}

// finishRun closes out the run record and trims run history to
// runHistoryKeep. A detached context is used for the writes so the
// bookkeeping still lands when the pass itself was cancelled.
func finishRun(ctx context.Context, store *state.Store, run *state.Run, pages, items int, passErr error, logger *slog.Logger) {
	result := state.RunCompleted

	switch {
	case passErr == nil:
	case errors.Is(passErr, context.Canceled) || ctx.Err() != nil:
		result = state.RunCancelled
	default:
		result = state.RunFailed
	}

	detached := context.WithoutCancel(ctx)

	if err := store.FinishRun(detached, run.ID, pages, items, result); err != nil {
		logger.Warn("recording run", "error", err)
	}

	if _, err := store.PruneRuns(detached, run.Profile, runHistoryKeep); err != nil {
		logger.Warn("pruning run history", "error", err)
	}
}

// changeKind labels an item for display.
func changeKind(item *onedrive.Item) string {
	if item.IsDeleted {
		return "deleted"
	}

	return "updated"
}

// changeJSONItem is the JSON output schema for one changed item.
type changeJSONItem struct {
	Path       string `json:"path"`
	Change     string `json:"change"`
	IsFolder   bool   `json:"is_folder"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	ID         string `json:"id"`
}

func printChangesJSON(items []onedrive.Item) error {
	out := make([]changeJSONItem, 0, len(items))
	for i := range items {
		out = append(out, changeJSONItem{
			Path:       items[i].Path(),
			Change:     changeKind(&items[i]),
			IsFolder:   items[i].IsFolder,
			Size:       items[i].Size,
			ModifiedAt: items[i].ModifiedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ID:         items[i].ID,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printChangesTable(items []onedrive.Item) {
	if len(items) == 0 {
		statusf("No changes.\n")

		return
	}

	headers := []string{"CHANGE", "PATH", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		path := items[i].Path()
		if items[i].IsFolder {
			path += "/"
		}

		size := formatSize(items[i].Size)
		modified := formatTime(items[i].ModifiedAt)

		if items[i].IsDeleted {
			size = "-"
			modified = "-"
		}

		rows = append(rows, []string{changeKind(&items[i]), path, size, modified})
	}

	printTable(os.Stdout, headers, rows)

	statusf("%d changes.\n", len(items))
}
