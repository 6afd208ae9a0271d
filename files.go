package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odbgo/odb/internal/onedrive"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file with hash verification",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

// cleanRemotePath strips leading/trailing slashes; "" means drive root.
func cleanRemotePath(path string) string {
	return strings.Trim(path, "/")
}

// argOrProfilePath picks the remote path for listing commands: an explicit
// argument wins, otherwise the profile's configured remote_path anchors the
// command.
func argOrProfilePath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}

	return resolvedCfg.RemotePath
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := argOrProfilePath(args)
	ctx := cmd.Context()

	sess, err := newAPISession()
	if err != nil {
		return err
	}

	sess.logger.Debug("ls", "path", remotePath)

	items, err := sess.client.ListChildren(ctx, cleanRemotePath(remotePath))
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		return printItemsJSON(items)
	}

	printItemsTable(items)

	return nil
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ModifiedAt string `json:"modified_at"`
	ID         string `json:"id"`
}

func printItemsJSON(items []onedrive.Item) error {
	out := make([]lsJSONItem, 0, len(items))
	for i := range items {
		out = append(out, lsJSONItem{
			Name:       items[i].Name,
			Size:       items[i].Size,
			IsFolder:   items[i].IsFolder,
			ModifiedAt: items[i].ModifiedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ID:         items[i].ID,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printItemsTable(items []onedrive.Item) {
	// Sort: folders first, then alphabetical.
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}

		return items[i].Name < items[j].Name
	})

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Name
		if items[i].IsFolder {
			name += "/"
		}

		rows = append(rows, []string{name, formatSize(items[i].Size), formatTime(items[i].ModifiedAt)})
	}

	printTable(os.Stdout, headers, rows)
}

func runStat(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	sess, err := newAPISession()
	if err != nil {
		return err
	}

	sess.logger.Debug("stat", "path", remotePath)

	item, err := sess.client.GetItemByPath(ctx, cleanRemotePath(remotePath))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if flagJSON {
		return printStatJSON(item)
	}

	printStatText(item)

	return nil
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ChildCount int    `json:"child_count,omitempty"`
	ModifiedAt string `json:"modified_at"`
	CreatedAt  string `json:"created_at"`
	MimeType   string `json:"mime_type,omitempty"`
	SHA1       string `json:"sha1,omitempty"`
	ETag       string `json:"etag"`
	CTag       string `json:"ctag,omitempty"`
}

func printStatJSON(item *onedrive.Item) error {
	out := statJSONOutput{
		ID:         item.ID,
		Name:       item.Name,
		Size:       item.Size,
		IsFolder:   item.IsFolder,
		ModifiedAt: item.ModifiedAt.UTC().Format("2006-01-02T15:04:05Z"),
		CreatedAt:  item.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		MimeType:   item.MimeType,
		SHA1:       item.SHA1Hash,
		ETag:       item.ETag,
		CTag:       item.CTag,
	}

	if item.ChildCount != onedrive.ChildCountUnknown {
		out.ChildCount = item.ChildCount
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatText(item *onedrive.Item) {
	itemType := "file"
	if item.IsFolder {
		itemType = "folder"
	}

	fmt.Printf("Name:     %s\n", item.Name)
	fmt.Printf("Type:     %s\n", itemType)
	fmt.Printf("Size:     %s (%d bytes)\n", formatSize(item.Size), item.Size)
	fmt.Printf("Modified: %s\n", item.ModifiedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("Created:  %s\n", item.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("ID:       %s\n", item.ID)

	if item.IsFolder && item.ChildCount != onedrive.ChildCountUnknown {
		fmt.Printf("Children: %d\n", item.ChildCount)
	}

	if item.MimeType != "" {
		fmt.Printf("MIME:     %s\n", item.MimeType)
	}

	if item.SHA1Hash != "" {
		fmt.Printf("SHA1:     %s\n", item.SHA1Hash)
	}

	if item.ETag != "" {
		fmt.Printf("ETag:     %s\n", item.ETag)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	sess, err := newAPISession()
	if err != nil {
		return err
	}

	sess.logger.Debug("get", "remote_path", remotePath)

	item, err := sess.client.GetItemByPath(ctx, cleanRemotePath(remotePath))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if item.IsFolder {
		return fmt.Errorf("%q is a folder, not a file", remotePath)
	}

	localPath := item.Name
	if len(args) > 1 {
		localPath = args[1]
	}

	n, err := downloadToFile(ctx, sess, item, localPath)
	if err != nil {
		if errors.Is(err, onedrive.ErrHashMismatch) {
			return fmt.Errorf("downloaded content failed verification for %q (removed, try again)", remotePath)
		}

		return err
	}

	sess.logger.Debug("download complete", "local_path", localPath, "bytes", n)
	statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

	return nil
}

// downloadToFile streams item content to localPath via a .partial temp so an
// interrupted or corrupt download never replaces an existing file. The
// rename only happens after hash verification inside DownloadItem passes.
func downloadToFile(ctx context.Context, sess *apiSession, item *onedrive.Item, localPath string) (int64, error) {
	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return 0, fmt.Errorf("creating %q: %w", partialPath, err)
	}

	n, dlErr := sess.client.DownloadItem(ctx, item, f)

	if closeErr := f.Close(); closeErr != nil && dlErr == nil {
		dlErr = fmt.Errorf("closing %q: %w", partialPath, closeErr)
	}

	if dlErr != nil {
		os.Remove(partialPath)

		return n, dlErr
	}

	if err := os.Rename(partialPath, localPath); err != nil {
		os.Remove(partialPath)

		return n, fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	return n, nil
}
