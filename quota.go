package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odbgo/odb/internal/onedrive"
)

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show drive storage usage",
		RunE:  runQuota,
	}
}

func runQuota(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	sess, err := newAPISession()
	if err != nil {
		return err
	}

	drive, err := sess.client.DefaultDrive(ctx)
	if err != nil {
		return fmt.Errorf("fetching drive: %w", err)
	}

	if flagJSON {
		return printQuotaJSON(drive)
	}

	printQuotaText(drive)

	return nil
}

// quotaJSONOutput is the JSON output schema for the quota command.
type quotaJSONOutput struct {
	DriveID   string `json:"drive_id"`
	DriveType string `json:"drive_type"`
	Owner     string `json:"owner,omitempty"`
	Total     int64  `json:"total"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Deleted   int64  `json:"deleted"`
	State     string `json:"state,omitempty"`
}

func quotaOutput(drive *onedrive.Drive) quotaJSONOutput {
	return quotaJSONOutput{
		DriveID:   drive.ID,
		DriveType: drive.DriveType,
		Owner:     drive.OwnerName,
		Total:     drive.Quota.Total,
		Used:      drive.Quota.Used,
		Remaining: drive.Quota.Remaining,
		Deleted:   drive.Quota.Deleted,
		State:     drive.Quota.State,
	}
}

func printQuotaJSON(drive *onedrive.Drive) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(quotaOutput(drive))
}

func printQuotaText(drive *onedrive.Drive) {
	fmt.Printf("Drive:     %s (%s)\n", drive.ID, drive.DriveType)

	if drive.OwnerName != "" {
		fmt.Printf("Owner:     %s\n", drive.OwnerName)
	}

	fmt.Printf("Used:      %s / %s", formatSize(drive.Quota.Used), formatSize(drive.Quota.Total))

	if drive.Quota.Total > 0 {
		fmt.Printf(" (%.0f%%)", float64(drive.Quota.Used)/float64(drive.Quota.Total)*100)
	}

	fmt.Println()

	fmt.Printf("Remaining: %s\n", formatSize(drive.Quota.Remaining))

	if drive.Quota.Deleted > 0 {
		fmt.Printf("Deleted:   %s\n", formatSize(drive.Quota.Deleted))
	}

	if drive.Quota.State != "" && drive.Quota.State != "normal" {
		fmt.Printf("State:     %s\n", drive.Quota.State)
	}
}
