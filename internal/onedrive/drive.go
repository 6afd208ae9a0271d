package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Drive describes the user's default document library.
type Drive struct {
	ID        string
	DriveType string
	OwnerName string
	Quota     Quota
}

// Quota is the storage accounting block of a drive.
type Quota struct {
	Total     int64
	Used      int64
	Remaining int64
	Deleted   int64
	State     string
}

// driveResponse mirrors the API drive JSON.
// Unexported — callers use Drive via toDrive() normalization.
type driveResponse struct {
	ID        string      `json:"id"`
	DriveType string      `json:"driveType"`
	Owner     *ownerFacet `json:"owner"`
	Quota     *quotaFacet `json:"quota"`
}

type ownerFacet struct {
	User struct {
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

type quotaFacet struct {
	Total     int64  `json:"total"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Deleted   int64  `json:"deleted"`
	State     string `json:"state"`
}

// toDrive normalizes an API drive response into our Drive type.
// Nil-safe for optional owner and quota facets.
func (d *driveResponse) toDrive() Drive {
	drive := Drive{
		ID:        d.ID,
		DriveType: d.DriveType,
	}

	if d.Owner != nil {
		drive.OwnerName = d.Owner.User.DisplayName
	}

	if d.Quota != nil {
		drive.Quota = Quota{
			Total:     d.Quota.Total,
			Used:      d.Quota.Used,
			Remaining: d.Quota.Remaining,
			Deleted:   d.Quota.Deleted,
			State:     d.Quota.State,
		}
	}

	return drive
}

// DefaultDrive returns the authenticated user's default drive.
func (c *Client) DefaultDrive(ctx context.Context) (*Drive, error) {
	c.logger.Info("fetching default drive")

	resp, err := c.DoPath(ctx, http.MethodGet, "/drive", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("onedrive: decoding drive response: %w", err)
	}

	drive := dr.toDrive()

	c.logger.Debug("fetched drive",
		slog.String("id", drive.ID),
		slog.String("drive_type", drive.DriveType),
	)

	return &drive, nil
}
