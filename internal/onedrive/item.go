package onedrive

import (
	"log/slog"
	"strings"
	"time"
)

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// Item represents a drive item (file, folder, or package).
// Fields are normalized from the API response; callers never see raw wire data.
type Item struct {
	ID          string
	Name        string
	DriveID     string // normalized: lowercase (service casing is inconsistent)
	ParentID    string
	ParentPath  string
	Size        int64
	ETag        string
	CTag        string
	IsFolder    bool
	IsDeleted   bool
	IsPackage   bool // OneNote packages — listings can skip these
	MimeType    string
	SHA1Hash    string // hex
	CRC32Hash   string // hex
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ChildCount  int    // ChildCountUnknown if not present
	DownloadURL string // pre-authenticated, ephemeral; never log
}

// Path returns the item's drive-root-relative path built from the parent
// reference. Items at the root, or with no parent reference at all, return
// just their name.
func (i *Item) Path() string {
	parent := i.ParentPath
	if idx := strings.Index(parent, "root:"); idx >= 0 {
		parent = parent[idx+len("root:"):]
	}

	parent = strings.Trim(parent, "/")
	if parent == "" {
		return i.Name
	}

	return parent + "/" + i.Name
}

// itemResponse mirrors the API item JSON exactly.
// Unexported — callers use Item via toItem() normalization.
type itemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	CTag                 string       `json:"cTag"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	ParentReference      *parentRef   `json:"parentReference"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	Deleted              *deleteFacet `json:"deleted"`
	Package              *pkgFacet    `json:"package"`
	DownloadURL          string       `json:"@content.downloadUrl"` //nolint:tagliatelle // API annotation key
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

// hashFacet carries the integrity hashes the service computes. Business
// tenants report SHA-1 and CRC32; neither is guaranteed present.
type hashFacet struct {
	SHA1Hash  string `json:"sha1Hash"`
	CRC32Hash string `json:"crc32Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type deleteFacet struct {
	State string `json:"state"`
}

type pkgFacet struct {
	Type string `json:"type"`
}

// toItem normalizes an API item response into our Item type.
func (r *itemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          r.ID,
		Name:        r.Name,
		Size:        r.Size,
		ETag:        r.ETag,
		CTag:        r.CTag,
		IsFolder:    r.Folder != nil,
		IsDeleted:   r.Deleted != nil,
		IsPackage:   r.Package != nil,
		ChildCount:  ChildCountUnknown,
		DownloadURL: r.DownloadURL,
	}

	// Normalize DriveID to lowercase — the service returns inconsistent
	// casing for drive IDs across endpoints.
	if r.ParentReference != nil {
		item.DriveID = strings.ToLower(r.ParentReference.DriveID)
		item.ParentID = r.ParentReference.ID
		item.ParentPath = r.ParentReference.Path
	}

	if r.Folder != nil {
		item.ChildCount = r.Folder.ChildCount
	}

	// File hashes — nil-safe at each level.
	if r.File != nil {
		item.MimeType = r.File.MimeType

		if r.File.Hashes != nil {
			item.SHA1Hash = r.File.Hashes.SHA1Hash
			item.CRC32Hash = r.File.Hashes.CRC32Hash
		}
	}

	// Timestamps — validate and fall back to now if invalid.
	item.CreatedAt = parseTimestamp(r.CreatedDateTime, "createdDateTime", r.ID, logger)
	item.ModifiedAt = parseTimestamp(r.LastModifiedDateTime, "lastModifiedDateTime", r.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}
