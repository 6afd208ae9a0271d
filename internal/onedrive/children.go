package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// childPageSize is the $top value for child listings. 200 is the maximum
// the service allows for item collections.
const childPageSize = 200

// childrenResponse mirrors the flat child-collection envelope. Unlike delta
// responses, value is a plain array and the next link sits at the top level.
type childrenResponse struct {
	Value    []itemResponse `json:"value"`
	NextLink string         `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// GetItem retrieves a single drive item by ID.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	c.logger.Info("getting item",
		slog.String("item_id", itemID),
	)

	return c.fetchItem(ctx, fmt.Sprintf("/drive/items/%s", itemID))
}

// GetItemByPath retrieves a drive item by its path relative to the drive
// root. An empty path retrieves the root itself.
func (c *Client) GetItemByPath(ctx context.Context, remotePath string) (*Item, error) {
	c.logger.Info("getting item by path",
		slog.String("path", remotePath),
	)

	return c.fetchItem(ctx, itemPath(remotePath))
}

// itemPath builds the API path addressing an item by drive-root-relative
// path. The root has no colon-delimited form of its own.
func itemPath(remotePath string) string {
	remotePath = strings.Trim(remotePath, "/")
	if remotePath == "" {
		return "/drive/root"
	}

	return fmt.Sprintf("/drive/root:/%s:", encodePathSegments(remotePath))
}

// childrenPath builds the API path listing an item's children.
func childrenPath(remotePath string) string {
	remotePath = strings.Trim(remotePath, "/")
	if remotePath == "" {
		return fmt.Sprintf("/drive/root/children?$top=%d", childPageSize)
	}

	return fmt.Sprintf("/drive/root:/%s:/children?$top=%d", encodePathSegments(remotePath), childPageSize)
}

// fetchItem fetches a single drive item from the given API path and decodes it.
func (c *Client) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := c.DoPath(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("onedrive: decoding item response: %w", err)
	}

	item := ir.toItem(c.logger)

	return &item, nil
}

// ListChildren returns all children of the folder at the given drive-root-
// relative path, following pagination. An empty path lists the root.
func (c *Client) ListChildren(ctx context.Context, remotePath string) ([]Item, error) {
	c.logger.Info("listing children",
		slog.String("path", remotePath),
	)

	var items []Item

	apiPath := childrenPath(remotePath)
	page := 1

	for apiPath != "" {
		pageItems, nextLink, err := c.listChildrenPage(ctx, apiPath, page)
		if err != nil {
			return nil, err
		}

		items = append(items, pageItems...)
		apiPath = nextLink
		page++
	}

	c.logger.Info("listed children",
		slog.String("path", remotePath),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// listChildrenPage fetches a single page of children and returns the items
// and the next page link (empty if no more pages). The first page is a
// relative path; follow-ups are the absolute links the service returned.
func (c *Client) listChildrenPage(ctx context.Context, apiPath string, page int) ([]Item, string, error) {
	var (
		resp *http.Response
		err  error
	)

	if strings.HasPrefix(apiPath, "http") {
		resp, err = c.Do(ctx, http.MethodGet, apiPath, nil)
	} else {
		resp, err = c.DoPath(ctx, http.MethodGet, apiPath, nil)
	}

	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var cr childrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, "", fmt.Errorf("onedrive: decoding children response: %w", err)
	}

	items := make([]Item, 0, len(cr.Value))
	for i := range cr.Value {
		items = append(items, cr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.Int("page", page),
		slog.Int("count", len(items)),
	)

	return items, cr.NextLink, nil
}
