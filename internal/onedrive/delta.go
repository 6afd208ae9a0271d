package onedrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// nextLinkKey is the annotation key the service uses for the next-page link
// inside a delta value object.
const nextLinkKey = "@odata.nextLink"

// QueryOption is one query-string pair carried on a collection request.
type QueryOption struct {
	Name  string
	Value string
}

// ItemDeltaRequest describes one delta listing fetch. Values are immutable:
// Expand, Select, and Top return a modified copy, so a request can be shared
// and branched without aliasing surprises.
type ItemDeltaRequest struct {
	client *Client

	// rawURL pins a follow-up request to the exact link the service
	// returned. When set, path and opts are unused.
	rawURL string

	path string
	opts []QueryOption
}

// ItemDelta builds a delta listing request for the given resource path,
// for example "/drive/root/view.delta". A non-empty continuation token
// becomes the first query option; extra options follow in the given order.
func (c *Client) ItemDelta(path, token string, opts ...QueryOption) *ItemDeltaRequest {
	all := make([]QueryOption, 0, len(opts)+1)

	if token != "" {
		all = append(all, QueryOption{Name: "token", Value: token})
	}

	all = append(all, opts...)

	return &ItemDeltaRequest{client: c, path: path, opts: all}
}

// ItemDeltaFromLink builds a request pinned to a link the service returned
// earlier, typically a delta link saved from a previous session.
func (c *Client) ItemDeltaFromLink(link string) *ItemDeltaRequest {
	return &ItemDeltaRequest{client: c, rawURL: link}
}

// DeltaPath builds the delta listing API path for a drive-root-relative
// folder path. An empty path tracks the whole drive.
func DeltaPath(remotePath string) string {
	remotePath = strings.Trim(remotePath, "/")
	if remotePath == "" {
		return "/drive/root/view.delta"
	}

	return fmt.Sprintf("/drive/root:/%s:/view.delta", encodePathSegments(remotePath))
}

// Expand returns a copy of the request with an $expand option appended.
func (r *ItemDeltaRequest) Expand(field string) *ItemDeltaRequest {
	return r.withOption(QueryOption{Name: "$expand", Value: field})
}

// Select returns a copy of the request with a $select option appended.
func (r *ItemDeltaRequest) Select(fields string) *ItemDeltaRequest {
	return r.withOption(QueryOption{Name: "$select", Value: fields})
}

// Top returns a copy of the request with a $top option appended. The value
// is passed through unvalidated; the service rejects out-of-range sizes.
func (r *ItemDeltaRequest) Top(n int) *ItemDeltaRequest {
	return r.withOption(QueryOption{Name: "$top", Value: strconv.Itoa(n)})
}

// withOption copies the request with one more query option. Clipping the
// slice forces append to reallocate, so the receiver's options are never
// shared with the copy.
func (r *ItemDeltaRequest) withOption(opt QueryOption) *ItemDeltaRequest {
	next := *r
	next.opts = append(slices.Clip(r.opts), opt)

	return &next
}

// Options returns a copy of the accumulated query options, in the order
// they will appear on the wire.
func (r *ItemDeltaRequest) Options() []QueryOption {
	return slices.Clone(r.opts)
}

// URL returns the absolute URL the request will fetch. Follow-up requests
// return the exact link the service handed back; fresh requests resolve the
// service endpoint (authenticating if needed) and assemble path plus options.
func (r *ItemDeltaRequest) URL(ctx context.Context) (string, error) {
	if r.rawURL != "" {
		return r.rawURL, nil
	}

	base, err := r.client.session.EndpointURL(ctx)
	if err != nil {
		return "", err
	}

	u := base + r.path
	if q := encodeOptions(r.opts); q != "" {
		u += "?" + q
	}

	return u, nil
}

// encodeOptions renders options in insertion order. url.Values sorts keys
// on encode, and option names like $expand go on the wire unescaped, so the
// query string is assembled by hand.
func encodeOptions(opts []QueryOption) string {
	var b strings.Builder

	for i, opt := range opts {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(opt.Name)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(opt.Value))
	}

	return b.String()
}

// ItemDeltaPage is one decoded page of a delta listing. Items preserve the
// wire order; AdditionalData holds the value object's annotation keys
// verbatim.
type ItemDeltaPage struct {
	Items          []Item
	Token          string
	DeltaLink      string
	AdditionalData map[string]json.RawMessage

	next *ItemDeltaRequest
}

// NextPageRequest returns the pre-built follow-up request targeting the
// service's next-page link, or nil when the listing has no further page.
func (p *ItemDeltaPage) NextPageRequest() *ItemDeltaRequest {
	return p.next
}

// ContinuationKind enumerates how a listing proceeds after a page.
type ContinuationKind int

const (
	// ContinuationNone means the page carried no link to follow.
	ContinuationNone ContinuationKind = iota

	// ContinuationNextPage means more pages remain in this listing.
	ContinuationNextPage

	// ContinuationDelta means this listing is exhausted; the delta link
	// resumes change tracking in a later session.
	ContinuationDelta
)

// Continuation describes the single active way to proceed after a page.
// Token is carried for every kind, since the service reports it alongside
// either link.
type Continuation struct {
	Kind      ContinuationKind
	NextLink  string
	DeltaLink string
	Token     string
}

// Continuation reports how to proceed after this page. A next-page link
// wins for continuing the current listing; a delta link alone means the
// listing is exhausted.
func (p *ItemDeltaPage) Continuation() Continuation {
	switch {
	case p.next != nil:
		return Continuation{Kind: ContinuationNextPage, NextLink: p.next.rawURL, Token: p.Token}
	case p.DeltaLink != "":
		return Continuation{Kind: ContinuationDelta, DeltaLink: p.DeltaLink, Token: p.Token}
	default:
		return Continuation{Kind: ContinuationNone, Token: p.Token}
	}
}

// deltaEnvelope mirrors the wire response: a nested value object carrying
// the item sequence, plus top-level continuation fields.
type deltaEnvelope struct {
	Value     *deltaValue `json:"value"`
	Token     string      `json:"token"`
	DeltaLink string      `json:"deltaLink"`
}

// deltaValue holds the items plus every other key of the value object,
// preserved raw so service-defined annotations survive bit-for-bit.
type deltaValue struct {
	Items      []itemResponse
	Additional map[string]json.RawMessage
}

func (v *deltaValue) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if items, ok := raw["items"]; ok {
		if err := json.Unmarshal(items, &v.Items); err != nil {
			return fmt.Errorf("decoding items: %w", err)
		}

		delete(raw, "items")
	}

	v.Additional = raw

	return nil
}

// nextLink extracts the next-page link from the annotation bag, if present.
// Non-string values are ignored.
func (v *deltaValue) nextLink() string {
	rawLink, ok := v.Additional[nextLinkKey]
	if !ok {
		return ""
	}

	var link string
	if err := json.Unmarshal(rawLink, &link); err != nil {
		return ""
	}

	return link
}

// Fetch issues the request and decodes one page. An absent envelope or
// value is a legitimate "no data" result and yields a nil page, not an
// error. Authentication and transport errors propagate unchanged.
//
//nolint:nilnil // absent envelope value means "no data", not failure
func (r *ItemDeltaRequest) Fetch(ctx context.Context) (*ItemDeltaPage, error) {
	u, err := r.URL(ctx)
	if err != nil {
		return nil, err
	}

	r.client.logger.Info("fetching delta page",
		slog.String("path", r.path),
		slog.Bool("follow_up", r.rawURL != ""),
	)

	resp, err := r.client.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env deltaEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// An empty body carries no envelope at all.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		return nil, fmt.Errorf("onedrive: decoding delta response: %w", err)
	}

	if env.Value == nil {
		r.client.logger.Debug("delta response carried no value")

		return nil, nil
	}

	items := make([]Item, 0, len(env.Value.Items))
	for i := range env.Value.Items {
		items = append(items, env.Value.Items[i].toItem(r.client.logger))
	}

	page := &ItemDeltaPage{
		Items:          items,
		Token:          env.Token,
		DeltaLink:      env.DeltaLink,
		AdditionalData: env.Value.Additional,
	}

	if link := env.Value.nextLink(); link != "" {
		page.next = &ItemDeltaRequest{client: r.client, rawURL: link}
	}

	r.client.logger.Debug("fetched delta page",
		slog.Int("count", len(items)),
		slog.Bool("has_next_link", page.next != nil),
		slog.Bool("has_delta_link", env.DeltaLink != ""),
	)

	return page, nil
}

// FetchAll follows next-page links until the listing is exhausted and
// returns the combined items plus the final continuation. A nil first page
// yields no items and a ContinuationNone descriptor.
func (r *ItemDeltaRequest) FetchAll(ctx context.Context) ([]Item, Continuation, error) {
	var all []Item

	req := r
	pages := 0

	for req != nil {
		page, err := req.Fetch(ctx)
		if err != nil {
			return nil, Continuation{}, err
		}

		if page == nil {
			break
		}

		all = append(all, page.Items...)
		pages++

		cont := page.Continuation()
		if cont.Kind != ContinuationNextPage {
			r.client.logger.Info("delta listing complete",
				slog.Int("pages", pages),
				slog.Int("total_items", len(all)),
			)

			return all, cont, nil
		}

		req = page.NextPageRequest()
	}

	r.client.logger.Warn("delta listing ended without a continuation",
		slog.Int("pages", pages),
		slog.Int("total_items", len(all)),
	)

	return all, Continuation{Kind: ContinuationNone}, nil
}
