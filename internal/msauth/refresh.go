package msauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/auth"
)

// maxTokenBody caps how much of a token endpoint response is read.
const maxTokenBody = 64 * 1024

// AcquireSilent redeems the cached refresh token for an access token scoped
// to resource. It returns ErrNoSavedIdentity when there is nothing to redeem.
func (f *Flow) AcquireSilent(ctx context.Context, resource string) (auth.Credential, error) {
	f.mu.Lock()
	refresh := f.refresh
	f.mu.Unlock()

	if refresh == "" {
		return auth.Credential{}, ErrNoSavedIdentity
	}

	tok, err := f.redeemRefreshToken(ctx, refresh, resource)
	if err != nil {
		return auth.Credential{}, err
	}

	f.storeToken(tok)

	f.logger.Debug("silent token acquired",
		slog.String("resource", resource),
		slog.Time("expiry", tok.Expiry),
	)

	return f.credential(tok), nil
}

// redeemRefreshToken performs the v1 refresh-token grant. The resource
// parameter selects which API the issued token is good for; one refresh
// token redeems against any resource the user consented to.
func (f *Flow) redeemRefreshToken(ctx context.Context, refresh, resource string) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", f.cfg.ClientID)
	form.Set("refresh_token", refresh)
	form.Set("resource", resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("msauth: creating refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("msauth: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return nil, fmt.Errorf("msauth: reading refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, tokenEndpointError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("msauth: decoding refresh response: %w", err)
	}

	if tr.AccessToken == "" {
		return nil, errors.New("msauth: refresh response missing access_token")
	}

	return tr.token(), nil
}

// tokenResponse mirrors the v1 token endpoint payload.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    expirySeconds `json:"expires_in"`
}

// token converts the wire payload into an oauth2.Token with an absolute
// expiry, so Token.Valid can serve as the expiry predicate.
func (tr tokenResponse) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}

	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	return tok
}

// expirySeconds decodes expires_in, which the v1 endpoint returns as a
// quoted string while newer endpoints return a bare number.
type expirySeconds int64

func (s *expirySeconds) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*s = 0
		return nil
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing expires_in %q: %w", string(data), err)
	}

	*s = expirySeconds(n)

	return nil
}

// oauthError mirrors the token endpoint's error payload.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// tokenEndpointError converts a non-200 token response into an error that
// keeps the service's error code visible for matching upstream.
func tokenEndpointError(status int, body []byte) error {
	var oe oauthError
	if err := json.Unmarshal(body, &oe); err != nil || oe.Code == "" {
		return fmt.Errorf("msauth: token endpoint returned HTTP %d", status)
	}

	desc := oe.Description
	// AAD appends trace identifiers on subsequent lines; keep the first.
	if i := strings.IndexByte(desc, '\r'); i >= 0 {
		desc = desc[:i]
	}

	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		desc = desc[:i]
	}

	return fmt.Errorf("msauth: token endpoint: %s: %s", oe.Code, desc)
}
