package msauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/auth"
)

// newTestFlow builds a flow pointed at the given stub authority.
func newTestFlow(t *testing.T, authority string, opts Options) *Flow {
	t.Helper()

	f, err := NewFlow(Config{ClientID: "client-1", Authority: authority}, opts)
	require.NoError(t, err)

	return f
}

// seededFlow additionally primes the refresh token.
func seededFlow(t *testing.T, authority, refresh string, opts Options) *Flow {
	t.Helper()

	f := newTestFlow(t, authority, opts)
	f.SeedToken(&oauth2.Token{RefreshToken: refresh})

	return f
}

func TestFlow_AcquireSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/common/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "https://files.example.com/", r.PostForm.Get("resource"))

		w.Header().Set("Content-Type", "application/json")
		// The v1 endpoint quotes expires_in.
		_, _ = w.Write([]byte(`{"token_type":"Bearer","expires_in":"3599","access_token":"at-1","refresh_token":"rt-2"}`))
	}))
	t.Cleanup(srv.Close)

	f := seededFlow(t, srv.URL, "rt-1", Options{HTTPClient: srv.Client()})

	cred, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
	require.NoError(t, err)

	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "Bearer", cred.TokenType)
	assert.Equal(t, auth.AccountTypeActiveDirectory, cred.AccountType)
	assert.False(t, cred.Expiring())
}

func TestFlow_AcquireSilent_NoIdentity(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := newTestFlow(t, srv.URL, Options{HTTPClient: srv.Client()})

	_, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
	require.ErrorIs(t, err, ErrNoSavedIdentity)
	assert.Equal(t, int32(0), calls.Load())
}

func TestFlow_AcquireSilent_RotatesRefreshToken(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	rotated := []string{"rt-2", "rt-3"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		mu.Lock()
		seen = append(seen, r.PostForm.Get("refresh_token"))
		next := rotated[len(seen)-1]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"expires_in":    3599,
			"access_token":  "at",
			"refresh_token": next,
		})
	}))
	t.Cleanup(srv.Close)

	var saved []string

	f := seededFlow(t, srv.URL, "rt-1", Options{
		HTTPClient: srv.Client(),
		OnToken: func(tok *oauth2.Token) {
			saved = append(saved, tok.RefreshToken)
		},
	})

	for i := 0; i < 2; i++ {
		_, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"rt-1", "rt-2"}, seen)
	assert.Equal(t, []string{"rt-2", "rt-3"}, saved)
}

func TestFlow_AcquireSilent_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","expires_in":"3599","access_token":"at"}`))
	}))
	t.Cleanup(srv.Close)

	var saved *oauth2.Token

	f := seededFlow(t, srv.URL, "rt-1", Options{
		HTTPClient: srv.Client(),
		OnToken:    func(tok *oauth2.Token) { saved = tok },
	})

	_, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
	require.NoError(t, err)

	require.NotNil(t, saved)
	assert.Equal(t, "rt-1", saved.RefreshToken)
	assert.True(t, f.HasIdentity())
}

func TestFlow_AcquireSilent_InvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"AADSTS70008: The refresh token has expired.\r\nTrace ID: 1234"}`))
	}))
	t.Cleanup(srv.Close)

	f := seededFlow(t, srv.URL, "rt-stale", Options{HTTPClient: srv.Client()})

	_, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Contains(t, err.Error(), "AADSTS70008")
	assert.NotContains(t, err.Error(), "Trace ID")
	assert.False(t, errors.Is(err, auth.ErrAuthenticationCancelled))
}

func TestFlow_AcquireSilent_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	t.Cleanup(srv.Close)

	f := seededFlow(t, srv.URL, "rt-1", Options{HTTPClient: srv.Client()})

	_, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestFlow_AcquireInteractive(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/common/oauth2/devicecode", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "https://files.example.com/", r.PostForm.Get("resource"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dc-1","user_code":"ABC-123","verification_uri":"https://aka.ms/devicelogin","expires_in":900,"interval":1}`))
	})

	mux.HandleFunc("/common/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "dc-1", r.PostForm.Get("device_code"))
		assert.Equal(t, "https://files.example.com/", r.PostForm.Get("resource"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","expires_in":3600,"access_token":"at-device","refresh_token":"rt-device"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var (
		displayed []DeviceAuth
		saved     *oauth2.Token
	)

	f := newTestFlow(t, srv.URL, Options{
		HTTPClient: srv.Client(),
		Display:    func(da DeviceAuth) { displayed = append(displayed, da) },
		OnToken:    func(tok *oauth2.Token) { saved = tok },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred, err := f.AcquireInteractive(ctx, "https://files.example.com/")
	require.NoError(t, err)

	require.Len(t, displayed, 1)
	assert.Equal(t, "ABC-123", displayed[0].UserCode)
	assert.Equal(t, "https://aka.ms/devicelogin", displayed[0].VerificationURI)

	assert.Equal(t, "at-device", cred.AccessToken)
	assert.False(t, cred.Expiring())

	require.NotNil(t, saved)
	assert.Equal(t, "rt-device", saved.RefreshToken)
	assert.True(t, f.HasIdentity())
}

// countingTransport counts round trips so tests can prove which client
// carried a request.
type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (ct *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct.calls.Add(1)

	return ct.next.RoundTrip(req)
}

func TestFlow_AcquireInteractive_UsesConfiguredClient(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/common/oauth2/devicecode", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dc-1","user_code":"ABC-123","verification_uri":"https://aka.ms/devicelogin","expires_in":900,"interval":1}`))
	})

	mux.HandleFunc("/common/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","expires_in":3600,"access_token":"at","refresh_token":"rt"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	transport := &countingTransport{next: srv.Client().Transport}

	f := newTestFlow(t, srv.URL, Options{
		HTTPClient: &http.Client{Transport: transport},
		Display:    func(DeviceAuth) {},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := f.AcquireInteractive(ctx, "https://files.example.com/")
	require.NoError(t, err)

	// Both the device-code request and the token poll ride the flow's client.
	assert.GreaterOrEqual(t, transport.calls.Load(), int32(2))
}

func TestFlow_AcquireInteractive_Declined(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/common/oauth2/devicecode", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dc-1","user_code":"ABC-123","verification_uri":"https://aka.ms/devicelogin","expires_in":900,"interval":1}`))
	})

	mux.HandleFunc("/common/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"authorization_declined"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := newTestFlow(t, srv.URL, Options{
		HTTPClient: srv.Client(),
		Display:    func(DeviceAuth) {},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := f.AcquireInteractive(ctx, "https://files.example.com/")
	require.ErrorIs(t, err, auth.ErrAuthenticationCancelled)
	assert.False(t, f.HasIdentity())
}

func TestFlow_AcquireInteractive_NoDisplay(t *testing.T) {
	f := newTestFlow(t, "https://login.example.com", Options{})

	_, err := f.AcquireInteractive(context.Background(), "https://files.example.com/")
	require.ErrorIs(t, err, ErrInteractiveUnavailable)
}

func TestClassifyDeviceError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		cancelled bool
	}{
		{"context canceled", context.Canceled, true},
		{"declined v1", &oauth2.RetrieveError{ErrorCode: "authorization_declined"}, true},
		{"declined rfc", &oauth2.RetrieveError{ErrorCode: "access_denied"}, true},
		{"code expired", &oauth2.RetrieveError{ErrorCode: "expired_token"}, false},
		{"plain failure", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDeviceError(tt.err)
			assert.Equal(t, tt.cancelled, errors.Is(got, auth.ErrAuthenticationCancelled))
		})
	}
}

func TestFlow_ClearIdentity(t *testing.T) {
	var cleared atomic.Int32

	f := newTestFlow(t, "https://login.example.com", Options{
		OnClear: func() error {
			cleared.Add(1)

			return nil
		},
	})
	f.SeedToken(&oauth2.Token{RefreshToken: "rt-1"})

	require.NoError(t, f.ClearIdentity(context.Background()))
	assert.Equal(t, int32(1), cleared.Load())
	assert.False(t, f.HasIdentity())

	_, err := f.AcquireSilent(context.Background(), "https://files.example.com/")
	require.ErrorIs(t, err, ErrNoSavedIdentity)
}

func TestFlow_ClearIdentity_PropagatesError(t *testing.T) {
	f := newTestFlow(t, "https://login.example.com", Options{
		OnClear: func() error { return errors.New("disk full") },
	})

	err := f.ClearIdentity(context.Background())
	require.ErrorContains(t, err, "disk full")
}

func TestNewFlow_RequiresClientID(t *testing.T) {
	_, err := NewFlow(Config{}, Options{})
	require.ErrorContains(t, err, "client ID")
}

func TestExpirySeconds(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int64
		wantErr bool
	}{
		{"quoted", `"3599"`, 3599, false},
		{"bare", `3599`, 3599, false},
		{"null", `null`, 0, false},
		{"empty string", `""`, 0, false},
		{"garbage", `"soon"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s expirySeconds

			err := json.Unmarshal([]byte(tt.data), &s)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, int64(s))
		})
	}
}
