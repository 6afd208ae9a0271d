package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Discovery_NoMatchingVersion(t *testing.T) {
	body := `{"value":[
		{"capability":"MyFiles","serviceApiVersion":"v1.0","serviceResourceId":"https://old.example.com/","serviceEndpointUri":"https://old.example.com/_api/v1.0"}
	]}`
	srv, _ := discoveryServer(t, body)

	flow := &fakeFlow{
		silent: func(_ context.Context, _ string) (Credential, error) {
			return staticCredential("tok"), nil
		},
	}

	m := newTestManager(t, flow, srv.URL)

	_, err := m.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	// A configuration problem, not an authentication failure.
	assert.False(t, errors.Is(err, ErrAuthenticationFailed))

	// Stage 3 never ran and the endpoint state is untouched.
	assert.Equal(t, int32(1), flow.silentCalls.Load())
	assert.False(t, m.ServiceInfo().Resolved())
	assert.Equal(t, 0, m.ServiceInfo().Generation)
}

func TestManager_Discovery_EmptyEnvelope(t *testing.T) {
	srv, _ := discoveryServer(t, `{}`)

	flow := &fakeFlow{
		silent: func(_ context.Context, _ string) (Credential, error) {
			return staticCredential("tok"), nil
		},
	}

	m := newTestManager(t, flow, srv.URL)

	_, err := m.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.False(t, m.ServiceInfo().Resolved())
}

func TestManager_Discovery_SendsStageOneToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer disc-tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(discoveryBody))
	}))
	t.Cleanup(srv.Close)

	flow := &fakeFlow{
		silent: func(_ context.Context, resource string) (Credential, error) {
			if resource == DefaultDiscoveryResource {
				return staticCredential("disc-tok"), nil
			}

			return staticCredential("svc-tok"), nil
		},
	}

	m := newTestManager(t, flow, srv.URL)

	sess, err := m.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-tok", sess.AccessToken)
}

func TestManager_Discovery_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	t.Cleanup(srv.Close)

	flow := &fakeFlow{
		silent: func(_ context.Context, _ string) (Credential, error) {
			return staticCredential("tok"), nil
		},
	}

	m := newTestManager(t, flow, srv.URL)

	_, err := m.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Contains(t, err.Error(), "upstream exploded")

	// Transport trouble at the discovery endpoint is neither a credential
	// failure nor a missing service.
	assert.False(t, errors.Is(err, ErrAuthenticationFailed))
	assert.False(t, errors.Is(err, ErrServiceNotFound))
}

func TestManager_Discovery_MalformedJSON(t *testing.T) {
	srv, _ := discoveryServer(t, `{"value": [`)

	flow := &fakeFlow{
		silent: func(_ context.Context, _ string) (Credential, error) {
			return staticCredential("tok"), nil
		},
	}

	m := newTestManager(t, flow, srv.URL)

	_, err := m.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding discovery response")
}

func TestSelectService(t *testing.T) {
	entries := []serviceEntry{
		{Capability: "Contacts", ServiceAPIVersion: "v2.0", ServiceResourceID: "https://contacts.example.com/"},
		{Capability: "MyFiles", ServiceAPIVersion: "v1.0", ServiceResourceID: "https://old.example.com/"},
		{Capability: "MyFiles", ServiceAPIVersion: "v2.0", ServiceResourceID: "https://files.example.com/"},
	}

	tests := []struct {
		name       string
		capability string
		apiVersion string
		wantID     string
		wantOK     bool
	}{
		{"exact match", "MyFiles", "v2.0", "https://files.example.com/", true},
		{"case-insensitive capability", "myfiles", "v2.0", "https://files.example.com/", true},
		{"case-insensitive version", "MyFiles", "V2.0", "https://files.example.com/", true},
		{"older version", "MyFiles", "v1.0", "https://old.example.com/", true},
		{"unknown version", "MyFiles", "v3.0", "", false},
		{"unknown capability", "RootSite", "v2.0", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := selectService(entries, tt.capability, tt.apiVersion)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, entry.ServiceResourceID)
		})
	}
}

func TestSelectService_Empty(t *testing.T) {
	_, ok := selectService(nil, "MyFiles", "v2.0")
	assert.False(t, ok)
}
