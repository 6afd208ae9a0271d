package onedrive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDrive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drive", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "b!drive1",
			"driveType": "business",
			"owner": {"user": {"displayName": "Test User"}},
			"quota": {"total": 1099511627776, "used": 1024, "remaining": 1099511626752, "deleted": 0, "state": "normal"}
		}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	drive, err := client.DefaultDrive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "b!drive1", drive.ID)
	assert.Equal(t, "business", drive.DriveType)
	assert.Equal(t, "Test User", drive.OwnerName)
	assert.Equal(t, int64(1099511627776), drive.Quota.Total)
	assert.Equal(t, int64(1024), drive.Quota.Used)
	assert.Equal(t, int64(1099511626752), drive.Quota.Remaining)
	assert.Equal(t, "normal", drive.Quota.State)
}

func TestDefaultDrive_MissingFacets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "b!drive2", "driveType": "business"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	drive, err := client.DefaultDrive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "b!drive2", drive.ID)
	assert.Empty(t, drive.OwnerName)
	assert.Zero(t, drive.Quota.Total)
}
