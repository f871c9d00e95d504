package graph

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const driveJSON = `{
	"id": "drive-1",
	"name": "OneDrive",
	"driveType": "personal",
	"owner": {"user": {"id": "u1", "email": "o@example.test", "displayName": "Owner"}},
	"quota": {"used": 1073741824, "remaining": 4294967296, "total": 5368709120}
}`

func driveHandler(t *testing.T, hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		*hits++

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(driveJSON))
	})
}

func TestDriveDetails_Caching(t *testing.T) {
	var hits int

	c, _ := newTestClient(t, driveHandler(t, &hits))

	info, err := c.DriveDetails(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "drive-1", info.ID)
	assert.Equal(t, "personal", info.Type)
	assert.Equal(t, "Owner", info.OwnerName)
	assert.Equal(t, int64(1073741824), info.QuotaUsed)

	// Second call is served from the cache.
	_, err = c.DriveDetails(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	// refresh forces a new fetch.
	_, err = c.DriveDetails(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestUsage(t *testing.T) {
	var hits int

	c, _ := newTestClient(t, driveHandler(t, &hits))

	tests := []struct {
		unit        string
		used, total float64
	}{
		{"b", 1073741824, 5368709120},
		{"kb", 1048576, 5242880},
		{"mb", 1024, 5120},
		{"gb", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			used, total, err := c.Usage(context.Background(), tt.unit, false)
			require.NoError(t, err)
			assert.InDelta(t, tt.used, used, 0.001)
			assert.InDelta(t, tt.total, total, 0.001)
		})
	}
}

func TestUsage_InvalidUnit(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an invalid unit")
	}))

	_, _, err := c.Usage(context.Background(), "tb", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestDriveDetails_ServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"unauthenticated","message":"token expired"}}`))
	}))

	_, err := c.DriveDetails(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransfer))
	assert.Equal(t, "could not get drive details (token expired)", err.Error())
}
