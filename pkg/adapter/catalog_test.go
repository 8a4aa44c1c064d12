package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogServer(t *testing.T, entries []catalogEntry, calls *atomic.Int32, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/skills", r.URL.Path)
		if calls != nil {
			calls.Add(1)
		}
		if fail != nil && fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(entries))
	}))
}

func TestSkillCatalog_Fetch(t *testing.T) {
	srv := catalogServer(t, []catalogEntry{
		{Name: "weather", Description: "Forecasts", Source: "upstream"},
		{Name: "notes", Content: "Keeps notes"},
	}, nil, nil)
	defer srv.Close()

	c := newSkillCatalog(srv.URL, "", zerolog.Nop())
	manifests, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, manifests, 2)
	assert.Equal(t, "weather", manifests[0].Name)
	assert.Equal(t, "Forecasts", manifests[0].Description)
	assert.Equal(t, "upstream", manifests[0].Author)
	// Content stands in for a missing description
	assert.Equal(t, "Keeps notes", manifests[1].Description)
}

func TestSkillCatalog_CachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	srv := catalogServer(t, []catalogEntry{{Name: "weather"}}, &calls, nil)
	defer srv.Close()

	c := newSkillCatalog(srv.URL, "", zerolog.Nop())
	ctx := context.Background()

	_, err := c.Fetch(ctx)
	require.NoError(t, err)
	_, err = c.Fetch(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
}

func TestSkillCatalog_RefetchesAfterTTL(t *testing.T) {
	var calls atomic.Int32
	srv := catalogServer(t, []catalogEntry{{Name: "weather"}}, &calls, nil)
	defer srv.Close()

	c := newSkillCatalog(srv.URL, "", zerolog.Nop())
	ctx := context.Background()

	_, err := c.Fetch(ctx)
	require.NoError(t, err)

	c.mu.Lock()
	c.fetchedAt = time.Now().Add(-catalogTTL - time.Second)
	c.mu.Unlock()

	_, err = c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSkillCatalog_ServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := catalogServer(t, []catalogEntry{{Name: "weather"}}, nil, &fail)
	defer srv.Close()

	c := newSkillCatalog(srv.URL, "", zerolog.Nop())
	ctx := context.Background()

	_, err := c.Fetch(ctx)
	require.NoError(t, err)

	c.mu.Lock()
	c.fetchedAt = time.Now().Add(-catalogTTL - time.Second)
	c.mu.Unlock()
	fail.Store(true)

	manifests, err := c.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "weather", manifests[0].Name)
}

func TestSkillCatalog_ErrorWithoutCache(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := catalogServer(t, nil, nil, &fail)
	defer srv.Close()

	c := newSkillCatalog(srv.URL, "", zerolog.Nop())
	_, err := c.Fetch(context.Background())
	assert.ErrorContains(t, err, "503")
}
