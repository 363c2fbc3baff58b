package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutline/agent/internal/config"
	"github.com/cutline/agent/internal/models"
)

func testBackend(t *testing.T, handler http.HandlerFunc) *HTTPBackend {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Remote.BaseURL = srv.URL
	cfg.Remote.StaticToken = "test-token"
	cfg.Remote.TimeoutSeconds = 5
	return NewHTTPBackend(cfg)
}

func TestHTTPBackendUpsert(t *testing.T) {
	t.Run("sends the record and returns the assigned ref", func(t *testing.T) {
		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/api/captions/rec-1", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "rec-1", req["id"])
			assert.Equal(t, "caption", req["caption"])

			json.NewEncoder(w).Encode(map[string]interface{}{"ref": "ck-1", "version": 3})
		})

		record, err := models.NewRecord("rec-1", "caption", time.Now())
		require.NoError(t, err)

		ref, err := backend.Upsert(context.Background(), record)
		require.NoError(t, err)
		assert.Equal(t, "ck-1", ref.Ref)
		assert.Equal(t, int64(3), ref.Version)
	})

	t.Run("maps 401 to ErrUnauthorized", func(t *testing.T) {
		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		record, err := models.NewRecord("rec-1", "caption", time.Now())
		require.NoError(t, err)

		_, err = backend.Upsert(context.Background(), record)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("maps 500 to a transient error", func(t *testing.T) {
		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		record, err := models.NewRecord("rec-1", "caption", time.Now())
		require.NoError(t, err)

		_, err = backend.Upsert(context.Background(), record)
		assert.True(t, IsTransient(err))
	})

	t.Run("maps 429 to a transient error", func(t *testing.T) {
		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})

		record, err := models.NewRecord("rec-1", "caption", time.Now())
		require.NoError(t, err)

		_, err = backend.Upsert(context.Background(), record)
		assert.True(t, IsTransient(err))
	})
}

func TestHTTPBackendDelete(t *testing.T) {
	t.Run("deletes by remote ref", func(t *testing.T) {
		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/api/captions/ref/ck-1", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})

		err := backend.Delete(context.Background(), &models.RemoteRef{Ref: "ck-1"})
		assert.NoError(t, err)
	})

	t.Run("maps 404 to ErrNotFound", func(t *testing.T) {
		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		err := backend.Delete(context.Background(), &models.RemoteRef{Ref: "ck-1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHTTPBackendFetchChanges(t *testing.T) {
	t.Run("requests a page with the cursor", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)

		backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/captions/changes", r.URL.Path)

			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "cursor-1", req["sinceToken"])
			assert.Equal(t, float64(100), req["pageSize"])

			json.NewEncoder(w).Encode(models.ChangePage{
				Changes: []models.RemoteChange{{
					Kind:        models.ChangeUpsert,
					ID:          "rec-1",
					Caption:     "caption",
					LastUpdated: now,
				}},
				NextToken: "cursor-2",
				HasMore:   true,
			})
		})

		page, err := backend.FetchChanges(context.Background(), "cursor-1", 100)
		require.NoError(t, err)
		require.Len(t, page.Changes, 1)
		assert.Equal(t, "rec-1", page.Changes[0].ID)
		assert.Equal(t, "cursor-2", page.NextToken)
		assert.True(t, page.HasMore)
	})

	t.Run("network failure is transient", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Remote.BaseURL = "http://127.0.0.1:1"
		cfg.Remote.TimeoutSeconds = 1
		backend := NewHTTPBackend(cfg)

		_, err := backend.FetchChanges(context.Background(), "", 100)
		assert.True(t, IsTransient(err))
	})
}

func TestHTTPBackendSubscribe(t *testing.T) {
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/captions/subscriptions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"subscriptionId": "sub-1"})
	})

	id, err := backend.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-1", id)
}

func TestNotificationsURL(t *testing.T) {
	t.Run("http maps to ws", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Remote.BaseURL = "http://captions.example.com"
		backend := NewHTTPBackend(cfg)

		assert.Equal(t, "ws://captions.example.com/api/captions/notifications", backend.NotificationsURL())
	})

	t.Run("https maps to wss", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Remote.BaseURL = "https://captions.example.com/"
		backend := NewHTTPBackend(cfg)

		assert.Equal(t, "wss://captions.example.com/api/captions/notifications", backend.NotificationsURL())
	})
}
