// Package remote tests for the backend applier.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
	"github.com/matchlog/matchlog-go/internal/models"
)

func testItem(op models.Operation, et models.EntityType, id string) *models.SyncQueueItem {
	return &models.SyncQueueItem{
		Seq:        1,
		Operation:  op,
		EntityType: et,
		EntityID:   id,
		Payload:    json.RawMessage(`{"notes":"offline edit"}`),
	}
}

// TestApplyRouting verifies each operation maps to the right method, path
// and auth header.
func TestApplyRouting(t *testing.T) {
	type call struct {
		method string
		path   string
		auth   string
		body   string
	}
	var got call

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = call{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization"), body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Envelope{Success: true})
	}))
	defer srv.Close()

	a := NewApplier(Config{BaseURL: srv.URL, SessionToken: "tok-123", RatePerSec: 1000, Burst: 10})
	ctx := context.Background()

	tests := []struct {
		name       string
		item       *models.SyncQueueItem
		wantMethod string
		wantPath   string
		wantBody   bool
	}{
		{"create event", testItem(models.OpCreate, models.EntityEvent, "evt-1"), http.MethodPost, "/api/v1/events", true},
		{"update event", testItem(models.OpUpdate, models.EntityEvent, "evt-1"), http.MethodPut, "/api/v1/events/evt-1", true},
		{"delete event", testItem(models.OpDelete, models.EntityEvent, "evt-1"), http.MethodDelete, "/api/v1/events/evt-1", false},
		{"create venue", testItem(models.OpCreate, models.EntityVenue, "v1"), http.MethodPost, "/api/v1/venues", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := a.Apply(ctx, tt.item)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.wantMethod, got.method)
			assert.Equal(t, tt.wantPath, got.path)
			assert.Equal(t, "Bearer tok-123", got.auth)
			if tt.wantBody {
				assert.JSONEq(t, `{"notes":"offline edit"}`, got.body)
			} else {
				assert.Empty(t, got.body)
			}
		})
	}
}

// TestApplyEnvelopeFailure verifies a success=false envelope is reported
// as a rejection even on HTTP 200.
func TestApplyEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Envelope{Success: false, Error: "event date in the future"})
	}))
	defer srv.Close()

	a := NewApplier(Config{BaseURL: srv.URL, RatePerSec: 1000, Burst: 10})
	ok, err := a.Apply(context.Background(), testItem(models.OpCreate, models.EntityEvent, "evt-1"))
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRemoteRejected))
	assert.Contains(t, err.Error(), "event date in the future")
}

// TestApplyHTTPError verifies non-2xx statuses become rejections.
func TestApplyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(Envelope{Success: false, Error: "session expired"})
	}))
	defer srv.Close()

	a := NewApplier(Config{BaseURL: srv.URL, RatePerSec: 1000, Burst: 10})
	ok, err := a.Apply(context.Background(), testItem(models.OpUpdate, models.EntityEvent, "evt-1"))
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
}

// TestApplyTransportError verifies connection failures surface as errors
// rather than silent false.
func TestApplyTransportError(t *testing.T) {
	a := NewApplier(Config{BaseURL: "http://127.0.0.1:1", RatePerSec: 1000, Burst: 10})
	ok, err := a.Apply(context.Background(), testItem(models.OpCreate, models.EntityEvent, "evt-1"))
	assert.False(t, ok)
	assert.Error(t, err)
}

// TestApplyUnknownEntity verifies malformed items are rejected locally
// without a network call.
func TestApplyUnknownEntity(t *testing.T) {
	a := NewApplier(Config{BaseURL: "http://127.0.0.1:1", RatePerSec: 1000, Burst: 10})
	item := testItem(models.OpCreate, "user", "u-1")
	ok, err := a.Apply(context.Background(), item)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}
