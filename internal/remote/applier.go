// Package remote translates queued mutations into authenticated calls
// against the MatchLog backend CRUD API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
	"github.com/matchlog/matchlog-go/internal/models"
)

// Config holds backend connection configuration.
type Config struct {
	BaseURL      string  // e.g. https://matchlog.app
	SessionToken string  // bearer token for the authenticated session
	RatePerSec   float64 // outbound request rate limit, 0 = default
	Burst        int
}

// Envelope is the backend's uniform response shape.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Applier is the production apply function for the sync engine. Every
// queued mutation becomes one REST call; the backend treats create/update/
// delete by id as idempotent upserts and deletes, which is what makes
// at-least-once replay safe.
type Applier struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewApplier creates an Applier for the given backend.
func NewApplier(cfg Config) *Applier {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Applier{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Apply implements the sync engine's ApplyFunc contract: (true, nil) when
// the backend accepted the mutation, otherwise an error the engine records
// on the item.
func (a *Applier) Apply(ctx context.Context, item *models.SyncQueueItem) (bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return false, err
	}

	method, endpoint, err := a.route(item)
	if err != nil {
		return false, err
	}

	var body io.Reader
	if item.Operation != models.OpDelete {
		body = bytes.NewReader(item.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.SessionToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	var env Envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			return false, fmt.Errorf("malformed response (status %d): %w", resp.StatusCode, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return false, apperrors.New(apperrors.ErrRemoteRejected,
			fmt.Sprintf("%s %s: %d %s", method, endpoint, resp.StatusCode, msg))
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return false, apperrors.New(apperrors.ErrRemoteRejected, msg)
	}

	return true, nil
}

// route maps a queue item onto the backend's REST surface.
func (a *Applier) route(item *models.SyncQueueItem) (method, endpoint string, err error) {
	var collection string
	switch item.EntityType {
	case models.EntityEvent:
		collection = "events"
	case models.EntityVenue:
		collection = "venues"
	default:
		return "", "", fmt.Errorf("unknown entity type: %q", item.EntityType)
	}

	base := a.cfg.BaseURL + "/api/v1/" + collection
	withID := base + "/" + url.PathEscape(item.EntityID)

	switch item.Operation {
	case models.OpCreate:
		return http.MethodPost, base, nil
	case models.OpUpdate:
		return http.MethodPut, withID, nil
	case models.OpDelete:
		return http.MethodDelete, withID, nil
	default:
		return "", "", fmt.Errorf("unknown operation: %q", item.Operation)
	}
}
