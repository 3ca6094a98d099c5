// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/models"
)

// RESTClient calls the notification REST API. Requests run through a
// circuit breaker so a struggling server is not hammered while the
// websocket path keeps the client usable.
type RESTClient struct {
	baseURL string
	userID  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewRESTClient builds a client for one user against baseURL
// (e.g. "https://cal.example.com").
func NewRESTClient(baseURL, userID string) *RESTClient {
	settings := gobreaker.Settings{
		Name:    "notifications-rest",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("rest circuit breaker state change")
		},
	}
	return &RESTClient{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Notifications fetches the active notification list.
func (c *RESTClient) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	path := "/api/notifications"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var list []models.Notification
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// UnreadCount fetches the authoritative unread count.
func (c *RESTClient) UnreadCount(ctx context.Context) (int, error) {
	var count models.CountResponse
	if err := c.getJSON(ctx, "/api/notifications/count", &count); err != nil {
		return 0, err
	}
	return count.Count, nil
}

// MarkRead marks one notification read.
func (c *RESTClient) MarkRead(ctx context.Context, id uuid.UUID) (models.MutationResponse, error) {
	return c.mutate(ctx, http.MethodPatch, "/api/notifications/"+id.String()+"/read")
}

// MarkAllRead marks everything read.
func (c *RESTClient) MarkAllRead(ctx context.Context) (models.MutationResponse, error) {
	return c.mutate(ctx, http.MethodPost, "/api/notifications/mark-all-read")
}

// Dismiss dismisses one notification.
func (c *RESTClient) Dismiss(ctx context.Context, id uuid.UUID) (models.MutationResponse, error) {
	return c.mutate(ctx, http.MethodPatch, "/api/notifications/"+id.String()+"/dismiss")
}

// ActionTaken records that the user acted on a notification.
func (c *RESTClient) ActionTaken(ctx context.Context, id uuid.UUID) (models.MutationResponse, error) {
	return c.mutate(ctx, http.MethodPatch, "/api/notifications/"+id.String()+"/action-taken")
}

func (c *RESTClient) mutate(ctx context.Context, method, path string) (models.MutationResponse, error) {
	var resp models.MutationResponse
	if err := c.call(ctx, method, path, &resp); err != nil {
		return models.MutationResponse{}, err
	}
	return resp, nil
}

func (c *RESTClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, out)
}

// call executes one request through the breaker and unwraps the standard
// response envelope into out.
func (c *RESTClient) call(ctx context.Context, method, path string, out interface{}) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(nil))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-User-ID", c.userID)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%s %s: server error %d", method, path, resp.StatusCode)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	var wrapper models.APIResponse
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	if wrapper.Status != "success" {
		if wrapper.Error != nil {
			return fmt.Errorf("%s %s: %s (%s)", method, path, wrapper.Error.Message, wrapper.Error.Code)
		}
		return fmt.Errorf("%s %s: request failed", method, path)
	}
	if out == nil || wrapper.Data == nil {
		return nil
	}
	raw, err := json.Marshal(wrapper.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
