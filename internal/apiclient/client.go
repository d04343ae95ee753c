// Package apiclient is the REST client for the coordination server. The
// server resource is the source of truth for sessions; clients mutate the
// shared participant lists only through these idempotent calls.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/coordinator/internal/models"
)

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client talks to the coordination server with a bearer credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates an API client. The token is consumed as an opaque bearer
// credential; issuance is the LTI host's business.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: env.Error}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

// GetSession fetches a session, refreshing the caller's cached copy.
func (c *Client) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id.String(), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions fetches all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// AddAsking upserts a participant into the asking-to-join list.
func (c *Client) AddAsking(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID.String()+"/asking", p, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RemoveAsking removes a participant id from the asking-to-join list.
func (c *Client) RemoveAsking(ctx context.Context, sessionID uuid.UUID, participantID string) (*models.Session, error) {
	var s models.Session
	path := "/sessions/" + sessionID.String() + "/asking?participant_id=" + url.QueryEscape(participantID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AddDiscussion upserts a participant into the discussion list.
func (c *Client) AddDiscussion(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID.String()+"/discussion", p, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RemoveDiscussion removes a participant id from the discussion list.
func (c *Client) RemoveDiscussion(ctx context.Context, sessionID uuid.UUID, participantID string) (*models.Session, error) {
	var s models.Session
	path := "/sessions/" + sessionID.String() + "/discussion?participant_id=" + url.QueryEscape(participantID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StartLive starts the broadcast. confirm acknowledges that restarting a
// harvested session erases the previous recording.
func (c *Client) StartLive(ctx context.Context, sessionID uuid.UUID, confirm bool) (*models.Session, error) {
	var s models.Session
	body := map[string]bool{"confirm": confirm}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID.String()+"/live/start", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StopLive stops the broadcast.
func (c *Client) StopLive(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID.String()+"/live/stop", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ManifestReady reports whether the RAW distribution manifest is servable.
func (c *Client) ManifestReady(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var out struct {
		Ready bool `json:"ready"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID.String()+"/manifest-ready", nil, &out); err != nil {
		return false, err
	}
	return out.Ready, nil
}

// PushAttendance merges the viewer's bucket mapping into the server record.
func (c *Client) PushAttendance(ctx context.Context, sessionID uuid.UUID, viewerID string, buckets map[int64]models.AttendanceSample) error {
	body := map[string]interface{}{"viewer_id": viewerID, "buckets": buckets}
	return c.do(ctx, http.MethodPut, "/sessions/"+sessionID.String()+"/attendance", body, nil)
}

// ListAttendance fetches all attendance records for a session.
func (c *Client) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	var out struct {
		Attendance []models.AttendanceRecord `json:"attendance"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID.String()+"/attendance", nil, &out); err != nil {
		return nil, err
	}
	return out.Attendance, nil
}
