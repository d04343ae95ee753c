package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/coordinator/internal/models"
)

func TestGetSessionDecodesEnvelope(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/"+id.String(), r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": models.Session{
				ID:        id,
				Title:     "algebra review",
				LiveState: models.LiveRunning,
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	s, err := c.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "algebra review", s.Title)
	assert.Equal(t, models.LiveRunning, s.LiveState)
}

func TestListSessionsUnwrapsCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"sessions": []models.Session{
					{Title: "algebra review"},
					{Title: "office hours"},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "office hours", sessions[1].Title)
}

func TestListAttendanceUnwrapsRecords(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/"+id.String()+"/attendance", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"attendance": []models.AttendanceRecord{
					{ViewerID: "viewer-1", Buckets: map[int64]models.AttendanceSample{30: {Playing: true}}},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	records, err := c.ListAttendance(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "viewer-1", records[0].ViewerID)
	assert.True(t, records[0].Buckets[30].Playing)
}

func TestErrorResponsesCarryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "confirmation required",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	_, err := c.StartLive(context.Background(), uuid.New(), false)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Contains(t, se.Message, "confirmation")
}

func TestRemoveAskingSendsParticipantQuery(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.Query().Get("participant_id")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    models.Session{},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	_, err := c.RemoveAsking(context.Background(), uuid.New(), "room/alice")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "room/alice", gotQuery)
}

func TestPushAttendanceAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body struct {
			ViewerID string                            `json:"viewer_id"`
			Buckets  map[int64]models.AttendanceSample `json:"buckets"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "viewer-1", body.ViewerID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.PushAttendance(context.Background(), uuid.New(), "viewer-1",
		map[int64]models.AttendanceSample{30: {Playing: true}})
	assert.NoError(t, err)
}
