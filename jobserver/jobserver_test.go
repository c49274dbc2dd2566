package jobserver

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlock.evalgo.org/auth"
	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
)

func newClient(url string) *Client {
	return NewClient(Options{
		Endpoint:      url,
		Token:         "deploy-token",
		Timeout:       5 * time.Second,
		RetryInterval: time.Millisecond,
	})
}

func TestAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/releases/authenticate", r.URL.Path)
		require.Equal(t, "deploy-token", r.Header.Get("Authorization"))

		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds["user"] != "alice" || creds["token"] != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"username":       "alice",
			"output_checker": true,
			"workspaces":     map[string]any{"ws1": map[string]any{"project_name": "p1"}},
		})
	}))
	defer server.Close()

	c := newClient(server.URL)
	user, err := c.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.True(t, user.IsOutputChecker())
	assert.True(t, user.HasWorkspaceAccess("ws1"))

	_, err = c.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, auth.ErrLoginFailed)
}

func TestCreateRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/releases/workspace/ws1", r.URL.Path)
		require.Equal(t, "carol", r.Header.Get("OS-User"))
		w.Header().Set("Release-Id", "rel-42")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newClient(server.URL)
	id, err := c.CreateRelease(context.Background(), "ws1", "carol", map[string][]string{"g1": {"output/a.csv"}})
	require.NoError(t, err)
	assert.Equal(t, "rel-42", id)
}

func TestCreateReleaseMissingHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	_, err := newClient(server.URL).CreateRelease(context.Background(), "ws1", "carol", nil)
	assert.True(t, request.IsKind(err, request.KindUpstream))
}

func TestUploadFile(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/releases/release/rel-42", r.URL.Path)
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		require.Equal(t, "carol", r.Header.Get("OS-User"))

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition"))
		require.NoError(t, err)
		require.Equal(t, "output/a.csv", params["filename"])

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newClient(server.URL)
	err := c.UploadFile(context.Background(), "rel-42", "carol", "output/a.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", gotBody)
}

func TestUploadFileStatusClassification(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusCreated, false},
		{http.StatusSeeOther, false},
		{http.StatusConflict, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := newClient(server.URL)
		err := c.UploadFile(context.Background(), "rel-1", "carol", "f.csv", strings.NewReader("x"))
		if tt.wantErr {
			require.Error(t, err, "status %d", tt.status)
			var reqErr *request.Error
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.status, reqErr.UpstreamStatus)
		} else {
			assert.NoError(t, err, "status %d", tt.status)
		}
		server.Close()
	}
}

func TestControlPlaneRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Release-Id", "rel-7")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewClient(Options{
		Endpoint:      server.URL,
		Token:         "deploy-token",
		RetryCount:    2,
		RetryInterval: time.Millisecond,
	})
	id, err := c.CreateRelease(context.Background(), "ws1", "carol", nil)
	require.NoError(t, err)
	assert.Equal(t, "rel-7", id)
	assert.Equal(t, 2, calls)
}

func TestNotifySkippedWithoutToken(t *testing.T) {
	c := NewClient(Options{Endpoint: "http://127.0.0.1:0"})
	assert.NoError(t, c.Notify(context.Background(), map[string]string{"event_type": "request_submitted"}))
}

func TestNotifierEmit(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/airlock/events/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	n := NewNotifier(newClient(server.URL))
	event := events.New(events.RequestSubmitted, "req-1", "ws1", "alice", "alice", 1)
	require.NoError(t, n.Emit(context.Background(), event))
	assert.Equal(t, "request_submitted", got["event_type"])
	assert.Equal(t, "ws1", got["workspace"])
	assert.Equal(t, "req-1", got["request_id"])
}
