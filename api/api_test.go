package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlock.evalgo.org/auth"
	"airlock.evalgo.org/controller"
	"airlock.evalgo.org/events"
	airlockhttp "airlock.evalgo.org/http"
	"airlock.evalgo.org/workspace"
)

// newTestServer builds a server with the real auth service, a dev users
// file, and an on-disk workspace root. alice has access to ws1 only;
// bob is an output checker with ws1 and ws2.
func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	bobHash, err := auth.HashToken("bob-token")
	require.NoError(t, err)

	users := map[string]any{
		"alice": map[string]any{
			"token": "alice-token",
			"details": map[string]any{
				"output_checker": false,
				"workspaces":     map[string]any{"ws1": map[string]any{"project_name": "P1"}},
			},
		},
		"bob": map[string]any{
			"token": bobHash,
			"details": map[string]any{
				"output_checker": true,
				"workspaces": map[string]any{
					"ws1": map[string]any{"project_name": "P1"},
					"ws2": map[string]any{"project_name": "P2"},
				},
			},
		},
	}
	raw, err := json.Marshal(users)
	require.NoError(t, err)
	usersPath := filepath.Join(t.TempDir(), "dev_users.json")
	require.NoError(t, os.WriteFile(usersPath, raw, 0o600))

	authenticator, err := auth.NewDevUsersAuthenticator(usersPath)
	require.NoError(t, err)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	authSvc := auth.NewService(authenticator, tokens, auth.NewMemoryCache(time.Minute))

	root := t.TempDir()
	for _, name := range []string{"ws1", "ws2", "ws3"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
	}
	cache, err := workspace.OpenHashCache(filepath.Join(t.TempDir(), "hashcache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	workspaces := workspace.NewService(root, cache)

	ctrl := controller.New(nil, workspaces, nil, events.NopSink{}, nil, controller.Options{})

	e := airlockhttp.NewEchoServer(airlockhttp.DefaultServerConfig())
	New(authSvc, ctrl, workspaces).SetupRoutes(e)
	return e
}

func login(t *testing.T, e *echo.Echo, username, token string) loginResponse {
	t.Helper()
	rec := postJSON(e, "/login", map[string]string{"username": username, "token": token}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func postJSON(e *echo.Echo, path string, body any, token string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func getWithToken(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	e := newTestServer(t)

	resp := login(t, e, "alice", "alice-token")
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.Username)
	assert.False(t, resp.OutputChecker)
	assert.Equal(t, []string{"ws1"}, resp.Workspaces)

	// bob's token is stored as a bcrypt hash.
	resp = login(t, e, "bob", "bob-token")
	assert.True(t, resp.OutputChecker)
	assert.ElementsMatch(t, []string{"ws1", "ws2"}, resp.Workspaces)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newTestServer(t)

	rec := postJSON(e, "/login", map[string]string{"username": "alice", "token": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body airlockhttp.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Kind)

	rec = postJSON(e, "/login", map[string]string{"username": "mallory", "token": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(e, "/login", map[string]string{"username": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newTestServer(t)

	// echo-jwt reports a missing token as malformed input.
	rec := getWithToken(e, "/api/v1/workspaces", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = getWithToken(e, "/api/v1/workspaces", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A token signed with a different secret is rejected too.
	other := auth.NewTokenService("other-secret", time.Hour)
	forged, err := other.GenerateToken(&auth.User{ID: "alice", Username: "alice"})
	require.NoError(t, err)
	rec = getWithToken(e, "/api/v1/workspaces", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListWorkspacesFiltersByAccess(t *testing.T) {
	e := newTestServer(t)

	alice := login(t, e, "alice", "alice-token")
	rec := getWithToken(e, "/api/v1/workspaces", alice.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var visible []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visible))
	// ws3 exists on disk but nobody has access to it.
	assert.Equal(t, []string{"ws1"}, visible)

	bob := login(t, e, "bob", "bob-token")
	rec = getWithToken(e, "/api/v1/workspaces", bob.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visible))
	assert.ElementsMatch(t, []string{"ws1", "ws2"}, visible)
}

func TestHealthIsPublic(t *testing.T) {
	e := newTestServer(t)

	rec := getWithToken(e, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "airlock", body["service"])
}
