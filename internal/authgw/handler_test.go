package authgw_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/planmeet/planmeet/internal/authgw"
	"github.com/planmeet/planmeet/internal/identity"
	"github.com/planmeet/planmeet/internal/identity/identitytest"
	"github.com/planmeet/planmeet/internal/server"
)

func newGateway(t *testing.T) http.Handler {
	t.Helper()
	p := newFakeProvider(t)
	logger := zaptest.NewLogger(t)
	r := server.NewEngine(server.EngineOptions{Service: "auth", Logger: logger, Health: "Authentication Service is Running"})
	authgw.NewHandler(newClient(t, p), logger).Register(r, identity.NewDecodingReader(identity.DefaultPolicy))
	return r
}

func call(t *testing.T, h http.Handler, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestGatewayLogin(t *testing.T) {
	h := newGateway(t)

	code, body := call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wonderland"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice-access", body["access_token"])
	assert.Equal(t, "alice-refresh", body["refresh_token"])
	assert.EqualValues(t, 300, body["expires_in"])

	code, body = call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", body["error"])

	code, _ = call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGatewayRequiresAdmin(t *testing.T) {
	h := newGateway(t)

	code, _ := call(t, h, http.MethodGet, "/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, h, http.MethodGet, "/users", identitytest.Token(identitytest.Manager("dev_team_1")), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call(t, h, http.MethodPost, "/assign-team", identitytest.Token(identitytest.Developer("dev_team_1")),
		map[string]string{"userId": "u2", "teamName": "dev_team_1"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestGatewayAdminRoutes(t *testing.T) {
	h := newGateway(t)
	admin := identitytest.Token(identitytest.Admin())

	code, body := call(t, h, http.MethodGet, "/user", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "User Authenticated", body["message"])
	user, _ := body["user"].(map[string]interface{})
	assert.Equal(t, true, user["isAdmin"])

	code, body = call(t, h, http.MethodGet, "/groups", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["groups"], 2)

	code, body = call(t, h, http.MethodGet, "/roles", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["groups"], 3)

	code, _ = call(t, h, http.MethodGet, "/getUserData", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = call(t, h, http.MethodGet, "/getUserData?userId=u1", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["username"])
	assert.Len(t, body["groups"], 1)
	assert.Len(t, body["roles"], 1)

	code, body = call(t, h, http.MethodPost, "/assign-team", admin, map[string]string{"userId": "u2", "teamName": "dev_team_1"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["message"], "u2")

	code, body = call(t, h, http.MethodPost, "/assign-team", admin, map[string]string{"userId": "u2", "teamName": "dev_team_7"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Team not found", body["error"])

	code, _ = call(t, h, http.MethodPost, "/assign-team", admin, map[string]string{"userId": "u2"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, h, http.MethodPost, "/unassign-team", admin, map[string]string{"userId": "u2", "teamName": "dev_team_1"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = call(t, h, http.MethodPost, "/assign-role", admin, map[string]string{"userId": "u2", "roleName": "PO"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, h, http.MethodPost, "/unassign-role", admin, map[string]string{"userId": "u2", "roleName": "PO"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = call(t, h, http.MethodGet, "/users", admin, nil)
	assert.Equal(t, http.StatusOK, code)
}
