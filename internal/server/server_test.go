package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/planmeet/planmeet/internal/apperr"
	"github.com/planmeet/planmeet/internal/config"
	"github.com/planmeet/planmeet/internal/identity"
	"github.com/planmeet/planmeet/internal/identity/identitytest"
)

func newTestEngine(t *testing.T) *gin.Engine {
	r := NewEngine(EngineOptions{Service: "test", Logger: zaptest.NewLogger(t), Health: "ok"})
	g := r.Group("/", Authenticate(identity.NewDecodingReader(identity.DefaultPolicy)))
	g.GET("/whoami", func(c *gin.Context) {
		a, _ := ActorFrom(c)
		c.JSON(http.StatusOK, a)
	})
	g.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
	g.GET("/boom", func(c *gin.Context) { panic("boom") })
	g.GET("/store", func(c *gin.Context) {
		WriteError(c, apperr.Wrap(apperr.KindStoreUnavailable, "checklist.list", "", errors.New("dial tcp: refused")))
	})
	g.GET("/missing", func(c *gin.Context) { WriteError(c, apperr.NotFound("checklist.get", "a/b")) })
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", "https://board.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestEngine(t)

	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "planmeet_http_requests_total")
}

func TestAuthenticate(t *testing.T) {
	r := newTestEngine(t)

	w := do(r, http.MethodGet, "/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Contains(t, w.Body.String(), `"error"`)

	w = do(r, http.MethodGet, "/whoami", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/whoami", identitytest.Token(identitytest.Manager("dev_team_1")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"team":"dev_team_1"`)
}

func TestAuthenticateStoresActorInRequestContext(t *testing.T) {
	reader := identity.NewDecodingReader(identity.DefaultPolicy)
	r := gin.New()
	r.GET("/ctx", Authenticate(reader), func(c *gin.Context) {
		a, ok := identity.FromContext(c.Request.Context())
		require.True(t, ok)
		c.String(http.StatusOK, a.Team)
	})

	w := do(r, http.MethodGet, "/ctx", identitytest.Token(identitytest.Manager("dev_team_3")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev_team_3", w.Body.String())
}

func TestRetryAfterOnBackendFailure(t *testing.T) {
	r := newTestEngine(t)
	token := identitytest.Token(identitytest.Admin())

	w := do(r, http.MethodGet, "/store", token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = do(r, http.MethodGet, "/missing", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestRequireAdmin(t *testing.T) {
	r := newTestEngine(t)

	w := do(r, http.MethodGet, "/admin", identitytest.Token(identitytest.Manager("dev_team_1")))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/admin", identitytest.Token(identitytest.Admin()))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	r := newTestEngine(t)
	w := do(r, http.MethodGet, "/boom", identitytest.Token(identitytest.Admin()))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestEngine(t)
	w := do(r, http.MethodOptions, "/whoami", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	strict := gin.New()
	strict.Use(CORS([]string{"https://board.example.com"}))
	strict.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = do(strict, http.MethodGet, "/x", "")
	assert.Equal(t, "https://board.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorBody(t *testing.T) {
	status, body := ErrorBody(apperr.Wrap(apperr.KindStoreUnavailable, "checklist.list", "", errors.New("dial tcp: refused")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "store unavailable", body["error"])
	assert.Equal(t, "dial tcp: refused", body["details"])

	status, body = ErrorBody(apperr.NotFound("checklist.get", "a/b"))
	assert.Equal(t, http.StatusNotFound, status)
	_, hasDetails := body["details"]
	assert.False(t, hasDetails)

	status, body = ErrorBody(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "boom", body["details"])
}

func TestRunShutsDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := NewHTTPServer(config.ServerConfig{Addr: addr, ReadTimeout: time.Second}, newTestEngine(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, zaptest.NewLogger(t), time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunReportsListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := NewHTTPServer(config.ServerConfig{Addr: l.Addr().String()}, http.NotFoundHandler())
	err = Run(context.Background(), srv, zaptest.NewLogger(t), time.Second)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "could not listen"))
}
