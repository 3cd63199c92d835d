package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forfar/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupDB(t *testing.T) {
	t.Helper()

	require.NoError(t, db.Init(db.Config{Path: ":memory:"}))

	for _, table := range []string{"render_jobs", "checks", "webhooks", "printers", "settings"} {
		_, err := db.GetDB().Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
}

func newAuthRouter(t *testing.T) (*gin.Engine, *AuthMiddleware) {
	t.Helper()

	auth, err := NewAuthMiddleware()
	require.NoError(t, err)

	router := gin.New()
	group := router.Group("/api")
	auth.RegisterRoutes(group)
	group.GET("/protected", auth.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, auth
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getWithToken(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c.Value
		}
	}
	t.Fatal("no auth cookie in response")
	return ""
}

func TestSetupThenLoginFlow(t *testing.T) {
	setupDB(t)
	router, _ := newAuthRouter(t)

	// Fresh install: login impossible before a password exists.
	w := postJSON(router, "/api/auth/login", `{"password": "hunter22"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postJSON(router, "/api/auth/setup", `{"password": "short"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(router, "/api/auth/setup", `{"password": "hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)
	token := sessionCookie(t, w)
	assert.NotEmpty(t, token)

	// Setup is one-shot.
	w = postJSON(router, "/api/auth/setup", `{"password": "hunter22"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(router, "/api/auth/login", `{"password": "wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(router, "/api/auth/login", `{"password": "hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestRequireAuth(t *testing.T) {
	setupDB(t)
	router, _ := newAuthRouter(t)

	w := getWithToken(router, "/api/protected", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = getWithToken(router, "/api/protected", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(router, "/api/auth/setup", `{"password": "hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)
	token := sessionCookie(t, w)

	w = getWithToken(router, "/api/protected", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenRejectedAfterSecretRotation(t *testing.T) {
	setupDB(t)
	router, _ := newAuthRouter(t)

	w := postJSON(router, "/api/auth/setup", `{"password": "hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)
	token := sessionCookie(t, w)

	// A new secret invalidates sessions signed with the old one.
	_, err := db.GetDB().Exec("DELETE FROM settings WHERE key = 'jwt_secret'")
	require.NoError(t, err)
	rotated, err := NewAuthMiddleware()
	require.NoError(t, err)

	fresh := gin.New()
	fresh.GET("/protected", rotated.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w = getWithToken(fresh, "/protected", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePassword(t *testing.T) {
	setupDB(t)
	router, _ := newAuthRouter(t)

	w := postJSON(router, "/api/auth/setup", `{"password": "hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)
	token := sessionCookie(t, w)

	postWithToken := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// Rotation requires an authenticated session.
	w = postJSON(router, "/api/auth/change-password", `{"current_password": "hunter22", "new_password": "hunter23"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postWithToken(`{"current_password": "wrong", "new_password": "hunter23"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postWithToken(`{"current_password": "hunter22", "new_password": "tiny"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWithToken(`{"current_password": "hunter22", "new_password": "hunter23"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Only the new password logs in afterwards.
	w = postJSON(router, "/api/auth/login", `{"password": "hunter22"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(router, "/api/auth/login", `{"password": "hunter23"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusHandler(t *testing.T) {
	setupDB(t)
	router, _ := newAuthRouter(t)

	w := getWithToken(router, "/api/auth/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Authenticated)
	assert.True(t, status.SetupRequired)

	w = postJSON(router, "/api/auth/setup", `{"password": "hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)
	token := sessionCookie(t, w)

	w = getWithToken(router, "/api/auth/status", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Authenticated)
	assert.False(t, status.SetupRequired)
}
