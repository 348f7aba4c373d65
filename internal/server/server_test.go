package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"echocommand/internal/config"
	"echocommand/internal/infra/db"
	"echocommand/internal/logging"
	"echocommand/internal/metrics"
	"echocommand/internal/server"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *echo.Echo {
	t.Helper()

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Config{
		DBDriver:        "sqlite",
		JWTSecret:       "e2e-test-secret-0123456789",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		BcryptCost:      4,
		RateLimitBurst:  100,
		RateLimitEvery:  time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	e, err := server.New(cfg, gdb, logging.Discard(), metrics.New(), nil)
	require.NoError(t, err)
	return e
}

type response struct {
	Code int
	Body map[string]any
	Raw  []byte
}

func call(t *testing.T, e *echo.Echo, method, path, token string, body any) response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	res := response{Code: rec.Code, Raw: rec.Body.Bytes()}
	if len(res.Raw) > 0 && res.Raw[0] == '{' {
		require.NoError(t, json.Unmarshal(res.Raw, &res.Body))
	}
	return res
}

type session struct {
	access  string
	refresh string
	userID  float64
}

func register(t *testing.T, e *echo.Echo, username string) session {
	t.Helper()

	res := call(t, e, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "s3cure-pass",
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	return sessionOf(t, res)
}

func sessionOf(t *testing.T, res response) session {
	t.Helper()
	user, ok := res.Body["user"].(map[string]any)
	require.True(t, ok)
	return session{
		access:  res.Body["accessToken"].(string),
		refresh: res.Body["refreshToken"].(string),
		userID:  user["id"].(float64),
	}
}

func createCommand(t *testing.T, e *echo.Echo, token string, body map[string]any) float64 {
	t.Helper()
	res := call(t, e, http.MethodPost, "/api/commands", token, body)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	return res.Body["id"].(float64)
}

func TestLightsOnScenario(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")
	bob := register(t, e, "bob")

	id := createCommand(t, e, alice.access, map[string]any{
		"name":          "Lights On",
		"triggerPhrase": "turn on the lights",
		"commandScript": "lights.on()",
	})
	path := fmt.Sprintf("/api/commands/%d", int64(id))

	res := call(t, e, http.MethodGet, path, alice.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "SYSTEM_CONTROL", res.Body["commandType"])
	assert.Equal(t, "ACTIVE", res.Body["status"])
	assert.Equal(t, false, res.Body["isPublic"])
	assert.Equal(t, float64(0), res.Body["usageCount"])
	assert.Equal(t, alice.userID, res.Body["ownerId"])

	res = call(t, e, http.MethodPost, path+"/use", alice.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(1), res.Body["usageCount"])

	// 非公開は他人から見えない
	assert.Equal(t, http.StatusForbidden, call(t, e, http.MethodGet, path, bob.access, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(t, e, http.MethodPost, path+"/use", bob.access, nil).Code)

	res = call(t, e, http.MethodPut, path, alice.access, map[string]any{
		"name":          "Lights On",
		"triggerPhrase": "turn on the lights",
		"commandScript": "lights.on()",
		"isPublic":      true,
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	assert.Equal(t, float64(1), res.Body["usageCount"])

	assert.Equal(t, http.StatusOK, call(t, e, http.MethodGet, path, bob.access, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(t, e, http.MethodPut, path, bob.access, map[string]any{
		"name": "mine", "triggerPhrase": "x", "commandScript": "y",
	}).Code)
	assert.Equal(t, http.StatusForbidden, call(t, e, http.MethodDelete, path, bob.access, nil).Code)

	// 公開一覧は認証不要
	res = call(t, e, http.MethodGet, "/api/commands/public", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(1), res.Body["total"])

	res = call(t, e, http.MethodGet, "/api/commands?page=0&size=10", alice.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(1), res.Body["total"])
	assert.Equal(t, float64(1), res.Body["totalPages"])

	res = call(t, e, http.MethodGet, "/api/commands", bob.access, nil)
	assert.Equal(t, float64(0), res.Body["total"])

	assert.Equal(t, http.StatusOK, call(t, e, http.MethodDelete, path, alice.access, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, e, http.MethodGet, path, alice.access, nil).Code)
}

func TestConcurrentUseCountsEveryCall(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")
	id := createCommand(t, e, alice.access, map[string]any{
		"name": "Count", "triggerPhrase": "count", "commandScript": "n++", "isPublic": true,
	})
	path := fmt.Sprintf("/api/commands/%d", int64(id))

	const n = 20
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, path+"/use", nil)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+alice.access)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	res := call(t, e, http.MethodGet, path, alice.access, nil)
	assert.Equal(t, float64(n), res.Body["usageCount"])
}

func TestRefreshRotationAndLogout(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")

	res := call(t, e, http.MethodPost, "/api/auth/refresh?refreshToken="+alice.refresh, "", nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	next := sessionOf(t, res)
	assert.NotEqual(t, alice.refresh, next.refresh)

	// 古いトークンは使えない
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/refresh?refreshToken="+alice.refresh, "", nil).Code)

	// 再提示後も新しいトークンは有効（ボディ経由）
	res = call(t, e, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": next.refresh})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	last := sessionOf(t, res)

	assert.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/auth/logout?refreshToken="+last.refresh, "", nil).Code)
	assert.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/auth/logout?refreshToken="+last.refresh, "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/refresh?refreshToken="+last.refresh, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodPost, "/api/auth/logout", "", nil).Code)

	// 監査ログに再利用が残る
	res = call(t, e, http.MethodGet, "/api/users/security-events?limit=50", last.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(res.Raw, &events))
	actions := map[string]bool{}
	for _, ev := range events {
		actions[ev["action"].(string)] = true
	}
	assert.True(t, actions["REGISTER"])
	assert.True(t, actions["REFRESH_REUSE"])
	assert.True(t, actions["LOGOUT"])

	// 種類で絞り込める
	res = call(t, e, http.MethodGet, "/api/users/security-events?action=refresh_reuse,LOGOUT", last.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	events = nil
	require.NoError(t, json.Unmarshal(res.Raw, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "LOGOUT", events[0]["action"])
	assert.Equal(t, "REFRESH_REUSE", events[1]["action"])

	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/users/security-events?action=PURCHASE", last.access, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/users/security-events?from=yesterday", last.access, nil).Code)
}

func TestRegisterAndLoginErrors(t *testing.T) {
	e := newTestServer(t)
	register(t, e, "alice")

	res := call(t, e, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "s3cure-pass",
	})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = call(t, e, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "carol", "email": "alice@example.com", "password": "s3cure-pass",
	})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = call(t, e, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "x", "email": "bad", "password": "1",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Len(t, res.Body["fields"], 3)

	wrong := call(t, e, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass"})
	unknown := call(t, e, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body, unknown.Body)

	res = call(t, e, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "s3cure-pass"})
	require.Equal(t, http.StatusOK, res.Code)
	s := sessionOf(t, res)

	res = call(t, e, http.MethodGet, "/api/auth/me", s.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "alice", res.Body["username"])
	assert.NotContains(t, string(res.Raw), "password")
}

func TestSettingsMerge(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")

	res := call(t, e, http.MethodGet, "/api/users/settings", alice.access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, res.Body)

	res = call(t, e, http.MethodPut, "/api/users/settings", alice.access, map[string]any{"theme": "dark", "lang": "en"})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = call(t, e, http.MethodPut, "/api/users/settings", alice.access, map[string]any{"lang": "ja"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, map[string]any{"theme": "dark", "lang": "ja"}, res.Body)

	res = call(t, e, http.MethodPut, "/api/users/settings", alice.access, map[string]any{"theme": nil})
	require.Equal(t, http.StatusOK, res.Code)

	res = call(t, e, http.MethodGet, "/api/users/settings", alice.access, nil)
	assert.Equal(t, map[string]any{"lang": "ja"}, res.Body)
}

func TestProfile(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")
	register(t, e, "bob")

	res := call(t, e, http.MethodPut, "/api/users/profile", alice.access, map[string]any{"displayName": "Alice A."})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	assert.Equal(t, "Alice A.", res.Body["displayName"])
	assert.Equal(t, "alice@example.com", res.Body["email"])

	res = call(t, e, http.MethodPut, "/api/users/profile", alice.access, map[string]any{"email": "bob@example.com"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = call(t, e, http.MethodGet, "/api/users/profile", alice.access, nil)
	assert.Equal(t, "alice@example.com", res.Body["email"])
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")

	res := call(t, e, http.MethodPut, "/api/users/password", alice.access, map[string]string{
		"currentPassword": "s3cure-pass", "newPassword": "n3w-secure-pass",
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	// token_versionが進んだので古いaccess tokenは401
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodGet, "/api/auth/me", alice.access, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/refresh?refreshToken="+alice.refresh, "", nil).Code)

	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "s3cure-pass",
	}).Code)
	assert.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "n3w-secure-pass",
	}).Code)
}

func TestDeleteAccount(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")
	bob := register(t, e, "bob")

	id := createCommand(t, e, alice.access, map[string]any{
		"name": "Shared", "triggerPhrase": "share", "commandScript": "s()", "isPublic": true,
	})
	createCommand(t, e, alice.access, map[string]any{"name": "Private", "triggerPhrase": "p", "commandScript": "p()"})

	assert.Equal(t, http.StatusOK, call(t, e, http.MethodDelete, "/api/users/account", alice.access, nil).Code)

	// ユーザーもコマンドもトークンも消える
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodGet, "/api/auth/me", alice.access, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/refresh?refreshToken="+alice.refresh, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, e, http.MethodGet, fmt.Sprintf("/api/commands/%d", int64(id)), bob.access, nil).Code)

	res := call(t, e, http.MethodGet, "/api/commands/public", "", nil)
	assert.Equal(t, float64(0), res.Body["total"])

	// 同じ名前で登録し直せる
	register(t, e, "alice")
}

func TestPagingValidationAndHealth(t *testing.T) {
	e := newTestServer(t)
	alice := register(t, e, "alice")

	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/commands?page=-1", alice.access, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/commands?size=0", alice.access, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/commands?size=101", alice.access, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/commands?page=4611686018427387904&size=4", alice.access, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/commands/public?page=4611686018427387904&size=4", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/api/commands/abc", alice.access, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodGet, "/api/commands", "", nil).Code)

	res := call(t, e, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ok", res.Body["status"])

	res = call(t, e, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Raw), "echocommand_auth_events_total")
}

func TestAuthRateLimit(t *testing.T) {
	e := newTestServer(t, func(c *config.Config) {
		c.RateLimitEnabled = true
		c.RateLimitBurst = 2
		c.RateLimitEvery = time.Hour
	})

	body := map[string]string{"username": "nobody", "password": "whatever1"}
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/login", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, e, http.MethodPost, "/api/auth/login", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, call(t, e, http.MethodPost, "/api/auth/login", "", body).Code)

	// 認証系以外は対象外
	assert.Equal(t, http.StatusOK, call(t, e, http.MethodGet, "/api/commands/public", "", nil).Code)
}
