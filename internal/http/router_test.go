package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"session-service/internal/config"
	"session-service/internal/models"
	"session-service/internal/service"
	"session-service/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memStorage — потокобезопасная in-memory реализация storage.Storage
// для сквозных тестов REST-контракта без реальной БД.
type memStorage struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.User
	sessions map[uuid.UUID]*models.Session
}

var _ storage.Storage = (*memStorage)(nil)

func newMemStorage() *memStorage {
	return &memStorage{
		users:    make(map[uuid.UUID]*models.User),
		sessions: make(map[uuid.UUID]*models.Session),
	}
}

func (m *memStorage) SaveUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) {
			return storage.ErrAlreadyExists
		}
	}

	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStorage) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStorage) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStorage) SaveSession(_ context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.RefreshToken == sess.RefreshToken {
			return storage.ErrAlreadyExists
		}
		if s.UserID == sess.UserID && s.DeviceID == sess.DeviceID {
			return storage.ErrAlreadyExists
		}
	}

	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStorage) SessionByRefreshToken(_ context.Context, refreshToken string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.RefreshToken == refreshToken {
			cp := *s
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStorage) SessionByUserDevice(_ context.Context, userID uuid.UUID, deviceID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.UserID == userID && s.DeviceID == deviceID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStorage) TouchSession(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.LastUsedAt = usedAt
	return nil
}

func (m *memStorage) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStorage) DeleteExpiredSessions(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if !s.CreatedAt.After(olderThan) {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStorage) Close() {}

func (m *memStorage) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type tokenResp struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	TokenType       string `json:"token_type"`
	AccessExpiresAt int64  `json:"access_expires_at"`
}

type userResp struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

type errResp struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *memStorage) {
	t.Helper()

	st := newMemStorage()
	svc, err := service.New(st, config.AuthConfig{
		Algorithm:       "HS256",
		AccessSecret:    "e2e-access-secret",
		RefreshSecret:   "e2e-refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		Issuer:          "session-service",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(svc, Options{Timeout: 5 * time.Second}))
	t.Cleanup(srv.Close)

	return srv, st
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, bearer string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, out.Bytes()
}

// Сквозной жизненный цикл сессии одного устройства:
// регистрация → логин → повторный логин (тот же refresh) → refresh → logout.
func TestSessionLifecycle_SingleDevice(t *testing.T) {
	srv, st := newTestServer(t)

	// Регистрация.
	resp, body := doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username":     "alice",
		"display_name": "Alice",
		"password":     "pw123",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ur userResp
	require.NoError(t, json.Unmarshal(body, &ur))
	require.Equal(t, "alice", ur.Username)
	require.Equal(t, "Alice", ur.DisplayName)

	// Первый логин с устройства phone.
	resp, body = doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username":  "alice",
		"password":  "pw123",
		"device_id": "phone",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var first tokenResp
	require.NoError(t, json.Unmarshal(body, &first))
	require.NotEmpty(t, first.AccessToken)
	require.NotEmpty(t, first.RefreshToken)
	require.Equal(t, "bearer", first.TokenType)
	require.Greater(t, first.AccessExpiresAt, time.Now().Unix())
	require.Equal(t, 1, st.sessionCount())

	// Повторный логин с того же устройства: refresh тот же, access новый.
	resp, body = doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username":  "alice",
		"password":  "pw123",
		"device_id": "phone",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var second tokenResp
	require.NoError(t, json.Unmarshal(body, &second))
	require.Equal(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, 1, st.sessionCount())

	// Refresh: новый access, refresh не ротируется.
	resp, body = doJSON(t, srv, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": first.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refreshed tokenResp
	require.NoError(t, json.Unmarshal(body, &refreshed))
	require.Equal(t, first.RefreshToken, refreshed.RefreshToken)
	require.NotEmpty(t, refreshed.AccessToken)

	// Logout.
	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": first.RefreshToken,
	}, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 0, st.sessionCount())

	// Refresh после logout — 401.
	resp, body = doJSON(t, srv, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": first.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var er errResp
	require.NoError(t, json.Unmarshal(body, &er))
	require.Equal(t, "unauthenticated", er.Error.Code)
}

func TestLogin_SecondDevice_CreatesSeparateSession(t *testing.T) {
	srv, st := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username": "bob",
		"password": "secret",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username":  "bob",
		"password":  "secret",
		"device_id": "phone",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var phone tokenResp
	require.NoError(t, json.Unmarshal(body, &phone))

	resp, body = doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username":  "bob",
		"password":  "secret",
		"device_id": "laptop",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var laptop tokenResp
	require.NoError(t, json.Unmarshal(body, &laptop))

	// Независимые сессии c разными refresh-токенами.
	require.NotEqual(t, phone.RefreshToken, laptop.RefreshToken)
	require.Equal(t, 2, st.sessionCount())

	// Logout одного устройства не трогает другое.
	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": phone.RefreshToken,
	}, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": laptop.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin_OmittedDeviceID_UsesDefault(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username": "carol",
		"password": "pw",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Два логина без device_id попадают в одну сессию устройства по умолчанию.
	resp, body := doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username": "carol",
		"password": "pw",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first tokenResp
	require.NoError(t, json.Unmarshal(body, &first))

	resp, body = doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username": "carol",
		"password": "pw",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second tokenResp
	require.NoError(t, json.Unmarshal(body, &second))

	require.Equal(t, first.RefreshToken, second.RefreshToken)
}

func TestRegister_DuplicateUsername_400Conflict(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := map[string]string{"username": "dave", "password": "pw123"}

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register", payload, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, srv, http.MethodPost, "/auth/register", payload, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var er errResp
	require.NoError(t, json.Unmarshal(body, &er))
	require.Equal(t, "conflict", er.Error.Code)
}

func TestRegister_InvalidInput_400(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []map[string]string{
		{"username": "", "password": "pw"},
		{"username": "   ", "password": "pw"},
		{"username": "erin", "password": ""},
	}

	for _, payload := range cases {
		resp, body := doJSON(t, srv, http.MethodPost, "/auth/register", payload, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var er errResp
		require.NoError(t, json.Unmarshal(body, &er))
		require.Equal(t, "invalid_argument", er.Error.Code)
	}
}

func TestLogin_WrongPassword_And_UnknownUser_SameAnswer(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username": "frank",
		"password": "right-pw",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Неверный пароль и несуществующий пользователь неразличимы по ответу.
	for _, payload := range []map[string]string{
		{"username": "frank", "password": "wrong-pw"},
		{"username": "nobody", "password": "whatever"},
	} {
		resp, body := doJSON(t, srv, http.MethodPost, "/auth/login", payload, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var er errResp
		require.NoError(t, json.Unmarshal(body, &er))
		require.Equal(t, "unauthenticated", er.Error.Code)
		require.Equal(t, "unauthenticated", er.Error.Message)
	}
}

func TestMe_RequiresValidAccessToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username":     "grace",
		"display_name": "Grace H.",
		"password":     "pw123",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username": "grace",
		"password": "pw123",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens tokenResp
	require.NoError(t, json.Unmarshal(body, &tokens))

	// С валидным access-токеном.
	resp, body = doJSON(t, srv, http.MethodGet, "/auth/me", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ur userResp
	require.NoError(t, json.Unmarshal(body, &ur))
	require.Equal(t, "grace", ur.Username)
	require.Equal(t, "Grace H.", ur.DisplayName)

	// Без токена.
	resp, _ = doJSON(t, srv, http.MethodGet, "/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// С мусорным токеном.
	resp, _ = doJSON(t, srv, http.MethodGet, "/auth/me", nil, "garbage")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Refresh-токен на access-эндпойнте не принимается.
	resp, _ = doJSON(t, srv, http.MethodGet, "/auth/me", nil, tokens.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_Twice_SecondIs401(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username": "heidi",
		"password": "pw123",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username": "heidi",
		"password": "pw123",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens tokenResp
	require.NoError(t, json.Unmarshal(body, &tokens))

	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBadJSON_And_UnknownFields_400(t *testing.T) {
	srv, _ := newTestServer(t)

	// Сломанный JSON.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/auth/register", strings.NewReader("{broken"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Неизвестное поле отклоняется строгим декодером.
	resp2, body := doJSON(t, srv, http.MethodPost, "/auth/login", map[string]string{
		"username": "a",
		"password": "b",
		"extra":    "nope",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	var er errResp
	require.NoError(t, json.Unmarshal(body, &er))
	require.Equal(t, "invalid_argument", er.Error.Code)
}

func TestBasePath_MountsRoutesUnderPrefix(t *testing.T) {
	st := newMemStorage()
	svc, err := service.New(st, config.AuthConfig{
		AccessSecret:    "s1",
		RefreshSecret:   "s2",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		Issuer:          "session-service",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(svc, Options{BasePath: "/api"}))
	t.Cleanup(srv.Close)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "ivan",
		"password": "pw",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Корневой путь без префикса не существует.
	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/register", map[string]string{
		"username": "ivan2",
		"password": "pw",
	}, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_ResponsesCarryRequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/auth/login", strings.NewReader(`{"username":"x","password":"y"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "trace-me-1")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "trace-me-1", resp.Header.Get("X-Request-Id"))

	var er errResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	require.Equal(t, "trace-me-1", er.Error.RequestID)
}
