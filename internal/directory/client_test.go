package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admindash/internal/config"
	"admindash/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.Config{
		DirectoryBaseURL:       srv.URL,
		DirectoryTimeoutSec:    5,
		DirectorySessionCookie: "next-auth.session-token",
		DirectorySessionToken:  "tok-123",
	})
}

func TestListUsersDecodesAndDropsPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/users", r.URL.Path)
		if cookie, err := r.Cookie("next-auth.session-token"); assert.NoError(t, err) {
			assert.Equal(t, "tok-123", cookie.Value)
		}
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "admindash/"))
		_, _ = w.Write([]byte(`[{"id":"u1","name":"Ann","email":"ann@example.com","role":"ADMIN","password":"secret","createdAt":"2024-05-01T10:00:00Z"}]`))
	})

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, models.RoleAdmin, users[0].Role)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), users[0].CreatedAt)
}

func TestCreateUserRequires201(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/register", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"u9","name":"Bo","email":"bo@example.com","role":"USER"}`))
	})

	u, err := c.CreateUser(context.Background(), models.UserDraft{Name: "Bo", Email: "bo@example.com", Role: models.RoleUser, Password: "pw1234"})
	require.NoError(t, err)
	assert.Equal(t, "u9", u.ID)
	assert.Equal(t, map[string]any{"name": "Bo", "email": "bo@example.com", "role": "USER", "password": "pw1234"}, body)
}

func TestCreateUserSurfacesServerMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Email already in use"}`))
	})

	_, err := c.CreateUser(context.Background(), models.UserDraft{Name: "Bo", Email: "bo@example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "Email already in use", Message(err))
}

func TestUnexpectedSuccessStatusUsesFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.CreateUser(context.Background(), models.UserDraft{Name: "Bo", Email: "bo@example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknown))
	assert.Equal(t, "Failed to add user", Message(err))
}

func TestUpdateUserOmitsBlankPassword(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/users/u1", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	})

	_, err := c.UpdateUser(context.Background(), "u1", models.UserDraft{Name: "Ann", Email: "ann@example.com", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ann", "email": "ann@example.com", "role": "ADMIN"}, raw)
}

func TestChangePasswordBody(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/users/u1/password", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, c.ChangePassword(context.Background(), "u1", "abcdef"))
	assert.Equal(t, map[string]any{"password": "abcdef"}, raw)
}

func TestDeleteUserEscapesID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/users/a%2Fb", r.URL.EscapedPath())
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.DeleteUser(context.Background(), "a/b"))
}

func TestCheckSessionAuthErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.CheckSession(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))

	empty := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err = empty.CheckSession(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
}

func TestCheckSessionReturnsUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/protected", r.URL.Path)
		_, _ = w.Write([]byte(`{"user":{"name":"Ann","email":"ann@example.com"}}`))
	})
	u, err := c.CheckSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SessionUser{Name: "Ann", Email: "ann@example.com"}, u)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(config.Config{DirectoryBaseURL: base, DirectoryTimeoutSec: 1})
	err := c.DeleteUser(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestTimeoutIsNetworkTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond})

	_, err := c.ListUsers(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, "timeout", Message(err))
}
