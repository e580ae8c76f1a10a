package usermgmt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"admindash/internal/config"
	"admindash/internal/dialog"
	"admindash/internal/directory"
	"admindash/internal/models"
	"admindash/internal/mutation"
	"admindash/internal/notify"
	"admindash/internal/query"
)

// fakeDirectory is an in-memory directory API.
type fakeDirectory struct {
	mu       sync.Mutex
	users    []models.User
	hits     map[string]int
	bodies   map[string]map[string]any
	override map[string]http.HandlerFunc
}

func newFakeDirectory(t *testing.T) (*fakeDirectory, *httptest.Server) {
	t.Helper()
	f := &fakeDirectory{
		users: []models.User{
			{ID: "u1", Name: "Ann", Email: "ann@example.com", Role: models.RoleAdmin, Status: "active"},
			{ID: "u2", Name: "Bo", Email: "bo@example.com", Role: models.RoleUser, Status: "inactive"},
		},
		hits:     map[string]int{},
		bodies:   map[string]map[string]any{},
		override: map[string]http.HandlerFunc{},
	}
	r := chi.NewRouter()
	r.Get("/api/users", f.route("list", func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.users)
	}))
	r.Post("/api/auth/register", f.route("create", func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		f.mu.Lock()
		defer f.mu.Unlock()
		u := models.User{ID: "u3", Name: body["name"].(string), Email: body["email"].(string), Role: models.Role(body["role"].(string))}
		f.users = append(f.users, u)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(u)
	}))
	r.Put("/api/users/{id}", f.route("update", func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, u := range f.users {
			if u.ID == chi.URLParam(r, "id") {
				f.users[i].Name = body["name"].(string)
				_ = json.NewEncoder(w).Encode(f.users[i])
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	r.Put("/api/users/{id}/password", f.route("password", func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	r.Delete("/api/users/{id}", f.route("delete", func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		f.mu.Lock()
		defer f.mu.Unlock()
		kept := f.users[:0]
		for _, u := range f.users {
			if u.ID != chi.URLParam(r, "id") {
				kept = append(kept, u)
			}
		}
		f.users = kept
		w.WriteHeader(http.StatusOK)
	}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeDirectory) route(name string, h func(http.ResponseWriter, *http.Request, map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.mu.Lock()
		f.hits[name]++
		f.bodies[name] = body
		custom := f.override[name]
		f.mu.Unlock()
		if custom != nil {
			custom(w, r)
			return
		}
		h(w, r, body)
	}
}

func (f *fakeDirectory) hitsOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[name]
}

func (f *fakeDirectory) bodyOf(name string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[name]
}

func (f *fakeDirectory) setOverride(name string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.override[name] = h
}

type fixture struct {
	dir   *fakeDirectory
	cache *query.Cache
	tray  *notify.Tray
	panel *Panel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, srv := newFakeDirectory(t)
	client := directory.NewClient(config.Config{DirectoryBaseURL: srv.URL, DirectoryTimeoutSec: 5})
	cache := query.New(query.Options{Logger: zap.NewNop()})
	tray := notify.NewTray(0, zap.NewNop())
	p := New(client, cache, Options{PasswordMinLength: 6, Notifier: tray, Logger: zap.NewNop()})
	_, unsubscribe := p.Mount()
	t.Cleanup(unsubscribe)
	fx := &fixture{dir: dir, cache: cache, tray: tray, panel: p}
	fx.settle(t)
	return fx
}

func (fx *fixture) settle(t *testing.T) query.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := fx.cache.Await(ctx, UsersKey)
	require.NoError(t, err)
	return st
}

func (fx *fixture) onlyToast(t *testing.T) notify.Toast {
	t.Helper()
	toasts := fx.tray.Drain()
	require.Len(t, toasts, 1)
	return toasts[0]
}

func TestMountLoadsUserList(t *testing.T) {
	fx := newFixture(t)
	st := fx.panel.Users()
	assert.Equal(t, query.StatusSuccess, st.Status)
	require.Len(t, fx.panel.List(), 2)
	assert.Equal(t, 1, fx.dir.hitsOf("list"))
}

func TestEditDraftMatchesCachedUserAndSubmitsFullReplace(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.panel.OpenEdit("u1"))

	v := fx.panel.Dialogs().Edit
	assert.True(t, v.Dialog.Open)
	assert.Equal(t, "u1", v.Dialog.Target)
	assert.Equal(t, models.UserDraft{Name: "Ann", Email: "ann@example.com", Role: models.RoleAdmin}, v.Dialog.Draft)
	require.NotNil(t, v.User)
	assert.Equal(t, "Ann", v.User.Name)

	draft := v.Dialog.Draft
	draft.Name = "Annabel"
	require.NoError(t, fx.panel.SetEditDraft(draft))
	_, err := fx.panel.SubmitEdit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "Annabel", "email": "ann@example.com", "role": "ADMIN"}, fx.dir.bodyOf("update"))
	assert.False(t, fx.panel.Dialogs().Edit.Dialog.Open)

	fx.settle(t)
	assert.Equal(t, 2, fx.dir.hitsOf("list"))
	assert.Equal(t, "Annabel", fx.panel.List()[0].Name)
	assert.Equal(t, "User updated successfully", fx.onlyToast(t).Message)
}

func TestPasswordChecksRunBeforeAnyNetworkCall(t *testing.T) {
	cases := []struct {
		next, confirm string
		want          string
	}{
		{"abc12", "abc12", "password too short"},
		{"abcdef", "abcdex", "password mismatch"},
		{"abc", "abd", "password mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.next+"/"+tc.confirm, func(t *testing.T) {
			fx := newFixture(t)
			require.NoError(t, fx.panel.OpenPassword("u2"))
			require.NoError(t, fx.panel.SetPasswordDraft(models.PasswordDraft{NewPassword: tc.next, ConfirmPassword: tc.confirm}))

			err := fx.panel.SubmitPassword(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, directory.ErrValidation))
			assert.Equal(t, tc.want, directory.Message(err))
			assert.Equal(t, 0, fx.dir.hitsOf("password"))

			v := fx.panel.Dialogs().Password
			assert.True(t, v.Dialog.Open)
			assert.Equal(t, dialog.PhaseError, v.Dialog.Phase)
			assert.Equal(t, tc.want, v.Dialog.Error)
			assert.Equal(t, mutation.StatusError, v.Mutation.Status)

			toast := fx.onlyToast(t)
			assert.Equal(t, notify.LevelError, toast.Level)
			assert.Equal(t, tc.want, toast.Message)
		})
	}
}

func TestPasswordChangeSucceeds(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.panel.OpenPassword("u2"))
	require.NoError(t, fx.panel.SetPasswordDraft(models.PasswordDraft{NewPassword: "abcdef", ConfirmPassword: "abcdef"}))
	require.NoError(t, fx.panel.SubmitPassword(context.Background()))

	assert.Equal(t, 1, fx.dir.hitsOf("password"))
	assert.Equal(t, map[string]any{"password": "abcdef"}, fx.dir.bodyOf("password"))
	v := fx.panel.Dialogs().Password
	assert.False(t, v.Dialog.Open)
	assert.Equal(t, models.PasswordDraft{}, v.Dialog.Draft)
	assert.Equal(t, "Password changed successfully", fx.onlyToast(t).Message)
}

func TestDeleteNetworkFailureKeepsDialogAndCache(t *testing.T) {
	fx := newFixture(t)
	before := fx.panel.List()
	fx.dir.setOverride("delete", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}
		conn, _, err := hj.Hijack()
		if assert.NoError(t, err) {
			_ = conn.Close()
		}
	})

	require.NoError(t, fx.panel.OpenDelete("u2"))
	err := fx.panel.ConfirmDelete(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, directory.ErrNetwork))

	v := fx.panel.Dialogs().Delete
	assert.True(t, v.Dialog.Open)
	assert.Equal(t, "u2", v.Dialog.Target)
	assert.Equal(t, "Failed to delete user", v.Dialog.Error)

	st := fx.panel.Users()
	assert.False(t, st.Fetching)
	assert.Equal(t, before, fx.panel.List())
	assert.Equal(t, 1, fx.dir.hitsOf("list"))
	assert.Equal(t, "Failed to delete user", fx.onlyToast(t).Message)
}

func TestDeleteSucceedsAndRefreshesList(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.panel.OpenDelete("u2"))
	require.NoError(t, fx.panel.ConfirmDelete(context.Background()))
	assert.False(t, fx.panel.Dialogs().Delete.Dialog.Open)

	fx.settle(t)
	users := fx.panel.List()
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "User deleted successfully", fx.onlyToast(t).Message)
}

func TestAddUserValidatesBeforeSubmitting(t *testing.T) {
	cases := []struct {
		name  string
		draft models.UserDraft
		want  string
	}{
		{"missing name", models.UserDraft{Email: "cy@example.com", Password: "secret1"}, "name is required"},
		{"missing email", models.UserDraft{Name: "Cy", Password: "secret1"}, "email is required"},
		{"bad email", models.UserDraft{Name: "Cy", Email: "not-an-email", Password: "secret1"}, "invalid email address"},
		{"bad role", models.UserDraft{Name: "Cy", Email: "cy@example.com", Role: "ROOT", Password: "secret1"}, "invalid role"},
		{"short password", models.UserDraft{Name: "Cy", Email: "cy@example.com", Password: "abc"}, "password too short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.panel.OpenAdd()
			require.NoError(t, fx.panel.SetAddDraft(tc.draft))
			_, err := fx.panel.SubmitAdd(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.want, directory.Message(err))
			assert.Equal(t, 0, fx.dir.hitsOf("create"))
			assert.Equal(t, tc.draft, fx.panel.Dialogs().Add.Dialog.Draft)
		})
	}
}

func TestAddUserSucceeds(t *testing.T) {
	fx := newFixture(t)
	fx.panel.OpenAdd()
	assert.Equal(t, models.EmptyUserDraft(), fx.panel.Dialogs().Add.Dialog.Draft)

	require.NoError(t, fx.panel.SetAddDraft(models.UserDraft{Name: " Cy ", Email: "cy@example.com", Role: "admin", Password: "secret1"}))
	u, err := fx.panel.SubmitAdd(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u3", u.ID)
	assert.Equal(t, map[string]any{"name": "Cy", "email": "cy@example.com", "role": "ADMIN", "password": "secret1"}, fx.dir.bodyOf("create"))

	v := fx.panel.Dialogs().Add
	assert.False(t, v.Dialog.Open)
	assert.Equal(t, models.EmptyUserDraft(), v.Dialog.Draft)

	fx.settle(t)
	assert.Len(t, fx.panel.List(), 3)
	assert.Equal(t, "User added successfully", fx.onlyToast(t).Message)
}

func TestAddUserServerMessageKeepsDraft(t *testing.T) {
	fx := newFixture(t)
	fx.dir.setOverride("create", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Email already in use"}`))
	})
	draft := models.UserDraft{Name: "Ann", Email: "ann@example.com", Role: models.RoleUser, Password: "secret1"}

	fx.panel.OpenAdd()
	require.NoError(t, fx.panel.SetAddDraft(draft))
	_, err := fx.panel.SubmitAdd(context.Background())
	require.Error(t, err)

	v := fx.panel.Dialogs().Add
	assert.True(t, v.Dialog.Open)
	assert.Equal(t, draft, v.Dialog.Draft)
	assert.Equal(t, "Email already in use", v.Dialog.Error)
	assert.Equal(t, "Email already in use", fx.onlyToast(t).Message)
	assert.Equal(t, 1, fx.dir.hitsOf("list"))
}

func TestOpeningUnknownUserFails(t *testing.T) {
	fx := newFixture(t)
	assert.ErrorIs(t, fx.panel.OpenEdit("nope"), ErrUnknownUser)
	assert.ErrorIs(t, fx.panel.OpenDelete("nope"), ErrUnknownUser)
	assert.ErrorIs(t, fx.panel.OpenPassword("nope"), ErrUnknownUser)
	assert.False(t, fx.panel.Dialogs().Edit.Dialog.Open)
}

func TestClosedDialogsRejectDraftsAndSubmits(t *testing.T) {
	fx := newFixture(t)
	assert.ErrorIs(t, fx.panel.SetAddDraft(models.UserDraft{}), ErrDialogClosed)
	_, err := fx.panel.SubmitAdd(context.Background())
	assert.ErrorIs(t, err, ErrDialogClosed)
	_, err = fx.panel.SubmitEdit(context.Background())
	assert.ErrorIs(t, err, ErrDialogClosed)
	assert.ErrorIs(t, fx.panel.ConfirmDelete(context.Background()), ErrDialogClosed)
	assert.ErrorIs(t, fx.panel.SubmitPassword(context.Background()), ErrDialogClosed)
}

func TestCloseResetsDialogAndMutation(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.panel.OpenPassword("u1"))
	require.NoError(t, fx.panel.SetPasswordDraft(models.PasswordDraft{NewPassword: "x", ConfirmPassword: "y"}))
	_ = fx.panel.SubmitPassword(context.Background())

	require.NoError(t, fx.panel.Close(ActionPassword))
	v := fx.panel.Dialogs().Password
	assert.False(t, v.Dialog.Open)
	assert.Empty(t, v.Dialog.Target)
	assert.Empty(t, v.Dialog.Error)
	assert.Equal(t, mutation.StatusIdle, v.Mutation.Status)

	assert.ErrorIs(t, fx.panel.Close("rename"), ErrUnknownAction)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Password ")
	require.NoError(t, err)
	assert.Equal(t, ActionPassword, a)
	_, err = ParseAction("rename")
	assert.ErrorIs(t, err, ErrUnknownAction)
}
