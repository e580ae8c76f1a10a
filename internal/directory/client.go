// Package directory talks to the remote user-directory API.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"admindash/internal/config"
	"admindash/internal/models"
	"admindash/internal/version"
)

const maxErrorBody = 64 << 10

// Client issues one HTTP call per operation. It never retries.
type Client struct {
	http          *http.Client
	baseURL       string
	sessionCookie string
	sessionToken  string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		http:          &http.Client{Timeout: cfg.DirectoryTimeout()},
		baseURL:       strings.TrimRight(cfg.DirectoryBaseURL, "/"),
		sessionCookie: cfg.DirectorySessionCookie,
		sessionToken:  cfg.DirectorySessionToken,
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, http.StatusOK, "Failed to fetch users", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.User{}
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, d models.UserDraft) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodPost, "/api/auth/register", d, http.StatusCreated, "Failed to add user", &out)
	return out, err
}

// UpdateUser replaces name, email and role. A blank password is left out of
// the body so the stored credential is untouched.
func (c *Client) UpdateUser(ctx context.Context, id string, d models.UserDraft) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(id), d, http.StatusOK, "Failed to update user", &out)
	return out, err
}

func (c *Client) ChangePassword(ctx context.Context, id, newPassword string) error {
	body := struct {
		Password string `json:"password"`
	}{Password: newPassword}
	return c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(id)+"/password", body, http.StatusOK, "Failed to change password", nil)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(id), nil, http.StatusOK, "Failed to delete user", nil)
}

// CheckSession resolves the signed-in identity. An empty payload is reported
// as an auth error.
func (c *Client) CheckSession(ctx context.Context) (models.SessionUser, error) {
	var out struct {
		User *models.SessionUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/protected", nil, http.StatusOK, "Not authenticated", &out); err != nil {
		return models.SessionUser{}, err
	}
	if out.User == nil || out.User.IsZero() {
		return models.SessionUser{}, &Error{Kind: KindAuth, Status: http.StatusOK, Message: "Not authenticated"}
	}
	return *out.User, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/signout", nil, http.StatusOK, "Failed to sign out", nil)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, fallback string, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return &Error{Kind: KindUnknown, Message: fallback, Err: err}
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: fallback, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.sessionCookie != "" && c.sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: c.sessionCookie, Value: c.sessionToken})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return fromStatus(resp.StatusCode, readServerMessage(resp.Body), fallback)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return fromTransport(err)
		}
		return &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: fallback, Err: err}
	}
	return nil
}

func readServerMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(eb.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(eb.Message)
}
