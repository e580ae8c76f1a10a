package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"admindash/internal/authgate"
	"admindash/internal/config"
	"admindash/internal/directory"
	"admindash/internal/middleware"
	"admindash/internal/models"
	"admindash/internal/notify"
	"admindash/internal/overview"
	"admindash/internal/prefs"
	"admindash/internal/query"
	"admindash/internal/rate"
	"admindash/internal/usermgmt"
	"admindash/internal/util"
	"admindash/internal/version"
)

type ActivityLog interface {
	ListActivity(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, error)
	Ping(ctx context.Context) error
}

type SessionProbe interface {
	CheckSession(ctx context.Context) (models.SessionUser, error)
}

// App is everything the console routes drive.
type App struct {
	Gate      *authgate.Gate
	Redirects *Redirects
	Panel     *usermgmt.Panel
	Overview  *overview.Page
	Prefs     *prefs.Preferences
	Tray      *notify.Tray
	Activity  ActivityLog
	Directory SessionProbe
}

type Handlers struct {
	cfg     config.Config
	app     App
	limiter *rate.Limiter
	log     *zap.Logger
	pages   *pageMounts
}

const (
	writeLimit  = 60
	writeWindow = time.Minute
)

func NewRouter(cfg config.Config, app App, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		cfg:     cfg,
		app:     app,
		limiter: rate.NewLimiter(writeLimit, writeWindow),
		log:     log.Named("api"),
		pages: &pageMounts{mount: func() []query.Unsubscribe {
			_, panel := app.Panel.Mount()
			_, page := app.Overview.Mount()
			return []query.Unsubscribe{panel, page}
		}},
	}
	// Leaving the dashboard, for sign-out or a failed session, drops the
	// page subscriptions; the next authenticated request mounts them again.
	if app.Redirects != nil {
		app.Redirects.OnNavigate(h.pages.release)
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Location", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.Ready)

	write := middleware.RateLimit(h.limiter, "write", cfg.TrustProxy)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/shell", h.Shell)
		r.With(write).Post("/shell/signout/open", h.OpenSignOut)
		r.With(write).Post("/shell/signout/cancel", h.CancelSignOut)
		r.With(write).Post("/shell/signout/confirm", h.ConfirmSignOut)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(h.authenticated, cfg.LoginPath))
			r.Use(h.mountPages)
			r.Get("/overview", h.Overview)
			r.Get("/preferences/display-name", h.GetDisplayName)
			r.With(write).Put("/preferences/display-name", h.PutDisplayName)
			r.Get("/users", h.Users)
			r.Get("/users/dialogs", h.Dialogs)
			r.With(write).Post("/users/dialogs/{action}/open", h.OpenDialog)
			r.With(write).Put("/users/dialogs/{action}/draft", h.SetDraft)
			r.With(write).Post("/users/dialogs/{action}/submit", h.Submit)
			r.With(write).Post("/users/dialogs/{action}/close", h.CloseDialog)
			r.Get("/notifications", h.Notifications)
			r.Get("/activity", h.Activity)
		})
	})
	return r
}

// Ready reports the directory and the local store. An auth failure still
// proves the directory is reachable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ready := map[string]any{"checked_at": time.Now().UTC().Format(time.RFC3339)}
	comps := map[string]any{}
	ok := true

	if _, err := h.app.Directory.CheckSession(ctx); err != nil && !errors.Is(err, directory.ErrAuth) {
		ok = false
		comps["directory"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		comps["directory"] = map[string]any{"ok": true}
	}
	if err := h.app.Activity.Ping(ctx); err != nil {
		ok = false
		comps["store"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		comps["store"] = map[string]any{"ok": true}
	}
	ready["components"] = comps

	if ok {
		ready["status"] = "ready"
		util.WriteJSON(w, http.StatusOK, ready)
		return
	}
	ready["status"] = "degraded"
	util.WriteJSON(w, http.StatusServiceUnavailable, ready)
}

func (h *Handlers) authenticated() bool {
	return h.app.Gate.View().Phase == authgate.PhaseAuthenticated
}

func (h *Handlers) mountPages(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.pages.ensure()
		next.ServeHTTP(w, r)
	})
}

// pageMounts keeps the dashboard pages subscribed while a session is live.
type pageMounts struct {
	mu     sync.Mutex
	mount  func() []query.Unsubscribe
	unsubs []query.Unsubscribe
}

func (m *pageMounts) ensure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubs == nil {
		m.unsubs = m.mount()
	}
}

func (m *pageMounts) release() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = min(max(n, 1), 500)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
