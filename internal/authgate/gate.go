// Package authgate guards the dashboard shell behind a session check and
// owns sign-out.
package authgate

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"admindash/internal/dialog"
	"admindash/internal/models"
	"admindash/internal/mutation"
	"admindash/internal/query"
)

// AuthKey is the query cache key of the session check.
const AuthKey = "auth"

// ErrNoSession is the session check result for an empty identity.
var ErrNoSession = errors.New("no session")

type Phase string

const (
	PhaseLoading       Phase = "loading"
	PhaseAuthenticated Phase = "authenticated"
	PhaseRedirecting   Phase = "redirecting"
)

type View struct {
	Phase      Phase                     `json:"phase"`
	User       *models.SessionUser       `json:"user,omitempty"`
	RedirectTo string                    `json:"redirect_to,omitempty"`
	SignOut    dialog.Snapshot[struct{}] `json:"sign_out"`
}

// Navigator moves the client to another location.
type Navigator interface {
	Navigate(path string)
}

type Session interface {
	CheckSession(ctx context.Context) (models.SessionUser, error)
	SignOut(ctx context.Context) error
}

type Options struct {
	LoginPath string
	Navigator Navigator
	Recorder  mutation.Recorder
	Logger    *zap.Logger
}

type Gate struct {
	session   Session
	cache     *query.Cache
	nav       Navigator
	loginPath string
	log       *zap.Logger

	signOutDialog *dialog.Dialog[struct{}]
	signOut       *mutation.Mutation[struct{}, struct{}]

	mu          sync.Mutex
	mounted     bool
	unsubscribe query.Unsubscribe
	ready       bool
	signedOut   bool
	// failed is set while the session check is in error; redirected records
	// whether that failure has already navigated.
	failed     bool
	redirected bool
}

func New(session Session, cache *query.Cache, opts Options) *Gate {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/"
	}
	g := &Gate{
		session:       session,
		cache:         cache,
		nav:           opts.Navigator,
		loginPath:     opts.LoginPath,
		log:           log.Named("authgate"),
		signOutDialog: dialog.New[struct{}](nil),
	}
	g.signOut = mutation.New("sign_out", func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, g.session.SignOut(ctx)
	}, mutation.Options[struct{}, struct{}]{
		OnSuccess: []func(context.Context, struct{}, struct{}){func(context.Context, struct{}, struct{}) { g.leave() }},
		OnError:   []func(context.Context, struct{}, error){func(context.Context, struct{}, error) { g.leave() }},
		Recorder:  opts.Recorder,
		Logger:    log,
	})
	return g
}

// Mount starts the session check. Mounting an already mounted gate re-checks
// the session only when the last check failed and the client has already
// been sent to the login path for it.
func (g *Gate) Mount() View {
	g.mu.Lock()
	if g.mounted {
		recheck := g.failed && g.redirected
		if recheck {
			g.failed, g.redirected = false, false
		}
		g.mu.Unlock()
		if recheck {
			g.log.Debug("rechecking session")
			g.cache.Invalidate(AuthKey)
		}
		return g.View()
	}
	g.mounted = true
	g.signedOut = false
	g.mu.Unlock()

	st, unsubscribe := g.cache.Subscribe(AuthKey, g.check, g.observe)
	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
	g.observe(st)
	return g.View()
}

// ClientReady marks the client able to navigate. A failure seen earlier
// redirects now.
func (g *Gate) ClientReady() {
	g.mu.Lock()
	g.ready = true
	nav := g.failed && !g.redirected
	if nav {
		g.redirected = true
	}
	g.mu.Unlock()
	if nav {
		g.navigate("session check failed")
	}
}

func (g *Gate) View() View {
	g.mu.Lock()
	signedOut := g.signedOut
	g.mu.Unlock()

	v := View{SignOut: g.signOutDialog.Snapshot()}
	if signedOut {
		v.Phase = PhaseRedirecting
		v.RedirectTo = g.loginPath
		return v
	}
	st := g.cache.Peek(AuthKey)
	switch st.Status {
	case query.StatusSuccess:
		if u, ok := query.Value[models.SessionUser](st); ok && !u.IsZero() {
			v.Phase = PhaseAuthenticated
			v.User = &u
			return v
		}
		v.Phase = PhaseRedirecting
		v.RedirectTo = g.loginPath
	case query.StatusError:
		if st.Fetching {
			v.Phase = PhaseLoading
			return v
		}
		v.Phase = PhaseRedirecting
		v.RedirectTo = g.loginPath
	default:
		v.Phase = PhaseLoading
	}
	return v
}

func (g *Gate) OpenSignOut() {
	g.signOutDialog.Open("", struct{}{})
}

func (g *Gate) CancelSignOut() {
	g.signOutDialog.Close()
}

// SignOut ends the upstream session, drops every cached query and sends the
// client to the login page. An upstream failure is logged and does not stop
// the local sign-out.
func (g *Gate) SignOut(ctx context.Context) error {
	_, err := g.signOut.Mutate(ctx, struct{}{})
	if errors.Is(err, mutation.ErrPending) {
		return err
	}
	return nil
}

func (g *Gate) check(ctx context.Context) (any, error) {
	u, err := g.session.CheckSession(ctx)
	if err != nil {
		return nil, err
	}
	if u.IsZero() {
		return nil, ErrNoSession
	}
	return u, nil
}

func (g *Gate) observe(s query.State) {
	if s.Fetching {
		return
	}
	g.mu.Lock()
	var nav bool
	switch s.Status {
	case query.StatusSuccess:
		g.failed, g.redirected = false, false
	case query.StatusError:
		if !g.failed {
			g.failed, g.redirected = true, false
		}
		if g.ready && !g.redirected {
			g.redirected = true
			nav = true
		}
	}
	g.mu.Unlock()
	if nav {
		g.log.Info("session check failed", zap.Error(s.Err))
		g.navigate("session check failed")
	}
}

func (g *Gate) leave() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mounted = false
	g.signedOut = true
	g.failed, g.redirected = false, false
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	g.cache.Clear()
	g.signOutDialog.Close()
	g.signOut.Reset()
	g.navigate("signed out")
}

func (g *Gate) navigate(reason string) {
	g.log.Debug("redirecting", zap.String("to", g.loginPath), zap.String("reason", reason))
	if g.nav != nil {
		g.nav.Navigate(g.loginPath)
	}
}
