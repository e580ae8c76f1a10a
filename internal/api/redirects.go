package api

import (
	"sync"

	"go.uber.org/zap"
)

// Redirects is the console's authgate.Navigator. The shell endpoint hands
// the pending location to the client once.
type Redirects struct {
	mu      sync.Mutex
	pending string
	hooks   []func()
	log     *zap.Logger
}

func NewRedirects(log *zap.Logger) *Redirects {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redirects{log: log.Named("navigator")}
}

// OnNavigate registers fn to run after every Navigate.
func (r *Redirects) OnNavigate(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Redirects) Navigate(path string) {
	r.mu.Lock()
	r.pending = path
	hooks := append([]func(){}, r.hooks...)
	r.mu.Unlock()
	r.log.Info("navigate", zap.String("to", path))
	for _, fn := range hooks {
		fn()
	}
}

// Take returns and clears the pending location.
func (r *Redirects) Take() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending
	r.pending = ""
	return p
}
