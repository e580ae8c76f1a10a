// Package mutation coordinates write calls against the directory: one call
// per invocation, a pending guard, callbacks and a toast per outcome.
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"admindash/internal/directory"
	"admindash/internal/models"
	"admindash/internal/notify"
)

var ErrPending = errors.New("mutation already pending")

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type State struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Recorder receives one entry per settled mutation.
type Recorder interface {
	Record(ctx context.Context, e models.AuditEntry) error
}

type RecorderFunc func(ctx context.Context, e models.AuditEntry) error

func (f RecorderFunc) Record(ctx context.Context, e models.AuditEntry) error { return f(ctx, e) }

type Options[In, Out any] struct {
	OnSuccess []func(ctx context.Context, in In, out Out)
	OnError   []func(ctx context.Context, in In, err error)
	// SuccessText is the toast shown on success. Empty shows none.
	SuccessText string
	// FallbackError is shown when the error carries no server message.
	FallbackError string
	// Target names the subject of in for the activity log.
	Target   func(in In) string
	Notifier notify.Notifier
	Recorder Recorder
	Logger   *zap.Logger
}

type Mutation[In, Out any] struct {
	name string
	fn   func(ctx context.Context, in In) (Out, error)
	opts Options[In, Out]
	log  *zap.Logger

	mu     sync.Mutex
	state  State
	nextID uint64
	subs   map[uint64]func(State)
}

func New[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error), opts Options[In, Out]) *Mutation[In, Out] {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Mutation[In, Out]{
		name:  name,
		fn:    fn,
		opts:  opts,
		log:   log.Named("mutation").With(zap.String("action", name)),
		state: State{Status: StatusIdle},
		subs:  map[uint64]func(State){},
	}
}

func (m *Mutation[In, Out]) Name() string { return m.name }

func (m *Mutation[In, Out]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe calls listener synchronously on every state change.
func (m *Mutation[In, Out]) Subscribe(listener func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Reset returns a settled mutation to idle. A pending mutation is left alone.
func (m *Mutation[In, Out]) Reset() {
	m.transition(func(s State) (State, bool) {
		if s.Status == StatusPending || s.Status == StatusIdle {
			return s, false
		}
		return State{Status: StatusIdle}, true
	})
}

// Mutate runs fn once. It returns ErrPending without calling fn when a
// previous invocation has not settled.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	var zero Out
	started := m.transition(func(s State) (State, bool) {
		if s.Status == StatusPending {
			return s, false
		}
		return State{Status: StatusPending}, true
	})
	if !started {
		return zero, ErrPending
	}

	begin := time.Now()
	out, err := m.fn(ctx, in)
	if err != nil {
		msg := UserMessage(err, m.opts.FallbackError)
		m.set(State{Status: StatusError, Error: msg})
		m.log.Warn("mutation failed", zap.Error(err), zap.Int64("duration_ms", time.Since(begin).Milliseconds()))
		if m.opts.Notifier != nil {
			m.opts.Notifier.Error(msg)
		}
		for _, cb := range m.opts.OnError {
			cb(ctx, in, err)
		}
		m.record(ctx, in, StatusError, msg)
		return zero, err
	}

	m.set(State{Status: StatusSuccess})
	m.log.Info("mutation succeeded", zap.Int64("duration_ms", time.Since(begin).Milliseconds()))
	for _, cb := range m.opts.OnSuccess {
		cb(ctx, in, out)
	}
	if m.opts.Notifier != nil && m.opts.SuccessText != "" {
		m.opts.Notifier.Success(m.opts.SuccessText)
	}
	m.record(ctx, in, StatusSuccess, m.opts.SuccessText)
	return out, nil
}

// UserMessage picks the text shown for err: the message a directory error
// carries, or fallback for transport failures and foreign errors.
func UserMessage(err error, fallback string) string {
	var de *directory.Error
	if errors.As(err, &de) && de.Kind != directory.KindNetwork && de.Message != "" {
		return de.Message
	}
	if fallback == "" {
		return "Something went wrong"
	}
	return fallback
}

func (m *Mutation[In, Out]) set(s State) {
	m.transition(func(State) (State, bool) { return s, true })
}

func (m *Mutation[In, Out]) transition(next func(State) (State, bool)) bool {
	m.mu.Lock()
	s, ok := next(m.state)
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.state = s
	listeners := make([]func(State), 0, len(m.subs))
	for _, l := range m.subs {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
	return true
}

func (m *Mutation[In, Out]) record(ctx context.Context, in In, outcome Status, msg string) {
	if m.opts.Recorder == nil {
		return
	}
	e := models.AuditEntry{Action: m.name, Outcome: string(outcome), Message: msg}
	if m.opts.Target != nil {
		e.Target = m.opts.Target(in)
	}
	if err := m.opts.Recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		m.log.Warn("record mutation", zap.Error(err))
	}
}
