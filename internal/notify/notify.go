// Package notify carries transient user-facing notifications (toasts).
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Toast struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier only writes toasts to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Success(msg string) {
	if n.Logger != nil {
		n.Logger.Info("toast", zap.String("level", string(LevelSuccess)), zap.String("message", msg))
	}
}

func (n LogNotifier) Error(msg string) {
	if n.Logger != nil {
		n.Logger.Warn("toast", zap.String("level", string(LevelError)), zap.String("message", msg))
	}
}

const defaultTrayCapacity = 50

// Tray queues toasts until the UI drains them. When full, the oldest toast
// is dropped.
type Tray struct {
	mu       sync.Mutex
	items    []Toast
	capacity int
	log      LogNotifier
	now      func() time.Time
}

func NewTray(capacity int, logger *zap.Logger) *Tray {
	if capacity <= 0 {
		capacity = defaultTrayCapacity
	}
	return &Tray{capacity: capacity, log: LogNotifier{Logger: logger}, now: func() time.Time { return time.Now().UTC() }}
}

func (t *Tray) Success(msg string) {
	t.log.Success(msg)
	t.push(LevelSuccess, msg)
}

func (t *Tray) Error(msg string) {
	t.log.Error(msg)
	t.push(LevelError, msg)
}

func (t *Tray) push(level Level, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == t.capacity {
		t.items = t.items[1:]
	}
	t.items = append(t.items, Toast{ID: uuid.NewString(), Level: level, Message: msg, CreatedAt: t.now()})
}

// Drain returns pending toasts oldest first and empties the tray.
func (t *Tray) Drain() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.items
	t.items = nil
	if out == nil {
		out = []Toast{}
	}
	return out
}

// Pending returns a copy of the queued toasts without removing them.
func (t *Tray) Pending() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast{}, t.items...)
}
