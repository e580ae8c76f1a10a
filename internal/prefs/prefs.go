// Package prefs holds operator preferences persisted in the local store.
package prefs

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"admindash/internal/store"
)

const displayNameSetting = "display_name"

const maxDisplayName = 120

var ErrInvalidDisplayName = errors.New("display name must be 1-120 characters")

type Settings interface {
	GetSetting(ctx context.Context, name string) (string, error)
	PutSetting(ctx context.Context, name, value string) error
}

type Preferences struct {
	store Settings
	log   *zap.Logger

	mu          sync.RWMutex
	displayName string
}

// Load reads the display name once. A missing or unreadable value falls back
// to fallback.
func Load(ctx context.Context, st Settings, fallback string, log *zap.Logger) *Preferences {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Preferences{store: st, log: log.Named("prefs"), displayName: fallback}
	v, err := st.GetSetting(ctx, displayNameSetting)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		p.log.Warn("read display name", zap.Error(err))
	case strings.TrimSpace(v) != "":
		p.displayName = v
	}
	return p
}

func (p *Preferences) DisplayName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.displayName
}

// SetDisplayName persists name and then makes it current.
func (p *Preferences) SetDisplayName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxDisplayName {
		return ErrInvalidDisplayName
	}
	if err := p.store.PutSetting(ctx, displayNameSetting, name); err != nil {
		return err
	}
	p.mu.Lock()
	p.displayName = name
	p.mu.Unlock()
	return nil
}
