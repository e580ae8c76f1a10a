// Package dialog holds the state of one modal form: whether it is open, the
// record it targets, the draft being edited and the last error shown.
package dialog

import "sync"

type Phase string

const (
	PhaseClosed  Phase = "closed"
	PhaseEmpty   Phase = "empty"
	PhaseEditing Phase = "editing"
	PhaseError   Phase = "error"
)

type Snapshot[D any] struct {
	Open   bool   `json:"open"`
	Phase  Phase  `json:"phase"`
	Target string `json:"target,omitempty"`
	Draft  D      `json:"draft"`
	Error  string `json:"error,omitempty"`
}

type Dialog[D any] struct {
	mu     sync.Mutex
	reset  func() D
	snap   Snapshot[D]
	nextID uint64
	subs   map[uint64]func(Snapshot[D])
}

// New returns a closed dialog. reset produces the draft a closed dialog holds.
func New[D any](reset func() D) *Dialog[D] {
	if reset == nil {
		reset = func() D {
			var zero D
			return zero
		}
	}
	return &Dialog[D]{
		reset: reset,
		snap:  Snapshot[D]{Phase: PhaseClosed, Draft: reset()},
		subs:  map[uint64]func(Snapshot[D]){},
	}
}

// Open shows the dialog for target with draft as its initial values. target
// is empty for dialogs that do not act on an existing record.
func (d *Dialog[D]) Open(target string, draft D) {
	d.update(func(s *Snapshot[D]) bool {
		*s = Snapshot[D]{Open: true, Phase: PhaseEmpty, Target: target, Draft: draft}
		return true
	})
}

// Edit applies fn to the draft of an open dialog. It reports false when the
// dialog is closed.
func (d *Dialog[D]) Edit(fn func(*D)) bool {
	return d.update(func(s *Snapshot[D]) bool {
		if !s.Open {
			return false
		}
		fn(&s.Draft)
		s.Phase = PhaseEditing
		s.Error = ""
		return true
	})
}

// Fail records msg on an open dialog and keeps the draft.
func (d *Dialog[D]) Fail(msg string) bool {
	return d.update(func(s *Snapshot[D]) bool {
		if !s.Open {
			return false
		}
		s.Phase = PhaseError
		s.Error = msg
		return true
	})
}

// Close hides the dialog, clears its target and resets the draft.
func (d *Dialog[D]) Close() {
	d.update(func(s *Snapshot[D]) bool {
		if !s.Open && s.Target == "" && s.Error == "" {
			return false
		}
		*s = Snapshot[D]{Phase: PhaseClosed, Draft: d.reset()}
		return true
	})
}

func (d *Dialog[D]) Snapshot() Snapshot[D] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

func (d *Dialog[D]) Subscribe(listener func(Snapshot[D])) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs[id] = listener
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

func (d *Dialog[D]) update(fn func(*Snapshot[D]) bool) bool {
	d.mu.Lock()
	if !fn(&d.snap) {
		d.mu.Unlock()
		return false
	}
	snap := d.snap
	listeners := make([]func(Snapshot[D]), 0, len(d.subs))
	for _, l := range d.subs {
		listeners = append(listeners, l)
	}
	d.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
	return true
}
