// Package query is a keyed cache of asynchronous read results. Each key has
// at most one fetch on the wire; subscribers that join while it is running
// share its result. Invalidation keeps the last value visible while the
// re-fetch runs.
package query

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is a point-in-time copy of one cache entry.
type State struct {
	Key       string    `json:"key"`
	Status    Status    `json:"status"`
	Value     any       `json:"value,omitempty"`
	Err       error     `json:"-"`
	Fetching  bool      `json:"fetching"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Value returns s.Value as T when the entry holds one.
func Value[T any](s State) (T, bool) {
	v, ok := s.Value.(T)
	return v, ok
}

type (
	Fetcher     func(ctx context.Context) (any, error)
	Listener    func(State)
	Unsubscribe func()
)

type Options struct {
	// GCTime is how long an entry without subscribers is kept. Zero or
	// negative keeps entries until Remove or Clear.
	GCTime time.Duration
	// FetchTimeout bounds each fetch. Zero means no bound.
	FetchTimeout time.Duration
	// RetryOnMount re-fetches an entry whose last fetch failed when a new
	// subscriber arrives.
	RetryOnMount bool
	Logger       *zap.Logger
}

type entry struct {
	// gen distinguishes entries recreated under the same key.
	gen   uint64
	state State
	fetch Fetcher
	subs  map[uint64]Listener
	// done is non-nil while a fetch is in flight and closed when it settles.
	done  chan struct{}
	stale bool
	gc    *time.Timer
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
	nextGen uint64
	flight  singleflight.Group
	opts    Options
	log     *zap.Logger
}

func New(opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{entries: map[string]*entry{}, opts: opts, log: log.Named("query")}
}

// notice is a state change to deliver once the cache lock is released.
type notice struct {
	state     State
	listeners []Listener
}

func (n notice) deliver() {
	for _, l := range n.listeners {
		l(n.state)
	}
}

// Subscribe registers listener for key and returns the current state. A
// fetch starts on first use, after an invalidation, or after a failed fetch
// when RetryOnMount is set. listener runs synchronously on every
// change and must not block.
func (c *Cache) Subscribe(key string, fetch Fetcher, listener Listener) (State, Unsubscribe) {
	c.mu.Lock()
	e := c.entryLocked(key)
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	e.fetch = fetch
	c.nextID++
	id := c.nextID
	if listener == nil {
		listener = func(State) {}
	}
	e.subs[id] = listener

	var n notice
	retry := c.opts.RetryOnMount && e.state.Status == StatusError
	if e.done == nil && (e.state.Status == StatusIdle || e.stale || retry) {
		n = c.startLocked(key, e)
	}
	snap := e.state
	c.mu.Unlock()
	n.deliver()

	var once sync.Once
	return snap, func() { once.Do(func() { c.unsubscribe(key, e, id) }) }
}

// Invalidate marks key stale. Active subscribers get a re-fetch; a fetch
// already in flight is followed by exactly one more once it settles. Without
// subscribers the entry re-fetches on its next Subscribe.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.stale = true
	var n notice
	if e.done == nil && len(e.subs) > 0 {
		n = c.startLocked(key, e)
	}
	c.mu.Unlock()
	c.log.Debug("invalidated", zap.String("key", key))
	n.deliver()
}

// Peek returns the state of key without subscribing.
func (c *Cache) Peek(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.state
	}
	return State{Key: key, Status: StatusIdle}
}

// Await blocks until the fetch in flight for key, if any, has settled.
func (c *Cache) Await(ctx context.Context, key string) (State, error) {
	c.mu.Lock()
	var done chan struct{}
	if e, ok := c.entries[key]; ok {
		done = e.done
	}
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.Peek(key), ctx.Err()
		}
	}
	return c.Peek(key), nil
}

// Remove drops key. A fetch in flight for it is discarded when it settles.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.removeLocked(key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		c.nextGen++
		e = &entry{gen: c.nextGen, state: State{Key: key, Status: StatusIdle}, subs: map[uint64]Listener{}}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.gc != nil {
		e.gc.Stop()
	}
	delete(c.entries, key)
}

func (c *Cache) startLocked(key string, e *entry) notice {
	e.stale = false
	done := make(chan struct{})
	e.done = done
	e.state.Fetching = true
	if e.state.Value == nil {
		e.state.Status = StatusLoading
	}
	go c.run(key, e, e.fetch, done)
	return notice{state: e.state, listeners: listenersOf(e)}
}

func (c *Cache) run(key string, e *entry, fetch Fetcher, done chan struct{}) {
	// One flight per entry generation: a key recreated after Remove or Clear
	// never joins a fetch started for the entry it replaced.
	v, err, shared := c.flight.Do(key+"#"+strconv.FormatUint(e.gen, 10), func() (any, error) {
		return c.invoke(fetch)
	})
	if shared {
		c.log.Debug("joined in-flight fetch", zap.String("key", key))
	}
	c.settle(key, e, done, v, err)
}

func (c *Cache) invoke(fetch Fetcher) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query fetch panicked: %v", r)
		}
	}()
	ctx := context.Background()
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}
	return fetch(ctx)
}

func (c *Cache) settle(key string, e *entry, done chan struct{}, v any, err error) {
	c.mu.Lock()
	if cur, ok := c.entries[key]; !ok || cur != e || e.done != done {
		c.mu.Unlock()
		close(done)
		c.log.Debug("discarded fetch result", zap.String("key", key))
		return
	}
	e.done = nil
	e.state.Fetching = false
	e.state.UpdatedAt = time.Now().UTC()
	if err != nil {
		e.state.Status = StatusError
		e.state.Err = err
		c.log.Warn("fetch failed", zap.String("key", key), zap.Error(err))
	} else {
		e.state.Status = StatusSuccess
		e.state.Value = v
		e.state.Err = nil
	}
	settled := notice{state: e.state, listeners: listenersOf(e)}
	var next notice
	if e.stale && len(e.subs) > 0 {
		next = c.startLocked(key, e)
	}
	c.mu.Unlock()
	settled.deliver()
	// Await returns only after subscribers have seen the settled state.
	close(done)
	next.deliver()
}

func (c *Cache) unsubscribe(key string, e *entry, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(e.subs, id)
	if len(e.subs) > 0 || c.opts.GCTime <= 0 {
		return
	}
	if cur, ok := c.entries[key]; !ok || cur != e {
		return
	}
	e.gc = time.AfterFunc(c.opts.GCTime, func() { c.collect(key, e) })
}

func (c *Cache) collect(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[key]; ok && cur == e && len(e.subs) == 0 {
		delete(c.entries, key)
		c.log.Debug("evicted", zap.String("key", key))
	}
}

func listenersOf(e *entry) []Listener {
	out := make([]Listener, 0, len(e.subs))
	for _, l := range e.subs {
		out = append(out, l)
	}
	return out
}
