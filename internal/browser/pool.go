package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Limits is the live-reloadable configuration a Pool re-reads on every
// Acquire, so a config patch to the browser tool's idle timeout or
// session cap takes effect without rebuilding the pool itself.
type Limits struct {
	IdleTimeout time.Duration
	MaxSessions int
}

// LimitsFunc returns the current Limits, typically backed by the config
// store's live document.
type LimitsFunc func() Limits

type session struct {
	handle     Handle
	lastAccess time.Time
	timer      *time.Timer
}

// Pool manages one browser session per conversation, tearing down idle
// sessions after a configurable timeout and evicting the least recently
// used session when the configured cap is reached, driven by
// per-acquire access rather than a periodic reconciliation tick.
type Pool struct {
	rt     Runtime
	limits LimitsFunc
	log    *slog.Logger

	onNewSession func(conversationID string, h Handle)

	mu       sync.Mutex
	sessions map[string]*session
}

// NewPool creates a Pool that launches sessions through rt, re-reading
// limits() on every Acquire call.
func NewPool(rt Runtime, limits LimitsFunc, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		rt:       rt,
		limits:   limits,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// OnNewSession registers a hook invoked synchronously whenever Acquire
// launches a fresh session (not on a cache hit), e.g. to warm a
// devtools websocket connection.
func (p *Pool) OnNewSession(fn func(conversationID string, h Handle)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNewSession = fn
}

// Acquire returns the browser session for conversationID, launching one
// if none exists. An existing session's idle timer is refreshed. If the
// pool is at capacity and conversationID has no existing session, the
// least recently used session is evicted first.
func (p *Pool) Acquire(ctx context.Context, conversationID string) (Handle, error) {
	lim := p.limits()

	p.mu.Lock()
	if s, ok := p.sessions[conversationID]; ok {
		s.lastAccess = time.Now()
		p.resetTimer(conversationID, s, lim.IdleTimeout)
		h := s.handle
		p.mu.Unlock()
		return h, nil
	}

	if lim.MaxSessions > 0 && len(p.sessions) >= lim.MaxSessions {
		p.evictLRULocked(ctx)
	}
	p.mu.Unlock()

	h, err := p.rt.Spawn(ctx, conversationID)
	if err != nil {
		return Handle{}, fmt.Errorf("browser: spawn session for %s: %w", conversationID, err)
	}

	p.mu.Lock()
	s := &session{handle: h, lastAccess: time.Now()}
	p.sessions[conversationID] = s
	p.resetTimer(conversationID, s, lim.IdleTimeout)
	hook := p.onNewSession
	p.mu.Unlock()

	if hook != nil {
		hook(conversationID, h)
	}
	p.log.Info("browser: launched session", "conversation_id", conversationID)
	return h, nil
}

// Release tears down conversationID's session immediately, if any.
func (p *Pool) Release(conversationID string) {
	p.mu.Lock()
	s, ok := p.sessions[conversationID]
	if ok {
		delete(p.sessions, conversationID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	if err := p.rt.Stop(context.Background(), s.handle); err != nil {
		p.log.Warn("browser: stop session failed", "conversation_id", conversationID, "err", err)
	}
}

// ReleaseAll tears down every active session, e.g. on shutdown.
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.Release(id)
		}(id)
	}
	wg.Wait()
}

// resetTimer must be called with p.mu held. It cancels any existing idle
// timer for the session and, if timeout > 0, arms a new one.
func (p *Pool) resetTimer(conversationID string, s *session, timeout time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if timeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(timeout, func() {
		p.log.Info("browser: idle timeout", "conversation_id", conversationID)
		p.Release(conversationID)
	})
}

// evictLRULocked must be called with p.mu held. It stops and removes the
// least recently accessed session, making room for a new one.
func (p *Pool) evictLRULocked(ctx context.Context) {
	var oldestID string
	var oldestAt time.Time
	for id, s := range p.sessions {
		if oldestID == "" || s.lastAccess.Before(oldestAt) {
			oldestID, oldestAt = id, s.lastAccess
		}
	}
	if oldestID == "" {
		return
	}
	s := p.sessions[oldestID]
	delete(p.sessions, oldestID)
	if s.timer != nil {
		s.timer.Stop()
	}
	go func() {
		if err := p.rt.Stop(ctx, s.handle); err != nil {
			p.log.Warn("browser: evict session failed", "conversation_id", oldestID, "err", err)
		}
	}()
	p.log.Info("browser: evicted LRU session", "conversation_id", oldestID)
}

// Len reports the number of active sessions, for tests and diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// AcquireDescriptor satisfies internal/tools.BrowserPool: it acquires a
// session the same way Acquire does and renders the resulting Handle as
// a single descriptive string, so the tool registry doesn't need to
// import this package's types.
func (p *Pool) AcquireDescriptor(ctx context.Context, conversationID string) (string, error) {
	h, err := p.Acquire(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if h.DevToolsURL != "" {
		return h.DevToolsURL, nil
	}
	return h.ContainerID, nil
}
