package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emerald/deadside-tracker/internal/config"
	"github.com/emerald/deadside-tracker/internal/domain"
	"github.com/emerald/deadside-tracker/internal/metrics"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("connection pool is shut down")

// ConnectionError reports a failed connection establishment after all
// retries were exhausted.
type ConnectionError struct {
	Target domain.ServerTarget
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s (%s): %v", e.Target.ServerID, e.Target.Addr(), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SessionState is the lifecycle state of a pooled session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionInUse
	SessionClosed
)

// Session is one live remote connection, owned by the pool and checked out
// to at most one caller at a time.
type Session struct {
	Target domain.ServerTarget

	fs       FS
	state    SessionState
	lastUsed time.Time
}

// FS returns the remote filesystem of a checked-out session.
func (s *Session) FS() FS { return s.fs }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// entry serializes access to one target. The token channel has capacity 1;
// holding the token is holding the target.
type entry struct {
	token chan struct{}
	sess  *Session
}

// Pool manages one reusable remote session per server target with idle
// eviction and bounded retry on connection establishment. Acquisitions for
// different targets never block each other.
type Pool struct {
	cfg    config.PoolConfig
	dial   DialFunc
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool and starts its idle eviction timer.
func NewPool(cfg config.PoolConfig, dial DialFunc, logger zerolog.Logger) *Pool {
	p := &Pool{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.evictLoop()
	return p
}

// Acquire checks out the session for a target, dialing if necessary.
// Concurrent acquisitions for the same target serialize; the call fails if
// the context expires, the acquire timeout elapses, or the pool shuts down.
func (p *Pool) Acquire(ctx context.Context, target domain.ServerTarget) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	e, ok := p.entries[target.Key()]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		e.token <- struct{}{}
		p.entries[target.Key()] = e
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-e.token:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	case <-timer.C:
		return nil, &ConnectionError{Target: target, Err: errors.New("acquire timeout")}
	}

	// Token held from here; give it back on any failure path.
	if p.isClosed() {
		e.token <- struct{}{}
		return nil, ErrPoolClosed
	}

	if e.sess != nil && e.sess.state == SessionIdle {
		e.sess.state = SessionInUse
		return e.sess, nil
	}

	fs, err := p.dialWithBackoff(ctx, target)
	if err != nil {
		e.token <- struct{}{}
		return nil, &ConnectionError{Target: target, Err: err}
	}

	e.sess = &Session{Target: target, fs: fs, state: SessionInUse, lastUsed: time.Now()}
	return e.sess, nil
}

// Release returns a checked-out session to the pool. If broken is true the
// underlying transport is closed and the next Acquire redials.
func (p *Pool) Release(sess *Session, broken bool) {
	p.mu.Lock()
	e, ok := p.entries[sess.Target.Key()]
	p.mu.Unlock()
	if !ok || e.sess != sess {
		return
	}

	if broken || p.isClosed() {
		sess.fs.Close()
		sess.state = SessionClosed
		e.sess = nil
	} else {
		sess.state = SessionIdle
		sess.lastUsed = time.Now()
	}
	e.token <- struct{}{}
}

// Shutdown closes all idle sessions and rejects future acquisitions.
// Blocked acquisitions observe the shutdown and unwind. A session still
// checked out stays with its holder, whose Release sees the closed pool
// and closes the transport itself.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		// Touching a session requires its token, same as eviction.
		select {
		case <-e.token:
		default:
			continue // checked out, the holder's Release cleans up
		}
		if e.sess != nil {
			e.sess.fs.Close()
			e.sess.state = SessionClosed
			e.sess = nil
		}
		e.token <- struct{}{}
	}
	p.wg.Wait()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// dialWithBackoff retries connection establishment with exponential backoff,
// bounded by the configured attempt count and max delay.
func (p *Pool) dialWithBackoff(ctx context.Context, target domain.ServerTarget) (FS, error) {
	var lastErr error
	delay := p.cfg.BackoffBase

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ConnectRetries.WithLabelValues(target.ServerID).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.done:
				return nil, ErrPoolClosed
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.cfg.BackoffMax {
				delay = p.cfg.BackoffMax
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
		fs, err := p.dial(dialCtx, target)
		cancel()
		if err == nil {
			return fs, nil
		}
		lastErr = err
		p.logger.Warn().Str("server", target.ServerID).Int("attempt", attempt+1).
			Err(err).Msg("connection attempt failed")
	}
	return nil, lastErr
}

// evictLoop closes idle sessions past the configured threshold.
func (p *Pool) evictLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictIdle(p.cfg.IdleThreshold)
		}
	}
}

// evictIdle closes sessions idle longer than maxIdle. An in-use session is
// never evicted: eviction must win the target token first.
func (p *Pool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for _, e := range entries {
		select {
		case <-e.token:
		default:
			continue // in use, skip
		}
		if e.sess != nil && e.sess.state == SessionIdle && e.sess.lastUsed.Before(cutoff) {
			e.sess.fs.Close()
			e.sess.state = SessionClosed
			e.sess = nil
			metrics.SessionsEvicted.Inc()
		}
		e.token <- struct{}{}
	}
}
