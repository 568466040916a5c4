// Package ingest orchestrates the per-server pipelines that pull killfeed
// and log files over SFTP, parse them, and fold the results into stats.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/emerald/deadside-tracker/internal/config"
	"github.com/emerald/deadside-tracker/internal/domain"
	"github.com/emerald/deadside-tracker/internal/metrics"
	"github.com/emerald/deadside-tracker/internal/parser"
	"github.com/emerald/deadside-tracker/internal/remote"
	"github.com/emerald/deadside-tracker/internal/stats"
	"github.com/emerald/deadside-tracker/internal/storage"
)

// serverState holds one server's pipeline: its aggregator, its live status,
// and the target it ingests from. The pool token serializes passes, so at
// most one pipeline run touches this state at a time.
type serverState struct {
	target domain.ServerTarget
	agg    *stats.Aggregator
	status domain.ServerStatus
}

// Manager runs one ingestion pipeline per configured server on a fixed
// interval. Pipelines for different servers are independent: a failing
// server is logged and retried next tick without touching the others.
type Manager struct {
	cfg    *config.Config
	store  *storage.Store
	pool   *remote.Pool
	logger zerolog.Logger
	dedup  *parser.Deduper
	sem    *semaphore.Weighted
	events chan domain.Event

	mu      sync.RWMutex
	servers map[string]*serverState

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a manager over an established pool and store.
func NewManager(cfg *config.Config, store *storage.Store, pool *remote.Pool, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		pool:    pool,
		logger:  logger,
		dedup:   parser.NewDeduper(),
		sem:     semaphore.NewWeighted(cfg.Ingest.MaxConcurrent),
		events:  make(chan domain.Event, 100),
		servers: make(map[string]*serverState),
		done:    make(chan struct{}),
	}
}

// Events returns the channel of live events for WebSocket broadcasting.
func (m *Manager) Events() <-chan domain.Event {
	return m.events
}

// Start registers the configured servers, hydrates their streak state, and
// begins the periodic sweep. The first sweep runs immediately.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.register(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info().Int("servers", len(m.servers)).
		Dur("interval", m.cfg.Ingest.Interval).Msg("ingest manager started")
	return nil
}

// register builds the per-server pipeline state from configuration.
func (m *Manager) register(ctx context.Context) error {
	for _, srv := range m.cfg.Servers {
		if err := m.store.UpsertServer(ctx, srv.ID, srv.Host); err != nil {
			return fmt.Errorf("registering server %s: %w", srv.ID, err)
		}

		agg := stats.New(srv.ID, m.store, m.cfg.Ingest.MaxPendingRows, m.cfg.Ingest.FlushAttempts, m.logger)
		if err := agg.Hydrate(ctx); err != nil {
			return err
		}

		historyDone, err := m.store.HistoryDoneAt(ctx, srv.ID)
		if err != nil {
			return fmt.Errorf("loading history marker for %s: %w", srv.ID, err)
		}

		m.servers[srv.ID] = &serverState{
			target: domain.ServerTarget{
				ServerID: srv.ID,
				Host:     srv.Host,
				Port:     srv.Port,
				Username: srv.Username,
				Password: srv.Password,
				BasePath: srv.BasePath,
			},
			agg: agg,
			status: domain.ServerStatus{
				ServerID:      srv.ID,
				Host:          srv.Host,
				HistoryDoneAt: historyDone,
			},
		}
	}
	return nil
}

// Stop waits for in-flight sweeps to finish. Cancel the context passed to
// Start first so blocked remote reads unwind.
func (m *Manager) Stop() {
	close(m.done)
	m.wg.Wait()
	m.logger.Info().Msg("ingest manager stopped")
}

// ServerStatuses returns a snapshot of every server's ingestion state.
func (m *Manager) ServerStatuses() []domain.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ServerStatus, 0, len(m.servers))
	for _, st := range m.servers {
		out = append(out, st.status)
	}
	return out
}

// ServerStatus returns one server's status, or nil if unknown.
func (m *Manager) ServerStatus(serverID string) *domain.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.servers[serverID]; ok {
		s := st.status
		return &s
	}
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Ingest.Interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep runs one ingestion pass over every server, bounded by the
// concurrency semaphore. One server's failure never aborts the others.
func (m *Manager) sweep(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	m.mu.RLock()
	states := make([]*serverState, 0, len(m.servers))
	for _, st := range m.servers {
		states = append(states, st)
	}
	m.mu.RUnlock()

	for _, st := range states {
		st := st
		g.Go(func() error {
			if err := m.sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer m.sem.Release(1)
			m.runPipeline(gctx, st)
			return nil
		})
	}
	g.Wait()
}

// runPipeline executes one full pass for one server: acquire a session,
// discover files, process them, and release. A failed pass leaves cursors
// untouched past the last committed batch.
func (m *Manager) runPipeline(ctx context.Context, st *serverState) {
	sess, err := m.pool.Acquire(ctx, st.target)
	if err != nil {
		m.recordPass(st, err)
		if ctx.Err() == nil && !errors.Is(err, remote.ErrPoolClosed) {
			m.logger.Warn().Str("server", st.target.ServerID).Err(err).
				Msg("pipeline pass skipped, no session")
		}
		return
	}

	err = m.runPass(ctx, st, sess.FS())
	// A failed pass may have left the transport wedged mid-read; drop the
	// session so the next pass redials.
	m.pool.Release(sess, err != nil)
	m.recordPass(st, err)
	if err != nil && ctx.Err() == nil {
		m.logger.Warn().Str("server", st.target.ServerID).Err(err).
			Msg("pipeline pass failed")
	}
}

func (m *Manager) runPass(ctx context.Context, st *serverState, fsys remote.FS) error {
	m.mu.RLock()
	historyDone := st.status.HistoryDoneAt != nil
	m.mu.RUnlock()

	if !historyDone {
		if err := m.runHistoryPass(ctx, st, fsys); err != nil {
			return err
		}
	}

	live, err := remote.DiscoverKillfeed(fsys, st.target.BasePath, false)
	if err != nil {
		return err
	}
	for _, cand := range live {
		if err := m.processFile(ctx, st, fsys, cand); err != nil {
			return err
		}
	}

	logFile, err := remote.DiscoverLog(fsys, st.target.BasePath)
	if err != nil {
		return err
	}
	if logFile != nil {
		if err := m.processFile(ctx, st, fsys, *logFile); err != nil {
			return err
		}
	}
	return nil
}

// runHistoryPass folds every archived killfeed file in chronological order,
// then records completion so later passes only watch the live file. An
// interrupted pass resumes where its per-file cursors left off.
func (m *Manager) runHistoryPass(ctx context.Context, st *serverState, fsys remote.FS) error {
	serverID := st.target.ServerID
	candidates, err := remote.DiscoverKillfeed(fsys, st.target.BasePath, true)
	if err != nil {
		return err
	}

	m.logger.Info().Str("server", serverID).Int("files", len(candidates)).
		Msg("running full history pass")

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.processFile(ctx, st, fsys, cand); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if err := m.store.MarkHistoryDone(ctx, serverID, now); err != nil {
		return fmt.Errorf("marking history done for %s: %w", serverID, err)
	}
	m.mu.Lock()
	st.status.HistoryDoneAt = &now
	m.mu.Unlock()
	return nil
}

// processFile reads one file from its saved cursor, parses and aggregates
// the new lines, and commits the cursor only after the stats flush
// succeeds. On rotation the cursor resets to zero under a fresh epoch and
// the whole file is reprocessed.
func (m *Manager) processFile(ctx context.Context, st *serverState, fsys remote.FS, cand remote.Candidate) error {
	serverID := st.target.ServerID

	cursor, err := m.store.GetCursor(ctx, serverID, cand.Path)
	if err != nil {
		return fmt.Errorf("loading cursor for %s: %w", cand.Path, err)
	}
	if cursor == nil {
		cursor = &domain.FileCursor{
			ServerID: serverID,
			FilePath: cand.Path,
			EpochID:  uuid.NewString(),
		}
	}

	if cursor.Offset > 0 {
		rotated := cand.Size < cursor.Offset
		if !rotated {
			match, err := remote.MatchesFingerprint(fsys, cand.Path, cursor.Fingerprint)
			if err != nil {
				return err
			}
			rotated = !match
		}
		if rotated {
			metrics.RotationsDetected.WithLabelValues(serverID).Inc()
			m.logger.Info().Str("server", serverID).Str("path", cand.Path).
				Msg("rotation detected, reprocessing from start")
			m.dedup.DropEpoch(cursor.EpochID)
			cursor.Offset = 0
			cursor.Line = 0
			cursor.EpochID = uuid.NewString()
		}
	}

	if cursor.Offset >= cand.Size {
		return nil // nothing new
	}

	// Refresh the head fingerprint before reading: an append-only file that
	// had not yet filled the prefix gets a longer one as it grows.
	fingerprint, err := remote.TakeFingerprint(fsys, cand.Path)
	if err != nil {
		return err
	}
	cursor.Fingerprint = fingerprint

	// A stalled remote read must not wedge the pipeline with the session
	// token held; the timeout surfaces as a failed pass and the next sweep
	// redials and resumes from the committed cursor.
	readCtx := ctx
	if m.cfg.Ingest.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, m.cfg.Ingest.ReadTimeout)
		defer cancel()
	}

	read, err := m.readLines(readCtx, st, fsys, cand, cursor)
	if err != nil {
		return err
	}
	if read == 0 {
		return nil
	}

	// Cursor and aggregation commit together: a failed flush leaves the
	// cursor behind so the batch is re-read, and dedup absorbs the replay.
	if err := st.agg.Flush(ctx); err != nil {
		return err
	}
	cursor.LastModified = cand.ModTime
	if err := m.store.SaveCursor(ctx, cursor); err != nil {
		return fmt.Errorf("saving cursor for %s: %w", cand.Path, err)
	}
	return nil
}

// readLines consumes new lines from the file, advancing the cursor in
// memory. Returns how many lines were consumed.
func (m *Manager) readLines(ctx context.Context, st *serverState, fsys remote.FS, cand remote.Candidate, cursor *domain.FileCursor) (int, error) {
	f, err := fsys.Open(cand.Path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", cand.Path, err)
	}
	defer f.Close()

	var src io.Reader = f
	compressed := strings.HasSuffix(cand.Path, ".gz")
	if compressed {
		// Archives are immutable and not seekable; read front to back and
		// let dedup suppress anything a previous partial pass consumed.
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("opening gzip stream %s: %w", cand.Path, err)
		}
		defer gz.Close()
		src = gz
		cursor.Offset = 0
		cursor.Line = 0
	} else if cursor.Offset > 0 {
		if _, err := f.Seek(cursor.Offset, io.SeekStart); err != nil {
			return 0, fmt.Errorf("seeking %s to %d: %w", cand.Path, cursor.Offset, err)
		}
	}

	reader := bufio.NewReader(src)
	read := 0
	for {
		if err := ctx.Err(); err != nil {
			return read, err
		}
		raw, rerr := reader.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return read, fmt.Errorf("reading %s: %w", cand.Path, rerr)
		}
		// A tail fragment without its newline is still being written; leave
		// it for the next pass. Archives are complete, so take theirs.
		if rerr == io.EOF && raw != "" && !compressed {
			break
		}

		if raw != "" {
			cursor.Offset += int64(len(raw))
			cursor.Line++
			read++

			line := strings.TrimRight(raw, "\r\n")
			if line != "" {
				key := parser.DedupKey(cursor.ServerID, cursor.FilePath, cursor.Line, line)
				if !m.dedup.Seen(cursor.EpochID, key) {
					m.handleLine(ctx, st, cand.Role, line)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
	}

	if compressed {
		// Archives never grow; record full consumption by size so the next
		// pass skips the file outright.
		cursor.Offset = cand.Size
	}
	return read, nil
}

func (m *Manager) handleLine(ctx context.Context, st *serverState, role, line string) {
	serverID := st.target.ServerID

	if role == remote.RoleActiveLog {
		ev, ok := parser.ParseLogLine(line, serverID)
		if !ok {
			return
		}
		metrics.EventsParsed.WithLabelValues(serverID, ev.Kind).Inc()
		m.countEvent(st)
		m.emitEvent(domain.Event{
			Type:      domain.EventLog,
			ServerID:  serverID,
			Timestamp: ev.Timestamp,
			Data:      ev,
		})
		return
	}

	ev, reason := parser.ParseKillfeedLine(line, serverID)
	if ev == nil {
		metrics.MalformedLines.WithLabelValues(serverID, string(reason)).Inc()
		m.mu.Lock()
		st.status.LinesSkipped++
		m.mu.Unlock()
		return
	}

	st.agg.Apply(ctx, *ev)
	metrics.EventsParsed.WithLabelValues(serverID, "kill").Inc()
	m.countEvent(st)

	// A history backfill is not live traffic; only the current file's
	// events reach subscribers.
	if role == remote.RoleLiveKillfeed {
		m.emitEvent(domain.Event{
			Type:      domain.EventKill,
			ServerID:  serverID,
			Timestamp: ev.Timestamp,
			Data:      ev,
		})
	}
}

func (m *Manager) countEvent(st *serverState) {
	m.mu.Lock()
	st.status.EventsParsed++
	m.mu.Unlock()
}

func (m *Manager) recordPass(st *serverState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.status.LastPassAt = time.Now().UTC()
	st.status.Online = err == nil
	if err != nil {
		st.status.LastError = err.Error()
	} else {
		st.status.LastError = ""
	}
}

// emitEvent broadcasts without blocking; slow consumers drop events.
func (m *Manager) emitEvent(ev domain.Event) {
	select {
	case m.events <- ev:
	default:
	}
}
