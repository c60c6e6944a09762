package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/madebyisaacr/codesync/internal/state"
)

// SchedulerState is the scheduler's lifecycle state.
type SchedulerState string

const (
	StateIdle            SchedulerState = "idle"
	StateSyncing         SchedulerState = "syncing"
	StateConflictPending SchedulerState = "conflict_pending"
	StateError           SchedulerState = "error"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("sync session already running")

// ErrNotConflictPending is returned by Resume when there is nothing to
// resume.
var ErrNotConflictPending = errors.New("scheduler is not waiting on conflicts")

// Status is a point-in-time snapshot of the session, safe to hand to
// concurrent readers: all slices are copies.
type Status struct {
	State      SchedulerState      `json:"state"`
	Running    bool                `json:"running"`
	Directory  string              `json:"directory,omitempty"`
	LastSyncAt time.Time           `json:"last_sync_at,omitzero"`
	LastError  string              `json:"last_error,omitempty"`
	Mappings   []state.FileMapping `json:"mappings,omitempty"`
}

// session bundles the per-directory collaborators. It replaces the
// process-wide "current directory / current watcher" globals of older
// generations of this tool: the scheduler owns one explicitly and a
// second scheduler can own another.
type session struct {
	dir        string
	ws         *Workspace
	watcher    *Watcher
	reconciler *Reconciler
	firstPass  bool
}

// Scheduler owns the polling cadence. It guarantees that passes never
// overlap, routes outcomes to the conflict tracker and the state store,
// and self-heals from remote outages by retrying on the next tick.
type Scheduler struct {
	interval time.Duration
	store    RemoteStore
	stateDB  *state.Store
	tracker  *Tracker
	logger   *slog.Logger

	// onPass, when set, is invoked after every completed pass.
	onPass func(*PassResult)

	// watchEvery overrides the watcher's sweep cadence when non-zero.
	watchEvery time.Duration

	mu        sync.Mutex
	st        SchedulerState
	lastErr   string
	sess      *session
	persisted state.SessionState
	inFlight  bool
	stopping  bool
	resumeCh  chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewScheduler creates a stopped scheduler. The state store's persisted
// session (if any) seeds the initial snapshot so a UI can show the last
// known mappings before syncing starts.
func NewScheduler(interval time.Duration, store RemoteStore, stateDB *state.Store, logger *slog.Logger) (*Scheduler, error) {
	persisted, err := stateDB.Session()
	if err != nil {
		return nil, fmt.Errorf("loading persisted session: %w", err)
	}

	return &Scheduler{
		interval:  interval,
		store:     store,
		stateDB:   stateDB,
		tracker:   NewTracker(),
		logger:    logger,
		st:        StateIdle,
		persisted: persisted,
	}, nil
}

// OnPass registers a completion callback invoked after every pass.
// Must be called before Start.
func (s *Scheduler) OnPass(fn func(*PassResult)) {
	s.onPass = fn
}

// WatchEvery sets the local watcher's sweep cadence. Must be called
// before Start; zero keeps the built-in default.
func (s *Scheduler) WatchEvery(d time.Duration) {
	s.watchEvery = d
}

// Tracker exposes the session's conflict tracker for read access.
func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

// Start begins syncing the given directory: an immediate pass, then a
// fixed-interval timer. Changing directory requires Stop first; the
// tracker's resolution memory does not carry across directories.
func (s *Scheduler) Start(ctx context.Context, dir string) error {
	s.mu.Lock()

	if s.sess != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	if s.persisted.Directory != "" && s.persisted.Directory != dir {
		// New directory invalidates remembered resolutions and the
		// prior mapping list.
		s.tracker.Reset()
		s.persisted.Mappings = nil
		s.persisted.HasCompletedInitialResolution = false
	}

	ws := NewWorkspace(dir)
	watcher := NewWatcher(ws, s.logger)
	mat := NewMaterializer(ws, s.logger)

	if s.watchEvery > 0 {
		watcher.sweep = s.watchEvery
	}

	sess := &session{
		dir:        dir,
		ws:         ws,
		watcher:    watcher,
		reconciler: NewReconciler(ws, s.store, mat, s.tracker, s.logger),
		firstPass:  true,
	}

	if err := watcher.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting watcher: %w", err)
	}

	s.sess = sess
	s.st = StateSyncing
	s.lastErr = ""
	s.persisted.Directory = dir
	s.resumeCh = make(chan struct{}, 1)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.stateDB.SetSession(s.persisted); err != nil {
		s.logger.Warn("persisting session", slog.String("error", err.Error()))
	}

	go s.loop(ctx)

	s.logger.Info("sync started",
		slog.String("dir", dir),
		slog.Duration("interval", s.interval),
	)

	return nil
}

// Stop ends the session. Safe to call mid-pass: the in-flight pass
// completes and its result is still applied before the loop exits. The
// conflict tracker is cleared (resolutions are session-scoped) but the
// persisted session state is preserved. Safe to call concurrently; one
// caller performs the shutdown and the rest return immediately.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	if s.sess == nil || s.stopping {
		s.mu.Unlock()
		return
	}

	s.stopping = true
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.stopping = false
	s.st = StateIdle
	s.mu.Unlock()

	sess.watcher.Stop()
	s.tracker.Reset()

	s.logger.Info("sync stopped", slog.String("dir", sess.dir))
}

// ResolveConflict records a human decision for one live conflict. The
// resolution is applied by the next pass; once every live conflict is
// resolved, call Resume to run it immediately.
func (s *Scheduler) ResolveConflict(name string, keepLocal bool) error {
	_, err := s.tracker.Resolve(name, keepLocal)
	if err != nil {
		return err
	}

	s.logger.Info("conflict resolved",
		slog.String("name", name),
		slog.Bool("keep_local", keepLocal),
	)

	return nil
}

// Resume re-invokes the pass after conflicts were resolved. It is the
// explicit transition ConflictPending -> Syncing; ticks alone do not
// leave ConflictPending.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil || s.st != StateConflictPending {
		return ErrNotConflictPending
	}

	if s.tracker.LiveCount() > 0 {
		return fmt.Errorf("%d conflicts still unresolved", s.tracker.LiveCount())
	}

	s.st = StateSyncing

	select {
	case s.resumeCh <- struct{}{}:
	default:
	}

	return nil
}

// Conflicts returns the live conflict set.
func (s *Scheduler) Conflicts() []Conflict {
	return s.tracker.Live()
}

// Status returns a snapshot of the session for readers. Mutation only
// ever happens on the scheduler's own goroutine at the end of a pass,
// so the snapshot is always a consistent post-pass view.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	mappings := make([]state.FileMapping, len(s.persisted.Mappings))
	copy(mappings, s.persisted.Mappings)

	return Status{
		State:      s.st,
		Running:    s.sess != nil,
		Directory:  s.persisted.Directory,
		LastSyncAt: s.persisted.LastSyncTimestamp,
		LastError:  s.lastErr,
		Mappings:   mappings,
	}
}

// loop drives the polling cadence: one immediate pass, then ticks.
// While ConflictPending the timer keeps firing but ticks are ignored;
// only Resume triggers the next pass.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.stopCh:
			return

		case <-s.resumeCh:
			s.tick(ctx)

		case <-ticker.C:
			s.mu.Lock()
			suspended := s.st == StateConflictPending
			s.mu.Unlock()

			if suspended {
				continue
			}

			s.tick(ctx)
		}
	}
}

// tick runs one pass unless another is already in flight, in which
// case it is skipped. This is the non-overlap invariant: at most one
// reconciliation executes at a time, enforced by a state check rather
// than by blocking.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()

	if s.inFlight || s.sess == nil {
		s.mu.Unlock()
		return
	}

	s.inFlight = true
	sess := s.sess
	wasConflictPending := s.st == StateConflictPending
	s.st = StateSyncing
	input := PassInput{
		Mappings:              s.persisted.Mappings,
		InitialResolutionDone: s.persisted.HasCompletedInitialResolution,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	changes := sess.watcher.Drain()
	if sess.firstPass {
		// No event history yet: a nil batch tells the engine to take a
		// full local listing. Events from the brief window between
		// watcher start and first pass are superseded by the listing.
		changes = nil
	} else if changes == nil {
		// Watcher history exists but nothing changed; keep that
		// distinct from "no history".
		changes = []LocalChange{}
	}
	input.Changes = changes

	result, err := sess.reconciler.Pass(ctx, input)
	if err != nil {
		s.mu.Lock()
		s.st = StateError
		s.lastErr = err.Error()
		s.mu.Unlock()

		s.logger.Warn("pass failed, will retry on next tick",
			slog.String("error", err.Error()),
		)

		return
	}

	s.applyResult(sess, result, wasConflictPending)
}

// applyResult folds a completed pass into the session record and the
// scheduler state, persists the record, and notifies the callback.
func (s *Scheduler) applyResult(sess *session, result *PassResult, wasConflictPending bool) {
	s.mu.Lock()

	sess.firstPass = false
	s.lastErr = ""
	s.persisted.Mappings = result.Mappings
	s.persisted.LastSyncTimestamp = time.Now()

	if result.Outcome == OutcomeConflictsPending {
		s.st = StateConflictPending
	} else {
		s.st = StateIdle

		// The first pass that completes cleanly after applying human
		// resolutions marks the end of the initial resolution phase;
		// from here on, new divergence auto-resolves by keeping local.
		if result.AppliedResolutions > 0 || wasConflictPending {
			s.persisted.HasCompletedInitialResolution = true
		}
	}

	snapshot := s.persisted
	s.mu.Unlock()

	if err := s.stateDB.SetSession(snapshot); err != nil {
		s.logger.Warn("persisting session", slog.String("error", err.Error()))
	}

	if s.onPass != nil {
		s.onPass(result)
	}
}
