package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/madebyisaacr/codesync/internal/state"
	"github.com/madebyisaacr/codesync/internal/syncerr"
	"github.com/madebyisaacr/codesync/remote"
)

// Reconciler runs one synchronization pass: snapshot the remote store,
// join it with the local view by name, classify every file, propagate
// non-conflicting changes, and rebuild the mapping list.
type Reconciler struct {
	ws      *Workspace
	store   RemoteStore
	mat     *Materializer
	tracker *Tracker
	logger  *slog.Logger
}

// NewReconciler creates a reconciler with the given dependencies.
func NewReconciler(ws *Workspace, store RemoteStore, mat *Materializer, tracker *Tracker, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ws:      ws,
		store:   store,
		mat:     mat,
		tracker: tracker,
		logger:  logger,
	}
}

// PassInput is everything one pass needs beyond the reconciler's own
// dependencies.
type PassInput struct {
	// Mappings is the prior mapping list from the session record.
	Mappings []state.FileMapping

	// Changes is the drained watcher batch. nil means no watcher
	// history exists yet (first pass of a session) and the engine
	// reads a full local listing instead. An empty non-nil slice means
	// "watcher running, nothing changed".
	Changes []LocalChange

	// InitialResolutionDone gates the conflict policy: false surfaces
	// conflicts for a human, true auto-resolves new divergence by
	// keeping local content.
	InitialResolutionDone bool
}

// localView is the pass's picture of the local side for one name.
type localView struct {
	content string
	present bool
	removed bool // a pending local deletion was drained this pass
}

// Pass executes one full reconciliation. Per-file failures are recorded
// in the result and never abort the pass; only the remote store being
// entirely unreachable (or the snapshot failing) aborts, and the caller
// retries on its next tick.
func (r *Reconciler) Pass(ctx context.Context, in PassInput) (*PassResult, error) {
	snapshot, err := r.store.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching remote snapshot: %w", err)
	}

	remoteByName := make(map[string]remote.File, len(snapshot))
	remoteNames := make(map[string]bool, len(snapshot))

	for _, rf := range snapshot {
		name := NormalizePath(rf.Name)
		remoteByName[name] = rf
		remoteNames[name] = true
	}

	priorNames := make(map[string]bool, len(in.Mappings))
	for _, m := range in.Mappings {
		priorNames[m.LocalPath] = true
	}

	local, err := r.buildLocalView(in.Changes, remoteByName, priorNames)
	if err != nil {
		return nil, err
	}

	result := &PassResult{
		Outcome:    OutcomeSynced,
		FileErrors: make(map[string]string),
	}

	var (
		writes   []Write
		pushes   []Write
		bothGone []string
	)

	for _, name := range joinedNames(remoteByName, local, priorNames) {
		rf, onRemote := remoteByName[name]
		lv := local[name]

		switch {
		case onRemote && !lv.present:
			if lv.removed {
				// Local deletion with the file still remote: deletions
				// are one-directional. The remote store stays the
				// authority for existence, so the local copy comes
				// back on the next pass (by then no pending deletion
				// is recorded for the name).
				r.logger.Info("local deletion ignored, remote copy is authoritative",
					slog.String("name", name),
				)

				continue
			}

			writes = append(writes, Write{Name: name, Content: rf.Content})

		case !onRemote && lv.present:
			pushes = append(pushes, Write{Name: name, Content: lv.content})

		case !onRemote && !lv.present:
			// A prior mapping with the name gone from both sides: the
			// only case where the remote store is asked to delete.
			if priorNames[name] {
				bothGone = append(bothGone, name)
			}

		default: // both present
			if Fingerprint(lv.content) == Fingerprint(rf.Content) {
				continue
			}

			r.classifyDivergence(name, rf, lv, in.InitialResolutionDone, result, &writes, &pushes)
		}
	}

	// The live set shrinks automatically when a previously conflicting
	// name stops diverging or loses a side (resolved-by-deletion).
	r.tracker.SetLive(result.Conflicts)

	if len(result.Conflicts) > 0 {
		result.Outcome = OutcomeConflictsPending
	}

	applied := r.mat.Apply(writes, nil, remoteNames)
	result.PulledToLocal = applied.Written

	for name, reason := range applied.Skipped {
		result.FileErrors[name] = reason
	}

	if err := r.pushAll(ctx, pushes, result); err != nil {
		return nil, err
	}

	for _, name := range bothGone {
		if err := r.store.Delete(ctx, name); err != nil {
			if errors.Is(err, syncerr.ErrRemoteUnavailable) {
				return nil, fmt.Errorf("purging deleted file: %w", err)
			}

			r.logger.Warn("purging deleted file",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
			result.FileErrors[name] = err.Error()
		}
	}

	if err := r.rebuildMappings(ctx, result); err != nil {
		return nil, err
	}

	r.logger.Info("pass complete",
		slog.String("outcome", string(result.Outcome)),
		slog.Int("pulled", len(result.PulledToLocal)),
		slog.Int("pushed", len(result.PushedToRemote)),
		slog.Int("conflicts", len(result.Conflicts)),
		slog.Int("file_errors", len(result.FileErrors)),
	)

	return result, nil
}

// buildLocalView assembles the pass's picture of the local side. With
// watcher history, drained changes are folded in order (last event per
// path wins) and any remote or prior-mapping name the events did not
// cover is read fresh from disk. Without history, the full workspace
// listing is the view.
func (r *Reconciler) buildLocalView(changes []LocalChange, remoteByName map[string]remote.File, priorNames map[string]bool) (map[string]localView, error) {
	local := make(map[string]localView)

	if changes == nil {
		listing, err := r.ws.ListFiles()
		if err != nil {
			return nil, fmt.Errorf("listing workspace: %w", err)
		}

		for name, content := range listing {
			local[name] = localView{content: content, present: true}
		}

		return local, nil
	}

	for _, ch := range changes {
		switch ch.Kind {
		case ChangeRemoved:
			local[ch.Path] = localView{removed: true}
		default:
			local[ch.Path] = localView{content: ch.Content, present: true}
		}
	}

	uncovered := make(map[string]bool, len(remoteByName)+len(priorNames))

	for name := range remoteByName {
		uncovered[name] = true
	}

	for name := range priorNames {
		uncovered[name] = true
	}

	for name := range uncovered {
		if _, covered := local[name]; covered {
			continue
		}

		content, err := r.ws.ReadFile(name)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			// Unreadable but existing: leave it out of the view so the
			// pass does not clobber it, and let the caller surface it.
			r.logger.Warn("reading local file",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		local[name] = localView{content: content, present: true}
	}

	return local, nil
}

// classifyDivergence handles a name present on both sides with
// different content: replay a remembered resolution, auto-resolve
// local-wins after the initial resolution, or surface a conflict.
func (r *Reconciler) classifyDivergence(name string, rf remote.File, lv localView, initialDone bool, result *PassResult, writes, pushes *[]Write) {
	if res, ok := r.tracker.Resolution(name); ok {
		switch {
		case res.SameDivergence(lv.content, rf.Content):
			// Same divergence as when the human decided; apply the
			// remembered choice without prompting.
			if res.KeepLocal {
				*pushes = append(*pushes, Write{Name: name, Content: res.Content})
			} else {
				*writes = append(*writes, Write{Name: name, Content: res.Content})
			}

			result.AppliedResolutions++

			return

		case lv.content == res.Content:
			// Local already carries the winner; finish by updating the
			// remote side.
			*pushes = append(*pushes, Write{Name: name, Content: res.Content})
			result.AppliedResolutions++

			return

		case rf.Content == res.Content:
			*writes = append(*writes, Write{Name: name, Content: res.Content})
			result.AppliedResolutions++

			return

		default:
			// Content moved on since the resolution: a new divergence.
			r.tracker.Forget(name)
		}
	}

	if initialDone {
		// After the user's first manual resolution the local
		// filesystem is trusted as the live editing surface; new
		// divergence keeps local without prompting.
		r.logger.Info("auto-resolving divergence, keeping local",
			slog.String("name", name),
		)
		*pushes = append(*pushes, Write{Name: name, Content: lv.content})
		result.AppliedResolutions++

		return
	}

	result.Conflicts = append(result.Conflicts, Conflict{
		RemoteID:      rf.ID,
		Name:          name,
		LocalContent:  lv.content,
		RemoteContent: rf.Content,
	})
}

// pushAll writes local content to the remote store. A rejected write is
// a per-file error; the store being unreachable aborts the pass.
func (r *Reconciler) pushAll(ctx context.Context, pushes []Write, result *PassResult) error {
	for _, p := range pushes {
		if err := r.store.CreateOrUpdate(ctx, p.Name, p.Content); err != nil {
			if errors.Is(err, syncerr.ErrRemoteUnavailable) {
				return fmt.Errorf("pushing local changes: %w", err)
			}

			r.logger.Warn("remote write rejected",
				slog.String("name", p.Name),
				slog.String("error", err.Error()),
			)
			result.FileErrors[p.Name] = err.Error()

			continue
		}

		result.PushedToRemote = append(result.PushedToRemote, p.Name)
	}

	return nil
}

// rebuildMappings re-snapshots the store after the apply phase and
// rebuilds the mapping list wholesale. Rebuilding (rather than patching
// the prior list) keeps mappings from ever drifting from the store's
// actual file list, and is the only way to learn the identities of
// files the pass just created remotely.
func (r *Reconciler) rebuildMappings(ctx context.Context, result *PassResult) error {
	snapshot, err := r.store.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("fetching post-apply snapshot: %w", err)
	}

	conflicted := make(map[string]bool, len(result.Conflicts))
	for _, c := range result.Conflicts {
		conflicted[c.Name] = true
	}

	now := time.Now()
	mappings := make([]state.FileMapping, 0, len(snapshot))

	for _, rf := range snapshot {
		name := NormalizePath(rf.Name)

		m := state.FileMapping{
			RemoteID:   rf.ID,
			LocalPath:  name,
			Status:     state.StatusSynced,
			LastSyncAt: now,
		}

		switch {
		case conflicted[name]:
			m.Status = state.StatusConflict
		case result.FileErrors[name] != "":
			m.Status = state.StatusError
			m.ErrorMessage = result.FileErrors[name]
		}

		mappings = append(mappings, m)
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].LocalPath < mappings[j].LocalPath
	})

	result.Mappings = mappings

	return nil
}

// joinedNames returns the sorted union of remote names, local names,
// and prior mapping names, so classification order is deterministic.
func joinedNames(remoteByName map[string]remote.File, local map[string]localView, prior map[string]bool) []string {
	set := make(map[string]bool, len(remoteByName)+len(local))

	for name := range remoteByName {
		set[name] = true
	}

	for name := range local {
		set[name] = true
	}

	for name := range prior {
		set[name] = true
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
