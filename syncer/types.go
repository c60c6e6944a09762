// Package syncer implements the bidirectional synchronization engine:
// a filesystem watcher, a directory materializer, the reconciliation
// pass, conflict-resolution memory, and the polling scheduler that ties
// them together around a remote document store.
package syncer

import (
	"context"
	"time"

	"github.com/madebyisaacr/codesync/internal/state"
	"github.com/madebyisaacr/codesync/remote"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// RemoteStore is the subset of the document store client the engine
// needs. Extracted for testability; remote.Client implements it.
type RemoteStore interface {
	ListFiles(ctx context.Context) ([]remote.File, error)
	CreateOrUpdate(ctx context.Context, name, content string) error
	Delete(ctx context.Context, name string) error
}

// ChangeKind classifies a local filesystem change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// LocalChange is one file-level event observed by the watcher. Content
// is empty for removals. Path is normalized and relative to the watched
// root.
type LocalChange struct {
	Kind       ChangeKind
	Path       string
	Content    string
	ObservedAt time.Time
}

// Conflict is a file whose content differs between the local and remote
// stores at classification time. It exists only between detection and
// resolution; neither side is touched while it is live.
type Conflict struct {
	RemoteID      string `json:"remote_id"`
	Name          string `json:"name"`
	LocalContent  string `json:"local_content"`
	RemoteContent string `json:"remote_content"`
}

// Diff renders a human-readable diff of the two sides, local as the
// "before" text. Display only; resolution is always whole-file.
func (c Conflict) Diff() string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(c.LocalContent, c.RemoteContent, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	return dmp.DiffPrettyText(diffs)
}

// PassOutcome is the top-level result of one reconciliation pass.
type PassOutcome string

const (
	// OutcomeSynced means the pass completed and every non-erroring
	// file is reconciled.
	OutcomeSynced PassOutcome = "synced"

	// OutcomeConflictsPending means divergent files need a human
	// decision before they can be propagated. Non-conflicting files
	// were still propagated normally.
	OutcomeConflictsPending PassOutcome = "conflicts_pending"
)

// PassResult reports what one reconciliation pass did.
type PassResult struct {
	Outcome PassOutcome

	// PulledToLocal lists names materialized from the remote snapshot.
	PulledToLocal []string

	// PushedToRemote lists names written to the remote store.
	PushedToRemote []string

	// Conflicts is the divergent file set when Outcome is
	// OutcomeConflictsPending.
	Conflicts []Conflict

	// AppliedResolutions counts conflicts settled this pass from
	// remembered resolutions (including the local-wins policy after
	// the initial resolution is complete).
	AppliedResolutions int

	// Mappings is the full mapping list rebuilt from the post-apply
	// remote snapshot.
	Mappings []state.FileMapping

	// FileErrors records per-file failures that did not abort the
	// pass, keyed by name.
	FileErrors map[string]string
}
