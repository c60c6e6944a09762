package syncer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/madebyisaacr/codesync/internal/logging"
	"github.com/madebyisaacr/codesync/internal/state"
	"github.com/madebyisaacr/codesync/internal/syncerr"
)

// --- classification ---

func TestPassPullsRemoteOnlyFiles(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("readme.md", "# hello")
	h.store.seed("src/main.ts", "console.log(1)")

	result := h.pass(t, PassInput{})

	assert.Equal(t, OutcomeSynced, result.Outcome)
	assert.ElementsMatch(t, []string{"readme.md", "src/main.ts"}, result.PulledToLocal)
	assert.Empty(t, result.PushedToRemote)

	content, err := h.ws.ReadFile("src/main.ts")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", content)

	require.Len(t, result.Mappings, 2)
	for _, m := range result.Mappings {
		assert.Equal(t, state.StatusSynced, m.Status)
		assert.NotEmpty(t, m.RemoteID)
	}
}

func TestPassPushesLocalOnlyFiles(t *testing.T) {
	h := newPassHarness(t)
	require.NoError(t, h.ws.WriteFile("notes.md", "local draft"))

	result := h.pass(t, PassInput{})

	assert.Equal(t, []string{"notes.md"}, result.PushedToRemote)
	assert.Empty(t, result.PulledToLocal)

	content, ok := h.store.content("notes.md")
	require.True(t, ok)
	assert.Equal(t, "local draft", content)

	// The new remote identity shows up in the rebuilt mapping list.
	require.Len(t, result.Mappings, 1)
	assert.Equal(t, "notes.md", result.Mappings[0].LocalPath)
	assert.NotEmpty(t, result.Mappings[0].RemoteID)
}

func TestPassFirstSyncMergesBothSides(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("remote.md", "from store")
	require.NoError(t, h.ws.WriteFile("local.md", "from disk"))

	result := h.pass(t, PassInput{})

	assert.Equal(t, OutcomeSynced, result.Outcome)
	assert.Equal(t, []string{"remote.md"}, result.PulledToLocal)
	assert.Equal(t, []string{"local.md"}, result.PushedToRemote)
	assert.Len(t, result.Mappings, 2)
}

func TestPassIdenticalContentIsNoop(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("same.md", "identical")
	require.NoError(t, h.ws.WriteFile("same.md", "identical"))

	result := h.pass(t, PassInput{})

	assert.Empty(t, result.PulledToLocal)
	assert.Empty(t, result.PushedToRemote)
	assert.Empty(t, result.Conflicts)
}

func TestPassIsIdempotent(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("a.md", "alpha")
	require.NoError(t, h.ws.WriteFile("b.md", "beta"))

	first := h.pass(t, PassInput{})
	second := h.pass(t, PassInput{Mappings: first.Mappings})

	assert.Empty(t, second.PulledToLocal)
	assert.Empty(t, second.PushedToRemote)

	require.Len(t, second.Mappings, len(first.Mappings))
	for i, m := range second.Mappings {
		assert.Equal(t, first.Mappings[i].RemoteID, m.RemoteID)
		assert.Equal(t, first.Mappings[i].LocalPath, m.LocalPath)
		assert.Equal(t, first.Mappings[i].Status, m.Status)
	}
}

// --- conflicts ---

func TestPassSurfacesDivergenceAsConflict(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "remote version")
	require.NoError(t, h.ws.WriteFile("doc.md", "local version"))

	result := h.pass(t, PassInput{})

	assert.Equal(t, OutcomeConflictsPending, result.Outcome)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "doc.md", result.Conflicts[0].Name)
	assert.Equal(t, "local version", result.Conflicts[0].LocalContent)
	assert.Equal(t, "remote version", result.Conflicts[0].RemoteContent)

	// Neither side is touched while the conflict stands.
	content, _ := h.store.content("doc.md")
	assert.Equal(t, "remote version", content)
	local, err := h.ws.ReadFile("doc.md")
	require.NoError(t, err)
	assert.Equal(t, "local version", local)

	require.Len(t, result.Mappings, 1)
	assert.Equal(t, state.StatusConflict, result.Mappings[0].Status)
	assert.Equal(t, 1, h.tracker.LiveCount())
}

func TestPassAppliesKeepLocalResolution(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "remote version")
	require.NoError(t, h.ws.WriteFile("doc.md", "local version"))

	first := h.pass(t, PassInput{})
	require.Equal(t, OutcomeConflictsPending, first.Outcome)

	_, err := h.tracker.Resolve("doc.md", true)
	require.NoError(t, err)

	second := h.pass(t, PassInput{Mappings: first.Mappings})

	assert.Equal(t, OutcomeSynced, second.Outcome)
	assert.Equal(t, 1, second.AppliedResolutions)

	content, _ := h.store.content("doc.md")
	assert.Equal(t, "local version", content)
	assert.Equal(t, 0, h.tracker.LiveCount())
}

func TestPassAppliesKeepRemoteResolution(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "remote version")
	require.NoError(t, h.ws.WriteFile("doc.md", "local version"))

	first := h.pass(t, PassInput{})
	require.Equal(t, OutcomeConflictsPending, first.Outcome)

	_, err := h.tracker.Resolve("doc.md", false)
	require.NoError(t, err)

	second := h.pass(t, PassInput{Mappings: first.Mappings})

	assert.Equal(t, OutcomeSynced, second.Outcome)

	local, err := h.ws.ReadFile("doc.md")
	require.NoError(t, err)
	assert.Equal(t, "remote version", local)
}

func TestPassNewDivergenceAfterResolutionConflictsAgain(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "remote v1")
	require.NoError(t, h.ws.WriteFile("doc.md", "local v1"))

	first := h.pass(t, PassInput{})
	_, err := h.tracker.Resolve("doc.md", true)
	require.NoError(t, err)

	second := h.pass(t, PassInput{Mappings: first.Mappings})
	require.Equal(t, OutcomeSynced, second.Outcome)

	// Both sides move on after the resolution: a fresh divergence.
	require.NoError(t, h.ws.WriteFile("doc.md", "local v2"))
	h.store.seed("doc.md", "remote v2")

	third := h.pass(t, PassInput{Mappings: second.Mappings})

	assert.Equal(t, OutcomeConflictsPending, third.Outcome)
	require.Len(t, third.Conflicts, 1)
	assert.False(t, h.tracker.IsResolved("doc.md"))
}

func TestPassAutoResolvesKeepLocalAfterInitialResolution(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "remote edit")
	require.NoError(t, h.ws.WriteFile("doc.md", "local edit"))

	result := h.pass(t, PassInput{InitialResolutionDone: true})

	assert.Equal(t, OutcomeSynced, result.Outcome)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, 1, result.AppliedResolutions)

	content, _ := h.store.content("doc.md")
	assert.Equal(t, "local edit", content)
}

func TestPassConflictResolvedByRemoteDeletion(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "remote version")
	require.NoError(t, h.ws.WriteFile("doc.md", "local version"))

	first := h.pass(t, PassInput{})
	require.Equal(t, 1, h.tracker.LiveCount())

	// The remote copy vanishes before anyone resolves: the surviving
	// local side wins without a prompt, via a plain push.
	h.store.remove("doc.md")

	second := h.pass(t, PassInput{Mappings: first.Mappings})

	assert.Equal(t, OutcomeSynced, second.Outcome)
	assert.Equal(t, []string{"doc.md"}, second.PushedToRemote)
	assert.Equal(t, 0, h.tracker.LiveCount())
}

// --- deletions ---

func TestPassLocalDeletionNeverDeletesRemote(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("keep.md", "content")
	require.NoError(t, h.ws.WriteFile("keep.md", "content"))

	first := h.pass(t, PassInput{})
	require.NoError(t, h.ws.DeleteFile("keep.md"))

	// The watcher reports the deletion; the remote copy must survive
	// and the pull is deferred, not performed against the tombstone.
	second := h.pass(t, PassInput{
		Mappings: first.Mappings,
		Changes:  []LocalChange{{Kind: ChangeRemoved, Path: "keep.md"}},
	})

	_, ok := h.store.content("keep.md")
	assert.True(t, ok)
	assert.Empty(t, second.PulledToLocal)

	// Next pass has no pending deletion for the name, so the remote
	// copy is restored to disk.
	third := h.pass(t, PassInput{
		Mappings: second.Mappings,
		Changes:  []LocalChange{},
	})

	assert.Equal(t, []string{"keep.md"}, third.PulledToLocal)
	local, err := h.ws.ReadFile("keep.md")
	require.NoError(t, err)
	assert.Equal(t, "content", local)
}

func TestPassRemoteDeletionWithLocalCopyRepushes(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("doc.md", "content")
	require.NoError(t, h.ws.WriteFile("doc.md", "content"))

	first := h.pass(t, PassInput{})
	h.store.remove("doc.md")

	// No local change events; the file is still on disk, so it is
	// local-only now and goes back up rather than being destroyed.
	second := h.pass(t, PassInput{
		Mappings: first.Mappings,
		Changes:  []LocalChange{},
	})

	assert.Equal(t, []string{"doc.md"}, second.PushedToRemote)
	_, ok := h.store.content("doc.md")
	assert.True(t, ok)
}

func TestPassDropsMappingWhenGoneFromBothSides(t *testing.T) {
	h := newPassHarness(t)
	h.store.seed("old.md", "x")
	require.NoError(t, h.ws.WriteFile("old.md", "x"))

	first := h.pass(t, PassInput{})
	require.Len(t, first.Mappings, 1)

	h.store.remove("old.md")
	require.NoError(t, h.ws.DeleteFile("old.md"))

	second := h.pass(t, PassInput{
		Mappings: first.Mappings,
		Changes:  []LocalChange{{Kind: ChangeRemoved, Path: "old.md"}},
	})

	assert.Empty(t, second.Mappings)
	assert.Empty(t, second.FileErrors)
}

// --- watcher history ---

func TestPassUsesDrainedChangesAsLocalView(t *testing.T) {
	h := newPassHarness(t)
	require.NoError(t, h.ws.WriteFile("edited.md", "new content"))

	result := h.pass(t, PassInput{
		Changes: []LocalChange{
			{Kind: ChangeAdded, Path: "edited.md", Content: "new content"},
		},
	})

	assert.Equal(t, []string{"edited.md"}, result.PushedToRemote)
}

func TestPassLastChangePerPathWins(t *testing.T) {
	h := newPassHarness(t)
	require.NoError(t, h.ws.WriteFile("burst.md", "final"))

	result := h.pass(t, PassInput{
		Changes: []LocalChange{
			{Kind: ChangeAdded, Path: "burst.md", Content: "draft"},
			{Kind: ChangeModified, Path: "burst.md", Content: "final"},
		},
	})

	require.Equal(t, []string{"burst.md"}, result.PushedToRemote)
	content, _ := h.store.content("burst.md")
	assert.Equal(t, "final", content)
}

// --- error handling ---

func TestPassAbortsWhenRemoteUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockRemoteStore(ctrl)
	mock.EXPECT().ListFiles(gomock.Any()).Return(nil, errStoreDown)

	ws := NewWorkspace(t.TempDir())
	logger := logging.Discard()
	rec := NewReconciler(ws, mock, NewMaterializer(ws, logger), NewTracker(), logger)

	_, err := rec.Pass(context.Background(), PassInput{})

	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrRemoteUnavailable)
}

func TestPassAbortsWhenPushHitsOutage(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockRemoteStore(ctrl)
	mock.EXPECT().ListFiles(gomock.Any()).Return(nil, nil)
	mock.EXPECT().CreateOrUpdate(gomock.Any(), "up.md", "x").Return(errStoreDown)

	ws := NewWorkspace(t.TempDir())
	require.NoError(t, ws.WriteFile("up.md", "x"))

	logger := logging.Discard()
	rec := NewReconciler(ws, mock, NewMaterializer(ws, logger), NewTracker(), logger)

	_, err := rec.Pass(context.Background(), PassInput{})
	assert.ErrorIs(t, err, syncerr.ErrRemoteUnavailable)
}

func TestPassRecordsRejectedWriteAndContinues(t *testing.T) {
	h := newPassHarness(t)
	require.NoError(t, h.ws.WriteFile("bad.md", "x"))
	require.NoError(t, h.ws.WriteFile("good.md", "y"))
	h.store.reject["bad.md"] = fmt.Errorf("%w: 422 content rejected", syncerr.ErrRemoteError)

	result := h.pass(t, PassInput{})

	assert.Equal(t, []string{"good.md"}, result.PushedToRemote)
	assert.Contains(t, result.FileErrors, "bad.md")
	assert.Equal(t, OutcomeSynced, result.Outcome)
}
