package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/madebyisaacr/codesync/internal/logging"
	"github.com/madebyisaacr/codesync/internal/state"
	"github.com/madebyisaacr/codesync/internal/syncerr"
	"github.com/madebyisaacr/codesync/remote"
)

// fakeStore is an in-memory RemoteStore with the same observable
// behavior as the HTTP client: deleting a missing file succeeds, and
// creating a file assigns a fresh identity.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int
	files     map[string]remote.File
	reject    map[string]error
	listErr   error
	listDelay time.Duration
	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:  make(map[string]remote.File),
		reject: make(map[string]error),
	}
}

func (f *fakeStore) seed(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.files[name] = remote.File{
		ID:      fmt.Sprintf("f%03d", f.nextID),
		Name:    name,
		Content: content,
	}
}

func (f *fakeStore) content(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rf, ok := f.files[name]

	return rf.Content, ok
}

func (f *fakeStore) remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files, name)
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listCalls
}

func (f *fakeStore) ListFiles(_ context.Context) ([]remote.File, error) {
	f.mu.Lock()
	f.listCalls++
	delay := f.listDelay

	if f.listErr != nil {
		err := f.listErr
		f.mu.Unlock()

		return nil, err
	}

	out := make([]remote.File, 0, len(f.files))
	for _, rf := range f.files {
		out = append(out, rf)
	}
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (f *fakeStore) CreateOrUpdate(_ context.Context, name, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.reject[name]; err != nil {
		return err
	}

	rf, ok := f.files[name]
	if !ok {
		f.nextID++
		rf = remote.File{ID: fmt.Sprintf("f%03d", f.nextID), Name: name}
	}

	rf.Content = content
	f.files[name] = rf

	return nil
}

func (f *fakeStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// The HTTP client treats a 404 on delete as success, so a missing
	// name is not an error here either.
	delete(f.files, name)

	return nil
}

var errStoreDown = fmt.Errorf("%w: connection refused", syncerr.ErrRemoteUnavailable)

// passHarness bundles one reconciler with its workspace and tracker.
type passHarness struct {
	rec     *Reconciler
	ws      *Workspace
	tracker *Tracker
	store   *fakeStore
}

func newPassHarness(t *testing.T) *passHarness {
	t.Helper()

	ws := NewWorkspace(t.TempDir())
	logger := logging.Discard()
	tracker := NewTracker()
	store := newFakeStore()

	return &passHarness{
		rec:     NewReconciler(ws, store, NewMaterializer(ws, logger), tracker, logger),
		ws:      ws,
		tracker: tracker,
		store:   store,
	}
}

func (h *passHarness) pass(t *testing.T, in PassInput) *PassResult {
	t.Helper()

	result, err := h.rec.Pass(context.Background(), in)
	require.NoError(t, err)

	return result
}

func newTestStateStore(t *testing.T) *state.Store {
	t.Helper()

	db, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
