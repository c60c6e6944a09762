package syncer

import (
	"errors"
	"sync"
)

// ErrNoSuchConflict is returned for a resolution that names a file not
// in the live conflict set (already resolved, or gone from one side
// since detection).
var ErrNoSuchConflict = errors.New("no live conflict for that file")

// Resolution is a recorded human decision for one conflict. It keeps a
// snapshot of both sides as they were at detection time so the engine
// can tell a re-detected divergence apart from a new one.
type Resolution struct {
	Name      string
	KeepLocal bool

	// Content is the winning side's content, to be written to the
	// losing side by the next pass.
	Content string

	// localAtDetection/remoteAtDetection are the divergence snapshot.
	localAtDetection  string
	remoteAtDetection string
}

// SameDivergence reports whether the given contents match the
// divergence this resolution settled. A pass re-detecting the same
// divergence applies the remembered choice without prompting; anything
// else is a new divergence.
func (r Resolution) SameDivergence(localContent, remoteContent string) bool {
	return localContent == r.localAtDetection && remoteContent == r.remoteAtDetection
}

// Tracker records human conflict resolutions for the current sync
// session. Resolutions are scoped to the session: Reset clears them
// when syncing stops or the watched directory changes.
type Tracker struct {
	mu       sync.Mutex
	live     map[string]Conflict
	resolved map[string]Resolution
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		live:     make(map[string]Conflict),
		resolved: make(map[string]Resolution),
	}
}

// SetLive replaces the live conflict set with the conflicts detected by
// the latest pass. A previously live conflict absent from the new set
// (one side disappeared, or it no longer diverges) simply drops out --
// resolved-by-deletion needs no prompt and no record.
func (t *Tracker) SetLive(conflicts []Conflict) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live = make(map[string]Conflict, len(conflicts))
	for _, c := range conflicts {
		t.live[c.Name] = c
	}
}

// Live returns a copy of the current live conflict set.
func (t *Tracker) Live() []Conflict {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Conflict, 0, len(t.live))
	for _, c := range t.live {
		out = append(out, c)
	}

	return out
}

// LiveCount returns the number of unresolved conflicts.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.live)
}

// Resolve records the choice for a live conflict and returns the
// resolution carrying the content to write to the losing side. Stale
// input (a name with no live conflict) returns ErrNoSuchConflict and
// records nothing.
func (t *Tracker) Resolve(name string, keepLocal bool) (Resolution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.live[name]
	if !ok {
		return Resolution{}, ErrNoSuchConflict
	}

	res := Resolution{
		Name:              name,
		KeepLocal:         keepLocal,
		localAtDetection:  c.LocalContent,
		remoteAtDetection: c.RemoteContent,
	}
	if keepLocal {
		res.Content = c.LocalContent
	} else {
		res.Content = c.RemoteContent
	}

	delete(t.live, name)
	t.resolved[name] = res

	return res, nil
}

// IsResolved reports whether a resolution is remembered for the name.
func (t *Tracker) IsResolved(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.resolved[name]

	return ok
}

// Resolution returns the remembered resolution for a name, if any.
func (t *Tracker) Resolution(name string) (Resolution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok := t.resolved[name]

	return res, ok
}

// Resolved returns a copy of all remembered resolutions.
func (t *Tracker) Resolved() []Resolution {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Resolution, 0, len(t.resolved))
	for _, res := range t.resolved {
		out = append(out, res)
	}

	return out
}

// Forget drops the remembered resolution for a name. Called by the
// engine when it detects a new divergence after the resolution was
// applied, so the file can conflict again.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.resolved, name)
}

// Reset clears all live conflicts and remembered resolutions. Called
// when the user stops syncing or changes the watched directory.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live = make(map[string]Conflict)
	t.resolved = make(map[string]Resolution)
}
