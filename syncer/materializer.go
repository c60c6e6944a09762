package syncer

import (
	"log/slog"
)

// Write is one pending local write: full content under a name.
type Write struct {
	Name    string
	Content string
}

// ApplyResult reports the outcome of one materialization batch.
type ApplyResult struct {
	// Written lists names whose content reached disk.
	Written []string

	// Skipped maps names that could not be written or deleted to the
	// failure reason. A skip never aborts the batch.
	Skipped map[string]string

	// Deleted lists names removed from disk.
	Deleted []string
}

// Materializer applies a batch of writes and deletions to the local
// directory through the workspace.
type Materializer struct {
	ws     *Workspace
	logger *slog.Logger
}

// NewMaterializer creates a materializer over the given workspace.
func NewMaterializer(ws *Workspace, logger *slog.Logger) *Materializer {
	return &Materializer{ws: ws, logger: logger}
}

// Apply performs the writes, then the deletions. Parent directories are
// created as needed. A write that fails is recorded as skipped and the
// batch continues. Deletions are refused for any name still present in
// remoteNames: a stale listing must never be able to destroy a file
// the remote store still has.
func (m *Materializer) Apply(writes []Write, deletions []string, remoteNames map[string]bool) ApplyResult {
	result := ApplyResult{Skipped: make(map[string]string)}

	for _, wr := range writes {
		if err := m.ws.WriteFile(wr.Name, wr.Content); err != nil {
			m.logger.Warn("materialize write failed",
				slog.String("name", wr.Name),
				slog.String("error", err.Error()),
			)
			result.Skipped[wr.Name] = err.Error()

			continue
		}

		result.Written = append(result.Written, wr.Name)
	}

	for _, name := range deletions {
		if remoteNames[name] {
			m.logger.Warn("refusing to delete name still present remotely",
				slog.String("name", name),
			)
			result.Skipped[name] = "still present in remote snapshot"

			continue
		}

		if err := m.ws.DeleteFile(name); err != nil {
			m.logger.Warn("materialize delete failed",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
			result.Skipped[name] = err.Error()

			continue
		}

		result.Deleted = append(result.Deleted, name)
	}

	return result
}
