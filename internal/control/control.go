// Package control registers MCP tools that drive the sync engine. It
// adapts the syncer package to the MCP SDK's tool handler interface so
// editors and agents can start syncing, inspect state, and resolve
// conflicts over HTTP.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/madebyisaacr/codesync/syncer"
)

// RegisterTools adds all sync control tools to the given MCP server.
func RegisterTools(server *mcp.Server, s *syncer.Scheduler) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Current sync state, watched directory, last sync time, and the per-file mapping list with statuses.",
	}, statusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_start",
		Description: "Start syncing a local directory against the remote store. Runs an immediate pass, then polls on a fixed interval. Fails if a session is already running.",
	}, startHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_stop",
		Description: "Stop the running sync session. An in-flight pass completes first. Session state is preserved for the next start.",
	}, stopHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_conflicts",
		Description: "List unresolved conflicts with both sides' content and a human-readable diff. Each conflict is surfaced exactly once per divergence.",
	}, conflictsHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_resolve",
		Description: "Resolve one conflict by choosing the winning side ('local' or 'remote'). The choice is applied by the next pass.",
	}, resolveHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_resume",
		Description: "Resume syncing after every conflict has been resolved. Fails while conflicts remain unresolved.",
	}, resumeHandler(s))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// StartInput holds parameters for sync_start.
type StartInput struct {
	Directory string `json:"directory" jsonschema:"required,absolute or relative path of the local directory to sync"`
}

// StopInput has no parameters.
type StopInput struct{}

// ConflictsInput has no parameters.
type ConflictsInput struct{}

// ResolveInput holds parameters for sync_resolve.
type ResolveInput struct {
	Name string `json:"name" jsonschema:"required,conflicted file path as listed by sync_conflicts"`
	Keep string `json:"keep" jsonschema:"required,winning side: 'local' or 'remote'"`
}

// ResumeInput has no parameters.
type ResumeInput struct{}

// --- Result types ---

// StartResult reports the session that was started.
type StartResult struct {
	Directory string `json:"directory"`
	State     string `json:"state"`
}

// StopResult reports that the session ended.
type StopResult struct {
	Stopped bool `json:"stopped"`
}

// ConflictSummary is one unresolved conflict with a display diff.
type ConflictSummary struct {
	Name          string `json:"name"`
	RemoteID      string `json:"remote_id"`
	LocalContent  string `json:"local_content"`
	RemoteContent string `json:"remote_content"`
	Diff          string `json:"diff"`
}

// ConflictsResult lists the live conflict set.
type ConflictsResult struct {
	Conflicts []ConflictSummary `json:"conflicts"`
}

// ResolveResult reports one applied resolution.
type ResolveResult struct {
	Name      string `json:"name"`
	Kept      string `json:"kept"`
	Remaining int    `json:"remaining"`
}

// ResumeResult reports the post-resume state.
type ResumeResult struct {
	State string `json:"state"`
}

// --- Handlers ---

func statusHandler(s *syncer.Scheduler) mcp.ToolHandlerFor[StatusInput, *syncer.Status] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *syncer.Status, error) {
		status := s.Status()
		return textResult(status), &status, nil
	}
}

func startHandler(s *syncer.Scheduler) mcp.ToolHandlerFor[StartInput, *StartResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input StartInput) (*mcp.CallToolResult, *StartResult, error) {
		if input.Directory == "" {
			return nil, nil, fmt.Errorf("directory is required")
		}

		dir, err := filepath.Abs(input.Directory)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving directory: %w", err)
		}

		// The session must outlive this tool call, so it is not bound
		// to the request context.
		if err := s.Start(context.WithoutCancel(ctx), dir); err != nil {
			return nil, nil, err
		}

		result := &StartResult{Directory: dir, State: string(s.Status().State)}
		return textResult(result), result, nil
	}
}

func stopHandler(s *syncer.Scheduler) mcp.ToolHandlerFor[StopInput, *StopResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StopInput) (*mcp.CallToolResult, *StopResult, error) {
		s.Stop()

		result := &StopResult{Stopped: true}
		return textResult(result), result, nil
	}
}

func conflictsHandler(s *syncer.Scheduler) mcp.ToolHandlerFor[ConflictsInput, *ConflictsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ConflictsInput) (*mcp.CallToolResult, *ConflictsResult, error) {
		live := s.Conflicts()

		result := &ConflictsResult{Conflicts: make([]ConflictSummary, 0, len(live))}
		for _, c := range live {
			result.Conflicts = append(result.Conflicts, ConflictSummary{
				Name:          c.Name,
				RemoteID:      c.RemoteID,
				LocalContent:  c.LocalContent,
				RemoteContent: c.RemoteContent,
				Diff:          c.Diff(),
			})
		}

		return textResult(result), result, nil
	}
}

func resolveHandler(s *syncer.Scheduler) mcp.ToolHandlerFor[ResolveInput, *ResolveResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, *ResolveResult, error) {
		var keepLocal bool

		switch input.Keep {
		case "local":
			keepLocal = true
		case "remote":
			keepLocal = false
		default:
			return nil, nil, fmt.Errorf("keep must be 'local' or 'remote', got %q", input.Keep)
		}

		if err := s.ResolveConflict(input.Name, keepLocal); err != nil {
			return nil, nil, err
		}

		result := &ResolveResult{
			Name:      input.Name,
			Kept:      input.Keep,
			Remaining: len(s.Conflicts()),
		}

		return textResult(result), result, nil
	}
}

func resumeHandler(s *syncer.Scheduler) mcp.ToolHandlerFor[ResumeInput, *ResumeResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ResumeInput) (*mcp.CallToolResult, *ResumeResult, error) {
		if err := s.Resume(); err != nil {
			return nil, nil, err
		}

		result := &ResumeResult{State: string(s.Status().State)}
		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
