// Package syncerr defines the error taxonomy shared by the remote
// client and the sync engine. Callers classify failures with errors.Is
// rather than string matching.
package syncerr

import "errors"

// Remote store errors.
var (
	// ErrRemoteUnavailable means the remote store could not be reached
	// at all (connection failure or timeout). The scheduler treats it
	// as a pass-level failure and retries on the next tick.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrRemoteError means the remote store was reached but rejected
	// the request. Per-file; never aborts the rest of a pass.
	ErrRemoteError = errors.New("remote store rejected request")
)

// Local filesystem errors.
var (
	// ErrLocalIO means a local read or write failed (permissions,
	// disk). The affected file's mapping is downgraded to error status
	// and the pass continues.
	ErrLocalIO = errors.New("local filesystem operation failed")
)
