package syncer

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/madebyisaacr/codesync/internal/syncerr"
)

// Workspace provides thread-safe filesystem operations on the synced
// directory. All writes are serialized by an exclusive lock; reads take
// a shared lock so they never observe a partial write. The watcher,
// materializer, and reconciler all go through this type for file access.
type Workspace struct {
	dir string
	mu  sync.RWMutex
}

// NewWorkspace creates a Workspace rooted at the given directory, which
// must be an absolute path (resolved at config load time).
func NewWorkspace(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Dir returns the root directory of the workspace.
func (w *Workspace) Dir() string {
	return w.dir
}

// ReadFile reads a file by relative path.
func (w *Workspace) ReadFile(relPath string) (string, error) {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return "", err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// WriteFile writes content to a file by relative path, creating parent
// directories as needed.
func (w *Workspace) WriteFile(relPath, content string) error {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %v", syncerr.ErrLocalIO, relPath, err)
	}

	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", syncerr.ErrLocalIO, relPath, err)
	}

	return nil
}

// DeleteFile removes a file by relative path. Returns nil if the file
// does not exist.
func (w *Workspace) DeleteFile(relPath string) error {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", syncerr.ErrLocalIO, relPath, err)
	}

	return nil
}

// Stat returns file info for a relative path.
func (w *Workspace) Stat(relPath string) (os.FileInfo, error) {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	return os.Stat(absPath)
}

// ListFiles walks the workspace and returns every file's content keyed
// by normalized relative path. Hidden files and directories, editor
// droppings, node_modules, and symlinks are skipped, matching the
// watcher's ignore rules. Used for the first pass of a session, before
// any watcher event history exists.
func (w *Workspace) ListFiles() (map[string]string, error) {
	result := make(map[string]string)

	err := filepath.WalkDir(w.dir, func(absPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(w.dir, absPath)
		if err != nil {
			return err
		}

		if relPath == "." {
			return nil
		}

		if ignoredName(filepath.Base(absPath)) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		// Skip symlinks so a link cannot pull in files outside the
		// workspace or special files that hang on read.
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		content, err := w.ReadFile(NormalizePath(relPath))
		if err != nil {
			// Deleted between walk and read; treat as absent.
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("reading %s: %w", relPath, err)
		}

		result[NormalizePath(relPath)] = content

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}

	return result, nil
}

// resolve converts a relative path to an absolute path within the
// workspace, rejecting path traversal attempts.
func (w *Workspace) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}

	absPath := filepath.Join(w.dir, relPath)
	if !strings.HasPrefix(absPath, w.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside workspace", relPath)
	}

	return absPath, nil
}

// ignoredName reports whether a file or directory name is excluded from
// sync: dot-prefixed paths, editor droppings, and node_modules.
func ignoredName(base string) bool {
	if strings.HasPrefix(base, ".") {
		return true
	}

	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return true
	}

	return base == "node_modules"
}

// NormalizePath replaces non-breaking spaces with regular spaces,
// collapses repeated slashes, trims leading/trailing slashes, and
// applies Unicode NFC normalization. Call this on every path entering
// the system: watcher events, workspace listings, and remote names.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\u00A0", " ")
	path = strings.ReplaceAll(path, "\u202F", " ")
	path = filepath.ToSlash(path)

	var b strings.Builder

	prevSlash := false

	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteRune(r)
	}

	return norm.NFC.String(strings.Trim(b.String(), "/"))
}

// Fingerprint returns a short content digest used for change detection
// and idempotence checks. Identical content always yields an identical
// fingerprint; nothing else is promised.
func Fingerprint(content string) string {
	sum := blake2b.Sum256([]byte(content))

	return hex.EncodeToString(sum[:])
}
