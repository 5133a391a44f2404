// ABOUTME: Workspace existence checks backed by a directory of workspace subdirectories
// ABOUTME: Validates workspace names so session requests cannot escape the root

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for workspace names that could escape the root.
var ErrInvalidName = errors.New("invalid workspace name")

// Root resolves workspace names against a base directory. A workspace exists
// iff a directory with that name exists directly under the root.
type Root struct {
	base string
}

// NewRoot creates a Root for the given base directory.
func NewRoot(base string) *Root {
	return &Root{base: base}
}

// validName rejects empty names, path separators, and dot traversal.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

// Exists reports whether the named workspace directory exists.
func (r *Root) Exists(name string) bool {
	if !validName(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(r.base, name))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Path returns the absolute directory for the named workspace.
// Fails with ErrInvalidName for names that validName rejects.
func (r *Root) Path(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(r.base, name), nil
}
