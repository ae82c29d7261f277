// Package workspace manages per-run scratch directories: a fixed project
// template overlaid with the files a model generated. Directories are
// lifecycle-bound to the run and removed on any terminal transition.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/arenabench/arena/pkg/errdefs"
)

// Manager materializes and removes run workspaces under a base directory.
type Manager struct {
	base     string
	template string
}

// NewManager creates a workspace manager rooted at base. template is the
// project skeleton copied into every workspace; an empty template path
// skips the copy.
func NewManager(base, template string) (*Manager, error) {
	if base == "" {
		return nil, fmt.Errorf("workspace base must not be empty")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base: %w", err)
	}
	return &Manager{base: base, template: template}, nil
}

// Dir returns the workspace directory for a run without creating it.
func (m *Manager) Dir(runID string) string {
	return filepath.Join(m.base, runID)
}

// Materialize creates the run's workspace: template tree first, then the
// generated files on top. The overlay wins on conflict and parent
// directories are created as needed. Any unsafe relative path aborts the
// whole materialization.
func (m *Manager) Materialize(runID string, files map[string]string) (string, error) {
	dir := m.Dir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	if m.template != "" {
		if err := copyTree(m.template, dir); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("failed to copy template: %w", err)
		}
	}

	for rel, content := range files {
		dst, err := m.safeJoin(dir, rel)
		if err != nil {
			_ = os.RemoveAll(dir)
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("failed to create parent for %s: %w", rel, err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}

	return dir, nil
}

// Remove deletes the run's workspace recursively. Removing a missing
// workspace is a no-op.
func (m *Manager) Remove(runID string) error {
	if err := os.RemoveAll(m.Dir(runID)); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

// safeJoin resolves rel under root, rejecting absolute paths, parent
// traversal, and paths that cross a symlink component. Generated code is
// untrusted input; a hostile path must not escape the workspace.
func (m *Manager) safeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", errdefs.ErrUnsafePath)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, string(filepath.Separator)) {
		return "", fmt.Errorf("%w: absolute path %q", errdefs.ErrUnsafePath, rel)
	}

	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: parent traversal in %q", errdefs.ErrUnsafePath, rel)
	}

	// The template may legitimately contain symlinks pointing outside the
	// tree; refuse to write through any of them. copyTree skips template
	// symlinks, so a symlinked component is absent from the workspace and
	// must be checked against the template itself.
	parts := strings.Split(clean, string(filepath.Separator))
	cur := root
	tpl := m.template
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		switch {
		case err == nil:
			if fi.Mode()&os.ModeSymlink != 0 {
				return "", fmt.Errorf("%w: symlink component in %q", errdefs.ErrUnsafePath, rel)
			}
		case !os.IsNotExist(err):
			return "", fmt.Errorf("failed to stat %s: %w", cur, err)
		}

		if tpl == "" {
			continue
		}
		tpl = filepath.Join(tpl, part)
		tfi, err := os.Lstat(tpl)
		switch {
		case err == nil:
			if tfi.Mode()&os.ModeSymlink != 0 {
				return "", fmt.Errorf("%w: symlink component in %q", errdefs.ErrUnsafePath, rel)
			}
		case os.IsNotExist(err):
			tpl = "" // rest of the path is outside the template tree
		default:
			return "", fmt.Errorf("failed to stat %s: %w", tpl, err)
		}
	}

	return filepath.Join(root, clean), nil
}

// copyTree copies src into dst recursively, preserving regular files and
// directories only. Symlinks in the template are skipped rather than
// followed.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
