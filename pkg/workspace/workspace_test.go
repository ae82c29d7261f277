package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	base := t.TempDir()
	template := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(template, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(template, "package.json"),
		[]byte(`{"scripts":{"build":"next build","start":"next start"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(template, "app", "layout.tsx"),
		[]byte("export default function Layout() {}"), 0o644))

	m, err := NewManager(base, template)
	require.NoError(t, err)
	return m, base, template
}

func TestMaterializeOverlaysTemplate(t *testing.T) {
	m, _, _ := newTestManager(t)

	dir, err := m.Materialize("run-1", map[string]string{
		"app/page.tsx":    "export default function Page() {}",
		"lib/helpers.ts":  "export const x = 1",
		"app/layout.tsx":  "overlay wins",
	})
	require.NoError(t, err)

	// Template files present.
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "next build")

	// Generated files present, parents created.
	_, err = os.Stat(filepath.Join(dir, "lib", "helpers.ts"))
	assert.NoError(t, err)

	// Overlay wins on conflict.
	data, err = os.ReadFile(filepath.Join(dir, "app", "layout.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "overlay wins", string(data))
}

func TestRemoveLeavesNoTrace(t *testing.T) {
	m, base, _ := newTestManager(t)

	_, err := m.Materialize("run-2", map[string]string{"app/page.tsx": "x"})
	require.NoError(t, err)

	require.NoError(t, m.Remove("run-2"))
	_, err = os.Stat(filepath.Join(base, "run-2"))
	assert.True(t, os.IsNotExist(err))

	// Idempotent.
	assert.NoError(t, m.Remove("run-2"))
}

func TestUnsafePathsRejected(t *testing.T) {
	m, base, _ := newTestManager(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "parent traversal", path: "../escape.txt"},
		{name: "nested traversal", path: "app/../../escape.txt"},
		{name: "absolute path", path: "/etc/passwd"},
		{name: "empty path", path: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Materialize("run-3", map[string]string{tt.path: "x"})
			assert.True(t, errdefs.IsUnsafePath(err), "expected unsafe path error, got %v", err)

			// Failed materialization leaves nothing behind.
			_, err = os.Stat(filepath.Join(base, "run-3"))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSymlinkComponentRejected(t *testing.T) {
	base := t.TempDir()
	template := t.TempDir()
	outside := t.TempDir()

	// Template ships a symlink pointing outside the workspace.
	require.NoError(t, os.Symlink(outside, filepath.Join(template, "static")))

	m, err := NewManager(base, template)
	require.NoError(t, err)

	_, err = m.Materialize("run-4", map[string]string{"static/evil.txt": "x"})
	assert.True(t, errdefs.IsUnsafePath(err), "expected unsafe path error, got %v", err)

	// Nothing written through the link.
	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNestedTemplateSymlinkRejected(t *testing.T) {
	base := t.TempDir()
	template := t.TempDir()
	outside := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(template, "public"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(template, "public", "assets")))

	m, err := NewManager(base, template)
	require.NoError(t, err)

	_, err = m.Materialize("run-5", map[string]string{"public/assets/logo.svg": "x"})
	assert.True(t, errdefs.IsUnsafePath(err), "expected unsafe path error, got %v", err)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
