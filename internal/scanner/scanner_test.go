package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, root string) []string {
	t.Helper()
	s := New(nil)
	var paths []string
	for res := range s.Scan(context.Background(), root) {
		require.NoError(t, res.Err)
		if res.File != nil {
			paths = append(paths, res.File.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

func TestScan_SkipsFixedSkipList(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	paths := collect(t, root)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "main.go")
}

func TestScan_SkipsDenyExtensions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "draft.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	paths := collect(t, root)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "notes.txt")
}

func TestScan_RecursesNestedDirectories(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "deep.md"), []byte("# hi"), 0o644))

	paths := collect(t, root)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "deep.md")
}

func TestScan_SymlinkFollowedOnce(t *testing.T) {
	root := t.TempDir()
	targetDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "shared.txt"), []byte("x"), 0o644))

	linkA := filepath.Join(root, "link_a")
	linkB := filepath.Join(root, "link_b")
	require.NoError(t, os.Symlink(targetDir, linkA))
	require.NoError(t, os.Symlink(targetDir, linkB))

	paths := collect(t, root)
	// Both links resolve to the same canonical target; it is only walked once.
	assert.Len(t, paths, 1)
}

func TestScan_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f"+string(rune('a'+i%26))+".txt"), []byte("x"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(nil)
	for range s.Scan(ctx, root) {
		// Drain; the walk should stop quickly without hanging.
	}
}

func TestScan_CustomSkipNames(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "lib.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644))

	s := New(&ScanOptions{SkipNames: []string{"vendor"}})
	var paths []string
	for res := range s.Scan(context.Background(), root) {
		require.NoError(t, res.Err)
		paths = append(paths, res.File.Path)
	}
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "main.go")
}
