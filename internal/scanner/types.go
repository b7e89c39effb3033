// Package scanner discovers indexable files under a source root: a
// depth-first walk honoring the fixed skip list and a symlink-cycle guard
// (spec.md §3 invariant 5, §4.5 step 1).
package scanner

import "time"

// DiscoveredFile is one file found during a walk, carrying just enough
// stat data for the indexer's change decision (spec.md §4.5 step 2) without
// re-stating the file a second time.
type DiscoveredFile struct {
	Path    string // absolute; a symlinked file keeps the link's own path
	Size    int64
	ModTime time.Time
}

// ScanOptions configures a single walk.
type ScanOptions struct {
	// RootDir is the absolute source root to walk.
	RootDir string

	// SkipNames are directory basenames pruned entirely, wherever they
	// occur in the tree (spec.md §3 invariant 5). Defaults to
	// DefaultSkipNames when nil.
	SkipNames []string

	// DenyExtensions are file extensions (lowercase, with leading dot)
	// excluded from discovery regardless of content — the "extension
	// allow-list" of spec.md §4.5 step 1, expressed as a short denylist of
	// noise/temp extensions rather than an enumerated allow-list, since
	// the engine otherwise indexes every recognized-or-not file kind
	// (including arbitrary binary formats). Defaults to DefaultDenyExtensions
	// when nil.
	DenyExtensions []string
}

// DefaultSkipNames is the fixed skip list: paths containing any of these
// segments are neither indexed nor watched (spec.md §3 invariant 5).
var DefaultSkipNames = []string{
	".git", "node_modules", ".venv", "__pycache__", "target", "build",
	"dist", ".cache",
}

// DefaultDenyExtensions excludes editor/OS noise that is never worth a
// Record: swap files, lock files, and macOS Finder metadata.
var DefaultDenyExtensions = []string{
	".swp", ".swo", ".tmp", ".lock", ".ds_store",
}

// ScanResult streams one discovered file, or a non-fatal walk error, over
// the Scan channel.
type ScanResult struct {
	File *DiscoveredFile
	Err  error
}
