package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Scanner discovers files under a root, skipping the fixed skip list and
// guarding against symlink cycles. Grounded on the teacher's
// filepath.WalkDir-based traversal (internal/index/coordinator.go's
// Lstat-before-follow pattern), generalized from a gitignore-driven walk to
// the fixed skip-list policy and from code/markdown-only discovery to every
// file kind the engine can classify.
type Scanner struct {
	skipNames      map[string]struct{}
	denyExtensions map[string]struct{}

	mu      sync.Mutex
	visited map[string]struct{} // canonical symlink targets already followed
}

// New creates a Scanner. A nil opts falls back to the package defaults.
func New(opts *ScanOptions) *Scanner {
	skip := DefaultSkipNames
	deny := DefaultDenyExtensions
	if opts != nil {
		if len(opts.SkipNames) > 0 {
			skip = opts.SkipNames
		}
		if len(opts.DenyExtensions) > 0 {
			deny = opts.DenyExtensions
		}
	}

	skipSet := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipSet[s] = struct{}{}
	}
	denySet := make(map[string]struct{}, len(deny))
	for _, e := range deny {
		denySet[strings.ToLower(e)] = struct{}{}
	}

	return &Scanner{
		skipNames:      skipSet,
		denyExtensions: denySet,
		visited:        make(map[string]struct{}),
	}
}

// Scan walks root and streams every indexable file over the returned
// channel. The channel is closed once the walk finishes or ctx is
// cancelled. A symlink is followed at most once per resolved target: the
// teacher's device+inode cycle guard (internal/index/coordinator.go) is
// expressed here as canonical-path dedup via filepath.EvalSymlinks, which
// is portable across platforms without a platform-specific syscall.Stat_t.
func (s *Scanner) Scan(ctx context.Context, root string) <-chan ScanResult {
	results := make(chan ScanResult, 64)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		go func() {
			defer close(results)
			results <- ScanResult{Err: err}
		}()
		return results
	}

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, results)
	}()

	return results
}

func (s *Scanner) walk(ctx context.Context, root string, results chan<- ScanResult) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			// Inaccessible entry: skip it rather than abort the whole walk.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && s.shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return s.handleSymlink(ctx, path, results)
		}

		if s.shouldSkipFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		return emit(ctx, results, &DiscoveredFile{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Err: err}:
		case <-ctx.Done():
		}
	}
}

// handleSymlink resolves the link target and, if not already followed,
// emits it (files) or walks it as a fresh subtree (directories).
func (s *Scanner) handleSymlink(ctx context.Context, path string, results chan<- ScanResult) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil // broken symlink, skip
	}

	s.mu.Lock()
	if _, seen := s.visited[real]; seen {
		s.mu.Unlock()
		return nil
	}
	s.visited[real] = struct{}{}
	s.mu.Unlock()

	info, err := os.Stat(real)
	if err != nil {
		return nil
	}

	if info.IsDir() {
		s.walk(ctx, real, results)
		return nil
	}

	if s.shouldSkipFile(real) {
		return nil
	}

	return emit(ctx, results, &DiscoveredFile{
		Path:    path, // keep the symlink's own path as the record's identity
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
}

func (s *Scanner) shouldSkipDir(name string) bool {
	_, skip := s.skipNames[name]
	return skip
}

func (s *Scanner) shouldSkipFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.ToLower(filepath.Base(path))
	if base == ".ds_store" {
		return true
	}
	_, deny := s.denyExtensions[ext]
	return deny
}

func emit(ctx context.Context, results chan<- ScanResult, f *DiscoveredFile) error {
	select {
	case results <- ScanResult{File: f}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
