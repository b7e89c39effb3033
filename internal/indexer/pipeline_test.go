package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localfile/engine/internal/extract"
	"github.com/localfile/engine/internal/scanner"
	"github.com/localfile/engine/internal/store"
)

// fakeEmbedder is a deterministic, controllable Embedder stand-in so tests
// don't depend on network calls or the hash embedder's exact output.
type fakeEmbedder struct {
	dims      int
	failBatch bool
	failFor   map[string]bool // payload -> force Embed failure
}

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{dims: 8, failFor: map[string]bool{}} }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.failFor[text] {
		return nil, assert.AnError
	}
	return vecFor(text, f.dims), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.failBatch {
		return nil, assert.AnError
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vecFor(t, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                 { return f.dims }
func (f *fakeEmbedder) ModelName() string               { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                    { return nil }
func (f *fakeEmbedder) SetBatchIndex(_ int)             {}
func (f *fakeEmbedder) SetFinalBatch(_ bool)            {}

func vecFor(s string, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(len(s)%7) + float32(i)
	}
	return v
}

func newTestPipeline(t *testing.T) (*Pipeline, store.RecordStore, *fakeEmbedder) {
	t.Helper()
	records, err := store.NewSQLiteRecordStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	router := store.NewCollectionRouter(t.TempDir(), records)
	require.NoError(t, router.Open(store.CollectionText, 8))
	require.NoError(t, router.Open(store.CollectionCode, 8))
	require.NoError(t, router.Open(store.CollectionImage, 512))

	fe := newFakeEmbedder()
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.MaxConcurrency = 4
	cfg.ExtractTimeout = 5 * time.Second

	p := NewPipeline(records, router, extract.NewDispatcher(), fe, nil, nil, cfg)
	return p, records, fe
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPipeline_InitialRun_IndexesAllFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello world")
	writeFile(t, filepath.Join(dir, "b.txt"), "goodbye world")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}

	err := p.Run(context.Background(), &Job{Source: source, Mode: ModeInitial})
	require.NoError(t, err)

	paths, err := records.ListPathsUnderSource(context.Background(), "src1")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	snap, ok := p.Progress("src1")
	require.True(t, ok)
	assert.Equal(t, StageComplete, snap.Stage)
	assert.Equal(t, 2, snap.Processed)
}

func TestPipeline_HasChanged_NewPathIsAlwaysChanged(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	f := &scanner.DiscoveredFile{Path: "/nonexistent/path.txt", Size: 10, ModTime: time.Now()}

	changed, err := p.hasChanged(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestPipeline_Refresh_SkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello world")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}

	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeInitial}))

	before, err := records.GetRecordByPath(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeRefresh}))

	after, err := records.GetRecordByPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.IndexedAt, after.IndexedAt, "unchanged file should not be re-extracted")
}

func TestPipeline_Refresh_ReindexesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello world")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}
	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeInitial}))

	before, err := records.GetRecordByPath(context.Background(), path)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	writeFile(t, path, "hello world, changed and longer")

	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeRefresh}))

	after, err := records.GetRecordByPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "re-extraction keeps the same record identity")
	assert.NotEqual(t, before.Metadata.SizeBytes, after.Metadata.SizeBytes)
}

func TestPipeline_Refresh_ReconcilesDeletions(t *testing.T) {
	dir := t.TempDir()
	keepPath := filepath.Join(dir, "keep.txt")
	deletePath := filepath.Join(dir, "delete.txt")
	writeFile(t, keepPath, "keep me")
	writeFile(t, deletePath, "delete me")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}
	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeInitial}))

	paths, err := records.ListPathsUnderSource(context.Background(), "src1")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	require.NoError(t, os.Remove(deletePath))
	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeRefresh}))

	paths, err = records.ListPathsUnderSource(context.Background(), "src1")
	require.NoError(t, err)
	assert.Equal(t, []string{keepPath}, paths)
}

func TestPipeline_BatchExtractionFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	goodPath := filepath.Join(dir, "good.txt")
	writeFile(t, goodPath, "a real file")
	missingPath := filepath.Join(dir, "vanished.txt")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}

	// Build the batch directly (bypassing the scanner) so one entry points
	// at a path that was never written, forcing an extractor-level error
	// for that item only.
	batch := []*scanner.DiscoveredFile{
		{Path: goodPath, Size: 11, ModTime: time.Now()},
		{Path: missingPath, Size: 9, ModTime: time.Now()},
	}
	tracker := p.trackerFor(source.ID)

	err := p.processBatch(context.Background(), source, batch, tracker)
	require.NoError(t, err, "one item's extraction error must not fail the batch")

	rec, err := records.GetRecordByPath(context.Background(), goodPath)
	require.NoError(t, err)
	assert.Equal(t, goodPath, rec.Path)

	_, err = records.GetRecordByPath(context.Background(), missingPath)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestPipeline_CancelledContext_StopsBeforeNextBatch(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		writeFile(t, filepath.Join(dir, string(rune('a'+i))+".txt"), "content")
	}

	p, _, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, &Job{Source: source, Mode: ModeInitial})
	assert.Error(t, err)
}

func TestPipeline_SingleFileMode_IndexesOnePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.txt")
	writeFile(t, path, "just one file")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}

	err := p.Run(context.Background(), &Job{Source: source, Mode: ModeSingleFile, Path: path})
	require.NoError(t, err)

	rec, err := records.GetRecordByPath(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, rec.Path)
}

func TestPipeline_SingleFileMode_DeletesMissingPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	writeFile(t, path, "will vanish")

	p, records, _ := newTestPipeline(t)
	source := &store.Source{ID: "src1", Kind: store.SourceLocal, Root: dir}
	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeSingleFile, Path: path}))

	require.NoError(t, os.Remove(path))
	require.NoError(t, p.Run(context.Background(), &Job{Source: source, Mode: ModeSingleFile, Path: path}))

	_, err := records.GetRecordByPath(context.Background(), path)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestEmbeddingPayload_IncludesTitleTagsAndPreview(t *testing.T) {
	r := &store.Record{
		Path:     "/x/y.txt",
		Metadata: store.Metadata{Title: "My Title", TextPreview: "some preview text"},
		Tags:     []store.Tag{{Name: "project/demo", Kind: store.TagUser}},
	}
	payload := embeddingPayload(r)
	assert.Contains(t, payload, "My Title")
	assert.Contains(t, payload, "project/demo")
	assert.Contains(t, payload, "some preview text")
}
