package embed

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
)

// phashGridSize is the side length of the luminance grid a perceptual hash
// is computed over (spec.md §4.4 "decode to a small fixed size, flatten,
// normalize"). 16x16 over two channels (luminance, local gradient)
// matches the engine's documented 512-dim image collection.
const phashGridSize = 16

// ImagePHashEmbedder produces a fixed-length vector from an image's
// perceptual hash, letting near-duplicate and visually-similar images land
// close together in the image vector collection without any ML model. No
// perceptual-hash library appears anywhere in the example pack, and the
// algorithm here (grayscale downsample plus a local-gradient channel) is
// simple enough that reaching for an out-of-pack dependency would add more
// than it saves.
type ImagePHashEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*ImagePHashEmbedder)(nil)

// NewImagePHashEmbedder constructs the perceptual-hash image embedder.
func NewImagePHashEmbedder() *ImagePHashEmbedder {
	return &ImagePHashEmbedder{}
}

// EmbedFile computes a perceptual embedding for the image at path. Unlike
// Embed (which takes text and is unused by this embedder), this is the
// entry point the image extraction pipeline calls directly.
func (e *ImagePHashEmbedder) EmbedFile(ctx context.Context, path string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	return normalizeVector(phashVector(img)), nil
}

// Embed satisfies Embedder for callers that route through the generic
// interface; text has no meaning for a perceptual hash, so it always
// returns an error directing callers to EmbedFile.
func (e *ImagePHashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("ImagePHashEmbedder requires EmbedFile, not Embed")
}

// EmbedBatch is unsupported; perceptual hashing works one image at a time.
func (e *ImagePHashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("ImagePHashEmbedder requires EmbedFile, not EmbedBatch")
}

// Dimensions returns the hash grid's flattened vector length: a luminance
// channel and a gradient channel over the grid (spec.md §4.4: image
// collection is 512-dim).
func (e *ImagePHashEmbedder) Dimensions() int { return phashGridSize * phashGridSize * 2 }

// ModelName returns the model identifier.
func (e *ImagePHashEmbedder) ModelName() string { return "image-phash" }

// Available reports whether the embedder has been closed.
func (e *ImagePHashEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder unavailable; there are no resources to release.
func (e *ImagePHashEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetBatchIndex is a no-op: perceptual hashing has no thermal profile.
func (e *ImagePHashEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op: perceptual hashing has no thermal profile.
func (e *ImagePHashEmbedder) SetFinalBatch(_ bool) {}

// phashVector downsamples img to a phashGridSize luminance grid and appends
// a second channel holding each cell's gradient magnitude against its right
// and bottom neighbors, so both flat-color regions and edges contribute to
// the similarity signal.
func phashVector(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	grid := make([][]float64, phashGridSize)
	for i := range grid {
		grid[i] = make([]float64, phashGridSize)
	}

	for gy := 0; gy < phashGridSize; gy++ {
		for gx := 0; gx < phashGridSize; gx++ {
			sx := bounds.Min.X + (gx*w)/phashGridSize
			sy := bounds.Min.Y + (gy*h)/phashGridSize
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Rec. 601 luma approximation, inputs are 16-bit per channel.
			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			grid[gy][gx] = lum / 65535.0
		}
	}

	vec := make([]float32, phashGridSize*phashGridSize*2)
	idx := 0
	for gy := 0; gy < phashGridSize; gy++ {
		for gx := 0; gx < phashGridSize; gx++ {
			vec[idx] = float32(grid[gy][gx])
			idx++

			var gradient float64
			if gx+1 < phashGridSize {
				gradient += abs(grid[gy][gx] - grid[gy][gx+1])
			}
			if gy+1 < phashGridSize {
				gradient += abs(grid[gy][gx] - grid[gy+1][gx])
			}
			vec[idx] = float32(gradient)
			idx++
		}
	}
	return vec
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
