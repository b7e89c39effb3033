package thumbnail

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/localfile/engine/internal/store"
)

// jpegQuality matches the teacher's default preview quality elsewhere in
// the stack; no dependency in the example pack does image resizing, and
// nearest-neighbor sampling over image.Image.At is already the technique
// the Perceptual Image Embedder uses (internal/embed/imagephash.go), so
// the same stdlib-only approach is used here rather than reaching for an
// out-of-pack resize library.
const jpegQuality = 85

// ImageGenerator produces JPEG thumbnails for image-kind sources by
// decoding with the standard library's image package and nearest-neighbor
// downsampling to size×size.
type ImageGenerator struct{}

var _ Generator = ImageGenerator{}

// Generate implements Generator for image files. Non-image kinds return
// ErrUnsupportedSource so the Facade can fall back to a kind-appropriate
// placeholder.
func (ImageGenerator) Generate(ctx context.Context, path string, size int) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = f.Close() }()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}

	resized := resizeNearest(src, size, size)

	buf := make([]byte, 0, size*size/4)
	w := &byteSliceWriter{buf: buf}
	if err := jpeg.Encode(w, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return w.buf, "image/jpeg", nil
}

// resizeNearest scales src to exactly w×h using nearest-neighbor sampling,
// preserving aspect ratio by letterboxing onto a white canvas.
func resizeNearest(src image.Image, w, h int) image.Image {
	bounds := src.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	if sw == 0 || sh == 0 {
		return image.NewRGBA(image.Rect(0, 0, w, h))
	}

	scale := float64(w) / float64(sw)
	if s := float64(h) / float64(sh); s < scale {
		scale = s
	}
	dw := int(float64(sw) * scale)
	dh := int(float64(sh) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, color.White)
		}
	}

	offX := (w - dw) / 2
	offY := (h - dh) / 2
	for dy := 0; dy < dh; dy++ {
		sy := bounds.Min.Y + (dy*sh)/dh
		for dx := 0; dx < dw; dx++ {
			sx := bounds.Min.X + (dx*sw)/dw
			dst.Set(offX+dx, offY+dy, src.At(sx, sy))
		}
	}
	return dst
}

type byteSliceWriter struct{ buf []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// PlaceholderGenerator renders a flat-color square for kinds with no
// visual preview (audio, archive, database, code, documents without a
// rendered first page), so the Facade's get_thumbnail never has to special
// case "no thumbnail" at the wire layer.
type PlaceholderGenerator struct {
	Colors map[store.KindVariant]color.RGBA
}

var _ Generator = PlaceholderGenerator{}

func (p PlaceholderGenerator) Generate(ctx context.Context, path string, size int) ([]byte, string, error) {
	c, ok := p.Colors[store.KindUnknown]
	if !ok {
		c = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	buf := &byteSliceWriter{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.buf, "image/jpeg", nil
}
