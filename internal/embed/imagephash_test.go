package embed

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSolidPNG(t *testing.T, path string, c color.Color, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestImagePHashEmbedder_Dimensions(t *testing.T) {
	e := NewImagePHashEmbedder()
	assert.Equal(t, 512, e.Dimensions())
}

func TestImagePHashEmbedder_EmbedFile_SimilarImagesAreCloser(t *testing.T) {
	dir := t.TempDir()
	whitePath := filepath.Join(dir, "white.png")
	offWhitePath := filepath.Join(dir, "offwhite.png")
	blackPath := filepath.Join(dir, "black.png")

	writeSolidPNG(t, whitePath, color.White, 64, 64)
	writeSolidPNG(t, offWhitePath, color.Gray{Y: 240}, 64, 64)
	writeSolidPNG(t, blackPath, color.Black, 64, 64)

	e := NewImagePHashEmbedder()
	ctx := context.Background()

	white, err := e.EmbedFile(ctx, whitePath)
	require.NoError(t, err)
	offWhite, err := e.EmbedFile(ctx, offWhitePath)
	require.NoError(t, err)
	black, err := e.EmbedFile(ctx, blackPath)
	require.NoError(t, err)

	require.Len(t, white, 512)

	simNear := cosineSimilarity(white, offWhite)
	simFar := cosineSimilarity(white, black)
	assert.Greater(t, simNear, simFar)
}

func TestImagePHashEmbedder_EmbedFile_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solid.png")
	writeSolidPNG(t, path, color.RGBA{R: 10, G: 200, B: 90, A: 255}, 32, 32)

	e := NewImagePHashEmbedder()
	ctx := context.Background()

	first, err := e.EmbedFile(ctx, path)
	require.NoError(t, err)
	second, err := e.EmbedFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestImagePHashEmbedder_Embed_RequiresEmbedFile(t *testing.T) {
	e := NewImagePHashEmbedder()
	_, err := e.Embed(context.Background(), "some text")
	assert.Error(t, err)
}

func TestImagePHashEmbedder_CloseMarksUnavailable(t *testing.T) {
	e := NewImagePHashEmbedder()
	assert.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))

	_, err := e.EmbedFile(context.Background(), "/nonexistent")
	assert.Error(t, err)
}
