package extract

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/localfile/engine/internal/store"
)

// MediaExtractor reads container-level metadata (duration, dimensions) for
// video/audio files by walking MP4 boxes and RIFF (WAV/AVI) chunks directly
// — no codec library is involved, since decoding the actual audio/video
// streams is an external collaborator's concern (spec.md §1). OGG files
// are classified but not probed for duration: Ogg granule positions are
// codec-specific (Vorbis vs Opus sample rates differ), which would need
// exactly the kind of codec-internals knowledge spec.md excludes.
type MediaExtractor struct{}

// NewMediaExtractor constructs the container-probing extractor.
func NewMediaExtractor() *MediaExtractor { return &MediaExtractor{} }

func (m *MediaExtractor) Supports(ext, mimeType string) bool {
	return videoExtensions[ext] || audioExtensions[ext]
}

func (m *MediaExtractor) Extract(ctx context.Context, path string) (Result, error) {
	ext := extOf(path)
	variant := store.KindAudio
	if videoExtensions[ext] {
		variant = store.KindVideo
	}

	kind := store.Kind{Variant: variant, Format: ext[1:]}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	switch ext {
	case ".mp4", ".m4v", ".mov":
		if durMS, w, h, ok := probeMP4(f); ok {
			kind.DurationMS = durMS
			kind.Width = w
			kind.Height = h
		}
	case ".wav", ".avi":
		if durMS, w, h, ok := probeRIFF(f); ok {
			kind.DurationMS = durMS
			kind.Width = w
			kind.Height = h
		}
	}

	return Result{
		Kind: kind,
		Metadata: store.Metadata{
			Width:      kind.Width,
			Height:     kind.Height,
			DurationMS: kind.DurationMS,
		},
	}, nil
}

// probeMP4 walks top-level boxes looking for moov/mvhd (movie-level
// timescale+duration) and moov/trak/tkhd (track width/height).
func probeMP4(f *os.File) (durationMS int64, width, height int, ok bool) {
	var timescale, duration uint32
	header := make([]byte, 8)

	var walk func(end int64) bool
	walk = func(end int64) bool {
		for {
			pos, _ := f.Seek(0, io.SeekCurrent)
			if pos >= end {
				return true
			}
			if _, err := io.ReadFull(f, header); err != nil {
				return false
			}
			size := int64(binary.BigEndian.Uint32(header[0:4]))
			boxType := string(header[4:8])
			if size < 8 {
				return false
			}
			boxEnd := pos + size

			switch boxType {
			case "moov", "trak", "mdia":
				if !walk(boxEnd) {
					return false
				}
			case "mvhd":
				body := make([]byte, size-8)
				if _, err := io.ReadFull(f, body); err != nil {
					return false
				}
				version := body[0]
				if version == 1 {
					timescale = binary.BigEndian.Uint32(body[20:24])
					duration = uint32(binary.BigEndian.Uint64(body[24:32]))
				} else {
					timescale = binary.BigEndian.Uint32(body[12:16])
					duration = binary.BigEndian.Uint32(body[16:20])
				}
			case "tkhd":
				body := make([]byte, size-8)
				if _, err := io.ReadFull(f, body); err != nil {
					return false
				}
				if len(body) >= 84 {
					w := binary.BigEndian.Uint32(body[76:80]) >> 16
					h := binary.BigEndian.Uint32(body[80:84]) >> 16
					if w > 0 && h > 0 && width == 0 {
						width, height = int(w), int(h)
					}
				}
			default:
				if _, err := f.Seek(boxEnd, io.SeekStart); err != nil {
					return false
				}
			}

			if _, err := f.Seek(boxEnd, io.SeekStart); err != nil {
				return false
			}
		}
	}

	info, err := f.Stat()
	if err != nil {
		return 0, 0, 0, false
	}
	if !walk(info.Size()) {
		return 0, 0, 0, false
	}
	if timescale == 0 {
		return 0, width, height, width > 0
	}
	durationMS = int64(float64(duration) / float64(timescale) * 1000)
	return durationMS, width, height, true
}

// probeRIFF walks RIFF chunks for WAV ("fmt "+"data") and AVI ("avih").
func probeRIFF(f *os.File) (durationMS int64, width, height int, ok bool) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil || string(header[0:4]) != "RIFF" {
		return 0, 0, 0, false
	}
	riffType := string(header[8:12])

	var sampleRate, byteRate uint32
	var dataSize uint32
	found := false

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			break
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch {
		case riffType == "WAVE" && chunkID == "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, body); err != nil {
				return 0, 0, 0, false
			}
			if len(body) >= 16 {
				sampleRate = binary.LittleEndian.Uint32(body[4:8])
				byteRate = binary.LittleEndian.Uint32(body[8:12])
			}
			found = true
		case riffType == "WAVE" && chunkID == "data":
			dataSize = chunkSize
			if _, err := f.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return computeWAVDuration(dataSize, byteRate, sampleRate), width, height, found
			}
		case riffType == "AVI " && chunkID == "avih":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, body); err != nil {
				return 0, 0, 0, false
			}
			if len(body) >= 40 {
				microSecPerFrame := binary.LittleEndian.Uint32(body[0:4])
				totalFrames := binary.LittleEndian.Uint32(body[16:20])
				width = int(binary.LittleEndian.Uint32(body[32:36]))
				height = int(binary.LittleEndian.Uint32(body[36:40]))
				if microSecPerFrame > 0 {
					durationMS = int64(totalFrames) * int64(microSecPerFrame) / 1000
				}
			}
			found = true
		case riffType == "AVI " && chunkID == "LIST":
			// avih lives inside the hdrl list: descend into it, skip the others.
			listType := make([]byte, 4)
			if _, err := io.ReadFull(f, listType); err != nil {
				return durationMS, width, height, found
			}
			if string(listType) != "hdrl" {
				if _, err := f.Seek(int64(chunkSize)-4, io.SeekCurrent); err != nil {
					return durationMS, width, height, found
				}
			}
		default:
			if _, err := f.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return durationMS, width, height, found
			}
		}
		if chunkSize%2 == 1 {
			_, _ = f.Seek(1, io.SeekCurrent) // RIFF chunks are word-aligned
		}
	}

	if riffType == "WAVE" {
		return computeWAVDuration(dataSize, byteRate, sampleRate), width, height, found
	}
	return durationMS, width, height, found
}

func computeWAVDuration(dataSize, byteRate, sampleRate uint32) int64 {
	if byteRate == 0 {
		return 0
	}
	return int64(float64(dataSize) / float64(byteRate) * 1000)
}
