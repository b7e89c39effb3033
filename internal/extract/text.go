package extract

import (
	"bufio"
	"context"
	"os"
	"unicode"
	"unicode/utf8"

	"github.com/localfile/engine/internal/store"
)

// maxTextPreviewChars bounds how much of a text file is read into
// Metadata.TextPreview (spec.md §4.1 "text preview").
const maxTextPreviewChars = 2000

// maxTextScanBytes caps how much of a file TextExtractor reads at all, so
// a multi-gigabyte log file doesn't stall the pipeline (spec.md §4.1
// "a hung extractor must not stall the whole pipeline").
const maxTextScanBytes = 8 << 20 // 8 MiB

// TextExtractor produces Metadata.TextPreview/WordCount for plain-text
// files, and a bare Document kind (no deep parsing) for binary document
// formats whose decoding is an external collaborator's concern (PDF,
// legacy Office formats — spec.md §1 "image/video/PDF decoding libraries"
// are explicitly out of scope for the core).
type TextExtractor struct{}

// NewTextExtractor constructs the catch-all text/document extractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// Supports is the catch-all: TextExtractor is always last in the
// dispatcher chain, handling everything code/image/media did not claim.
func (t *TextExtractor) Supports(ext, mimeType string) bool {
	return true
}

func (t *TextExtractor) Extract(ctx context.Context, path string) (Result, error) {
	ext := extOf(path)
	variant, known := classifyByExtension(ext)
	if !known {
		variant = "document"
	}

	res := Result{Kind: store.Kind{Variant: store.KindVariant(variant)}}

	if !textExtensions[ext] {
		// Binary document/spreadsheet/presentation/archive/database format:
		// record the classification without decoding contents.
		return res, nil
	}

	preview, words, err := scanTextFile(path)
	if err != nil {
		// Soft failure: keep the Document kind, no preview (spec.md §4.1
		// failure taxonomy — extraction failure never aborts the record).
		return res, nil
	}
	res.Metadata.TextPreview = preview
	res.Metadata.WordCount = words
	return res, nil
}

func scanTextFile(path string) (preview string, wordCount int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	buf := make([]byte, 0, maxTextScanBytes)
	chunk := make([]byte, 64*1024)
	for len(buf) < maxTextScanBytes {
		n, readErr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	if len(buf) > maxTextPreviewChars {
		preview = string(buf[:maxTextPreviewChars])
	} else {
		preview = string(buf)
	}

	scan := buf
	inWord := false
	for len(scan) > 0 {
		r, size := utf8.DecodeRune(scan)
		if r == utf8.RuneError && size <= 1 {
			scan = scan[1:]
			continue
		}
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			wordCount++
		}
		scan = scan[size:]
	}

	return preview, wordCount, nil
}
