package extract

import (
	"mime"
	"path/filepath"
	"strings"
)

// codeExtensions lists extensions routed to the tree-sitter code extractor
// (spec.md §4.1 code kind).
var codeExtensions = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "tsx",
	".js":   "javascript",
	".mjs":  "javascript",
	".jsx":  "jsx",
	".py":   "python",
	".rs":   "rust",
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".heic": true, ".tiff": true, ".tif": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".webm": true, ".mkv": true,
	".avi": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true,
	".aac": true,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".rtf": true, ".odt": true,
}

var spreadsheetExtensions = map[string]bool{
	".xls": true, ".xlsx": true, ".csv": true, ".ods": true,
}

var presentationExtensions = map[string]bool{
	".ppt": true, ".pptx": true, ".odp": true,
}

var archiveExtensions = map[string]bool{
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".7z": true,
	".rar": true, ".bz2": true, ".xz": true,
}

var databaseExtensions = map[string]bool{
	".db": true, ".sqlite": true, ".sqlite3": true,
}

// textExtensions are plain-text files classified as Document (spec.md §8
// scenario S1: a .txt file's kind is Document).
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".xml": true, ".html": true,
	".css": true, ".log": true,
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// SniffMIME returns a best-effort MIME type for ext, falling back to
// octet-stream rather than failing indexing over an unrecognized
// extension (spec.md §4.1 "extraction failure degrades to Unknown, never
// aborts the record").
func SniffMIME(path, ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// classifyByExtension returns the best Kind variant guess for ext alone;
// extractors refine Width/Height/Duration/etc. after opening the file.
func classifyByExtension(ext string) (variant string, ok bool) {
	switch {
	case codeExtensions[ext] != "":
		return "code", true
	case imageExtensions[ext]:
		return "image", true
	case videoExtensions[ext]:
		return "video", true
	case audioExtensions[ext]:
		return "audio", true
	case documentExtensions[ext]:
		return "document", true
	case spreadsheetExtensions[ext]:
		return "spreadsheet", true
	case presentationExtensions[ext]:
		return "presentation", true
	case archiveExtensions[ext]:
		return "archive", true
	case databaseExtensions[ext]:
		return "database", true
	case textExtensions[ext]:
		return "document", true
	}
	return "", false
}
