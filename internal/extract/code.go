package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/localfile/engine/internal/store"
)

// codeLangConfig mirrors the node-type tables a language-aware chunker
// needs, generalized here to just the three things spec.md §4.1 asks for:
// imports, exports, and top-level function names.
type codeLangConfig struct {
	lang *sitter.Language

	importTypes  []string // node types that introduce an import
	funcTypes    []string // function/method declaration node types
	exportTypes  []string // node types that mark a declaration as exported (TS/JS)
}

// CodeExtractor parses source files with tree-sitter and extracts
// import/export/function lists plus a line count (spec.md §4.1 Code kind).
// Unsupported languages still yield a Code kind with just LineCount set.
type CodeExtractor struct {
	mu      sync.Mutex // tree-sitter Parser is not safe for concurrent use
	parser  *sitter.Parser
	configs map[string]codeLangConfig
}

// NewCodeExtractor builds the default extractor for Go, TypeScript, TSX,
// JavaScript, Python, and Rust.
func NewCodeExtractor() *CodeExtractor {
	return &CodeExtractor{
		parser: sitter.NewParser(),
		configs: map[string]codeLangConfig{
			"go": {
				lang:        golang.GetLanguage(),
				importTypes: []string{"import_spec"},
				funcTypes:   []string{"function_declaration", "method_declaration"},
			},
			"typescript": {
				lang:        typescript.GetLanguage(),
				importTypes: []string{"import_statement"},
				funcTypes:   []string{"function_declaration", "method_definition"},
				exportTypes: []string{"export_statement"},
			},
			"tsx": {
				lang:        tsx.GetLanguage(),
				importTypes: []string{"import_statement"},
				funcTypes:   []string{"function_declaration", "method_definition"},
				exportTypes: []string{"export_statement"},
			},
			"javascript": {
				lang:        javascript.GetLanguage(),
				importTypes: []string{"import_statement"},
				funcTypes:   []string{"function_declaration", "method_definition", "function"},
				exportTypes: []string{"export_statement"},
			},
			"python": {
				lang:        python.GetLanguage(),
				importTypes: []string{"import_statement", "import_from_statement"},
				funcTypes:   []string{"function_definition"},
			},
			"rust": {
				lang:        rust.GetLanguage(),
				importTypes: []string{"use_declaration"},
				funcTypes:   []string{"function_item"},
				exportTypes: []string{"visibility_modifier"},
			},
		},
	}
}

func (c *CodeExtractor) Supports(ext, mimeType string) bool {
	_, ok := codeExtensions[ext]
	return ok
}

func (c *CodeExtractor) Extract(ctx context.Context, path string) (Result, error) {
	lang := codeExtensions[extOf(path)]
	source, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read source: %w", err)
	}

	lineCount := bytes.Count(source, []byte("\n")) + 1

	cfg, ok := c.configs[lang]
	if !ok {
		return Result{
			Kind: store.Kind{Variant: store.KindCode, Language: lang, LineCount: lineCount},
		}, nil
	}

	c.mu.Lock()
	c.parser.SetLanguage(cfg.lang)
	tree, parseErr := c.parser.ParseCtx(ctx, nil, source)
	c.mu.Unlock()
	if parseErr != nil || tree == nil {
		// Soft failure per spec.md §4.1: still a Code kind, just no symbols.
		return Result{
			Kind: store.Kind{Variant: store.KindCode, Language: lang, LineCount: lineCount},
		}, nil
	}

	root := tree.RootNode()
	imports := collectImports(root, source, cfg, lang)
	functions := collectFunctions(root, source, cfg)
	exports := collectExports(root, source, cfg, lang)

	return Result{
		Kind: store.Kind{Variant: store.KindCode, Language: lang, LineCount: lineCount},
		Metadata: store.Metadata{
			Code: &store.CodeInfo{
				Imports:   imports,
				Exports:   exports,
				Functions: functions,
			},
		},
	}, nil
}

func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func nodeText(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	start, end := n.StartByte(), n.EndByte()
	if start >= end || int(end) > len(source) {
		return ""
	}
	return string(source[start:end])
}

func isImportType(t string, types []string) bool {
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

func collectImports(root *sitter.Node, source []byte, cfg codeLangConfig, lang string) []string {
	var out []string
	seen := make(map[string]bool)
	walk(root, func(n *sitter.Node) bool {
		if isImportType(n.Type(), cfg.importTypes) {
			path := extractImportPath(n, source, lang)
			if path != "" && !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
		return true
	})
	return out
}

func extractImportPath(n *sitter.Node, source []byte, lang string) string {
	switch lang {
	case "go":
		// import_spec -> interpreted_string_literal child holds the path
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "interpreted_string_literal" {
				return strings.Trim(nodeText(child, source), `"`)
			}
		}
	case "typescript", "tsx", "javascript":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "string" {
				return strings.Trim(nodeText(child, source), `"'`)
			}
		}
	case "python":
		return strings.TrimSpace(nodeText(n, source))
	case "rust":
		return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(nodeText(n, source)), "use "), ";")
	}
	return ""
}

func collectFunctions(root *sitter.Node, source []byte, cfg codeLangConfig) []string {
	var out []string
	walk(root, func(n *sitter.Node) bool {
		if isImportType(n.Type(), cfg.funcTypes) {
			if name := functionName(n, source); name != "" {
				out = append(out, name)
			}
		}
		return true
	})
	return out
}

func functionName(n *sitter.Node, source []byte) string {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "identifier", "field_identifier", "property_identifier":
			return nodeText(child, source)
		}
	}
	return ""
}

// collectExports identifies exported/public top-level functions. Go has no
// export keyword (capitalized identifiers are exported); TS/JS/Rust mark
// exports explicitly.
func collectExports(root *sitter.Node, source []byte, cfg codeLangConfig, lang string) []string {
	var out []string
	if lang == "go" {
		walk(root, func(n *sitter.Node) bool {
			if isImportType(n.Type(), cfg.funcTypes) {
				name := functionName(n, source)
				if name != "" && len(name) > 0 && strings.ToUpper(name[:1]) == name[:1] {
					out = append(out, name)
				}
			}
			return true
		})
		return out
	}

	walk(root, func(n *sitter.Node) bool {
		if isImportType(n.Type(), cfg.exportTypes) {
			// Best-effort: find the nearest function/identifier under the export node.
			walk(n, func(inner *sitter.Node) bool {
				if inner.Type() == "identifier" {
					out = append(out, nodeText(inner, source))
					return false
				}
				return true
			})
		}
		return true
	})
	return out
}
