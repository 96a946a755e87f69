package ingestion

import (
	"path"
	"strings"
)

// Metadata keys written on every record.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
	MetaProvider   = "provider"
	MetaModel      = "model"
	MetaExtension  = "extension"
	MetaDocType    = "doc_type"
	MetaEmbeddedBy = "embedded_by"
)

// Document types inferred from a file extension.
const (
	DocTypeMarkdown = "markdown"
	DocTypeCode     = "code"
	DocTypeConfig   = "config"
	DocTypePDF      = "pdf"
	DocTypeText     = "text"
)

// InferredMetadata holds the extension and document type inferred from a
// source name.
type InferredMetadata struct {
	// Extension is the lowercase file extension including the dot, or empty.
	Extension string
	// DocType classifies the content (markdown, code, config, pdf, text).
	DocType string
}

// extensionDocTypes maps lowercase extensions to document types. Anything
// not listed is "text".
var extensionDocTypes = map[string]string{
	".md":       DocTypeMarkdown,
	".markdown": DocTypeMarkdown,
	".mdx":      DocTypeMarkdown,
	".rst":      DocTypeMarkdown,

	".go":   DocTypeCode,
	".py":   DocTypeCode,
	".js":   DocTypeCode,
	".ts":   DocTypeCode,
	".tsx":  DocTypeCode,
	".jsx":  DocTypeCode,
	".java": DocTypeCode,
	".rs":   DocTypeCode,
	".rb":   DocTypeCode,
	".c":    DocTypeCode,
	".h":    DocTypeCode,
	".cpp":  DocTypeCode,
	".cs":   DocTypeCode,
	".sh":   DocTypeCode,
	".sql":  DocTypeCode,
	".tf":   DocTypeCode,

	".yaml": DocTypeConfig,
	".yml":  DocTypeConfig,
	".json": DocTypeConfig,
	".toml": DocTypeConfig,
	".ini":  DocTypeConfig,
	".cfg":  DocTypeConfig,
	".conf": DocTypeConfig,
	".env":  DocTypeConfig,
	".xml":  DocTypeConfig,

	".pdf": DocTypePDF,
}

// InferMetadata inspects the source name and returns best-effort metadata.
//
//	docs/guide.md      -> .md,   markdown
//	cmd/main.go        -> .go,   code
//	deploy/values.yaml -> .yaml, config
//	notes              -> "",    text
func InferMetadata(source string) InferredMetadata {
	ext := strings.ToLower(path.Ext(source))
	m := InferredMetadata{Extension: ext, DocType: DocTypeText}
	if dt, ok := extensionDocTypes[ext]; ok {
		m.DocType = dt
	}
	return m
}
