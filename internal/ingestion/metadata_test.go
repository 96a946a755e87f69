package ingestion

import "testing"

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		source    string
		extension string
		docType   string
	}{
		// ── Markdown ────────────────────────────────────────────────────
		{name: "markdown", source: "docs/guide.md", extension: ".md", docType: "markdown"},
		{name: "markdown upper case", source: "README.MD", extension: ".md", docType: "markdown"},
		{name: "mdx", source: "site/page.mdx", extension: ".mdx", docType: "markdown"},
		// ── Code ────────────────────────────────────────────────────────
		{name: "go", source: "cmd/semdex/main.go", extension: ".go", docType: "code"},
		{name: "terraform", source: "infra/main.tf", extension: ".tf", docType: "code"},
		{name: "python", source: "scripts/run.py", extension: ".py", docType: "code"},
		// ── Config ──────────────────────────────────────────────────────
		{name: "yaml", source: "deploy/values.yaml", extension: ".yaml", docType: "config"},
		{name: "json", source: "package.json", extension: ".json", docType: "config"},
		// ── PDF ─────────────────────────────────────────────────────────
		{name: "pdf", source: "papers/report.pdf", extension: ".pdf", docType: "pdf"},
		// ── Fallback ────────────────────────────────────────────────────
		{name: "plain text", source: "notes.txt", extension: ".txt", docType: "text"},
		{name: "no extension", source: "LICENSE", extension: "", docType: "text"},
		{name: "unknown extension", source: "data.xyz", extension: ".xyz", docType: "text"},
		{name: "in-memory source", source: "inline", extension: "", docType: "text"},
		{name: "dotted dir", source: "v1.2/readme", extension: "", docType: "text"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := InferMetadata(tc.source)
			if got.Extension != tc.extension {
				t.Errorf("Extension: want %q, got %q", tc.extension, got.Extension)
			}
			if got.DocType != tc.docType {
				t.Errorf("DocType: want %q, got %q", tc.docType, got.DocType)
			}
		})
	}
}
