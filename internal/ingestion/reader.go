package ingestion

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8BOM is stripped from the start of text files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readDocument returns the text of the file at path. PDFs are extracted page
// by page; everything else is decoded as UTF-8, strictly first and then with
// invalid bytes replaced by U+FFFD.
func readDocument(path string, log *slog.Logger) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	text, lossy, err := decodeText(raw)
	if err != nil {
		return "", fmt.Errorf("ingestion: decode %s: %w", path, err)
	}
	if lossy {
		log.Warn("ingestion: file is not valid UTF-8, invalid bytes replaced",
			slog.String("path", path),
		)
	}
	return text, nil
}

// decodeText decodes raw as UTF-8. lossy reports that the tolerant decoder
// had to be used. A UTF-16 byte-order mark switches decoding to UTF-16.
func decodeText(raw []byte) (text string, lossy bool, err error) {
	if utf8.Valid(raw) {
		return string(bytes.TrimPrefix(raw, utf8BOM)), false, nil
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return "", true, err
	}
	return string(out), true, nil
}

// readPDF extracts the plain text of every page. The pdf package panics on
// malformed objects; that is reported as an error so only this file is skipped.
func readPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("ingestion: parse PDF %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		return "", fmt.Errorf("ingestion: open PDF %s: %w", path, err)
	}

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		buf.WriteString(pageText)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}
