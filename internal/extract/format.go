package extract

import (
	"bytes"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Format turns the bytes of one document format into plain text
type Format interface {
	// Name returns the format name
	Name() string

	// CanHandle checks if this format applies to the given file name/content type
	CanHandle(name string, contentType string, data []byte) bool

	// Text derives plain text. ok=false means the bytes are not text at all.
	Text(data []byte) (text string, ok bool)
}

// Registry picks the format for a document
type Registry struct {
	formats  []Format
	fallback Format
}

// NewRegistry creates a registry with the built-in formats
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(binaryFormat{})
	r.Register(htmlFormat{})
	r.fallback = plainFormat{}
	return r
}

// Register adds a format ahead of the fallback
func (r *Registry) Register(f Format) {
	r.formats = append(r.formats, f)
}

// Find returns the first matching format, or plain text
func (r *Registry) Find(name, contentType string, data []byte) Format {
	for _, f := range r.formats {
		if f.CanHandle(name, contentType, data) {
			return f
		}
	}
	return r.fallback
}

var binaryExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true, ".zip": true, ".gz": true, ".epub": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

// binaryFormat matches documents that cannot be read as text
type binaryFormat struct{}

func (binaryFormat) Name() string { return "binary" }

func (binaryFormat) CanHandle(name, contentType string, data []byte) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	mediaType := baseMediaType(contentType)
	if mediaType == "" {
		mediaType = baseMediaType(http.DetectContentType(data))
	}
	if mediaType == "application/pdf" || strings.HasPrefix(mediaType, "image/") ||
		mediaType == "application/zip" || mediaType == "application/octet-stream" {
		return true
	}
	return bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)
}

func (binaryFormat) Text([]byte) (string, bool) { return "", false }

// htmlFormat extracts visible text from HTML pages
type htmlFormat struct{}

func (htmlFormat) Name() string { return "html" }

func (htmlFormat) CanHandle(name, contentType string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	mediaType := baseMediaType(contentType)
	if mediaType == "" {
		mediaType = baseMediaType(http.DetectContentType(data))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func (htmlFormat) Text(data []byte) (string, bool) {
	text, err := HTMLText(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	return text, true
}

// plainFormat passes text (txt, md, tex, json...) through unchanged
type plainFormat struct{}

func (plainFormat) Name() string { return "text" }

func (plainFormat) CanHandle(string, string, []byte) bool { return true }

func (plainFormat) Text(data []byte) (string, bool) {
	return strings.TrimPrefix(string(data), "\ufeff"), true
}

func baseMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
