// Package parser turns uploaded files into pipeline documents. It
// sanitizes filenames, enforces the extension and MIME allow-lists and
// dispatches to the format-specific decoders.
package parser

import (
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Options bounds what ParseFile and ParseZip accept.
type Options struct {
	// AllowedExtensions holds lowercase extensions including the dot.
	AllowedExtensions []string
	// AllowedMIMEPrefixes are matched with strings.HasPrefix.
	AllowedMIMEPrefixes []string
	// MaxEntryBytes caps each zip entry. Zero means no cap.
	MaxEntryBytes int64
}

// DefaultOptions mirrors the server's upload policy.
func DefaultOptions() Options {
	return Options{
		AllowedExtensions: []string{".zip", ".xml", ".csv", ".xlsx", ".pdf", ".png", ".jpg", ".jpeg"},
		AllowedMIMEPrefixes: []string{
			"application/zip",
			"application/xml",
			"text/xml",
			"text/csv",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/pdf",
			"image/jpeg",
			"image/png",
		},
		MaxEntryBytes: 200 << 20,
	}
}

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reUnsafe     = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// SecureFilename strips path components and unsafe characters from an
// uploaded filename. An empty or fully-stripped name becomes
// "document".
func SecureFilename(name string) string {
	name = path.Base(strings.TrimSpace(name))
	name = reWhitespace.ReplaceAllString(name, "_")
	name = reUnsafe.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "document"
	}
	return name
}

func (o Options) allowed(name, mime string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, allowed := range o.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	for _, prefix := range o.AllowedMIMEPrefixes {
		if mime != "" && strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

// ParseFile decodes one uploaded file into a Document. Disallowed or
// unrecognized files come back as KindUnknown with the raw payload
// attached; decode failures of an allowed format are returned as
// errors.
func ParseFile(name string, content []byte, mime string, opts Options) (*model.Document, error) {
	sanitized := SecureFilename(name)
	lower := strings.ToLower(sanitized)

	if !opts.allowed(sanitized, mime) {
		zap.L().Warn("file blocked by upload policy", zap.String("name", name), zap.String("mime", mime))
		return &model.Document{Kind: model.KindUnknown, Name: sanitized, Raw: content}, nil
	}

	switch {
	case strings.HasSuffix(lower, ".xml") || strings.Contains(mime, "xml"):
		return parseNFe(sanitized, content)
	case strings.HasSuffix(lower, ".csv") || strings.Contains(mime, "csv"):
		return parseCSV(sanitized, content)
	case strings.HasSuffix(lower, ".xlsx") || strings.Contains(mime, "spreadsheetml"):
		return parseXLSX(sanitized, content)
	case strings.HasSuffix(lower, ".pdf") || strings.Contains(mime, "pdf"):
		return &model.Document{Kind: model.KindPDF, Name: sanitized, Raw: content}, nil
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasPrefix(mime, "image/"):
		return &model.Document{Kind: model.KindImage, Name: sanitized, Raw: content}, nil
	}

	zap.L().Warn("unrecognized file discarded", zap.String("name", name), zap.String("mime", mime))
	return &model.Document{Kind: model.KindUnknown, Name: sanitized, Raw: content}, nil
}
