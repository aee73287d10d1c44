package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// ParseZip expands an archive and parses every recognizable entry.
// Entries escaping the archive root or exceeding the per-entry size
// cap are skipped, not fatal. Unknown-kind entries are dropped.
func ParseZip(content []byte, opts Options) ([]*model.Document, error) {
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	// ErrInsecurePath still yields a usable reader; those entries are
	// skipped below.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, eris.Wrap(err, "parser: open zip")
	}

	var docs []*model.Document
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if path.IsAbs(entry.Name) || escapesRoot(entry.Name) {
			zap.L().Warn("zip entry skipped, path traversal", zap.String("name", entry.Name))
			continue
		}
		if opts.MaxEntryBytes > 0 && int64(entry.UncompressedSize64) > opts.MaxEntryBytes {
			zap.L().Warn("zip entry skipped, exceeds size cap",
				zap.String("name", entry.Name),
				zap.Uint64("size", entry.UncompressedSize64))
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, eris.Wrapf(err, "parser: open zip entry %s", entry.Name)
		}
		var payload []byte
		if opts.MaxEntryBytes > 0 {
			payload, err = io.ReadAll(io.LimitReader(rc, opts.MaxEntryBytes+1))
		} else {
			payload, err = io.ReadAll(rc)
		}
		rc.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "parser: read zip entry %s", entry.Name)
		}
		if opts.MaxEntryBytes > 0 && int64(len(payload)) > opts.MaxEntryBytes {
			zap.L().Warn("zip entry skipped, exceeds size cap", zap.String("name", entry.Name))
			continue
		}

		base := path.Base(entry.Name)
		mimeType := mime.TypeByExtension(path.Ext(base))
		doc, err := ParseFile(base, payload, mimeType, opts)
		if err != nil {
			return nil, err
		}
		if doc.Kind == model.KindUnknown {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func escapesRoot(name string) bool {
	for _, part := range strings.Split(path.Clean(name), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
