package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docfox/docfox/internal/chunk"
)

// allowedExtensions is the plain-text document allowlist. Everything
// else in the source tree is skipped silently.
var allowedExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".rst":      true,
	".adoc":     true,
}

// maxFileSize caps a single source file. Larger files are recorded as
// document errors rather than read into memory.
const maxFileSize = 10 << 20

// scanDocuments walks the source tree and loads every allowed file as a
// document. Hidden directories are skipped. Unreadable or oversized
// files become DocErrors; only a failure to walk the root itself is a
// hard error.
func scanDocuments(root string) ([]chunk.Document, []DocError, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("source %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("source %q is not a directory", root)
	}

	var (
		docs    []chunk.Document
		errs    []DocError
		walkErr = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					errs = append(errs, DocError{Path: path, Message: err.Error()})
					return filepath.SkipDir
				}
				errs = append(errs, DocError{Path: path, Message: err.Error()})
				return nil
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			fi, err := d.Info()
			if err != nil {
				errs = append(errs, DocError{Path: rel, Message: err.Error()})
				return nil
			}
			if fi.Size() > maxFileSize {
				errs = append(errs, DocError{Path: rel, Message: fmt.Sprintf("file exceeds %d bytes", int64(maxFileSize))})
				return nil
			}

			content, err := os.ReadFile(path)
			if err != nil {
				errs = append(errs, DocError{Path: rel, Message: err.Error()})
				return nil
			}

			docs = append(docs, chunk.NewDocument(rel, string(content), fi.ModTime()))
			return nil
		})
	)
	if walkErr != nil {
		return nil, nil, fmt.Errorf("walking %q: %w", root, walkErr)
	}
	return docs, errs, nil
}
