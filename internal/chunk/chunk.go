// Package chunk splits documents into overlapping retrievable units.
//
// The splitter is structure-aware: it prefers boundaries at markdown
// headings, paragraph breaks, and fenced code blocks, and falls back to
// sentence and whitespace boundaries for oversized blocks. Chunking is
// deterministic: the same input always produces the same chunk ids and
// boundaries.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// Document is a source file to be chunked.
type Document struct {
	ID          string
	Path        string
	Title       string
	Content     string
	ContentHash string
	ModTime     time.Time
}

// Chunk is the atomic retrievable unit derived from a document.
//
// Start and End are byte offsets into the document content; Text is
// always Content[Start:End]. OverlapPrev is the number of leading bytes
// shared with the previous chunk, so concatenating chunks[0].Text with
// chunks[i].Text[chunks[i].OverlapPrev:] reconstructs the covered text.
type Chunk struct {
	ID          string
	DocumentID  string
	Seq         int
	Text        string
	Start       int
	End         int
	OverlapPrev int
	HeadingPath []string
}

// NewDocument builds a Document for a source file, deriving the stable
// document id from the path and the content hash for change detection.
func NewDocument(path, content string, modTime time.Time) Document {
	return Document{
		ID:          DocumentID(path),
		Path:        path,
		Title:       filepath.Base(path),
		Content:     content,
		ContentHash: ContentHash(content),
		ModTime:     modTime,
	}
}

// DocumentID derives a stable document id from a file path.
func DocumentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "doc_" + hex.EncodeToString(sum[:16])
}

// ContentHash returns the hash used for document change detection.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// chunkID derives the deterministic chunk id from document id and
// sequence index.
func chunkID(docID string, seq int) string {
	return fmt.Sprintf("%s:%04d", docID, seq)
}
