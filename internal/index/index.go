// Package index builds the combined document index that drives a sync run.
//
// The manifest file lists every document that should exist remotely. The
// manifest itself is managed as the first document of the index so it is
// uploaded alongside the corpus and protected from reconciliation.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mhadocs/docsync/internal/canonical"
)

// ManifestDocumentType is the type recorded for the manifest self-document.
const ManifestDocumentType = "Index"

// Document is one unit of sync work: identity, provenance, and the content
// that gets uploaded.
type Document struct {
	ExternalID   string
	SourcePath   string
	DocumentType string
	Title        string
	Content      []byte
	ContentHash  string
}

// DocumentError records a document the loader had to leave out of the index.
type DocumentError struct {
	ExternalID string
	Err        error
}

func (e DocumentError) Error() string {
	return fmt.Sprintf("document %s: %v", e.ExternalID, e.Err)
}

// Index is the ordered set of documents a run converges the remote store to.
// The manifest self-document, when present, is Documents[0] and its id is
// ManifestID.
type Index struct {
	ManifestID string
	Documents  []Document
	// Skipped holds documents whose content could not be canonicalized.
	// They count as failures for the run but never abort it.
	Skipped []DocumentError
}

// Contains reports whether externalID is part of the index.
func (idx *Index) Contains(externalID string) bool {
	for _, doc := range idx.Documents {
		if doc.ExternalID == externalID {
			return true
		}
	}
	return false
}

// ExternalIDs returns the ids in index order.
func (idx *Index) ExternalIDs() []string {
	ids := make([]string, 0, len(idx.Documents))
	for _, doc := range idx.Documents {
		ids = append(ids, doc.ExternalID)
	}
	return ids
}

type manifestEntry struct {
	File         string `json:"file"`
	Title        string `json:"title,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
}

type manifestFile struct {
	Documents []manifestEntry `json:"documents"`
}

// Loader resolves manifest entries against per-type corpus directories.
type Loader struct {
	hasher      *canonical.Hasher
	corpusDirs  map[string]string
	defaultDir  string
	defaultType string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCorpusDir maps a document type to the directory its source files live
// in. The type is matched case-insensitively.
func WithCorpusDir(documentType, dir string) LoaderOption {
	return func(l *Loader) {
		l.corpusDirs[strings.ToLower(documentType)] = dir
	}
}

// WithDefaultDir sets the directory used for types with no explicit mapping.
func WithDefaultDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.defaultDir = dir
	}
}

// WithDefaultType sets the type assumed for manifest entries that carry none.
func WithDefaultType(documentType string) LoaderOption {
	return func(l *Loader) {
		l.defaultType = documentType
	}
}

// NewLoader creates a Loader. A nil hasher gets the default volatile-field
// configuration.
func NewLoader(hasher *canonical.Hasher, opts ...LoaderOption) *Loader {
	if hasher == nil {
		hasher = canonical.NewHasher(nil)
	}
	loader := &Loader{
		hasher:      hasher,
		corpusDirs:  make(map[string]string),
		defaultType: "Policy",
	}
	for _, opt := range opts {
		opt(loader)
	}
	return loader
}

// Load reads the manifest at path and builds the index. A manifest entry whose
// source file is missing fails the whole load; a source file that cannot be
// canonicalized is recorded in Skipped and the load continues.
func (l *Loader) Load(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var manifest manifestFile
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if manifest.Documents == nil {
		return nil, fmt.Errorf("manifest %s is missing the documents array", path)
	}

	idx := &Index{}

	selfDoc, err := l.manifestSelfDocument(path, raw)
	if err != nil {
		return nil, err
	}
	idx.ManifestID = selfDoc.ExternalID
	idx.Documents = append(idx.Documents, selfDoc)

	seen := map[string]string{selfDoc.ExternalID: path}
	for _, entry := range manifest.Documents {
		if entry.File == "" {
			return nil, fmt.Errorf("manifest %s has an entry with no file name", path)
		}

		docType := entry.DocumentType
		if docType == "" {
			docType = l.defaultType
		}
		sourcePath := filepath.Join(l.dirFor(docType), entry.File)

		if prev, dup := seen[entry.File]; dup {
			return nil, fmt.Errorf("duplicate external id %s (%s and %s)", entry.File, prev, sourcePath)
		}
		seen[entry.File] = sourcePath

		content, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("source file for %s not found at %s: %w", entry.File, sourcePath, err)
		}

		hash, err := l.hasher.Hash(content)
		if err != nil {
			idx.Skipped = append(idx.Skipped, DocumentError{ExternalID: entry.File, Err: err})
			continue
		}

		idx.Documents = append(idx.Documents, Document{
			ExternalID:   entry.File,
			SourcePath:   sourcePath,
			DocumentType: docType,
			Title:        resolveTitle(content, entry),
			Content:      content,
			ContentHash:  hash,
		})
	}

	return idx, nil
}

// manifestSelfDocument turns the manifest file into its own Document. The hash
// is computed on a filename-sorted view of the entries so that reordering them
// alone never re-uploads the manifest; the uploaded content stays the on-disk
// bytes.
func (l *Loader) manifestSelfDocument(path string, raw []byte) (Document, error) {
	normalized, err := normalizeManifest(raw)
	if err != nil {
		return Document{}, fmt.Errorf("failed to normalize manifest %s: %w", path, err)
	}
	hash, err := l.hasher.Hash(normalized)
	if err != nil {
		return Document{}, fmt.Errorf("failed to hash manifest %s: %w", path, err)
	}

	return Document{
		ExternalID:   filepath.Base(path),
		SourcePath:   path,
		DocumentType: ManifestDocumentType,
		Title:        "Combined Document Index",
		Content:      raw,
		ContentHash:  hash,
	}, nil
}

// normalizeManifest returns the manifest payload with its documents array
// sorted by file name. Unknown fields on the payload and its entries are
// preserved.
func normalizeManifest(raw []byte) ([]byte, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	docs, ok := payload["documents"].([]any)
	if !ok {
		return nil, fmt.Errorf("payload is missing the documents array")
	}

	sorted := make([]any, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return entryFileName(sorted[i]) < entryFileName(sorted[j])
	})
	payload["documents"] = sorted

	return json.Marshal(payload)
}

func entryFileName(entry any) string {
	obj, ok := entry.(map[string]any)
	if !ok {
		return ""
	}
	name, _ := obj["file"].(string)
	return name
}

func (l *Loader) dirFor(documentType string) string {
	if dir, ok := l.corpusDirs[strings.ToLower(documentType)]; ok {
		return dir
	}
	return l.defaultDir
}

// resolveTitle prefers the document's own title field, then the manifest
// entry, then the external id.
func resolveTitle(content []byte, entry manifestEntry) string {
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(content, &payload); err == nil && payload.Title != "" {
		return payload.Title
	}
	if entry.Title != "" {
		return entry.Title
	}
	return entry.File
}
