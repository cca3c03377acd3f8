package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source is one per-type index feeding the combined manifest.
type Source struct {
	// Path of the per-type index file ({"documents": [...]}).
	Path string
	// DefaultType is stamped onto entries that carry no documentType.
	DefaultType string
}

// CombineReport summarizes a Combine run.
type CombineReport struct {
	// PerSource counts the entries contributed by each source path.
	PerSource map[string]int
	// Total is the number of entries written to the combined manifest.
	Total int
}

// Combine merges per-type indexes into one manifest at outPath. Entry file
// names are normalized to a .json extension and every entry gets a
// documentType. Unknown entry fields pass through untouched.
func Combine(sources []Source, outPath string) (*CombineReport, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no source indexes given")
	}

	report := &CombineReport{PerSource: make(map[string]int)}
	var combined []map[string]any

	for _, source := range sources {
		entries, err := loadSourceEntries(source.Path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			normalizeEntry(entry, source.DefaultType)
			combined = append(combined, entry)
		}
		report.PerSource[source.Path] = len(entries)
		report.Total += len(entries)
	}

	if err := verifyEntries(combined); err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(map[string]any{"documents": combined}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal combined manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0600); err != nil {
		return nil, fmt.Errorf("failed to write combined manifest: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return nil, fmt.Errorf("failed to move combined manifest into place: %w", err)
	}

	return report, nil
}

func loadSourceEntries(path string) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source index %s: %w", path, err)
	}

	var payload struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse source index %s: %w", path, err)
	}
	if payload.Documents == nil {
		return nil, fmt.Errorf("source index %s is missing the documents array", path)
	}
	return payload.Documents, nil
}

// normalizeEntry rewrites the file name to a .json extension and fills in the
// document type when absent.
func normalizeEntry(entry map[string]any, defaultType string) {
	if name, ok := entry["file"].(string); ok && name != "" {
		switch {
		case strings.HasSuffix(name, ".txt"):
			entry["file"] = strings.TrimSuffix(name, ".txt") + ".json"
		case !strings.HasSuffix(name, ".json"):
			entry["file"] = name + ".json"
		}
	}
	if _, ok := entry["documentType"].(string); !ok {
		entry["documentType"] = defaultType
	}
}

// verifyEntries re-checks what normalizeEntry guarantees and rejects
// duplicate file names across sources.
func verifyEntries(entries []map[string]any) error {
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name, ok := entry["file"].(string)
		if !ok || name == "" {
			return fmt.Errorf("combined manifest entry is missing a file name: %v", entry)
		}
		if !strings.HasSuffix(name, ".json") {
			return fmt.Errorf("entry %s did not normalize to a .json extension", name)
		}
		if docType, ok := entry["documentType"].(string); !ok || docType == "" {
			return fmt.Errorf("entry %s is missing a document type", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate entry %s across source indexes", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
