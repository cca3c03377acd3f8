// Package validate checks corpus documents and index files against the
// repository's JSON schemas.
//
// Validation is a standalone pipeline step; sync never invokes it implicitly.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// Dataset names a group of files validated against one schema.
type Dataset struct {
	// Label identifies the dataset in logs and the report.
	Label string
	// Files to validate.
	Files []string
	// Schema is the schema file name under the schemas directory.
	Schema string
	// Optional datasets with no files are skipped instead of failing.
	Optional bool
}

// FileResult is the outcome for one validated file.
type FileResult struct {
	Label  string
	Path   string
	Errors []string
}

// Report summarizes a validation run.
type Report struct {
	Checked  int
	Failures []FileResult
}

// OK reports whether every checked file passed.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Validator compiles schemas once and applies them across datasets.
type Validator struct {
	schemasDir string
	logger     *zap.Logger
	compiled   map[string]*jsonschema.Schema
}

// New creates a Validator rooted at schemasDir.
func New(schemasDir string, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		schemasDir: schemasDir,
		logger:     logger,
		compiled:   make(map[string]*jsonschema.Schema),
	}
}

// Run validates every dataset. The error covers run-level problems (missing
// schema, unreadable directory); per-file findings land in the report.
func (v *Validator) Run(datasets []Dataset) (*Report, error) {
	report := &Report{}

	for _, dataset := range datasets {
		if len(dataset.Files) == 0 {
			if dataset.Optional {
				v.logger.Info("dataset.skip",
					zap.String("label", dataset.Label),
					zap.String("reason", "no_files"))
				continue
			}
			return nil, fmt.Errorf("dataset %s has no files to validate", dataset.Label)
		}

		schema, err := v.schema(dataset.Schema)
		if err != nil {
			return nil, err
		}

		v.logger.Info("dataset.start",
			zap.String("label", dataset.Label),
			zap.Int("count", len(dataset.Files)))

		for _, path := range dataset.Files {
			report.Checked++
			findings := validateFile(path, schema)
			if len(findings) > 0 {
				report.Failures = append(report.Failures, FileResult{
					Label:  dataset.Label,
					Path:   path,
					Errors: findings,
				})
				v.logger.Warn("validation.fail",
					zap.String("label", dataset.Label),
					zap.String("file", path),
					zap.Strings("errors", findings))
				continue
			}
			v.logger.Debug("validation.pass",
				zap.String("label", dataset.Label),
				zap.String("file", path))
		}
	}

	return report, nil
}

func (v *Validator) schema(name string) (*jsonschema.Schema, error) {
	if schema, ok := v.compiled[name]; ok {
		return schema, nil
	}

	path := filepath.Join(v.schemasDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema not found: %s: %w", path, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("failed to register schema %s: %w", path, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", path, err)
	}

	v.compiled[name] = schema
	return schema, nil
}

func validateFile(path string, schema *jsonschema.Schema) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return []string{fmt.Sprintf("file not readable: %v", err)}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{fmt.Sprintf("not valid JSON: %v", err)}
	}

	if err := schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return flattenCauses(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

// flattenCauses walks the validation error tree and reports the leaves, which
// carry the specific keyword failures.
func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{ve.Error()}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}

// GatherFiles lists the .json files in dir, sorted by name.
func GatherFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
