package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mhadocs/docsync/internal/config"
	"github.com/mhadocs/docsync/internal/validate"
)

func newValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate corpus documents and the manifest against JSON schemas",
		Long: `Validate checks every source document and the combined manifest against the
schemas in the configured schemas directory. Per-type corpora use
<type>_document.schema.json; the manifest uses combined_index.schema.json.

Validation is a standalone step; sync never runs it implicitly.`,
		RunE: runValidate,
	}
	addConfigFlag(validateCmd)
	return validateCmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return err
	}
	if cfg.Paths.SchemasDir == "" {
		return fmt.Errorf("paths.schemasDir must be set to validate")
	}

	datasets, err := buildDatasets(cfg)
	if err != nil {
		return err
	}

	report, err := validate.New(cfg.Paths.SchemasDir, logger).Run(datasets)
	if err != nil {
		return err
	}

	logger.Info("validate.complete",
		zap.Int("checked", report.Checked),
		zap.Int("failed", len(report.Failures)))
	if !report.OK() {
		return fmt.Errorf("validation failed for %d of %d files", len(report.Failures), report.Checked)
	}
	return nil
}

// buildDatasets maps each configured corpus directory to its schema, plus the
// combined manifest.
func buildDatasets(cfg *config.Config) ([]validate.Dataset, error) {
	var datasets []validate.Dataset

	docTypes := make([]string, 0, len(cfg.Paths.CorpusDirs))
	for docType := range cfg.Paths.CorpusDirs {
		docTypes = append(docTypes, docType)
	}
	sort.Strings(docTypes)

	for _, docType := range docTypes {
		files, err := validate.GatherFiles(cfg.Paths.CorpusDirs[docType])
		if err != nil {
			return nil, err
		}
		label := strings.ToLower(docType)
		datasets = append(datasets, validate.Dataset{
			Label:    label + "_documents",
			Files:    files,
			Schema:   label + "_document.schema.json",
			Optional: true,
		})
	}

	datasets = append(datasets, validate.Dataset{
		Label:  "combined_index",
		Files:  []string{cfg.Paths.Manifest},
		Schema: "combined_index.schema.json",
	})
	return datasets, nil
}
