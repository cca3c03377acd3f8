package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mhadocs/docsync/internal/index"
)

func newCombineCmd() *cobra.Command {
	combineCmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge per-type indexes into the combined document manifest",
		Long: `Combine merges the per-type index files into the single manifest the sync
run works from. File names are normalized to a .json extension and every entry
gets a document type.

Each --source takes TYPE=PATH, where TYPE is stamped onto entries that carry
no document type of their own:

  docsync combine --source Guide=guides_index.json \
      --source Policy=policies_index.json --out manifest.json`,
		RunE: runCombine,
	}
	combineCmd.Flags().StringArray("source", nil, "Per-type index as TYPE=PATH (repeatable, required)")
	combineCmd.Flags().String("out", "", "Path of the combined manifest to write (required)")
	_ = combineCmd.MarkFlagRequired("source")
	_ = combineCmd.MarkFlagRequired("out")
	return combineCmd
}

func runCombine(cmd *cobra.Command, _ []string) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rawSources, err := cmd.Flags().GetStringArray("source")
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	sources := make([]index.Source, 0, len(rawSources))
	for _, raw := range rawSources {
		docType, path, found := strings.Cut(raw, "=")
		if !found || docType == "" || path == "" {
			return fmt.Errorf("invalid --source %q: expected TYPE=PATH", raw)
		}
		sources = append(sources, index.Source{Path: path, DefaultType: docType})
	}

	report, err := index.Combine(sources, outPath)
	if err != nil {
		return err
	}

	for path, count := range report.PerSource {
		logger.Info("combine.source",
			zap.String("path", path),
			zap.Int("documents", count))
	}
	logger.Info("combine.complete",
		zap.String("out", outPath),
		zap.Int("total", report.Total))
	return nil
}
