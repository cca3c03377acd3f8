// Package app provides the entry point for the docsync application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mhadocs/docsync/internal/versions"
)

// EnvPrefix is the prefix for environment variables overriding flags.
const EnvPrefix = "DOCSYNC"

// NewRootCmd creates a new root command for docsync.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "docsync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Synchronize a document corpus with a remote vector store",
		Long: `docsync keeps a remote vector store convergent with a local corpus of
derived JSON documents: it hashes canonical content, tracks what was uploaded
in a persistent state file, and creates, replaces, or removes remote objects
so the store matches the combined document index.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// If no subcommand is provided, print help
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("failed to bind debug flag: %v", err))
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newCombineCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// buildLogger constructs the JSON logger every command logs through.
func buildLogger() (*zap.Logger, error) {
	if viper.GetBool("debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				fmt.Println(string(output))
				return nil
			}

			fmt.Printf("docsync %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	versionCmd.Flags().String("format", "", "Output format (json)")
	return versionCmd
}
