package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/config"
)

var cfg *config.Config

var outputFormat string

var rootCmd = &cobra.Command{
	Use:   "memorial-cli",
	Short: "Geodetic vertex extraction for memoriais descritivos",
	Long: "Extracts document metadata and boundary vertices from Brazilian memorial descritivo text, " +
		"normalizes them to SIRGAS2000 / UTM and validates, imports and corrects persisted markers.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		switch outputFormat {
		case "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (json or yaml)", outputFormat)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
