package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/gradeblend/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "gradeblend",
	Short: "Hybrid grader for API response JSON",
	Long: "gradeblend scores a student's API response against a reference response by blending\n" +
		"a rule-based scorer, a regression model trained on teacher scores and an optional\n" +
		"LLM judge.",
	SilenceUsage: true,
}

// Execute runs the root command. Cancelling ctx aborts in-flight judge
// requests.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (overrides GRADEBLEND_CONFIG env var)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory for samples, model and judge state (overrides config)")

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(judgeCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config named by --config (or the default location)
// and applies --data-dir on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir, err = config.ExpandPath(dir)
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
