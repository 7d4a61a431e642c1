package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/gradeblend/internal/samples"
	"github.com/abhisek/gradeblend/internal/store"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the model from all stored samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := open(cmd.Context(), cmd, withEngine)
		if err != nil {
			return err
		}
		defer rt.Close()

		ok := rt.engine.TrainModel()
		m := rt.engine.GetMetrics()
		if err := printJSON(cmd.OutOrStdout(), struct {
			Trained bool            `json:"trained"`
			Metrics samples.Metrics `json:"metrics"`
		}{ok, m}); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("training skipped: %d samples stored, %d required", m.SampleCount, rt.cfg.MinSamples)
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all samples and the trained model",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("refusing to delete samples without --yes")
		}

		rt, err := open(cmd.Context(), cmd, withEngine)
		if err != nil {
			return err
		}
		defer rt.Close()

		if !rt.engine.Reset() {
			return errors.New("reset incomplete, see log for details")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All samples and the trained model were deleted.")
		return nil
	},
}

type trainingRun struct {
	Time         time.Time `json:"time"`
	Samples      int       `json:"samples"`
	Success      bool      `json:"success"`
	AverageError float64   `json:"average_error,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	Error        string    `json:"error,omitempty"`
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show model metrics and recent training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("history")

		rt, err := open(cmd.Context(), cmd, withEngine)
		if err != nil {
			return err
		}
		defer rt.Close()

		records, err := rt.store.EventRepo().QueryTrainingEvents(cmd.Context(), store.QueryOpts{Limit: limit})
		if err != nil {
			return fmt.Errorf("query training events: %w", err)
		}
		runs := make([]trainingRun, 0, len(records))
		for _, r := range records {
			runs = append(runs, trainingRun{
				Time:         r.Timestamp,
				Samples:      r.Samples,
				Success:      r.Success,
				AverageError: r.AverageError,
				Confidence:   r.Confidence,
				DurationMs:   r.DurationMs,
				Error:        r.ErrorMessage,
			})
		}

		return printJSON(cmd.OutOrStdout(), struct {
			Metrics      samples.Metrics `json:"metrics"`
			MinSamples   int             `json:"min_samples"`
			FeatureNames []string        `json:"feature_names"`
			Training     []trainingRun   `json:"training"`
		}{
			Metrics:      rt.engine.GetMetrics(),
			MinSamples:   rt.cfg.MinSamples,
			FeatureNames: rt.engine.FeatureNames(),
			Training:     runs,
		})
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "Confirm deletion")
	metricsCmd.Flags().IntP("history", "n", 10, "Number of training runs to show")
}
