package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/grader"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a student response against a reference response",
	Example: "  gradeblend score --student got.json --reference want.json --endpoint /users --method GET\n" +
		"  curl -s localhost:8080/users | gradeblend score --student - --reference want.json --judge",
	RunE: func(cmd *cobra.Command, args []string) error {
		student, reference, tc, err := readPair(cmd)
		if err != nil {
			return err
		}
		useJudge, _ := cmd.Flags().GetBool("judge")
		var cloud *float64
		if cmd.Flags().Changed("cloud-score") {
			if useJudge {
				return errors.New("--cloud-score and --judge are mutually exclusive")
			}
			v, _ := cmd.Flags().GetFloat64("cloud-score")
			cloud = &v
		}

		rt, err := open(cmd.Context(), cmd, withEngine)
		if err != nil {
			return err
		}
		defer rt.Close()

		var res grader.ScoreResult
		if useJudge {
			if !rt.judge.Configured() {
				return fmt.Errorf("judge provider %q is not configured: %w", rt.cfg.Judge.PreferredProvider, rt.judgeErr)
			}
			res = rt.engine.Grade(cmd.Context(), student, reference, tc)
		} else {
			res = rt.engine.ScoreResponse(student, reference, tc, grader.ScoreOptions{CloudScore: cloud})
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Record a teacher score for a response pair",
	Long: "Record a teacher score as a training sample. The sample is kept when it differs from\n" +
		"the automatic score by at least 0.5, or while too few samples exist. The model is\n" +
		"retrained once enough samples are stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("teacher-score") {
			return errors.New("--teacher-score is required")
		}
		teacher, _ := cmd.Flags().GetFloat64("teacher-score")
		if math.IsNaN(teacher) || teacher < 0 || teacher > 10 {
			return fmt.Errorf("--teacher-score must be within [0, 10], got %v", teacher)
		}
		student, reference, tc, err := readPair(cmd)
		if err != nil {
			return err
		}

		rt, err := open(cmd.Context(), cmd, withEngine)
		if err != nil {
			return err
		}
		defer rt.Close()

		return printJSON(cmd.OutOrStdout(), rt.engine.Learn(student, reference, teacher, tc))
	},
}

func addPairFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("student", "s", "", "Student response JSON file (- for stdin)")
	cmd.Flags().StringP("reference", "r", "", "Reference response JSON file (- for stdin)")
	cmd.Flags().String("endpoint", "", "Endpoint under test, e.g. /users/{id}")
	cmd.Flags().StringP("method", "X", "GET", "HTTP method")
	cmd.Flags().String("name", "", "Test case name")
	cmd.Flags().Int("expected-status", 0, "Expected HTTP status code")
	cmd.Flags().Int("actual-status", 0, "Actual HTTP status code")
	cmd.Flags().StringSlice("required", nil, "Required key paths (dotted), defaults to every reference key")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("reference")
}

// readPair loads both responses and the test case from the flags.
func readPair(cmd *cobra.Command) (student, reference any, tc features.TestCase, err error) {
	sp, _ := cmd.Flags().GetString("student")
	rp, _ := cmd.Flags().GetString("reference")
	if sp == "-" && rp == "-" {
		return nil, nil, tc, errors.New("only one of --student and --reference may read stdin")
	}
	if student, err = readJSON(cmd.InOrStdin(), sp); err != nil {
		return nil, nil, tc, fmt.Errorf("student: %w", err)
	}
	if reference, err = readJSON(cmd.InOrStdin(), rp); err != nil {
		return nil, nil, tc, fmt.Errorf("reference: %w", err)
	}

	tc.Endpoint, _ = cmd.Flags().GetString("endpoint")
	tc.Method, _ = cmd.Flags().GetString("method")
	tc.Name, _ = cmd.Flags().GetString("name")
	tc.ExpectedStatus, _ = cmd.Flags().GetInt("expected-status")
	tc.ActualStatus, _ = cmd.Flags().GetInt("actual-status")
	tc.RequiredFields, _ = cmd.Flags().GetStringSlice("required")
	return student, reference, tc, nil
}

func readJSON(stdin io.Reader, path string) (any, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return features.Parse(data)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	addPairFlags(scoreCmd)
	scoreCmd.Flags().Float64("cloud-score", 0, "Externally obtained cloud score in [0, 10]")
	scoreCmd.Flags().Bool("judge", false, "Ask the configured LLM judge for a cloud score")

	addPairFlags(learnCmd)
	learnCmd.Flags().Float64P("teacher-score", "t", 0, "Teacher's score in [0, 10]")
}
