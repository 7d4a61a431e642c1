package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Inspect the LLM judge's quota and cache",
}

var judgeUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show judge calls per day against the daily limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		rt, err := open(cmd.Context(), cmd, withJudge)
		if err != nil {
			return err
		}
		defer rt.Close()

		today := rt.judge.Usage()
		history := rt.judge.History()
		if asJSON {
			return printJSON(cmd.OutOrStdout(), history)
		}

		p := message.NewPrinter(language.English)
		w := cmd.OutOrStdout()

		status := "configured"
		if !rt.judge.Configured() {
			status = "not configured"
		}
		p.Fprintf(w, "Provider:  %s (%s)\n", rt.cfg.Judge.PreferredProvider, status)
		p.Fprintf(w, "Today:     %d of %d calls, %d remaining\n", today.Count, today.Limit, today.Remaining)
		p.Fprintf(w, "Cache:     %d entries\n\n", rt.judge.CacheSize())

		if len(history) == 0 {
			fmt.Fprintln(w, "No judge calls recorded yet.")
			return nil
		}

		fmt.Fprintf(w, "%-10s  %6s  %10s  %10s\n", "Date", "Calls", "Tokens", "Cost")
		fmt.Fprintln(w, strings.Repeat("─", 42))
		var calls, tokens int
		var cost float64
		for _, u := range history {
			p.Fprintf(w, "%-10s  %6d  %10d  %10s\n", u.Date, u.Count, u.Tokens, formatCost(u.Cost))
			calls += u.Count
			tokens += u.Tokens
			cost += u.Cost
		}
		fmt.Fprintln(w, strings.Repeat("─", 42))
		p.Fprintf(w, "%-10s  %6d  %10d  %10s\n", "TOTAL", calls, tokens, formatCost(cost))
		return nil
	},
}

var judgeClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop all cached judge verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := open(cmd.Context(), cmd, withJudge)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.judge.ClearCache()
		if err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		message.NewPrinter(language.English).Fprintf(cmd.OutOrStdout(), "Removed %d cached verdicts.\n", n)
		return nil
	},
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	judgeUsageCmd.Flags().Bool("json", false, "Print the daily history as JSON")

	judgeCmd.AddCommand(judgeUsageCmd)
	judgeCmd.AddCommand(judgeClearCacheCmd)
}
