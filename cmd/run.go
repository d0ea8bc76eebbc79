package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runMaxInsights int
	runDeepDive    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a discovery cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if runMaxInsights > 0 {
			cfg.Engine.MaxInsights = runMaxInsights
		}
		if runDeepDive > 0 {
			cfg.Engine.DeepDiveCount = runDeepDive
		}

		eng := buildEngine(st)

		result, err := eng.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "discovery run")
		}

		zap.L().Info("discovery complete",
			zap.String("run_id", result.RunID),
			zap.Bool("used_fallback", result.UsedFallback),
			zap.Int("insights", len(result.Insights)),
			zap.Int("total_tokens", result.Usage.InputTokens+result.Usage.OutputTokens),
			zap.Float64("cost_usd", result.TotalCostUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxInsights, "max-insights", 0, "override configured insight cap")
	runCmd.Flags().IntVar(&runDeepDive, "deep-dive", 0, "override configured deep dive symbol count")
	rootCmd.AddCommand(runCmd)
}
