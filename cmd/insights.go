package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/store"
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Query and export generated insights",
}

// -- insights list --

var insightsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List insights across runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		insights, err := st.ListInsights(ctx, insightFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "insights list")
		}

		if len(insights) == 0 {
			fmt.Fprintln(os.Stderr, "No insights found.")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(insights)
		}

		formatInsightsList(os.Stdout, insights)
		return nil
	},
}

// -- insights export --

var insightsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export insights to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		insights, err := st.ListInsights(ctx, insightFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "insights export")
		}

		output, _ := cmd.Flags().GetString("output")
		if err := writeInsightsWorkbook(output, insights); err != nil {
			return err
		}

		zap.L().Info("insights exported",
			zap.String("path", output),
			zap.Int("count", len(insights)),
		)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{insightsListCmd, insightsExportCmd} {
		c.Flags().String("run", "", "filter by run ID")
		c.Flags().String("action", "", "filter by action (BUY, SELL, HOLD, WATCH)")
		c.Flags().String("symbol", "", "filter by primary symbol")
		c.Flags().Float64("min-confidence", 0, "minimum confidence threshold")
		c.Flags().Int("limit", 100, "max number of insights")
	}
	insightsListCmd.Flags().Bool("json", false, "print insights as JSON")
	insightsExportCmd.Flags().String("output", "insights.xlsx", "path for the output workbook")

	insightsCmd.AddCommand(insightsListCmd)
	insightsCmd.AddCommand(insightsExportCmd)
	rootCmd.AddCommand(insightsCmd)
}

func insightFilterFromFlags(cmd *cobra.Command) store.InsightFilter {
	runID, _ := cmd.Flags().GetString("run")
	action, _ := cmd.Flags().GetString("action")
	symbol, _ := cmd.Flags().GetString("symbol")
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	limit, _ := cmd.Flags().GetInt("limit")

	return store.InsightFilter{
		RunID:         runID,
		Action:        strings.ToUpper(action),
		Symbol:        strings.ToUpper(symbol),
		MinConfidence: minConf,
		Limit:         limit,
	}
}

// formatInsightsList writes a tabular list of insights to w.
func formatInsightsList(out io.Writer, insights []model.Insight) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tACTION\tSYMBOL\tCONF\tHORIZON\tTITLE")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t----\t-------\t-----")

	for _, in := range insights {
		title := in.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			truncateID(in.ID),
			in.Action,
			in.PrimarySymbol,
			in.Confidence,
			in.TimeHorizon,
			title,
		)
	}
	_ = w.Flush()
}

var insightColumns = []string{
	"ID", "Run", "Type", "Action", "Primary Symbol", "Related Symbols",
	"Confidence", "Time Horizon", "Title", "Thesis", "Risk Factors",
	"Invalidation Trigger", "Analysts", "Created",
}

// writeInsightsWorkbook saves insights to an xlsx file with one sheet.
func writeInsightsWorkbook(path string, insights []model.Insight) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Insights")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}

	header := sheet.AddRow()
	for _, col := range insightColumns {
		header.AddCell().SetString(col)
	}

	for _, in := range insights {
		row := sheet.AddRow()
		row.AddCell().SetString(in.ID)
		row.AddCell().SetString(in.RunID)
		row.AddCell().SetString(string(in.Type))
		row.AddCell().SetString(string(in.Action))
		row.AddCell().SetString(in.PrimarySymbol)
		row.AddCell().SetString(strings.Join(in.RelatedSymbols, ", "))
		row.AddCell().SetFloat(in.Confidence)
		row.AddCell().SetString(in.TimeHorizon)
		row.AddCell().SetString(in.Title)
		row.AddCell().SetString(in.Thesis)
		row.AddCell().SetString(strings.Join(in.RiskFactors, "; "))
		row.AddCell().SetString(in.InvalidationTrigger)
		row.AddCell().SetString(strings.Join(in.AnalystsInvolved, ", "))
		row.AddCell().SetString(in.CreatedAt.Format("2006-01-02 15:04"))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "save workbook")
	}
	return nil
}
