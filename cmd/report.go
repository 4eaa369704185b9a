package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/report"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report [project-id]",
	Short: "Build the audit report for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		b := report.NewBuilder(st, report.WithTopN(cfg.Analysis.TopAdjustments))
		rep, err := b.Build(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "build report")
		}

		if reportOutput != "" {
			data, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return eris.Wrap(err, "encode report")
			}
			if err := os.WriteFile(reportOutput, data, 0o644); err != nil {
				return eris.Wrap(err, "write report")
			}
			zap.L().Info("report written", zap.String("path", reportOutput))
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}
