package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/ingest"
)

var (
	importSheet    string
	importSkipRows int
)

var importCmd = &cobra.Command{
	Use:   "import [xlsx]",
	Short: "Import a guided-price catalogue from an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, dropped, err := ingest.ImportCatalogue(ctx, st, args[0], ingest.XLSXOptions{
			SheetName: importSheet,
			SkipRows:  importSkipRows,
		})
		if err != nil {
			return eris.Wrap(err, "import catalogue")
		}

		for _, d := range dropped {
			zap.L().Warn("row skipped", zap.Int("row", d.Row), zap.String("reason", d.Reason))
		}
		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.Int("skipped", len(dropped)))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "sheet name (default first sheet)")
	importCmd.Flags().IntVar(&importSkipRows, "skip-rows", 0, "extra header rows to skip")
	rootCmd.AddCommand(importCmd)
}
