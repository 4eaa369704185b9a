package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/guided"
)

var guidedCmd = &cobra.Command{
	Use:   "guided [project-id]",
	Short: "Run guided-price differential analysis for matched materials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		project, err := st.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if project == nil {
			return eris.Errorf("project not found: %s", args[0])
		}

		eng := guided.NewEngine(st, guided.WithThreshold(cfg.Analysis.GuidedPriceThreshold))
		summary, err := eng.RunProject(ctx, project)
		if err != nil {
			return eris.Wrap(err, "guided analysis")
		}

		zap.L().Info("guided analysis finished",
			zap.String("project_id", project.ID),
			zap.Int("processed", summary.Processed),
			zap.Int("adjusted", summary.Adjusted),
			zap.Int("failed", summary.Failed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(guidedCmd)
}
