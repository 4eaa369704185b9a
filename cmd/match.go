package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/matcher"
	"github.com/sells-group/price-audit/internal/store"
)

var matchThreshold float64

var matchCmd = &cobra.Command{
	Use:   "match [project-id]",
	Short: "Match reported materials against the guided price catalogue",
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

		materials, _, err := st.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{})
		if err != nil {
			return err
		}

		threshold := cfg.Matching.AutoMatchThreshold
		if cmd.Flags().Changed("threshold") {
			threshold = matchThreshold
		}

		m := matcher.New(st, matcher.WithThreshold(threshold))
		outcome, err := m.MatchProject(ctx, project, materials)
		if err != nil {
			return eris.Wrap(err, "match project")
		}

		zap.L().Info("matching finished",
			zap.String("project_id", project.ID),
			zap.Int("considered", outcome.Considered),
			zap.Int("matched", outcome.Matched),
			zap.Any("by_method", outcome.ByMethod))
		return nil
	},
}

func init() {
	matchCmd.Flags().Float64Var(&matchThreshold, "threshold", 0, "override the auto-match similarity threshold")
	rootCmd.AddCommand(matchCmd)
}
