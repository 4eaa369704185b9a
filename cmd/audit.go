package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/analysis"
	"github.com/sells-group/price-audit/internal/guided"
	"github.com/sells-group/price-audit/internal/matcher"
	"github.com/sells-group/price-audit/internal/store"
)

var auditProvider string

// auditCmd chains the whole pipeline: hierarchical matching, guided-price
// differential analysis for the matched side, AI analysis for the rest.
var auditCmd = &cobra.Command{
	Use:   "audit [project-id]",
	Short: "Run the full audit pipeline for a project",
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

		mgr, err := initProviderManager()
		if err != nil {
			return err
		}

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
		if len(materials) == 0 {
			return eris.Errorf("project %s has no materials", project.ID)
		}

		m := matcher.New(st, matcher.WithThreshold(cfg.Matching.AutoMatchThreshold))
		outcome, err := m.MatchProject(ctx, project, materials)
		if err != nil {
			return eris.Wrap(err, "match project")
		}
		zap.L().Info("matching finished",
			zap.Int("considered", outcome.Considered),
			zap.Int("matched", outcome.Matched))

		eng := guided.NewEngine(st, guided.WithThreshold(cfg.Analysis.GuidedPriceThreshold))
		guidedSummary, err := eng.RunProject(ctx, project)
		if err != nil {
			return eris.Wrap(err, "guided analysis")
		}
		zap.L().Info("guided analysis finished",
			zap.Int("processed", guidedSummary.Processed),
			zap.Int("adjusted", guidedSummary.Adjusted),
			zap.Int("failed", guidedSummary.Failed))

		matched := false
		unmatched, _, err := st.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{Matched: &matched})
		if err != nil {
			return err
		}

		aiEngine := analysis.NewEngine(st, mgr,
			analysis.WithConcurrency(cfg.Analysis.MaxConcurrentAnalyses),
			analysis.WithRateLimit(cfg.Providers.RateLimitPerMinute))
		aiSummary, err := aiEngine.AnalyseBatch(ctx, project, unmatched, auditProvider)
		if err != nil {
			return eris.Wrap(err, "ai analysis")
		}

		zap.L().Info("audit finished",
			zap.String("project_id", project.ID),
			zap.Int("materials", len(materials)),
			zap.Int("matched", outcome.Matched),
			zap.Int("guided_adjusted", guidedSummary.Adjusted),
			zap.Int("ai_completed", aiSummary.Completed),
			zap.Int("ai_failed", aiSummary.Failed),
			zap.Int("ai_skipped", aiSummary.Skipped))
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditProvider, "provider", "", "preferred AI provider for the analysis stage")
	rootCmd.AddCommand(auditCmd)
}
