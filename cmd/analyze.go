package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/analysis"
	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/store"
)

var (
	analyzeProvider string
	analyzeAll      bool
	analyzeMaterial string
	analyzeForce    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [project-id]",
	Short: "Run AI price analysis for materials without a catalogue match",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}
		if analyzeMaterial == "" && len(args) != 1 {
			return eris.New("pass a project id or --material")
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

		eng := analysis.NewEngine(st, mgr,
			analysis.WithConcurrency(cfg.Analysis.MaxConcurrentAnalyses),
			analysis.WithRateLimit(cfg.Providers.RateLimitPerMinute),
			analysis.WithForce(analyzeForce))

		if analyzeMaterial != "" {
			return analyzeOne(cmd, st, eng, analyzeMaterial)
		}

		project, err := st.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if project == nil {
			return eris.Errorf("project not found: %s", args[0])
		}

		filter := store.MaterialFilter{}
		if !analyzeAll {
			matched := false
			filter.Matched = &matched
		}
		materials, _, err := st.ListProjectMaterials(ctx, project.ID, filter)
		if err != nil {
			return err
		}

		summary, err := eng.AnalyseBatch(ctx, project, materials, analyzeProvider)
		if err != nil {
			return eris.Wrap(err, "analyze batch")
		}

		zap.L().Info("analysis finished",
			zap.String("project_id", project.ID),
			zap.Int("total", summary.Total),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped))
		return nil
	},
}

func analyzeOne(cmd *cobra.Command, st store.Store, eng *analysis.Engine, materialID string) error {
	ctx := cmd.Context()

	item, err := st.GetMaterial(ctx, materialID)
	if err != nil {
		return err
	}
	if item == nil {
		return eris.Errorf("material not found: %s", materialID)
	}
	project, err := st.GetProject(ctx, item.ProjectID)
	if err != nil {
		return err
	}

	a, err := eng.AnalyseMaterial(ctx, project, item, analyzeProvider)
	if err != nil {
		return eris.Wrap(err, "analyze material")
	}

	fields := []zap.Field{
		zap.String("material_id", materialID),
		zap.String("status", string(a.Status)),
		zap.String("risk_level", string(a.RiskLevel)),
	}
	if a.HasBand() {
		fields = append(fields,
			zap.Float64("price_min", *a.PredictedPriceMin),
			zap.Float64("price_max", *a.PredictedPriceMax))
	}
	if a.Status == model.AnalysisFailed {
		fields = append(fields, zap.String("error", a.ErrorMessage))
	}
	zap.L().Info("analysis finished", fields...)
	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeProvider, "provider", "", "preferred AI provider (default config primary, then failover chain)")
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "analyze every material, not just unmatched ones")
	analyzeCmd.Flags().StringVar(&analyzeMaterial, "material", "", "analyze a single material by id")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "re-run materials that already have a completed analysis")
	rootCmd.AddCommand(analyzeCmd)
}
