package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/matcher"
	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/store"
)

var candidatesTop int

// loadMaterialWithProject resolves a material id to the item and its project.
func loadMaterialWithProject(cmd *cobra.Command, st store.Store, materialID string) (*model.Project, *model.ProjectMaterial, error) {
	ctx := cmd.Context()

	item, err := st.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, eris.Errorf("material not found: %s", materialID)
	}
	project, err := st.GetProject(ctx, item.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if project == nil {
		return nil, nil, eris.Errorf("project not found: %s", item.ProjectID)
	}
	return project, item, nil
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates [material-id]",
	Short: "List the best catalogue candidates for a material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		project, item, err := loadMaterialWithProject(cmd, st, args[0])
		if err != nil {
			return err
		}

		m := matcher.New(st, matcher.WithThreshold(cfg.Matching.AutoMatchThreshold))
		got, err := m.TopCandidates(cmd.Context(), project, item, candidatesTop)
		if err != nil {
			return eris.Wrap(err, "list candidates")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(got)
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign [material-id] [reference-id]",
	Short: "Manually match a material to a catalogue entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		_, item, err := loadMaterialWithProject(cmd, st, args[0])
		if err != nil {
			return err
		}

		m := matcher.New(st)
		if err := m.ApplyManualMatch(cmd.Context(), item, args[1]); err != nil {
			return err
		}

		zap.L().Info("manual match applied",
			zap.String("material_id", item.ID),
			zap.String("reference_id", item.ReferenceID),
			zap.Float64("score", item.MatchScore))
		return nil
	},
}

var unmatchCmd = &cobra.Command{
	Use:   "unmatch [material-id]",
	Short: "Clear a material's match and its derived analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		_, item, err := loadMaterialWithProject(cmd, st, args[0])
		if err != nil {
			return err
		}

		m := matcher.New(st)
		if err := m.Unmatch(cmd.Context(), item); err != nil {
			return err
		}

		zap.L().Info("match cleared", zap.String("material_id", item.ID))
		return nil
	},
}

func init() {
	candidatesCmd.Flags().IntVar(&candidatesTop, "top", 10, "number of candidates to list")
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(unmatchCmd)
}
