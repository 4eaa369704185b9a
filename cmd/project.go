package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/ingest"
	"github.com/sells-group/price-audit/internal/model"
)

var (
	projectName          string
	projectCode          string
	projectLocation      string
	projectProvince      string
	projectCity          string
	projectDistrict      string
	projectBasePriceDate string
	projectContractStart string
	projectContractEnd   string

	materialsSheet string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage audit projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		baseDate, err := model.ParseYearMonth(projectBasePriceDate)
		if err != nil {
			return eris.Wrap(err, "parse --base-price-date")
		}

		p := &model.Project{
			Name:          projectName,
			Code:          projectCode,
			Location:      projectLocation,
			BaseProvince:  projectProvince,
			BaseCity:      projectCity,
			BaseDistrict:  projectDistrict,
			BasePriceDate: baseDate,
		}
		if projectContractStart != "" {
			start, err := model.ParseYearMonth(projectContractStart)
			if err != nil {
				return eris.Wrap(err, "parse --contract-start")
			}
			p.Contract.Start = &start
		}
		if projectContractEnd != "" {
			end, err := model.ParseYearMonth(projectContractEnd)
			if err != nil {
				return eris.Wrap(err, "parse --contract-end")
			}
			p.Contract.End = &end
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.CreateProject(ctx, p); err != nil {
			return eris.Wrap(err, "create project")
		}

		fmt.Println(p.ID)
		zap.L().Info("project created",
			zap.String("id", p.ID),
			zap.String("name", p.Name))
		return nil
	},
}

var projectMaterialsCmd = &cobra.Command{
	Use:   "materials [project-id] [xlsx]",
	Short: "Import a project's reported material list from an XLSX workbook",
	Args:  cobra.ExactArgs(2),
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

		project, err := st.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if project == nil {
			return eris.Errorf("project not found: %s", args[0])
		}

		n, dropped, err := ingest.ImportMaterials(ctx, st, project.ID, args[1], ingest.XLSXOptions{
			SheetName: materialsSheet,
		})
		if err != nil {
			return eris.Wrap(err, "import materials")
		}

		for _, d := range dropped {
			zap.L().Warn("row skipped", zap.Int("row", d.Row), zap.String("reason", d.Reason))
		}
		zap.L().Info("materials imported", zap.Int("created", n))
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectCode, "code", "", "project code")
	projectCreateCmd.Flags().StringVar(&projectLocation, "location", "", "free-form project location")
	projectCreateCmd.Flags().StringVar(&projectProvince, "province", "", "base-price province code or name")
	projectCreateCmd.Flags().StringVar(&projectCity, "city", "", "base-price city code or name")
	projectCreateCmd.Flags().StringVar(&projectDistrict, "district", "", "base-price district code or name")
	projectCreateCmd.Flags().StringVar(&projectBasePriceDate, "base-price-date", "", "guided-price period, e.g. 2024-03 (required)")
	projectCreateCmd.Flags().StringVar(&projectContractStart, "contract-start", "", "contract window start, e.g. 2024-01")
	projectCreateCmd.Flags().StringVar(&projectContractEnd, "contract-end", "", "contract window end, e.g. 2024-12")
	_ = projectCreateCmd.MarkFlagRequired("name")
	_ = projectCreateCmd.MarkFlagRequired("base-price-date")

	projectMaterialsCmd.Flags().StringVar(&materialsSheet, "sheet", "", "sheet name (default first sheet)")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectMaterialsCmd)
	rootCmd.AddCommand(projectCmd)
}
