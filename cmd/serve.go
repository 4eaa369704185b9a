package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/analysis"
	"github.com/sells-group/price-audit/internal/guided"
	"github.com/sells-group/price-audit/internal/matcher"
	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/report"
	"github.com/sells-group/price-audit/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server exposing the audit pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
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

		aiEngine := analysis.NewEngine(st, mgr,
			analysis.WithConcurrency(cfg.Analysis.MaxConcurrentAnalyses),
			analysis.WithRateLimit(cfg.Providers.RateLimitPerMinute))
		guidedEngine := guided.NewEngine(st, guided.WithThreshold(cfg.Analysis.GuidedPriceThreshold))
		match := matcher.New(st, matcher.WithThreshold(cfg.Matching.AutoMatchThreshold))
		builder := report.NewBuilder(st, report.WithTopN(cfg.Analysis.TopAdjustments))

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			if err := st.Ping(r.Context()); err != nil {
				http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		// lookupProject answers 404/500 itself; a nil return means the
		// response is already written.
		lookupProject := func(w http.ResponseWriter, r *http.Request) *model.Project {
			project, err := st.GetProject(r.Context(), r.PathValue("id"))
			if err != nil {
				http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
				return nil
			}
			if project == nil {
				http.Error(w, `{"error":"project not found"}`, http.StatusNotFound)
				return nil
			}
			return project
		}

		accepted := func(w http.ResponseWriter, projectID string, run func()) {
			go run()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{
				"status":  "accepted",
				"project": projectID,
			})
		}

		mux.HandleFunc("POST /projects/{id}/match", func(w http.ResponseWriter, r *http.Request) {
			project := lookupProject(w, r)
			if project == nil {
				return
			}
			accepted(w, project.ID, func() {
				materials, _, err := st.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{})
				if err == nil {
					_, err = match.MatchProject(ctx, project, materials)
				}
				if err != nil {
					zap.L().Error("matching failed", zap.String("project_id", project.ID), zap.Error(err))
				}
			})
		})

		mux.HandleFunc("POST /projects/{id}/guided", func(w http.ResponseWriter, r *http.Request) {
			project := lookupProject(w, r)
			if project == nil {
				return
			}
			accepted(w, project.ID, func() {
				if _, err := guidedEngine.RunProject(ctx, project); err != nil {
					zap.L().Error("guided analysis failed", zap.String("project_id", project.ID), zap.Error(err))
				}
			})
		})

		mux.HandleFunc("POST /projects/{id}/analyze", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Provider string `json:"provider"`
			}
			if r.ContentLength > 0 {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
					return
				}
			}
			project := lookupProject(w, r)
			if project == nil {
				return
			}
			accepted(w, project.ID, func() {
				unmatched := false
				rest, _, err := st.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{Matched: &unmatched})
				if err == nil {
					_, err = aiEngine.AnalyseBatch(ctx, project, rest, req.Provider)
				}
				if err != nil {
					zap.L().Error("ai analysis failed", zap.String("project_id", project.ID), zap.Error(err))
				}
			})
		})

		mux.HandleFunc("POST /projects/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Provider string `json:"provider"`
			}
			if r.ContentLength > 0 {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
					return
				}
			}

			project := lookupProject(w, r)
			if project == nil {
				return
			}

			// Run the pipeline asynchronously; progress lands in the store.
			accepted(w, project.ID, func() {
				materials, _, err := st.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{})
				if err != nil {
					zap.L().Error("audit failed", zap.String("project_id", project.ID), zap.Error(err))
					return
				}
				if _, err := match.MatchProject(ctx, project, materials); err != nil {
					zap.L().Error("audit matching failed", zap.String("project_id", project.ID), zap.Error(err))
					return
				}
				if _, err := guidedEngine.RunProject(ctx, project); err != nil {
					zap.L().Error("audit guided analysis failed", zap.String("project_id", project.ID), zap.Error(err))
					return
				}
				unmatched := false
				rest, _, err := st.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{Matched: &unmatched})
				if err != nil {
					zap.L().Error("audit failed", zap.String("project_id", project.ID), zap.Error(err))
					return
				}
				summary, err := aiEngine.AnalyseBatch(ctx, project, rest, req.Provider)
				if err != nil {
					zap.L().Error("audit ai analysis failed", zap.String("project_id", project.ID), zap.Error(err))
					return
				}
				zap.L().Info("audit complete",
					zap.String("project_id", project.ID),
					zap.Int("ai_completed", summary.Completed),
					zap.Int("ai_failed", summary.Failed),
				)
			})
		})

		mux.HandleFunc("GET /projects/{id}/report", func(w http.ResponseWriter, r *http.Request) {
			rep, err := builder.Build(r.Context(), r.PathValue("id"))
			if err != nil {
				http.Error(w, `{"error":"project not found"}`, http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(rep)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
