package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-engine/internal/engine"
	"github.com/sells-group/insight-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering and monitoring runs",
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

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng := buildEngine(st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: apiRouter(ctx, st, eng),
		}

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

// apiRouter builds the HTTP routes. runCtx is the lifetime context handed to
// background runs so an in-flight run observes server shutdown.
func apiRouter(runCtx context.Context, st store.Store, eng *engine.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/analysis/start", startAnalysisHandler(runCtx, st, eng))
		r.Get("/analysis/status/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
		r.Get("/analysis/active", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.ActiveRun(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if run == nil {
				writeJSON(w, http.StatusOK, map[string]any{"active": false})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
		r.Post("/analysis/cancel/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := st.RequestCancel(req.Context(), id); err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancel_requested"})
		})
		r.Get("/insights", func(w http.ResponseWriter, req *http.Request) {
			insights, err := st.ListInsights(req.Context(), insightFilterFromQuery(req))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, insights)
		})
	})

	return r
}

// startAnalysisHandler creates a run and kicks off the pipeline in the
// background. Only one run may be in flight at a time.
func startAnalysisHandler(runCtx context.Context, st store.Store, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		active, err := st.ActiveRun(req.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if active != nil {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":  "a run is already in progress",
				"run_id": active.ID,
			})
			return
		}

		var body struct {
			MaxInsights  int `json:"max_insights"`
			DeepDiveSize int `json:"deep_dive_size"`
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&body)
		}
		maxInsights := cfg.Engine.MaxInsights
		if body.MaxInsights > 0 {
			maxInsights = body.MaxInsights
		}
		deepDive := cfg.Engine.DeepDiveCount
		if body.DeepDiveSize > 0 {
			deepDive = body.DeepDiveSize
		}

		run, err := st.CreateRun(req.Context(), maxInsights, deepDive)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		go func() {
			result, err := eng.Resume(runCtx, run)
			if err != nil {
				zap.L().Error("background run failed",
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("background run complete",
				zap.String("run_id", run.ID),
				zap.Int("insights", len(result.Insights)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": run.ID,
			"status": "accepted",
		})
	}
}

func insightFilterFromQuery(req *http.Request) store.InsightFilter {
	q := req.URL.Query()
	filter := store.InsightFilter{
		RunID:  q.Get("run"),
		Action: strings.ToUpper(q.Get("action")),
		Symbol: strings.ToUpper(q.Get("symbol")),
		Limit:  100,
	}
	if v, err := strconv.ParseFloat(q.Get("min_confidence"), 64); err == nil {
		filter.MinConfidence = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		filter.Limit = v
	}
	return filter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
