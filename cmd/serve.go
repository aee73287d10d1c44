package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fiscal document API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the full API surface around an initialized pipeline
// environment.
func newRouter(env *pipelineEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/health", handleHealth)

	r.Post("/upload/file", handleUploadFile(env))
	r.Post("/upload/multiple", handleUploadMultiple(env))
	r.Post("/upload/zip", handleUploadZip(env))

	r.Post("/orchestrate", handleOrchestrate(env))
	r.Post("/validate", handleValidate(env))
	r.Post("/classify", handleClassify(env))
	r.Post("/automate", handleAutomate(env))
	r.Post("/consult", handleConsult)

	r.Post("/compare/incremental", handleCompareIncremental)
	r.Post("/compare/interdoc", handleCompareInterdoc)

	r.Post("/export/html", handleExportHTML)
	r.Post("/export/sped", handleExportSPED)

	r.Post("/pipeline/jobs", handleCreateJob(env))
	r.Get("/pipeline/jobs/{jobID}", handleGetJob(env))
	r.Get("/pipeline/jobs/{jobID}/stream", handleStreamJob(env))

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
