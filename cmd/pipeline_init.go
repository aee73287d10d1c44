package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nexus-fiscal/fiscal-cli/internal/audit"
	"github.com/nexus-fiscal/fiscal-cli/internal/classify"
	"github.com/nexus-fiscal/fiscal-cli/internal/extract"
	"github.com/nexus-fiscal/fiscal-cli/internal/feedback"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/internal/parser"
	"github.com/nexus-fiscal/fiscal-cli/internal/pipeline"
	"github.com/nexus-fiscal/fiscal-cli/internal/progress"
	"github.com/nexus-fiscal/fiscal-cli/internal/resilience"
	"github.com/nexus-fiscal/fiscal-cli/internal/tax"
	"github.com/nexus-fiscal/fiscal-cli/pkg/ocr"
	"github.com/nexus-fiscal/fiscal-cli/pkg/xai"
)

// pipelineEnv holds the initialized store, collaborators and runner
// shared by the run/serve commands.
type pipelineEnv struct {
	Store    feedback.Store
	Collab   pipeline.Collaborators
	Runner   *pipeline.Runner
	Registry *progress.Registry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (feedback.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return feedback.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return feedback.NewSQLite(cfg.Store.Path)
	}
}

// initPipeline validates the configuration, opens the feedback store
// and wires the stage collaborators into a Runner. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	// Postgres stores can hit transient connection errors on startup.
	if err := resilience.Do(ctx, resilience.DefaultRetryConfig(), st.Migrate); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate feedback store")
	}

	var extractor extract.Extractor
	if cfg.OCR.Provider == "remote" {
		client := ocr.NewClient(cfg.OCR.Key,
			ocr.WithBaseURL(cfg.OCR.BaseURL),
			ocr.WithRetry(resilience.FromRetryConfig(cfg.OCR.RetryMaxAttempts, cfg.OCR.RetryBackoffMS)),
		)
		extractor = extract.NewRemote(client,
			resilience.FromCircuitConfig(cfg.OCR.BreakerThreshold, cfg.OCR.BreakerResetSecs))
		zap.L().Info("remote ocr enabled", zap.String("base_url", cfg.OCR.BaseURL))
	} else {
		extractor = &extract.Local{}
	}

	engine, err := audit.NewEngine()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	var explainer *audit.Explainer
	if cfg.XAI.Offline {
		explainer = audit.NewExplainer(nil)
	} else {
		opts := []xai.Option{xai.WithMaxTokens(cfg.XAI.MaxTokens)}
		if cfg.XAI.Model != "" {
			opts = append(opts, xai.WithModel(cfg.XAI.Model))
		}
		explainer = audit.NewExplainer(audit.NewXAIAssistant(xai.NewClient(cfg.XAI.Key, opts...)))
		zap.L().Info("explanation assistant enabled")
	}

	collab := pipeline.Collaborators{
		Extractor:  extractor,
		Auditor:    audit.NewService(engine, explainer),
		Classifier: classify.New(st),
		Tax: pipeline.TaxFunc(func(doc *model.Document) (*model.TaxResult, error) {
			return tax.Compute(doc)
		}),
	}

	registry := progress.NewRegistry()
	runner := pipeline.NewRunner(pipeline.Config{
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
		StageConcurrency: cfg.Pipeline.StageConcurrency,
		DLQMaxRetries:    cfg.Pipeline.DLQMaxRetries,
	}, collab, registry)

	return &pipelineEnv{Store: st, Collab: collab, Runner: runner, Registry: registry}, nil
}

// parserOptions builds the upload policy from the configuration.
func parserOptions() parser.Options {
	return parser.Options{
		AllowedExtensions:   cfg.Upload.AllowedExtensions,
		AllowedMIMEPrefixes: cfg.Upload.AllowedMIMEs,
		MaxEntryBytes:       cfg.Upload.MaxUploadMB << 20,
	}
}
