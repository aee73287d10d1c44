package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexus-fiscal/fiscal-cli/internal/export"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/internal/parser"
	"github.com/nexus-fiscal/fiscal-cli/internal/pipeline"
)

var (
	runOutput    string
	runExportDir string
	runHTML      bool
	runSPED      bool
)

var runCmd = &cobra.Command{
	Use:   "run [files or globs]",
	Short: "Process fiscal documents through the analysis pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		paths, err := expandArgs(args)
		if err != nil {
			return err
		}
		docs, err := loadDocuments(paths)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return eris.New("run: no processable documents found")
		}
		zap.L().Info("batch loaded", zap.Int("documents", len(docs)))

		result, err := env.Runner.Run(ctx, docs, nil)
		if err != nil {
			return err
		}

		insight := pipeline.GenerateInsights(result.Reports, result.Aggregated)
		output := struct {
			*model.BatchResult
			Insight model.Insight `json:"insight"`
		}{result, insight}

		if err := writeJSON(runOutput, output); err != nil {
			return err
		}

		if runHTML || runSPED {
			if err := exportReports(result.Reports); err != nil {
				return err
			}
		}
		if cfg.Export.ProcessingLog {
			if err := writeProcessingLog(result); err != nil {
				return err
			}
		}
		if entries := env.Runner.DeadLetters(result); len(entries) > 0 {
			path := filepath.Join(cfg.Export.LogDir, "dead_letters.json")
			if err := writeJSONFile(path, entries); err != nil {
				return err
			}
			zap.L().Warn("documents failed, dead letter file written",
				zap.Int("failed", len(entries)),
				zap.String("path", path))
		}

		return nil
	},
}

// expandArgs resolves globs and plain paths into a sorted file list.
func expandArgs(args []string) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "run: bad pattern %q", arg)
		}
		if len(matches) == 0 {
			return nil, eris.Errorf("run: no files match %q", arg)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func loadDocuments(paths []string) ([]*model.Document, error) {
	opts := parserOptions()
	var docs []*model.Document
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "run: read %s", path)
		}
		name := filepath.Base(path)
		if strings.EqualFold(filepath.Ext(name), ".zip") {
			expanded, err := parser.ParseZip(content, opts)
			if err != nil {
				return nil, err
			}
			docs = append(docs, expanded...)
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(name))
		doc, err := parser.ParseFile(name, content, mimeType, opts)
		if err != nil {
			return nil, err
		}
		if doc.Kind == model.KindUnknown {
			zap.L().Warn("file skipped", zap.String("path", path))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func exportReports(reports []model.DocumentReport) error {
	if err := os.MkdirAll(runExportDir, 0o755); err != nil {
		return eris.Wrap(err, "run: create export dir")
	}
	for _, report := range reports {
		if runHTML {
			payload, err := export.HTML(report)
			if err != nil {
				return err
			}
			path := filepath.Join(runExportDir, report.DocumentID+".html")
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				return eris.Wrapf(err, "run: write %s", path)
			}
		}
		if runSPED {
			if !cfg.Export.EnableSPED {
				return eris.New("run: sped export disabled in configuration")
			}
			payload, err := export.SPED(report)
			if err != nil {
				return err
			}
			path := filepath.Join(runExportDir, report.DocumentID+"_sped.xml")
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				return eris.Wrapf(err, "run: write %s", path)
			}
		}
	}
	return nil
}

func writeProcessingLog(result *model.BatchResult) error {
	path := filepath.Join(cfg.Export.LogDir, "processing_log.json")
	return writeJSONFile(path, result.Logs)
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "run: create dir for %s", path)
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "run: marshal json")
	}
	return os.WriteFile(path, payload, 0o644)
}

func writeJSON(path string, v any) error {
	if path == "" || path == "-" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if err := writeJSONFile(path, v); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "result written to %s\n", path)
	return nil
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write batch result JSON to file (default stdout)")
	runCmd.Flags().StringVar(&runExportDir, "export-dir", "./exports", "directory for HTML/SPED exports")
	runCmd.Flags().BoolVar(&runHTML, "html", false, "export an HTML report per document")
	runCmd.Flags().BoolVar(&runSPED, "sped", false, "export a SPED/EFD XML per document")
	rootCmd.AddCommand(runCmd)
}
