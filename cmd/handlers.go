package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nexus-fiscal/fiscal-cli/internal/export"
	"github.com/nexus-fiscal/fiscal-cli/internal/fiscal"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/internal/parser"
	"github.com/nexus-fiscal/fiscal-cli/internal/pipeline"
)

const apiVersion = "1.2"

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorResponse(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func maxUploadBytes() int64 {
	return cfg.Upload.MaxUploadMB << 20
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"max_upload_mb": cfg.Upload.MaxUploadMB,
		"version":       apiVersion,
	})
}

// readUpload drains one multipart file under the upload size cap.
func readUpload(fh *multipart.FileHeader) (string, []byte, error) {
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes()+1))
	if err != nil {
		return "", nil, err
	}
	if int64(len(content)) > maxUploadBytes() {
		return "", nil, fmt.Errorf("%s excede limite de %d MB", fh.Filename, cfg.Upload.MaxUploadMB)
	}
	return fh.Filename, content, nil
}

func isZipUpload(name, mime string) bool {
	if strings.EqualFold(path.Ext(name), ".zip") {
		return true
	}
	return mime == "application/zip" || mime == "application/x-zip-compressed"
}

// collectDocs parses every multipart file, expanding zip archives.
func collectDocs(files []*multipart.FileHeader) ([]*model.Document, error) {
	opts := parserOptions()
	var docs []*model.Document
	for _, fh := range files {
		name, content, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		mime := fh.Header.Get("Content-Type")
		if isZipUpload(name, mime) {
			expanded, err := parser.ParseZip(content, opts)
			if err != nil {
				return nil, err
			}
			docs = append(docs, expanded...)
			continue
		}
		doc, err := parser.ParseFile(name, content, mime, opts)
		if err != nil {
			return nil, err
		}
		if doc.Kind == model.KindUnknown {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func runBatch(env *pipelineEnv, w http.ResponseWriter, r *http.Request, docs []*model.Document) {
	result, err := env.Runner.Run(r.Context(), docs, nil)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func handleUploadFile(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes()+(1<<20))
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Nenhum arquivo enviado.")
			return
		}
		name, content, err := readUpload(files[0])
		if err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		doc, err := parser.ParseFile(name, content, files[0].Header.Get("Content-Type"), parserOptions())
		if err != nil {
			writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if doc.Kind == model.KindUnknown {
			writeErrorResponse(w, http.StatusBadRequest, "Extensão não suportada para processamento.")
			return
		}
		runBatch(env, w, r, []*model.Document{doc})
	}
}

func handleUploadMultiple(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes()*2)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		docs, err := collectDocs(r.MultipartForm.File["files"])
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(docs) == 0 {
			writeErrorResponse(w, http.StatusUnprocessableEntity, "Nenhum arquivo válido encontrado para processamento.")
			return
		}
		runBatch(env, w, r, docs)
	}
}

func handleUploadZip(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes()+(1<<20))
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Nenhum arquivo enviado.")
			return
		}
		name, content, err := readUpload(files[0])
		if err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		if !isZipUpload(name, files[0].Header.Get("Content-Type")) {
			writeErrorResponse(w, http.StatusBadRequest, "Apenas .zip permitido neste endpoint.")
			return
		}
		docs, err := parser.ParseZip(content, parserOptions())
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(docs) == 0 {
			writeErrorResponse(w, http.StatusUnprocessableEntity, "Nenhum arquivo válido encontrado no ZIP.")
			return
		}
		runBatch(env, w, r, docs)
	}
}

type orchestrateRequest struct {
	Documents []*model.Document `json:"documents"`
	Async     bool              `json:"async"`
}

func handleOrchestrate(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "corpo da requisição inválido")
			return
		}
		if len(req.Documents) == 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Nenhum documento enviado.")
			return
		}

		if req.Async {
			jobID := env.Runner.StartJob(req.Documents)
			writeJSONResponse(w, http.StatusAccepted, map[string]string{
				"status": "accepted",
				"job_id": jobID,
			})
			return
		}

		result, err := env.Runner.Run(r.Context(), req.Documents, nil)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		insight := pipeline.GenerateInsights(result.Reports, result.Aggregated)
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"status":     "completed",
			"reports":    result.Reports,
			"logs":       result.Logs,
			"aggregated": result.Aggregated,
			"insight":    insight,
		})
	}
}

func decodeDocument(r *http.Request) (*model.Document, error) {
	var doc model.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Data.Metadata == nil {
		doc.Data.Metadata = map[string]string{}
	}
	return &doc, nil
}

func handleValidate(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := decodeDocument(r)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "documento inválido")
			return
		}
		report, err := env.Collab.Auditor.Audit(r.Context(), doc)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}

		corrections := map[string]bool{}
		for _, inc := range report.Inconsistencies {
			if inc.Severity != "WARN" && inc.Severity != "ERROR" {
				continue
			}
			field := inc.Field
			if field == "" {
				field = "campo"
			}
			corrections[fmt.Sprintf("Revisar %s (%s)", field, inc.Code)] = true
		}
		recommended := make([]string, 0, len(corrections))
		for c := range corrections {
			recommended = append(recommended, c)
		}
		sort.Strings(recommended)

		writeJSONResponse(w, http.StatusOK, map[string]any{
			"score":                   report.Score,
			"inconsistencies":         report.Inconsistencies,
			"recommended_corrections": recommended,
		})
	}
}

func handleClassify(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := decodeDocument(r)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "documento inválido")
			return
		}
		result, err := env.Collab.Classifier.Classify(r.Context(), doc, nil)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, result)
	}
}

func handleAutomate(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Document *model.Document `json:"document"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Document == nil {
			writeErrorResponse(w, http.StatusBadRequest, "documento inválido")
			return
		}
		result, err := env.Collab.Tax.Compute(r.Context(), req.Document)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, result)
	}
}

type consultRequest struct {
	Documents       []*model.Document            `json:"documents"`
	Audits          []model.AuditReport          `json:"audits"`
	Classifications []model.ClassificationResult `json:"classifications"`
	Accounting      []model.TaxResult            `json:"accounting"`
}

func handleConsult(w http.ResponseWriter, r *http.Request) {
	var req consultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}

	var reports []model.DocumentReport
	for i, doc := range req.Documents {
		id := doc.ID
		if id == "" {
			id = doc.Name
		}
		report := model.DocumentReport{
			DocumentID: id,
			Title:      doc.Name,
			Source: model.SourceSnapshot{
				Emitente:     doc.Data.Emitente,
				Destinatario: doc.Data.Destinatario,
				Itens:        doc.Data.Itens,
				Impostos:     doc.Data.Impostos,
			},
		}
		if i < len(req.Audits) {
			a := req.Audits[i]
			report.Compliance = &a
		}
		if i < len(req.Classifications) {
			c := req.Classifications[i]
			report.Classification = &c
		}
		if i < len(req.Accounting) {
			t := req.Accounting[i]
			report.Taxes = &t
		}
		reports = append(reports, report)
	}

	totals := map[string]float64{}
	for _, accounting := range req.Accounting {
		for key, value := range accounting.Resumo {
			totals[key] += value
		}
	}

	insight := pipeline.GenerateInsights(reports, model.AggregateTotals{Totals: totals})
	writeJSONResponse(w, http.StatusOK, insight)
}

type incrementalRequest struct {
	Previous struct {
		Totals map[string]float64 `json:"totals"`
	} `json:"previous"`
	Current struct {
		Totals map[string]float64 `json:"totals"`
	} `json:"current"`
}

func handleCompareIncremental(w http.ResponseWriter, r *http.Request) {
	var req incrementalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	differences := fiscal.CompareTotals(req.Previous.Totals, req.Current.Totals)
	writeJSONResponse(w, http.StatusOK, map[string]any{"differences": differences})
}

func handleCompareInterdoc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Docs []fiscal.Doc `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	result := fiscal.CompareDocs(req.Docs)
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok", "result": result})
}

type exportRequest struct {
	Dataset model.DocumentReport `json:"dataset"`
}

func handleExportHTML(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	payload, err := export.HTML(req.Dataset)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.HTMLFilename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func handleExportSPED(w http.ResponseWriter, r *http.Request) {
	if !cfg.Export.EnableSPED {
		writeErrorResponse(w, http.StatusForbidden, "Exportação SPED desabilitada nas configurações")
		return
	}
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	payload, err := export.SPED(req.Dataset)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.SPEDFilename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func handleCreateJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes()*2)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		docs, err := collectDocs(r.MultipartForm.File["files"])
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(docs) == 0 {
			writeErrorResponse(w, http.StatusUnprocessableEntity, "Nenhum arquivo válido encontrado para processamento.")
			return
		}
		jobID := env.Runner.StartJob(docs)
		writeJSONResponse(w, http.StatusOK, map[string]string{"job_id": jobID})
	}
}

func handleGetJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		result, ok := env.Registry.GetResult(jobID)
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, "Resultado ainda não disponível ou job inexistente.")
			return
		}
		writeJSONResponse(w, http.StatusOK, result)
	}
}

func handleStreamJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		ch, ok := env.Registry.Subscribe(jobID)
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, "Job inexistente.")
			return
		}
		defer env.Registry.Discard(jobID, ch)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeErrorResponse(w, http.StatusInternalServerError, "streaming não suportado")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case ev, open := <-ch:
				if !open {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					zap.L().Error("stream marshal failed", zap.String("job_id", jobID), zap.Error(err))
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
