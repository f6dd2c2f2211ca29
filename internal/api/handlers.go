package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"datalens/internal/models"
	"datalens/internal/pagination"
	"datalens/internal/parser"
	"datalens/internal/service/analysis"
	"datalens/internal/service/dataset"
	"datalens/internal/worker"
)

// WorkerManager is the analysis dispatch surface the handlers depend on.
type WorkerManager interface {
	Ready() bool
	Submit(worker.Request) (worker.Result, error)
	InvalidateFile(ctx context.Context, fileID string)
}

// Handler wires HTTP routes to the dataset service and the analysis workers.
type Handler struct {
	datasets *dataset.Service
	workers  WorkerManager

	fileListMaxLimit int
	rowPageMaxLimit  int
	analysisMaxRows  int
}

type HandlerConfig struct {
	FileListMaxLimit int
	RowPageMaxLimit  int
	AnalysisMaxRows  int
}

// NewHandler constructs a Handler instance. A nil worker manager disables the
// analysis routes with 503 instead of failing startup.
func NewHandler(datasets *dataset.Service, workers WorkerManager, cfg HandlerConfig) *Handler {
	if cfg.FileListMaxLimit <= 0 {
		cfg.FileListMaxLimit = 100
	}
	if cfg.RowPageMaxLimit <= 0 {
		cfg.RowPageMaxLimit = 500
	}
	if cfg.AnalysisMaxRows <= 0 {
		cfg.AnalysisMaxRows = 100
	}
	return &Handler{
		datasets:         datasets,
		workers:          workers,
		fileListMaxLimit: cfg.FileListMaxLimit,
		rowPageMaxLimit:  cfg.RowPageMaxLimit,
		analysisMaxRows:  cfg.AnalysisMaxRows,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.POST("/files", h.uploadFile)
	api.GET("/files", h.listFiles)
	api.GET("/files/:id", h.getFile)
	api.GET("/files/:id/data", h.getFileData)
	api.DELETE("/files/:id", h.deleteFile)

	api.POST("/files/:id/analyze", h.analyzeFile)
	api.GET("/files/:id/chart-suggestions", h.suggestCharts)
	api.POST("/ai/analyze-custom", h.analyzeCustom)
	api.POST("/ai/summarize", h.summarize)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) uploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open upload failed"})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read upload failed"})
		return
	}

	rec, err := h.datasets.Ingest(c.Request.Context(), dataset.Upload{
		OriginalName: fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		Data:         data,
	})
	if err != nil {
		var parseErr *parser.ParseError
		switch {
		case errors.As(err, &parseErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": parseErr.Error(), "kind": string(parseErr.Kind)})
		case errors.Is(err, dataset.ErrInvalidFileType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_file_type"})
		case errors.Is(err, dataset.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "file_too_large"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "File uploaded and processed successfully",
		"file":    fileSummary(rec),
	})
}

func (h *Handler) listFiles(c *gin.Context) {
	page, limit, ok := h.pageParams(c, 20)
	if !ok {
		return
	}
	offset, limit := pagination.Window(page, limit, h.fileListMaxLimit)
	files, total, err := h.datasets.ListFiles(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summaries := make([]gin.H, 0, len(files))
	for i := range files {
		summaries = append(summaries, fileSummary(&files[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"files":      summaries,
		"pagination": pagination.NewMeta(page, limit, total),
	})
}

func (h *Handler) getFile(c *gin.Context) {
	rec, ok := h.lookupFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": fileSummary(rec)})
}

// getFileData serves bare row payloads: the response data array holds the
// column-to-value maps themselves, not the row envelope records.
func (h *Handler) getFileData(c *gin.Context) {
	rec, ok := h.lookupFile(c)
	if !ok {
		return
	}
	page, limit, ok := h.pageParams(c, 100)
	if !ok {
		return
	}
	offset, limit := pagination.Window(page, limit, h.rowPageMaxLimit)
	records, total, err := h.datasets.GetRows(c.Request.Context(), rec.ID, offset, limit)
	if err != nil {
		if errors.Is(err, dataset.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows := make([]map[string]any, 0, len(records))
	for i := range records {
		rows = append(rows, records[i].Payload)
	}
	c.JSON(http.StatusOK, gin.H{
		"file":       fileSummary(rec),
		"data":       rows,
		"pagination": pagination.NewMeta(page, limit, total),
	})
}

func (h *Handler) deleteFile(c *gin.Context) {
	fileID := c.Param("id")
	deleted, err := h.datasets.DeleteFile(c.Request.Context(), fileID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if h.workers != nil {
		h.workers.InvalidateFile(c.Request.Context(), fileID)
	}
	c.Status(http.StatusNoContent)
}

type analyzeRequest struct {
	Query string `json:"query"`
}

func (h *Handler) analyzeFile(c *gin.Context) {
	if !h.analysisReady(c) {
		return
	}
	rec, ok := h.lookupFile(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		req.Query = c.Query("query")
	}
	rows, err := h.loadAnalysisRows(c, rec.ID)
	if err != nil {
		return
	}
	res, err := h.workers.Submit(worker.Request{
		Context: c.Request.Context(),
		FileID:  rec.ID,
		Kind:    worker.JobAnalyze,
		Rows:    rows,
		Query:   req.Query,
	})
	if err != nil {
		h.analysisError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_id":       rec.ID,
		"filename":      rec.OriginalName,
		"analysis":      res.Text,
		"rows_analyzed": len(rows),
		"total_rows":    rec.RowCount,
	})
}

func (h *Handler) suggestCharts(c *gin.Context) {
	if !h.analysisReady(c) {
		return
	}
	rec, ok := h.lookupFile(c)
	if !ok {
		return
	}
	rows, err := h.loadAnalysisRows(c, rec.ID)
	if err != nil {
		return
	}
	res, err := h.workers.Submit(worker.Request{
		Context: c.Request.Context(),
		FileID:  rec.ID,
		Kind:    worker.JobCharts,
		Rows:    rows,
		Columns: rec.Columns,
	})
	if err != nil {
		h.analysisError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_id":     rec.ID,
		"filename":    rec.OriginalName,
		"columns":     rec.Columns,
		"suggestions": res.Suggestions,
	})
}

type customPayloadRequest struct {
	FileID string           `json:"file_id"`
	Data   []map[string]any `json:"data"`
	Query  string           `json:"query"`
}

func (h *Handler) analyzeCustom(c *gin.Context) {
	if !h.analysisReady(c) {
		return
	}
	var req customPayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data is required"})
		return
	}
	res, err := h.workers.Submit(worker.Request{
		Context: c.Request.Context(),
		Kind:    worker.JobAnalyze,
		Rows:    req.Data,
		Query:   req.Query,
	})
	if err != nil {
		h.analysisError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": res.Text, "data_points": len(req.Data)})
}

// summarize accepts either a stored file reference or an inline payload.
func (h *Handler) summarize(c *gin.Context) {
	if !h.analysisReady(c) {
		return
	}
	var req customPayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rows := req.Data
	if req.FileID != "" {
		if _, err := h.datasets.GetFile(c.Request.Context(), req.FileID); err != nil {
			if errors.Is(err, dataset.ErrFileNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		var err error
		rows, err = h.loadAnalysisRows(c, req.FileID)
		if err != nil {
			return
		}
	}
	if len(rows) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_id or data is required"})
		return
	}
	if len(rows) > analysis.SummarizeMaxRows {
		rows = rows[:analysis.SummarizeMaxRows]
	}

	res, err := h.workers.Submit(worker.Request{
		Context: c.Request.Context(),
		FileID:  req.FileID,
		Kind:    worker.JobSummarize,
		Rows:    rows,
	})
	if err != nil {
		h.analysisError(c, err)
		return
	}
	payload := gin.H{"summary": res.Text, "rows_summarized": len(rows)}
	if req.FileID != "" {
		payload["file_id"] = req.FileID
	}
	c.JSON(http.StatusOK, payload)
}

func (h *Handler) analysisReady(c *gin.Context) bool {
	if h.workers == nil || !h.workers.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis provider not configured"})
		return false
	}
	return true
}

func (h *Handler) analysisError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.Is(err, analysis.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis timed out"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) lookupFile(c *gin.Context) (*models.FileRecord, bool) {
	rec, err := h.datasets.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dataset.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return rec, true
}

// loadAnalysisRows fetches the capped row prefix sent to the provider. Writes
// the error response itself so callers just return.
func (h *Handler) loadAnalysisRows(c *gin.Context, fileID string) ([]map[string]any, error) {
	records, _, err := h.datasets.GetRows(c.Request.Context(), fileID, 0, h.analysisMaxRows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, err
	}
	rows := make([]map[string]any, 0, len(records))
	for i := range records {
		rows = append(rows, records[i].Payload)
	}
	return rows, nil
}

// pageParams parses page and limit, rejecting malformed values. Defaults are
// applied here, clamping to the max happens in pagination.Window.
func (h *Handler) pageParams(c *gin.Context, defaultLimit int) (page, limit int, ok bool) {
	page = 1
	if raw := c.Query("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return 0, 0, false
		}
		page = v
	}
	limit = defaultLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = v
	}
	return page, limit, true
}

func fileSummary(rec *models.FileRecord) gin.H {
	return gin.H{
		"id":            rec.ID,
		"filename":      rec.Filename,
		"original_name": rec.OriginalName,
		"file_size":     rec.FileSize,
		"mime_type":     rec.MimeType,
		"row_count":     rec.RowCount,
		"column_count":  rec.ColumnCount,
		"columns":       rec.Columns,
		"created_at":    rec.CreatedAt,
		"updated_at":    rec.UpdatedAt,
	}
}
