// Package api exposes KPI evaluation over HTTP
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gokpi/adapters/excel"
	"gokpi/app"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/internal"
	"gokpi/internal/config"
	"gokpi/internal/custommetric"
	"gokpi/internal/errors"
	"gokpi/internal/metrics"
	"gokpi/ports"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// maxUploadBytes bounds multipart dataset uploads
const maxUploadBytes = 50 << 20

// Deps are the services the HTTP layer calls into
type Deps struct {
	KPI      *app.KPIService
	Reports  *app.ReportService
	Catalog  ports.CatalogSource
	Recorder *metrics.Recorder
}

// Server routes HTTP requests to the KPI services
type Server struct {
	router  *gin.Engine
	deps    Deps
	started time.Time
	logger  *internal.Logger
}

// NewServer builds the router with its middleware chain
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	s := &Server{
		router:  gin.New(),
		deps:    deps,
		started: time.Now(),
		logger:  internal.DefaultLogger.With("API"),
	}
	s.router.Use(gin.Recovery(), RequestMetrics(deps.Recorder))
	s.setupRoutes(cfg)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{Addr: ":" + port, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on :%s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) setupRoutes(cfg config.ServerConfig) {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Recorder != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Recorder.Handler()))
	}

	api := s.router.Group("/api", RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger), Timeout(cfg.RequestTimeout))
	api.GET("/catalog", s.handleCatalog)
	api.GET("/catalog/:name", s.handleCatalogMetric)
	api.POST("/evaluate", s.handleEvaluate)
	api.POST("/evaluate/upload", s.handleEvaluateUpload)
	api.POST("/evaluate/batch", s.handleEvaluateBatch)
	api.POST("/report", s.handleReport)
	api.POST("/trend", s.handleTrend)

	custom := api.Group("/custom-metrics")
	custom.GET("/templates", s.handleTemplates)
	custom.POST("", s.handleCustomMetrics)
	custom.POST("/validate", s.handleValidateFormula)
	custom.POST("/columns", s.handleAvailableColumns)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleCatalog(c *gin.Context) {
	cat, err := s.deps.Catalog.LoadCatalog(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fingerprint": cat.Fingerprint(),
		"metrics":     cat.Definitions(),
	})
}

func (s *Server) handleCatalogMetric(c *gin.Context) {
	cat, err := s.deps.Catalog.LoadCatalog(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	def, ok := cat.Get(c.Param("name"))
	if !ok {
		s.respondError(c, errors.NotFound(fmt.Sprintf("metric %q", c.Param("name"))))
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var payload EvaluatePayload
	if !s.bind(c, &payload) {
		return
	}
	bundle, err := s.evaluate(c, payload.Dataset, payload.EvaluateOptions)
	s.respondBundle(c, bundle, err)
}

// handleEvaluateUpload takes a CSV or XLSX file in the "file" field and run
// options as JSON in the "options" field.
func (s *Server) handleEvaluateUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	var opts EvaluateOptions
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			s.respondError(c, errors.InvalidInput("options is not valid JSON: "+err.Error()))
			return
		}
	}

	ds, err := s.readUpload(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	cat, err := s.deps.Catalog.LoadCatalog(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	req, err := opts.request(ds, cat)
	if err != nil {
		s.respondError(c, err)
		return
	}
	bundle, err := s.deps.KPI.Evaluate(c.Request.Context(), req)
	s.respondBundle(c, bundle, err)
}

func (s *Server) readUpload(c *gin.Context) (*dataset.Dataset, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, errors.InvalidInput("file is required")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported file type %q, expected .csv or .xlsx", ext))
	}

	src, err := fh.Open()
	if err != nil {
		return nil, errors.DatasetInvalid("failed to open upload", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "gokpi-upload-*"+ext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to buffer upload")
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, errors.DatasetInvalid("failed to read upload", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to buffer upload")
	}

	name := strings.TrimSuffix(filepath.Base(fh.Filename), ext)
	return excel.NewDataReader(excel.Config{FilePath: tmp.Name(), Name: name}).ReadDataset(c.Request.Context())
}

func (s *Server) handleEvaluateBatch(c *gin.Context) {
	var payload BatchPayload
	if !s.bind(c, &payload) {
		return
	}
	cat, err := s.deps.Catalog.LoadCatalog(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	reqs := make([]app.EvaluationRequest, len(payload.Requests))
	for i, p := range payload.Requests {
		ds, err := p.Dataset.toDataset()
		if err != nil {
			s.respondError(c, errors.Wrapf(err, "request %d", i))
			return
		}
		if reqs[i], err = p.EvaluateOptions.request(ds, cat); err != nil {
			s.respondError(c, errors.Wrapf(err, "request %d", i))
			return
		}
	}

	items, err := s.deps.KPI.EvaluateBatch(c.Request.Context(), reqs)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "items": items})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleReport(c *gin.Context) {
	var payload EvaluatePayload
	if !s.bind(c, &payload) {
		return
	}
	bundle, err := s.evaluate(c, payload.Dataset, payload.EvaluateOptions)
	if err != nil {
		s.respondBundle(c, bundle, err)
		return
	}
	report := s.deps.Reports.Build(c.Request.Context(), bundle, payload.Narrative)
	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(report.HTML))
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": bundle.RunID, "report": report})
}

func (s *Server) handleTrend(c *gin.Context) {
	var payload TrendPayload
	if !s.bind(c, &payload) {
		return
	}
	c.JSON(http.StatusOK, s.deps.KPI.SummarizeSeries(payload.Metric, payload.points()))
}

func (s *Server) handleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": custommetric.Templates()})
}

func (s *Server) handleCustomMetrics(c *gin.Context) {
	var payload CustomMetricsPayload
	if !s.bind(c, &payload) {
		return
	}
	ds, err := payload.Dataset.toDataset()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": custommetric.New(ds).CalculateAll(payload.Metrics)})
}

func (s *Server) handleValidateFormula(c *gin.Context) {
	var payload ValidatePayload
	if !s.bind(c, &payload) {
		return
	}
	ds, err := payload.Dataset.toDataset()
	if err != nil {
		s.respondError(c, err)
		return
	}
	v, err := custommetric.New(ds).Validate(payload.Formula)
	if err != nil {
		failed := metric.Failed(payload.Formula, "", err)
		c.JSON(http.StatusOK, gin.H{"valid": false, "error_kind": failed.ErrorKind, "error": failed.ErrorMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "columns_used": v.ColumnsUsed, "aggregations_used": v.AggregationsUsed})
}

func (s *Server) handleAvailableColumns(c *gin.Context) {
	var payload ColumnsPayload
	if !s.bind(c, &payload) {
		return
	}
	ds, err := payload.Dataset.toDataset()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, custommetric.New(ds).AvailableColumns())
}

func (s *Server) evaluate(c *gin.Context, table *TablePayload, opts EvaluateOptions) (*app.ResultBundle, error) {
	ds, err := table.toDataset()
	if err != nil {
		return nil, err
	}
	cat, err := s.deps.Catalog.LoadCatalog(c.Request.Context())
	if err != nil {
		return nil, err
	}
	req, err := opts.request(ds, cat)
	if err != nil {
		return nil, err
	}
	return s.deps.KPI.Evaluate(c.Request.Context(), req)
}

func (s *Server) bind(c *gin.Context, into interface{}) bool {
	if err := c.ShouldBindJSON(into); err != nil {
		s.respondError(c, errors.InvalidInput("invalid request: "+err.Error()))
		return false
	}
	return true
}

// respondBundle writes a bundle. A run cut short by the request deadline
// still returns its completed periods.
func (s *Server) respondBundle(c *gin.Context, bundle *app.ResultBundle, err error) {
	if err == nil {
		c.JSON(http.StatusOK, bundle)
		return
	}
	if bundle != nil && (stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled)) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "bundle": bundle})
		return
	}
	s.respondError(c, err)
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	code := errors.GetCode(err)
	if !errors.IsAppError(err) {
		code = errors.CodeInternalError
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
