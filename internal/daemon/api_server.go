package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storybook/internal/api"
	"storybook/internal/config"
	"storybook/internal/fileutil"
	"storybook/internal/logging"
	"storybook/internal/photo"
	"storybook/internal/queue"
	"storybook/internal/services"
	"storybook/internal/templates"
)

const (
	maxOrderBodyBytes = 64 << 10
	multipartOverhead = 1 << 20
	normalizedPhoto   = "child_photo.jpg"
)

// jobSubmitter hands accepted jobs to the work queue.
type jobSubmitter interface {
	Submit(jobID int64) error
}

type apiDeps struct {
	store     *queue.Store
	templates *templates.Store
	validator *photo.Validator
	jobs      jobSubmitter
	status    func(context.Context) Status
}

type apiServer struct {
	cfg    *config.Config
	bind   string
	logger *slog.Logger
	deps   apiDeps
	urls   api.URLBuilder
	now    func() time.Time

	handler http.Handler
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func newAPIServer(cfg *config.Config, deps apiDeps, logger *slog.Logger) *apiServer {
	s := &apiServer{
		cfg:    cfg,
		bind:   strings.TrimSpace(cfg.API.Bind),
		logger: logging.NewComponentLogger(logger, "api"),
		deps:   deps,
		urls:   api.URLBuilder{Base: cfg.API.PublicBaseURL, JobsDir: cfg.Paths.JobsDir},
		now:    time.Now,
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(s.logger), middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/templates", s.handleTemplates)
		r.Post("/previews", s.handleCreatePreview)
		r.Get("/previews/{token}", s.handlePreviewStatus)
		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders/{number}/status", s.handleOrderStatus)
		r.Get("/orders/{number}/download", s.handleOrderDownload)
	})
	r.Get("/files/{token}/*", s.handlePreviewFile)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found", services.KindNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err), logging.String(logging.FieldEventType, "api_error"))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Database: "ok"}
	health, err := s.deps.store.CheckHealth(r.Context())
	switch {
	case err != nil:
		resp.Database = err.Error()
	case !health.DatabaseReadable:
		resp.Database = "unreadable"
	case !health.IntegrityCheck:
		resp.Database = "integrity check failed"
	}
	if s.deps.status != nil {
		status := s.deps.status(r.Context())
		resp.Workflow = api.FromStatusSummary(status.Workflow)
		resp.Checks = api.FromChecks(status.Checks)
		for _, check := range status.Checks {
			if !check.Passed {
				resp.Status = "degraded"
			}
		}
	}
	code := http.StatusOK
	if resp.Database != "ok" {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	list, err := s.deps.templates.List()
	if err != nil {
		s.internalError(w, "list templates", err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TemplateListResponse{Templates: api.FromTemplates(list)})
}

func (s *apiServer) handleCreatePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		if isTooLarge(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("photo exceeds %d MB", s.cfg.API.MaxUploadMB), services.KindValidation)
			return
		}
		s.writeError(w, http.StatusBadRequest, "expected a multipart form", services.KindValidation)
		return
	}
	defer r.MultipartForm.RemoveAll()

	templateID := strings.TrimSpace(r.FormValue("template_id"))
	childName := strings.TrimSpace(r.FormValue("child_name"))
	if templateID == "" || childName == "" {
		s.writeError(w, http.StatusBadRequest, "template_id and child_name are required", services.KindValidation)
		return
	}
	if _, err := s.deps.templates.Get(templateID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "photo is required", services.KindValidation)
		return
	}
	defer file.Close()
	if header.Size > limit {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("photo exceeds %d MB", s.cfg.API.MaxUploadMB), services.KindValidation)
		return
	}

	token := queue.NewToken()
	uploadDir := filepath.Join(s.cfg.Paths.UploadsDir, token)
	photoPath, err := s.storeUpload(ctx, uploadDir, file, header)
	if err != nil {
		_ = os.RemoveAll(uploadDir)
		s.writeServiceError(w, err)
		return
	}

	job, err := s.deps.store.CreatePreview(ctx, queue.NewPreview{
		Token:      token,
		TemplateID: templateID,
		ChildName:  childName,
		PhotoPath:  photoPath,
		ExpiresAt:  s.now().Add(s.cfg.PreviewRetention()),
	})
	if err != nil {
		_ = os.RemoveAll(uploadDir)
		s.internalError(w, "create preview", err)
		return
	}
	s.submit(ctx, job)
	s.writeJSON(w, http.StatusAccepted, api.PreviewCreated{
		PreviewToken:         job.Token,
		Status:               string(job.Status),
		EstimatedTimeSeconds: api.EstimatedPreviewSeconds,
	})
}

// storeUpload saves the original photo, runs the quality gates on it and
// writes the normalized JPEG the pipeline consumes.
func (s *apiServer) storeUpload(ctx context.Context, dir string, file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	original := filepath.Join(dir, "original"+ext)
	if err := fileutil.WriteReader(original, file); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if s.deps.validator != nil {
		report, err := s.deps.validator.Validate(ctx, original)
		if err != nil {
			return "", err
		}
		s.logger.Debug("photo accepted",
			logging.Int("width", report.Width),
			logging.Int("height", report.Height),
			logging.Int("faces", report.Faces),
		)
	}
	normalized := filepath.Join(dir, normalizedPhoto)
	if err := photo.Normalize(original, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

func (s *apiServer) handlePreviewStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.store.GetPreview(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.internalError(w, "load preview", err)
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "preview not found or expired", services.KindNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, api.PreviewStatusFromJob(job, s.urls))
}

// handlePreviewFile serves the page images of a live preview. Every other
// file under the jobs directory answers 404, including the stylized photo and
// whole full-book workspaces, which are only reachable through the
// email-checked download route.
func (s *apiServer) handlePreviewFile(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.store.GetPreview(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.internalError(w, "load preview", err)
		return
	}
	rest, err := url.PathUnescape(chi.URLParam(r, "*"))
	if job == nil || err != nil || job.Status != queue.StatusCompleted {
		s.writeError(w, http.StatusNotFound, "not found", services.KindNotFound)
		return
	}
	requested := filepath.Join(s.cfg.JobDir(job.Token), filepath.FromSlash(rest))
	for _, page := range job.Outputs.PageImages {
		if filepath.Clean(page) == requested {
			s.serveFile(w, r, page)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "not found", services.KindNotFound)
}

func (s *apiServer) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "not found", services.KindNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "open file", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, "not found", services.KindNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *apiServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req api.OrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid order body", services.KindValidation)
		return
	}
	if strings.TrimSpace(req.PreviewToken) == "" || strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		s.writeError(w, http.StatusBadRequest, "preview_token, customer_name and customer_email are required", services.KindValidation)
		return
	}

	order, job, err := s.deps.store.CreateOrder(ctx, queue.NewOrder{
		PreviewToken:  strings.TrimSpace(req.PreviewToken),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ChildAge:      req.ChildAge,
	})
	switch {
	case errors.Is(err, queue.ErrPreviewNotFound):
		s.writeError(w, http.StatusNotFound, "preview not found or expired", services.KindNotFound)
		return
	case errors.Is(err, queue.ErrPreviewNotReady):
		s.writeError(w, http.StatusBadRequest, "preview is not completed yet", services.KindValidation)
		return
	case err != nil:
		s.internalError(w, "create order", err)
		return
	}
	s.submit(ctx, job)
	s.writeJSON(w, http.StatusAccepted, api.OrderCreated{
		OrderNumber: order.OrderNumber,
		Message:     "Order created. Book generation started.",
	})
}

func (s *apiServer) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	order, job, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.OrderStatusFromJob(order, job, s.urls))
}

func (s *apiServer) handleOrderDownload(w http.ResponseWriter, r *http.Request) {
	order, job, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}
	if job.Status != queue.StatusCompleted || job.Outputs.PDFPath == "" {
		s.writeError(w, http.StatusConflict, "book is not ready yet", "")
		return
	}
	f, err := os.Open(job.Outputs.PDFPath)
	if err != nil {
		s.internalError(w, "open book", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.internalError(w, "stat book", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", order.OrderNumber+".pdf"))
	http.ServeContent(w, r, order.OrderNumber+".pdf", info.ModTime(), f)
}

// lookupOrder resolves the order in the URL. An unknown order and an email
// mismatch both answer 404.
func (s *apiServer) lookupOrder(w http.ResponseWriter, r *http.Request) (*queue.Order, *queue.Job, bool) {
	ctx := r.Context()
	order, err := s.deps.store.OrderByNumber(ctx, chi.URLParam(r, "number"))
	if err != nil {
		s.internalError(w, "load order", err)
		return nil, nil, false
	}
	if order == nil || !order.MatchesEmail(r.URL.Query().Get("email")) {
		s.writeError(w, http.StatusNotFound, "order not found", services.KindNotFound)
		return nil, nil, false
	}
	job, err := s.deps.store.GetByID(ctx, order.JobID)
	if err != nil {
		s.internalError(w, "load order job", err)
		return nil, nil, false
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "order not found", services.KindNotFound)
		return nil, nil, false
	}
	return order, job, true
}

// submit hands a new job to the work queue. A job the queue cannot take
// stays queued and is dispatched on the next daemon start.
func (s *apiServer) submit(ctx context.Context, job *queue.Job) {
	if s.deps.jobs == nil {
		return
	}
	if err := s.deps.jobs.Submit(job.ID); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "job not dispatched", "submit_failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job waits until the daemon restarts"),
		)
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	details := services.Details(err)
	switch details.Kind {
	case services.KindValidation, services.KindFatalInput:
		s.writeError(w, http.StatusBadRequest, details.Message, details.Kind)
	case services.KindNotFound:
		s.writeError(w, http.StatusNotFound, details.Message, details.Kind)
	case services.KindProvider, services.KindTimeout:
		logging.WarnWithContext(s.logger, "upstream provider failed", "provider_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "request rejected"),
		)
		s.writeError(w, http.StatusServiceUnavailable, "photo check is temporarily unavailable, please try again", details.Kind)
	default:
		s.internalError(w, "handle request", err)
	}
}

func (s *apiServer) internalError(w http.ResponseWriter, op string, err error) {
	logging.ErrorWithContext(s.logger, "request failed", "api_internal_error",
		logging.String("operation", op),
		logging.Error(err),
	)
	s.writeError(w, http.StatusInternalServerError, "internal error", services.KindInternal)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api response encode failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string, kind services.Kind) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(kind)})
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}
