package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vidbrief/vidbrief/internal/common"
	"github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/jobs"
	"github.com/vidbrief/vidbrief/internal/processor"
	"github.com/vidbrief/vidbrief/internal/storage"
)

type Service struct {
	Log          *slog.Logger
	Cfg          *config.Config
	Orchestrator *processor.Orchestrator
	Uploader     *storage.Uploader
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathJobs, svc.withCommon(svc.handleSubmitJob))
	// Pattern match /v1/jobs/{id}
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs+"/", svc.withCommon(svc.handleGetJobByPrefix))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(requestIDMiddleware(recoveryMiddleware(mux)), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		// Enforce max body size
		limit := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	}
}

type submitRequest struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"sizeBytes"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

// handleSubmitJob accepts either a JSON descriptor or a multipart video
// upload, and returns the job id immediately; the pipeline runs in the
// background.
func (svc *Service) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		svc.submitMultipart(w, r)
		return
	}
	svc.submitJSON(w, r)
}

func (svc *Service) submitJSON(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	callbackPtr, err := parseOptionalURL(req.CallbackURL)
	if err != nil {
		http.Error(w, "invalid callbackUrl", http.StatusBadRequest)
		return
	}

	jobID, err := svc.Orchestrator.Submit(r.Context(), processor.Submission{
		Video:       jobs.Video{Name: req.Name, SizeBytes: req.SizeBytes},
		CallbackURL: callbackPtr,
	})
	if err != nil {
		svc.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     jobID,
		StatusURL: path.Join(common.PathJobs, jobID),
	})
}

func (svc *Service) submitMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	fileHeaders := r.MultipartForm.File["file"]
	if len(fileHeaders) == 0 {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	uploaded := fileHeaders[0]

	callbackPtr, err := parseOptionalURL(r.FormValue("callback_url"))
	if err != nil {
		http.Error(w, "invalid callback_url", http.StatusBadRequest)
		return
	}

	spoolPath, cleanup, _, err := svc.Uploader.SaveMultipartVideo(uploaded, safeInt64(svc.Cfg.Server.MaxUploadSize))
	if err != nil {
		http.Error(w, "upload failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	// Cleanup the spooled file here only if submission fails; on success the
	// queue worker owns it.
	defer func() {
		if cleanup != nil {
			_ = cleanup()
		}
	}()

	jobID, err := svc.Orchestrator.Submit(r.Context(), processor.Submission{
		Video:       jobs.Video{Name: uploaded.Filename, SizeBytes: uploaded.Size},
		CallbackURL: callbackPtr,
		UploadPath:  &spoolPath,
		Cleanup:     cleanup,
	})
	if err != nil {
		svc.writeSubmitError(w, err)
		return
	}
	cleanup = nil

	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     jobID,
		StatusURL: path.Join(common.PathJobs, jobID),
	})
}

func (svc *Service) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, processor.ErrInvalidVideo):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrQueueNotStarted):
		http.Error(w, "queue full, try later", http.StatusServiceUnavailable)
	default:
		svc.Log.Error("submit failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

var idPattern = regexp.MustCompile(fmt.Sprintf("^%s/([A-Za-z0-9_-]+)$", common.PathJobs))

// handleGetJobByPrefix serves job status. Unknown ids are not an error: the
// payload carries status "not_found".
func (svc *Service) handleGetJobByPrefix(w http.ResponseWriter, r *http.Request) {
	m := idPattern.FindStringSubmatch(r.URL.Path)
	if len(m) != 2 {
		http.NotFound(w, r)
		return
	}
	id := m[1]
	payload, err := svc.Orchestrator.Status(r.Context(), id)
	if err != nil {
		svc.Log.Error("status lookup failed", "job_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func parseOptionalURL(s string) (*string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil, nil
	}
	if _, err := url.ParseRequestURI(v); err != nil {
		return nil, err
	}
	return &v, nil
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"request_id", ww.Header().Get(common.HeaderRequestID),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// requestIDMiddleware tags each response with a request id, honoring one
// supplied by the client.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(common.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(common.HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
