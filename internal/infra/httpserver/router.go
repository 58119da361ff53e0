package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apptm "github.com/bryanwahyu/threat-modeling-mate/internal/application/threatmodel"
	domain "github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/storage"
	"github.com/bryanwahyu/threat-modeling-mate/internal/middleware"
)

// Options configures the HTTP surface around the analysis service.
// Zero values disable the corresponding middleware.
type Options struct {
	MaxUploadBytes int64
	AllowedOrigins []string
	APIKeys        map[string]string
	RateLimiter    *middleware.RateLimiter
	Metrics        *middleware.Metrics
	Logger         *slog.Logger
	Checks         map[string]middleware.HealthChecker
}

type Router struct {
	analyses  *apptm.Service
	maxUpload int64
	logger    *slog.Logger
}

func NewRouter(svc *apptm.Service, opts Options) http.Handler {
	r := &Router{analyses: svc, maxUpload: opts.MaxUploadBytes, logger: opts.Logger}
	if r.maxUpload <= 0 {
		r.maxUpload = 1 << 20
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(r.logger))
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Content-Disposition", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateLimiter != nil {
		mux.Use(opts.RateLimiter.Middleware)
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checks))
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Get("/readyz", middleware.ReadinessHandler)
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Route("/v1/analyses", func(rt chi.Router) {
		rt.Post("/", r.wrap(r.handleAnalyze))
		rt.Post("/download", r.wrap(r.handleDownload))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retriable bool   `json:"retriable"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status, body := errorStatus(err)
		if status >= http.StatusInternalServerError {
			r.logger.Error("request failed", "req_id", chimw.GetReqID(req.Context()), "status", status, "error", err)
		}
		writeJSON(w, status, body)
	}
}

// errorStatus maps pipeline failures onto HTTP semantics.
func errorStatus(err error) (int, errorResponse) {
	var (
		ie *domain.ModelInvocationError
		me *domain.MalformedResponseError
		ue *uploadError
	)
	switch {
	case errors.Is(err, domain.ErrMissingInput):
		return http.StatusBadRequest, errorResponse{
			Error: "no IaC file uploaded; upload a template to analyze",
			Kind:  "missing_input",
		}
	case errors.As(err, &ue):
		status := http.StatusBadRequest
		kind := "invalid_upload"
		if errors.Is(err, middleware.ErrUploadTooLarge) {
			status, kind = http.StatusRequestEntityTooLarge, "upload_too_large"
		}
		return status, errorResponse{Error: err.Error(), Kind: kind}
	case errors.As(err, &me):
		return http.StatusBadGateway, errorResponse{
			Error:     "model response could not be parsed (" + me.Reason + "); retry analysis",
			Kind:      "malformed_response",
			Retriable: true,
		}
	case errors.As(err, &ie):
		status := http.StatusServiceUnavailable
		switch ie.Reason {
		case domain.ReasonRateLimit:
			status = http.StatusTooManyRequests
		case domain.ReasonAuth:
			status = http.StatusBadGateway
		}
		return status, errorResponse{
			Error:     fmt.Sprintf("model invocation failed (%s)", ie.Reason),
			Kind:      "model_invocation",
			Retriable: ie.Retriable(),
		}
	case errors.Is(err, apptm.ErrExportUnavailable):
		return http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: "export_unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: "internal"}
	}
}

// uploadError marks request problems that are the caller's fault.
type uploadError struct{ err error }

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

func (r *Router) command(w http.ResponseWriter, req *http.Request) (apptm.AnalyzeCommand, error) {
	data, filename, err := middleware.ReadUpload(w, req, r.maxUpload)
	if err != nil {
		return apptm.AnalyzeCommand{}, &uploadError{err}
	}
	return apptm.AnalyzeCommand{IaC: data, Filename: filename}, nil
}

// POST /v1/analyses[?export=true]
// Body: multipart field "file" or the raw template.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	cmd, err := r.command(w, req)
	if err != nil {
		return err
	}
	if v := req.URL.Query().Get("export"); v != "" {
		cmd.Export, err = strconv.ParseBool(v)
		if err != nil {
			return &uploadError{fmt.Errorf("invalid export flag %q", v)}
		}
	}

	res, err := r.analyses.Analyze(req.Context(), cmd)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// POST /v1/analyses/download
// Same pipeline, but the response is the exported inventory as a file.
func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) error {
	cmd, err := r.command(w, req)
	if err != nil {
		return err
	}

	res, err := r.analyses.Analyze(req.Context(), cmd)
	if err != nil {
		return err
	}
	data, err := res.Inventory.Export()
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.ExportFileName))
	w.Header().Set("X-Analysis-Id", res.ID)
	_, err = w.Write(data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
