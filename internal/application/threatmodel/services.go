package threatmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/threat-modeling-mate/internal/application"
	domain "github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/ai/prompt"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/storage"
)

// ErrExportUnavailable is returned when an export is requested but no
// export store is configured.
var ErrExportUnavailable = errors.New("export storage is not configured")

// Recorder receives pipeline outcomes, typically for metrics.
type Recorder interface {
	AnalysisSucceeded(summaries []domain.CategorySummary)
	AnalysisFailed(stage string, err error)
}

// Service implements use-cases untuk threat model analysis.
// One Analyze call runs the whole pipeline sequentially; the Service itself
// holds no per-run state and can be shared.
type Service struct {
	Model        domain.Invoker
	Exports      domain.ExportStore
	ExportPrefix string
	Clock        application.Clock
	Logger       *slog.Logger
	Metrics      Recorder

	// IncludeMissingCategories adds all-zero summaries for STRIDE categories
	// the model did not report. Off by default: absent categories are omitted.
	IncludeMissingCategories bool
}

// AnalyzeCommand untuk satu analisis
type AnalyzeCommand struct {
	IaC      []byte
	Filename string
	Export   bool
}

// AnalysisResult is everything the presentation layer needs from one run.
type AnalysisResult struct {
	ID         string                   `json:"id"`
	Filename   string                   `json:"filename,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	DurationMS int64                    `json:"duration_ms"`
	Summary    []domain.CategorySummary `json:"summary"`
	Totals     domain.CategorySummary   `json:"totals"`
	Inventory  domain.ThreatInventory   `json:"inventory"`
	ExportURL  string                   `json:"export_url,omitempty"`
}

// Analyze runs prompt building, model invocation, extraction and
// aggregation in order. Any failure aborts the run; no partial result is
// returned.
func (s *Service) Analyze(ctx context.Context, cmd AnalyzeCommand) (AnalysisResult, error) {
	log := s.logger()
	start := s.now()
	id := uuid.New().String()
	log = log.With("analysis_id", id, "filename", cmd.Filename)

	req, err := domain.NewAnalysisRequest(cmd.IaC)
	if err != nil {
		log.Warn("analysis rejected", "error", err)
		s.failed("input", err)
		return AnalysisResult{}, err
	}

	p := prompt.BuildThreatModelPrompt(req)
	log.Debug("prompt built", "prompt_bytes", len(p), "iac_bytes", len(cmd.IaC))

	// satu kali panggil model, tanpa retry
	raw, err := s.Model.Invoke(ctx, p)
	if err != nil {
		err = asInvocationError(err)
		log.Error("model invocation failed", "error", err)
		s.failed("invoke", err)
		return AnalysisResult{}, err
	}
	log.Debug("model responded", "response_bytes", len(raw))

	inv, err := domain.Extract(raw)
	if err != nil {
		log.Error("model response could not be parsed", "error", err)
		s.failed("extract", err)
		return AnalysisResult{}, err
	}

	summaries := domain.Summarize(inv)
	if s.IncludeMissingCategories {
		summaries = domain.FillMissing(summaries, req.Categories())
	}

	res := AnalysisResult{
		ID:        id,
		Filename:  cmd.Filename,
		CreatedAt: start,
		Summary:   summaries,
		Totals:    domain.Totals(summaries),
		Inventory: inv,
	}

	if cmd.Export {
		url, err := s.export(ctx, id, inv)
		if err != nil {
			log.Error("export failed", "error", err)
			s.failed("export", err)
			return AnalysisResult{}, err
		}
		res.ExportURL = url
	}

	res.DurationMS = s.now().Sub(start).Milliseconds()
	log.Info("analysis finished",
		"categories", inv.Len(),
		"threats", res.Totals.Total,
		"high", res.Totals.High,
		"duration_ms", res.DurationMS,
	)
	if s.Metrics != nil {
		s.Metrics.AnalysisSucceeded(summaries)
	}
	return res, nil
}

func (s *Service) export(ctx context.Context, id string, inv domain.ThreatInventory) (string, error) {
	if s.Exports == nil {
		return "", ErrExportUnavailable
	}
	data, err := inv.Export()
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	return s.Exports.Put(ctx, storage.ExportKey(s.ExportPrefix, id), data)
}

// asInvocationError keeps invocation failures distinguishable from parse
// failures even when the backend returns a plain error.
func asInvocationError(err error) error {
	var ie *domain.ModelInvocationError
	if errors.As(err, &ie) {
		return err
	}
	reason := domain.ReasonUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		reason = domain.ReasonTimeout
	}
	return &domain.ModelInvocationError{Reason: reason, Err: err}
}

func (s *Service) failed(stage string, err error) {
	if s.Metrics != nil {
		s.Metrics.AnalysisFailed(stage, err)
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
