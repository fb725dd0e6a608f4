// Package pipeline runs the per-study analysis end to end: load manifest,
// extract, normalize, call the model, persist, debit credits.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/artifact"
	"github.com/doctorfy/doctorfy/internal/common"
	"github.com/doctorfy/doctorfy/internal/extract"
	"github.com/doctorfy/doctorfy/internal/imaging"
	"github.com/doctorfy/doctorfy/internal/llm"
	"github.com/doctorfy/doctorfy/internal/metrics"
	"github.com/doctorfy/doctorfy/internal/repository"
)

// Config holds the pipeline budgets and costs.
type Config struct {
	StudyAnalysisCost       int64
	IntegratedDiagnosisCost int64
	MaxImages               int           // total image parts per model request
	Timeout                 time.Duration // wall clock budget for the model call
}

func (c Config) withDefaults() Config {
	if c.StudyAnalysisCost <= 0 {
		c.StudyAnalysisCost = 5
	}
	if c.IntegratedDiagnosisCost <= 0 {
		c.IntegratedDiagnosisCost = 10
	}
	if c.MaxImages <= 0 {
		c.MaxImages = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 180 * time.Second
	}
	return c
}

// Orchestrator coordinates extraction, the model call, the study state
// machine, and the credit debit for one study at a time.
type Orchestrator struct {
	logger     *slog.Logger
	cfg        Config
	studies    repository.StudyRepository
	ledger     repository.LedgerRepository
	store      *artifact.Store
	pdf        *extract.Extractor
	normalizer *imaging.Normalizer
	model      llm.Analyzer
}

func NewOrchestrator(
	logger *slog.Logger,
	cfg Config,
	studies repository.StudyRepository,
	ledger repository.LedgerRepository,
	store *artifact.Store,
	pdf *extract.Extractor,
	normalizer *imaging.Normalizer,
	model llm.Analyzer,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:     logger,
		cfg:        cfg.withDefaults(),
		studies:    studies,
		ledger:     ledger,
		store:      store,
		pdf:        pdf,
		normalizer: normalizer,
		model:      model,
	}
}

// AnalyzeResult is what a successful run returns to the caller.
type AnalyzeResult struct {
	Interpretation   string
	Status           constants.StudyStatus
	CreditsUsed      decimal.Decimal
	CreditsRemaining decimal.Decimal
}

// AnalyzeStudy runs the full pipeline for one study. The caller must own the
// study or hold the doctor capability. Credits are debited only after the
// interpretation is durably stored.
func (o *Orchestrator) AnalyzeStudy(ctx context.Context, studyID uuid.UUID, caller common.AuthUser) (*AnalyzeResult, error) {
	callerID, err := uuid.Parse(caller.ID)
	if err != nil {
		return nil, common.Errorf(common.KindUnauthorized, "invalid caller identity")
	}

	study, err := o.studies.GetByID(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if study.PatientID != callerID && !caller.IsDoctor() {
		return nil, common.Errorf(common.KindForbidden, "not allowed to analyze this study")
	}

	cost := decimal.NewFromInt(o.cfg.StudyAnalysisCost)

	// Cost gate before any extraction or model work.
	balance, err := o.ledger.Balance(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(cost) {
		return nil, common.Errorf(common.KindInsufficientCredits,
			"analysis costs %s credits, balance is %s", cost.String(), balance.String())
	}

	// Exactly one concurrent run may claim the transition.
	if err := o.studies.SetStatusIf(ctx, studyID, constants.StudyStatusProcessing, constants.AnalyzableFrom...); err != nil {
		return nil, err
	}

	o.logger.Info("analyze.start", "study_id", studyID, "caller_id", callerID, "artifacts", len(study.Manifest))

	// State writes after this point must land even if the client hangs up,
	// and no exit path may strand the study in PROCESSING.
	detached := context.WithoutCancel(ctx)
	finalized := false
	defer func() {
		if !finalized {
			o.finalize(detached, studyID, "analysis aborted before completion", constants.StudyStatusFailed)
		}
	}()

	bundle, err := o.buildBundle(ctx, study)
	if err != nil {
		o.finalize(detached, studyID, common.UserMessage(err), constants.StudyStatusFailed)
		finalized = true
		metrics.AnalysesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if !bundle.HasContent() {
		err := common.Errorf(common.KindInvalidInput, "no analyzable content in study files")
		o.finalize(detached, studyID, common.UserMessage(err), constants.StudyStatusFailed)
		finalized = true
		metrics.AnalysesTotal.WithLabelValues("no_content").Inc()
		return nil, err
	}

	texts := make([]string, 0, len(bundle.Texts))
	for _, t := range bundle.Texts {
		texts = append(texts, textBlockPayload(t))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	interpretation, err := o.model.Analyze(callCtx, llm.Request{
		System: studySystemPrompt,
		User:   buildStudyUserPrompt(study.StudyType),
		Texts:  texts,
		Images: bundle.Images,
	})
	metrics.ProviderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Error("analyze.model_failed", "study_id", studyID, "error", err)
		o.finalize(detached, studyID, common.UserMessage(err), constants.StudyStatusFailed)
		finalized = true
		metrics.AnalysesTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	// Interpretation is stored before the debit: a COMPLETED study implies
	// the charge happened.
	if err := o.studies.SetResult(detached, studyID, interpretation, constants.StudyStatusCompleted); err != nil {
		o.finalize(detached, studyID, "analysis completed but the result could not be stored", constants.StudyStatusFailed)
		finalized = true
		metrics.AnalysesTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}

	remaining, err := o.ledger.Debit(detached, callerID, cost, constants.TxReasonStudyAnalysis, studyID.String())
	if err != nil {
		// Compensate: the result must not stay COMPLETED without its debit.
		o.finalize(detached, studyID, "analysis succeeded but credits could not be debited: "+common.UserMessage(err), constants.StudyStatusFailed)
		finalized = true
		metrics.AnalysesTotal.WithLabelValues("debit_error").Inc()
		return nil, err
	}
	finalized = true

	metrics.AnalysesTotal.WithLabelValues("completed").Inc()
	metrics.CreditsDebited.WithLabelValues(string(constants.TxReasonStudyAnalysis)).Add(float64(o.cfg.StudyAnalysisCost))
	o.logger.Info("analyze.ok", "study_id", studyID, "chars", len(interpretation), "credits_remaining", remaining.String())

	return &AnalyzeResult{
		Interpretation:   interpretation,
		Status:           constants.StudyStatusCompleted,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
	}, nil
}

// buildBundle walks the manifest in order, extracting PDFs and normalizing
// raster images, respecting the global image cap.
func (o *Orchestrator) buildBundle(ctx context.Context, study *repository.Study) (*Bundle, error) {
	bundle := &Bundle{}
	for _, rel := range study.Manifest {
		name := filepath.Base(rel)
		data, err := o.readArtifact(rel)
		if err != nil {
			return nil, err
		}

		switch constants.MapExtToFormat(filepath.Ext(rel)) {
		case constants.PDF:
			res, err := o.pdf.Extract(ctx, data)
			if err != nil {
				return nil, err
			}
			bundle.Texts = append(bundle.Texts, TextBlock{ArtifactName: name, Body: res.Text})
			for _, img := range res.Images {
				if len(bundle.Images) >= o.cfg.MaxImages {
					o.logger.Warn("analyze.image_cap_reached", "study_id", study.ID, "cap", o.cfg.MaxImages)
					break
				}
				bundle.Images = append(bundle.Images, llm.Image{MediaType: img.MediaType, Data: img.Data})
			}
		case constants.IMAGE:
			if len(bundle.Images) >= o.cfg.MaxImages {
				o.logger.Warn("analyze.image_cap_reached", "study_id", study.ID, "cap", o.cfg.MaxImages)
				continue
			}
			normalized, err := o.normalizer.Normalize(data)
			if err != nil {
				return nil, err
			}
			bundle.Images = append(bundle.Images, llm.Image{MediaType: normalized.MediaType, Data: normalized.Data})
		default:
			o.logger.Warn("analyze.unsupported_artifact", "study_id", study.ID, "path", rel)
		}
	}
	return bundle, nil
}

func (o *Orchestrator) readArtifact(rel string) ([]byte, error) {
	rc, err := o.store.Open(rel)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "reading artifact", err)
	}
	return data, nil
}

// finalize persists a terminal status; failures here are logged, not
// surfaced, because the originating error matters more to the caller.
func (o *Orchestrator) finalize(ctx context.Context, studyID uuid.UUID, message string, status constants.StudyStatus) {
	if err := o.studies.SetResult(ctx, studyID, message, status); err != nil {
		o.logger.Error("analyze.finalize_failed", "study_id", studyID, "status", status, "error", err)
	}
}
