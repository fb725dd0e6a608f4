package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/common"
	"github.com/doctorfy/doctorfy/internal/llm"
	"github.com/doctorfy/doctorfy/internal/metrics"
	"github.com/doctorfy/doctorfy/internal/repository"
)

// maxSymptomChars bounds the free-text symptom narrative in the prompt.
const maxSymptomChars = 3000

// Composer fuses already-interpreted studies and reported symptoms into one
// second-stage model call. It never writes study state.
type Composer struct {
	logger  *slog.Logger
	cfg     Config
	studies repository.StudyRepository
	users   repository.UserRepository
	ledger  repository.LedgerRepository
	model   llm.Analyzer
}

func NewComposer(
	logger *slog.Logger,
	cfg Config,
	studies repository.StudyRepository,
	users repository.UserRepository,
	ledger repository.LedgerRepository,
	model llm.Analyzer,
) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		logger:  logger,
		cfg:     cfg.withDefaults(),
		studies: studies,
		users:   users,
		ledger:  ledger,
		model:   model,
	}
}

// DiagnoseResult is what a successful fusion returns.
type DiagnoseResult struct {
	Diagnosis        string
	CreditsRemaining decimal.Decimal
}

// Diagnose aggregates the caller's studies plus symptom text into a
// text-only model request. Unknown or foreign study ids are dropped
// silently; studies without a completed interpretation contribute a notice
// instead.
func (c *Composer) Diagnose(ctx context.Context, caller common.AuthUser, studyIDs []uuid.UUID, symptoms string) (*DiagnoseResult, error) {
	callerID, err := uuid.Parse(caller.ID)
	if err != nil {
		return nil, common.Errorf(common.KindUnauthorized, "invalid caller identity")
	}

	symptoms = strings.TrimSpace(symptoms)
	if len(studyIDs) == 0 && symptoms == "" {
		return nil, common.Errorf(common.KindInvalidInput, "provide study ids or symptoms to diagnose")
	}
	// Character cap, not bytes: multi-byte narratives must not be cut early
	// or mid-rune.
	if utf8.RuneCountInString(symptoms) > maxSymptomChars {
		c.logger.Warn("diagnose.symptoms_truncated", "caller_id", callerID, "chars", utf8.RuneCountInString(symptoms), "cap", maxSymptomChars)
		symptoms = string([]rune(symptoms)[:maxSymptomChars])
	}

	user, err := c.users.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	cost := decimal.NewFromInt(c.cfg.IntegratedDiagnosisCost)
	if user.Credits.LessThan(cost) {
		return nil, common.Errorf(common.KindInsufficientCredits,
			"diagnosis costs %s credits, balance is %s", cost.String(), user.Credits.String())
	}

	var studies []*repository.Study
	for _, id := range studyIDs {
		s, err := c.studies.GetByID(ctx, id)
		if err != nil || s.PatientID != callerID {
			c.logger.Warn("diagnose.study_dropped", "caller_id", callerID, "study_id", id)
			continue
		}
		studies = append(studies, s)
	}
	if len(studies) == 0 && symptoms == "" {
		return nil, common.Errorf(common.KindInvalidInput, "no usable studies and no symptoms provided")
	}

	c.logger.Info("diagnose.start", "caller_id", callerID, "studies", len(studies), "symptom_chars", len(symptoms))

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	diagnosis, err := c.model.Analyze(callCtx, llm.Request{
		System: diagnosisSystemPrompt,
		User:   buildDiagnosisUserPrompt(user, studies, symptoms),
	})
	metrics.ProviderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("diagnose.model_failed", "caller_id", callerID, "error", err)
		metrics.DiagnosesTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	remaining, err := c.ledger.Debit(context.WithoutCancel(ctx), callerID, cost, constants.TxReasonIntegratedDiagnosis, uuid.NewString())
	if err != nil {
		metrics.DiagnosesTotal.WithLabelValues("debit_error").Inc()
		return nil, err
	}

	metrics.DiagnosesTotal.WithLabelValues("completed").Inc()
	metrics.CreditsDebited.WithLabelValues(string(constants.TxReasonIntegratedDiagnosis)).Add(float64(c.cfg.IntegratedDiagnosisCost))
	c.logger.Info("diagnose.ok", "caller_id", callerID, "chars", len(diagnosis), "credits_remaining", remaining.String())

	return &DiagnoseResult{Diagnosis: diagnosis, CreditsRemaining: remaining}, nil
}
