package server

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/doctorfy/doctorfy/internal/common"
)

type diagnoseRequest struct {
	StudyIDs []string `json:"study_ids"`
	Symptoms string   `json:"symptoms_text"`
}

// GenerateDiagnosis fuses the caller's interpreted studies and reported
// symptoms into one integrated opinion.
func (h *Handler) GenerateDiagnosis(w http.ResponseWriter, r *http.Request) {
	caller, ok := common.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, common.Errorf(common.KindUnauthorized, "authentication required"))
		return
	}

	var req diagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.NewAppError(common.KindInvalidInput, "invalid request body", err))
		return
	}

	// Unparseable ids are dropped like unknown ones, not rejected.
	ids := make([]uuid.UUID, 0, len(req.StudyIDs))
	for _, raw := range req.StudyIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.logger.Warn("diagnose.invalid_study_id", "raw", raw)
			continue
		}
		ids = append(ids, id)
	}

	res, err := h.composer.Diagnose(r.Context(), caller, ids, req.Symptoms)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnosis":         res.Diagnosis,
		"credits_remaining": res.CreditsRemaining.String(),
	})
}
