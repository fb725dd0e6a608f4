package server

import (
	"archive/zip"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/common"
	"github.com/doctorfy/doctorfy/internal/repository"
)

// studyView is the JSON shape of a study on the wire.
type studyView struct {
	ID             string   `json:"id"`
	PatientID      string   `json:"patient_id"`
	StudyType      string   `json:"study_type"`
	Name           string   `json:"name"`
	Files          []string `json:"file_paths"`
	Interpretation *string  `json:"interpretation"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func toStudyView(s *repository.Study) studyView {
	return studyView{
		ID:             s.ID.String(),
		PatientID:      s.PatientID.String(),
		StudyType:      s.StudyType,
		Name:           s.Name,
		Files:          s.Manifest,
		Interpretation: s.Interpretation,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// UploadStudy accepts a multipart form with 1..4 files plus optional
// study_type and name fields, stores the artifacts, and creates the study in
// PENDING.
func (h *Handler) UploadStudy(w http.ResponseWriter, r *http.Request) {
	caller, ok := common.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, common.Errorf(common.KindUnauthorized, "authentication required"))
		return
	}
	patientID, err := uuid.Parse(caller.ID)
	if err != nil {
		writeError(w, common.Errorf(common.KindUnauthorized, "invalid caller identity"))
		return
	}

	// Total request budget: every file may be at the per-file ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxUploadFiles)*h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, common.NewAppError(common.KindInvalidInput, "invalid multipart upload", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, common.Errorf(common.KindInvalidInput, "at least one file is required"))
		return
	}
	if len(files) > maxUploadFiles {
		writeError(w, common.Errorf(common.KindInvalidInput, "at most %d files per study", maxUploadFiles))
		return
	}

	// The type hint is free text; it is stored verbatim and canonicalized
	// only where a fixed vocabulary helps (prompting, analytics).
	studyType := strings.TrimSpace(r.FormValue("study_type"))
	if studyType == "" {
		studyType = "general"
	}
	name := strings.TrimSpace(r.FormValue("name"))

	manifest := make([]string, 0, len(files))
	cleanup := func() {
		for _, rel := range manifest {
			if derr := h.store.Delete(rel); derr != nil {
				h.logger.Warn("upload.cleanup_failed", "rel_path", rel, "error", derr)
			}
		}
	}
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			cleanup()
			writeError(w, common.NewAppError(common.KindInvalidInput, "reading uploaded file", err))
			return
		}
		rel, size, err := h.store.Put(fh.Filename, src)
		_ = src.Close()
		if err != nil {
			cleanup()
			writeError(w, err)
			return
		}
		h.logger.Debug("upload.file_stored", "rel_path", rel, "bytes", size)
		manifest = append(manifest, rel)
	}

	study, err := h.studies.Create(r.Context(), patientID, studyType, name, manifest)
	if err != nil {
		cleanup()
		writeError(w, err)
		return
	}
	h.logger.Info("upload.ok", "study_id", study.ID, "patient_id", patientID, "files", len(manifest))
	writeJSON(w, http.StatusCreated, toStudyView(study))
}

// ListStudies returns the caller's studies, or every study for callers with
// the doctor capability when ?all=1.
func (h *Handler) ListStudies(w http.ResponseWriter, r *http.Request) {
	caller, ok := common.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, common.Errorf(common.KindUnauthorized, "authentication required"))
		return
	}
	callerID, err := uuid.Parse(caller.ID)
	if err != nil {
		writeError(w, common.Errorf(common.KindUnauthorized, "invalid caller identity"))
		return
	}

	var studies []*repository.Study
	if r.URL.Query().Get("all") == "1" {
		if !caller.IsDoctor() {
			writeError(w, common.Errorf(common.KindForbidden, "listing all studies requires the doctor role"))
			return
		}
		studies, err = h.studies.ListAll(r.Context())
	} else {
		studies, err = h.studies.ListForPatient(r.Context(), callerID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]studyView, 0, len(studies))
	for _, s := range studies {
		views = append(views, toStudyView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"studies": views})
}

// GetStudy returns one study; the caller must own it or be a doctor.
func (h *Handler) GetStudy(w http.ResponseWriter, r *http.Request) {
	study, ok := h.authorizedStudy(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStudyView(study))
}

// AnalyzeStudy triggers the analysis pipeline for one study.
func (h *Handler) AnalyzeStudy(w http.ResponseWriter, r *http.Request) {
	caller, ok := common.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, common.Errorf(common.KindUnauthorized, "authentication required"))
		return
	}
	studyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, common.Errorf(common.KindInvalidInput, "invalid study id"))
		return
	}

	res, err := h.orchestrator.AnalyzeStudy(r.Context(), studyID, caller)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interpretation":    res.Interpretation,
		"status":            string(res.Status),
		"credits_used":      res.CreditsUsed.String(),
		"credits_remaining": res.CreditsRemaining.String(),
	})
}

type renameRequest struct {
	Name      string `json:"name"`
	StudyType string `json:"study_type"`
}

// RenameStudy updates the display name and/or type hint. Empty fields keep
// their current values; the artifact manifest never changes.
func (h *Handler) RenameStudy(w http.ResponseWriter, r *http.Request) {
	study, ok := h.authorizedStudy(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.NewAppError(common.KindInvalidInput, "invalid request body", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.StudyType = strings.TrimSpace(req.StudyType)
	if req.Name == "" && req.StudyType == "" {
		writeError(w, common.Errorf(common.KindInvalidInput, "nothing to rename"))
		return
	}

	if err := h.studies.Rename(r.Context(), study.ID, req.Name, req.StudyType); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.studies.GetByID(r.Context(), study.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("study.renamed", "study_id", study.ID)
	writeJSON(w, http.StatusOK, toStudyView(updated))
}

// DownloadStudy streams the original artifacts back: a single file as-is, a
// multi-file manifest as one zip archive.
func (h *Handler) DownloadStudy(w http.ResponseWriter, r *http.Request) {
	study, ok := h.authorizedStudy(w, r)
	if !ok {
		return
	}

	if len(study.Manifest) == 1 {
		rel := study.Manifest[0]
		rc, err := h.store.Open(rel)
		if err != nil {
			writeError(w, err)
			return
		}
		defer rc.Close()
		base := filepath.Base(rel)
		w.Header().Set("Content-Type", constants.MIMEForExt(filepath.Ext(base)))
		w.Header().Set("Content-Disposition", `attachment; filename="`+base+`"`)
		if _, err := io.Copy(w, rc); err != nil {
			h.logger.Warn("download.copy_failed", "study_id", study.ID, "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="study_`+study.ID.String()+`.zip"`)
	zw := zip.NewWriter(w)
	for _, rel := range study.Manifest {
		rc, err := h.store.Open(rel)
		if err != nil {
			h.logger.Warn("download.artifact_missing", "study_id", study.ID, "rel_path", rel, "error", err)
			continue
		}
		entry, err := zw.Create(filepath.Base(rel))
		if err == nil {
			_, err = io.Copy(entry, rc)
		}
		_ = rc.Close()
		if err != nil {
			h.logger.Warn("download.zip_failed", "study_id", study.ID, "rel_path", rel, "error", err)
			break
		}
	}
	if err := zw.Close(); err != nil {
		h.logger.Warn("download.zip_close_failed", "study_id", study.ID, "error", err)
	}
}

// DownloadInterpretation returns the stored interpretation as a text file.
// Studies that have not completed analysis get 400.
func (h *Handler) DownloadInterpretation(w http.ResponseWriter, r *http.Request) {
	study, ok := h.authorizedStudy(w, r)
	if !ok {
		return
	}
	if study.Status != constants.StudyStatusCompleted || study.Interpretation == nil {
		writeError(w, common.Errorf(common.KindInvalidInput, "study has not been analyzed yet"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="interpretation_`+study.ID.String()+`.txt"`)
	_, _ = io.WriteString(w, *study.Interpretation)
}

// authorizedStudy loads the study from the URL and enforces owner-or-doctor
// access, writing the error response itself on failure.
func (h *Handler) authorizedStudy(w http.ResponseWriter, r *http.Request) (*repository.Study, bool) {
	caller, ok := common.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, common.Errorf(common.KindUnauthorized, "authentication required"))
		return nil, false
	}
	callerID, err := uuid.Parse(caller.ID)
	if err != nil {
		writeError(w, common.Errorf(common.KindUnauthorized, "invalid caller identity"))
		return nil, false
	}
	studyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, common.Errorf(common.KindInvalidInput, "invalid study id"))
		return nil, false
	}
	study, err := h.studies.GetByID(r.Context(), studyID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if study.PatientID != callerID && !caller.IsDoctor() {
		writeError(w, common.Errorf(common.KindForbidden, "not allowed to access this study"))
		return nil, false
	}
	return study, true
}
