package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/common"
)

// manifestSep joins the ordered artifact paths into the file_path column.
const manifestSep = ";"

// Study is the durable record for one uploaded case.
type Study struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	StudyType      string
	Name           string
	Manifest       []string
	Interpretation *string
	Status         constants.StudyStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type StudyRepository interface {
	Create(ctx context.Context, patientID uuid.UUID, studyType, name string, manifest []string) (*Study, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error)
	ListAll(ctx context.Context) ([]*Study, error)
	Rename(ctx context.Context, id uuid.UUID, name, studyType string) error
	// SetStatusIf transitions the status only when the current status is one
	// of expectedPrev. A zero-row update reports AlreadyInProgress so that
	// concurrent analyze calls race for exactly one transition.
	SetStatusIf(ctx context.Context, id uuid.UUID, next constants.StudyStatus, expectedPrev ...constants.StudyStatus) error
	// SetResult finalizes an analysis run: interpretation and status are
	// written in one statement.
	SetResult(ctx context.Context, id uuid.UUID, interpretation string, next constants.StudyStatus) error
}

type studyRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewStudyRepository(db *DB, logger *slog.Logger) StudyRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &studyRepo{db: db, logger: logger}
}

const studyColumns = "id, patient_id, study_type, name, file_path, interpretation, status, created_at, updated_at"

func (r *studyRepo) Create(ctx context.Context, patientID uuid.UUID, studyType, name string, manifest []string) (*Study, error) {
	if len(manifest) == 0 {
		return nil, common.Errorf(common.KindInvalidInput, "study manifest must not be empty")
	}
	now := time.Now().UTC()
	s := &Study{
		ID:        uuid.New(),
		PatientID: patientID,
		StudyType: studyType,
		Name:      name,
		Manifest:  manifest,
		Status:    constants.StudyStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(
		`INSERT INTO medical_studies (id, patient_id, study_type, name, file_path, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID.String(), s.PatientID.String(), s.StudyType, s.Name,
		strings.Join(manifest, manifestSep), string(s.Status),
		formatTime(now), formatTime(now))
	if err != nil {
		r.logger.Error("study.create_failed", "patient_id", patientID, "error", err)
		return nil, common.NewAppError(common.KindIOFailure, "creating study", err)
	}
	return s, nil
}

func (r *studyRepo) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+studyColumns+` FROM medical_studies WHERE id = ?`), id.String())
	s, err := scanStudy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.Errorf(common.KindNotFound, "study %s not found", id)
	}
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "loading study", err)
	}
	return s, nil
}

func (r *studyRepo) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error) {
	return r.list(ctx, r.db.rebind(
		`SELECT `+studyColumns+` FROM medical_studies WHERE patient_id = ? ORDER BY created_at DESC`),
		patientID.String())
}

func (r *studyRepo) ListAll(ctx context.Context) ([]*Study, error) {
	return r.list(ctx, `SELECT `+studyColumns+` FROM medical_studies ORDER BY created_at DESC`)
}

func (r *studyRepo) list(ctx context.Context, query string, args ...any) ([]*Study, error) {
	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "listing studies", err)
	}
	defer rows.Close()

	var out []*Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "scanning study", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "listing studies", err)
	}
	return out, nil
}

// Rename updates display name and/or type hint; empty values keep the
// current field. The manifest is immutable after create.
func (r *studyRepo) Rename(ctx context.Context, id uuid.UUID, name, studyType string) error {
	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(
		`UPDATE medical_studies
		 SET name = CASE WHEN ? = '' THEN name ELSE ? END,
		     study_type = CASE WHEN ? = '' THEN study_type ELSE ? END,
		     updated_at = ?
		 WHERE id = ?`),
		name, name, studyType, studyType, formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return common.NewAppError(common.KindIOFailure, "renaming study", err)
	}
	return requireRow(res, id)
}

func (r *studyRepo) SetStatusIf(ctx context.Context, id uuid.UUID, next constants.StudyStatus, expectedPrev ...constants.StudyStatus) error {
	if len(expectedPrev) == 0 {
		return common.Errorf(common.KindInvalidInput, "expectedPrev must not be empty")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(expectedPrev)), ", ")
	args := []any{string(next), formatTime(time.Now().UTC()), id.String()}
	for _, p := range expectedPrev {
		args = append(args, string(p))
	}
	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(
		`UPDATE medical_studies SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`),
		args...)
	if err != nil {
		return common.NewAppError(common.KindIOFailure, "updating study status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.NewAppError(common.KindIOFailure, "updating study status", err)
	}
	if n == 0 {
		// Either the row is missing or another run holds the transition.
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return common.Errorf(common.KindAlreadyInProgress, "study %s is already being processed", id)
	}
	return nil
}

func (r *studyRepo) SetResult(ctx context.Context, id uuid.UUID, interpretation string, next constants.StudyStatus) error {
	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(
		`UPDATE medical_studies SET interpretation = ?, status = ?, updated_at = ? WHERE id = ?`),
		interpretation, string(next), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return common.NewAppError(common.KindIOFailure, "storing study result", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return common.NewAppError(common.KindIOFailure, "checking affected rows", err)
	}
	if n == 0 {
		return common.Errorf(common.KindNotFound, "study %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudy(row rowScanner) (*Study, error) {
	var (
		s              Study
		idStr, patStr  string
		filePath       string
		interpretation sql.NullString
		status         string
		createdAt      string
		updatedAt      string
	)
	if err := row.Scan(&idStr, &patStr, &s.StudyType, &s.Name, &filePath, &interpretation, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if s.PatientID, err = uuid.Parse(patStr); err != nil {
		return nil, err
	}
	if filePath != "" {
		s.Manifest = strings.Split(filePath, manifestSep)
	}
	if interpretation.Valid {
		s.Interpretation = &interpretation.String
	}
	s.Status = constants.StudyStatus(status)
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
