package constants

// StudyStatus is the canonical status for rows in medical_studies.
type StudyStatus string

// Stable values (store these exact strings in DB).
const (
	StudyStatusPending    StudyStatus = "PENDING"    // uploaded, not yet analyzed
	StudyStatusProcessing StudyStatus = "PROCESSING" // analysis in flight
	StudyStatusCompleted  StudyStatus = "COMPLETED"  // interpretation stored
	StudyStatusFailed     StudyStatus = "FAILED"     // terminal for this attempt; retry allowed
)

// AnalyzableFrom lists the statuses an analysis run may start from.
// Re-analysis of COMPLETED studies is permitted and re-charges.
var AnalyzableFrom = []StudyStatus{StudyStatusPending, StudyStatusFailed, StudyStatusCompleted}

// ValidStatus reports whether s is one of the stable status strings.
func ValidStatus(s string) bool {
	switch StudyStatus(s) {
	case StudyStatusPending, StudyStatusProcessing, StudyStatusCompleted, StudyStatusFailed:
		return true
	}
	return false
}

// TxReason is the canonical reason for rows in credit_transactions.
type TxReason string

const (
	TxReasonStudyAnalysis       TxReason = "STUDY_ANALYSIS"
	TxReasonIntegratedDiagnosis TxReason = "INTEGRATED_DIAGNOSIS"
	TxReasonAdminAssignment     TxReason = "ADMIN_ASSIGNMENT"
	TxReasonRefund              TxReason = "REFUND"
)
