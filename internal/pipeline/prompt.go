package pipeline

import (
	"fmt"
	"strings"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/repository"
)

const studySystemPrompt = `You are an educational medical imaging and report analyst. ` +
	`You review medical study artifacts (imaging and report text) and produce a clear, ` +
	`structured explanation for educational purposes. Structure your answer in these sections: ` +
	`Findings, Interpretation, Implications, Recommendations. ` +
	`Be specific about what is visible or stated in the material and avoid speculation beyond it. ` +
	`Close with a reminder that this analysis is educational and does not replace evaluation by a licensed physician.`

const diagnosisSystemPrompt = `You are a differential-diagnosis assistant. ` +
	`You integrate previously interpreted medical studies and patient-reported symptoms into one ` +
	`structured clinical opinion: likely explanations ranked by plausibility, supporting evidence from ` +
	`the provided material, relevant alternatives to exclude, and sensible next steps. ` +
	`State clearly that this is an informational synthesis, not a medical diagnosis, and that the ` +
	`patient must consult a licensed physician before acting on it.`

// buildStudyUserPrompt names the study type hint; the extracted text blocks
// follow as separate message parts, each introduced by its artifact header.
// Known hint synonyms collapse to the canonical vocabulary; unknown free
// text passes through as-is.
func buildStudyUserPrompt(studyType string) string {
	hint := strings.TrimSpace(studyType)
	if hint == "" {
		hint = string(constants.StudyTypeGeneral)
	} else if st, known := constants.CanonicalizeStudyType(hint); known {
		hint = string(st)
	}
	return fmt.Sprintf(
		"Please analyze the following medical study (type hint: %s). "+
			"Document text extracted from the uploaded artifacts follows, one block per artifact, "+
			"then any associated images.", hint)
}

// textBlockPayload renders one artifact's text with its separating header.
func textBlockPayload(t TextBlock) string {
	return fmt.Sprintf("--- %s ---\n%s", t.ArtifactName, t.Body)
}

// notInterpretedNotice replaces the interpretation of studies that have not
// completed analysis when they are referenced by a diagnosis request.
const notInterpretedNotice = "(this study has not been interpreted yet)"

// buildDiagnosisUserPrompt assembles demographics, prior study
// interpretations, and the symptom narrative into a single text prompt.
// No images are sent; the fusion step is text-only.
func buildDiagnosisUserPrompt(user *repository.User, studies []*repository.Study, symptoms string) string {
	var b strings.Builder

	b.WriteString("Patient demographics: ")
	if user.Age != nil {
		fmt.Fprintf(&b, "age %d", *user.Age)
	} else {
		b.WriteString("age unknown")
	}
	if user.Gender != nil && *user.Gender != "" {
		fmt.Fprintf(&b, ", gender %s", *user.Gender)
	} else {
		b.WriteString(", gender unknown")
	}
	b.WriteString("\n\n")

	if len(studies) > 0 {
		b.WriteString("Prior studies:\n")
		for _, s := range studies {
			name := s.Name
			if name == "" {
				name = s.ID.String()
			}
			// FAILED studies carry their error message in the interpretation
			// field; only COMPLETED interpretations feed the prompt.
			interpretation := notInterpretedNotice
			if s.Status == constants.StudyStatusCompleted && s.Interpretation != nil && *s.Interpretation != "" {
				interpretation = *s.Interpretation
			}
			fmt.Fprintf(&b, "- %s (type: %s, date: %s):\n%s\n\n",
				name, s.StudyType, s.CreatedAt.Format("2006-01-02"), interpretation)
		}
	}

	if symptoms != "" {
		b.WriteString("Reported symptoms:\n")
		b.WriteString(symptoms)
		b.WriteString("\n")
	}

	b.WriteString("\nPlease provide an integrated differential assessment of the material above.")
	return b.String()
}
