package constants

import (
	"strings"
)

type StudyType string

const (
	StudyTypeXRay       StudyType = "xray"
	StudyTypeMRI        StudyType = "mri"
	StudyTypeCT         StudyType = "ct"
	StudyTypeUltrasound StudyType = "ultrasound"
	StudyTypeBloodwork  StudyType = "bloodwork"
	StudyTypeECG        StudyType = "ecg"
	StudyTypePathology  StudyType = "pathology"
	StudyTypeGeneral    StudyType = "general"
)

var allStudyTypes = []StudyType{
	StudyTypeXRay,
	StudyTypeMRI,
	StudyTypeCT,
	StudyTypeUltrasound,
	StudyTypeBloodwork,
	StudyTypeECG,
	StudyTypePathology,
	StudyTypeGeneral,
}

func StudyTypesAsStrings() []string {
	result := make([]string, len(allStudyTypes))
	for i, st := range allStudyTypes {
		result[i] = string(st)
	}
	return result
}

// CanonicalizeStudyType maps free-form type hints onto the canonical set.
// Unknown hints fall back to general so the prompt always carries a type.
func CanonicalizeStudyType(input string) (StudyType, bool) {
	if input == "" {
		return StudyTypeGeneral, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]StudyType{
		"x-ray":          StudyTypeXRay,
		"radiograph":     StudyTypeXRay,
		"rx":             StudyTypeXRay,
		"mri scan":       StudyTypeMRI,
		"resonance":      StudyTypeMRI,
		"cat scan":       StudyTypeCT,
		"ct scan":        StudyTypeCT,
		"tomography":     StudyTypeCT,
		"echo":           StudyTypeUltrasound,
		"sonogram":       StudyTypeUltrasound,
		"blood test":     StudyTypeBloodwork,
		"blood panel":    StudyTypeBloodwork,
		"lab results":    StudyTypeBloodwork,
		"ekg":            StudyTypeECG,
		"biopsy":         StudyTypePathology,
		"histology":      StudyTypePathology,
	}

	if st, ok := synonyms[normalized]; ok {
		return st, true
	}

	for _, st := range allStudyTypes {
		if normalized == string(st) {
			return st, true
		}
	}

	return StudyTypeGeneral, false
}
