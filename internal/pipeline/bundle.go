package pipeline

import "github.com/doctorfy/doctorfy/internal/llm"

// TextBlock is one artifact's extracted text, tagged with its origin so the
// prompt can separate sources.
type TextBlock struct {
	ArtifactName string
	Body         string
}

// Bundle is the ephemeral multimodal payload assembled for one run. It is
// built from the manifest in order and discarded after the model call.
type Bundle struct {
	Texts  []TextBlock
	Images []llm.Image
}

// HasContent reports whether anything analyzable was extracted: at least
// one image, or at least one text block with a non-empty body. A PDF that
// yielded no text still contributes an (empty) text block, which alone does
// not make the bundle analyzable.
func (b *Bundle) HasContent() bool {
	if len(b.Images) > 0 {
		return true
	}
	for _, t := range b.Texts {
		if t.Body != "" {
			return true
		}
	}
	return false
}
