package llm

import "context"

// Image is one inline image part of a multimodal request.
type Image struct {
	MediaType string
	Data      []byte
}

// Request is a single multimodal analysis request. Texts are sent before
// Images, both in caller order.
type Request struct {
	System          string
	User            string
	Texts           []string
	Images          []Image
	MaxOutputTokens int
}

// Analyzer is the interface the pipeline depends on. Implementations are
// stateless and safe for concurrent use; retries are the caller's decision.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}
