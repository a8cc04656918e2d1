package validate

import "github.com/deepresearch/researchd/pkg/models"

// Result is the outcome of validating a single chartjson or mermaid block.
type Result struct {
	Valid         bool
	InvalidReason string
}

// SpanResult is the outcome of validating one equation or visual span,
// carrying the span's byte offsets so the repair loop can splice a fix back
// in place.
type SpanResult struct {
	Span          models.Span
	Valid         bool
	InvalidReason string
}

func ok() Result                   { return Result{Valid: true} }
func invalid(reason string) Result { return Result{Valid: false, InvalidReason: reason} }
