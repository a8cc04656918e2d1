package models

// SpanKind distinguishes the two families of structural block the repair
// loop knows how to validate and fix.
type SpanKind string

const (
	SpanKindVisual   SpanKind = "visual"
	SpanKindEquation SpanKind = "equation"
)

// VisualKind further discriminates a SpanKindVisual span.
type VisualKind string

const (
	VisualKindChartJSON VisualKind = "chartjson"
	VisualKindMermaid   VisualKind = "mermaid"
)

// EquationDelimiterStyle records which of the accepted delimiter pairs
// wrapped an equation span, so the repair loop can re-emit the same style.
type EquationDelimiterStyle string

const (
	DelimiterDollarInline  EquationDelimiterStyle = "dollar_inline"  // $...$
	DelimiterDollarDisplay EquationDelimiterStyle = "dollar_display" // $$...$$
	DelimiterBracketInline EquationDelimiterStyle = "bracket_inline" // \(...\)
	DelimiterBracketBlock  EquationDelimiterStyle = "bracket_block"  // \[...\]
)

// Span is a structural block (a visualization fence or an equation) found
// inside a section's markdown. Offsets index into the section's raw
// markdown and never straddle a code-fence or inline-code span.
type Span struct {
	Kind            SpanKind
	VisualKind      VisualKind              // set when Kind == SpanKindVisual
	DelimiterStyle  EquationDelimiterStyle  // set when Kind == SpanKindEquation
	Expression      string                  // the block body between delimiters/fences
	StartOffset     int
	EndOffset       int
	Raw             string // the full span, delimiters/fences included
}

// ValidationFailure describes why a Span failed structural validation.
type ValidationFailure struct {
	Span   Span
	Reason string
}
