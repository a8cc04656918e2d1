// Package validate implements the structural checks the repair loop (C6)
// drives: pure functions that scan a section's markdown for visualization
// fences and equation spans, then report each span valid or invalid with a
// precise reason and byte offsets. Nothing here renders a visualization or
// calls an LLM — validation only.
package validate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/deepresearch/researchd/pkg/models"
)

// codeFenceRE matches a full ``` ... ``` fenced block, including its
// info-string line, so its interior is never mistaken for an equation span.
var codeFenceRE = regexp.MustCompile("(?s)```.*?```")

// inlineCodeRE matches a single-line `...` inline code span.
var inlineCodeRE = regexp.MustCompile("`[^`\n]*`")

var visualFenceRE = regexp.MustCompile(`(?is)` + "```" + `[ \t]*(chartjson|mermaid)[ \t]*\r?\n(.*?)` + "```" + `[ \t]*`)

type byteRange struct{ start, end int }

// maskedRanges returns the byte ranges that must never be treated as the
// start of an equation delimiter: fenced code blocks and inline code spans.
func maskedRanges(markdown string) []byteRange {
	var ranges []byteRange
	for _, m := range codeFenceRE.FindAllStringIndex(markdown, -1) {
		ranges = append(ranges, byteRange{m[0], m[1]})
	}
	for _, m := range inlineCodeRE.FindAllStringIndex(markdown, -1) {
		ranges = append(ranges, byteRange{m[0], m[1]})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	return ranges
}

func isMasked(ranges []byteRange, pos int) bool {
	for _, r := range ranges {
		if pos >= r.start && pos < r.end {
			return true
		}
		if pos < r.start {
			break
		}
	}
	return false
}

// ExtractVisualBlocks scans markdown for fenced blocks whose info string is
// chartjson or mermaid (case-insensitive, optional trailing whitespace).
func ExtractVisualBlocks(markdown string) []models.Span {
	var spans []models.Span
	for _, m := range visualFenceRE.FindAllStringSubmatchIndex(markdown, -1) {
		raw := markdown[m[0]:m[1]]
		kindTag := strings.ToLower(markdown[m[2]:m[3]])
		body := markdown[m[4]:m[5]]

		var kind models.VisualKind
		if kindTag == "chartjson" {
			kind = models.VisualKindChartJSON
		} else {
			kind = models.VisualKindMermaid
		}

		spans = append(spans, models.Span{
			Kind:        models.SpanKindVisual,
			VisualKind:  kind,
			Expression:  body,
			StartOffset: m[0],
			EndOffset:   m[1],
			Raw:         raw,
		})
	}
	return spans
}

// ExtractEquationSpans performs a single left-to-right masked scan of
// markdown, recognising four delimiter styles ($…$, $$…$$, \[…\], \(…\))
// and skipping anything that starts inside a code fence or inline-code
// span. Spans never overlap with one another, and no delimiter lies inside
// a masked range; a span's interior may still contain one.
func ExtractEquationSpans(markdown string) []models.Span {
	masked := maskedRanges(markdown)
	var spans []models.Span
	n := len(markdown)

	i := 0
	for i < n {
		if isMasked(masked, i) {
			i++
			continue
		}

		switch {
		case strings.HasPrefix(markdown[i:], "$$"):
			if end, ok := findCloser(markdown, i+2, "$$", masked); ok {
				spans = append(spans, newSpan(models.DelimiterDollarDisplay, markdown, i, end+2, i+2, end))
				i = end + 2
				continue
			}
		case markdown[i] == '$':
			if end, ok := findInlineDollarCloser(markdown, i+1, masked); ok {
				spans = append(spans, newSpan(models.DelimiterDollarInline, markdown, i, end+1, i+1, end))
				i = end + 1
				continue
			}
		case strings.HasPrefix(markdown[i:], `\[`):
			if end, ok := findCloser(markdown, i+2, `\]`, masked); ok {
				spans = append(spans, newSpan(models.DelimiterBracketBlock, markdown, i, end+2, i+2, end))
				i = end + 2
				continue
			}
		case strings.HasPrefix(markdown[i:], `\(`):
			if end, ok := findCloser(markdown, i+2, `\)`, masked); ok {
				spans = append(spans, newSpan(models.DelimiterBracketInline, markdown, i, end+2, i+2, end))
				i = end + 2
				continue
			}
		}
		i++
	}
	return spans
}

func newSpan(style models.EquationDelimiterStyle, markdown string, start, end, exprStart, exprEnd int) models.Span {
	return models.Span{
		Kind:           models.SpanKindEquation,
		DelimiterStyle: style,
		Expression:     markdown[exprStart:exprEnd],
		StartOffset:    start,
		EndOffset:      end,
		Raw:            markdown[start:end],
	}
}

// findCloser returns the start offset of the first unmasked occurrence of
// closer at or after start.
func findCloser(markdown string, start int, closer string, masked []byteRange) (int, bool) {
	for i := start; i+len(closer) <= len(markdown); i++ {
		if isMasked(masked, i) {
			continue
		}
		if markdown[i:i+len(closer)] == closer {
			return i, true
		}
	}
	return 0, false
}

// findInlineDollarCloser finds the closing '$' for an inline $…$ span,
// refusing to cross a real newline — an unterminated inline span on one
// line is left as prose, per the "not extracted across a line boundary"
// rule, rather than silently spanning into the next line.
func findInlineDollarCloser(markdown string, start int, masked []byteRange) (int, bool) {
	for i := start; i < len(markdown); i++ {
		if markdown[i] == '\n' {
			return 0, false
		}
		if isMasked(masked, i) {
			continue
		}
		if markdown[i] == '$' {
			return i, true
		}
	}
	return 0, false
}
