package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/deepresearch/researchd/pkg/models"
)

const equationMaxChars = 4096

var unsafeEquationContentRE = regexp.MustCompile(`(?i)<script|javascript:|data:text/`)

var macroDefRE = regexp.MustCompile(`\\(newcommand|renewcommand|def|let|DeclareMathOperator)\b`)

var equationControlCharRE = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)

var htmlTagRE = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// needsArgCommands must be immediately followed by an opening '{' or '['.
var needsArgCommands = []string{
	`\frac`, `\dfrac`, `\tfrac`, `\cfrac`,
	`\binom`, `\dbinom`, `\tbinom`,
	`\sqrt`, `\stackrel`, `\overset`, `\underset`,
}

// ValidateEquations extracts every equation span from markdown and
// validates each independently, in the order each check is listed in
// spec.md: non-empty/length, unsafe content, macro definitions, control
// characters, trailing backslash, bare '%' comment, inline-dollar newline
// rule, brace balance, \begin/\end matching, \left/\right balance, double
// scripting, argument-requiring commands, and HTML tag injection.
func ValidateEquations(markdown string) []SpanResult {
	spans := ExtractEquationSpans(markdown)
	results := make([]SpanResult, 0, len(spans))
	for _, span := range spans {
		results = append(results, validateEquationSpan(span))
	}
	return results
}

func validateEquationSpan(span models.Span) SpanResult {
	expr := span.Expression

	if reason := checkEmptyOrTooLong(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if unsafeEquationContentRE.MatchString(expr) {
		return invalidSpan(span, "Equation contains unsafe content.")
	}
	if macroDefRE.MatchString(expr) {
		return invalidSpan(span, "Equation defines a macro, which is not allowed.")
	}
	if equationControlCharRE.MatchString(expr) {
		return invalidSpan(span, "Equation contains an ASCII control character.")
	}
	if reason := checkTrailingBackslash(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if reason := checkBareComment(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if span.DelimiterStyle == models.DelimiterDollarInline {
		if strings.Contains(expr, "\n") {
			return invalidSpan(span, "Inline equation must not span a real newline.")
		}
		if strings.Contains(expr, "$$") {
			return invalidSpan(span, "Inline equation must not contain '$$'.")
		}
	}
	if reason := checkBraceBalance(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if reason := checkEnvNesting(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if reason := checkLeftRightBalance(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if reason := checkDoubleScript(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if reason := checkNeedsArg(expr); reason != "" {
		return invalidSpan(span, reason)
	}
	if htmlTagRE.MatchString(expr) {
		return invalidSpan(span, "Equation contains an HTML/XML tag.")
	}

	return SpanResult{Span: span, Valid: true}
}

func invalidSpan(span models.Span, reason string) SpanResult {
	return SpanResult{Span: span, Valid: false, InvalidReason: reason}
}

func checkEmptyOrTooLong(expr string) string {
	if strings.TrimSpace(expr) == "" {
		return "Equation is empty."
	}
	if len(expr) > equationMaxChars {
		return fmt.Sprintf("Equation exceeds the maximum length of %d characters.", equationMaxChars)
	}
	return ""
}

func checkTrailingBackslash(expr string) string {
	trailingBackslashes := 0
	for i := len(expr) - 1; i >= 0 && expr[i] == '\\'; i-- {
		trailingBackslashes++
	}
	if trailingBackslashes%2 == 1 {
		return "Equation ends in a trailing lone backslash."
	}
	return ""
}

func checkBareComment(expr string) string {
	escaped := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '%' {
			return "Equation contains a bare '%' comment character."
		}
	}
	return ""
}

// checkBraceBalance counts curly braces, skipping escaped \{ \}.
func checkBraceBalance(expr string) string {
	depth := 0
	for i := 0; i < len(expr); i++ {
		if expr[i] == '\\' && i+1 < len(expr) && (expr[i+1] == '{' || expr[i+1] == '}') {
			i++
			continue
		}
		switch expr[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return "Unbalanced brace group: unexpected closing '}'."
			}
		}
	}
	if depth != 0 {
		return "Unclosed brace group."
	}
	return ""
}

var beginRE = regexp.MustCompile(`\\begin\{([^}]*)\}`)
var endRE = regexp.MustCompile(`\\end\{([^}]*)\}`)

// checkEnvNesting stack-matches \begin{env}/\end{env} pairs in document
// order; env names must be non-empty.
func checkEnvNesting(expr string) string {
	type tok = struct {
		isBegin bool
		name    string
		pos     int
	}
	var toks []tok
	for _, m := range beginRE.FindAllStringSubmatchIndex(expr, -1) {
		toks = append(toks, tok{true, expr[m[2]:m[3]], m[0]})
	}
	for _, m := range endRE.FindAllStringSubmatchIndex(expr, -1) {
		toks = append(toks, tok{false, expr[m[2]:m[3]], m[0]})
	}
	sortToksByPos(toks)

	var stack []string
	for _, t := range toks {
		if strings.TrimSpace(t.name) == "" {
			return "Environment name must be non-empty."
		}
		if t.isBegin {
			stack = append(stack, t.name)
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != t.name {
			return fmt.Sprintf("Mismatched \\end{%s} without a matching \\begin.", t.name)
		}
		stack = stack[:len(stack)-1]
	}
	if len(stack) > 0 {
		unclosed := make([]string, len(stack))
		for i, e := range stack {
			unclosed[i] = fmt.Sprintf(`\begin{%s}`, e)
		}
		return fmt.Sprintf("Unclosed environment(s): %s.", strings.Join(unclosed, ", "))
	}
	return ""
}

func sortToksByPos(toks []struct {
	isBegin bool
	name    string
	pos     int
}) {
	for i := 1; i < len(toks); i++ {
		for j := i; j > 0 && toks[j].pos < toks[j-1].pos; j-- {
			toks[j], toks[j-1] = toks[j-1], toks[j]
		}
	}
}

var leftRE = regexp.MustCompile(`\\left\b`)
var rightRE = regexp.MustCompile(`\\right\b`)

func checkLeftRightBalance(expr string) string {
	left := len(leftRE.FindAllStringIndex(expr, -1))
	right := len(rightRE.FindAllStringIndex(expr, -1))
	if left != right {
		return fmt.Sprintf(`Unbalanced \left/\right: %d \left vs %d \right.`, left, right)
	}
	return ""
}

// checkDoubleScript detects a double superscript (x^a^b) or double
// subscript (x_a_b) at the same brace depth: each depth tracks whether a
// script has been opened without an intervening base-token reset.
func checkDoubleScript(expr string) string {
	n := len(expr)
	i := 0
	superUsed := map[int]bool{}
	subUsed := map[int]bool{}
	depth := 0

	consumeArg := func(pos int) int {
		for pos < n && (expr[pos] == ' ' || expr[pos] == '\t' || expr[pos] == '\r' || expr[pos] == '\n') {
			pos++
		}
		if pos >= n {
			return pos
		}
		switch {
		case expr[pos] == '{':
			d := 0
			for pos < n {
				if expr[pos] == '\\' {
					pos += 2
					continue
				}
				if expr[pos] == '{' {
					d++
				} else if expr[pos] == '}' {
					d--
					if d == 0 {
						return pos + 1
					}
				}
				pos++
			}
			return pos
		case expr[pos] == '\\':
			pos++
			if pos < n && !isAlpha(expr[pos]) {
				return pos + 1
			}
			for pos < n && isAlpha(expr[pos]) {
				pos++
			}
			return pos
		default:
			return pos + 1
		}
	}

	for i < n {
		ch := expr[i]
		switch {
		case ch == '\\':
			i++
			if i < n && !isAlpha(expr[i]) {
				i++
			} else {
				for i < n && isAlpha(expr[i]) {
					i++
				}
			}
			superUsed[depth] = false
			subUsed[depth] = false
		case ch == '{':
			depth++
			superUsed[depth] = false
			subUsed[depth] = false
			i++
		case ch == '}':
			delete(superUsed, depth)
			delete(subUsed, depth)
			if depth > 0 {
				depth--
			}
			superUsed[depth] = false
			subUsed[depth] = false
			i++
		case ch == '^':
			if superUsed[depth] {
				return "Double superscript: '^' applied twice to the same base."
			}
			superUsed[depth] = true
			subUsed[depth] = false
			i = consumeArg(i + 1)
		case ch == '_':
			if subUsed[depth] {
				return "Double subscript: '_' applied twice to the same base."
			}
			subUsed[depth] = true
			superUsed[depth] = false
			i = consumeArg(i + 1)
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			i++
		default:
			superUsed[depth] = false
			subUsed[depth] = false
			i++
		}
	}
	return ""
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// checkNeedsArg flags a command that requires a braced/bracketed argument
// but is followed immediately by another command or the end of the
// expression instead.
func checkNeedsArg(expr string) string {
	for _, cmd := range needsArgCommands {
		idx := 0
		for {
			pos := strings.Index(expr[idx:], cmd)
			if pos == -1 {
				break
			}
			pos += idx
			end := pos + len(cmd)
			if end < len(expr) && isAlpha(expr[end]) {
				// Matched a longer command name (e.g. \fraction); skip.
				idx = end
				continue
			}
			rest := strings.TrimLeft(expr[end:], " \t\r\n")
			if rest == "" {
				return fmt.Sprintf("%s at end of expression without a required argument.", cmd)
			}
			if rest[0] != '{' && rest[0] != '[' {
				return fmt.Sprintf("%s is not followed by a required argument.", cmd)
			}
			idx = end
		}
	}
	return ""
}
