package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subsection is one nested heading under an outline section.
type Subsection struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AsStr renders the subsection the way a stage prompt embeds it in an
// outline's markdown rendering.
func (s Subsection) AsStr() string {
	return strings.TrimSpace(fmt.Sprintf("### %s\n\n%s", s.Title, s.Description))
}

// OutlineSection is one top-level heading of the document outline.
type OutlineSection struct {
	SectionTitle string       `json:"section_title"`
	Description  string       `json:"description"`
	Subsections  []Subsection `json:"subsections,omitempty"`
}

// AsStr renders the section and its subsections as the markdown fragment a
// stage prompt embeds.
func (s OutlineSection) AsStr() string {
	var subs []string
	for _, sub := range s.Subsections {
		subs = append(subs, sub.AsStr())
	}
	return strings.TrimSpace(fmt.Sprintf("## %s\n\n%s\n\n%s", s.SectionTitle, s.Description, strings.Join(subs, "\n\n")))
}

// Outline is the first pipeline stage's output: the document's shape
// before any content has been gathered.
type Outline struct {
	DocumentTitle       string           `json:"document_title"`
	DocumentDescription string           `json:"document_description"`
	Sections            []OutlineSection `json:"sections"`
}

// AsStr renders the full outline as the markdown document later stages feed
// back to the model as context (perspectives, content, fusion prompts).
func (o Outline) AsStr() string {
	var sections []string
	for _, section := range o.Sections {
		sections = append(sections, section.AsStr())
	}
	return strings.TrimSpace(fmt.Sprintf(
		"# %s\n\n## Research Document Description\n%s\n\n%s",
		o.DocumentTitle, o.DocumentDescription, strings.Join(sections, "\n\n"),
	))
}

// Expert is one synthetic research perspective fanned out over in the
// content stage.
type Expert struct {
	Name       string `json:"name"`
	Profession string `json:"profession"`
	Role       string `json:"role"`
}

// AsStr renders the expert profile the way a persona system prompt embeds it.
func (e Expert) AsStr() string {
	return fmt.Sprintf("Name: %s\nProfession: %s\nRole: %s\n", e.Name, e.Profession, e.Role)
}

// Perspectives is the second pipeline stage's output: 1..expert_count(breadth)
// experts, each of which independently gathers content for every section.
type Perspectives struct {
	Experts []Expert `json:"experts"`
}

// ContentSection is one section of gathered, cited content, either from a
// single expert (a row of the content matrix) or after fusion.
type ContentSection struct {
	SectionTitle string   `json:"section_title"`
	Content      string   `json:"content"`
	Citations    []string `json:"citations"`
}

// AsStr renders the section with a trailing numbered citation block, the
// form a rolling summary call is fed between finalised sections.
func (s ContentSection) AsStr() string {
	var citations []string
	for _, c := range s.Citations {
		c = strings.TrimSpace(c)
		if c != "" {
			citations = append(citations, c)
		}
	}
	body := strings.Trim(strings.TrimSpace(fmt.Sprintf("## %s\n\n%s", s.SectionTitle, s.Content)), "#")
	body = strings.TrimSpace(body)
	if len(citations) == 0 {
		return body
	}
	var block []string
	for i, c := range citations {
		block = append(block, fmt.Sprintf("[%d] %s", i+1, c))
	}
	return strings.TrimSpace(body + "\n\n" + strings.Join(block, "\n"))
}

// PerspectiveContent is the third pipeline stage's output: a rectangular
// sections x experts matrix of plain section text (no citations yet -
// those only exist once the fusion stage produces a ContentSection),
// indexed [section][expert] in the same order as Outline.Sections and
// Perspectives.Experts.
type PerspectiveContent struct {
	Matrix [][]string
}

// MarshalJSON renders the matrix directly as a list<list<string>>, matching
// the checkpoint codec's normalised wire format (no wrapper object).
func (p PerspectiveContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Matrix)
}

// UnmarshalJSON accepts the same bare list<list<string>> form.
func (p *PerspectiveContent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.Matrix)
}

// CompleteDocument is the fourth pipeline stage's output: one fused section
// per outline section, in stable outline order.
type CompleteDocument struct {
	Title    string           `json:"title"`
	Sections []ContentSection `json:"sections"`
}

// AsStr renders the complete document as persisted markdown: the title,
// every section, then a de-duplicated, numbered references block built from
// every section's citations in order of first appearance.
func (d CompleteDocument) AsStr() string {
	var sections []string
	for _, s := range d.Sections {
		sections = append(sections, strings.TrimSpace(fmt.Sprintf("## %s\n\n%s", s.SectionTitle, s.Content)))
	}
	sectionsBlock := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if sectionsBlock == "" {
		sectionsBlock = "No sections generated."
	}

	var references []string
	seen := make(map[string]bool)
	for _, s := range d.Sections {
		for _, c := range s.Citations {
			c = strings.TrimSpace(c)
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			references = append(references, c)
		}
	}
	referencesBlock := "No references provided."
	if len(references) > 0 {
		var lines []string
		for i, r := range references {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, r))
		}
		referencesBlock = strings.Join(lines, "\n")
	}

	return strings.TrimSpace(fmt.Sprintf("# %s\n\n%s\n\n## References\n%s", d.Title, sectionsBlock, referencesBlock))
}

// PipelineState is the serialisable checkpoint written to ResearchJob.GraphState
// after every completed stage. The resume stage is the first field in fixed
// order (Outline -> Perspectives -> PerspectiveContent -> FinalDocument) that
// is nil; see ResumeNode.
type PipelineState struct {
	ResearchIdea        string               `json:"research_idea"`
	DocumentOutline     *Outline             `json:"document_outline,omitempty"`
	Perspectives        *Perspectives        `json:"perspectives,omitempty"`
	PerspectiveContent  *PerspectiveContent  `json:"perspective_content,omitempty"`
	FinalDocument       *CompleteDocument    `json:"final_document,omitempty"`
}

// ResumeNode returns the pipeline stage execution should (re)start from:
// the first stage whose prerequisite output is absent from the checkpoint.
func (s *PipelineState) ResumeNode() PipelineNode {
	if s.DocumentOutline == nil {
		return NodeOutline
	}
	if s.Perspectives == nil {
		return NodePerspectives
	}
	if s.PerspectiveContent == nil {
		return NodeContent
	}
	if s.FinalDocument == nil {
		return NodeFusion
	}
	return NodeDone
}
