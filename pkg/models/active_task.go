package models

// ActiveTask is the single-slot derived view of "what is this session doing
// right now". It is never persisted on its own; it is computed live from
// the ResearchJob row(s) for a session so it can never drift from the
// underlying job (see pkg/session).
type ActiveTask struct {
	ID              string
	Type            string // always "research" for now
	Status          JobStatus
	CurrentNode     *PipelineNode
	ProgressMessage *string
}
