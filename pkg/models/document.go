package models

import "time"

// VectorDocument is one chunk of scraped or uploaded source content, kept
// in the session's vector store stand-in so later tool calls can retrieve
// it by similarity or by exact source URL.
type VectorDocument struct {
	ID        string
	SessionID string
	Source    string
	Title     string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}
