package worker

import "time"

// IngestPayload triggers chunking and embedding for one source. The
// full record travels in the message so the worker never reads the
// relational store.
type IngestPayload struct {
	SourceID     string     `json:"source_id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Organization string     `json:"organization,omitempty"`
	Location     string     `json:"location,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Achievements []string   `json:"achievements,omitempty"`
	Skills       []string   `json:"skills,omitempty"`
	Tags         []string   `json:"tags,omitempty"`

	// Replace drops the source's existing chunks before ingesting,
	// used on re-extraction of an updated record.
	Replace bool `json:"replace,omitempty"`

	CorrelationID string `json:"correlation_id"`
}

// IngestResult is the run summary published after a source finishes.
type IngestResult struct {
	SourceID      string `json:"source_id"`
	Processed     int    `json:"processed"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	CorrelationID string `json:"correlation_id"`
}
