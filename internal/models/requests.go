package models

import "time"

// SearchMode selects how the initial query is built.
type SearchMode string

const (
	// ModeLogMessage searches by a literal log message fragment.
	ModeLogMessage SearchMode = "log_message"
	// ModeIdentifiers searches by customer or transaction identifiers.
	ModeIdentifiers SearchMode = "identifiers"
)

// InvestigationRequest is the raw user input driving one run.
type InvestigationRequest struct {
	Mode        SearchMode
	LogMessage  string
	Identifiers []string
	// Timestamp centers the search window when the user knows roughly
	// when the issue happened. Zero means "search backwards from now".
	Timestamp time.Time
}

// SearchQuery is one immutable query attempt against the log backend.
type SearchQuery struct {
	Text   string
	Window TimeWindow
	Limit  int
}
