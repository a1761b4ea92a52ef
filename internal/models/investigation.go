package models

import (
	"sort"
	"time"
)

// LogEntry represents a single log record returned by the search backend.
// Entries are immutable once created.
type LogEntry struct {
	ID         string
	Timestamp  time.Time
	Service    string
	Message    string
	LoggerName string
	SessionID  string
	VersionTag string
	StackTrace string
	Status     string
}

// SearchResult accumulates log entries deduplicated by id. The unique
// service and session sets are always derived from the entries, never set
// directly.
type SearchResult struct {
	Entries []LogEntry

	seen map[string]struct{}
}

// NewSearchResult returns an empty accumulator.
func NewSearchResult() *SearchResult {
	return &SearchResult{seen: map[string]struct{}{}}
}

// Append adds entries, skipping any id already present. Appending the same
// entries twice yields the same set.
func (r *SearchResult) Append(entries ...LogEntry) {
	if r.seen == nil {
		r.seen = make(map[string]struct{}, len(r.Entries)+len(entries))
		for _, e := range r.Entries {
			r.seen[e.ID] = struct{}{}
		}
	}
	for _, e := range entries {
		if _, dup := r.seen[e.ID]; dup {
			continue
		}
		r.seen[e.ID] = struct{}{}
		r.Entries = append(r.Entries, e)
	}
}

// Merge folds another result into this one, deduplicating by entry id.
func (r *SearchResult) Merge(other *SearchResult) {
	if other == nil {
		return
	}
	r.Append(other.Entries...)
}

// Len reports the number of deduplicated entries.
func (r *SearchResult) Len() int { return len(r.Entries) }

// UniqueServices derives the sorted set of service names present.
func (r *SearchResult) UniqueServices() []string {
	return r.uniqueBy(func(e LogEntry) string { return e.Service })
}

// UniqueSessionIDs derives the sorted set of session identifiers present.
func (r *SearchResult) UniqueSessionIDs() []string {
	return r.uniqueBy(func(e LogEntry) string { return e.SessionID })
}

// UniqueVersionTags derives the sorted set of version tags present.
func (r *SearchResult) UniqueVersionTags() []string {
	return r.uniqueBy(func(e LogEntry) string { return e.VersionTag })
}

// EntriesForService returns the entries emitted by one service.
func (r *SearchResult) EntriesForService(service string) []LogEntry {
	var out []LogEntry
	for _, e := range r.Entries {
		if e.Service == service {
			out = append(out, e)
		}
	}
	return out
}

func (r *SearchResult) uniqueBy(key func(LogEntry) string) []string {
	set := map[string]struct{}{}
	for _, e := range r.Entries {
		if k := key(e); k != "" {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TimeWindow bounds one search attempt.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// SearchAttempt records one window attempt for operator diagnosis.
type SearchAttempt struct {
	Query          string
	Window         TimeWindow
	ExpansionLevel int
	Hits           int
	Err            string
}

// DeploymentInfo describes the deployment matched to an observed version tag.
type DeploymentInfo struct {
	Service          string
	CommitHash       string
	ParentCommitHash string
	BuildNumber      string
	VersionTag       string
	DeployCommitSHA  string
	DeployedAt       time.Time
	PRNumber         int
	ChangedFiles     []string
}

// FileRevisionDiff holds a file's content at two revisions plus the unified
// diff and the line ranges it touched. RequestedPath is the path originally
// asked for; it differs from FilePath when the sibling extension resolved
// the file.
type FileRevisionDiff struct {
	FilePath      string
	RequestedPath string
	BeforeContent string
	AfterContent  string
	UnifiedDiff   string
	AddedLines    []int
	RemovedLines  []int
	HunkRanges    []LineRange
}

// LineRange is a half-open-free inclusive [Start, End] range in the after
// revision.
type LineRange struct {
	Start int
	End   int
}

// Contains reports whether line falls inside the range.
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// Severity grades potential issues and fix risk.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// PotentialIssue flags a suspicious pattern found in a diff.
type PotentialIssue struct {
	Category       string
	Severity       Severity
	Description    string
	LineNumbers    []int
	Recommendation string
	Snippet        string
}

// FileAnalysis pairs a revision diff with the issues detected in it.
type FileAnalysis struct {
	Diff   FileRevisionDiff
	Issues []PotentialIssue
}

// StackFrame is one frame of a parsed stack trace. Index preserves the
// original call-stack order; index 0 is the innermost (throw-site) frame.
type StackFrame struct {
	Index          int
	ClassName      string
	MethodName     string
	FileName       string
	LineNumber     int
	FilePath       string
	IsOwnedPackage bool
	IsRootFrame    bool
}

// ParsedStackTrace is the structured form of one raw stack trace.
type ParsedStackTrace struct {
	ExceptionType    string
	ExceptionShort   string
	ExceptionMessage string
	Frames           []StackFrame
	OwnedFrames      []StackFrame
	UniqueFilePaths  []string
	HasChainedCause  bool
}

// ChangeKind labels how a correlated line was touched by the diff.
type ChangeKind string

const (
	ChangeKindAdded   ChangeKind = "added"
	ChangeKindRemoved ChangeKind = "removed"
	ChangeKindNone    ChangeKind = ""
)

// LineCorrelation aligns a stack-frame line with a file's changed lines.
type LineCorrelation struct {
	FilePath      string
	StackLine     int
	IsDirectMatch bool
	IsNearbyMatch bool
	NearbyLines   []int
	ChangeKind    ChangeKind
}

// CallFlowStep is one step of the reconstructed call flow, innermost first.
type CallFlowStep struct {
	Step        int
	ClassName   string
	MethodName  string
	FilePath    string
	LineNumber  int
	IsRootCause bool
	Correlation *LineCorrelation
}

// Confidence grades a root-cause verdict.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// FixSuggestion is a proposed remediation, never applied automatically.
type FixSuggestion struct {
	Description string
	Rationale   string
}

// RootCause is the correlated verdict for one service. It is only built
// once a deployment and at least one file analysis exist.
type RootCause struct {
	Confidence     Confidence
	Explanation    string
	CallFlow       []CallFlowStep
	Correlations   []LineCorrelation
	SuggestedFixes []FixSuggestion
}

// StageFailure records a pipeline stage that degraded for a service.
type StageFailure struct {
	Stage  string
	Reason string
}

// ServiceInvestigationResult aggregates everything learned about one service.
type ServiceInvestigationResult struct {
	Service         string
	Entries         []LogEntry
	Deployment      *DeploymentInfo
	DeploymentNote  string
	Repository      string
	FileAnalyses    []FileAnalysis
	ParsedTraces    []ParsedStackTrace
	RootCause       *RootCause
	PartialFailures []StageFailure
}

// Degraded reports whether any stage failed for this service.
func (s *ServiceInvestigationResult) Degraded() bool {
	return len(s.PartialFailures) > 0
}

// InvestigationResult is the sole output handed to report formatting.
type InvestigationResult struct {
	RunID             string
	State             RunState
	SearchWindow      TimeWindow
	SearchAttempts    []SearchAttempt
	SessionsFound     int
	SessionsProcessed int
	PerService        map[string]*ServiceInvestigationResult
	Degraded          bool
	CreatedAt         time.Time
}

// RunState enumerates the scheduler state machine.
type RunState string

const (
	StateSearching          RunState = "SEARCHING"
	StateServicesIdentified RunState = "SERVICES_IDENTIFIED"
	StateInvestigating      RunState = "INVESTIGATING"
	StateAggregating        RunState = "AGGREGATING"
	StateDone               RunState = "DONE"
	StateNoResults          RunState = "NO_RESULTS"
)
