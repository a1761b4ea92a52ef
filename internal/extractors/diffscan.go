package extractors

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/inquestlabs/inquest-engine/internal/models"
)

// hunkPattern matches unified diff hunk headers: @@ -12,7 +12,9 @@
var hunkPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ChangedLines holds the per-line view of a unified diff, in after-revision
// line numbers.
type ChangedLines struct {
	Added   []int
	Removed []int
	Hunks   []models.LineRange
}

// ParseUnifiedDiff walks a unified diff and records added lines, the
// after-revision positions where removals happened, and the hunk ranges.
func ParseUnifiedDiff(diff string) ChangedLines {
	var out ChangedLines
	current := 0
	hunkStart := 0
	hunkLen := 0

	flushHunk := func() {
		if hunkStart > 0 {
			end := hunkStart + hunkLen - 1
			if end < hunkStart {
				end = hunkStart
			}
			out.Hunks = append(out.Hunks, models.LineRange{Start: hunkStart, End: end})
		}
	}

	for _, line := range strings.Split(diff, "\n") {
		if m := hunkPattern.FindStringSubmatch(line); m != nil {
			flushHunk()
			current, _ = strconv.Atoi(m[3])
			hunkStart = current
			hunkLen = 1
			if m[4] != "" {
				hunkLen, _ = strconv.Atoi(m[4])
			}
			continue
		}
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			out.Added = append(out.Added, current)
			current++
		case strings.HasPrefix(line, "-"):
			// Removals land at the current after-revision position.
			out.Removed = append(out.Removed, current)
		default:
			if hunkStart > 0 {
				current++
			}
		}
	}
	flushHunk()

	sort.Ints(out.Added)
	out.Removed = dedupSorted(out.Removed)
	return out
}

// Contains reports whether line was touched, and how. Added wins over
// removed when both land on the same after-revision line.
func (c ChangedLines) Contains(line int) (models.ChangeKind, bool) {
	for _, l := range c.Added {
		if l == line {
			return models.ChangeKindAdded, true
		}
	}
	for _, l := range c.Removed {
		if l == line {
			return models.ChangeKindRemoved, true
		}
	}
	return models.ChangeKindNone, false
}

// All returns every touched line number, sorted and deduplicated.
func (c ChangedLines) All() []int {
	all := append(append([]int(nil), c.Added...), c.Removed...)
	sort.Ints(all)
	return dedupSorted(all)
}

func dedupSorted(in []int) []int {
	sort.Ints(in)
	out := in[:0]
	prev := -1
	for _, v := range in {
		if v != prev {
			out = append(out, v)
			prev = v
		}
	}
	return out
}

// Issue categories detected by the diff scanner.
const (
	IssueErrorHandlingRemoved = "error_handling_removed"
	IssueNullGuardRemoved     = "null_guard_removed"
	IssueNewException         = "new_exception"
	IssueQueryModified        = "query_modified"
	IssueExternalAPIChanged   = "external_api_changed"
	IssueTimingModified       = "timing_async_modified"
	IssueHardcodedSecret      = "hardcoded_secret"
)

var errorHandlingPatterns = compileAll(
	`\btry\s*\{`,
	`\bcatch\s*[({]`,
	`\.catch\s*[({]`,
	`\bfinally\s*\{`,
	`\.onErrorReturn`,
	`\.onErrorResume`,
	`runCatching`,
	`\.getOrElse`,
	`\.getOrNull`,
)

var nullGuardPatterns = compileAll(
	`!=\s*null`,
	`==\s*null`,
	`\?\.`,
	`\?:`,
	`requireNotNull`,
	`checkNotNull`,
	`Objects\.requireNonNull`,
	`\.isPresent\s*\(`,
	`\.orElse`,
	`let\s*\{`,
)

var exceptionPatterns = compileAll(
	`\bthrow\s+`,
	`\.orElseThrow`,
	`\berror\s*\(`,
	`IllegalArgumentException`,
	`IllegalStateException`,
	`RuntimeException`,
	`NoSuchElementException`,
)

var queryPatterns = compileAll(
	`(?i)\bSELECT\b`,
	`(?i)\bINSERT\b`,
	`(?i)\bUPDATE\b`,
	`(?i)\bDELETE\b`,
	`(?i)\bJOIN\b`,
	`@Query\s*\(`,
	`\.query\s*\(`,
	`\.execute\s*\(`,
	`jdbcTemplate`,
	`entityManager`,
	`\.findBy`,
	`\.save\s*\(`,
)

var externalAPIPatterns = compileAll(
	`RestTemplate`,
	`WebClient`,
	`FeignClient`,
	`HttpClient`,
	`\.exchange\s*\(`,
	`\.retrieve\s*\(`,
	`\.bodyTo`,
	`\.post\s*\(`,
	`\.put\s*\(`,
)

var timingPatterns = compileAll(
	`\bsuspend\b`,
	`\.await\s*\(`,
	`runBlocking`,
	`launch\s*\{`,
	`async\s*\{`,
	`\.delay\s*\(`,
	`\.timeout\s*\(`,
	`CompletableFuture`,
	`\.thenApply`,
	`Mono\.`,
	`Flux\.`,
	`\.subscribe\s*\(`,
	`\.block\s*\(`,
	`@Async`,
	`@Scheduled`,
	`ExecutorService`,
)

var secretPatterns = compileAll(
	`(?i)password\s*=\s*["']`,
	`(?i)secret\s*=\s*["']`,
	`(?i)api[_-]?key\s*=\s*["']`,
	`(?i)token\s*=\s*["']`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

type diffLine struct {
	number int
	text   string
}

// ScanDiffIssues inspects a unified diff for category-specific signals and
// returns one PotentialIssue per triggered category. Severity follows the
// category: safety-net removals and timing changes are HIGH, logic and API
// modifications MEDIUM.
func ScanDiffIssues(diff string) []models.PotentialIssue {
	if diff == "" {
		return nil
	}

	var added, removed []diffLine
	current := 0
	for _, line := range strings.Split(diff, "\n") {
		if m := hunkPattern.FindStringSubmatch(line); m != nil {
			current, _ = strconv.Atoi(m[3])
			continue
		}
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			added = append(added, diffLine{number: current, text: line[1:]})
			current++
		case strings.HasPrefix(line, "-"):
			removed = append(removed, diffLine{number: current, text: line[1:]})
		default:
			current++
		}
	}

	var issues []models.PotentialIssue
	appendIssue := func(issue *models.PotentialIssue) {
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	appendIssue(matchLines(removed, errorHandlingPatterns, "-", models.PotentialIssue{
		Category:       IssueErrorHandlingRemoved,
		Severity:       models.SeverityHigh,
		Description:    "Error handling code was removed or modified",
		Recommendation: "Verify the removed try/catch or recovery path is replaced by equivalent handling",
	}))
	appendIssue(matchLines(removed, nullGuardPatterns, "-", models.PotentialIssue{
		Category:       IssueNullGuardRemoved,
		Severity:       models.SeverityHigh,
		Description:    "A null guard was removed before a dereference",
		Recommendation: "Restore the null check or make the receiver non-nullable",
	}))
	appendIssue(matchLines(added, exceptionPatterns, "+", models.PotentialIssue{
		Category:       IssueNewException,
		Severity:       models.SeverityMedium,
		Description:    "New exception throwing code was added",
		Recommendation: "Confirm callers handle the newly thrown exception",
	}))
	appendIssue(matchLines(both(removed, added), queryPatterns, "", models.PotentialIssue{
		Category:       IssueQueryModified,
		Severity:       models.SeverityMedium,
		Description:    "Database query or persistence code was modified",
		Recommendation: "Compare the old and new query semantics against production data",
	}))
	appendIssue(matchLines(both(removed, added), externalAPIPatterns, "", models.PotentialIssue{
		Category:       IssueExternalAPIChanged,
		Severity:       models.SeverityMedium,
		Description:    "External API call code was modified",
		Recommendation: "Check the downstream contract for the modified call",
	}))
	appendIssue(matchLines(both(removed, added), timingPatterns, "", models.PotentialIssue{
		Category:       IssueTimingModified,
		Severity:       models.SeverityHigh,
		Description:    "Asynchronous or timing-related code was modified",
		Recommendation: "Review concurrency assumptions around the modified primitive",
	}))
	appendIssue(matchLines(added, secretPatterns, "+", models.PotentialIssue{
		Category:       IssueHardcodedSecret,
		Severity:       models.SeverityHigh,
		Description:    "A credential-looking literal was added",
		Recommendation: "Move the literal into secret management",
	}))

	return issues
}

func both(a, b []diffLine) []diffLine {
	return append(append([]diffLine(nil), a...), b...)
}

func matchLines(lines []diffLine, patterns []*regexp.Regexp, marker string, template models.PotentialIssue) *models.PotentialIssue {
	var hits []diffLine
	for _, line := range lines {
		for _, p := range patterns {
			if p.MatchString(line.text) {
				hits = append(hits, line)
				break
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}

	issue := template
	var snippet []string
	for i, hit := range hits {
		issue.LineNumbers = append(issue.LineNumbers, hit.number)
		if i < 5 {
			snippet = append(snippet, marker+strings.TrimSpace(hit.text))
		}
	}
	issue.LineNumbers = dedupSorted(issue.LineNumbers)
	issue.Snippet = strings.Join(snippet, "\n")
	return &issue
}
