package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchResultAppendDeduplicates(t *testing.T) {
	r := NewSearchResult()
	r.Append(
		LogEntry{ID: "ev-1", Service: "card-service", SessionID: "sess-a"},
		LogEntry{ID: "ev-2", Service: "billing-service", SessionID: "sess-b"},
		LogEntry{ID: "ev-1", Service: "card-service", SessionID: "sess-a"},
	)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"billing-service", "card-service"}, r.UniqueServices())
	assert.Equal(t, []string{"sess-a", "sess-b"}, r.UniqueSessionIDs())
}

func TestSearchResultMergeIsIdempotent(t *testing.T) {
	a := NewSearchResult()
	a.Append(LogEntry{ID: "ev-1"})

	b := NewSearchResult()
	b.Append(LogEntry{ID: "ev-1"}, LogEntry{ID: "ev-2"})

	a.Merge(b)
	a.Merge(b)
	a.Merge(nil)

	assert.Equal(t, 2, a.Len())
}

func TestSearchResultDerivedSetsSkipEmpty(t *testing.T) {
	r := NewSearchResult()
	r.Append(
		LogEntry{ID: "ev-1", Service: "card-service", VersionTag: "abc___1"},
		LogEntry{ID: "ev-2"},
	)

	assert.Equal(t, []string{"card-service"}, r.UniqueServices())
	assert.Equal(t, []string{"abc___1"}, r.UniqueVersionTags())
	assert.Empty(t, r.UniqueSessionIDs())
}

func TestEntriesForService(t *testing.T) {
	r := NewSearchResult()
	r.Append(
		LogEntry{ID: "ev-1", Service: "card-service"},
		LogEntry{ID: "ev-2", Service: "billing-service"},
		LogEntry{ID: "ev-3", Service: "card-service"},
	)

	entries := r.EntriesForService("card-service")
	assert.Len(t, entries, 2)
}

func TestLineRangeContains(t *testing.T) {
	r := LineRange{Start: 10, End: 20}
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(20))
	assert.False(t, r.Contains(9))
	assert.False(t, r.Contains(21))
}

func TestServiceResultDegraded(t *testing.T) {
	svc := &ServiceInvestigationResult{Service: "card-service"}
	assert.False(t, svc.Degraded())

	svc.PartialFailures = append(svc.PartialFailures, StageFailure{Stage: "code_analysis", Reason: "missing file"})
	assert.True(t, svc.Degraded())
}
