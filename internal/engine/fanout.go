package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// SessionQueryBuilder produces the exact-match query for one session id.
type SessionQueryBuilder interface {
	BuildSessionQuery(sessionID string) string
}

// SessionFanOut expands an initial hit set to the full log context of each
// session, bounded by a cap and a concurrency limit. Per-session failures
// degrade the fan-out instead of aborting it.
type SessionFanOut struct {
	searcher    Searcher
	queries     SessionQueryBuilder
	cap         int
	concurrency int64
	logger      *slog.Logger
}

// NewSessionFanOut wires a fan-out with the given session cap and
// concurrency bound.
func NewSessionFanOut(searcher Searcher, queries SessionQueryBuilder, sessionCap, concurrency int, logger *slog.Logger) *SessionFanOut {
	return &SessionFanOut{
		searcher:    searcher,
		queries:     queries,
		cap:         sessionCap,
		concurrency: int64(concurrency),
		logger:      utils.ComponentLogger(logger, "fanout"),
	}
}

// FanOutResult reports the session expansion, including sessions skipped by
// the cap and per-session failures.
type FanOutResult struct {
	Result            *models.SearchResult
	SessionsFound     int
	SessionsProcessed int
	Failures          []models.StageFailure
}

// Expand queries the full log context of each session seen in the initial
// result, ranked and truncated to the cap, then merges everything back into
// one deduplicated set. Merging is idempotent: entries already present are
// kept once.
func (f *SessionFanOut) Expand(ctx context.Context, initial *models.SearchResult, window models.TimeWindow) (*FanOutResult, error) {
	sessions := initial.UniqueSessionIDs()
	out := &FanOutResult{
		Result:        models.NewSearchResult(),
		SessionsFound: len(sessions),
	}
	out.Result.Merge(initial)

	if len(sessions) == 0 {
		return out, nil
	}

	if len(sessions) > f.cap {
		sessions = rankSessions(initial, sessions)[:f.cap]
		f.logger.Warn("session fan-out truncated", "found", out.SessionsFound, "cap", f.cap)
	}
	out.SessionsProcessed = len(sessions)

	sem := semaphore.NewWeighted(f.concurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, sessionID := range sessions {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, utils.NewAppError("fanout.Expand", utils.KindTransient, "cancelled during session fan-out", err)
		}
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			defer sem.Release(1)

			entries, err := f.searcher.Search(ctx, models.SearchQuery{
				Text:   f.queries.BuildSessionQuery(sessionID),
				Window: window,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failures = append(out.Failures, models.StageFailure{
					Stage:  "session_fanout",
					Reason: "session " + sessionID + ": " + err.Error(),
				})
				return
			}
			out.Result.Append(entries...)
		}(sessionID)
	}
	wg.Wait()

	sort.Slice(out.Failures, func(i, j int) bool {
		return out.Failures[i].Reason < out.Failures[j].Reason
	})
	return out, nil
}

// rankSessions orders session ids for truncation: sessions containing
// error-level entries first, then by most recent entry, then by entry
// count. Ties fall back to the id for stable output.
func rankSessions(result *models.SearchResult, sessions []string) []string {
	type sessionRank struct {
		id       string
		hasError bool
		latest   time.Time
		count    int
	}

	ranks := make([]sessionRank, 0, len(sessions))
	for _, id := range sessions {
		rank := sessionRank{id: id}
		for _, e := range result.Entries {
			if e.SessionID != id {
				continue
			}
			rank.count++
			if strings.EqualFold(e.Status, "error") {
				rank.hasError = true
			}
			if e.Timestamp.After(rank.latest) {
				rank.latest = e.Timestamp
			}
		}
		ranks = append(ranks, rank)
	}

	sort.SliceStable(ranks, func(i, j int) bool {
		a, b := ranks[i], ranks[j]
		if a.hasError != b.hasError {
			return a.hasError
		}
		if !a.latest.Equal(b.latest) {
			return a.latest.After(b.latest)
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.id < b.id
	})

	out := make([]string, len(ranks))
	for i, r := range ranks {
		out[i] = r.id
	}
	return out
}
