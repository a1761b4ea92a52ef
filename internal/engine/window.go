package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// Searcher is the slice of the log-search client the window resolver needs.
type Searcher interface {
	Search(ctx context.Context, query models.SearchQuery) ([]models.LogEntry, error)
}

// WindowResolver expands a query over progressively wider time windows until
// one returns entries. Widening stops at the first hit; later windows are
// never tried once an earlier one matched.
type WindowResolver struct {
	searcher Searcher
	logger   *slog.Logger

	// now is swapped out in tests for deterministic windows.
	now func() time.Time
}

// NewWindowResolver wires a resolver over the given search client.
func NewWindowResolver(searcher Searcher, logger *slog.Logger) *WindowResolver {
	return &WindowResolver{
		searcher: searcher,
		logger:   utils.ComponentLogger(logger, "window"),
		now:      time.Now,
	}
}

// Windows derives the escalation ladder for an optional reference timestamp.
// Without a timestamp the windows look back from now; with one they straddle
// it. The upper bound never exceeds the wall clock at resolution start.
func (r *WindowResolver) Windows(reference *time.Time) []models.TimeWindow {
	now := r.now().UTC()

	if reference == nil {
		return []models.TimeWindow{
			{From: now.Add(-4 * time.Hour), To: now},
			{From: now.Add(-24 * time.Hour), To: now},
			{From: now.Add(-7 * 24 * time.Hour), To: now},
		}
	}

	ref := reference.UTC()
	return []models.TimeWindow{
		{From: ref.Add(-2 * time.Hour), To: utils.MinTime(ref.Add(2*time.Hour), now)},
		{From: ref.Add(-12 * time.Hour), To: utils.MinTime(ref.Add(12*time.Hour), now)},
		{From: ref.Add(-84 * time.Hour), To: utils.MinTime(ref.Add(84*time.Hour), now)},
	}
}

// Resolve runs the query across the escalation ladder and returns the
// entries from the first non-empty window, plus the attempt journal. All
// windows empty is the terminal exhausted outcome, not an error.
func (r *WindowResolver) Resolve(ctx context.Context, query string, reference *time.Time) ([]models.LogEntry, models.TimeWindow, []models.SearchAttempt, error) {
	const op = "window.Resolve"

	var attempts []models.SearchAttempt
	for level, window := range r.Windows(reference) {
		attempt := models.SearchAttempt{
			Query:          query,
			Window:         window,
			ExpansionLevel: level,
		}

		entries, err := r.searcher.Search(ctx, models.SearchQuery{Text: query, Window: window})
		if err != nil {
			attempt.Err = err.Error()
			attempts = append(attempts, attempt)
			return nil, models.TimeWindow{}, attempts, err
		}

		attempt.Hits = len(entries)
		attempts = append(attempts, attempt)

		if len(entries) > 0 {
			r.logger.Info("window matched", "level", level, "hits", len(entries))
			return entries, window, attempts, nil
		}
		r.logger.Info("window empty, widening", "level", level)
	}

	return nil, models.TimeWindow{}, attempts,
		utils.NewAppError(op, utils.KindExhausted, "no log entries in any search window", nil)
}
