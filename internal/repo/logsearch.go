package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inquestlabs/inquest-engine/internal/config"
	"github.com/inquestlabs/inquest-engine/internal/metrics"
	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

const (
	searchPath = "/api/v2/logs/events/search"

	// pageLimitMax is the backend's hard cap on entries per call.
	pageLimitMax = 1000

	// defaultRateLimitWait applies when a 429 carries no reset header.
	defaultRateLimitWait = 60 * time.Second

	// rateLimitEpochMin separates relative reset values (seconds until the
	// window resets) from absolute ones (Unix timestamps).
	rateLimitEpochMin = 100_000_000
)

// LogSearchClient is the read path against the log-search backend. Every
// search is sorted newest-first and scoped by the configured query prefix.
type LogSearchClient struct {
	baseURL    string
	apiKey     string
	appKey     string
	queryScope string
	pageLimit  int
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is swapped out in tests to avoid real rate-limit waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLogSearchClient constructs a client from the search configuration.
func NewLogSearchClient(cfg config.SearchConfig, logger *slog.Logger) *LogSearchClient {
	limit := cfg.PageLimit
	if limit <= 0 || limit > pageLimitMax {
		limit = pageLimitMax
	}
	return &LogSearchClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		appKey:     cfg.AppKey,
		queryScope: cfg.QueryScope,
		pageLimit:  limit,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     utils.ComponentLogger(logger, "logsearch"),
		sleep:      sleepContext,
	}
}

// BuildMessageQuery scopes a free-text log message search.
func (c *LogSearchClient) BuildMessageQuery(message string) string {
	return c.scoped(quoteQueryValue(message))
}

// BuildIdentifiersQuery scopes a search for one or more correlation
// identifiers, OR-joined.
func (c *LogSearchClient) BuildIdentifiersQuery(identifiers []string) string {
	quoted := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id = strings.TrimSpace(id); id != "" {
			quoted = append(quoted, quoteQueryValue(id))
		}
	}
	if len(quoted) == 0 {
		return c.scoped("")
	}
	if len(quoted) == 1 {
		return c.scoped(quoted[0])
	}
	return c.scoped("(" + strings.Join(quoted, " OR ") + ")")
}

// BuildSessionQuery scopes an exact-match query for one session id.
func (c *LogSearchClient) BuildSessionQuery(sessionID string) string {
	return c.scoped("@sessionid:" + quoteQueryValue(sessionID))
}

func (c *LogSearchClient) scoped(query string) string {
	if c.queryScope == "" {
		return query
	}
	if query == "" {
		return c.queryScope
	}
	return c.queryScope + " " + query
}

// quoteQueryValue wraps a value in double quotes, escaping embedded quotes
// so user-supplied text cannot alter query structure.
func quoteQueryValue(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

type searchRequestBody struct {
	Filter searchFilter `json:"filter"`
	Page   searchPage   `json:"page"`
	Sort   string       `json:"sort"`
}

type searchFilter struct {
	Query string `json:"query"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type searchPage struct {
	Limit int `json:"limit"`
}

type searchResponseBody struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Timestamp  time.Time      `json:"timestamp"`
			Service    string         `json:"service"`
			Status     string         `json:"status"`
			Message    string         `json:"message"`
			Attributes map[string]any `json:"attributes"`
		} `json:"attributes"`
	} `json:"data"`
}

// Search executes one query over one window. A 429 response waits for the
// advertised reset and retries the identical request once; a second 429 is
// terminal with kind rate_limited. Other transport failures consume the
// configured retry budget.
func (c *LogSearchClient) Search(ctx context.Context, query models.SearchQuery) ([]models.LogEntry, error) {
	const op = "logsearch.Search"

	if c.baseURL == "" {
		return nil, utils.NewAppError(op, utils.KindSchemaInvalid, "search base URL not configured", nil)
	}

	limit := query.Limit
	if limit <= 0 || limit > c.pageLimit {
		limit = c.pageLimit
	}

	body := searchRequestBody{
		Filter: searchFilter{
			Query: query.Text,
			From:  utils.FormatRFC3339(query.Window.From),
			To:    utils.FormatRFC3339(query.Window.To),
		},
		Page: searchPage{Limit: limit},
		Sort: "-timestamp",
	}

	c.logger.Info("search started",
		"query", query.Text,
		"from", body.Filter.From,
		"to", body.Filter.To,
		"limit", limit,
	)

	entries, err := c.searchWithRetry(ctx, op, body)
	if err != nil {
		c.logger.Warn("search failed", "query", query.Text, "error", err)
		return nil, err
	}

	c.logger.Info("search completed", "query", query.Text, "hits", len(entries))
	return entries, nil
}

func (c *LogSearchClient) searchWithRetry(ctx context.Context, op string, body searchRequestBody) ([]models.LogEntry, error) {
	rateLimited := false
	transientRetries := 0

	for {
		entries, retryAfter, err := c.doSearch(ctx, body)
		if err == nil {
			metrics.ObserveSearchCall(metrics.OutcomeSuccess)
			return entries, nil
		}

		if utils.IsKind(err, utils.KindRateLimited) {
			if rateLimited {
				metrics.ObserveSearchCall(metrics.OutcomeError)
				return nil, utils.NewAppError(op, utils.KindRateLimited, "rate limited twice for the same request", err)
			}
			rateLimited = true
			metrics.ObserveRateLimitWait()
			c.logger.Warn("rate limited, waiting for reset", "wait", retryAfter)
			if sleepErr := c.sleep(ctx, retryAfter); sleepErr != nil {
				return nil, utils.NewAppError(op, utils.KindTransient, "cancelled while waiting for rate-limit reset", sleepErr)
			}
			continue
		}

		if transientRetries < c.maxRetries {
			transientRetries++
			c.logger.Warn("search attempt failed, retrying", "attempt", transientRetries, "error", err)
			continue
		}

		metrics.ObserveSearchCall(metrics.OutcomeError)
		return nil, utils.NewAppError(op, utils.KindOf(err), "search request failed", err)
	}
}

func (c *LogSearchClient) doSearch(ctx context.Context, body searchRequestBody) ([]models.LogEntry, time.Duration, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", c.apiKey)
	req.Header.Set("DD-APPLICATION-KEY", c.appKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := rateLimitWait(resp.Header, time.Now())
		return nil, wait, utils.NewAppError("logsearch.doSearch", utils.KindRateLimited, "backend rate limited the request", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("search backend returned %s", resp.Status)
	}

	var decoded searchResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	entries := make([]models.LogEntry, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		entry := models.LogEntry{
			ID:        item.ID,
			Timestamp: item.Attributes.Timestamp,
			Service:   item.Attributes.Service,
			Status:    item.Attributes.Status,
			Message:   item.Attributes.Message,
		}
		entry.SessionID = stringAttr(item.Attributes.Attributes, "sessionid")
		entry.VersionTag = stringAttr(item.Attributes.Attributes, "version")
		entry.LoggerName = stringAttr(item.Attributes.Attributes, "logger_name")
		entry.StackTrace = stringAttr(item.Attributes.Attributes, "error.stack")
		entries = append(entries, entry)
	}
	return entries, 0, nil
}

// rateLimitWait derives the wait from X-RateLimit-Reset. The backend
// advertises the reset as a Unix timestamp; small values are taken as
// seconds until the window resets. A missing or unusable header falls back
// to the default. A reset already in the past still waits a beat so the
// retry does not hammer the backend.
func rateLimitWait(h http.Header, now time.Time) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return defaultRateLimitWait
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return defaultRateLimitWait
	}
	if secs < rateLimitEpochMin {
		return time.Duration(secs) * time.Second
	}
	wait := time.Unix(secs, 0).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func stringAttr(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
