package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquestlabs/inquest-engine/internal/config"
	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

func newTestSearchClient(t *testing.T, handler http.HandlerFunc) *LogSearchClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewLogSearchClient(config.SearchConfig{
		BaseURL:    server.URL,
		APIKey:     "test-api-key",
		AppKey:     "test-app-key",
		Timeout:    5 * time.Second,
		PageLimit:  200,
		QueryScope: "env:prod",
		MaxRetries: 1,
	}, utils.NewLogger("error", false))
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

func searchResponse(entries ...map[string]any) []byte {
	data := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		data = append(data, e)
	}
	body, _ := json.Marshal(map[string]any{"data": data})
	return body
}

func logEvent(id, service, message string, attrs map[string]any) map[string]any {
	return map[string]any{
		"id": id,
		"attributes": map[string]any{
			"timestamp":  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			"service":    service,
			"status":     "error",
			"message":    message,
			"attributes": attrs,
		},
	}
}

func TestSearchDecodesEntries(t *testing.T) {
	var gotBody searchRequestBody
	client := newTestSearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/logs/events/search", r.URL.Path)
		require.Equal(t, "test-api-key", r.Header.Get("DD-API-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write(searchResponse(logEvent("ev-1", "card-service", "boom", map[string]any{
			"sessionid":   "sess-9",
			"version":     "card-service-abc___42",
			"logger_name": "com.acme.card.Handler",
		})))
	})

	window := models.TimeWindow{
		From: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC),
	}
	entries, err := client.Search(context.Background(), models.SearchQuery{
		Text:   client.BuildMessageQuery("boom"),
		Window: window,
	})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "ev-1", entries[0].ID)
	assert.Equal(t, "card-service", entries[0].Service)
	assert.Equal(t, "sess-9", entries[0].SessionID)
	assert.Equal(t, "card-service-abc___42", entries[0].VersionTag)
	assert.Equal(t, "com.acme.card.Handler", entries[0].LoggerName)

	assert.Equal(t, `env:prod "boom"`, gotBody.Filter.Query)
	assert.Equal(t, "2024-05-01T10:00:00Z", gotBody.Filter.From)
	assert.Equal(t, "2024-05-01T14:00:00Z", gotBody.Filter.To)
	assert.Equal(t, 200, gotBody.Page.Limit)
	assert.Equal(t, "-timestamp", gotBody.Sort)
}

func TestSearchRetriesOnceAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newTestSearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Reset", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(searchResponse(logEvent("ev-2", "svc", "m", nil)))
	})

	entries, err := client.Search(context.Background(), models.SearchQuery{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchSecondRateLimitIsTerminal(t *testing.T) {
	var calls atomic.Int32
	client := newTestSearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Search(context.Background(), models.SearchQuery{Text: "q"})
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindRateLimited))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchRetriesTransientFailureOnce(t *testing.T) {
	var calls atomic.Int32
	client := newTestSearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(searchResponse())
	})

	entries, err := client.Search(context.Background(), models.SearchQuery{Text: "q"})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	client := newTestSearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Search(context.Background(), models.SearchQuery{Text: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBuildQueries(t *testing.T) {
	client := newTestSearchClient(t, func(w http.ResponseWriter, r *http.Request) {})

	assert.Equal(t, `env:prod "NPE at checkout"`, client.BuildMessageQuery("NPE at checkout"))
	assert.Equal(t, `env:prod @sessionid:"sess \"quoted\""`, client.BuildSessionQuery(`sess "quoted"`))
	assert.Equal(t, `env:prod ("id-1" OR "id-2")`, client.BuildIdentifiersQuery([]string{"id-1", " id-2 "}))
	assert.Equal(t, `env:prod "only"`, client.BuildIdentifiersQuery([]string{"only"}))
}

func TestRateLimitWait(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	assert.Equal(t, defaultRateLimitWait, rateLimitWait(h, now))

	h.Set("X-RateLimit-Reset", "junk")
	assert.Equal(t, defaultRateLimitWait, rateLimitWait(h, now))

	h.Set("X-RateLimit-Reset", "0")
	assert.Equal(t, defaultRateLimitWait, rateLimitWait(h, now))

	// Small values count seconds until the window resets.
	h.Set("X-RateLimit-Reset", "7")
	assert.Equal(t, 7*time.Second, rateLimitWait(h, now))

	// Large values are Unix timestamps; the wait is reset minus now.
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(5*time.Second).Unix(), 10))
	assert.Equal(t, 5*time.Second, rateLimitWait(h, now))

	// A reset already in the past still waits a beat before retrying.
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(-time.Minute).Unix(), 10))
	assert.Equal(t, time.Second, rateLimitWait(h, now))
}
