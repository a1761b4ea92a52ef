package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

type fakeRunner struct {
	result  *models.InvestigationResult
	err     error
	gotReq  models.InvestigationRequest
	invoked bool
}

func (f *fakeRunner) Investigate(ctx context.Context, req models.InvestigationRequest) (*models.InvestigationResult, error) {
	f.invoked = true
	f.gotReq = req
	return f.result, f.err
}

func doRequest(t *testing.T, runner *fakeRunner, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewHandler(runner, utils.NewLogger("error", false))
	req := httptest.NewRequest(method, "/v1/investigations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleInvestigateSuccess(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{result: &models.InvestigationResult{
		RunID:     "run-1",
		State:     models.StateDone,
		CreatedAt: created,
		PerService: map[string]*models.ServiceInvestigationResult{
			"card-service": {
				Service:    "card-service",
				Repository: "card-service",
				RootCause: &models.RootCause{
					Confidence:  models.ConfidenceHigh,
					Explanation: "the throwing line changed",
				},
			},
		},
	}}

	rec := doRequest(t, runner, http.MethodPost, `{"mode":"log_message","logMessage":"boom"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ModeLogMessage, runner.gotReq.Mode)
	assert.Equal(t, "boom", runner.gotReq.LogMessage)

	var dto investigationResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "run-1", dto.RunID)
	assert.Equal(t, "DONE", dto.State)
	require.Contains(t, dto.Services, "card-service")
	assert.Equal(t, "HIGH", dto.Services["card-service"].RootCause.Confidence)
}

func TestHandleInvestigatePassesTimestamp(t *testing.T) {
	runner := &fakeRunner{result: &models.InvestigationResult{State: models.StateNoResults}}

	rec := doRequest(t, runner, http.MethodPost,
		`{"mode":"identifiers","identifiers":["cust-42"],"timestamp":"2024-05-01T09:30:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"cust-42"}, runner.gotReq.Identifiers)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), runner.gotReq.Timestamp)
}

func TestHandleInvestigateBadBody(t *testing.T) {
	runner := &fakeRunner{}

	rec := doRequest(t, runner, http.MethodPost, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, runner.invoked)
}

func TestHandleInvestigateMethodNotAllowed(t *testing.T) {
	runner := &fakeRunner{}

	rec := doRequest(t, runner, http.MethodGet, "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, runner.invoked)
}

func TestHandleInvestigateErrorMapping(t *testing.T) {
	cases := []struct {
		kind   utils.FailureKind
		status int
	}{
		{utils.KindSchemaInvalid, http.StatusBadRequest},
		{utils.KindRateLimited, http.StatusTooManyRequests},
		{utils.KindNotFound, http.StatusNotFound},
		{utils.KindTransient, http.StatusBadGateway},
	}

	for _, tc := range cases {
		runner := &fakeRunner{err: utils.NewAppError("x", tc.kind, "nope", nil)}
		rec := doRequest(t, runner, http.MethodPost, `{"mode":"log_message","logMessage":"boom"}`)
		assert.Equal(t, tc.status, rec.Code, string(tc.kind))

		var body errorResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(tc.kind), body.Kind)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(&fakeRunner{}, utils.NewLogger("error", false))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVING")
}
