package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// InvestigationRunner is the service surface the handlers depend on.
type InvestigationRunner interface {
	Investigate(ctx context.Context, req models.InvestigationRequest) (*models.InvestigationResult, error)
}

// Handler exposes the investigation API over JSON/HTTP.
type Handler struct {
	service InvestigationRunner
	logger  *slog.Logger
}

// NewHandler constructs the HTTP handler set.
func NewHandler(service InvestigationRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes wires the endpoint table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/investigations", h.handleInvestigate)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

// investigationRequestDTO is the wire form of an investigation request.
type investigationRequestDTO struct {
	Mode        string     `json:"mode"`
	LogMessage  string     `json:"logMessage,omitempty"`
	Identifiers []string   `json:"identifiers,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

type errorResponseDTO struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *Handler) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "only POST is supported", "")
		return
	}

	var dto investigationRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), string(utils.KindSchemaInvalid))
		return
	}

	req := models.InvestigationRequest{
		Mode:        models.SearchMode(dto.Mode),
		LogMessage:  dto.LogMessage,
		Identifiers: dto.Identifiers,
	}
	if dto.Timestamp != nil {
		req.Timestamp = *dto.Timestamp
	}

	result, err := h.service.Investigate(r.Context(), req)
	if err != nil {
		status, kind := statusForError(err)
		h.logger.Warn("investigation request failed", "status", status, "error", err)
		h.writeError(w, status, err.Error(), string(kind))
		return
	}

	h.writeJSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "SERVING"})
}

func statusForError(err error) (int, utils.FailureKind) {
	kind := utils.KindOf(err)
	switch kind {
	case utils.KindSchemaInvalid:
		return http.StatusBadRequest, kind
	case utils.KindRateLimited:
		return http.StatusTooManyRequests, kind
	case utils.KindNotFound:
		return http.StatusNotFound, kind
	default:
		return http.StatusBadGateway, kind
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, kind string) {
	h.writeJSON(w, status, errorResponseDTO{Error: message, Kind: kind})
}

// Wire DTOs for the investigation result. Field names are part of the
// public API surface.

type investigationResultDTO struct {
	RunID             string                 `json:"runId"`
	State             string                 `json:"state"`
	SearchWindow      timeWindowDTO          `json:"searchWindow"`
	SearchAttempts    []searchAttemptDTO     `json:"searchAttempts,omitempty"`
	SessionsFound     int                    `json:"sessionsFound"`
	SessionsProcessed int                    `json:"sessionsProcessed"`
	Services          map[string]*serviceDTO `json:"services,omitempty"`
	Degraded          bool                   `json:"degraded"`
	CreatedAt         time.Time              `json:"createdAt"`
}

type timeWindowDTO struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type searchAttemptDTO struct {
	Query          string        `json:"query"`
	Window         timeWindowDTO `json:"window"`
	ExpansionLevel int           `json:"expansionLevel"`
	Hits           int           `json:"hits"`
	Error          string        `json:"error,omitempty"`
}

type serviceDTO struct {
	Service        string            `json:"service"`
	Repository     string            `json:"repository,omitempty"`
	EntryCount     int               `json:"entryCount"`
	Deployment     *deploymentDTO    `json:"deployment,omitempty"`
	DeploymentNote string            `json:"deploymentNote,omitempty"`
	FileAnalyses   []fileAnalysisDTO `json:"fileAnalyses,omitempty"`
	RootCause      *rootCauseDTO     `json:"rootCause,omitempty"`
	Failures       []stageFailureDTO `json:"failures,omitempty"`
}

type deploymentDTO struct {
	CommitHash       string    `json:"commitHash"`
	ParentCommitHash string    `json:"parentCommitHash,omitempty"`
	BuildNumber      string    `json:"buildNumber"`
	VersionTag       string    `json:"versionTag"`
	DeployedAt       time.Time `json:"deployedAt"`
	PRNumber         int       `json:"prNumber,omitempty"`
	ChangedFiles     []string  `json:"changedFiles,omitempty"`
}

type fileAnalysisDTO struct {
	FilePath string     `json:"filePath"`
	Diff     string     `json:"diff,omitempty"`
	Issues   []issueDTO `json:"issues,omitempty"`
}

type issueDTO struct {
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	LineNumbers    []int  `json:"lineNumbers,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

type rootCauseDTO struct {
	Confidence  string        `json:"confidence"`
	Explanation string        `json:"explanation"`
	CallFlow    []callStepDTO `json:"callFlow,omitempty"`
	Fixes       []fixDTO      `json:"suggestedFixes,omitempty"`
}

type callStepDTO struct {
	Step        int    `json:"step"`
	ClassName   string `json:"className"`
	MethodName  string `json:"methodName"`
	FilePath    string `json:"filePath,omitempty"`
	LineNumber  int    `json:"lineNumber,omitempty"`
	IsRootCause bool   `json:"isRootCause,omitempty"`
}

type fixDTO struct {
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
}

type stageFailureDTO struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func toResultDTO(result *models.InvestigationResult) investigationResultDTO {
	dto := investigationResultDTO{
		RunID:             result.RunID,
		State:             string(result.State),
		SearchWindow:      timeWindowDTO{From: result.SearchWindow.From, To: result.SearchWindow.To},
		SessionsFound:     result.SessionsFound,
		SessionsProcessed: result.SessionsProcessed,
		Degraded:          result.Degraded,
		CreatedAt:         result.CreatedAt,
	}
	for _, attempt := range result.SearchAttempts {
		dto.SearchAttempts = append(dto.SearchAttempts, searchAttemptDTO{
			Query:          attempt.Query,
			Window:         timeWindowDTO{From: attempt.Window.From, To: attempt.Window.To},
			ExpansionLevel: attempt.ExpansionLevel,
			Hits:           attempt.Hits,
			Error:          attempt.Err,
		})
	}
	if len(result.PerService) > 0 {
		dto.Services = make(map[string]*serviceDTO, len(result.PerService))
		for name, svc := range result.PerService {
			dto.Services[name] = toServiceDTO(svc)
		}
	}
	return dto
}

func toServiceDTO(svc *models.ServiceInvestigationResult) *serviceDTO {
	dto := &serviceDTO{
		Service:        svc.Service,
		Repository:     svc.Repository,
		EntryCount:     len(svc.Entries),
		DeploymentNote: svc.DeploymentNote,
	}
	if svc.Deployment != nil {
		dto.Deployment = &deploymentDTO{
			CommitHash:       svc.Deployment.CommitHash,
			ParentCommitHash: svc.Deployment.ParentCommitHash,
			BuildNumber:      svc.Deployment.BuildNumber,
			VersionTag:       svc.Deployment.VersionTag,
			DeployedAt:       svc.Deployment.DeployedAt,
			PRNumber:         svc.Deployment.PRNumber,
			ChangedFiles:     append([]string(nil), svc.Deployment.ChangedFiles...),
		}
	}
	for _, analysis := range svc.FileAnalyses {
		fa := fileAnalysisDTO{
			FilePath: analysis.Diff.FilePath,
			Diff:     analysis.Diff.UnifiedDiff,
		}
		for _, issue := range analysis.Issues {
			fa.Issues = append(fa.Issues, issueDTO{
				Category:       issue.Category,
				Severity:       string(issue.Severity),
				Description:    issue.Description,
				LineNumbers:    issue.LineNumbers,
				Recommendation: issue.Recommendation,
			})
		}
		dto.FileAnalyses = append(dto.FileAnalyses, fa)
	}
	if svc.RootCause != nil {
		rc := &rootCauseDTO{
			Confidence:  string(svc.RootCause.Confidence),
			Explanation: svc.RootCause.Explanation,
		}
		for _, step := range svc.RootCause.CallFlow {
			rc.CallFlow = append(rc.CallFlow, callStepDTO{
				Step:        step.Step,
				ClassName:   step.ClassName,
				MethodName:  step.MethodName,
				FilePath:    step.FilePath,
				LineNumber:  step.LineNumber,
				IsRootCause: step.IsRootCause,
			})
		}
		for _, fix := range svc.RootCause.SuggestedFixes {
			rc.Fixes = append(rc.Fixes, fixDTO{Description: fix.Description, Rationale: fix.Rationale})
		}
		dto.RootCause = rc
	}
	for _, failure := range svc.PartialFailures {
		dto.Failures = append(dto.Failures, stageFailureDTO{Stage: failure.Stage, Reason: failure.Reason})
	}
	return dto
}
