package analysis

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/model/analysis"
	"github.com/political-reasoner/backend/internal/service/prompt"
	"github.com/political-reasoner/backend/internal/service/reasoner"
	"github.com/political-reasoner/backend/pkg/utils"
)

// Handler serves the analysis, narrative and policy endpoints.
type Handler struct {
	svc *reasoner.Service
}

// New creates the analysis handler.
func New(svc *reasoner.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the handler under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
	r.Post("/complete-analysis", h.handleCompleteAnalysis)
	r.Post("/complete-analysis/stream", h.handleCompleteAnalysisStream)
	r.Post("/generate-narrative", h.handleGenerateNarrative)
	r.Post("/policy-recommendations", h.handlePolicyRecommendations)
}

type analyzeResponse struct {
	Analysis    *analysis.Result     `json:"analysis"`
	KeyInsights analysis.KeyInsights `json:"key_insights"`
}

type completeResponse struct {
	Analysis              *analysis.Result               `json:"analysis"`
	KeyInsights           analysis.KeyInsights           `json:"key_insights"`
	Narrative             *analysis.Narrative            `json:"narrative"`
	PolicyRecommendations *analysis.PolicyRecommendation `json:"policy_recommendations,omitempty"`
	PolicyError           *utils.ErrorBody               `json:"policy_error,omitempty"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	result, err := h.svc.Analyze(r.Context(), req)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, analyzeResponse{Analysis: result, KeyInsights: result.Insights()})
}

func (h *Handler) handleCompleteAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	out, err := h.svc.CompleteAnalysis(r.Context(), req)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	resp := completeResponse{
		Analysis:              out.Analysis,
		KeyInsights:           out.KeyInsights,
		Narrative:             out.Narrative,
		PolicyRecommendations: out.Policy,
	}
	if out.PolicyErr != nil {
		resp.PolicyError = errorBody(out.PolicyErr)
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleCompleteAnalysisStream sends each stage as an SSE event as soon as it
// is ready. Failures before the first event are plain JSON errors; later ones
// are sent as an "error" event followed by "end".
func (h *Handler) handleCompleteAnalysisStream(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	result, err := h.svc.Analyze(ctx, req)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	send := func(event string, data any) bool {
		return utils.SendSSEEvent(w, flusher, event, data) == nil
	}
	fail := func(stage string, err error) {
		logger.Log.WithFields(logrus.Fields{
			"stage": stage,
			"code":  apperr.KindOf(err),
			"error": err.Error(),
		}).Warn("[sse] complete-analysis stage failed")
		send("error", map[string]any{"stage": stage, "error": apperr.Message(err), "code": apperr.KindOf(err)})
		send("end", map[string]any{"status": "error"})
	}

	if !send("analysis", analyzeResponse{Analysis: result, KeyInsights: result.Insights()}) {
		return
	}

	narrative, err := h.svc.GenerateNarrative(ctx, result)
	if err != nil {
		fail("narrative", err)
		return
	}
	if !send("narrative", narrative) {
		return
	}

	if strings.TrimSpace(req.PolicyContext) != "" {
		rec, err := h.svc.PolicyRecommendations(ctx, prompt.PolicyInput{Analysis: result, Context: req.PolicyContext})
		if err != nil {
			fail("recommendations", err)
			return
		}
		if !send("recommendations", rec) {
			return
		}
	}

	send("end", map[string]any{"status": "ok"})
}

func (h *Handler) handleGenerateNarrative(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Analysis *analysis.Result `json:"analysis"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	narrative, err := h.svc.GenerateNarrative(r.Context(), payload.Analysis)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, narrative)
}

func (h *Handler) handlePolicyRecommendations(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Analysis *analysis.Result `json:"analysis"`
		Text     string           `json:"text"`
		Issue    string           `json:"issue"`
		Context  string           `json:"context"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	rec, err := h.svc.PolicyRecommendations(r.Context(), prompt.PolicyInput{
		Analysis: payload.Analysis,
		Text:     payload.Text,
		Issue:    payload.Issue,
		Context:  payload.Context,
	})
	if err != nil {
		utils.RespondAppError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec)
}

func errorBody(err error) *utils.ErrorBody {
	return &utils.ErrorBody{Error: apperr.Message(err), Code: string(apperr.KindOf(err))}
}
