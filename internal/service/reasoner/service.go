package reasoner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/political-reasoner/backend/internal/analysis/normalize"
	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/model/analysis"
	"github.com/political-reasoner/backend/internal/model/chat"
	"github.com/political-reasoner/backend/internal/service/completion"
	"github.com/political-reasoner/backend/internal/service/prompt"
)

// Service runs each operation as build prompt, call the model, normalize.
// It holds no per-request state.
type Service struct {
	builder    *prompt.Builder
	completer  completion.Completer
	normalizer *normalize.Normalizer
	overrides  completion.Overrides
	now        func() time.Time
}

// NewService wires the three stages together.
func NewService(builder *prompt.Builder, completer completion.Completer, normalizer *normalize.Normalizer, overrides completion.Overrides) *Service {
	return &Service{
		builder:    builder,
		completer:  completer,
		normalizer: normalizer,
		overrides:  overrides,
		now:        time.Now,
	}
}

// Analyze runs the analysis template over req.Text.
func (s *Service) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	p, err := s.builder.Analysis(ctx, req.Text, req.PolicyContext)
	if err != nil {
		return nil, err
	}

	raw, err := s.complete(ctx, p)
	if err != nil {
		return nil, err
	}

	result := s.normalizer.Analysis(raw)
	result.ID = uuid.NewString()
	result.CreatedAt = s.now().UTC()

	logger.Log.WithFields(logrus.Fields{
		"id":         result.ID,
		"chars":      len([]rune(req.Text)),
		"parse_mode": result.ParseMode,
		"sentiment":  result.Sentiment,
	}).Info("[reasoner] analysis done")
	return result, nil
}

// CompleteResult is the combined output of CompleteAnalysis. Policy is only
// attempted when a policy context was given; its failure is reported in
// PolicyErr rather than failing the whole request.
type CompleteResult struct {
	Analysis    *analysis.Result
	KeyInsights analysis.KeyInsights
	Narrative   *analysis.Narrative
	Policy      *analysis.PolicyRecommendation
	PolicyErr   error
}

// CompleteAnalysis analyzes text, then writes a narrative for it and, when a
// policy context is present, policy recommendations.
func (s *Service) CompleteAnalysis(ctx context.Context, req analysis.Request) (*CompleteResult, error) {
	result, err := s.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	narrative, err := s.GenerateNarrative(ctx, result)
	if err != nil {
		return nil, err
	}

	out := &CompleteResult{
		Analysis:    result,
		KeyInsights: result.Insights(),
		Narrative:   narrative,
	}

	if strings.TrimSpace(req.PolicyContext) != "" {
		out.Policy, out.PolicyErr = s.PolicyRecommendations(ctx, prompt.PolicyInput{
			Analysis: result,
			Context:  req.PolicyContext,
		})
		if out.PolicyErr != nil {
			if apperr.KindOf(out.PolicyErr) == apperr.Canceled {
				return nil, out.PolicyErr
			}
			logger.Log.WithFields(logrus.Fields{
				"id":    result.ID,
				"code":  apperr.KindOf(out.PolicyErr),
				"error": out.PolicyErr.Error(),
			}).Warn("[reasoner] policy step failed, returning analysis without it")
		}
	}
	return out, nil
}

// GenerateNarrative turns a prior analysis into prose.
func (s *Service) GenerateNarrative(ctx context.Context, result *analysis.Result) (*analysis.Narrative, error) {
	p, err := s.builder.Narrative(ctx, result)
	if err != nil {
		return nil, err
	}

	raw, err := s.complete(ctx, p)
	if err != nil {
		return nil, err
	}

	return &analysis.Narrative{
		Narrative:    s.normalizer.Narrative(raw),
		BasedOn:      result.ID,
		RawModelText: raw,
	}, nil
}

// PolicyRecommendations produces recommendations from an analysis or free text.
func (s *Service) PolicyRecommendations(ctx context.Context, in prompt.PolicyInput) (*analysis.PolicyRecommendation, error) {
	p, err := s.builder.Policy(ctx, in)
	if err != nil {
		return nil, err
	}

	raw, err := s.complete(ctx, p)
	if err != nil {
		return nil, err
	}

	rec := s.normalizer.Policy(raw)
	rec.Context = strings.TrimSpace(in.Context)
	rec.Issue = prompt.ResolveIssue(in)
	return rec, nil
}

// Chat answers message given the caller-held history and an optional prior analysis.
func (s *Service) Chat(ctx context.Context, history []chat.Turn, message string, prior *analysis.Result) (*chat.Reply, error) {
	p, err := s.builder.Chat(ctx, history, message, prior)
	if err != nil {
		return nil, err
	}

	raw, err := s.complete(ctx, p)
	if err != nil {
		return nil, err
	}

	return &chat.Reply{
		Reply:        chat.Turn{Role: chat.RoleAssistant, Content: s.normalizer.Chat(raw)},
		RawModelText: raw,
	}, nil
}

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus reports liveness and, when probed, upstream reachability.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

var probePrompt = prompt.Prompt{
	Kind:        "probe",
	System:      "Reply with the single word: ok",
	Text:        "Hello",
	Temperature: 0,
	MaxTokens:   5,
}

// Health reports the service as alive. With probe set it sends a tiny
// completion and reports the failure code when the model is unreachable.
func (s *Service) Health(ctx context.Context, probe bool) HealthStatus {
	if !probe {
		return HealthStatus{Status: StatusHealthy, Message: "Political reasoner API is running"}
	}

	params := s.overrides.For(probePrompt)
	params.MaxTokens = probePrompt.MaxTokens
	if _, err := s.completer.Complete(ctx, probePrompt, params); err != nil {
		return HealthStatus{
			Status:  StatusUnhealthy,
			Message: apperr.Message(err),
			Code:    string(apperr.KindOf(err)),
		}
	}
	return HealthStatus{Status: StatusHealthy, Message: "Language model reachable"}
}

func (s *Service) complete(ctx context.Context, p prompt.Prompt) (string, error) {
	return s.completer.Complete(ctx, p, s.overrides.For(p))
}
