package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/model/analysis"
	"github.com/political-reasoner/backend/internal/model/chat"
)

// Prompt is a rendered, completion-ready prompt. Text is the single user prompt
// string; System is the role instruction sent alongside it.
type Prompt struct {
	Kind        Kind
	System      string
	Text        string
	Temperature float32
	MaxTokens   int
}

// Messages converts the prompt into the chat messages sent to the model.
func (p Prompt) Messages() []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(p.System),
		schema.UserMessage(p.Text),
	}
}

// Builder renders the fixed templates. It is safe for concurrent use.
type Builder struct {
	templates    map[Kind]*Template
	chains       map[Kind]compose.Runnable[map[string]any, []*schema.Message]
	maxChars     int
	historyLimit int
}

// NewBuilder compiles one template chain per prompt kind.
func NewBuilder(ctx context.Context, maxChars, historyLimit int) (*Builder, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("max input chars must be positive, got %d", maxChars)
	}
	if historyLimit < 1 {
		historyLimit = 1
	}

	b := &Builder{
		templates:    defaultTemplates(),
		chains:       make(map[Kind]compose.Runnable[map[string]any, []*schema.Message]),
		maxChars:     maxChars,
		historyLimit: historyLimit,
	}

	for kind, tpl := range b.templates {
		chatTemplate := einoprompt.FromMessages(
			schema.GoTemplate,
			schema.SystemMessage(tpl.System),
			schema.UserMessage(tpl.User),
		)

		chain := compose.NewChain[map[string]any, []*schema.Message]()
		chain.AppendChatTemplate(chatTemplate)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s prompt chain: %w", kind, err)
		}
		b.chains[kind] = runnable
	}

	return b, nil
}

// Analysis renders the analysis prompt for text and an optional policy context.
func (b *Builder) Analysis(ctx context.Context, text, policyContext string) (Prompt, error) {
	const op = "prompt.Analysis"
	if err := b.checkText(op, "text", text, true); err != nil {
		return Prompt{}, err
	}
	if err := b.checkText(op, "policy_context", policyContext, false); err != nil {
		return Prompt{}, err
	}

	return b.render(ctx, KindAnalysis, map[string]any{
		"text":           text,
		"policy_context": policyContext,
	})
}

// Narrative renders the narrative prompt for a prior analysis.
func (b *Builder) Narrative(ctx context.Context, result *analysis.Result) (Prompt, error) {
	const op = "prompt.Narrative"
	if result.IsEmpty() {
		return Prompt{}, apperr.New(apperr.InvalidInput, op, "analysis is required")
	}

	encoded, err := b.encodeAnalysis(result)
	if err != nil {
		return Prompt{}, apperr.Wrap(apperr.Internal, op, err)
	}

	return b.render(ctx, KindNarrative, map[string]any{"analysis": encoded})
}

// PolicyInput is the source of a policy recommendation: a prior analysis or free text.
type PolicyInput struct {
	Analysis *analysis.Result
	Text     string
	Issue    string
	Context  string
}

// Policy renders the policy prompt. When Issue is empty it is taken from the
// analysis' first key issue, then its first topic.
func (b *Builder) Policy(ctx context.Context, in PolicyInput) (Prompt, error) {
	const op = "prompt.Policy"

	var source string
	switch {
	case strings.TrimSpace(in.Text) != "":
		if err := b.checkText(op, "text", in.Text, true); err != nil {
			return Prompt{}, err
		}
		source = in.Text
	case !in.Analysis.IsEmpty():
		encoded, err := b.encodeAnalysis(in.Analysis)
		if err != nil {
			return Prompt{}, apperr.Wrap(apperr.Internal, op, err)
		}
		source = encoded
	default:
		return Prompt{}, apperr.New(apperr.InvalidInput, op, "text or analysis is required")
	}

	if err := b.checkText(op, "context", in.Context, false); err != nil {
		return Prompt{}, err
	}
	if err := b.checkText(op, "issue", in.Issue, false); err != nil {
		return Prompt{}, err
	}

	return b.render(ctx, KindPolicy, map[string]any{
		"context": in.Context,
		"issue":   ResolveIssue(in),
		"source":  source,
	})
}

// ResolveIssue picks the issue a policy prompt is about.
func ResolveIssue(in PolicyInput) string {
	if issue := strings.TrimSpace(in.Issue); issue != "" {
		return issue
	}
	if in.Analysis != nil {
		for _, candidates := range [][]string{in.Analysis.KeyIssues, in.Analysis.Topics} {
			for _, c := range candidates {
				if c = strings.TrimSpace(c); c != "" {
					return c
				}
			}
		}
	}
	return "general policy direction"
}

// Chat renders the whole conversation plus the new message into one prompt.
// Only the most recent turns up to the history limit are kept.
func (b *Builder) Chat(ctx context.Context, history []chat.Turn, message string, prior *analysis.Result) (Prompt, error) {
	const op = "prompt.Chat"
	if err := b.checkText(op, "message", message, true); err != nil {
		return Prompt{}, err
	}

	for i, turn := range history {
		if !turn.Role.Valid() {
			return Prompt{}, apperr.New(apperr.InvalidInput, op, fmt.Sprintf("history[%d]: role must be user or assistant", i))
		}
		if err := b.checkText(op, fmt.Sprintf("history[%d].content", i), turn.Content, false); err != nil {
			return Prompt{}, err
		}
	}

	var contextJSON string
	if !prior.IsEmpty() {
		encoded, err := b.encodeAnalysis(prior)
		if err != nil {
			return Prompt{}, apperr.Wrap(apperr.Internal, op, err)
		}
		contextJSON = encoded
	}

	return b.render(ctx, KindChat, map[string]any{
		"context": contextJSON,
		"history": formatHistory(history, b.historyLimit),
		"message": message,
	})
}

func (b *Builder) render(ctx context.Context, kind Kind, vars map[string]any) (Prompt, error) {
	op := "prompt.render"
	tpl, ok := b.templates[kind]
	if !ok {
		return Prompt{}, apperr.New(apperr.Internal, op, fmt.Sprintf("unknown template %q", kind))
	}

	messages, err := b.chains[kind].Invoke(ctx, vars)
	if err != nil {
		return Prompt{}, apperr.Wrap(apperr.Internal, op, fmt.Errorf("render %s template: %w", kind, err))
	}
	if len(messages) < 2 {
		return Prompt{}, apperr.New(apperr.Internal, op, fmt.Sprintf("%s template rendered %d messages", kind, len(messages)))
	}

	return Prompt{
		Kind:        kind,
		System:      messages[0].Content,
		Text:        messages[len(messages)-1].Content,
		Temperature: tpl.Temperature,
		MaxTokens:   tpl.MaxTokens,
	}, nil
}

// checkText enforces the input bound. Whitespace-only counts as empty.
func (b *Builder) checkText(op, field, value string, required bool) error {
	if strings.TrimSpace(value) == "" {
		if required {
			return apperr.New(apperr.InvalidInput, op, field+" is required")
		}
		return nil
	}
	if n := utf8.RuneCountInString(value); n > b.maxChars {
		return apperr.New(apperr.InvalidInput, op, fmt.Sprintf("%s is too long: %d characters, limit is %d", field, n, b.maxChars))
	}
	return nil
}

func formatHistory(turns []chat.Turn, limit int) string {
	start := len(turns) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for _, turn := range turns[start:] {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		if turn.Role == chat.RoleAssistant {
			builder.WriteString("Assistant: ")
		} else {
			builder.WriteString("User: ")
		}
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "(no earlier messages)"
	}
	return builder.String()
}

// analysisView is what templates see of a Result. The raw model text is only
// included when nothing was parsed out of it, cut to the input bound.
type analysisView struct {
	Sentiment      analysis.Sentiment `json:"sentiment"`
	SentimentScore *float64           `json:"sentiment_score,omitempty"`
	Topics         []string           `json:"topics,omitempty"`
	Entities       []analysis.Entity  `json:"entities,omitempty"`
	KeyIssues      []string           `json:"key_issues,omitempty"`
	BiasDetected   *bool              `json:"bias_detected,omitempty"`
	PublicImpact   string             `json:"public_impact,omitempty"`
	RawAnalysis    string             `json:"raw_analysis,omitempty"`
}

// encodeAnalysis renders an analysis for a follow-up prompt. The analysis is
// model output, so it is not held to the caller's input bound.
func (b *Builder) encodeAnalysis(r *analysis.Result) (string, error) {
	view := analysisView{
		Sentiment:      r.Sentiment,
		SentimentScore: r.SentimentScore,
		Topics:         r.Topics,
		Entities:       r.Entities,
		KeyIssues:      r.KeyIssues,
		BiasDetected:   r.BiasDetected,
		PublicImpact:   r.PublicImpact,
	}
	if view.Sentiment == "" {
		view.Sentiment = analysis.SentimentUnknown
	}
	if len(r.Topics) == 0 && len(r.Entities) == 0 && len(r.KeyIssues) == 0 {
		view.RawAnalysis = truncateRunes(r.RawModelText, b.maxChars)
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
