package prompt

// Kind identifies one of the fixed prompt templates.
type Kind string

const (
	KindAnalysis  Kind = "analysis"
	KindNarrative Kind = "narrative"
	KindPolicy    Kind = "policy"
	KindChat      Kind = "chat"
)

// Template pairs a system instruction and a user text template with the generation
// parameters the template was tuned for. User is a Go text/template.
type Template struct {
	Kind        Kind
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// defaultTemplates returns the built-in templates keyed by kind.
func defaultTemplates() map[Kind]*Template {
	return map[Kind]*Template{
		KindAnalysis:  analysisTemplate,
		KindNarrative: narrativeTemplate,
		KindPolicy:    policyTemplate,
		KindChat:      chatTemplate,
	}
}

var analysisTemplate = &Template{
	Kind:        KindAnalysis,
	System:      "You are an expert, objective analyst of Indonesian politics.",
	Temperature: 0.7,
	MaxTokens:   1500,
	User: `Analyze the following political text and give an in-depth reading of it.

Text:
"""
{{.text}}
"""
{{if .policy_context}}
Policy context supplied by the requester:
{{.policy_context}}
{{end}}
Cover:
1. Overall sentiment (positive/negative/neutral) with a score between 0 and 1
2. Main topics discussed (at most 5)
3. Political entities mentioned (people, parties, positions)
4. Key issues raised
5. Political bias detected, if any
6. Potential impact on public opinion

Respond with one JSON object and nothing else, using exactly these keys:
{
  "sentiment": {"label": "positive|negative|neutral", "score": 0.5},
  "topics": ["topic"],
  "entities": [{"name": "entity name", "kind": "person|party|position"}],
  "key_issues": ["issue"],
  "bias_detected": false,
  "public_impact": "low|medium|high"
}`,
}

var narrativeTemplate = &Template{
	Kind:        KindNarrative,
	System:      "You are an objective and experienced political journalist.",
	Temperature: 0.8,
	MaxTokens:   800,
	User: `Based on the following political analysis data:
{{.analysis}}

Write a short narrative (150-200 words) that explains:
- a summary of the main insights
- the political implications that may follow
- recommendations for the relevant stakeholders

The narrative must be objective, informative and easy to understand. Reply with the narrative text only.`,
}

var policyTemplate = &Template{
	Kind:        KindPolicy,
	System:      "You are a public policy consultant experienced with Indonesian governance.",
	Temperature: 0.7,
	MaxTokens:   1200,
	User: `Context: {{if .context}}{{.context}}{{else}}not specified{{end}}
Issue: {{.issue}}

Source material:
"""
{{.source}}
"""

Give policy recommendations that are:
1. practical and implementable
2. grounded in international best practice
3. suited to the Indonesian political context
4. accompanied by an implementation timeline
5. explicit about the main stakeholders

Respond with one JSON object and nothing else:
{
  "recommendations": ["recommendation"],
  "implementation_timeline": {"phase_1": "1-3 months"},
  "stakeholders": ["stakeholder"],
  "potential_challenges": ["challenge"]
}`,
}

var chatTemplate = &Template{
	Kind:        KindChat,
	System:      "You are an AI assistant specialised in Indonesian politics. You help people analyse and understand political issues objectively and in plain language.",
	Temperature: 0.7,
	MaxTokens:   1000,
	User: `{{if .context}}Earlier analysis the user is asking about:
{{.context}}

{{end}}Conversation so far:
{{.history}}

User: {{.message}}

Reply as the assistant to the user's last message.`,
}
