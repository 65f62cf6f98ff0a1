package analysis

import (
	"strings"
	"time"
)

// Sentiment is the overall polarity of an analysed text.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentUnknown  Sentiment = "unknown"
)

// EntityKind classifies a political entity.
type EntityKind string

const (
	KindPerson   EntityKind = "person"
	KindParty    EntityKind = "party"
	KindPosition EntityKind = "position"
	KindUnknown  EntityKind = "unknown"
)

// ParseMode records which normalization path produced a result.
type ParseMode string

const (
	ParseStructured ParseMode = "structured"
	ParseHeuristic  ParseMode = "heuristic"
)

// Request is the payload of analyze and complete-analysis.
type Request struct {
	Text          string `json:"text"`
	PolicyContext string `json:"policy_context,omitempty"`
}

// Entity is a named political actor found in the text.
type Entity struct {
	Name string     `json:"name"`
	Kind EntityKind `json:"kind"`
}

// Result is the normalized analysis of a political text. RawModelText is always
// the unmodified completion so callers can recover from parse failures.
type Result struct {
	ID             string    `json:"id"`
	Sentiment      Sentiment `json:"sentiment"`
	SentimentScore *float64  `json:"sentiment_score,omitempty"`
	Topics         []string  `json:"topics"`
	Entities       []Entity  `json:"entities"`
	KeyIssues      []string  `json:"key_issues"`
	BiasDetected   *bool     `json:"bias_detected,omitempty"`
	PublicImpact   string    `json:"public_impact,omitempty"`
	ParseMode      ParseMode `json:"parse_mode"`
	RawModelText   string    `json:"raw_model_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsEmpty reports whether r carries nothing a narrative could be built on.
func (r *Result) IsEmpty() bool {
	if r == nil {
		return true
	}
	known := r.Sentiment != "" && r.Sentiment != SentimentUnknown
	return !known && len(r.Topics) == 0 && len(r.Entities) == 0 &&
		len(r.KeyIssues) == 0 && strings.TrimSpace(r.RawModelText) == ""
}

// KeyInsights is a compact digest of a Result, derived without a model call.
type KeyInsights struct {
	Sentiment         Sentiment `json:"sentiment"`
	SentimentScore    *float64  `json:"sentiment_score,omitempty"`
	MainTopics        []string  `json:"main_topics"`
	PoliticalEntities []Entity  `json:"political_entities"`
	CriticalIssues    []string  `json:"critical_issues"`
	ImpactLevel       string    `json:"impact_level"`
	BiasDetected      bool      `json:"bias_detected"`
}

// Insights digests r into KeyInsights.
func (r *Result) Insights() KeyInsights {
	impact := strings.TrimSpace(r.PublicImpact)
	if impact == "" {
		impact = "medium"
	}
	sentiment := r.Sentiment
	if sentiment == "" {
		sentiment = SentimentUnknown
	}
	return KeyInsights{
		Sentiment:         sentiment,
		SentimentScore:    r.SentimentScore,
		MainTopics:        head(r.Topics, 3),
		PoliticalEntities: head(r.Entities, 5),
		CriticalIssues:    head(r.KeyIssues, 3),
		ImpactLevel:       impact,
		BiasDetected:      r.BiasDetected != nil && *r.BiasDetected,
	}
}

// Narrative is a short prose explanation derived from a Result. BasedOn holds the
// ID of that Result and is informational only.
type Narrative struct {
	Narrative    string `json:"narrative"`
	BasedOn      string `json:"based_on,omitempty"`
	RawModelText string `json:"raw_model_text"`
}

// TimelinePhase is one step of an implementation timeline.
type TimelinePhase struct {
	Phase       string `json:"phase"`
	Description string `json:"description"`
}

// PolicyRecommendation is the normalized output of the policy template.
type PolicyRecommendation struct {
	Recommendations        []string        `json:"recommendations"`
	Context                string          `json:"context,omitempty"`
	Issue                  string          `json:"issue,omitempty"`
	ImplementationTimeline []TimelinePhase `json:"implementation_timeline,omitempty"`
	Stakeholders           []string        `json:"stakeholders,omitempty"`
	PotentialChallenges    []string        `json:"potential_challenges,omitempty"`
	ParseMode              ParseMode       `json:"parse_mode"`
	RawModelText           string          `json:"raw_model_text"`
}

func head[T any](items []T, n int) []T {
	if len(items) <= n {
		return append([]T{}, items...)
	}
	return append([]T{}, items[:n]...)
}
