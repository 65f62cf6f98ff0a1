// Package normalize turns free-text model replies into structured results.
// A JSON reply is parsed directly; anything else goes through an ordered chain
// of heuristic extractors per field driven by the marker table. Normalization
// never fails: the worst case is an empty result carrying the raw text.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/model/analysis"
)

// Normalizer is stateless apart from its read-only table and safe for concurrent use.
type Normalizer struct {
	table *Table

	sentiment []extractor[sentimentValue]
	topics    []extractor[[]string]
	entities  []extractor[[]analysis.Entity]
	issues    []extractor[[]string]
	bias      []extractor[bool]
	impact    []extractor[string]
}

// New builds a Normalizer around table.
func New(table *Table) *Normalizer {
	return &Normalizer{
		table: table,
		sentiment: []extractor[sentimentValue]{
			{name: "section", run: table.sentimentFromSection},
			{name: "lexicon", run: table.sentimentFromLexicon},
		},
		topics: []extractor[[]string]{
			{name: "section", run: table.topicsFromSection},
			{name: "keywords", run: table.topicsFromKeywords},
		},
		entities: []extractor[[]analysis.Entity]{
			{name: "section", run: table.entitiesFromSection},
			{name: "capitals", run: table.entitiesFromCapitals},
		},
		issues: []extractor[[]string]{
			{name: "section", run: table.issuesFromSection},
			{name: "keywords", run: table.issuesFromKeywords},
		},
		bias: []extractor[bool]{
			{name: "section", run: table.biasFromSection},
		},
		impact: []extractor[string]{
			{name: "section", run: table.impactFromSection},
		},
	}
}

// Analysis normalizes the reply to the analysis template.
func (n *Normalizer) Analysis(raw string) *analysis.Result {
	r := &analysis.Result{
		Sentiment:    analysis.SentimentUnknown,
		RawModelText: raw,
	}

	if n.table.structuredAnalysis(raw, r) {
		r.ParseMode = analysis.ParseStructured
	} else {
		r.ParseMode = analysis.ParseHeuristic
		n.heuristicAnalysis(raw, r)
		logger.Log.WithFields(logrus.Fields{
			"length":    len(raw),
			"sentiment": r.Sentiment,
			"topics":    len(r.Topics),
			"entities":  len(r.Entities),
		}).Debug("[normalize] analysis reply is not json, used heuristics")
	}

	if r.Sentiment == "" {
		r.Sentiment = analysis.SentimentUnknown
	}
	if r.Topics == nil {
		r.Topics = []string{}
	}
	if r.Entities == nil {
		r.Entities = []analysis.Entity{}
	}
	if r.KeyIssues == nil {
		r.KeyIssues = []string{}
	}
	return r
}

func (n *Normalizer) heuristicAnalysis(raw string, r *analysis.Result) {
	doc := parseDocument(raw)
	if len(doc.lines) == 0 {
		return
	}

	if v, ok := firstOf("sentiment", doc, n.sentiment); ok {
		r.Sentiment = v.label
		r.SentimentScore = v.score
	}
	if v, ok := firstOf("topics", doc, n.topics); ok {
		r.Topics = v
	}
	if v, ok := firstOf("entities", doc, n.entities); ok {
		r.Entities = v
	}
	if v, ok := firstOf("key_issues", doc, n.issues); ok {
		r.KeyIssues = v
	}
	if v, ok := firstOf("bias_detected", doc, n.bias); ok {
		r.BiasDetected = &v
	}
	if v, ok := firstOf("public_impact", doc, n.impact); ok {
		r.PublicImpact = v
	}
}

// Narrative unwraps a {"narrative": ...} reply, otherwise returns the trimmed text.
func (n *Normalizer) Narrative(raw string) string {
	return n.unwrapText(raw, "narrative")
}

// Chat unwraps a {"reply": ...} reply, otherwise returns the trimmed text.
func (n *Normalizer) Chat(raw string) string {
	return n.unwrapText(raw, "reply")
}

func (n *Normalizer) unwrapText(raw, field string) string {
	trimmed := strings.TrimSpace(raw)
	if f, err := n.table.decodeFields(trimmed); err == nil {
		var text string
		if value, ok := f[field]; ok && json.Unmarshal(value, &text) == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return trimmed
}
