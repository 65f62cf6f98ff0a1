package normalize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/political-reasoner/backend/internal/model/analysis"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	table, err := DefaultTable()
	require.NoError(t, err)
	return New(table)
}

func ptr[T any](v T) *T { return &v }

func TestAnalysisStructuredExactMatch(t *testing.T) {
	n := newTestNormalizer(t)
	raw := "```json\n" + `{
  "sentiment": {"label": "positive", "score": 0.8},
  "topics": ["digital transformation", "public administration"],
  "entities": [
    {"name": "Joko Widodo", "kind": "person"},
    {"name": "PDI-P", "kind": "party"},
    {"name": "Minister of Communication", "kind": "position"}
  ],
  "key_issues": ["data privacy", "digital divide"],
  "bias_detected": false,
  "public_impact": "high"
}` + "\n```"

	r := n.Analysis(raw)

	assert.Equal(t, analysis.ParseStructured, r.ParseMode)
	assert.Equal(t, analysis.SentimentPositive, r.Sentiment)
	require.NotNil(t, r.SentimentScore)
	assert.InDelta(t, 0.8, *r.SentimentScore, 1e-9)
	assert.Equal(t, []string{"digital transformation", "public administration"}, r.Topics)
	assert.Equal(t, []analysis.Entity{
		{Name: "Joko Widodo", Kind: analysis.KindPerson},
		{Name: "PDI-P", Kind: analysis.KindParty},
		{Name: "Minister of Communication", Kind: analysis.KindPosition},
	}, r.Entities)
	assert.Equal(t, []string{"data privacy", "digital divide"}, r.KeyIssues)
	assert.Equal(t, ptr(false), r.BiasDetected)
	assert.Equal(t, "high", r.PublicImpact)
	assert.Equal(t, raw, r.RawModelText)
}

func TestAnalysisStructuredAliasesAndEnums(t *testing.T) {
	n := newTestNormalizer(t)

	r := n.Analysis(`Here is the result: {"sentimen": "negatif", "topik": "ekonomi, politik", "entitas": {"partai": ["Golkar"], "tokoh": "Prabowo"}}`)
	assert.Equal(t, analysis.ParseStructured, r.ParseMode)
	assert.Equal(t, analysis.SentimentNegative, r.Sentiment)
	assert.Equal(t, []string{"ekonomi", "politik"}, r.Topics)
	assert.Equal(t, []analysis.Entity{
		{Name: "Golkar", Kind: analysis.KindParty},
		{Name: "Prabowo", Kind: analysis.KindPerson},
	}, r.Entities)
	assert.Empty(t, r.KeyIssues)

	r = n.Analysis(`{"sentiment": "bullish", "entities": [{"name": "Somebody", "type": "alien"}, "Jakarta"]}`)
	assert.Equal(t, analysis.SentimentUnknown, r.Sentiment)
	assert.Equal(t, []analysis.Entity{
		{Name: "Somebody", Kind: analysis.KindUnknown},
		{Name: "Jakarta", Kind: analysis.KindUnknown},
	}, r.Entities)
	assert.NotNil(t, r.Topics)
}

func TestAnalysisGarbledReply(t *testing.T) {
	n := newTestNormalizer(t)

	inputs := []string{
		"",
		"   ",
		"{",
		"}{",
		`{"foo": 1}`,
		"```json\n{\"sentiment\": ",
		"\x00\xff\xfe",
		strings.Repeat("{[", 1000),
		"lorem ipsum {{{ ;;; ]]] zzz",
	}

	for _, raw := range inputs {
		var r *analysis.Result
		require.NotPanics(t, func() { r = n.Analysis(raw) }, "input %q", raw)
		assert.Equal(t, analysis.SentimentUnknown, r.Sentiment, "input %q", raw)
		assert.Equal(t, raw, r.RawModelText)
		assert.Equal(t, analysis.ParseHeuristic, r.ParseMode)
		assert.NotNil(t, r.Topics)
		assert.NotNil(t, r.Entities)
	}

	r := n.Analysis("lorem ipsum {{{ ;;; ]]] zzz")
	assert.Empty(t, r.Topics)
	assert.Empty(t, r.Entities)
	assert.Empty(t, r.KeyIssues)
}

func TestAnalysisMarkdownHeuristics(t *testing.T) {
	n := newTestNormalizer(t)
	raw := `## Analysis

**Sentiment:** Negative (score 0.25)

**Main Topics:**

- Fuel subsidy
- Inflation

**Political Entities:**

- Person: Sri Mulyani
- Party: Golkar
- Ministry of Finance (position)

**Key Issues:** rising fuel prices; weak public communication

**Bias:** No

**Public Impact:** High
`

	r := n.Analysis(raw)

	assert.Equal(t, analysis.ParseHeuristic, r.ParseMode)
	assert.Equal(t, analysis.SentimentNegative, r.Sentiment)
	require.NotNil(t, r.SentimentScore)
	assert.InDelta(t, 0.25, *r.SentimentScore, 1e-9)
	assert.Equal(t, []string{"Fuel subsidy", "Inflation"}, r.Topics)
	assert.Equal(t, []analysis.Entity{
		{Name: "Sri Mulyani", Kind: analysis.KindPerson},
		{Name: "Golkar", Kind: analysis.KindParty},
		{Name: "Ministry of Finance", Kind: analysis.KindPosition},
	}, r.Entities)
	assert.Equal(t, []string{"rising fuel prices", "weak public communication"}, r.KeyIssues)
	assert.Equal(t, ptr(false), r.BiasDetected)
	assert.Equal(t, "high", r.PublicImpact)
	assert.Equal(t, raw, r.RawModelText)
}

func TestAnalysisProseKeywordFallback(t *testing.T) {
	n := newTestNormalizer(t)
	raw := "Pemerintah menghadapi masalah besar terkait inflasi dan kebijakan pajak. Presiden Joko Widodo meminta DPR segera bertindak."

	r := n.Analysis(raw)

	assert.Equal(t, analysis.SentimentUnknown, r.Sentiment)
	assert.Equal(t, []string{"economy", "politics", "law"}, r.Topics)
	assert.Contains(t, r.Entities, analysis.Entity{Name: "Presiden Joko Widodo", Kind: analysis.KindUnknown})
	assert.Contains(t, r.Entities, analysis.Entity{Name: "DPR", Kind: analysis.KindUnknown})
	assert.Equal(t, []string{"Pemerintah menghadapi masalah besar terkait inflasi dan kebijakan pajak"}, r.KeyIssues)
}

func TestLexiconSentimentWhenEnabled(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)
	table.Lexicon.Enabled = true
	n := New(table)

	r := n.Analysis("This is a wonderful, excellent and truly great policy that people love.")
	assert.Equal(t, analysis.SentimentPositive, r.Sentiment)
	require.NotNil(t, r.SentimentScore)
	assert.Greater(t, *r.SentimentScore, 0.5)

	r = newTestNormalizer(t).Analysis("This is a wonderful, excellent and truly great policy that people love.")
	assert.Equal(t, analysis.SentimentUnknown, r.Sentiment, "lexicon is off by default")
}

func TestFirstOfSkipsPanickingExtractor(t *testing.T) {
	doc := parseDocument("anything")
	chain := []extractor[string]{
		{name: "boom", run: func(*document) (string, bool) { panic("boom") }},
		{name: "empty", run: func(*document) (string, bool) { return "", false }},
		{name: "ok", run: func(*document) (string, bool) { return "value", true }},
	}

	var got string
	var ok bool
	require.NotPanics(t, func() { got, ok = firstOf("test", doc, chain) })
	assert.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestPolicyStructured(t *testing.T) {
	n := newTestNormalizer(t)
	raw := `{
  "recommendations": ["Publish procurement data", "Create an independent audit board"],
  "implementation_timeline": {"phase_2": "4-6 months", "phase_1": "1-3 months"},
  "stakeholders": ["Ministry of Finance", "DPR"],
  "potential_challenges": ["budget constraints"]
}`

	p := n.Policy(raw)

	assert.Equal(t, analysis.ParseStructured, p.ParseMode)
	assert.Equal(t, []string{"Publish procurement data", "Create an independent audit board"}, p.Recommendations)
	assert.Equal(t, []analysis.TimelinePhase{
		{Phase: "phase_2", Description: "4-6 months"},
		{Phase: "phase_1", Description: "1-3 months"},
	}, p.ImplementationTimeline)
	assert.Equal(t, []string{"Ministry of Finance", "DPR"}, p.Stakeholders)
	assert.Equal(t, []string{"budget constraints"}, p.PotentialChallenges)
	assert.Equal(t, raw, p.RawModelText)
}

func TestPolicyHeuristicFallbacks(t *testing.T) {
	n := newTestNormalizer(t)

	p := n.Policy("Recommendations:\n\n1. Improve transparency\n2. Strengthen oversight\n\nStakeholders: DPR, civil society\n")
	assert.Equal(t, analysis.ParseHeuristic, p.ParseMode)
	assert.Equal(t, []string{"Improve transparency", "Strengthen oversight"}, p.Recommendations)
	assert.Equal(t, []string{"DPR", "civil society"}, p.Stakeholders)

	p = n.Policy("Consider the following steps.\n\n- Open data portal\n- Citizen hearings\n")
	assert.Equal(t, []string{"Open data portal", "Citizen hearings"}, p.Recommendations)

	p = n.Policy("  Just improve governance.  ")
	assert.Equal(t, []string{"Just improve governance."}, p.Recommendations)

	p = n.Policy("")
	assert.NotNil(t, p.Recommendations)
	assert.Empty(t, p.Recommendations)
}

func TestNarrativeAndChatUnwrap(t *testing.T) {
	n := newTestNormalizer(t)

	assert.Equal(t, "A short story.", n.Narrative(`{"narrative": "  A short story. "}`))
	assert.Equal(t, "Plain prose.", n.Narrative("\n  Plain prose.  \n"))
	assert.Equal(t, "Hello!", n.Chat(`{"reply": "Hello!"}`))
	assert.Equal(t, "Hi there", n.Chat(`{"response": "Hi there"}`))
	assert.Equal(t, "No json {here", n.Chat("No json {here"))
}

func TestLoadTable(t *testing.T) {
	table, err := LoadTable("")
	require.NoError(t, err)
	assert.NotEmpty(t, table.TopicBuckets)
	assert.False(t, table.Lexicon.Enabled)

	dir := t.TempDir()
	custom := filepath.Join(dir, "markers.yaml")
	require.NoError(t, os.WriteFile(custom, []byte(`
keys:
  sentiment: [mood]
sections:
  sentiment: [mood]
sentiment_labels:
  positive: [happy]
`), 0o644))

	table, err = LoadTable(custom)
	require.NoError(t, err)
	r := New(table).Analysis(`{"mood": "happy"}`)
	assert.Equal(t, analysis.SentimentPositive, r.Sentiment)
	r = New(table).Analysis("Mood: happy")
	assert.Equal(t, analysis.SentimentPositive, r.Sentiment)

	_, err = LoadTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("keys: [unterminated"), 0o644))
	_, err = LoadTable(bad)
	assert.Error(t, err)
}

func TestAnalysisStructuredStringEntitiesKeepParentheticals(t *testing.T) {
	n := newTestNormalizer(t)

	r := n.Analysis(`{"sentiment": "neutral", "entities": ["Partai Demokrasi Indonesia Perjuangan (PDI-P)", "Joko Widodo (President)", "Golkar (party)"]}`)

	assert.Equal(t, analysis.ParseStructured, r.ParseMode)
	assert.Equal(t, []analysis.Entity{
		{Name: "Partai Demokrasi Indonesia Perjuangan (PDI-P)", Kind: analysis.KindUnknown},
		{Name: "Joko Widodo (President)", Kind: analysis.KindUnknown},
		{Name: "Golkar", Kind: analysis.KindParty},
	}, r.Entities)
}
