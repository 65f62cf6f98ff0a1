package normalize

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/political-reasoner/backend/internal/model/analysis"
)

//go:embed markers.yaml
var defaultMarkers []byte

// TopicBucket maps keywords found in free text to a topic label.
type TopicBucket struct {
	Topic    string   `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
}

// LexiconConfig controls the VADER sentiment extractor.
type LexiconConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// Table is the keyword and marker configuration used by both parse paths.
type Table struct {
	Keys            map[string][]string `yaml:"keys"`
	Sections        map[string][]string `yaml:"sections"`
	SentimentLabels map[string][]string `yaml:"sentiment_labels"`
	EntityKinds     map[string][]string `yaml:"entity_kinds"`
	ImpactLevels    map[string][]string `yaml:"impact_levels"`
	Affirmative     []string            `yaml:"affirmative"`
	NegativeAnswers []string            `yaml:"negative_answers"`
	TopicBuckets    []TopicBucket       `yaml:"topic_buckets"`
	IssueKeywords   []string            `yaml:"issue_keywords"`
	EntityStopwords []string            `yaml:"entity_stopwords"`

	MinIssueSentence   int `yaml:"min_issue_sentence"`
	MaxKeywordTopics   int `yaml:"max_keyword_topics"`
	MaxScannedEntities int `yaml:"max_scanned_entities"`
	MaxKeywordIssues   int `yaml:"max_keyword_issues"`

	Lexicon LexiconConfig `yaml:"lexicon"`

	keyIndex     map[string]string
	sectionIndex map[string]string
	stopwords    map[string]struct{}
}

// DefaultTable returns the embedded marker table.
func DefaultTable() (*Table, error) {
	return parseTable(defaultMarkers)
}

// LoadTable reads a marker table from path, or the embedded table when path is empty.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read marker table: %w", err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (*Table, error) {
	t := &Table{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse marker table: %w", err)
	}
	if len(t.Keys) == 0 {
		return nil, fmt.Errorf("marker table has no keys section")
	}

	if t.MinIssueSentence <= 0 {
		t.MinIssueSentence = 20
	}
	if t.MaxKeywordTopics <= 0 {
		t.MaxKeywordTopics = 5
	}
	if t.MaxScannedEntities <= 0 {
		t.MaxScannedEntities = 10
	}
	if t.MaxKeywordIssues <= 0 {
		t.MaxKeywordIssues = 5
	}
	if t.Lexicon.Threshold <= 0 {
		t.Lexicon.Threshold = 0.20
	}

	t.keyIndex = make(map[string]string)
	for field, aliases := range t.Keys {
		t.keyIndex[normalizeKey(field)] = field
		for _, alias := range aliases {
			t.keyIndex[normalizeKey(alias)] = field
		}
	}

	t.sectionIndex = make(map[string]string)
	for field, aliases := range t.Sections {
		for _, alias := range aliases {
			t.sectionIndex[normalizeLabel(alias)] = field
		}
	}

	t.stopwords = make(map[string]struct{}, len(t.EntityStopwords))
	for _, w := range t.EntityStopwords {
		t.stopwords[strings.ToLower(w)] = struct{}{}
	}
	return t, nil
}

// fieldForKey resolves a JSON key to its canonical field.
func (t *Table) fieldForKey(key string) (string, bool) {
	field, ok := t.keyIndex[normalizeKey(key)]
	return field, ok
}

// fieldForLabel resolves a section label to its canonical field.
func (t *Table) fieldForLabel(label string) (string, bool) {
	field, ok := t.sectionIndex[normalizeLabel(label)]
	return field, ok
}

func (t *Table) sentiment(raw string) (analysis.Sentiment, bool) {
	label, ok := matchLabel(t.SentimentLabels, raw)
	if !ok {
		return analysis.SentimentUnknown, false
	}
	return analysis.Sentiment(label), true
}

func (t *Table) entityKind(raw string) analysis.EntityKind {
	if kind, ok := matchLabel(t.EntityKinds, raw); ok {
		return analysis.EntityKind(kind)
	}
	return analysis.KindUnknown
}

func (t *Table) impact(raw string) (string, bool) {
	return matchLabel(t.ImpactLevels, raw)
}

func (t *Table) isStopword(word string) bool {
	_, ok := t.stopwords[strings.ToLower(word)]
	return ok
}

// yesNo interprets an answer such as "yes", "tidak ada" or "not detected".
func (t *Table) yesNo(raw string) (bool, bool) {
	value := strings.ToLower(strings.TrimSpace(strings.Trim(raw, ".!*_ ")))
	for _, w := range t.NegativeAnswers {
		if value == w || strings.HasPrefix(value, w+" ") || strings.HasPrefix(value, w+",") {
			return false, true
		}
	}
	for _, w := range t.Affirmative {
		if value == w || strings.HasPrefix(value, w+" ") || strings.HasPrefix(value, w+",") {
			return true, true
		}
	}
	return false, false
}

// matchLabel returns the canonical label whose alias equals raw, or failing
// that, the first alias found as a whole word in raw.
func matchLabel(labels map[string][]string, raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(strings.Trim(raw, ".!*_\"' ")))
	if value == "" {
		return "", false
	}

	for canonical, aliases := range labels {
		if value == canonical {
			return canonical, true
		}
		for _, alias := range aliases {
			if value == alias {
				return canonical, true
			}
		}
	}

	best, bestAt := "", -1
	for canonical, aliases := range labels {
		for _, alias := range append([]string{canonical}, aliases...) {
			if at := indexWord(value, alias); at >= 0 && (bestAt < 0 || at < bestAt) {
				best, bestAt = canonical, at
			}
		}
	}
	return best, bestAt >= 0
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.Trim(label, "#*_:-. \t")
	if i := strings.Index(label, "("); i > 0 {
		label = strings.TrimSpace(label[:i])
	}
	return strings.Join(strings.Fields(label), " ")
}
