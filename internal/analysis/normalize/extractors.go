package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/model/analysis"
)

// extractor recovers one field from a free-text reply. ok is false when the
// extractor found nothing and the next one should run.
type extractor[T any] struct {
	name string
	run  func(doc *document) (T, bool)
}

// firstOf runs extractors in order and returns the first value found. A
// panicking extractor is logged and skipped.
func firstOf[T any](field string, doc *document, chain []extractor[T]) (T, bool) {
	for _, ex := range chain {
		if v, ok := safeRun(field, doc, ex); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func safeRun[T any](field string, doc *document, ex extractor[T]) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(logrus.Fields{
				"field":     field,
				"extractor": ex.name,
				"panic":     r,
			}).Warn("[normalize] extractor failed, skipping")
			var zero T
			v, ok = zero, false
		}
	}()
	return ex.run(doc)
}

var scorePattern = regexp.MustCompile(`\b(0(?:\.\d+)?|1(?:\.0+)?|\.\d+)\b`)

// sentimentFromSection reads a polarity keyword in the sentiment section.
func (t *Table) sentimentFromSection(doc *document) (sentimentValue, bool) {
	s, ok := doc.section(t, "sentiment")
	if !ok {
		return sentimentValue{}, false
	}
	text := s.text()
	label, found := t.sentiment(text)
	if !found {
		return sentimentValue{}, false
	}

	v := sentimentValue{label: label}
	if m := scorePattern.FindString(text); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			f = clampScore(f)
			v.score = &f
		}
	}
	return v, true
}

type sentimentValue struct {
	label analysis.Sentiment
	score *float64
}

func (t *Table) topicsFromSection(doc *document) ([]string, bool) {
	s, ok := doc.section(t, "topics")
	if !ok {
		return nil, false
	}
	values := s.values()
	return values, len(values) > 0
}

// topicsFromKeywords tags the reply with every topic bucket whose keywords occur in it.
func (t *Table) topicsFromKeywords(doc *document) ([]string, bool) {
	text := strings.ToLower(doc.plainText())
	var out []string
	for _, bucket := range t.TopicBuckets {
		for _, kw := range bucket.Keywords {
			if hasWordPrefix(text, strings.ToLower(kw)) {
				out = append(out, bucket.Topic)
				break
			}
		}
		if len(out) >= t.MaxKeywordTopics {
			break
		}
	}
	return out, len(out) > 0
}

// entitiesFromSection reads "Name (kind)" items and "Kind: a, b" sub-labels.
func (t *Table) entitiesFromSection(doc *document) ([]analysis.Entity, bool) {
	s, ok := doc.section(t, "entities")
	if !ok {
		return nil, false
	}

	var out []analysis.Entity
	add := func(text string, kind analysis.EntityKind) {
		for _, name := range splitList(text) {
			if e := t.entityFromText(name, kind); e.Name != "" {
				out = append(out, e)
			}
		}
	}

	add(s.inline, analysis.KindUnknown)

	current := analysis.KindUnknown
	for _, l := range s.body {
		label, rest, hasColon := strings.Cut(l.text, ":")
		if hasColon {
			if kind := t.entityKind(label); kind != analysis.KindUnknown && utf8.RuneCountInString(label) <= 30 {
				current = kind
				add(rest, kind)
				continue
			}
		}
		add(l.text, current)
	}
	return out, len(out) > 0
}

// entitiesFromCapitals collects runs of capitalized words that are not stopwords.
func (t *Table) entitiesFromCapitals(doc *document) ([]analysis.Entity, bool) {
	seen := make(map[string]struct{})
	var out []analysis.Entity

	for _, l := range doc.lines {
		if _, _, isMarker := t.marker(l); isMarker {
			continue
		}

		var run []string
		flush := func() {
			if len(run) > 0 {
				name := strings.Join(run, " ")
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					out = append(out, analysis.Entity{Name: name, Kind: analysis.KindUnknown})
				}
			}
			run = nil
		}

		for _, raw := range strings.Fields(l.text) {
			word := strings.TrimFunc(raw, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if isCapitalized(word) && !t.isStopword(word) && len(run) < 4 {
				run = append(run, word)
			} else {
				flush()
			}
			if strings.ContainsAny(raw[len(raw)-1:], ",.;:!?)") {
				flush()
			}
			if len(out) >= t.MaxScannedEntities {
				return out, true
			}
		}
		flush()
		if len(out) >= t.MaxScannedEntities {
			return out, true
		}
	}
	return out, len(out) > 0
}

func isCapitalized(word string) bool {
	if utf8.RuneCountInString(word) <= 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(first)
}

func (t *Table) issuesFromSection(doc *document) ([]string, bool) {
	s, ok := doc.section(t, "key_issues")
	if !ok {
		return nil, false
	}

	var out []string
	if s.inline != "" {
		for _, part := range strings.Split(s.inline, ";") {
			if v := cleanValue(part); v != "" {
				out = append(out, v)
			}
		}
	}
	for _, l := range s.body {
		if v := cleanValue(l.text); v != "" {
			out = append(out, v)
		}
	}
	return out, len(out) > 0
}

// issuesFromKeywords keeps sentences that mention a problem keyword.
func (t *Table) issuesFromKeywords(doc *document) ([]string, bool) {
	sentences := strings.FieldsFunc(doc.plainText(), func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})

	var out []string
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if utf8.RuneCountInString(sentence) <= t.MinIssueSentence {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, kw := range t.IssueKeywords {
			if hasWordPrefix(lower, strings.ToLower(kw)) {
				out = append(out, sentence)
				break
			}
		}
		if len(out) >= t.MaxKeywordIssues {
			break
		}
	}
	return out, len(out) > 0
}

func (t *Table) biasFromSection(doc *document) (bool, bool) {
	s, ok := doc.section(t, "bias_detected")
	if !ok {
		return false, false
	}
	return t.yesNo(s.text())
}

func (t *Table) impactFromSection(doc *document) (string, bool) {
	s, ok := doc.section(t, "public_impact")
	if !ok {
		return "", false
	}
	return t.impact(s.text())
}
