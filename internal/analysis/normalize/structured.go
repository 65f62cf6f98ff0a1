package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/political-reasoner/backend/internal/model/analysis"
)

var errNoJSONObject = errors.New("missing json object")

// fields is a decoded JSON object keyed by canonical field name.
type fields map[string]json.RawMessage

// extractObject strips code fences and slices the outermost {...} of content.
func extractObject(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			trimmed = trimmed[nl+1:]
		}
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, errNoJSONObject
	}
	return []byte(trimmed[start : end+1]), nil
}

// decodeFields parses content into canonical fields. An object carrying none of
// the known keys is an error; a single wrapper object such as {"analysis": {...}}
// is unwrapped once.
func (t *Table) decodeFields(content string) (fields, error) {
	data, err := extractObject(content)
	if err != nil {
		return nil, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}

	out := t.canonical(obj)
	if len(out) == 0 && len(obj) == 1 {
		for _, inner := range obj {
			var nested map[string]json.RawMessage
			if json.Unmarshal(inner, &nested) == nil {
				out = t.canonical(nested)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("json object has none of the expected keys")
	}
	return out, nil
}

func (t *Table) canonical(obj map[string]json.RawMessage) fields {
	out := make(fields)
	for key, value := range obj {
		field, ok := t.fieldForKey(key)
		if !ok {
			continue
		}
		// the canonical spelling wins over an alias
		if _, seen := out[field]; seen && normalizeKey(key) != field {
			continue
		}
		out[field] = value
	}
	return out
}

func (f fields) has(field string) bool {
	raw, ok := f[field]
	return ok && !isNull(raw)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// structuredAnalysis fills r from a JSON reply. ok is false when the reply is
// not a usable JSON object.
func (t *Table) structuredAnalysis(content string, r *analysis.Result) bool {
	f, err := t.decodeFields(content)
	if err != nil {
		return false
	}

	analysisKeys := []string{"sentiment", "sentiment_score", "topics", "entities", "key_issues", "bias_detected", "public_impact"}
	found := false
	for _, k := range analysisKeys {
		if f.has(k) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if raw, ok := f["sentiment"]; ok {
		r.Sentiment, r.SentimentScore = t.decodeSentiment(raw)
	}
	if raw, ok := f["sentiment_score"]; ok && r.SentimentScore == nil {
		r.SentimentScore = decodeScore(raw)
	}
	if raw, ok := f["topics"]; ok {
		r.Topics = decodeStrings(raw, true)
	}
	if raw, ok := f["entities"]; ok {
		r.Entities = t.decodeEntities(raw)
	}
	if raw, ok := f["key_issues"]; ok {
		r.KeyIssues = decodeStrings(raw, false)
	}
	if raw, ok := f["bias_detected"]; ok {
		r.BiasDetected = t.decodeBool(raw)
	}
	if raw, ok := f["public_impact"]; ok {
		r.PublicImpact = t.decodeImpact(raw)
	}
	return true
}

func (t *Table) decodeSentiment(raw json.RawMessage) (analysis.Sentiment, *float64) {
	var label string
	if json.Unmarshal(raw, &label) == nil {
		s, _ := t.sentiment(label)
		return s, nil
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return analysis.SentimentUnknown, nil
	}

	sentiment := analysis.SentimentUnknown
	var score *float64
	for key, value := range obj {
		switch normalizeKey(key) {
		case "label", "sentiment", "value", "polarity", "overall":
			var s string
			if json.Unmarshal(value, &s) == nil {
				sentiment, _ = t.sentiment(s)
			}
		case "score", "confidence", "skor":
			score = decodeScore(value)
		}
	}
	return sentiment, score
}

// decodeScore accepts a number or numeric string and clamps it to [0, 1].
func decodeScore(raw json.RawMessage) *float64 {
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		v = parsed
	}
	v = clampScore(v)
	return &v
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// decodeStrings accepts an array of strings or labelled objects, or a single
// string which is split on commas when splitCommas is set.
func decodeStrings(raw json.RawMessage, splitCommas bool) []string {
	var single string
	if json.Unmarshal(raw, &single) == nil {
		if splitCommas {
			return splitList(single)
		}
		if v := strings.TrimSpace(single); v != "" {
			return []string{v}
		}
		return []string{}
	}

	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return []string{}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		if s := objectText(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// objectText renders {"title": ..., "description": ...} style items as text.
func objectText(raw json.RawMessage) string {
	var obj map[string]any
	if json.Unmarshal(raw, &obj) != nil {
		return ""
	}

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	title := pick("name", "title", "topic", "issue", "recommendation", "stakeholder", "challenge", "text")
	detail := pick("description", "detail", "details", "explanation", "reason")
	switch {
	case title != "" && detail != "":
		return title + ": " + detail
	case title != "":
		return title
	default:
		return detail
	}
}

func (t *Table) decodeEntities(raw json.RawMessage) []analysis.Entity {
	out := []analysis.Entity{}

	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		for _, item := range items {
			if e, ok := t.decodeEntity(item, analysis.KindUnknown); ok {
				out = append(out, e)
			}
		}
		return out
	}

	var byKind map[string]json.RawMessage
	if json.Unmarshal(raw, &byKind) == nil {
		for _, key := range orderedKeys(raw) {
			kind := t.entityKind(key)
			var names []json.RawMessage
			if json.Unmarshal(byKind[key], &names) != nil {
				names = []json.RawMessage{byKind[key]}
			}
			for _, name := range names {
				if e, ok := t.decodeEntity(name, kind); ok {
					out = append(out, e)
				}
			}
		}
		return out
	}

	var single string
	if json.Unmarshal(raw, &single) == nil {
		for _, name := range splitList(single) {
			out = append(out, t.entityFromText(name, analysis.KindUnknown))
		}
	}
	return out
}

func (t *Table) decodeEntity(raw json.RawMessage, kind analysis.EntityKind) (analysis.Entity, bool) {
	var name string
	if json.Unmarshal(raw, &name) == nil {
		if strings.TrimSpace(name) == "" {
			return analysis.Entity{}, false
		}
		return t.entityFromText(name, kind), true
	}

	var obj map[string]any
	if json.Unmarshal(raw, &obj) != nil {
		return analysis.Entity{}, false
	}

	for _, k := range []string{"name", "entity", "value", "text", "nama"} {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			name = strings.TrimSpace(v)
			break
		}
	}
	if name == "" {
		return analysis.Entity{}, false
	}

	for _, k := range []string{"kind", "type", "category", "jenis", "tipe"} {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			kind = t.entityKind(v)
			break
		}
	}
	return analysis.Entity{Name: name, Kind: kind}, true
}

// entityFromText reads "Name (kind)". The parenthetical is only consumed when
// it names a known kind; "Party Name (ABBR)" keeps its text.
func (t *Table) entityFromText(text string, kind analysis.EntityKind) analysis.Entity {
	name := strings.TrimSpace(text)
	if open := strings.LastIndex(name, "("); open > 0 && strings.HasSuffix(name, ")") {
		hint := name[open+1 : len(name)-1]
		if k := t.entityKind(hint); k != analysis.KindUnknown {
			kind = k
			name = strings.TrimSpace(name[:open])
		}
	}
	return analysis.Entity{Name: cleanValue(name), Kind: kind}
}

func (t *Table) decodeBool(raw json.RawMessage) *bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return &b
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, ok := t.yesNo(s); ok {
			return &v
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) == nil {
		for _, k := range []string{"detected", "present", "value", "bias_detected"} {
			if inner, ok := obj[k]; ok {
				return t.decodeBool(inner)
			}
		}
	}
	return nil
}

func (t *Table) decodeImpact(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			return ""
		}
		for _, k := range []string{"level", "impact", "value"} {
			if inner, ok := obj[k]; ok && json.Unmarshal(inner, &s) == nil {
				break
			}
		}
	}
	if level, ok := t.impact(s); ok {
		return level
	}
	return strings.TrimSpace(s)
}

// orderedKeys returns the keys of a JSON object in document order.
func orderedKeys(raw json.RawMessage) []string {
	pairs, err := orderedObject(raw)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.key)
	}
	return keys
}

type pair struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object keeping member order.
func orderedObject(raw json.RawMessage) ([]pair, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected json object")
	}

	var out []pair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		out = append(out, pair{key: key, value: value})
	}
	return out, nil
}
