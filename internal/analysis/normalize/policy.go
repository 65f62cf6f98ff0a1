package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/model/analysis"
)

// Policy normalizes the reply to the policy template.
func (n *Normalizer) Policy(raw string) *analysis.PolicyRecommendation {
	p := &analysis.PolicyRecommendation{RawModelText: raw}

	if n.structuredPolicy(raw, p) {
		p.ParseMode = analysis.ParseStructured
	} else {
		p.ParseMode = analysis.ParseHeuristic
		n.heuristicPolicy(raw, p)
		logger.Log.WithFields(logrus.Fields{
			"length":          len(raw),
			"recommendations": len(p.Recommendations),
		}).Debug("[normalize] policy reply is not json, used heuristics")
	}

	if p.Recommendations == nil {
		p.Recommendations = []string{}
	}
	return p
}

func (n *Normalizer) structuredPolicy(raw string, p *analysis.PolicyRecommendation) bool {
	f, err := n.table.decodeFields(raw)
	if err != nil {
		return false
	}
	if !f.has("recommendations") && !f.has("implementation_timeline") && !f.has("stakeholders") && !f.has("potential_challenges") {
		return false
	}

	if v, ok := f["recommendations"]; ok {
		p.Recommendations = decodeStrings(v, false)
	}
	if v, ok := f["implementation_timeline"]; ok {
		p.ImplementationTimeline = decodeTimeline(v)
	}
	if v, ok := f["stakeholders"]; ok {
		p.Stakeholders = decodeStrings(v, true)
	}
	if v, ok := f["potential_challenges"]; ok {
		p.PotentialChallenges = decodeStrings(v, false)
	}
	return true
}

// decodeTimeline accepts {"phase_1": "..."} objects in member order, arrays of
// {phase, description} objects, or arrays of strings.
func decodeTimeline(raw json.RawMessage) []analysis.TimelinePhase {
	if pairs, err := orderedObject(raw); err == nil {
		out := make([]analysis.TimelinePhase, 0, len(pairs))
		for _, pr := range pairs {
			var desc string
			if json.Unmarshal(pr.value, &desc) != nil {
				desc = objectText(pr.value)
			}
			out = append(out, analysis.TimelinePhase{Phase: pr.key, Description: strings.TrimSpace(desc)})
		}
		return out
	}

	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}

	out := make([]analysis.TimelinePhase, 0, len(items))
	for i, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, timelineFromText(s, i))
			continue
		}

		var obj map[string]any
		if json.Unmarshal(item, &obj) != nil {
			continue
		}
		phase := firstString(obj, "phase", "name", "stage", "fase")
		if phase == "" {
			phase = fmt.Sprintf("phase_%d", i+1)
		}
		desc := firstString(obj, "description", "duration", "timeline", "activities", "detail")
		out = append(out, analysis.TimelinePhase{Phase: phase, Description: desc})
	}
	return out
}

func timelineFromText(text string, i int) analysis.TimelinePhase {
	if phase, desc, ok := strings.Cut(text, ":"); ok && strings.TrimSpace(phase) != "" {
		return analysis.TimelinePhase{Phase: strings.TrimSpace(phase), Description: strings.TrimSpace(desc)}
	}
	return analysis.TimelinePhase{Phase: fmt.Sprintf("phase_%d", i+1), Description: strings.TrimSpace(text)}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// heuristicPolicy reads labelled sections, then any bullet lines, then falls
// back to the whole reply as a single recommendation.
func (n *Normalizer) heuristicPolicy(raw string, p *analysis.PolicyRecommendation) {
	doc := parseDocument(raw)
	if len(doc.lines) == 0 {
		return
	}

	recommendations := []extractor[[]string]{
		{name: "section", run: n.sectionValues("recommendations")},
		{name: "bullets", run: bulletLines},
		{name: "whole", run: wholeText},
	}
	if v, ok := firstOf("recommendations", doc, recommendations); ok {
		p.Recommendations = v
	}

	if v, ok := firstOf("stakeholders", doc, []extractor[[]string]{{name: "section", run: n.sectionValues("stakeholders")}}); ok {
		p.Stakeholders = v
	}
	if v, ok := firstOf("potential_challenges", doc, []extractor[[]string]{{name: "section", run: n.sectionValues("potential_challenges")}}); ok {
		p.PotentialChallenges = v
	}

	timeline := []extractor[[]analysis.TimelinePhase]{{name: "section", run: n.timelineSection}}
	if v, ok := firstOf("implementation_timeline", doc, timeline); ok {
		p.ImplementationTimeline = v
	}
}

func (n *Normalizer) sectionValues(field string) func(doc *document) ([]string, bool) {
	return func(doc *document) ([]string, bool) {
		s, ok := doc.section(n.table, field)
		if !ok {
			return nil, false
		}
		var values []string
		switch {
		case len(s.body) == 0:
			values = splitList(s.inline)
		case s.inline != "":
			values = append([]string{cleanValue(s.inline)}, valuesOf(s.body)...)
		default:
			values = valuesOf(s.body)
		}
		return values, len(values) > 0
	}
}

func (n *Normalizer) timelineSection(doc *document) ([]analysis.TimelinePhase, bool) {
	s, ok := doc.section(n.table, "implementation_timeline")
	if !ok {
		return nil, false
	}
	var out []analysis.TimelinePhase
	for i, l := range s.body {
		out = append(out, timelineFromText(l.text, i))
	}
	if len(out) == 0 && s.inline != "" {
		out = append(out, timelineFromText(s.inline, 0))
	}
	return out, len(out) > 0
}

func bulletLines(doc *document) ([]string, bool) {
	var out []string
	for _, l := range doc.lines {
		if l.kind == lineItem {
			if v := cleanValue(l.text); v != "" {
				out = append(out, v)
			}
		}
	}
	return out, len(out) > 0
}

func wholeText(doc *document) ([]string, bool) {
	text := strings.TrimSpace(doc.raw)
	if text == "" {
		return nil, false
	}
	return []string{text}, true
}
