package normalize

import (
	"regexp"
	"sync"

	"github.com/jonreiter/govader"

	"github.com/political-reasoner/backend/internal/model/analysis"
)

var (
	vaderOnce     sync.Once
	vaderAnalyzer *govader.SentimentIntensityAnalyzer

	linkPattern = regexp.MustCompile(`\[(.*?)\]\((https?://[^\s)]+)\)`)
	urlPattern  = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

func vader() *govader.SentimentIntensityAnalyzer {
	vaderOnce.Do(func() {
		vaderAnalyzer = govader.NewSentimentIntensityAnalyzer()
	})
	return vaderAnalyzer
}

// sentimentFromLexicon scores the flattened reply with VADER. The compound
// score is mapped to a label with the configured threshold and rescaled to [0, 1].
func (t *Table) sentimentFromLexicon(doc *document) (sentimentValue, bool) {
	if !t.Lexicon.Enabled {
		return sentimentValue{}, false
	}

	text := linkPattern.ReplaceAllString(doc.plainText(), "$1")
	text = urlPattern.ReplaceAllString(text, "")
	if text == "" {
		return sentimentValue{}, false
	}

	compound := vader().PolarityScores(text).Compound

	label := analysis.SentimentNeutral
	switch {
	case compound >= t.Lexicon.Threshold:
		label = analysis.SentimentPositive
	case compound <= -t.Lexicon.Threshold:
		label = analysis.SentimentNegative
	}

	score := clampScore((compound + 1) / 2)
	return sentimentValue{label: label, score: &score}, true
}
