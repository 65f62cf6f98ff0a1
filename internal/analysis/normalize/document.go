package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/russross/blackfriday/v2"
)

type lineKind int

const (
	lineText lineKind = iota
	lineHeading
	lineItem
)

type line struct {
	text string
	kind lineKind
}

// document is a model reply flattened into logical lines.
type document struct {
	raw   string
	lines []line
}

var bulletPrefix = regexp.MustCompile(`^(?:[-*+•]\s+|\d{1,2}[.)]\s+)`)

// parseDocument renders Markdown structure (headings, list items, paragraphs)
// into lines. Inline emphasis and code markers are dropped.
func parseDocument(raw string) *document {
	doc := &document{raw: raw}
	if strings.TrimSpace(raw) == "" {
		return doc
	}

	root, ok := parseMarkdown(raw)
	if !ok {
		doc.addBlock(raw, lineText)
		return doc
	}

	var buf *strings.Builder
	var bufKind lineKind

	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch node.Type {
		case blackfriday.Paragraph, blackfriday.Heading, blackfriday.TableCell:
			if entering {
				buf = &strings.Builder{}
				bufKind = blockKind(node)
				return blackfriday.GoToNext
			}
			if buf != nil {
				doc.addBlock(buf.String(), bufKind)
				buf = nil
			}
		case blackfriday.CodeBlock, blackfriday.HTMLBlock:
			doc.addBlock(string(node.Literal), lineText)
		case blackfriday.Text, blackfriday.Code, blackfriday.HTMLSpan:
			if buf != nil {
				buf.Write(node.Literal)
			} else {
				doc.addBlock(string(node.Literal), blockKind(node))
			}
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			if buf != nil {
				buf.WriteByte('\n')
			}
		}
		return blackfriday.GoToNext
	})

	if len(doc.lines) == 0 {
		doc.addBlock(raw, lineText)
	}
	return doc
}

func parseMarkdown(raw string) (root *blackfriday.Node, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			root, ok = nil, false
		}
	}()
	return blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions)).Parse([]byte(raw)), true
}

func blockKind(node *blackfriday.Node) lineKind {
	if node.Type == blackfriday.Heading {
		return lineHeading
	}
	for p := node.Parent; p != nil; p = p.Parent {
		if p.Type == blackfriday.Item {
			return lineItem
		}
	}
	return lineText
}

func (d *document) addBlock(text string, kind lineKind) {
	for _, part := range strings.Split(text, "\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k := kind
		if loc := bulletPrefix.FindStringIndex(part); loc != nil && k != lineHeading {
			part = strings.TrimSpace(part[loc[1]:])
			k = lineItem
		}
		if part = strings.Trim(part, "*_ "); part != "" {
			d.lines = append(d.lines, line{text: part, kind: k})
		}
	}
}

// plainText is the flattened reply joined into one string.
func (d *document) plainText() string {
	parts := make([]string, 0, len(d.lines))
	for _, l := range d.lines {
		parts = append(parts, l.text)
	}
	return strings.Join(parts, "\n")
}

// section is a labelled run of lines such as "Topics:" followed by bullets.
type section struct {
	field  string
	inline string
	body   []line
}

// marker reports whether l opens a section, returning its field and any text
// after the label on the same line.
func (t *Table) marker(l line) (string, string, bool) {
	label, rest, hasColon := strings.Cut(l.text, ":")
	if !hasColon {
		if field, ok := t.fieldForLabel(l.text); ok {
			return field, "", true
		}
		label, rest, hasColon = cutDash(l.text)
		if !hasColon {
			return "", "", false
		}
	}
	if utf8.RuneCountInString(label) > 40 {
		return "", "", false
	}
	field, ok := t.fieldForLabel(label)
	if !ok {
		return "", "", false
	}
	return field, strings.TrimSpace(strings.Trim(rest, "*_ ")), true
}

// cutDash splits "Sentiment - positive" style labels.
func cutDash(s string) (string, string, bool) {
	for _, sep := range []string{" - ", " – ", " — "} {
		if before, after, ok := strings.Cut(s, sep); ok {
			return before, after, true
		}
	}
	return "", "", false
}

// sections groups lines under the markers they follow. Lines before the
// first marker are not part of any section.
func (d *document) sections(t *Table) []section {
	var out []section
	var current *section
	for _, l := range d.lines {
		if field, inline, ok := t.marker(l); ok {
			out = append(out, section{field: field, inline: inline})
			current = &out[len(out)-1]
			continue
		}
		if l.kind == lineHeading {
			current = nil
			continue
		}
		if current != nil {
			current.body = append(current.body, l)
		}
	}
	return out
}

func (d *document) section(t *Table, field string) (section, bool) {
	for _, s := range d.sections(t) {
		if s.field == field {
			return s, true
		}
	}
	return section{}, false
}

// values returns the inline list of a section, or its body lines when the
// label stood alone.
func (s section) values() []string {
	if s.inline != "" {
		return splitList(s.inline)
	}
	return valuesOf(s.body)
}

func valuesOf(lines []line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if v := cleanValue(l.text); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// text is the inline value followed by the body lines.
func (s section) text() string {
	parts := make([]string, 0, len(s.body)+1)
	if s.inline != "" {
		parts = append(parts, s.inline)
	}
	for _, l := range s.body {
		parts = append(parts, l.text)
	}
	return strings.Join(parts, "\n")
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := cleanValue(f); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`*_")
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "and ")
	s = strings.TrimPrefix(s, "dan ")
	return strings.TrimSpace(s)
}

// indexWord finds w in s with a word boundary on both sides, or -1.
func indexWord(s, w string) int {
	if w == "" {
		return -1
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], w)
		if i < 0 {
			return -1
		}
		at := from + i
		end := at + len(w)
		if boundaryBefore(s, at) && boundaryAfter(s, end) {
			return at
		}
		_, size := utf8.DecodeRuneInString(s[at:])
		from = at + size
	}
	return -1
}

// hasWordPrefix reports whether some word of s starts with w.
func hasWordPrefix(s, w string) bool {
	if w == "" {
		return false
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], w)
		if i < 0 {
			return false
		}
		at := from + i
		if boundaryBefore(s, at) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[at:])
		from = at + size
	}
	return false
}

func boundaryBefore(s string, at int) bool {
	if at == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:at])
	return !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
