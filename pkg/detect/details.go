package detect

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DetailsMaxLength is the length cap applied after cleaning, in runes.
const DetailsMaxLength = 500

var (
	// urlRe matches bare and parenthesized URLs. Parenthesized ones are
	// preserved because the link renderer itself emits "text (href)".
	urlRe = regexp.MustCompile(`(?i)\(?(?:https?://|www\.)[^\s()]+\)?`)

	emailRe      = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	spaceEdgesRe = regexp.MustCompile(` *\n *`)
)

// blockTags are elements that terminate a line of text.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Blockquote: true,
}

// DetailsCleaner normalizes scene description text. Clean is idempotent:
// cleaning already-clean text returns it unchanged.
type DetailsCleaner struct{}

// NewDetailsCleaner creates a cleaner.
func NewDetailsCleaner() *DetailsCleaner {
	return &DetailsCleaner{}
}

// Propose returns a cleaned version of details and whether it differs
// from the input. A result is proposed only on difference.
func (c *DetailsCleaner) Propose(details string) (string, bool) {
	cleaned := c.Clean(details)
	return cleaned, cleaned != details
}

// Clean strips HTML (keeping paragraph breaks and rendering links as
// "text (href)"), decodes entities, removes bare URLs and emails,
// collapses whitespace, truncates at a sentence boundary, and ensures
// terminal punctuation.
func (c *DetailsCleaner) Clean(details string) string {
	if strings.TrimSpace(details) == "" {
		return ""
	}

	text := stripHTML(details)
	text = removeURLs(text)
	text = emailRe.ReplaceAllString(text, "")
	text = collapseWhitespace(text)
	text = truncateAtSentence(text, DetailsMaxLength)
	text = ensureTerminalPunctuation(text)
	return text
}

// stripHTML renders the fragment as plain text. Block elements become
// newlines; anchors render as "text (href)".
func stripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Not parseable as HTML; treat as plain text.
		return s
	}
	var sb strings.Builder
	renderNode(&sb, doc)
	return sb.String()
}

func renderNode(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
		if n.DataAtom == atom.A {
			renderAnchor(sb, n)
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderNode(sb, child)
	}
	if n.Type == html.ElementNode && blockTags[n.DataAtom] {
		sb.WriteString("\n")
	}
}

func renderAnchor(sb *strings.Builder, n *html.Node) {
	var inner strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderNode(&inner, child)
	}
	text := strings.TrimSpace(inner.String())

	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = attr.Val
			break
		}
	}
	switch {
	case text != "" && href != "" && text != href:
		sb.WriteString(text + " (" + href + ")")
	case text != "":
		sb.WriteString(text)
	case href != "":
		sb.WriteString(href)
	}
}

// removeURLs deletes bare URLs but keeps parenthesized ones, which are
// link hrefs rendered by stripHTML.
func removeURLs(s string) string {
	return urlRe.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "(") && strings.HasSuffix(match, ")") {
			return match
		}
		// A trailing ")" belongs to surrounding text, not the URL.
		if strings.HasSuffix(match, ")") {
			return ")"
		}
		return ""
	})
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spacesRe.ReplaceAllString(s, " ")
	s = spaceEdgesRe.ReplaceAllString(s, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// truncateAtSentence cuts text to at most limit runes, preferring the
// last sentence boundary before the cut.
func truncateAtSentence(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := runes[:limit]
	boundary := -1
	for i, r := range cut {
		if r == '.' || r == '!' || r == '?' {
			boundary = i
		}
	}
	if boundary > 0 {
		return strings.TrimSpace(string(cut[:boundary+1]))
	}
	return strings.TrimSpace(string(cut))
}

func ensureTerminalPunctuation(s string) string {
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
