package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanStripsHTMLKeepingParagraphs(t *testing.T) {
	c := NewDetailsCleaner()
	in := "<p>First paragraph.</p><p>Second paragraph.</p>"
	out := c.Clean(in)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", out)
}

func TestCleanRendersLinks(t *testing.T) {
	c := NewDetailsCleaner()
	out := c.Clean(`Watch it <a href="https://example.com/full">here</a> now`)
	assert.Equal(t, "Watch it here (https://example.com/full) now.", out)
}

func TestCleanDecodesEntities(t *testing.T) {
	c := NewDetailsCleaner()
	out := c.Clean("Tom &amp; Jerry&nbsp;return.")
	assert.Contains(t, out, "Tom & Jerry")
}

func TestCleanRemovesBareURLsAndEmails(t *testing.T) {
	c := NewDetailsCleaner()
	out := c.Clean("Visit https://example.com/promo for more. Contact me@example.com today.")
	assert.NotContains(t, out, "example.com/promo")
	assert.NotContains(t, out, "me@example.com")
	assert.Contains(t, out, "Visit")
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	c := NewDetailsCleaner()
	out := c.Clean("Too   many    spaces.\n\n\n\nToo many lines.")
	assert.Equal(t, "Too many spaces.\n\nToo many lines.", out)
}

func TestCleanEnsuresTerminalPunctuation(t *testing.T) {
	c := NewDetailsCleaner()
	assert.Equal(t, "No punctuation here.", c.Clean("No punctuation here"))
	assert.Equal(t, "Already ends!", c.Clean("Already ends!"))
}

func TestCleanTruncatesAtSentenceBoundary(t *testing.T) {
	c := NewDetailsCleaner()
	first := strings.Repeat("word ", 90) + "ends here."
	in := first + " " + strings.Repeat("padding ", 20)
	out := c.Clean(in)
	assert.LessOrEqual(t, len([]rune(out)), DetailsMaxLength)
	assert.True(t, strings.HasSuffix(out, "ends here."),
		"truncation should land on the sentence boundary, got %q", out)
}

func TestCleanIdempotent(t *testing.T) {
	c := NewDetailsCleaner()
	inputs := []string{
		"<p>First.</p><p>Second with <a href=\"https://x.example\">a link</a>.</p>",
		"Bare https://example.com/url and email me@example.com mixed in",
		"Plain text that is already clean.",
		strings.Repeat("Sentence one. ", 60),
		"No terminal punctuation",
	}
	for _, in := range inputs {
		once := c.Clean(in)
		twice := c.Clean(once)
		assert.Equal(t, once, twice, "Clean must be idempotent for %q", in)
	}
}

func TestProposeOnlyOnDifference(t *testing.T) {
	c := NewDetailsCleaner()

	_, changed := c.Propose("Already clean text.")
	assert.False(t, changed)

	cleaned, changed := c.Propose("<b>Needs</b>   cleaning")
	require.True(t, changed)
	assert.Equal(t, "Needs cleaning.", cleaned)
}
