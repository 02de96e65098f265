// Package text turns community posts into plain text a voice provider can read.
package text

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/book-expert/narration-service/internal/core"
)

// Regex patterns for text cleaning.
const (
	htmlTagRegexPattern        = `</?[a-zA-Z][^>]*>`
	urlRegexPattern            = `https?://\S+|www\.\S+`
	markdownLinkRegexPattern   = `!?\[([^\]]*)\]\([^)]*\)`
	markdownBoldRegexPattern   = `\*\*([^*]+)\*\*|__([^_]+)__`
	markdownItalRegexPattern   = `\*([^*\n]+)\*`
	markdownStrikeRegexPattern = `~~([^~]+)~~`
	markdownCodeRegexPattern   = "`+([^`]*)`+"
	headingRegexPattern        = `(?m)^[ \t]*#{1,6}[ \t]*`
	quoteRegexPattern          = `(?m)^[ \t]*(?:>[ \t]?)+`
	bulletRegexPattern         = `(?m)^[ \t]*(?:[-*+]|\d{1,2}[.)])[ \t]+`
	ruleRegexPattern           = `(?m)^[ \t]*(?:[-*_][ \t]*){3,}$`
	referenceRegexPattern      = `\[\d+\]`
	repeatedPunctRegexPattern  = `([!?,;:])[!?,;:]+`
	longEllipsisRegexPattern   = `\.{4,}`
	paragraphRegexPattern      = `\n[ \t]*\n`
	whitespaceRegexPattern     = `\s+`
)

const (
	paragraphSeparator = "\n\n"
	htmlBlockSelectors = "p, div, li, blockquote, pre, h1, h2, h3, h4, h5, h6, tr"
)

// Cleaner strips markup from an item and normalises it for narration.
// It is safe for concurrent use.
type Cleaner struct {
	htmlTagPattern        *regexp.Regexp
	urlPattern            *regexp.Regexp
	markdownLinkPattern   *regexp.Regexp
	markdownBoldPattern   *regexp.Regexp
	markdownItalPattern   *regexp.Regexp
	markdownStrikePattern *regexp.Regexp
	markdownCodePattern   *regexp.Regexp
	headingPattern        *regexp.Regexp
	quotePattern          *regexp.Regexp
	bulletPattern         *regexp.Regexp
	rulePattern           *regexp.Regexp
	referencePattern      *regexp.Regexp
	repeatedPunctPattern  *regexp.Regexp
	longEllipsisPattern   *regexp.Regexp
	paragraphPattern      *regexp.Regexp
	whitespacePattern     *regexp.Regexp

	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewCleaner compiles the patterns and replacers once.
func NewCleaner() *Cleaner {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "et cetera",
		"TL;DR", "In short",
		"tl;dr", "In short",
	}

	return &Cleaner{
		htmlTagPattern:        regexp.MustCompile(htmlTagRegexPattern),
		urlPattern:            regexp.MustCompile(urlRegexPattern),
		markdownLinkPattern:   regexp.MustCompile(markdownLinkRegexPattern),
		markdownBoldPattern:   regexp.MustCompile(markdownBoldRegexPattern),
		markdownItalPattern:   regexp.MustCompile(markdownItalRegexPattern),
		markdownStrikePattern: regexp.MustCompile(markdownStrikeRegexPattern),
		markdownCodePattern:   regexp.MustCompile(markdownCodeRegexPattern),
		headingPattern:        regexp.MustCompile(headingRegexPattern),
		quotePattern:          regexp.MustCompile(quoteRegexPattern),
		bulletPattern:         regexp.MustCompile(bulletRegexPattern),
		rulePattern:           regexp.MustCompile(ruleRegexPattern),
		referencePattern:      regexp.MustCompile(referenceRegexPattern),
		repeatedPunctPattern:  regexp.MustCompile(repeatedPunctRegexPattern),
		longEllipsisPattern:   regexp.MustCompile(longEllipsisRegexPattern),
		paragraphPattern:      regexp.MustCompile(paragraphRegexPattern),
		whitespacePattern:     regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer:  strings.NewReplacer(abbreviations...),
		punctuationReplacer: strings.NewReplacer(
			"—", " - ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			"\r\n", "\n",
			"\u00a0", " ",
		),
	}
}

// Clean returns the title followed by the body as narration text.
// Paragraphs are separated by a blank line and each ends with punctuation.
func (c *Cleaner) Clean(item core.CandidateItem) string {
	paragraphs := c.paragraphs(item.Title)
	paragraphs = append(paragraphs, c.paragraphs(item.Body)...)

	return strings.Join(paragraphs, paragraphSeparator)
}

// CleanText applies the same pipeline to a bare string.
func (c *Cleaner) CleanText(raw string) string {
	return strings.Join(c.paragraphs(raw), paragraphSeparator)
}

func (c *Cleaner) paragraphs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	text := c.stripHTML(raw)
	text = c.punctuationReplacer.Replace(text)
	text = c.stripMarkdown(text)
	text = c.urlPattern.ReplaceAllString(text, "")
	text = c.referencePattern.ReplaceAllString(text, "")
	text = c.abbreviationReplacer.Replace(text)
	text = c.repeatedPunctPattern.ReplaceAllString(text, "$1")
	text = c.longEllipsisPattern.ReplaceAllString(text, "...")

	var result []string

	for _, paragraph := range c.paragraphPattern.Split(text, -1) {
		paragraph = strings.TrimSpace(c.whitespacePattern.ReplaceAllString(paragraph, " "))
		if !hasSpeakableText(paragraph) {
			continue
		}

		result = append(result, ensureSentenceEnding(paragraph))
	}

	return result
}

// stripHTML extracts text from HTML fragments, keeping block boundaries as paragraphs.
// Plain text only has its entities decoded.
func (c *Cleaner) stripHTML(raw string) string {
	if !c.htmlTagPattern.MatchString(raw) {
		return html.UnescapeString(raw)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return html.UnescapeString(c.htmlTagPattern.ReplaceAllString(raw, " "))
	}

	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(htmlBlockSelectors).AppendHtml(paragraphSeparator)

	return doc.Text()
}

func (c *Cleaner) stripMarkdown(text string) string {
	text = c.markdownLinkPattern.ReplaceAllString(text, "$1")
	text = c.rulePattern.ReplaceAllString(text, "")
	text = c.headingPattern.ReplaceAllString(text, "")
	text = c.quotePattern.ReplaceAllString(text, "")
	text = c.bulletPattern.ReplaceAllString(text, "")
	text = c.markdownBoldPattern.ReplaceAllString(text, "$1$2")
	text = c.markdownItalPattern.ReplaceAllString(text, "$1")
	text = c.markdownStrikePattern.ReplaceAllString(text, "$1")

	return c.markdownCodePattern.ReplaceAllString(text, "$1")
}

func hasSpeakableText(text string) bool {
	for _, char := range text {
		if unicode.IsLetter(char) || unicode.IsDigit(char) {
			return true
		}
	}

	return false
}

// ensureSentenceEnding appends a period unless text already ends a sentence.
func ensureSentenceEnding(text string) string {
	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch lastChar {
	case '.', '!', '?', '"', '\'', ')':
		return text
	default:
		return text + "."
	}
}
