package text_test

import (
	"strings"
	"testing"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/tts/text"
	"github.com/stretchr/testify/assert"
)

func TestCleaner_Markdown(t *testing.T) {
	t.Parallel()

	cleaner := text.NewCleaner()

	item := core.CandidateItem{
		Title: "TIL about the **harbor** archive",
		Body: "# Background\n\n" +
			"The [archive](https://example.com/a) holds *many* letters...... Dr. Smith said so!!!\n\n" +
			"> quoted line\n\n" +
			"- first point\n- second point\n\n" +
			"See https://example.com/more for details",
	}

	want := strings.Join([]string{
		"TIL about the harbor archive.",
		"Background.",
		"The archive holds many letters... Doctor Smith said so!",
		"quoted line.",
		"first point second point.",
		"See for details.",
	}, "\n\n")

	assert.Equal(t, want, cleaner.Clean(item))
}

func TestCleaner_HTML(t *testing.T) {
	t.Parallel()

	cleaner := text.NewCleaner()

	got := cleaner.CleanText("<p>First &amp; foremost.</p><p>Second<br>line</p><script>alert(1)</script>")

	assert.Equal(t, "First & foremost.\n\nSecond line.", got)
}

func TestCleaner_CleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "whitespace only", input: " \n\t ", expected: ""},
		{name: "entities in plain text", input: "Fish &amp; chips", expected: "Fish & chips."},
		{name: "smart punctuation", input: "“Hello” — she said…", expected: `"Hello" - she said...`},
		{name: "emoji only paragraph dropped", input: "Real words\n\n🙂🙂", expected: "Real words."},
		{name: "references removed", input: "As shown[1] before", expected: "As shown before."},
		{name: "abbreviations", input: "Ask Mrs. Jones, e.g. today", expected: "Ask Misses Jones, for example today."},
		{name: "existing question mark kept", input: "Why though?", expected: "Why though?"},
		{name: "repeated punctuation", input: "What?!?! No way,,, really", expected: "What? No way, really."},
		{name: "inline code", input: "Run `make build` now", expected: "Run make build now."},
	}

	cleaner := text.NewCleaner()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, cleaner.CleanText(testCase.input))
		})
	}
}

func TestCleaner_TitleOnly(t *testing.T) {
	t.Parallel()

	cleaner := text.NewCleaner()

	assert.Equal(t, "Just a title.", cleaner.Clean(core.CandidateItem{Title: "Just a title"}))
	assert.Empty(t, cleaner.Clean(core.CandidateItem{}))
}
