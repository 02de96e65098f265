// Package selection scores candidate items and picks the one to narrate.
package selection

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	secondsPerHour        = 3600.0
	minAgeHours           = 0.1
	secondarySignalWeight = 0.3
	engagementLogScale    = 3.0

	shortTextCeiling   = 0.3
	longTextFloor      = 0.5
	overlongTextScore  = 0.3
	qualityBase        = 0.5
	paragraphBonus     = 0.2
	sentenceBonus      = 0.15
	uppercasePenalty   = 0.2
	urlPenalty         = 0.15
	uppercaseThreshold = 0.3
	maxURLs            = 2
	weightTolerance    = 1e-6
)

var (
	// ErrWeightsSum indicates that the configured weights do not add up to 1.
	ErrWeightsSum = errors.New("score weights must sum to 1")
	// ErrLengthBounds indicates unordered word-count bounds.
	ErrLengthBounds = errors.New("length bounds must satisfy 0 < min <= ideal_min <= ideal_max <= max")
)

var (
	urlPattern         = regexp.MustCompile(`https?://\S+`)
	leadingURLPattern  = regexp.MustCompile(`^https?://\S+`)
	paragraphSeparator = regexp.MustCompile(`\n\s*\n`)
	sentenceSeparator  = regexp.MustCompile(`[.!?]+`)
)

// Weights are the contributions of each sub-score to the total.
type Weights struct {
	Engagement     float64
	TextLength     float64
	ContentQuality float64
}

// LengthBounds are the word-count thresholds of the length score.
type LengthBounds struct {
	Min      int
	IdealMin int
	IdealMax int
	Max      int
}

// Options configures a Scorer. Zero values take the defaults.
type Options struct {
	Weights       Weights
	Length        LengthBounds
	MinWords      int
	LinkOnlyRatio float64
	// Now is the clock engagement ages are measured against. Score and
	// EngagementScore read it on every call, so repeated scores of one item
	// only match under a fixed clock. A Selector reads it once per run.
	Now           func() time.Time
}

// DefaultOptions returns the standard scoring configuration.
func DefaultOptions() Options {
	return Options{
		Weights:       Weights{Engagement: 0.4, TextLength: 0.3, ContentQuality: 0.3},
		Length:        LengthBounds{Min: 50, IdealMin: 100, IdealMax: 500, Max: 800},
		MinWords:      10,
		LinkOnlyRatio: 0.8,
		Now:           time.Now,
	}
}

// Scorer computes composite desirability scores. It holds no mutable state.
type Scorer struct {
	weights       Weights
	length        LengthBounds
	minWords      int
	linkOnlyRatio float64
	now           func() time.Time
}

// NewScorer validates opts and builds a Scorer.
func NewScorer(opts Options) (*Scorer, error) {
	defaults := DefaultOptions()

	if opts.Weights == (Weights{}) {
		opts.Weights = defaults.Weights
	}

	if opts.Length == (LengthBounds{}) {
		opts.Length = defaults.Length
	}

	if opts.MinWords == 0 {
		opts.MinWords = defaults.MinWords
	}

	if opts.LinkOnlyRatio == 0 {
		opts.LinkOnlyRatio = defaults.LinkOnlyRatio
	}

	if opts.Now == nil {
		opts.Now = defaults.Now
	}

	sum := opts.Weights.Engagement + opts.Weights.TextLength + opts.Weights.ContentQuality
	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("%w: got %.4f", ErrWeightsSum, sum)
	}

	bounds := opts.Length
	if bounds.Min <= 0 || bounds.Min > bounds.IdealMin || bounds.IdealMin > bounds.IdealMax ||
		bounds.IdealMax > bounds.Max {
		return nil, fmt.Errorf("%w: got %+v", ErrLengthBounds, bounds)
	}

	return &Scorer{
		weights:       opts.Weights,
		length:        opts.Length,
		minWords:      opts.MinWords,
		linkOnlyRatio: opts.LinkOnlyRatio,
		now:           opts.Now,
	}, nil
}

// HasUsableText reports whether item is eligible for scoring at all.
// Items need enough words across title and body and must not be a bare link.
func (s *Scorer) HasUsableText(item core.CandidateItem) bool {
	if wordCount(combinedText(item)) < s.minWords {
		return false
	}

	body := strings.TrimSpace(item.Body)
	if body == "" {
		return true
	}

	link := leadingURLPattern.FindString(body)
	if link != "" && float64(len(link)) > s.linkOnlyRatio*float64(len(body)) {
		return false
	}

	return true
}

// Score computes all sub-scores and the weighted total for item.
func (s *Scorer) Score(item core.CandidateItem) core.CandidateScore {
	return s.ScoreAt(item, s.now())
}

// ScoreAt is Score with engagement age measured at now.
func (s *Scorer) ScoreAt(item core.CandidateItem, now time.Time) core.CandidateScore {
	engagement := s.EngagementScoreAt(item, now)
	length := s.TextLengthScore(wordCount(combinedText(item)))
	quality := ContentQualityScore(qualityText(item))

	total := engagement*s.weights.Engagement +
		length*s.weights.TextLength +
		quality*s.weights.ContentQuality

	return core.CandidateScore{
		Item:                item,
		EngagementScore:     engagement,
		TextLengthScore:     length,
		ContentQualityScore: quality,
		TotalScore:          clamp01(total),
	}
}

// EngagementScore log-compresses the age-normalised engagement rate onto [0,1].
func (s *Scorer) EngagementScore(item core.CandidateItem) float64 {
	return s.EngagementScoreAt(item, s.now())
}

// EngagementScoreAt is EngagementScore with the item age measured at now.
func (s *Scorer) EngagementScoreAt(item core.CandidateItem, now time.Time) float64 {
	ageHours := (float64(now.Unix()) - float64(item.CreatedAt)) / secondsPerHour
	ageHours = math.Max(ageHours, minAgeHours)

	raw := (float64(item.PrimarySignal) + float64(item.SecondarySignal)*secondarySignalWeight) / ageHours
	raw = math.Max(raw, 0)

	return clamp01(math.Log10(raw+1) / engagementLogScale)
}

// TextLengthScore is the piecewise word-count score.
func (s *Scorer) TextLengthScore(words int) float64 {
	bounds := s.length
	count := float64(words)

	switch {
	case words <= 0:
		return 0
	case words < bounds.Min:
		return count / float64(bounds.Min) * shortTextCeiling
	case words < bounds.IdealMin:
		progress := (count - float64(bounds.Min)) / float64(bounds.IdealMin-bounds.Min)

		return shortTextCeiling + progress*(1-shortTextCeiling)
	case words <= bounds.IdealMax:
		return 1
	case words <= bounds.Max:
		progress := (count - float64(bounds.IdealMax)) / float64(bounds.Max-bounds.IdealMax)

		return 1 - progress*(1-longTextFloor)
	default:
		return overlongTextScore
	}
}

// ContentQualityScore rewards structure and penalises shouting and link spam.
func ContentQualityScore(text string) float64 {
	score := qualityBase

	if countNonEmpty(paragraphSeparator.Split(text, -1)) > 1 {
		score += paragraphBonus
	}

	if countNonEmpty(sentenceSeparator.Split(text, -1)) > 2 {
		score += sentenceBonus
	}

	if uppercaseRatio(text) > uppercaseThreshold {
		score -= uppercasePenalty
	}

	if len(urlPattern.FindAllString(text, -1)) > maxURLs {
		score -= urlPenalty
	}

	return clamp01(score)
}

func combinedText(item core.CandidateItem) string {
	return item.Title + " " + item.Body
}

// qualityText is the body when present, otherwise the title.
func qualityText(item core.CandidateItem) string {
	if strings.TrimSpace(item.Body) != "" {
		return item.Body
	}

	return item.Title
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func countNonEmpty(parts []string) int {
	count := 0

	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}

	return count
}

func uppercaseRatio(text string) float64 {
	var letters, upper int

	for _, char := range text {
		if !unicode.IsLetter(char) {
			continue
		}

		letters++

		if unicode.IsUpper(char) {
			upper++
		}
	}

	if letters == 0 {
		return 0
	}

	return float64(upper) / float64(letters)
}

func clamp01(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}

	return math.Min(math.Max(value, 0), 1)
}
