// Package sample prepares benchmark texts: it normalizes the text sent to every
// vendor and derives the descriptive metadata stored with each trial.
package sample

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/tts-bench/internal/core"
)

// Length categories by word count.
const (
	LengthShort    = "short"
	LengthMedium   = "medium"
	LengthLong     = "long"
	LengthVeryLong = "very_long"

	maxShortWords  = 30
	maxMediumWords = 80
	maxLongWords   = 150
)

// Complexity weights.
const (
	baseWordLength     = 3.0
	wordLengthSpan     = 10.0
	baseSentenceLength = 10.0
	sentenceLengthSpan = 20.0
	wordWeight         = 0.4
	sentenceWeight     = 0.4
	punctuationWeight  = 0.2
	punctuationChars   = ".,!?;:()[]{}"
	wordTrimChars      = ".,!?;:"
)

const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// ErrEmptyText is returned for a sample without text.
var ErrEmptyText = fmt.Errorf("%w: sample text cannot be empty", core.ErrValidation)

// Sample is one benchmark text.
type Sample struct {
	ID       string `json:"id" toml:"id"`
	Text     string `json:"text" toml:"text"`
	Category string `json:"category" toml:"category"`
	Language string `json:"language" toml:"language"`
}

// Profile holds the metadata derived from a text.
type Profile struct {
	WordCount       int
	LengthCategory  string
	ComplexityScore float64
}

// Normalizer cleans texts so that every vendor receives identical input.
type Normalizer struct {
	whitespacePattern    *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer builds a Normalizer with its patterns compiled once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(`\s+`),
		abbreviationReplacer: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Ltd.", "Limited",
			"Inc.", "Incorporated",
		),
		punctuationReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize expands abbreviations, unifies quotes and dashes, collapses whitespace
// and ends the text with sentence punctuation.
func (n *Normalizer) Normalize(text string) string {
	text = n.abbreviationReplacer.Replace(text)
	text = n.punctuationReplacer.Replace(text)
	text = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(text, " "))

	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)
	switch lastChar {
	case '.', '!', '?':
		return text
	}

	return text + "."
}

// Prepare validates s and returns it with normalized text and a generated ID when
// it had none.
func (n *Normalizer) Prepare(s Sample, index int) (Sample, error) {
	s.Text = n.Normalize(s.Text)
	if s.Text == "" {
		return Sample{}, fmt.Errorf("sample %q: %w", s.ID, ErrEmptyText)
	}

	if s.ID == "" {
		s.ID = fmt.Sprintf("sample_%03d", index+1)
	}

	s.Language = core.NormalizeLanguage(s.Language)

	return s, nil
}

// Describe derives word count, length category and complexity from text.
func Describe(text string) Profile {
	words := strings.Fields(text)

	return Profile{
		WordCount:       len(words),
		LengthCategory:  LengthCategory(len(words)),
		ComplexityScore: complexity(text, words),
	}
}

// Metadata returns the trial metadata of s for the given iteration.
func (s Sample) Metadata(iteration int) core.TrialMetadata {
	profile := Describe(s.Text)

	return core.TrialMetadata{
		Category:        s.Category,
		LengthCategory:  profile.LengthCategory,
		WordCount:       profile.WordCount,
		ComplexityScore: profile.ComplexityScore,
		Language:        s.Language,
		Iteration:       iteration,
	}
}

// LengthCategory buckets a word count.
func LengthCategory(wordCount int) string {
	switch {
	case wordCount <= maxShortWords:
		return LengthShort
	case wordCount <= maxMediumWords:
		return LengthMedium
	case wordCount <= maxLongWords:
		return LengthLong
	default:
		return LengthVeryLong
	}
}

// complexity scores text in [0, 1] from mean word length, mean sentence length and
// punctuation density.
func complexity(text string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	letters := 0
	for _, word := range words {
		letters += utf8.RuneCountInString(strings.Trim(word, wordTrimChars))
	}

	avgWordLength := float64(letters) / float64(len(words))
	sentences := strings.Count(text, ".") + 1
	avgSentenceLength := float64(len(words)) / float64(sentences)

	punctuation := 0
	for _, char := range text {
		if strings.ContainsRune(punctuationChars, char) {
			punctuation++
		}
	}

	density := float64(punctuation) / float64(utf8.RuneCountInString(text))

	score := (avgWordLength-baseWordLength)/wordLengthSpan*wordWeight +
		(avgSentenceLength-baseSentenceLength)/sentenceLengthSpan*sentenceWeight +
		density*punctuationWeight

	return max(0, min(1, score))
}
