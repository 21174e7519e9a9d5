// Package quality scores recovered page text. Scores are diagnostic only:
// the extraction pipeline never falls back because of a low score.
package quality

import (
	"math"
	"strings"
	"unicode"
)

type Report struct {
	Quality   float64  `json:"quality"`
	WordCount int      `json:"word_count"`
	Reasons   []string `json:"reasons,omitempty"`
}

func CountWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// Score rates text in [0,1]. Pages under minWords are penalised but not zeroed.
func Score(text string, minWords int) Report {
	clean := normalize(text)
	wc := CountWords(clean)

	total := float64(len([]rune(clean)))
	if total == 0 {
		return Report{Quality: 0, Reasons: []string{"empty_text"}}
	}

	alphaRatio := float64(countIf(clean, unicode.IsLetter)) / total
	digitRatio := float64(countIf(clean, unicode.IsDigit)) / total
	garbageRatio := float64(countGarbage(clean)) / total

	score := 1.0
	var reasons []string

	if wc < minWords {
		penalty := 0.30
		if wc < minWords/2 {
			penalty = 0.45
		}
		score -= penalty
		reasons = append(reasons, "low_word_count")
	}

	// Math-heavy pages have few letters; that is fine.
	if alphaRatio < 0.25 && digitRatio <= 0.20 {
		score -= 0.35
		reasons = append(reasons, "low_alpha_ratio")
	}

	if garbageRatio > 0.01 {
		score -= math.Min(0.50, garbageRatio*50)
		reasons = append(reasons, "garbage_chars")
	}

	if scrambledRatio(clean) > 0.30 {
		score -= 0.25
		reasons = append(reasons, "scrambled_text")
	}

	return Report{
		Quality:   math.Round(clamp(score, 0, 1)*100) / 100,
		WordCount: wc,
		Reasons:   reasons,
	}
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// scrambledRatio is the share of one-character "words", typical of text
// layers that place every glyph separately.
func scrambledRatio(s string) float64 {
	words := strings.Fields(s)
	if len(words) == 0 {
		return 0
	}
	single := 0
	for _, w := range words {
		if len([]rune(w)) == 1 {
			single++
		}
	}
	return float64(single) / float64(len(words))
}

func countIf(s string, pred func(rune) bool) int {
	n := 0
	for _, r := range s {
		if pred(r) {
			n++
		}
	}
	return n
}

func countGarbage(s string) int {
	n := 0
	for _, r := range s {
		if r == '�' || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			n++
		}
	}
	return n
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
