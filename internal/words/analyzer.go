// Package words computes word frequencies from extracted page text.
package words

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
)

const (
	minWordLength = 2
	maxWordLength = 50
)

// defaultStopWords are common English words excluded from frequency
// counts unless the analyzer is told to keep them.
var defaultStopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an and are as at be by for from has he in is it its of on that the
		to was will with this but they have had what said each which she do
		how their if up out many then them these so some her would make like
		into him time two more go no way could my than first been call who
		oil sit now find down day did get come made may part`) {
		defaultStopWords[w] = struct{}{}
	}
}

// Analyzer turns page text into a deterministic word frequency map.
// The zero value is not usable; construct with New.
type Analyzer struct {
	includeStopWords bool
}

// New builds an analyzer. When includeStopWords is false, common English
// stop words are dropped from the counts.
func New(includeStopWords bool) *Analyzer {
	return &Analyzer{includeStopWords: includeStopWords}
}

// Frequencies segments text on Unicode word boundaries and counts each
// surviving token. Tokens are lowercased; tokens with no letter, shorter
// than two runes or longer than fifty are dropped. The result depends
// only on the input text.
func (a *Analyzer) Frequencies(text string) map[string]int {
	counts := make(map[string]int)
	tokens := words.FromString(text)
	for tokens.Next() {
		token := strings.ToLower(tokens.Value())
		if !keepToken(token) {
			continue
		}
		if !a.includeStopWords {
			if _, stop := defaultStopWords[token]; stop {
				continue
			}
		}
		counts[token]++
	}
	return counts
}

// Top returns the n most frequent words, ties broken alphabetically so
// the order is stable across runs.
func Top(counts map[string]int, n int) []WordCount {
	out := make([]WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// WordCount pairs a word with its frequency.
type WordCount struct {
	Word  string
	Count int
}

// keepToken reports whether a segmented token counts as a word: at least
// one letter, and a rune length within bounds. Pure punctuation and
// whitespace segments fail the letter check.
func keepToken(token string) bool {
	n := utf8.RuneCountInString(token)
	if n < minWordLength || n > maxWordLength {
		return false
	}
	for _, r := range token {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
