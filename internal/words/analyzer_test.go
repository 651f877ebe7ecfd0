package words

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrequencies(t *testing.T) {
	a := New(false)

	counts := a.Frequencies("Widgets are great. Widgets, widgets everywhere!")
	assert.Equal(t, map[string]int{
		"widgets":    3,
		"great":      1,
		"everywhere": 1,
	}, counts)
}

func TestFrequencies_StopWords(t *testing.T) {
	text := "the cat and the dog"

	without := New(false).Frequencies(text)
	assert.Equal(t, map[string]int{"cat": 1, "dog": 1}, without)

	with := New(true).Frequencies(text)
	assert.Equal(t, map[string]int{"the": 2, "and": 1, "cat": 1, "dog": 1}, with)
}

func TestFrequencies_LengthBounds(t *testing.T) {
	a := New(true)

	long := strings.Repeat("x", 51)
	counts := a.Frequencies("I ox " + long)
	// Single-rune and over-long tokens are dropped.
	assert.Equal(t, map[string]int{"ox": 1}, counts)
}

func TestFrequencies_PunctuationAndNumbers(t *testing.T) {
	a := New(true)

	counts := a.Frequencies("v2 release!!! ... 1234 ??? beta")
	// Pure numbers have no letter; mixed tokens survive.
	assert.Equal(t, map[string]int{"v2": 1, "release": 1, "beta": 1}, counts)
}

func TestFrequencies_Unicode(t *testing.T) {
	a := New(true)

	counts := a.Frequencies("Café café CAFÉ naïve")
	assert.Equal(t, map[string]int{"café": 3, "naïve": 1}, counts)
}

func TestFrequencies_Deterministic(t *testing.T) {
	a := New(false)
	text := "alpha beta gamma alpha beta alpha"

	first := a.Frequencies(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, a.Frequencies(text))
	}
}

func TestFrequencies_Empty(t *testing.T) {
	assert.Empty(t, New(false).Frequencies(""))
	assert.Empty(t, New(false).Frequencies("   \n\t  "))
}

func TestTop(t *testing.T) {
	counts := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}

	top := Top(counts, 3)
	assert.Equal(t, []WordCount{{"c", 5}, {"a", 2}, {"b", 2}}, top)

	all := Top(counts, 0)
	assert.Len(t, all, 4)
}
