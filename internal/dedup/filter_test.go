package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd_NewThenDuplicate(t *testing.T) {
	f := New(1000, 0.01)

	assert.True(t, f.Add("http://example.com/a"))
	assert.False(t, f.Add("http://example.com/a"))
	assert.True(t, f.Add("http://example.com/b"))
	assert.Equal(t, 2, f.Len())
}

func TestAdd_NoFalseNegatives(t *testing.T) {
	f := New(10000, 0.01)

	for i := range 10000 {
		url := fmt.Sprintf("http://example.com/page/%d", i)
		assert.True(t, f.Add(url), "first add of %s", url)
	}
	for i := range 10000 {
		url := fmt.Sprintf("http://example.com/page/%d", i)
		assert.False(t, f.Add(url), "second add of %s", url)
	}
	assert.Equal(t, 10000, f.Len())
}

func TestAdd_ConcurrentSingleWinner(t *testing.T) {
	f := New(100, 0.01)

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- f.Add("http://example.com/contended")
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one goroutine may claim a URL")
}

func TestNew_DegenerateSizes(t *testing.T) {
	f := New(0, -1)
	assert.True(t, f.Add("x"))
	assert.False(t, f.Add("x"))
}
