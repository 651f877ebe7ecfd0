// Package dedup implements the two-layer visited-URL membership test:
// a Bloom filter in front of an exact set.
package dedup

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Filter is a session-scoped visited set over normalized URLs.
//
// The Bloom layer gives a cheap no-false-negative membership check; the
// exact set resolves Bloom false positives. Add is linearizable, so two
// workers discovering the same link cannot both see "new".
type Filter struct {
	mu        sync.Mutex
	bits      *bitset.BitSet
	m         uint64
	k         uint64
	exact     map[string]struct{}
	lookups   uint64
	bloomHits uint64
}

// New sizes the filter for capacity items at the target false-positive
// rate. Rate defaults to 0.01 when out of range.
func New(capacity int, falsePositiveRate float64) *Filter {
	if capacity < 1 {
		capacity = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := float64(capacity)
	m := uint64(math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint64(math.Round(float64(m) / n * math.Ln2))
	if k == 0 {
		k = 1
	}
	return &Filter{
		bits:  bitset.New(uint(m)),
		m:     m,
		k:     k,
		exact: make(map[string]struct{}, capacity),
	}
}

// Add inserts url and reports whether it was newly added.
func (f *Filter) Add(url string) bool {
	h := xxhash.Sum64String(url)
	h1 := h >> 32
	h2 := h&0xffffffff | 1

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++

	maybeSeen := true
	for i := uint64(0); i < f.k; i++ {
		idx := uint((h1 + i*h2) % f.m)
		if !f.bits.Test(idx) {
			maybeSeen = false
		}
		f.bits.Set(idx)
	}

	if maybeSeen {
		f.bloomHits++
		// Bloom hit: only the exact set can say for sure.
		if _, ok := f.exact[url]; ok {
			return false
		}
	}
	f.exact[url] = struct{}{}
	return true
}

// Len returns the number of distinct URLs added.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exact)
}

// Stats reports lookup and Bloom-hit counts, for health snapshots.
func (f *Filter) Stats() (lookups, bloomHits uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, f.bloomHits
}
