package dsa

import (
	"sort"
	"strings"
)

// SuffixArray answers substring queries over a fixed text in O(m log n).
// Built per chunk, so n stays small.
type SuffixArray struct {
	text string
	sa   []int
}

// BuildSuffixArray constructs the array by prefix doubling.
func BuildSuffixArray(text string) *SuffixArray {
	n := len(text)
	s := &SuffixArray{text: text, sa: make([]int, n)}
	if n == 0 {
		return s
	}

	rank := make([]int, n)
	tmp := make([]int, n)
	for i := 0; i < n; i++ {
		s.sa[i] = i
		rank[i] = int(text[i])
	}

	for k := 1; ; k *= 2 {
		second := func(i int) int {
			if i+k < n {
				return rank[i+k]
			}
			return -1
		}
		less := func(a, b int) bool {
			if rank[a] != rank[b] {
				return rank[a] < rank[b]
			}
			return second(a) < second(b)
		}
		sort.Slice(s.sa, func(i, j int) bool { return less(s.sa[i], s.sa[j]) })

		tmp[s.sa[0]] = 0
		for i := 1; i < n; i++ {
			tmp[s.sa[i]] = tmp[s.sa[i-1]]
			if less(s.sa[i-1], s.sa[i]) {
				tmp[s.sa[i]]++
			}
		}
		copy(rank, tmp)

		if rank[s.sa[n-1]] == n-1 || k >= n {
			break
		}
	}
	return s
}

// Search returns every offset where pattern occurs, ascending.
func (s *SuffixArray) Search(pattern string) []int {
	lo, hi := s.bounds(pattern)
	if lo >= hi {
		return nil
	}
	out := make([]int, hi-lo)
	copy(out, s.sa[lo:hi])
	sort.Ints(out)
	return out
}

// Count returns the number of occurrences of pattern.
func (s *SuffixArray) Count(pattern string) int {
	lo, hi := s.bounds(pattern)
	return hi - lo
}

// Contains reports whether pattern occurs at least once.
func (s *SuffixArray) Contains(pattern string) bool {
	return s.Count(pattern) > 0
}

// bounds returns the half-open range of suffixes that start with pattern.
func (s *SuffixArray) bounds(pattern string) (int, int) {
	if pattern == "" {
		return 0, 0
	}
	m := len(pattern)
	prefix := func(i int) string {
		suffix := s.text[s.sa[i]:]
		if len(suffix) > m {
			return suffix[:m]
		}
		return suffix
	}
	lo := sort.Search(len(s.sa), func(i int) bool {
		return strings.Compare(prefix(i), pattern) >= 0
	})
	hi := sort.Search(len(s.sa), func(i int) bool {
		return strings.Compare(prefix(i), pattern) > 0
	})
	return lo, hi
}
