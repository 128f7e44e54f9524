// Package dsa provides the search structures behind the raw answer archive.
package dsa

import (
	"sort"
	"strings"
)

// TextIndex is a suffix array over one text with its line offsets.
// Lookups are O(m log n) in pattern length m and text length n.
type TextIndex struct {
	text  string
	sa    []int
	lines []int // byte offset where each line starts
}

// LineMatch is one line containing a pattern (1-indexed).
type LineMatch struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// NewTextIndex builds the suffix array by prefix doubling, O(n log² n).
func NewTextIndex(text string) *TextIndex {
	idx := &TextIndex{text: text, lines: []int{0}}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			idx.lines = append(idx.lines, i+1)
		}
	}

	n := len(text)
	idx.sa = make([]int, n)
	if n == 0 {
		return idx
	}
	rank := make([]int, n)
	next := make([]int, n)
	for i := range idx.sa {
		idx.sa[i] = i
		rank[i] = int(text[i])
	}

	rankAt := func(i, k int) int {
		if i+k < n {
			return rank[i+k]
		}
		return -1
	}

	for k := 1; ; k *= 2 {
		less := func(a, b int) bool {
			if rank[a] != rank[b] {
				return rank[a] < rank[b]
			}
			return rankAt(a, k) < rankAt(b, k)
		}
		sort.Slice(idx.sa, func(i, j int) bool { return less(idx.sa[i], idx.sa[j]) })

		next[idx.sa[0]] = 0
		for i := 1; i < n; i++ {
			next[idx.sa[i]] = next[idx.sa[i-1]]
			if less(idx.sa[i-1], idx.sa[i]) {
				next[idx.sa[i]]++
			}
		}
		copy(rank, next)

		if rank[idx.sa[n-1]] == n-1 || k >= n {
			break
		}
	}
	return idx
}

// Find returns the sorted byte offsets where pattern occurs.
func (x *TextIndex) Find(pattern string) []int {
	m := len(pattern)
	if m == 0 || len(x.sa) == 0 {
		return nil
	}
	prefix := func(i int) string {
		s := x.text[x.sa[i]:]
		if len(s) > m {
			s = s[:m]
		}
		return s
	}

	n := len(x.sa)
	lo := sort.Search(n, func(i int) bool { return prefix(i) >= pattern })
	hi := sort.Search(n, func(i int) bool { return prefix(i) > pattern })

	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, x.sa[i])
	}
	sort.Ints(out)
	return out
}

// Count returns the number of occurrences of pattern.
func (x *TextIndex) Count(pattern string) int {
	return len(x.Find(pattern))
}

// LineOf maps a byte offset to its 1-indexed line number.
func (x *TextIndex) LineOf(offset int) int {
	return sort.Search(len(x.lines), func(i int) bool { return x.lines[i] > offset })
}

// Line returns line n (1-indexed) without its newline.
func (x *TextIndex) Line(n int) string {
	if n < 1 || n > len(x.lines) {
		return ""
	}
	start := x.lines[n-1]
	end := len(x.text)
	if n < len(x.lines) {
		end = x.lines[n] - 1
	}
	return strings.TrimSuffix(x.text[start:end], "\r")
}

// MatchingLines returns each line containing pattern once, in order.
// limit <= 0 means no limit.
func (x *TextIndex) MatchingLines(pattern string, limit int) []LineMatch {
	var out []LineMatch
	last := 0
	for _, off := range x.Find(pattern) {
		line := x.LineOf(off)
		if line == last {
			continue
		}
		last = line
		out = append(out, LineMatch{Line: line, Text: x.Line(line)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
