// Package segment splits synthesis text into fixed-width pieces the engine
// can handle in a single call.
package segment

import (
	"iter"
	"unicode/utf8"
)

// DefaultLength is the maximum number of characters per segment.
const DefaultLength = 5000

// Segment is one ordered slice of the input text.
type Segment struct {
	Index   int
	Content string
	Bound   int
}

// Split yields the segments of text in order. Lengths are counted in
// characters (code points), not bytes. Text at or under maxLen yields a
// single segment holding the whole text. There is no word or sentence
// awareness: segment i is exactly characters [i*maxLen, (i+1)*maxLen).
//
// The returned sequence is lazy and may be ranged over any number of times.
func Split(text string, maxLen int) iter.Seq[Segment] {
	if maxLen <= 0 {
		maxLen = DefaultLength
	}
	return func(yield func(Segment) bool) {
		if text == "" {
			return
		}
		if utf8.RuneCountInString(text) <= maxLen {
			yield(Segment{Index: 0, Content: text, Bound: maxLen})
			return
		}
		index := 0
		start := 0
		chars := 0
		for offset := range text {
			if chars == maxLen {
				if !yield(Segment{Index: index, Content: text[start:offset], Bound: maxLen}) {
					return
				}
				index++
				start = offset
				chars = 0
			}
			chars++
		}
		yield(Segment{Index: index, Content: text[start:], Bound: maxLen})
	}
}

// All materializes Split into a slice.
func All(text string, maxLen int) []Segment {
	var out []Segment
	for seg := range Split(text, maxLen) {
		out = append(out, seg)
	}
	return out
}

// Count returns how many segments Split would produce.
func Count(text string, maxLen int) int {
	if maxLen <= 0 {
		maxLen = DefaultLength
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + maxLen - 1) / maxLen
}
