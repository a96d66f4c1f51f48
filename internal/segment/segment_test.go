package segment

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestShortTextIsSingleSegment(t *testing.T) {
	for _, text := range []string{"Hello", "x", strings.Repeat("a", DefaultLength)} {
		segs := All(text, DefaultLength)
		if len(segs) != 1 {
			t.Fatalf("len %d: expected 1 segment, got %d", len(text), len(segs))
		}
		if segs[0].Content != text || segs[0].Index != 0 {
			t.Fatalf("expected the whole text as segment 0")
		}
	}
}

func TestEmptyTextHasNoSegments(t *testing.T) {
	if segs := All("", DefaultLength); len(segs) != 0 {
		t.Fatalf("expected no segments, got %d", len(segs))
	}
	if Count("", DefaultLength) != 0 {
		t.Fatal("expected zero count")
	}
}

func TestTwelveThousandCharacters(t *testing.T) {
	text := strings.Repeat("abcdefghij", 1200)
	segs := All(text, DefaultLength)
	want := []int{5000, 5000, 2000}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(segs))
	}
	for i, seg := range segs {
		if seg.Index != i {
			t.Fatalf("segment %d has index %d", i, seg.Index)
		}
		if got := utf8.RuneCountInString(seg.Content); got != want[i] {
			t.Fatalf("segment %d: expected %d chars, got %d", i, want[i], got)
		}
	}
}

func TestReassemblyIsExact(t *testing.T) {
	inputs := []string{
		strings.Repeat("The quick brown fox. ", 700),
		strings.Repeat("سلام دنیا ", 1300),
		strings.Repeat("日本語のテキスト", 900) + "!",
		strings.Repeat("x", 2*DefaultLength),
		strings.Repeat("x", 2*DefaultLength+1),
	}
	for _, text := range inputs {
		var b strings.Builder
		segs := All(text, DefaultLength)
		for i, seg := range segs {
			n := utf8.RuneCountInString(seg.Content)
			if n == 0 {
				t.Fatalf("segment %d is empty", i)
			}
			if n > DefaultLength {
				t.Fatalf("segment %d exceeds bound: %d", i, n)
			}
			if i < len(segs)-1 && n != DefaultLength {
				t.Fatalf("non-final segment %d is short: %d", i, n)
			}
			b.WriteString(seg.Content)
		}
		if b.String() != text {
			t.Fatalf("reassembled text differs from input")
		}
		if len(segs) != Count(text, DefaultLength) {
			t.Fatalf("Count disagrees with Split: %d vs %d", Count(text, DefaultLength), len(segs))
		}
	}
}

func TestSplitIsRestartable(t *testing.T) {
	text := strings.Repeat("ab", 7)
	seq := Split(text, 4)
	first := collect(seq)
	second := collect(seq)
	if strings.Join(first, "|") != strings.Join(second, "|") {
		t.Fatalf("sequence changed between iterations: %v vs %v", first, second)
	}
	if strings.Join(first, "|") != "abab|abab|abab|ab" {
		t.Fatalf("unexpected split: %v", first)
	}
}

func TestSplitStopsEarly(t *testing.T) {
	seen := 0
	for range Split(strings.Repeat("a", 100), 10) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Fatalf("expected to stop after 2, got %d", seen)
	}
}

func TestNonPositiveBoundUsesDefault(t *testing.T) {
	segs := All(strings.Repeat("a", DefaultLength+1), 0)
	if len(segs) != 2 || segs[0].Bound != DefaultLength {
		t.Fatalf("expected default bound, got %d segments", len(segs))
	}
}

func collect(seq func(func(Segment) bool)) []string {
	var out []string
	for seg := range seq {
		out = append(out, seg.Content)
	}
	return out
}
