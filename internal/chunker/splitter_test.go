package chunker

import (
	"strings"
	"testing"
)

func TestSplit_PrefersParagraphBreaks(t *testing.T) {
	s := &Splitter{ChunkSize: 30, Overlap: 0}
	text := "first paragraph here\n\nsecond paragraph here"

	pieces := s.Split(text)
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %+v", len(pieces), pieces)
	}
	if pieces[0].Text != "first paragraph here" {
		t.Errorf("piece 0 = %q", pieces[0].Text)
	}
	if pieces[1].Text != "second paragraph here" {
		t.Errorf("piece 1 = %q", pieces[1].Text)
	}
}

func TestSplit_OffsetsAreExact(t *testing.T) {
	s := &Splitter{ChunkSize: 25, Overlap: 5}
	text := "one two three. four five six. seven eight nine ten eleven"

	runes := []rune(text)
	for _, p := range s.Split(text) {
		got := string(runes[p.Start : p.Start+len([]rune(p.Text))])
		if got != p.Text {
			t.Errorf("offset %d does not locate piece: got %q, want %q", p.Start, got, p.Text)
		}
	}
}

func TestSplit_RespectsSizeBound(t *testing.T) {
	s := &Splitter{ChunkSize: 20, Overlap: 2}
	text := strings.Repeat("lorem ipsum dolor sit amet ", 10)

	for _, p := range s.Split(text) {
		if n := len([]rune(p.Text)); n > 20 {
			t.Errorf("piece of %d runes exceeds bound: %q", n, p.Text)
		}
	}
}

func TestSplit_LongWordFallsBackToCharacters(t *testing.T) {
	s := &Splitter{ChunkSize: 8, Overlap: 0}
	text := "abcdefghijklmnopqrstuvwxyz"

	pieces := s.Split(text)
	if len(pieces) != 4 {
		t.Fatalf("expected 4 character-split pieces, got %d: %+v", len(pieces), pieces)
	}
	if pieces[0].Text != "abcdefgh" {
		t.Errorf("piece 0 = %q", pieces[0].Text)
	}
}

func TestSplit_OverlapCarriesTrailingWords(t *testing.T) {
	s := &Splitter{ChunkSize: 12, Overlap: 5}
	text := "aa bb cc dd ee ff"

	pieces := s.Split(text)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %+v", pieces)
	}
	for i := 1; i < len(pieces); i++ {
		if pieces[i].Start >= pieces[i-1].Start+len([]rune(pieces[i-1].Text)) {
			continue // no overlap for this boundary, allowed
		}
		// Overlapping region must be bounded.
		overlap := pieces[i-1].Start + len([]rune(pieces[i-1].Text)) - pieces[i].Start
		if overlap > 5 {
			t.Errorf("overlap of %d runes exceeds configured 5", overlap)
		}
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	s := &Splitter{ChunkSize: 10, Overlap: 2}
	if pieces := s.Split(""); pieces != nil {
		t.Errorf("expected nil for empty input, got %+v", pieces)
	}
}
