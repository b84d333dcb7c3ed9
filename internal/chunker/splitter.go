package chunker

import (
	"strings"
	"unicode"
)

// Separators is the split cascade, largest to smallest: paragraph break, line
// break, sentence end, word boundary, then single characters as a last
// resort. The splitter prefers the largest separator that keeps every piece
// under the size bound.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Piece is one split produced by the splitter. Start is the rune offset of
// Text within the input, so Text is always input[Start : Start+len].
type Piece struct {
	Start int
	Text  string
}

// Splitter splits text into pieces of at most ChunkSize runes, with up to
// Overlap runes shared between consecutive pieces. Splitting is deterministic:
// identical input always yields identical pieces.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// span is a half-open rune range [start, end) into the source text.
type span struct {
	start, end int
}

// Split returns the pieces of text, in order. Separators interior to a piece
// are preserved; leading and trailing whitespace is trimmed off each piece
// (offsets stay exact). Pieces never exceed ChunkSize runes.
func (s *Splitter) Split(text string) []Piece {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var segments []span
	s.segment(runes, 0, len(runes), Separators, &segments)

	merged := s.merge(runes, segments)

	pieces := make([]Piece, 0, len(merged))
	for _, sp := range merged {
		sp = trimSpan(runes, sp)
		if sp.start >= sp.end {
			continue
		}
		pieces = append(pieces, Piece{
			Start: sp.start,
			Text:  string(runes[sp.start:sp.end]),
		})
	}
	return pieces
}

// segment recursively partitions runes[lo:hi] into spans no wider than
// ChunkSize, trying each separator in order. Separators stay attached to the
// preceding part, so the produced spans exactly partition the input range.
func (s *Splitter) segment(runes []rune, lo, hi int, seps []string, out *[]span) {
	if lo >= hi {
		return
	}
	if hi-lo <= s.ChunkSize {
		*out = append(*out, span{lo, hi})
		return
	}

	sep, rest := pickSeparator(runes, lo, hi, seps)
	if sep == "" {
		// Character-level fallback: fixed-width spans.
		for i := lo; i < hi; i += s.ChunkSize {
			end := i + s.ChunkSize
			if end > hi {
				end = hi
			}
			*out = append(*out, span{i, end})
		}
		return
	}

	sepRunes := []rune(sep)
	start := lo
	for i := lo; i+len(sepRunes) <= hi; i++ {
		if !runesHavePrefix(runes[i:hi], sepRunes) {
			continue
		}
		end := i + len(sepRunes)
		s.emitPart(runes, start, end, rest, out)
		start = end
		i = end - 1
	}
	if start < hi {
		s.emitPart(runes, start, hi, rest, out)
	}
}

// emitPart appends the part directly when it fits, otherwise recurses with
// the remaining, finer separators.
func (s *Splitter) emitPart(runes []rune, lo, hi int, seps []string, out *[]span) {
	if hi-lo <= s.ChunkSize {
		*out = append(*out, span{lo, hi})
		return
	}
	s.segment(runes, lo, hi, seps, out)
}

// merge greedily coalesces adjacent segments into chunks of at most ChunkSize
// runes, carrying up to Overlap runes of trailing segments into the next
// chunk.
func (s *Splitter) merge(runes []rune, segs []span) []span {
	if len(segs) == 0 {
		return nil
	}

	var out []span
	start := 0
	for i := 1; i < len(segs); i++ {
		if segs[i].end-segs[start].start <= s.ChunkSize {
			continue
		}
		prevEnd := segs[i-1].end
		out = append(out, span{segs[start].start, prevEnd})

		// Walk back over trailing segments that fit in the overlap budget
		// and still leave room for segs[i] in the next chunk.
		next := i
		for j := i - 1; j > start; j-- {
			if prevEnd-segs[j].start > s.Overlap {
				break
			}
			if segs[i].end-segs[j].start > s.ChunkSize {
				break
			}
			next = j
		}
		start = next
	}
	out = append(out, span{segs[start].start, segs[len(segs)-1].end})
	return out
}

func trimSpan(runes []rune, sp span) span {
	for sp.start < sp.end && unicode.IsSpace(runes[sp.start]) {
		sp.start++
	}
	for sp.end > sp.start && unicode.IsSpace(runes[sp.end-1]) {
		sp.end--
	}
	return sp
}

// pickSeparator returns the first separator of seps present in runes[lo:hi]
// and the separators after it for recursion. The empty separator always
// matches.
func pickSeparator(runes []rune, lo, hi int, seps []string) (string, []string) {
	text := string(runes[lo:hi])
	for i, sep := range seps {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

func runesHavePrefix(runes, prefix []rune) bool {
	if len(runes) < len(prefix) {
		return false
	}
	for i := range prefix {
		if runes[i] != prefix[i] {
			return false
		}
	}
	return true
}
