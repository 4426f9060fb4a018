// Package span defines byte positions and ranges into Candy source text.
package span

import "fmt"

// Position is a 0-based byte offset into a module's source.
type Position int

// Span is a half-open byte range [Start, End) into a module's source.
type Span struct {
	Start Position
	End   Position
}

// New builds a Span, panicking if the range is inverted.
func New(start, end Position) Span {
	if start > end {
		panic(fmt.Sprintf("span: start %d after end %d", start, end))
	}
	return Span{Start: start, End: end}
}

// At returns the zero-width span at offset p.
func At(p Position) Span {
	return Span{Start: p, End: p}
}

// Len reports the number of bytes the span covers.
func (s Span) Len() int {
	return int(s.End - s.Start)
}

// Covers reports whether s fully contains other.
func (s Span) Covers(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

// Join returns the smallest span covering both s and other.
func (s Span) Join(other Span) Span {
	start := s.Start
	if other.Start < start {
		start = other.Start
	}
	end := s.End
	if other.End > end {
		end = other.End
	}
	return Span{Start: start, End: end}
}

// Slice returns the substring of source covered by the span.
func (s Span) Slice(source string) string {
	return source[s.Start:s.End]
}

func (s Span) String() string {
	return fmt.Sprintf("%d..%d", s.Start, s.End)
}
