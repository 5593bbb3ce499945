// contentrex/pkg/urlfilter/charset.go

package urlfilter

import (
	"fmt"
	"math/bits"
	"strings"
)

// CharSet is a set of ASCII characters. Character 0 is reserved for the end
// of the URL and only ever appears in end-of-line terms.
type CharSet struct {
	low, high uint64
}

// universalSet holds every character a URL can contain.
var universalSet = CharSet{low: ^uint64(1), high: ^uint64(0)}

func (s *CharSet) Add(c byte) {
	if c < 64 {
		s.low |= 1 << c
	} else {
		s.high |= 1 << (c - 64)
	}
}

func (s *CharSet) AddRange(lo, hi byte) {
	for c := int(lo); c <= int(hi); c++ {
		s.Add(byte(c))
	}
}

func (s CharSet) Has(c byte) bool {
	if c < 64 {
		return s.low&(1<<c) != 0
	}
	if c < 128 {
		return s.high&(1<<(c-64)) != 0
	}
	return false
}

func (s CharSet) IsEmpty() bool {
	return s.low == 0 && s.high == 0
}

func (s CharSet) IsUniversal() bool {
	return s == universalSet
}

func (s CharSet) Count() int {
	return bits.OnesCount64(s.low) + bits.OnesCount64(s.high)
}

// invert complements the set within the URL characters.
func (s *CharSet) invert() {
	s.low = ^s.low &^ 1
	s.high = ^s.high
}

// addOtherCase adds the other ASCII case of every letter in the set.
func (s *CharSet) addOtherCase() {
	for c := byte('a'); c <= 'z'; c++ {
		upper := c - 'a' + 'A'
		if s.Has(c) || s.Has(upper) {
			s.Add(c)
			s.Add(upper)
		}
	}
}

// Range is an inclusive run of characters.
type Range struct {
	Lo, Hi byte
}

// Ranges returns the set as sorted maximal runs.
func (s CharSet) Ranges() []Range {
	var out []Range
	for c := 0; c < 128; c++ {
		if !s.Has(byte(c)) {
			continue
		}
		if n := len(out); n > 0 && int(out[n-1].Hi)+1 == c {
			out[n-1].Hi = byte(c)
			continue
		}
		out = append(out, Range{Lo: byte(c), Hi: byte(c)})
	}
	return out
}

func (s CharSet) String() string {
	if s.IsUniversal() {
		return "."
	}
	ranges := s.Ranges()
	if len(ranges) == 1 && ranges[0].Lo == ranges[0].Hi {
		return quoteChar(ranges[0].Lo)
	}
	var b strings.Builder
	b.WriteByte('[')
	for _, r := range ranges {
		b.WriteString(quoteChar(r.Lo))
		if r.Hi != r.Lo {
			b.WriteByte('-')
			b.WriteString(quoteChar(r.Hi))
		}
	}
	b.WriteByte(']')
	return b.String()
}

func quoteChar(c byte) string {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return string(c)
	}
	return fmt.Sprintf("\\x%02x", c)
}
