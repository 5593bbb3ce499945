// contentrex/pkg/automata/automata.go

// Package automata holds the finite automata used to compile URL filters:
// NFAs built from parsed patterns, DFAs produced by subset construction, and
// the minimization and combination passes run on them before they are lowered
// to bytecode.
//
// Both graphs are arenas: nodes live in a slice owned by the automaton and
// edges refer to other nodes by index.
package automata

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// CharCount is the size of the input alphabet. URLs are ASCII; character 0 is
// the end-of-input symbol fed to the matcher after the last character.
const CharCount = 128

// MaxActionsPerNode bounds the number of actions attached to one DFA node. The
// count is stored in 16 bits and must stay below the largest 16-bit value.
const MaxActionsPerNode = 0xFFFF - 1

// Transition moves to Target on any character in [Lo, Hi].
type Transition struct {
	Lo     byte
	Hi     byte
	Target uint32
}

// compressTransitions turns a per-character target table (-1 meaning no
// transition) into sorted, non-overlapping ranges.
func compressTransitions(targets *[CharCount]int64) []Transition {
	var out []Transition
	for ch := 0; ch < CharCount; ch++ {
		target := targets[ch]
		if target < 0 {
			continue
		}
		if n := len(out); n > 0 && int(out[n-1].Hi)+1 == ch && int64(out[n-1].Target) == target {
			out[n-1].Hi = byte(ch)
			continue
		}
		out = append(out, Transition{Lo: byte(ch), Hi: byte(ch), Target: uint32(target)})
	}
	return out
}

// unionActions returns the sorted, deduplicated union of action lists.
func unionActions(lists ...[]uint64) []uint64 {
	size := 0
	for _, l := range lists {
		size += len(l)
	}
	if size == 0 {
		return nil
	}
	out := make([]uint64, 0, size)
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedSetKey(set []uint32) string {
	buf := make([]byte, 0, 4*len(set))
	for _, v := range set {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return string(buf)
}

func actionsKey(actions []uint64) string {
	buf := make([]byte, 0, 8*len(actions))
	for _, v := range actions {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return string(buf)
}

func printableChar(c byte) string {
	switch {
	case c == 0:
		return "$"
	case c == '"' || c == '\\':
		return "\\" + string(c)
	case c < 0x20 || c >= 0x7F:
		return fmt.Sprintf("\\\\x%02x", c)
	}
	return string(c)
}
