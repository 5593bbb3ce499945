// contentrex/pkg/urlfilter/term.go

package urlfilter

import (
	"strings"

	"rgehrsitz/contentrex/pkg/automata"
)

// Quantifier is the repetition applied to a term.
type Quantifier uint8

const (
	One Quantifier = iota
	ZeroOrOne
	ZeroOrMore
	OneOrMore
)

func (q Quantifier) String() string {
	switch q {
	case ZeroOrOne:
		return "?"
	case ZeroOrMore:
		return "*"
	case OneOrMore:
		return "+"
	}
	return ""
}

type termKind uint8

const (
	charSetTerm termKind = iota
	groupTerm
	endOfLineTerm
)

// Term is one atom of a parsed URL filter together with its quantifier: a
// character set, a group of terms, or the end-of-line assertion.
type Term struct {
	kind       termKind
	quantifier Quantifier
	chars      CharSet
	terms      []Term
}

// NewCharSetTerm returns a term matching one character of chars.
func NewCharSetTerm(chars CharSet) Term {
	return Term{kind: charSetTerm, chars: chars}
}

// NewCharTerm matches c, or both of its cases when caseSensitive is false.
func NewCharTerm(c byte, caseSensitive bool) Term {
	var chars CharSet
	chars.Add(c)
	if !caseSensitive {
		chars.addOtherCase()
	}
	return NewCharSetTerm(chars)
}

// NewGroupTerm returns a term matching terms in sequence.
func NewGroupTerm(terms []Term) Term {
	return Term{kind: groupTerm, terms: terms}
}

// EndOfLineTerm matches the end of the URL.
func EndOfLineTerm() Term {
	return Term{kind: endOfLineTerm}
}

// DotStarTerm is ".*", the prefix of every pattern that is not anchored at
// the start of the URL.
func DotStarTerm() Term {
	return Term{kind: charSetTerm, chars: universalSet, quantifier: ZeroOrMore}
}

// Quantify returns a copy of t with quantifier q.
func (t Term) Quantify(q Quantifier) Term {
	t.quantifier = q
	return t
}

func (t Term) Quantifier() Quantifier {
	return t.quantifier
}

func (t Term) IsEndOfLine() bool {
	return t.kind == endOfLineTerm
}

// IsDotStar reports whether t is ".*".
func (t Term) IsDotStar() bool {
	return t.kind == charSetTerm && t.quantifier == ZeroOrMore && t.chars.IsUniversal()
}

// MatchesAtLeastOneCharacter reports whether every match of t consumes a URL
// character.
func (t Term) MatchesAtLeastOneCharacter() bool {
	if t.quantifier == ZeroOrOne || t.quantifier == ZeroOrMore {
		return false
	}
	switch t.kind {
	case endOfLineTerm:
		return false
	case groupTerm:
		for _, term := range t.terms {
			if term.MatchesAtLeastOneCharacter() {
				return true
			}
		}
		return false
	}
	return true
}

// CanMatchEmpty reports whether t can match without consuming anything, the
// end of the URL included.
func (t Term) CanMatchEmpty() bool {
	if t.quantifier == ZeroOrOne || t.quantifier == ZeroOrMore {
		return true
	}
	switch t.kind {
	case endOfLineTerm:
		return false
	case groupTerm:
		for _, term := range t.terms {
			if !term.CanMatchEmpty() {
				return false
			}
		}
		return true
	}
	return false
}

// String returns a canonical form of the term. Two terms with the same string
// match the same language and build the same graph.
func (t Term) String() string {
	var b strings.Builder
	t.writeTo(&b)
	return b.String()
}

func (t Term) writeTo(b *strings.Builder) {
	switch t.kind {
	case endOfLineTerm:
		b.WriteByte('$')
	case groupTerm:
		b.WriteByte('(')
		for _, term := range t.terms {
			term.writeTo(b)
		}
		b.WriteByte(')')
	default:
		b.WriteString(t.chars.String())
	}
	b.WriteString(t.quantifier.String())
}

// Generate adds the term's graph to nfa starting at source and returns the
// node reached after the term. source may be shared with sibling terms, so it
// never receives edges from nodes created here.
func (t Term) Generate(nfa *automata.NFA, source uint32) uint32 {
	switch t.quantifier {
	case ZeroOrOne:
		end := t.generateAtom(nfa, source)
		if t.kind == groupTerm {
			// The group may end on a loop; skipping it must not enter that loop.
			after := nfa.CreateNode()
			nfa.AddEpsilonTransition(end, after)
			end = after
		}
		nfa.AddEpsilonTransition(source, end)
		return end
	case ZeroOrMore:
		if t.kind == charSetTerm {
			loop := nfa.CreateNode()
			nfa.AddEpsilonTransition(source, loop)
			t.addTransitions(nfa, loop, loop)
			return loop
		}
		repeatStart := nfa.CreateNode()
		nfa.AddEpsilonTransition(source, repeatStart)
		end := t.generateAtom(nfa, repeatStart)
		nfa.AddEpsilonTransition(end, repeatStart)
		return repeatStart
	case OneOrMore:
		if t.kind == charSetTerm {
			loop := nfa.CreateNode()
			t.addTransitions(nfa, source, loop)
			t.addTransitions(nfa, loop, loop)
			return loop
		}
		repeatStart := nfa.CreateNode()
		nfa.AddEpsilonTransition(source, repeatStart)
		end := t.generateAtom(nfa, repeatStart)
		nfa.AddEpsilonTransition(end, repeatStart)
		after := nfa.CreateNode()
		nfa.AddEpsilonTransition(end, after)
		return after
	}
	return t.generateAtom(nfa, source)
}

func (t Term) generateAtom(nfa *automata.NFA, source uint32) uint32 {
	switch t.kind {
	case endOfLineTerm:
		target := nfa.CreateNode()
		nfa.AddTransition(source, target, 0, 0)
		return target
	case groupTerm:
		// The group's first node is private so that a repetition looping
		// back to it cannot reach the siblings of source.
		node := nfa.CreateNode()
		nfa.AddEpsilonTransition(source, node)
		for _, term := range t.terms {
			node = term.Generate(nfa, node)
		}
		return node
	}
	target := nfa.CreateNode()
	t.addTransitions(nfa, source, target)
	return target
}

func (t Term) addTransitions(nfa *automata.NFA, from, to uint32) {
	for _, r := range t.chars.Ranges() {
		nfa.AddTransition(from, to, r.Lo, r.Hi)
	}
}
