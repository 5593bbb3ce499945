// contentrex/pkg/urlfilter/parser.go

package urlfilter

// ParseStatus is the outcome of parsing a URL filter.
type ParseStatus int

const (
	Ok ParseStatus = iota
	MatchesEverything
	NonASCII
	UnsupportedCharacterClass
	BackReference
	MisplacedStartOfLine
	WordBoundary
	AtomCharacter
	Group
	Disjunction
	MisplacedEndOfLine
	InvalidQuantifier
	YarrError
)

var statusStrings = map[ParseStatus]string{
	Ok:                        "Ok",
	MatchesEverything:         "Matches everything.",
	NonASCII:                  "Only ASCII characters are supported in pattern.",
	UnsupportedCharacterClass: "Character class is not supported.",
	BackReference:             "Patterns cannot contain backreferences.",
	MisplacedStartOfLine:      "Start of line assertion can only appear as the first term in a filter.",
	WordBoundary:              "Word boundaries assertions are not supported yet.",
	AtomCharacter:             "Builtins character class atoms are not supported yet.",
	Group:                     "Groups are not supported yet.",
	Disjunction:               "Disjunctions are not supported yet.",
	MisplacedEndOfLine:        "The end of line assertion must be the last term in an expression.",
	InvalidQuantifier:         "Arbitrary atom repetitions are not supported.",
	YarrError:                 "Syntax error in regular expression.",
}

func (s ParseStatus) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return "Unknown parse status."
}

// Parser feeds URL filters into a CombinedURLFilters.
type Parser struct {
	filters *CombinedURLFilters
}

func NewParser(filters *CombinedURLFilters) *Parser {
	return &Parser{filters: filters}
}

// AddPattern parses pattern and, when it is Ok, adds it to the combined
// filters under actionID. Patterns that match every URL are reported as
// MatchesEverything and are not added; the caller decides what to do with
// their actions.
func (p *Parser) AddPattern(pattern string, caseSensitive bool, actionID uint64) ParseStatus {
	terms, status := ParsePattern(pattern, caseSensitive)
	if status != Ok {
		return status
	}
	p.filters.AddPattern(actionID, terms)
	return Ok
}

// ParsePattern turns a URL filter into its term sequence. Patterns that are
// not anchored with ^ start with ".*"; repeated ".*" are collapsed and
// trailing terms that may match nothing are dropped, since they cannot change
// whether a URL matches.
func ParsePattern(pattern string, caseSensitive bool) ([]Term, ParseStatus) {
	for i := 0; i < len(pattern); i++ {
		switch {
		case pattern[i] >= 0x80:
			return nil, NonASCII
		case pattern[i] == 0:
			return nil, YarrError
		}
	}
	if pattern == "" {
		return nil, MatchesEverything
	}

	pp := &patternParser{pattern: pattern, caseSensitive: caseSensitive}
	if pp.peek() == '^' {
		pp.anchored = true
		pp.pos++
	}
	terms, status := pp.parseSequence(0)
	if status != Ok {
		return nil, status
	}

	if !pp.anchored {
		terms = append([]Term{DotStarTerm()}, terms...)
	}
	collapsed := terms[:0]
	for _, term := range terms {
		if term.IsDotStar() && len(collapsed) > 0 && collapsed[len(collapsed)-1].IsDotStar() {
			continue
		}
		collapsed = append(collapsed, term)
	}
	terms = collapsed
	for len(terms) > 0 && terms[len(terms)-1].CanMatchEmpty() {
		terms = terms[:len(terms)-1]
	}

	for _, term := range terms {
		if term.MatchesAtLeastOneCharacter() {
			return terms, Ok
		}
	}
	return nil, MatchesEverything
}

type patternParser struct {
	pattern       string
	pos           int
	caseSensitive bool
	anchored      bool
}

func (p *patternParser) peek() byte {
	if p.pos < len(p.pattern) {
		return p.pattern[p.pos]
	}
	return 0
}

func (p *patternParser) atEnd() bool {
	return p.pos >= len(p.pattern)
}

// parseSequence reads terms until the end of the pattern or, inside a group,
// the closing parenthesis, which is left unconsumed.
func (p *patternParser) parseSequence(depth int) ([]Term, ParseStatus) {
	var terms []Term
	for !p.atEnd() {
		c := p.peek()
		var term Term
		switch c {
		case ')':
			if depth == 0 {
				return nil, YarrError
			}
			return terms, Ok
		case '^':
			return nil, MisplacedStartOfLine
		case '$':
			if depth > 0 || p.pos != len(p.pattern)-1 {
				return nil, MisplacedEndOfLine
			}
			p.pos++
			return append(terms, EndOfLineTerm()), Ok
		case '|':
			return nil, Disjunction
		case '*', '+', '?':
			return nil, YarrError
		case '{':
			return nil, InvalidQuantifier
		case '(':
			group, status := p.parseGroup(depth)
			if status != Ok {
				return nil, status
			}
			quantifier, status := p.parseQuantifier()
			if status != Ok {
				return nil, status
			}
			switch {
			case len(group) == 0:
				// An empty group matches the empty string whatever its quantifier.
			case quantifier == One:
				terms = append(terms, group...)
			default:
				terms = append(terms, NewGroupTerm(group).Quantify(quantifier))
			}
			continue
		case '[':
			chars, status := p.parseClass()
			if status != Ok {
				return nil, status
			}
			term = NewCharSetTerm(chars)
		case '.':
			p.pos++
			term = NewCharSetTerm(universalSet)
		case '\\':
			chars, status := p.parseEscape(false)
			if status != Ok {
				return nil, status
			}
			term = NewCharSetTerm(chars)
		default:
			p.pos++
			term = NewCharTerm(c, p.caseSensitive)
		}

		quantifier, status := p.parseQuantifier()
		if status != Ok {
			return nil, status
		}
		terms = append(terms, term.Quantify(quantifier))
	}
	if depth > 0 {
		return nil, YarrError
	}
	return terms, Ok
}

func (p *patternParser) parseGroup(depth int) ([]Term, ParseStatus) {
	p.pos++
	if p.peek() == '?' {
		p.pos++
		if p.peek() != ':' {
			// Lookarounds and named groups.
			return nil, Group
		}
		p.pos++
	}
	group, status := p.parseSequence(depth + 1)
	if status != Ok {
		return nil, status
	}
	if p.peek() != ')' {
		return nil, YarrError
	}
	p.pos++
	return group, Ok
}

// parseQuantifier reads an optional *, + or ? and its lazy suffix.
func (p *patternParser) parseQuantifier() (Quantifier, ParseStatus) {
	quantifier := One
	switch p.peek() {
	case '*':
		quantifier = ZeroOrMore
	case '+':
		quantifier = OneOrMore
	case '?':
		quantifier = ZeroOrOne
	case '{':
		return One, InvalidQuantifier
	}
	if quantifier == One {
		return One, Ok
	}
	p.pos++
	if p.peek() == '?' {
		p.pos++
	}
	switch p.peek() {
	case '*', '+', '?':
		return One, YarrError
	case '{':
		return One, InvalidQuantifier
	}
	return quantifier, Ok
}

// parseClass reads a bracketed character class.
func (p *patternParser) parseClass() (CharSet, ParseStatus) {
	var chars CharSet
	p.pos++
	inverted := false
	if p.peek() == '^' {
		inverted = true
		p.pos++
	}
	for {
		if p.atEnd() {
			return CharSet{}, YarrError
		}
		// "[]" matches nothing and "[^]" anything.
		if p.peek() == ']' {
			p.pos++
			break
		}

		lo, status := p.parseClassAtom()
		if status != Ok {
			return CharSet{}, status
		}
		if p.peek() == '-' && p.pos+1 < len(p.pattern) && p.pattern[p.pos+1] != ']' {
			p.pos++
			hi, status := p.parseClassAtom()
			if status != Ok {
				return CharSet{}, status
			}
			if hi.Count() != 1 || lo.Count() != 1 {
				// Ranges between builtin classes are rejected earlier.
				return CharSet{}, YarrError
			}
			loChar, hiChar := lo.Ranges()[0].Lo, hi.Ranges()[0].Lo
			if loChar > hiChar {
				return CharSet{}, YarrError
			}
			chars.AddRange(loChar, hiChar)
			continue
		}
		chars.low |= lo.low
		chars.high |= lo.high
	}

	if !p.caseSensitive {
		chars.addOtherCase()
	}
	if inverted {
		chars.invert()
	}
	return chars, Ok
}

func (p *patternParser) parseClassAtom() (CharSet, ParseStatus) {
	c := p.peek()
	if c == '\\' {
		return p.parseEscape(true)
	}
	p.pos++
	var chars CharSet
	chars.Add(c)
	return chars, Ok
}

// parseEscape reads a backslash escape. Builtin classes are rejected; other
// escapes stand for a single character.
func (p *patternParser) parseEscape(inClass bool) (CharSet, ParseStatus) {
	p.pos++
	if p.atEnd() {
		return CharSet{}, YarrError
	}
	c := p.peek()
	p.pos++

	var chars CharSet
	switch c {
	case 'd', 'D', 'w', 'W', 's', 'S':
		if inClass {
			return CharSet{}, UnsupportedCharacterClass
		}
		return CharSet{}, AtomCharacter
	case 'b', 'B':
		if inClass && c == 'b' {
			chars.Add('\b')
			return chars, Ok
		}
		return CharSet{}, WordBoundary
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if inClass {
			return CharSet{}, YarrError
		}
		return CharSet{}, BackReference
	case 'n':
		chars.Add('\n')
	case 't':
		chars.Add('\t')
	case 'r':
		chars.Add('\r')
	case 'f':
		chars.Add('\f')
	case 'v':
		chars.Add('\v')
	case '0':
		// NUL is the end-of-URL marker and never part of a URL.
		return CharSet{}, YarrError
	default:
		chars.Add(c)
	}
	if !inClass && !p.caseSensitive {
		chars.addOtherCase()
	}
	return chars, Ok
}
