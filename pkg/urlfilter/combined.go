// contentrex/pkg/urlfilter/combined.go

package urlfilter

import (
	"unsafe"

	"rgehrsitz/contentrex/pkg/automata"
)

type prefixTreeEdge struct {
	term  Term
	child *prefixTreeVertex
}

type prefixTreeVertex struct {
	edges   []prefixTreeEdge
	index   map[string]int
	actions []uint64
}

func (v *prefixTreeVertex) child(term Term) *prefixTreeVertex {
	key := term.String()
	if i, ok := v.index[key]; ok {
		return v.edges[i].child
	}
	if v.index == nil {
		v.index = make(map[string]int)
	}
	child := &prefixTreeVertex{}
	v.index[key] = len(v.edges)
	v.edges = append(v.edges, prefixTreeEdge{term: term, child: child})
	return child
}

// CombinedURLFilters merges parsed filters into a prefix tree of terms, so
// that filters sharing a prefix share its graph, and turns the tree into
// NFAs.
type CombinedURLFilters struct {
	root *prefixTreeVertex
}

func NewCombinedURLFilters() *CombinedURLFilters {
	return &CombinedURLFilters{root: &prefixTreeVertex{}}
}

func (c *CombinedURLFilters) rootVertex() *prefixTreeVertex {
	if c.root == nil {
		c.root = &prefixTreeVertex{}
	}
	return c.root
}

// IsEmpty reports whether no pattern is pending.
func (c *CombinedURLFilters) IsEmpty() bool {
	return c.root == nil || (len(c.root.edges) == 0 && len(c.root.actions) == 0)
}

// AddPattern records that a URL matching terms triggers actionID.
func (c *CombinedURLFilters) AddPattern(actionID uint64, terms []Term) {
	vertex := c.rootVertex()
	for _, term := range terms {
		vertex = vertex.child(term)
	}
	for _, existing := range vertex.actions {
		if existing == actionID {
			return
		}
	}
	vertex.actions = append(vertex.actions, actionID)
}

// AddDomain records a domain condition. The domain is taken literally and
// must match the whole host. A leading '*' also accepts every subdomain:
// "*example.org" matches "example.org" and "bugs.example.org".
func (c *CombinedURLFilters) AddDomain(actionID uint64, domain string) {
	if len(domain) > 0 && domain[0] == '*' {
		withDot := make([]Term, 0, len(domain)+2)
		withDot = append(withDot, DotStarTerm(), NewCharTerm('.', true))
		anchored := make([]Term, 0, len(domain))
		for i := 1; i < len(domain); i++ {
			withDot = append(withDot, NewCharTerm(domain[i], true))
			anchored = append(anchored, NewCharTerm(domain[i], true))
		}
		c.AddPattern(actionID, append(withDot, EndOfLineTerm()))
		c.AddPattern(actionID, append(anchored, EndOfLineTerm()))
		return
	}

	anchored := make([]Term, 0, len(domain)+1)
	for i := 0; i < len(domain); i++ {
		anchored = append(anchored, NewCharTerm(domain[i], true))
	}
	c.AddPattern(actionID, append(anchored, EndOfLineTerm()))
}

// MemoryUsed estimates the bytes held by the prefix tree.
func (c *CombinedURLFilters) MemoryUsed() int {
	if c.root == nil {
		return 0
	}
	size := 0
	stack := []*prefixTreeVertex{c.root}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size += int(unsafe.Sizeof(*v)) + cap(v.actions)*8 + cap(v.edges)*int(unsafe.Sizeof(prefixTreeEdge{}))
		for _, edge := range v.edges {
			size += cap(edge.term.terms) * int(unsafe.Sizeof(Term{}))
			stack = append(stack, edge.child)
		}
	}
	return size
}

type processFrame struct {
	vertex *prefixTreeVertex
	// term leads from the previous frame's vertex to vertex.
	term     Term
	node     uint32
	nextEdge int
}

// ProcessNFAs walks the prefix tree depth first and hands handler NFAs that
// together carry every pattern. An NFA stops growing once it holds maxSize
// nodes; the next one starts by rebuilding, without actions, the path to the
// vertex the walk is at. Each action appears in exactly one NFA. The tree is
// empty afterwards.
func (c *CombinedURLFilters) ProcessNFAs(maxSize int, handler func(*automata.NFA)) {
	root := c.rootVertex()
	nfa := automata.NewNFA()
	hasActions := len(root.actions) > 0
	nfa.AddActions(nfa.Root, root.actions...)

	stack := []processFrame{{vertex: root, node: nfa.Root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.nextEdge == len(top.vertex.edges) {
			stack = stack[:len(stack)-1]
			continue
		}
		edge := top.vertex.edges[top.nextEdge]
		top.nextEdge++

		if hasActions && nfa.GraphSize() >= maxSize {
			handler(nfa)
			nfa = automata.NewNFA()
			hasActions = false
			stack[0].node = nfa.Root
			for i := 1; i < len(stack); i++ {
				stack[i].node = stack[i].term.Generate(nfa, stack[i-1].node)
			}
		}

		node := edge.term.Generate(nfa, stack[len(stack)-1].node)
		if len(edge.child.actions) > 0 {
			nfa.AddActions(node, edge.child.actions...)
			hasActions = true
		}
		stack = append(stack, processFrame{vertex: edge.child, term: edge.term, node: node})
	}
	if hasActions {
		handler(nfa)
	}

	c.root = &prefixTreeVertex{}
}
