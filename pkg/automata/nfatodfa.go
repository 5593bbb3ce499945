// contentrex/pkg/automata/nfatodfa.go

package automata

import (
	"slices"
)

// subsetConverter runs the subset construction. DFA node i stands for the
// epsilon-closed set subsets[i] of NFA nodes; sets are canonicalized by their
// sorted node IDs so identical NFAs always produce identical DFAs.
type subsetConverter struct {
	nfa     *NFA
	dfa     *DFA
	subsets [][]uint32
	index   map[string]uint32

	visited []uint32
	epoch   uint32
	stack   []uint32
}

// NFAToDFA converts an NFA into an equivalent DFA. Nodes are numbered in
// breadth-first discovery order with the root at index 0. Each DFA node carries
// the union of the actions of the NFA nodes it stands for.
func NFAToDFA(nfa *NFA) *DFA {
	c := &subsetConverter{
		nfa:     nfa,
		dfa:     &DFA{},
		index:   make(map[string]uint32),
		visited: make([]uint32, len(nfa.Nodes)),
	}

	c.dfa.Root = c.addState(c.closure([]uint32{nfa.Root}))

	var moves [CharCount][]uint32
	var targets [CharCount]int64
	for i := 0; i < len(c.subsets); i++ {
		for ch := range moves {
			moves[ch] = moves[ch][:0]
		}
		for _, s := range c.subsets[i] {
			for _, tr := range nfa.Nodes[s].Transitions {
				for ch := int(tr.Lo); ch <= int(tr.Hi); ch++ {
					moves[ch] = append(moves[ch], tr.Target)
				}
			}
		}

		// Characters usually share move sets; only close each distinct set once.
		seen := make(map[string]uint32)
		for ch := 0; ch < CharCount; ch++ {
			targets[ch] = -1
			if len(moves[ch]) == 0 {
				continue
			}
			slices.Sort(moves[ch])
			moves[ch] = slices.Compact(moves[ch])
			key := sortedSetKey(moves[ch])
			target, ok := seen[key]
			if !ok {
				target = c.addState(c.closure(moves[ch]))
				seen[key] = target
			}
			targets[ch] = int64(target)
		}
		c.dfa.Nodes[i].Transitions = compressTransitions(&targets)
	}

	return c.dfa
}

func (c *subsetConverter) closure(seed []uint32) []uint32 {
	c.epoch++
	if c.epoch == 0 {
		clear(c.visited)
		c.epoch = 1
	}

	out := make([]uint32, 0, len(seed))
	stack := c.stack[:0]
	for _, s := range seed {
		if c.visited[s] != c.epoch {
			c.visited[s] = c.epoch
			stack = append(stack, s)
		}
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, s)
		for _, target := range c.nfa.Nodes[s].Epsilon {
			if c.visited[target] != c.epoch {
				c.visited[target] = c.epoch
				stack = append(stack, target)
			}
		}
	}
	c.stack = stack

	slices.Sort(out)
	return out
}

func (c *subsetConverter) addState(subset []uint32) uint32 {
	key := sortedSetKey(subset)
	if id, ok := c.index[key]; ok {
		return id
	}

	id := uint32(len(c.dfa.Nodes))
	c.dfa.Nodes = append(c.dfa.Nodes, DFANode{})
	c.subsets = append(c.subsets, subset)
	c.index[key] = id

	lists := make([][]uint64, 0, len(subset))
	for _, s := range subset {
		if actions := c.nfa.Nodes[s].Actions; len(actions) > 0 {
			lists = append(lists, actions)
		}
	}
	c.dfa.SetNodeActions(id, unionActions(lists...))
	return id
}
