// contentrex/pkg/automata/combiner.go

package automata

// DFACombiner merges small DFAs so the bytecode holds fewer, larger machines.
// The merged DFA visits the actions of every input DFA on the same input.
type DFACombiner struct {
	dfas []*DFA
}

// AddDFA queues a DFA for combination.
func (c *DFACombiner) AddDFA(dfa *DFA) {
	c.dfas = append(c.dfas, dfa)
}

// IsEmpty reports whether no DFA is queued.
func (c *DFACombiner) IsEmpty() bool {
	return len(c.dfas) == 0
}

// CombineDFAs drains the queue. Queued DFAs already larger than minimumSize
// are handed over as they are. The rest are merged pairwise, minimizing after
// each merge, and every result that grows past minimumSize is handed over.
// Whatever remains at the end is minimized and handed over as well.
func (c *DFACombiner) CombineDFAs(minimumSize int, handler func(*DFA)) {
	var small []*DFA
	for _, dfa := range c.dfas {
		if dfa.GraphSize() > minimumSize {
			handler(dfa)
			continue
		}
		small = append(small, dfa)
	}
	c.dfas = nil

	for len(small) > 1 {
		last := len(small) - 1
		merged := Merge(small[last-1], small[last])
		merged.Minimize()
		small = small[:last-1]
		if merged.GraphSize() > minimumSize {
			handler(merged)
			continue
		}
		small = append(small, merged)
	}
	if len(small) == 1 {
		small[0].Minimize()
		handler(small[0])
	}
}

// Merge builds the product of a and b. A product node pairs one node of each
// input, either of which may be dead, and carries the union of their actions.
func Merge(a, b *DFA) *DFA {
	type pair struct{ a, b int64 }

	out := &DFA{}
	index := make(map[pair]uint32)
	var queue []pair

	add := func(p pair) uint32 {
		if id, ok := index[p]; ok {
			return id
		}
		id := uint32(len(out.Nodes))
		out.Nodes = append(out.Nodes, DFANode{})
		index[p] = id
		queue = append(queue, p)
		var actionsA, actionsB []uint64
		if p.a >= 0 {
			actionsA = a.NodeActions(uint32(p.a))
		}
		if p.b >= 0 {
			actionsB = b.NodeActions(uint32(p.b))
		}
		out.SetNodeActions(id, unionActions(actionsA, actionsB))
		return id
	}

	out.Root = add(pair{int64(a.Root), int64(b.Root)})
	for i := 0; i < len(queue); i++ {
		p := queue[i]
		var targets [CharCount]int64
		for ch := 0; ch < CharCount; ch++ {
			next := pair{-1, -1}
			if p.a >= 0 {
				if t, ok := a.Next(uint32(p.a), byte(ch)); ok {
					next.a = int64(t)
				}
			}
			if p.b >= 0 {
				if t, ok := b.Next(uint32(p.b), byte(ch)); ok {
					next.b = int64(t)
				}
			}
			if next.a < 0 && next.b < 0 {
				targets[ch] = -1
				continue
			}
			targets[ch] = int64(add(next))
		}
		out.Nodes[i].Transitions = compressTransitions(&targets)
	}
	return out
}
