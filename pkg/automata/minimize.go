// contentrex/pkg/automata/minimize.go

package automata

import (
	"slices"
)

// refinablePartition is a partition of the integers [0, n) that can be split
// by marking elements. Elements of set s occupy elems[first[s]:past[s]] and
// the first marked[s] of them are the marked ones.
type refinablePartition struct {
	sets  int
	elems []int32
	loc   []int32
	set   []int32
	first []int32
	past  []int32

	marked  []int32
	touched []int32
}

func newRefinablePartition(n int, scratch int) *refinablePartition {
	p := &refinablePartition{
		elems:   make([]int32, n),
		loc:     make([]int32, n),
		set:     make([]int32, n),
		first:   make([]int32, n+1),
		past:    make([]int32, n+1),
		marked:  make([]int32, scratch),
		touched: make([]int32, 0, scratch),
	}
	for i := 0; i < n; i++ {
		p.elems[i] = int32(i)
		p.loc[i] = int32(i)
	}
	if n > 0 {
		p.sets = 1
		p.past[0] = int32(n)
	}
	return p
}

func (p *refinablePartition) mark(e int32) {
	s := p.set[e]
	i := p.loc[e]
	j := p.first[s] + p.marked[s]
	if i < j {
		return
	}
	p.elems[i] = p.elems[j]
	p.loc[p.elems[i]] = i
	p.elems[j] = e
	p.loc[e] = j
	if p.marked[s] == 0 {
		p.touched = append(p.touched, s)
	}
	p.marked[s]++
}

// split separates the marked elements of every touched set into a new set.
// The smaller half always gets the new index.
func (p *refinablePartition) split() {
	for len(p.touched) > 0 {
		s := p.touched[len(p.touched)-1]
		p.touched = p.touched[:len(p.touched)-1]
		j := p.first[s] + p.marked[s]
		if j == p.past[s] {
			p.marked[s] = 0
			continue
		}
		z := int32(p.sets)
		if p.marked[s] <= p.past[s]-j {
			p.first[z] = p.first[s]
			p.past[z] = j
			p.first[s] = j
		} else {
			p.past[z] = p.past[s]
			p.first[z] = j
			p.past[s] = j
		}
		for i := p.first[z]; i < p.past[z]; i++ {
			p.set[p.elems[i]] = z
		}
		p.marked[s] = 0
		p.marked[z] = 0
		p.sets++
	}
}

// byteClasses groups characters that no transition of the DFA tells apart, so
// the minimizer works on one label per class instead of one per character.
func byteClasses(d *DFA) (classOf [CharCount]uint8, representatives []byte) {
	var boundary [CharCount + 1]bool
	for i := range d.Nodes {
		for _, tr := range d.Nodes[i].Transitions {
			boundary[tr.Lo] = true
			boundary[int(tr.Hi)+1] = true
		}
	}
	class := -1
	for ch := 0; ch < CharCount; ch++ {
		if ch == 0 || boundary[ch] {
			class++
			representatives = append(representatives, byte(ch))
		}
		classOf[ch] = uint8(class)
	}
	return classOf, representatives
}

// Minimize merges equivalent nodes in place. Two nodes are equivalent when
// they carry the same action set and every input leads them to equivalent
// nodes. Nodes that are unreachable, or from which no action can be reached,
// are dropped. The result is renumbered breadth-first from the root.
//
// The refinement follows Valmari and Lehtinen's partition algorithm for
// partial transition functions: states are split by transition "cords" (all
// transitions sharing a label) and cords by blocks of states, each new piece
// being processed once, which keeps the work at O(m log n).
func (d *DFA) Minimize() {
	n := len(d.Nodes)
	if n == 0 {
		return
	}

	_, representatives := byteClasses(d)
	var tails, labels, heads []int32
	for s := range d.Nodes {
		transitions := d.Nodes[s].Transitions
		for label, ch := range representatives {
			i, ok := findTransition(transitions, ch)
			if !ok {
				continue
			}
			tails = append(tails, int32(s))
			labels = append(labels, int32(label))
			heads = append(heads, int32(transitions[i].Target))
		}
	}

	m := len(tails)
	scratch := max(n, m) + 1
	blocks := newRefinablePartition(n, scratch)
	adjacent := make([]int32, m)
	adjacentStart := make([]int32, n+1)

	makeAdjacent := func(keys []int32) {
		clear(adjacentStart)
		for t := 0; t < m; t++ {
			adjacentStart[keys[t]]++
		}
		for q := 0; q < n; q++ {
			adjacentStart[q+1] += adjacentStart[q]
		}
		for t := m - 1; t >= 0; t-- {
			adjacentStart[keys[t]]--
			adjacent[adjacentStart[keys[t]]] = int32(t)
		}
	}

	reached := int32(0)
	reach := func(q int32) {
		i := blocks.loc[q]
		if i >= reached {
			blocks.elems[i] = blocks.elems[reached]
			blocks.loc[blocks.elems[i]] = i
			blocks.elems[reached] = q
			blocks.loc[q] = reached
			reached++
		}
	}
	removeUnreachable := func(from, to []int32) {
		makeAdjacent(from)
		for i := int32(0); i < reached; i++ {
			q := blocks.elems[i]
			for j := adjacentStart[q]; j < adjacentStart[q+1]; j++ {
				reach(to[adjacent[j]])
			}
		}
		kept := 0
		for t := 0; t < m; t++ {
			if blocks.loc[from[t]] < reached {
				heads[kept], labels[kept], tails[kept] = heads[t], labels[t], tails[t]
				kept++
			}
		}
		m = kept
		tails, labels, heads = tails[:m], labels[:m], heads[:m]
		blocks.past[0] = reached
		reached = 0
	}

	// Forward reachability from the root.
	reach(int32(d.Root))
	removeUnreachable(tails, heads)

	// Backward reachability from the nodes carrying actions.
	for q := 0; q < n; q++ {
		if d.Nodes[q].HasActions() && blocks.loc[q] < blocks.past[0] {
			reach(int32(q))
		}
	}
	removeUnreachable(heads, tails)

	live := make([]bool, n)
	for i := int32(0); i < blocks.past[0]; i++ {
		live[blocks.elems[i]] = true
	}
	if !live[d.Root] {
		d.collapseToRoot()
		return
	}

	// Initial partition: one block per distinct action set, in node order.
	groups := make(map[string]int)
	var members [][]int32
	for q := 0; q < n; q++ {
		if !live[q] || !d.Nodes[q].HasActions() {
			continue
		}
		key := actionsKey(d.NodeActions(uint32(q)))
		g, ok := groups[key]
		if !ok {
			g = len(members)
			groups[key] = g
			members = append(members, nil)
		}
		members[g] = append(members[g], int32(q))
	}
	for _, group := range members {
		for _, q := range group {
			blocks.mark(q)
		}
		blocks.split()
	}

	// Cords: transitions grouped by label.
	cords := newRefinablePartition(m, scratch)
	if m > 0 {
		slices.SortStableFunc(cords.elems, func(a, b int32) int { return int(labels[a] - labels[b]) })
		cords.sets = 0
		label := labels[cords.elems[0]]
		for i := 0; i < m; i++ {
			t := cords.elems[i]
			if labels[t] != label {
				label = labels[t]
				cords.past[cords.sets] = int32(i)
				cords.sets++
				cords.first[cords.sets] = int32(i)
			}
			cords.set[t] = int32(cords.sets)
			cords.loc[t] = int32(i)
		}
		cords.past[cords.sets] = int32(m)
		cords.sets++
	}

	// Alternate: split blocks by cords, then cords by the new blocks.
	makeAdjacent(heads)
	b, c := 1, 0
	for c < cords.sets {
		for i := cords.first[c]; i < cords.past[c]; i++ {
			blocks.mark(tails[cords.elems[i]])
		}
		blocks.split()
		c++
		for b < blocks.sets {
			for i := blocks.first[b]; i < blocks.past[b]; i++ {
				q := blocks.elems[i]
				for j := adjacentStart[q]; j < adjacentStart[q+1]; j++ {
					cords.mark(adjacent[j])
				}
			}
			cords.split()
			b++
		}
	}

	d.rebuildFromBlocks(blocks.set, live)
}

func findTransition(transitions []Transition, ch byte) (int, bool) {
	for i, tr := range transitions {
		if ch < tr.Lo {
			return 0, false
		}
		if ch <= tr.Hi {
			return i, true
		}
	}
	return 0, false
}

// collapseToRoot replaces the graph with its root alone; used when no action
// is reachable.
func (d *DFA) collapseToRoot() {
	rootActions := append([]uint64(nil), d.NodeActions(d.Root)...)
	d.Nodes = []DFANode{{}}
	d.Actions = nil
	d.Root = 0
	d.SetNodeActions(0, rootActions)
}

// rebuildFromBlocks keeps one node per block, renumbered breadth-first from
// the root's block.
func (d *DFA) rebuildFromBlocks(blockOf []int32, live []bool) {
	representative := make(map[int32]uint32)
	for q := range d.Nodes {
		if !live[q] {
			continue
		}
		if _, ok := representative[blockOf[q]]; !ok {
			representative[blockOf[q]] = uint32(q)
		}
	}

	newIndex := make(map[int32]uint32, len(representative))
	order := []int32{blockOf[d.Root]}
	newIndex[blockOf[d.Root]] = 0
	for i := 0; i < len(order); i++ {
		old := &d.Nodes[representative[order[i]]]
		for _, tr := range old.Transitions {
			if !live[tr.Target] {
				continue
			}
			block := blockOf[tr.Target]
			if _, ok := newIndex[block]; !ok {
				newIndex[block] = uint32(len(order))
				order = append(order, block)
			}
		}
	}

	minimized := &DFA{Nodes: make([]DFANode, len(order))}
	for i, block := range order {
		old := &d.Nodes[representative[block]]
		var transitions []Transition
		for _, tr := range old.Transitions {
			if !live[tr.Target] {
				continue
			}
			target := newIndex[blockOf[tr.Target]]
			if k := len(transitions); k > 0 && int(transitions[k-1].Hi)+1 == int(tr.Lo) && transitions[k-1].Target == target {
				transitions[k-1].Hi = tr.Hi
				continue
			}
			transitions = append(transitions, Transition{Lo: tr.Lo, Hi: tr.Hi, Target: target})
		}
		minimized.Nodes[i].Transitions = transitions
		minimized.SetNodeActions(uint32(i), d.NodeActions(representative[block]))
	}

	*d = *minimized
}
