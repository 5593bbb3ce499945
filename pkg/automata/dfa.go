// contentrex/pkg/automata/dfa.go

package automata

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// DFANode is one state of a DFA. Its actions are the sub-range
// [ActionsStart, ActionsStart+ActionsLength) of the owning DFA's Actions.
type DFANode struct {
	Transitions   []Transition
	ActionsStart  uint32
	ActionsLength uint16
}

func (n *DFANode) HasActions() bool {
	return n.ActionsLength > 0
}

// DFA is a deterministic automaton. Transitions of every node are sorted by
// Lo and never overlap.
type DFA struct {
	Nodes   []DFANode
	Actions []uint64
	Root    uint32
}

// EmptyDFA returns a DFA with a lone action-free root. It matches nothing
// until universal actions are attached to it.
func EmptyDFA() *DFA {
	return &DFA{Nodes: []DFANode{{}}}
}

// GraphSize is the number of nodes.
func (d *DFA) GraphSize() int {
	return len(d.Nodes)
}

// NodeActions returns the actions attached to a node.
func (d *DFA) NodeActions(node uint32) []uint64 {
	n := &d.Nodes[node]
	return d.Actions[n.ActionsStart : n.ActionsStart+uint32(n.ActionsLength)]
}

// SetNodeActions appends actions to the shared array and points the node at
// them. A node can only reference MaxActionsPerNode actions.
func (d *DFA) SetNodeActions(node uint32, actions []uint64) {
	if len(actions) > MaxActionsPerNode {
		panic(fmt.Sprintf("automata: %d actions on one DFA node exceed the limit of %d", len(actions), MaxActionsPerNode))
	}
	n := &d.Nodes[node]
	if len(actions) == 0 {
		n.ActionsStart, n.ActionsLength = 0, 0
		return
	}
	n.ActionsStart = uint32(len(d.Actions))
	n.ActionsLength = uint16(len(actions))
	d.Actions = append(d.Actions, actions...)
}

// Next returns the node reached from node on ch.
func (d *DFA) Next(node uint32, ch byte) (uint32, bool) {
	transitions := d.Nodes[node].Transitions
	i := sort.Search(len(transitions), func(i int) bool { return transitions[i].Hi >= ch })
	if i < len(transitions) && transitions[i].Lo <= ch {
		return transitions[i].Target, true
	}
	return 0, false
}

// Run feeds input followed by the end-of-input character through the DFA and
// returns the sorted set of actions attached to every node visited on the way,
// the root included.
func (d *DFA) Run(input string) []uint64 {
	node := d.Root
	collected := [][]uint64{d.NodeActions(node)}
	for i := 0; i <= len(input); i++ {
		var ch byte
		if i < len(input) {
			ch = input[i]
			if ch == 0 || ch >= CharCount {
				break
			}
		}
		next, ok := d.Next(node, ch)
		if !ok {
			break
		}
		node = next
		collected = append(collected, d.NodeActions(node))
	}
	return unionActions(collected...)
}

// MemoryUsed estimates the bytes held by the graph.
func (d *DFA) MemoryUsed() int {
	size := cap(d.Nodes)*32 + cap(d.Actions)*8
	for i := range d.Nodes {
		size += cap(d.Nodes[i].Transitions) * 8
	}
	return size
}

// WriteDot writes the graph in Graphviz format.
func (d *DFA) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph DFA_Transitions {")
	fmt.Fprintln(bw, "    rankdir=LR;")
	fmt.Fprintln(bw, "    node [shape=circle];")
	fmt.Fprintln(bw, "    {")
	for i := range d.Nodes {
		label := fmt.Sprintf("%d", i)
		if actions := d.NodeActions(uint32(i)); len(actions) > 0 {
			label += fmt.Sprintf(" %v", actions)
		}
		shape := "circle"
		if uint32(i) == d.Root {
			shape = "doublecircle"
		}
		fmt.Fprintf(bw, "         %d [label=<%s> shape=%s];\n", i, label, shape)
	}
	fmt.Fprintln(bw, "    }")
	for i := range d.Nodes {
		for _, tr := range d.Nodes[i].Transitions {
			fmt.Fprintf(bw, "    %d -> %d [label=\"%s-%s\"];\n", i, tr.Target, printableChar(tr.Lo), printableChar(tr.Hi))
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
