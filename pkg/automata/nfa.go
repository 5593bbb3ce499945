// contentrex/pkg/automata/nfa.go

package automata

import (
	"bufio"
	"fmt"
	"io"
	"slices"
)

// NFANode is one state of an NFA.
type NFANode struct {
	Transitions []Transition
	Epsilon     []uint32
	Actions     []uint64
}

// NFA is a non-deterministic automaton with epsilon transitions and a single
// root. Terminal nodes carry action-location-and-flags words.
type NFA struct {
	Nodes []NFANode
	Root  uint32
}

// NewNFA returns an NFA holding only its root node.
func NewNFA() *NFA {
	nfa := &NFA{}
	nfa.Root = nfa.CreateNode()
	return nfa
}

// CreateNode appends a node and returns its index.
func (n *NFA) CreateNode() uint32 {
	n.Nodes = append(n.Nodes, NFANode{})
	return uint32(len(n.Nodes) - 1)
}

// AddTransition adds an edge from -> to on characters [lo, hi].
func (n *NFA) AddTransition(from, to uint32, lo, hi byte) {
	if lo > hi || int(hi) >= CharCount {
		panic(fmt.Sprintf("automata: invalid transition range [%d, %d]", lo, hi))
	}
	n.Nodes[from].Transitions = append(n.Nodes[from].Transitions, Transition{Lo: lo, Hi: hi, Target: to})
}

// AddEpsilonTransition adds an edge that consumes no input.
func (n *NFA) AddEpsilonTransition(from, to uint32) {
	if from == to {
		return
	}
	node := &n.Nodes[from]
	if slices.Contains(node.Epsilon, to) {
		return
	}
	node.Epsilon = append(node.Epsilon, to)
}

// AddActions attaches actions to a node, keeping the node's list sorted and
// free of duplicates.
func (n *NFA) AddActions(node uint32, actions ...uint64) {
	n.Nodes[node].Actions = unionActions(n.Nodes[node].Actions, actions)
}

// GraphSize is the number of nodes.
func (n *NFA) GraphSize() int {
	return len(n.Nodes)
}

// MemoryUsed estimates the bytes held by the graph.
func (n *NFA) MemoryUsed() int {
	size := cap(n.Nodes) * 72
	for i := range n.Nodes {
		node := &n.Nodes[i]
		size += cap(node.Transitions)*8 + cap(node.Epsilon)*4 + cap(node.Actions)*8
	}
	return size
}

// WriteDot writes the graph in Graphviz format.
func (n *NFA) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph NFA_Transitions {")
	fmt.Fprintln(bw, "    rankdir=LR;")
	fmt.Fprintln(bw, "    node [shape=circle];")
	fmt.Fprintln(bw, "    {")
	for i := range n.Nodes {
		node := &n.Nodes[i]
		label := fmt.Sprintf("%d", i)
		if len(node.Actions) > 0 {
			label += fmt.Sprintf(" %v", node.Actions)
		}
		shape := "circle"
		if uint32(i) == n.Root {
			shape = "doublecircle"
		}
		fmt.Fprintf(bw, "         %d [label=<%s> shape=%s];\n", i, label, shape)
	}
	fmt.Fprintln(bw, "    }")
	for i := range n.Nodes {
		node := &n.Nodes[i]
		for _, tr := range node.Transitions {
			fmt.Fprintf(bw, "    %d -> %d [label=\"%s-%s\"];\n", i, tr.Target, printableChar(tr.Lo), printableChar(tr.Hi))
		}
		for _, target := range node.Epsilon {
			fmt.Fprintf(bw, "    %d -> %d [label=\"ε\" style=dashed];\n", i, target)
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
