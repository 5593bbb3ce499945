// contentrex/pkg/bytecode/compiler.go

package bytecode

import (
	"encoding/binary"

	"rgehrsitz/contentrex/pkg/automata"
	"rgehrsitz/contentrex/pkg/logging"
)

type chunkCompiler struct {
	dfa     *automata.DFA
	code    []byte
	offsets []uint32
	// patches maps the position of each jump operand to its target node.
	patches []jumpPatch
}

type jumpPatch struct {
	position uint32
	node     uint32
}

// Compile lowers dfa to a bytecode chunk.
func Compile(dfa *automata.DFA) []byte {
	c := &chunkCompiler{
		dfa:     dfa,
		code:    make([]byte, HeaderSize, HeaderSize+len(dfa.Nodes)*16),
		offsets: make([]uint32, len(dfa.Nodes)),
	}

	c.compileNode(dfa.Root)
	for i := range dfa.Nodes {
		if uint32(i) != dfa.Root {
			c.compileNode(uint32(i))
		}
	}
	for _, patch := range c.patches {
		binary.LittleEndian.PutUint32(c.code[patch.position:], c.offsets[patch.node])
	}
	binary.LittleEndian.PutUint32(c.code, uint32(len(c.code)))

	logging.Logger.Debug().
		Int("nodes", len(dfa.Nodes)).
		Int("bytes", len(c.code)).
		Msg("Compiled DFA to bytecode")
	return c.code
}

func (c *chunkCompiler) compileNode(node uint32) {
	c.offsets[node] = uint32(len(c.code))

	actions := c.dfa.NodeActions(node)
	if len(actions) > automata.MaxActionsPerNode {
		panic("bytecode: too many actions on one DFA node")
	}
	for _, action := range actions {
		c.emitAction(action)
	}
	c.emitChecks(c.dfa.Nodes[node].Transitions)
	c.code = append(c.code, byte(TERMINATE))
}

func (c *chunkCompiler) emitAction(action uint64) {
	flags := uint16((action & ActionFlagMask) >> 32)
	location := uint32(action)
	ifCondition := action&IfConditionFlag != 0

	if flags != 0 {
		op := TEST_FLAGS_AND_APPEND_ACTION
		if ifCondition {
			op = TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION
		}
		c.code = append(c.code, byte(op))
		c.code = binary.LittleEndian.AppendUint16(c.code, flags)
		c.code = binary.LittleEndian.AppendUint32(c.code, location)
		return
	}
	op := APPEND_ACTION
	if ifCondition {
		op = APPEND_ACTION_WITH_IF_CONDITION
	}
	c.code = append(c.code, byte(op))
	c.code = binary.LittleEndian.AppendUint32(c.code, location)
}

// emitChecks writes one check per transition range. A lowercase range whose
// uppercase twin leads to the same node becomes a single case-insensitive
// check covering both.
func (c *chunkCompiler) emitChecks(transitions []automata.Transition) {
	var targets [automata.CharCount]int64
	for i := range targets {
		targets[i] = -1
	}
	for _, tr := range transitions {
		for ch := int(tr.Lo); ch <= int(tr.Hi); ch++ {
			targets[ch] = int64(tr.Target)
		}
	}

	var covered [automata.CharCount]bool
	for _, tr := range transitions {
		if tr.Lo < 'a' || tr.Hi > 'z' {
			continue
		}
		twin := true
		for ch := int(tr.Lo); ch <= int(tr.Hi); ch++ {
			if targets[ch-('a'-'A')] != int64(tr.Target) {
				twin = false
				break
			}
		}
		if !twin {
			continue
		}
		for ch := int(tr.Lo); ch <= int(tr.Hi); ch++ {
			covered[ch] = true
			covered[ch-('a'-'A')] = true
		}
		c.emitCheck(tr.Lo, tr.Hi, tr.Target, true)
	}

	for ch := 0; ch < automata.CharCount; ch++ {
		if covered[ch] || targets[ch] < 0 {
			continue
		}
		hi := ch
		for hi+1 < automata.CharCount && !covered[hi+1] && targets[hi+1] == targets[ch] {
			hi++
		}
		c.emitCheck(byte(ch), byte(hi), uint32(targets[ch]), false)
		ch = hi
	}
}

func (c *chunkCompiler) emitCheck(lo, hi byte, target uint32, caseInsensitive bool) {
	if lo == hi {
		op := CHECK_VALUE_CASE_SENSITIVE
		if caseInsensitive {
			op = CHECK_VALUE_CASE_INSENSITIVE
		}
		c.code = append(c.code, byte(op), lo)
	} else {
		op := CHECK_VALUE_RANGE_CASE_SENSITIVE
		if caseInsensitive {
			op = CHECK_VALUE_RANGE_CASE_INSENSITIVE
		}
		c.code = append(c.code, byte(op), lo, hi)
	}
	c.patches = append(c.patches, jumpPatch{position: uint32(len(c.code)), node: target})
	c.code = binary.LittleEndian.AppendUint32(c.code, 0)
}
