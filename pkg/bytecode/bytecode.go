// contentrex/pkg/bytecode/bytecode.go

// Package bytecode lowers DFAs to the byte programs evaluated against request
// URLs, and reads those programs back for inspection.
//
// A chunk is one DFA: a 4-byte little-endian length (of the whole chunk,
// header included) followed by one program per node, root first. A node's
// program appends its actions, then tests the current URL character against
// each outgoing transition and jumps to the target node's program on a match.
// Jump targets are absolute offsets within the chunk.
package bytecode

import (
	"fmt"

	"rgehrsitz/contentrex/pkg/logging"
)

// HeaderSize is the size of the chunk length prefix.
const HeaderSize = 4

const (
	// ActionFlagMask selects the resource flags of an action word.
	ActionFlagMask = uint64(0x0000FFFF00000000)
	// IfConditionFlag marks actions of rules with an if-domain condition.
	IfConditionFlag = uint64(0x0001000000000000)

	ResourceTypeMask = uint16(0x03FF)
	LoadTypeMask     = uint16(0x0C00)
)

// Opcode represents the type of a bytecode instruction.
type Opcode byte

// Bytecode instructions
const (
	// Transition instructions: value or range, then a 32-bit target.
	CHECK_VALUE_CASE_INSENSITIVE Opcode = iota
	CHECK_VALUE_CASE_SENSITIVE
	CHECK_VALUE_RANGE_CASE_INSENSITIVE
	CHECK_VALUE_RANGE_CASE_SENSITIVE

	// Action instructions: optional 16-bit flags, then a 32-bit action location.
	APPEND_ACTION
	APPEND_ACTION_WITH_IF_CONDITION
	TEST_FLAGS_AND_APPEND_ACTION
	TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION

	TERMINATE
)

var opcodeNames = [...]string{
	"CHECK_VALUE_CASE_INSENSITIVE", "CHECK_VALUE_CASE_SENSITIVE",
	"CHECK_VALUE_RANGE_CASE_INSENSITIVE", "CHECK_VALUE_RANGE_CASE_SENSITIVE",
	"APPEND_ACTION", "APPEND_ACTION_WITH_IF_CONDITION",
	"TEST_FLAGS_AND_APPEND_ACTION", "TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION",
	"TERMINATE",
}

// String returns the string representation of an opcode.
func (op Opcode) String() string {
	if int(op) >= len(opcodeNames) {
		logging.Logger.Warn().Uint8("opcode", uint8(op)).Msg("Unknown opcode")
		return fmt.Sprintf("Opcode(%d)", op)
	}
	return opcodeNames[op]
}

// Size is the encoded size of the instruction, opcode included.
func (op Opcode) Size() int {
	switch op {
	case CHECK_VALUE_CASE_INSENSITIVE, CHECK_VALUE_CASE_SENSITIVE:
		return 6
	case CHECK_VALUE_RANGE_CASE_INSENSITIVE, CHECK_VALUE_RANGE_CASE_SENSITIVE:
		return 7
	case APPEND_ACTION, APPEND_ACTION_WITH_IF_CONDITION:
		return 5
	case TEST_FLAGS_AND_APPEND_ACTION, TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION:
		return 7
	case TERMINATE:
		return 1
	}
	return 0
}

func (op Opcode) IsCheck() bool {
	return op <= CHECK_VALUE_RANGE_CASE_SENSITIVE
}

func (op Opcode) IsCaseInsensitive() bool {
	return op == CHECK_VALUE_CASE_INSENSITIVE || op == CHECK_VALUE_RANGE_CASE_INSENSITIVE
}

func (op Opcode) HasIfCondition() bool {
	return op == APPEND_ACTION_WITH_IF_CONDITION || op == TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION
}

func (op Opcode) TestsFlags() bool {
	return op == TEST_FLAGS_AND_APPEND_ACTION || op == TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION
}

// Instruction is one decoded instruction. Only the fields used by Opcode are
// meaningful.
type Instruction struct {
	Offset uint32
	Opcode Opcode
	Lo     byte
	Hi     byte
	Target uint32
	Flags  uint16
	Action uint32
}

// String returns a human-readable representation of an instruction.
func (instr Instruction) String() string {
	switch instr.Opcode {
	case CHECK_VALUE_CASE_INSENSITIVE, CHECK_VALUE_CASE_SENSITIVE:
		return fmt.Sprintf("%s %s -> %d", instr.Opcode, formatChar(instr.Lo), instr.Target)
	case CHECK_VALUE_RANGE_CASE_INSENSITIVE, CHECK_VALUE_RANGE_CASE_SENSITIVE:
		return fmt.Sprintf("%s %s-%s -> %d", instr.Opcode, formatChar(instr.Lo), formatChar(instr.Hi), instr.Target)
	case APPEND_ACTION, APPEND_ACTION_WITH_IF_CONDITION:
		return fmt.Sprintf("%s %d", instr.Opcode, instr.Action)
	case TEST_FLAGS_AND_APPEND_ACTION, TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION:
		return fmt.Sprintf("%s 0x%04x %d", instr.Opcode, instr.Flags, instr.Action)
	}
	return instr.Opcode.String()
}

// Matches reports whether a check instruction accepts ch.
func (instr Instruction) Matches(ch byte) bool {
	if instr.Opcode.IsCaseInsensitive() && ch >= 'A' && ch <= 'Z' {
		ch += 'a' - 'A'
	}
	switch instr.Opcode {
	case CHECK_VALUE_CASE_INSENSITIVE, CHECK_VALUE_CASE_SENSITIVE:
		return ch == instr.Lo
	case CHECK_VALUE_RANGE_CASE_INSENSITIVE, CHECK_VALUE_RANGE_CASE_SENSITIVE:
		return ch >= instr.Lo && ch <= instr.Hi
	}
	return false
}

func formatChar(c byte) string {
	if c > ' ' && c <= '~' {
		return fmt.Sprintf("'%c'", c)
	}
	return fmt.Sprintf("\\x%02x", c)
}
