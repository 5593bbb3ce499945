// contentrex/pkg/bytecode/disassemble.go

package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Disassemble decodes a chunk into its instructions, in program order.
func Disassemble(chunk []byte) ([]Instruction, error) {
	if len(chunk) < HeaderSize {
		return nil, fmt.Errorf("chunk of %d bytes is shorter than its header", len(chunk))
	}
	length := binary.LittleEndian.Uint32(chunk)
	if int(length) != len(chunk) {
		return nil, fmt.Errorf("chunk header declares %d bytes, got %d", length, len(chunk))
	}

	var instructions []Instruction
	for pc := HeaderSize; pc < len(chunk); {
		instr, err := Decode(chunk, uint32(pc))
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, instr)
		pc += instr.Opcode.Size()
	}
	return instructions, nil
}

// Decode reads the instruction at pc.
func Decode(chunk []byte, pc uint32) (Instruction, error) {
	if int(pc) >= len(chunk) {
		return Instruction{}, fmt.Errorf("offset %d is outside the chunk", pc)
	}
	op := Opcode(chunk[pc])
	size := op.Size()
	if size == 0 {
		return Instruction{}, fmt.Errorf("unknown opcode %#02x at offset %d", byte(op), pc)
	}
	if int(pc)+size > len(chunk) {
		return Instruction{}, fmt.Errorf("truncated %s at offset %d", op, pc)
	}

	operands := chunk[pc+1 : int(pc)+size]
	instr := Instruction{Offset: pc, Opcode: op}
	switch op {
	case CHECK_VALUE_CASE_INSENSITIVE, CHECK_VALUE_CASE_SENSITIVE:
		instr.Lo, instr.Hi = operands[0], operands[0]
		instr.Target = binary.LittleEndian.Uint32(operands[1:])
	case CHECK_VALUE_RANGE_CASE_INSENSITIVE, CHECK_VALUE_RANGE_CASE_SENSITIVE:
		instr.Lo, instr.Hi = operands[0], operands[1]
		instr.Target = binary.LittleEndian.Uint32(operands[2:])
	case APPEND_ACTION, APPEND_ACTION_WITH_IF_CONDITION:
		instr.Action = binary.LittleEndian.Uint32(operands)
	case TEST_FLAGS_AND_APPEND_ACTION, TEST_FLAGS_AND_APPEND_ACTION_WITH_IF_CONDITION:
		instr.Flags = binary.LittleEndian.Uint16(operands)
		instr.Action = binary.LittleEndian.Uint32(operands[2:])
	}
	if op.IsCheck() && (instr.Target < HeaderSize || int(instr.Target) >= len(chunk)) {
		return Instruction{}, fmt.Errorf("%s at offset %d jumps outside the chunk to %d", op, pc, instr.Target)
	}
	return instr, nil
}

// Dump writes a listing of the chunk, one instruction per line.
func Dump(w io.Writer, chunk []byte) error {
	instructions, err := Disassemble(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "chunk: %d bytes\n", len(chunk)); err != nil {
		return err
	}
	for _, instr := range instructions {
		if _, err := fmt.Fprintf(w, "%6d  %s\n", instr.Offset, instr); err != nil {
			return err
		}
	}
	return nil
}
