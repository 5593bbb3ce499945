// contentrex/pkg/bytecode/bytecodetest/interpret.go

// Package bytecodetest walks bytecode chunks the way a content blocker would,
// so tests can check compiled rule lists against request URLs.
package bytecodetest

import (
	"fmt"
	"slices"

	"rgehrsitz/contentrex/pkg/bytecode"
)

// Interpret runs url through chunk and returns the sorted, distinct actions
// collected on the way. Each action is its location in the action table,
// with bytecode.IfConditionFlag set when it came from an if-domain rule.
// flags holds the resource type and load type of the request; actions
// guarded by flags are kept only when they accept the request.
func Interpret(chunk []byte, url string, flags uint16) ([]uint64, error) {
	if _, err := bytecode.Disassemble(chunk); err != nil {
		return nil, err
	}

	var actions []uint64
	pc := uint32(bytecode.HeaderSize)
	for i := 0; ; i++ {
		var ch byte
		if i < len(url) {
			ch = url[i]
			if ch == 0 || ch >= 0x80 {
				ch = noChar
			}
		}

		next, ok, err := runNode(chunk, pc, ch, flags, &actions)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		pc = next
		if i >= len(url) {
			// The end-of-URL character led to a node whose actions still apply.
			if _, _, err := runNode(chunk, pc, noChar, flags, &actions); err != nil {
				return nil, err
			}
			break
		}
	}

	slices.Sort(actions)
	return slices.Compact(actions), nil
}

// InterpretAll runs url through every chunk of a stream and merges the results.
func InterpretAll(chunks [][]byte, url string, flags uint16) ([]uint64, error) {
	var all []uint64
	for i, chunk := range chunks {
		actions, err := Interpret(chunk, url, flags)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		all = append(all, actions...)
	}
	slices.Sort(all)
	return slices.Compact(all), nil
}

// noChar never matches a check.
const noChar = 0xFF

// runNode executes the node program at pc: it appends the node's actions and
// returns the jump target for ch, if any.
func runNode(chunk []byte, pc uint32, ch byte, flags uint16, actions *[]uint64) (uint32, bool, error) {
	for {
		instr, err := bytecode.Decode(chunk, pc)
		if err != nil {
			return 0, false, err
		}
		pc += uint32(instr.Opcode.Size())

		switch {
		case instr.Opcode == bytecode.TERMINATE:
			return 0, false, nil
		case instr.Opcode.IsCheck():
			if ch != noChar && instr.Matches(ch) {
				return instr.Target, true, nil
			}
		default:
			if instr.Opcode.TestsFlags() && !acceptsFlags(instr.Flags, flags) {
				continue
			}
			action := uint64(instr.Action)
			if instr.Opcode.HasIfCondition() {
				action |= bytecode.IfConditionFlag
			}
			*actions = append(*actions, action)
		}
	}
}

func acceptsFlags(actionFlags, requestFlags uint16) bool {
	loadType := actionFlags & bytecode.LoadTypeMask
	if loadType != 0 && loadType&requestFlags == 0 {
		return false
	}
	resourceType := actionFlags & bytecode.ResourceTypeMask
	if resourceType != 0 && resourceType&requestFlags == 0 {
		return false
	}
	return true
}
