// contentrex/pkg/validator/validator.go

// Package validator checks compiled extensions before they are served and
// tool configuration before it is used.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"rgehrsitz/contentrex/pkg/bytecode"
	"rgehrsitz/contentrex/pkg/compiler"
)

var (
	ErrMissingStream         = errors.New("bytecode stream has no chunks")
	ErrUnknownActionLocation = errors.New("action location is not in the action table")
	ErrUnexpectedCondition   = errors.New("conditional action in a stream without conditions")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateExtension checks that ext is finalized, that every chunk decodes,
// and that every action instruction refers to an action in the table.
func ValidateExtension(ext *compiler.CompiledExtension) error {
	if !ext.Finalized() {
		return compiler.ErrNotFinalized
	}
	actions, err := compiler.DeserializeActions(ext.Actions)
	if err != nil {
		return fmt.Errorf("action table: %w", err)
	}

	streams := []struct {
		name           string
		chunks         [][]byte
		required       bool
		allowCondition bool
	}{
		{"filters without conditions", ext.FiltersWithoutConditions, true, false},
		{"filters with conditions", ext.FiltersWithConditions, true, true},
		{"condition filters", ext.ConditionedFilters, false, true},
	}
	for _, stream := range streams {
		if stream.required && len(stream.chunks) == 0 {
			return fmt.Errorf("%s: %w", stream.name, ErrMissingStream)
		}
		for i, chunk := range stream.chunks {
			instructions, err := bytecode.Disassemble(chunk)
			if err != nil {
				return fmt.Errorf("%s chunk %d: %w", stream.name, i, err)
			}
			for _, instr := range instructions {
				if instr.Opcode.IsCheck() || instr.Opcode == bytecode.TERMINATE {
					continue
				}
				if instr.Opcode.HasIfCondition() && !stream.allowCondition {
					return fmt.Errorf("%s chunk %d offset %d: %w", stream.name, i, instr.Offset, ErrUnexpectedCondition)
				}
				if _, ok := actions[instr.Action]; !ok {
					return fmt.Errorf("%s chunk %d offset %d location %d: %w", stream.name, i, instr.Offset, instr.Action, ErrUnknownActionLocation)
				}
			}
		}
	}
	return nil
}

// ValidateStruct checks s against its validate tags and reports every failing
// field in one error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s fails %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			problems = append(problems, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
