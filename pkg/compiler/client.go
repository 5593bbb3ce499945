// contentrex/pkg/compiler/client.go

package compiler

import "fmt"

// Client receives the output of a compilation, in this order: the action
// table once, one or more chunks without conditions, one or more chunks with
// conditions, zero or more domain condition chunks, then Finalize. A write
// error aborts the compilation.
type Client interface {
	WriteActions(actions []byte) error
	WriteFiltersWithoutConditionsBytecode(chunk []byte) error
	WriteFiltersWithConditionsBytecode(chunk []byte) error
	WriteConditionedFiltersBytecode(chunk []byte) error
	Finalize() error
}

type sinkStage int

const (
	stageStart sinkStage = iota
	stageActions
	stageWithoutConditions
	stageWithConditions
	stageConditioned
	stageFinalized
)

var stageNames = [...]string{"start", "actions", "filters without conditions", "filters with conditions", "conditioned filters", "finalized"}

// CompiledExtension is a Client that keeps the compiled rule list in memory.
// It rejects writes that arrive out of order.
type CompiledExtension struct {
	Actions                  []byte
	FiltersWithoutConditions [][]byte
	FiltersWithConditions    [][]byte
	ConditionedFilters       [][]byte

	stage sinkStage
}

// advance moves to stage to unless that would go backwards. Repeating the
// current stage is allowed for the chunk streams only.
func (c *CompiledExtension) advance(to sinkStage) error {
	if c.stage > to || (c.stage == to && (to == stageActions || to == stageFinalized)) {
		return fmt.Errorf("unexpected %s write after %s", stageNames[to], stageNames[c.stage])
	}
	if to > stageActions && c.stage == stageStart {
		return fmt.Errorf("unexpected %s write before the actions", stageNames[to])
	}
	c.stage = to
	return nil
}

func (c *CompiledExtension) WriteActions(actions []byte) error {
	if err := c.advance(stageActions); err != nil {
		return err
	}
	c.Actions = actions
	return nil
}

func (c *CompiledExtension) WriteFiltersWithoutConditionsBytecode(chunk []byte) error {
	if err := c.advance(stageWithoutConditions); err != nil {
		return err
	}
	c.FiltersWithoutConditions = append(c.FiltersWithoutConditions, chunk)
	return nil
}

func (c *CompiledExtension) WriteFiltersWithConditionsBytecode(chunk []byte) error {
	if err := c.advance(stageWithConditions); err != nil {
		return err
	}
	c.FiltersWithConditions = append(c.FiltersWithConditions, chunk)
	return nil
}

func (c *CompiledExtension) WriteConditionedFiltersBytecode(chunk []byte) error {
	if err := c.advance(stageConditioned); err != nil {
		return err
	}
	c.ConditionedFilters = append(c.ConditionedFilters, chunk)
	return nil
}

func (c *CompiledExtension) Finalize() error {
	return c.advance(stageFinalized)
}

// Finalized reports whether Finalize was called.
func (c *CompiledExtension) Finalized() bool {
	return c.stage == stageFinalized
}

// BytecodeSize is the total size of all chunks.
func (c *CompiledExtension) BytecodeSize() int {
	size := 0
	for _, stream := range [][][]byte{c.FiltersWithoutConditions, c.FiltersWithConditions, c.ConditionedFilters} {
		for _, chunk := range stream {
			size += len(chunk)
		}
	}
	return size
}
