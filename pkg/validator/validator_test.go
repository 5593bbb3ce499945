// contentrex/pkg/validator/validator_test.go

package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/contentrex/pkg/automata"
	"rgehrsitz/contentrex/pkg/bytecode"
	"rgehrsitz/contentrex/pkg/compiler"
)

const testRules = `[
	{"trigger": {"url-filter": "^https?://ads\\."}, "action": {"type": "block"}},
	{"trigger": {"url-filter": ".*", "if-domain": ["news.com"]}, "action": {"type": "css-display-none", "selector": ".banner"}},
	{"trigger": {"url-filter": "tracker", "resource-type": ["script"]}, "action": {"type": "block-cookies"}}
]`

func blockTable(t *testing.T) []byte {
	t.Helper()
	actions, _ := compiler.SerializeActions([]compiler.Rule{{Action: compiler.Action{Type: compiler.ActionBlockLoad}}})
	return actions
}

func chunkWithRootAction(action uint64) []byte {
	dfa := automata.EmptyDFA()
	dfa.SetNodeActions(dfa.Root, []uint64{action})
	return bytecode.Compile(dfa)
}

func handBuilt(t *testing.T, withoutConditions []byte) *compiler.CompiledExtension {
	t.Helper()
	ext := &compiler.CompiledExtension{}
	require.NoError(t, ext.WriteActions(blockTable(t)))
	require.NoError(t, ext.WriteFiltersWithoutConditionsBytecode(withoutConditions))
	require.NoError(t, ext.WriteFiltersWithConditionsBytecode(bytecode.Compile(automata.EmptyDFA())))
	require.NoError(t, ext.Finalize())
	return ext
}

func TestValidateCompiledExtension(t *testing.T) {
	ext := &compiler.CompiledExtension{}
	require.NoError(t, compiler.CompileRuleList(ext, []byte(testRules), compiler.Options{}))
	assert.NoError(t, ValidateExtension(ext))

	decoded, err := compiler.Decode(mustEncode(t, ext))
	require.NoError(t, err)
	assert.NoError(t, ValidateExtension(decoded))
}

func mustEncode(t *testing.T, ext *compiler.CompiledExtension) []byte {
	t.Helper()
	data, err := compiler.Encode(ext)
	require.NoError(t, err)
	return data
}

func TestValidateExtensionErrors(t *testing.T) {
	missingStream := &compiler.CompiledExtension{}
	require.NoError(t, missingStream.WriteActions(nil))
	require.NoError(t, missingStream.Finalize())

	tests := []struct {
		name     string
		ext      *compiler.CompiledExtension
		expected error
	}{
		{"not finalized", &compiler.CompiledExtension{}, compiler.ErrNotFinalized},
		{"missing stream", missingStream, ErrMissingStream},
		{"unknown location", handBuilt(t, chunkWithRootAction(99)), ErrUnknownActionLocation},
		{"condition without conditions", handBuilt(t, chunkWithRootAction(bytecode.IfConditionFlag)), ErrUnexpectedCondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateExtension(tt.ext), tt.expected)
		})
	}

	t.Run("corrupt chunk", func(t *testing.T) {
		err := ValidateExtension(handBuilt(t, []byte{9, 0, 0, 0, 0xEE, 0, 0, 0, 0}))
		assert.ErrorContains(t, err, "filters without conditions chunk 0")
	})
}

func TestValidateStruct(t *testing.T) {
	type settings struct {
		Kind string `validate:"oneof=file redis"`
		Path string `validate:"required_if=Kind file"`
		Size int    `validate:"gt=0"`
	}

	assert.NoError(t, ValidateStruct(settings{Kind: "redis", Size: 1}))
	assert.NoError(t, ValidateStruct(&settings{Kind: "file", Path: "out.crxb", Size: 3}))

	err := ValidateStruct(settings{Kind: "s3", Size: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings.Kind fails oneof=file redis (got s3)")
	assert.Contains(t, err.Error(), "settings.Size fails gt=0 (got 0)")

	err = ValidateStruct(settings{Kind: "file", Size: 1})
	assert.ErrorContains(t, err, "settings.Path fails required_if=Kind file")
}
