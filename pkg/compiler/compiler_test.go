// contentrex/pkg/compiler/compiler_test.go

package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/contentrex/pkg/automata"
	"rgehrsitz/contentrex/pkg/bytecode"
	"rgehrsitz/contentrex/pkg/bytecode/bytecodetest"
	"rgehrsitz/contentrex/pkg/logging"
)

func compileJSON(t *testing.T, ruleJSON string, opts Options) *CompiledExtension {
	t.Helper()
	ext := &CompiledExtension{}
	require.NoError(t, CompileRuleList(ext, []byte(ruleJSON), opts))
	require.True(t, ext.Finalized())
	return ext
}

// describe runs url through a compiled stream and names the matched actions,
// for example "block" or "css-display-none .ad".
func describe(t *testing.T, ext *CompiledExtension, chunks [][]byte, url string, flags ResourceFlags) []string {
	t.Helper()
	words, err := bytecodetest.InterpretAll(chunks, url, uint16(flags))
	require.NoError(t, err)

	out := []string{}
	for _, word := range words {
		action, _, err := DeserializeAction(ext.Actions, uint32(word))
		require.NoError(t, err)
		name := action.Type.String()
		if action.StringArgument != "" {
			name += " " + action.StringArgument
		}
		if word&bytecode.IfConditionFlag != 0 {
			name += " if"
		}
		out = append(out, name)
	}
	return out
}

func TestCompileEmptyRuleList(t *testing.T) {
	ext := compileJSON(t, `[]`, Options{})

	empty := bytecode.Compile(automata.EmptyDFA())
	assert.Empty(t, ext.Actions)
	assert.Equal(t, [][]byte{empty}, ext.FiltersWithoutConditions)
	assert.Equal(t, [][]byte{empty}, ext.FiltersWithConditions)
	assert.Empty(t, ext.ConditionedFilters)
}

func TestCompileMatchesURLs(t *testing.T) {
	ext := compileJSON(t, `[
		{"trigger": {"url-filter": "ads\\.example"}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "^https?://tracker\\."}, "action": {"type": "block-cookies"}},
		{"trigger": {"url-filter": ".*"}, "action": {"type": "css-display-none", "selector": ".banner"}},
		{"trigger": {"url-filter": "\\.png$", "resource-type": ["image"]}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "/Pixel", "url-filter-is-case-sensitive": true}, "action": {"type": "make-https"}},
		{"trigger": {"url-filter": "^http:", "load-type": ["third-party"]}, "action": {"type": "make-https"}}
	]`, Options{})

	tests := []struct {
		url      string
		flags    ResourceFlags
		expected []string
	}{
		{"https://ads.example.com/x.png", ResourceTypeImage, []string{"block", "block", "css-display-none .banner"}},
		{"https://ADS.EXAMPLE.com/", ResourceTypeDocument, []string{"block", "css-display-none .banner"}},
		{"https://tracker.net/", ResourceTypeScript, []string{"block-cookies", "css-display-none .banner"}},
		{"https://example.com/tracker.js", ResourceTypeScript, []string{"css-display-none .banner"}},
		{"https://example.com/a.png", ResourceTypeDocument, []string{"css-display-none .banner"}},
		{"https://example.com/a.png?x", ResourceTypeImage, []string{"css-display-none .banner"}},
		{"https://example.com/Pixel", ResourceTypeImage, []string{"css-display-none .banner", "make-https"}},
		{"https://example.com/pixel", ResourceTypeImage, []string{"css-display-none .banner"}},
		{"http://example.com/", ResourceTypeImage | LoadTypeThirdParty, []string{"css-display-none .banner", "make-https"}},
		{"http://example.com/", ResourceTypeImage | LoadTypeFirstParty, []string{"css-display-none .banner"}},
		{"", ResourceTypeDocument, []string{"css-display-none .banner"}},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			actual := describe(t, ext, ext.FiltersWithoutConditions, tt.url, tt.flags)
			assert.ElementsMatch(t, tt.expected, actual)
			assert.Empty(t, describe(t, ext, ext.FiltersWithConditions, tt.url, tt.flags))
		})
	}
}

func TestCompileDomainConditions(t *testing.T) {
	ext := compileJSON(t, `[
		{"trigger": {"url-filter": "ads", "if-domain": ["example.com"]}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "track", "unless-domain": ["*news.org"]}, "action": {"type": "block-cookies"}},
		{"trigger": {"url-filter": ".*", "if-domain": ["*shop.com"]}, "action": {"type": "css-display-none", "selector": "#cart"}}
	]`, Options{})

	assert.Empty(t, describe(t, ext, ext.FiltersWithoutConditions, "https://ads.com/track", 0))
	assert.ElementsMatch(t,
		[]string{"block if", "block-cookies", "css-display-none #cart if"},
		describe(t, ext, ext.FiltersWithConditions, "https://ads.com/track", 0))
	assert.ElementsMatch(t,
		[]string{"css-display-none #cart if"},
		describe(t, ext, ext.FiltersWithConditions, "https://other.com/", 0))

	tests := []struct {
		domain   string
		expected []string
	}{
		{"example.com", []string{"block if"}},
		{"www.example.com", []string{}},
		{"example.com.evil.net", []string{}},
		{"news.org", []string{"block-cookies"}},
		{"www.news.org", []string{"block-cookies"}},
		{"badnews.org", []string{}},
		{"m.shop.com", []string{"css-display-none #cart if"}},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, describe(t, ext, ext.ConditionedFilters, tt.domain, 0))
		})
	}
}

func TestCompileUniversalActionsOnFirstRootOnly(t *testing.T) {
	var rules []string
	for i := 0; i < 20; i++ {
		rules = append(rules, fmt.Sprintf(`{"trigger": {"url-filter": "word%d"}, "action": {"type": "block"}}`, i))
	}
	rules = append(rules, `{"trigger": {"url-filter": ".*"}, "action": {"type": "make-https"}}`)
	ext := compileJSON(t, "["+strings.Join(rules, ",")+"]", Options{MaxNFASize: 10, SmallDFASize: 1})

	require.Greater(t, len(ext.FiltersWithoutConditions), 1)
	universal := uint32(1)
	require.Equal(t, byte(ActionMakeHTTPS), ext.Actions[universal])

	for i, chunk := range ext.FiltersWithoutConditions {
		instructions, err := bytecode.Disassemble(chunk)
		require.NoError(t, err)

		inRoot := true
		for _, instr := range instructions {
			if instr.Opcode == bytecode.APPEND_ACTION && instr.Action == universal {
				assert.True(t, i == 0 && inRoot, "universal action in chunk %d at offset %d", i, instr.Offset)
			}
			if instr.Opcode == bytecode.TERMINATE {
				inRoot = false
			}
		}
	}

	assert.Equal(t, []string{"make-https"}, describe(t, ext, ext.FiltersWithoutConditions, "https://example.com/", 0))
	assert.ElementsMatch(t, []string{"block", "make-https"}, describe(t, ext, ext.FiltersWithoutConditions, "https://example.com/word17", 0))
}

func TestCompileSplitsLargeFilterSets(t *testing.T) {
	var rules []string
	for i := 0; i < 50; i++ {
		rules = append(rules, fmt.Sprintf(`{"trigger": {"url-filter": "^https://host%d\\.com/"}, "action": {"type": "css-display-none", "selector": ".s%d"}}`, i, i))
	}
	ruleJSON := "[" + strings.Join(rules, ",") + "]"

	whole := compileJSON(t, ruleJSON, Options{})
	split := compileJSON(t, ruleJSON, Options{MaxNFASize: 30, SmallDFASize: 20})
	assert.Greater(t, len(split.FiltersWithoutConditions), len(whole.FiltersWithoutConditions))

	for _, url := range []string{"https://host7.com/", "https://host42.com/a", "https://host4.com", "https://host49.com/"} {
		assert.Equal(t,
			describe(t, whole, whole.FiltersWithoutConditions, url, 0),
			describe(t, split, split.FiltersWithoutConditions, url, 0),
			url)
	}
	assert.Equal(t, []string{"css-display-none .s42"}, describe(t, whole, whole.FiltersWithoutConditions, "https://host42.com/a", 0))
}

func TestCompileDeterministic(t *testing.T) {
	ruleJSON := `[
		{"trigger": {"url-filter": "a[0-9]+b"}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "(?:ab)+c", "resource-type": ["script"]}, "action": {"type": "block"}},
		{"trigger": {"url-filter": ".*"}, "action": {"type": "block-cookies"}},
		{"trigger": {"url-filter": "x", "if-domain": ["*a.com", "b.org"]}, "action": {"type": "css-display-none", "selector": "p"}},
		{"trigger": {"url-filter": "y", "unless-domain": ["c.net"]}, "action": {"type": "css-display-none", "selector": "q"}}
	]`
	first := compileJSON(t, ruleJSON, Options{})
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, compileJSON(t, ruleJSON, Options{}))
	}
}

func TestCompileInvalidRegex(t *testing.T) {
	tests := []struct {
		filter string
		status string
	}{
		{"a|b", "Disjunctions are not supported yet."},
		{"\\bword", "Word boundaries assertions are not supported yet."},
		{"(a)\\1", "Patterns cannot contain backreferences."},
		{"a{2}", "Arbitrary atom repetitions are not supported."},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			ext := &CompiledExtension{}
			err := Compile(ext, []Rule{blockRule(tt.filter, 0)}, Options{})

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrJSONInvalidRegex))
			assert.True(t, logging.IsType(err, logging.ErrorTypeCompile))

			var ruleErr *logging.RuleError
			require.True(t, errors.As(err, &ruleErr))
			assert.Equal(t, tt.status, ruleErr.Fields["status"])
			assert.Equal(t, tt.filter, ruleErr.Fields["url_filter"])

			assert.NotNil(t, ext.Actions)
			assert.Empty(t, ext.FiltersWithoutConditions)
			assert.False(t, ext.Finalized())
		})
	}
}

var errSinkFull = errors.New("sink full")

type failingClient struct {
	CompiledExtension
	failAt string
}

func (c *failingClient) fail(stage string) bool {
	return c.failAt == stage
}

func (c *failingClient) WriteActions(actions []byte) error {
	if c.fail("actions") {
		return errSinkFull
	}
	return c.CompiledExtension.WriteActions(actions)
}

func (c *failingClient) WriteFiltersWithoutConditionsBytecode(chunk []byte) error {
	if c.fail("without") {
		return errSinkFull
	}
	return c.CompiledExtension.WriteFiltersWithoutConditionsBytecode(chunk)
}

func (c *failingClient) WriteFiltersWithConditionsBytecode(chunk []byte) error {
	if c.fail("with") {
		return errSinkFull
	}
	return c.CompiledExtension.WriteFiltersWithConditionsBytecode(chunk)
}

func (c *failingClient) WriteConditionedFiltersBytecode(chunk []byte) error {
	if c.fail("conditioned") {
		return errSinkFull
	}
	return c.CompiledExtension.WriteConditionedFiltersBytecode(chunk)
}

func (c *failingClient) Finalize() error {
	if c.fail("finalize") {
		return errSinkFull
	}
	return c.CompiledExtension.Finalize()
}

func TestCompileSinkFailure(t *testing.T) {
	ruleJSON := []byte(`[
		{"trigger": {"url-filter": "ads"}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "pop", "if-domain": ["example.com"]}, "action": {"type": "block"}}
	]`)

	for _, stage := range []string{"actions", "without", "with", "conditioned", "finalize"} {
		t.Run(stage, func(t *testing.T) {
			client := &failingClient{failAt: stage}
			err := CompileRuleList(client, ruleJSON, Options{})

			require.Error(t, err)
			assert.True(t, errors.Is(err, errSinkFull))
			assert.True(t, logging.IsType(err, logging.ErrorTypeStore))
			assert.False(t, client.Finalized())
		})
	}
}

func TestCompileRuleListParseError(t *testing.T) {
	ext := &CompiledExtension{}
	err := CompileRuleList(ext, []byte(`{"rules": []}`), Options{})
	assert.True(t, errors.Is(err, ErrJSONTopLevelStructureNotAnArray))
	assert.Nil(t, ext.Actions)
}

func TestOptionsDefaults(t *testing.T) {
	assert.Equal(t, Options{MaxNFASize: MaxNFASize, SmallDFASize: SmallDFASize}, Options{}.withDefaults())
	assert.Equal(t, Options{MaxNFASize: 5, SmallDFASize: SmallDFASize}, Options{MaxNFASize: 5, SmallDFASize: -1}.withDefaults())
}

func TestCompileTracesAutomataGraphs(t *testing.T) {
	previousLogger, previousLevel := logging.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		logging.Logger = previousLogger
		zerolog.SetGlobalLevel(previousLevel)
	})

	var buf bytes.Buffer
	logging.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	compileJSON(t, `[
		{"trigger": {"url-filter": "ad"}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "x", "if-domain": ["a.com"]}, "action": {"type": "block"}}
	]`, Options{})

	logs := buf.String()
	assert.Contains(t, logs, `"stage":"filters without conditions NFA"`)
	assert.Contains(t, logs, `"stage":"filters without conditions DFA"`)
	assert.Contains(t, logs, `"stage":"condition filters DFA"`)
	assert.Contains(t, logs, "digraph NFA_Transitions")
	assert.Contains(t, logs, "digraph DFA_Transitions")

	buf.Reset()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	compileJSON(t, `[{"trigger": {"url-filter": "ad"}, "action": {"type": "block"}}]`, Options{})
	assert.NotContains(t, buf.String(), "digraph")
}
