// contentrex/pkg/e2e_test.go

package pkg_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/contentrex/pkg/bytecode"
	"rgehrsitz/contentrex/pkg/bytecode/bytecodetest"
	"rgehrsitz/contentrex/pkg/compiler"
	"rgehrsitz/contentrex/pkg/store"
	"rgehrsitz/contentrex/pkg/validator"
)

const ruleList = `[
	{"trigger": {"url-filter": "^https?://ads\\."}, "action": {"type": "block"}},
	{"trigger": {"url-filter": ".*", "if-domain": ["news.com"]}, "action": {"type": "css-display-none", "selector": ".banner"}},
	{"trigger": {"url-filter": "tracker", "resource-type": ["script"]}, "action": {"type": "block-cookies"}}
]`

func actionNames(t *testing.T, ext *compiler.CompiledExtension, words []uint64) []string {
	t.Helper()
	names := []string{}
	for _, word := range words {
		action, _, err := compiler.DeserializeAction(ext.Actions, uint32(word))
		require.NoError(t, err)
		name := action.Type.String()
		if word&bytecode.IfConditionFlag != 0 {
			name += " if"
		}
		names = append(names, name)
	}
	return names
}

func match(t *testing.T, ext *compiler.CompiledExtension, chunks [][]byte, input string, typeName string) []string {
	t.Helper()
	var flags compiler.ResourceFlags
	if typeName != "" {
		var ok bool
		flags, ok = compiler.ResourceFlagsByName(typeName)
		require.True(t, ok)
	}
	words, err := bytecodetest.InterpretAll(chunks, input, uint16(flags))
	require.NoError(t, err)
	return actionNames(t, ext, words)
}

func TestEndToEnd(t *testing.T) {
	// Compile to a file.
	path := filepath.Join(t.TempDir(), "e2e.crxb")
	require.NoError(t, compiler.CompileRuleList(compiler.NewFileClient(path), []byte(ruleList), compiler.Options{}))

	fromFile, err := compiler.ReadExtensionFile(path)
	require.NoError(t, err)
	require.NoError(t, validator.ValidateExtension(fromFile))

	// Compile the same list into Redis.
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	redisStore, err := store.NewRedisStore(ctx, mr.Addr(), "", 0, "")
	require.NoError(t, err)
	defer redisStore.Close()

	updates, err := redisStore.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, compiler.CompileRuleList(store.NewClient(ctx, redisStore, "e2e"), []byte(ruleList), compiler.Options{}))

	fromRedis, err := redisStore.LoadExtension(ctx, "e2e")
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromRedis)
	assert.Eventually(t, func() bool {
		select {
		case id := <-updates:
			return id == "e2e"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	ext := fromRedis
	assert.Equal(t, []string{"block"}, match(t, ext, ext.FiltersWithoutConditions, "https://ads.example.com/x.js", ""))
	assert.Equal(t, []string{"block-cookies"}, match(t, ext, ext.FiltersWithoutConditions, "https://cdn.net/tracker.js", "script"))
	assert.Equal(t, []string{}, match(t, ext, ext.FiltersWithoutConditions, "https://cdn.net/tracker.png", "image"))
	assert.Equal(t, []string{"css-display-none if"}, match(t, ext, ext.FiltersWithConditions, "https://cdn.net/", ""))
	assert.Equal(t, []string{"css-display-none if"}, match(t, ext, ext.ConditionedFilters, "news.com", ""))
	assert.Equal(t, []string{}, match(t, ext, ext.ConditionedFilters, "other.org", ""))
}
