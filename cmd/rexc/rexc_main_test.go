// contentrex/cmd/rexc/rexc_main_test.go

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/contentrex/pkg/bytecode/bytecodetest"
	"rgehrsitz/contentrex/pkg/compiler"
	"rgehrsitz/contentrex/pkg/logging"
	"rgehrsitz/contentrex/pkg/store"
)

const testRules = `[
	{"trigger": {"url-filter": "ads"}, "action": {"type": "block"}},
	{"trigger": {"url-filter": ".*", "if-domain": ["example.com"]}, "action": {"type": "css-display-none", "selector": ".ad"}}
]`

// MockStoreFactory connects to the given miniredis regardless of the address
// in the configuration.
type MockStoreFactory struct {
	addr string
}

func (f *MockStoreFactory) NewStore(ctx context.Context, addr, password string, db int, channel string) (store.Store, error) {
	return store.NewRedisStore(ctx, f.addr, password, db, channel)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := writeFile(t, dir, "rexc_config.json", `{
		"rules_file": "lists/easylist.json",
		"extension_id": "easylist",
		"output": {"kind": "redis", "path": "out.crxb"},
		"compiler": {"max_nfa_size": 5000, "small_dfa_size": 10},
		"logging": {"level": "debug", "output": "console"},
		"redis": {"address": "redis:6380", "password": "secret", "database": 2, "channel": "lists"}
	}`)

	config, err := parseConfig([]string{"rexc", "--config", configFile})
	require.NoError(t, err)

	assert.Equal(t, &Config{
		RulesFile:      "lists/easylist.json",
		ExtensionID:    "easylist",
		OutputKind:     "redis",
		OutputPath:     "out.crxb",
		MaxNFASize:     5000,
		SmallDFASize:   10,
		LogLevel:       "debug",
		LogDestination: "console",
		RedisAddress:   "redis:6380",
		RedisPassword:  "secret",
		RedisDB:        2,
		RedisChannel:   "lists",
	}, config)
}

func TestParseConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	configFile := writeFile(t, dir, "rexc_config.json", `{}`)
	rules := filepath.Join(dir, "social.json")

	config, err := parseConfig([]string{"rexc", "-config", configFile, "-rules", rules})
	require.NoError(t, err)

	assert.Equal(t, rules, config.RulesFile)
	assert.Equal(t, "social", config.ExtensionID)
	assert.Equal(t, "file", config.OutputKind)
	assert.Equal(t, filepath.Join(dir, "social.crxb"), config.OutputPath)
	assert.Equal(t, compiler.MaxNFASize, config.MaxNFASize)
	assert.Equal(t, compiler.SmallDFASize, config.SmallDFASize)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "localhost:6379", config.RedisAddress)
	assert.Equal(t, store.DefaultChannel, config.RedisChannel)
}

func TestParseConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	configFile := writeFile(t, dir, "rexc_config.json", `{"rules_file": "a.json", "output": {"kind": "file"}}`)
	t.Setenv("CONTENTREX_LOGGING_LEVEL", "warn")
	t.Setenv("CONTENTREX_COMPILER_SMALL_DFA_SIZE", "42")

	config, err := parseConfig([]string{"rexc", "-config", configFile, "-rules", "b.json", "-output", "redis"})
	require.NoError(t, err)

	assert.Equal(t, "b.json", config.RulesFile)
	assert.Equal(t, "redis", config.OutputKind)
	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, 42, config.SmallDFASize)
}

func TestParseConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := parseConfig([]string{"rexc", "-config", filepath.Join(dir, "missing.json")})
	assert.Error(t, err)

	empty := writeFile(t, dir, "rexc_config.json", `{}`)
	_, err = parseConfig([]string{"rexc", "-config", empty})
	assert.ErrorContains(t, err, "no rule list")

	_, err = parseConfig([]string{"rexc", "-unknown"})
	assert.Error(t, err)

	invalid := writeFile(t, dir, "invalid.json", `{
		"rules_file": "a.json",
		"compiler": {"max_nfa_size": -1},
		"logging": {"level": "loud"}
	}`)
	_, err = parseConfig([]string{"rexc", "-config", invalid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config.MaxNFASize fails gt=0 (got -1)")
	assert.Contains(t, err.Error(), "Config.LogLevel fails oneof")
}

func TestRunFileOutput(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "ads.json", testRules)

	err := run(context.Background(), []string{"rexc", "-rules", rules}, &MockStoreFactory{})
	require.NoError(t, err)

	ext, err := compiler.ReadExtensionFile(filepath.Join(dir, "ads.crxb"))
	require.NoError(t, err)
	actions, err := bytecodetest.InterpretAll(ext.FiltersWithoutConditions, "https://ads.net/", 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, actions)
	assert.Len(t, ext.ConditionedFilters, 1)
}

func TestRunRedisOutput(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	rules := writeFile(t, dir, "ads.json", testRules)
	configFile := writeFile(t, dir, "rexc_config.json", fmt.Sprintf(`{
		"rules_file": %q,
		"extension_id": "ads-v2",
		"output": {"kind": "redis"},
		"redis": {"address": %q}
	}`, rules, mr.Addr()))

	err := run(context.Background(), []string{"rexc", "-config", configFile}, &MockStoreFactory{addr: mr.Addr()})
	require.NoError(t, err)
	assert.True(t, mr.Exists(store.DefaultKeyPrefix+"ads-v2"))

	st, err := store.NewRedisStore(context.Background(), mr.Addr(), "", 0, "")
	require.NoError(t, err)
	defer st.Close()
	ext, err := st.LoadExtension(context.Background(), "ads-v2")
	require.NoError(t, err)
	assert.True(t, ext.Finalized())
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "valid.json", testRules)
	invalid := writeFile(t, dir, "invalid.json", `[{"trigger": {"url-filter": "a|b"}, "action": {"type": "block"}}]`)

	err := run(context.Background(), []string{"rexc", "-rules", filepath.Join(dir, "missing.json")}, &MockStoreFactory{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = run(context.Background(), []string{"rexc", "-rules", invalid}, &MockStoreFactory{})
	assert.ErrorIs(t, err, compiler.ErrJSONInvalidRegex)
	assert.True(t, logging.IsType(err, logging.ErrorTypeCompile))

	err = run(context.Background(), []string{"rexc", "-rules", valid, "-output", "s3"}, &MockStoreFactory{})
	assert.ErrorContains(t, err, "Config.OutputKind fails oneof=file redis (got s3)")

	err = run(context.Background(), []string{"rexc", "-rules", valid, "-output", "redis"}, &MockStoreFactory{addr: "localhost:9999"})
	assert.True(t, logging.IsType(err, logging.ErrorTypeStore))
}

func TestRunWatch(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "ads.json", testRules)
	output := filepath.Join(dir, "ads.crxb")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"rexc", "-rules", rules, "-watch"}, &MockStoreFactory{})
	}()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(output)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	updated := `[
		{"trigger": {"url-filter": "ads"}, "action": {"type": "block"}},
		{"trigger": {"url-filter": "track"}, "action": {"type": "block-cookies"}}
	]`
	assert.Eventually(t, func() bool {
		// Rewrite on every attempt in case the watcher was not ready yet.
		if err := os.WriteFile(rules, []byte(updated), 0644); err != nil {
			return false
		}
		ext, err := compiler.ReadExtensionFile(output)
		return err == nil && len(ext.ConditionedFilters) == 0 && len(ext.Actions) == 2
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
