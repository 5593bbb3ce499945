// contentrex/tools/compile_bench/compile_bench_main_test.go

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/contentrex/pkg/compiler"
)

func writeRuleList(t *testing.T, n int) string {
	t.Helper()
	rules := make([]string, n)
	for i := range rules {
		rules[i] = fmt.Sprintf(`{"trigger": {"url-filter": "^https?://tracker%d\\.example/"}, "action": {"type": "block"}}`, i)
	}
	path := filepath.Join(t.TempDir(), fmt.Sprintf("list%d.json", n))
	require.NoError(t, os.WriteFile(path, []byte("["+strings.Join(rules, ",")+"]"), 0644))
	return path
}

func TestParseFlags(t *testing.T) {
	opts, files, err := parseFlags([]string{"-iterations", "3", "-small-dfa", "20", "a.json", "b.json"})
	require.NoError(t, err)
	assert.Equal(t, benchOptions{iterations: 3, maxNFASize: compiler.MaxNFASize, smallDFASize: 20}, opts)
	assert.Equal(t, []string{"a.json", "b.json"}, files)

	_, _, err = parseFlags([]string{})
	assert.ErrorContains(t, err, "no rule list")

	_, _, err = parseFlags([]string{"-iterations", "0", "a.json"})
	assert.Error(t, err)
}

func TestBenchmarkFile(t *testing.T) {
	path := writeRuleList(t, 40)

	var progress bytes.Buffer
	res, err := benchmarkFile(path, benchOptions{iterations: 3, maxNFASize: 200, smallDFASize: 50}, &progress)
	require.NoError(t, err)

	assert.Equal(t, 40, res.rules)
	assert.Equal(t, 1, res.actions)
	assert.Greater(t, res.bytecode, 0)
	assert.GreaterOrEqual(t, res.machines, 3)
	assert.LessOrEqual(t, res.min, res.median)
	assert.LessOrEqual(t, res.median, res.max)
	assert.Contains(t, progress.String(), filepath.Base(path))
}

func TestRun(t *testing.T) {
	small := writeRuleList(t, 5)
	large := writeRuleList(t, 200)

	var out bytes.Buffer
	require.NoError(t, run([]string{"-quiet", "-iterations", "2", small, large}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "file"))
	assert.True(t, strings.HasPrefix(lines[1], "list5.json"))
	assert.True(t, strings.HasPrefix(lines[2], "list200.json"))
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`[{"trigger": {"url-filter": "a|b"}, "action": {"type": "block"}}]`), 0644))

	err := run([]string{"-quiet", invalid}, io.Discard)
	assert.ErrorIs(t, err, compiler.ErrJSONInvalidRegex)

	err = run([]string{"-quiet", filepath.Join(dir, "missing.json")}, io.Discard)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
