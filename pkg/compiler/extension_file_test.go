// contentrex/pkg/compiler/extension_file_test.go

package compiler

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extensionRules = `[
	{"trigger": {"url-filter": "ads"}, "action": {"type": "block"}},
	{"trigger": {"url-filter": ".*"}, "action": {"type": "css-display-none", "selector": ".ad"}},
	{"trigger": {"url-filter": "pop", "if-domain": ["*example.com"]}, "action": {"type": "block-cookies"}}
]`

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ext := compileJSON(t, extensionRules, Options{})

	data, err := Encode(ext)
	require.NoError(t, err)
	assert.Equal(t, []byte("CRXB"), data[:4])
	assert.Equal(t, uint32(FileVersion), binary.LittleEndian.Uint32(data[4:]))

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ext, decoded)
	assert.True(t, decoded.Finalized())
}

func TestEncodeRequiresFinalized(t *testing.T) {
	ext := &CompiledExtension{}
	require.NoError(t, ext.WriteActions([]byte{0}))

	_, err := Encode(ext)
	assert.ErrorIs(t, err, ErrNotFinalized)
}

func TestDecodeErrors(t *testing.T) {
	data, err := Encode(compileJSON(t, extensionRules, Options{}))
	require.NoError(t, err)

	// resum recomputes the checksum so that only the damage under test is seen.
	resum := func(b []byte) []byte {
		binary.LittleEndian.PutUint64(b[8:], xxhash.Sum64(b[FileHeaderSize:]))
		return b
	}

	tests := []struct {
		name     string
		mutate   func([]byte) []byte
		expected error
	}{
		{"short header", func(b []byte) []byte { return b[:FileHeaderSize-1] }, ErrTruncatedFile},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrBadMagic},
		{"future version", func(b []byte) []byte { b[4] = 2; return b }, ErrUnknownVersion},
		{"flipped body byte", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }, ErrChecksum},
		{"truncated body", func(b []byte) []byte { return resum(b[:len(b)-3]) }, ErrTruncatedFile},
		{"trailing bytes", func(b []byte) []byte { return resum(append(b, 0)) }, ErrTrailingPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			damaged := tt.mutate(append([]byte(nil), data...))
			_, err := Decode(damaged)
			assert.True(t, errors.Is(err, tt.expected), "got %v", err)
		})
	}
}

func TestFileClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.crxb")
	client := NewFileClient(path)

	require.NoError(t, CompileRuleList(client, []byte(extensionRules), Options{}))

	read, err := ReadExtensionFile(path)
	require.NoError(t, err)
	assert.Equal(t, &client.CompiledExtension, read)

	assert.ElementsMatch(t, []string{"block", "css-display-none .ad"},
		describe(t, read, read.FiltersWithoutConditions, "https://ads.net/", 0))
}

func TestReadExtensionFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadExtensionFile(filepath.Join(dir, "missing.crxb"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	garbage := filepath.Join(dir, "garbage.crxb")
	require.NoError(t, os.WriteFile(garbage, []byte("not an extension file"), 0644))
	_, err = ReadExtensionFile(garbage)
	assert.ErrorIs(t, err, ErrBadMagic)
	assert.Contains(t, err.Error(), garbage)
}
