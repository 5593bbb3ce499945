// contentrex/pkg/compiler/extension_file.go

package compiler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"rgehrsitz/contentrex/pkg/logging"
)

// Extension file layout, little endian:
//
//	magic    [4]byte "CRXB"
//	version  uint32
//	checksum uint64  xxhash of everything after the header
//	actions  uint32 length, bytes
//	3 times  uint32 chunk count, then per chunk uint32 length, bytes
//
// The three chunk lists are the filters without conditions, the filters with
// conditions and the domain condition filters.
const (
	FileVersion    = 1
	FileHeaderSize = 16
)

var fileMagic = [4]byte{'C', 'R', 'X', 'B'}

var (
	ErrBadMagic        = errors.New("not a compiled content extension")
	ErrUnknownVersion  = errors.New("unsupported content extension version")
	ErrChecksum        = errors.New("content extension checksum mismatch")
	ErrTruncatedFile   = errors.New("content extension is truncated")
	ErrNotFinalized    = errors.New("content extension is not finalized")
	ErrTrailingPayload = errors.New("content extension has trailing bytes")
)

// Encode serializes a finalized extension.
func Encode(ext *CompiledExtension) ([]byte, error) {
	if !ext.Finalized() {
		return nil, ErrNotFinalized
	}

	body := new(bytes.Buffer)
	if err := writeBlob(body, ext.Actions); err != nil {
		return nil, err
	}
	for _, stream := range ext.streams() {
		if err := binary.Write(body, binary.LittleEndian, uint32(len(stream))); err != nil {
			return nil, err
		}
		for _, chunk := range stream {
			if err := writeBlob(body, chunk); err != nil {
				return nil, err
			}
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, FileHeaderSize+body.Len()))
	buf.Write(fileMagic[:])
	if err := binary.Write(buf, binary.LittleEndian, uint32(FileVersion)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, xxhash.Sum64(body.Bytes())); err != nil {
		return nil, err
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func writeBlob(buf *bytes.Buffer, blob []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(blob))); err != nil {
		return err
	}
	_, err := buf.Write(blob)
	return err
}

func (c *CompiledExtension) streams() [3][][]byte {
	return [3][][]byte{c.FiltersWithoutConditions, c.FiltersWithConditions, c.ConditionedFilters}
}

// Decode parses the output of Encode. The result is finalized.
func Decode(data []byte) (*CompiledExtension, error) {
	if len(data) < FileHeaderSize {
		return nil, ErrTruncatedFile
	}
	if !bytes.Equal(data[:4], fileMagic[:]) {
		return nil, ErrBadMagic
	}
	if version := binary.LittleEndian.Uint32(data[4:]); version != FileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	body := data[FileHeaderSize:]
	if binary.LittleEndian.Uint64(data[8:]) != xxhash.Sum64(body) {
		return nil, ErrChecksum
	}

	r := &blobReader{data: body}
	ext := &CompiledExtension{stage: stageFinalized}
	ext.Actions = r.blob()
	ext.FiltersWithoutConditions = r.chunks()
	ext.FiltersWithConditions = r.chunks()
	ext.ConditionedFilters = r.chunks()
	if r.err != nil {
		return nil, r.err
	}
	if r.offset != len(body) {
		return nil, ErrTrailingPayload
	}
	return ext, nil
}

type blobReader struct {
	data   []byte
	offset int
	err    error
}

func (r *blobReader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.data)-r.offset < 4 {
		r.err = ErrTruncatedFile
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *blobReader) blob() []byte {
	length := int(r.uint32())
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.offset < length {
		r.err = ErrTruncatedFile
		return nil
	}
	blob := bytes.Clone(r.data[r.offset : r.offset+length])
	r.offset += length
	return blob
}

func (r *blobReader) chunks() [][]byte {
	count := int(r.uint32())
	var chunks [][]byte
	for i := 0; i < count && r.err == nil; i++ {
		chunks = append(chunks, r.blob())
	}
	return chunks
}

// WriteExtensionFile encodes ext and writes it to filename.
func WriteExtensionFile(filename string, ext *CompiledExtension) error {
	data, err := Encode(ext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}
	logging.Logger.Info().Str("file", filename).Int("bytes", len(data)).Msg("Wrote content extension")
	return nil
}

// ReadExtensionFile reads a file written by WriteExtensionFile.
func ReadExtensionFile(filename string) (*CompiledExtension, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	ext, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return ext, nil
}

// FileClient collects the compiled extension in memory and writes it to Path
// when the compilation finalizes it.
type FileClient struct {
	CompiledExtension
	Path string
}

func NewFileClient(path string) *FileClient {
	return &FileClient{Path: path}
}

func (c *FileClient) Finalize() error {
	if err := c.CompiledExtension.Finalize(); err != nil {
		return err
	}
	return WriteExtensionFile(c.Path, &c.CompiledExtension)
}
