package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Cache keys
//
// A key is the SHA-256 of a deterministic serialization of every input
// that can change the compiled unit. Tags are frozen: changing the
// meaning of a tag byte silently aliases old entries, so bump KeyVersion
// instead.
//
//   - First byte: KeyVersion
//   - Fields: tag byte, then the value
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Integers: uint32 big-endian
// ---------------------------------------------------------------------------

// KeyVersion prefixes every serialization.
const KeyVersion byte = 1

const (
	tagSource      byte = 0x01
	tagModule      byte = 0x02
	tagSourceName  byte = 0x03
	tagLowering    byte = 0x04
	tagEnvironment byte = 0x05
	tagUnitVersion byte = 0x06
)

// Key identifies a compilation.
type Key [32]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// Request describes one compilation.
type Request struct {
	Source      string
	Module      string
	SourceName  string
	Lowering    compiler.Lowering // nil means direct
	Environment *compiler.Names
}

func (r Request) lowering() compiler.Lowering {
	if r.Lowering == nil {
		return compiler.DirectLowering{}
	}
	return r.Lowering
}

// Options converts the request into compiler options.
func (r Request) Options() []compiler.Option {
	return []compiler.Option{
		compiler.WithLowering(r.lowering()),
		compiler.WithEnvironment(r.Environment),
		compiler.WithSourceName(r.SourceName),
	}
}

// Key hashes the request.
func (r Request) Key() Key {
	var w keyWriter
	w.buf = append(w.buf, KeyVersion)
	w.str(tagSource, r.Source)
	w.str(tagModule, r.Module)
	w.str(tagSourceName, r.SourceName)
	w.str(tagLowering, r.lowering().Name())

	names := r.Environment.All()
	w.uint(tagEnvironment, uint32(len(names)))
	for _, name := range names {
		w.writeString(name)
	}
	w.uint(tagUnitVersion, vm.UnitVersion)
	return sha256.Sum256(w.buf)
}

type keyWriter struct {
	buf []byte
}

func (w *keyWriter) writeString(s string) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *keyWriter) str(tag byte, s string) {
	w.buf = append(w.buf, tag)
	w.writeString(s)
}

func (w *keyWriter) uint(tag byte, v uint32) {
	w.buf = append(w.buf, tag)
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}
