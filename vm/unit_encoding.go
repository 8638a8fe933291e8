package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Unit serialization
//
// Layout: 4-byte magic "RILU", little-endian uint32 format version, then
// the unit as canonical CBOR with integer keys.
// ---------------------------------------------------------------------------

var unitMagic = [4]byte{'R', 'I', 'L', 'U'}

const unitHeaderSize = 8

var unitEncMode cbor.EncMode

var unitDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	unitEncMode = em

	dm, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 16,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR dec mode: %v", err))
	}
	unitDecMode = dm
}

// Serialize encodes a unit. Encoding is deterministic: equal units
// produce identical bytes.
func Serialize(u *Unit) ([]byte, error) {
	body, err := unitEncMode.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal unit %s: %w", u.Name, err)
	}
	out := make([]byte, unitHeaderSize, unitHeaderSize+len(body))
	copy(out, unitMagic[:])
	binary.LittleEndian.PutUint32(out[4:], u.Version)
	return append(out, body...), nil
}

// Deserialize decodes and validates a unit. Any failure is reported as a
// *FormatError; a version other than UnitVersion wraps ErrVersionMismatch.
func Deserialize(data []byte) (*Unit, error) {
	if len(data) < unitHeaderSize {
		return nil, &FormatError{Err: ErrCorruptUnit, Detail: fmt.Sprintf("%d bytes is shorter than the header", len(data))}
	}
	if [4]byte(data[:4]) != unitMagic {
		return nil, &FormatError{Err: ErrInvalidMagic, Detail: fmt.Sprintf("got %q", data[:4])}
	}
	version := binary.LittleEndian.Uint32(data[4:])
	if version != UnitVersion {
		return nil, &FormatError{Err: ErrVersionMismatch, Detail: fmt.Sprintf("got %d, want %d", version, UnitVersion)}
	}

	var u Unit
	if err := unitDecMode.Unmarshal(data[unitHeaderSize:], &u); err != nil {
		return nil, &FormatError{Err: ErrCorruptUnit, Detail: err.Error()}
	}
	if u.Version != version {
		return nil, &FormatError{Err: ErrVersionMismatch, Detail: fmt.Sprintf("header says %d, body says %d", version, u.Version)}
	}
	for i, f := range u.Functions {
		if f == nil {
			return nil, &FormatError{Err: ErrCorruptUnit, Detail: fmt.Sprintf("function %d is missing", i)}
		}
	}
	if err := u.Validate(); err != nil {
		return nil, &FormatError{Err: ErrCorruptUnit, Detail: err.Error()}
	}
	return &u, nil
}
