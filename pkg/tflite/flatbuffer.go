package tflite

import (
	"encoding/binary"
	"fmt"
)

// buffer wraps a flatbuffer with bounds-checked accessors. Offsets in a
// flatbuffer come from untrusted model files, so every dereference is
// validated before use.
type buffer []byte

func (b buffer) uint16At(pos int) (uint16, error) {
	if pos < 0 || pos+2 > len(b) {
		return 0, fmt.Errorf("%w: u16 at %d", ErrTruncated, pos)
	}
	return binary.LittleEndian.Uint16(b[pos:]), nil
}

func (b buffer) uint32At(pos int) (uint32, error) {
	if pos < 0 || pos+4 > len(b) {
		return 0, fmt.Errorf("%w: u32 at %d", ErrTruncated, pos)
	}
	return binary.LittleEndian.Uint32(b[pos:]), nil
}

func (b buffer) int32At(pos int) (int32, error) {
	v, err := b.uint32At(pos)
	return int32(v), err
}

// uoffset resolves an unsigned relative offset stored at pos.
func (b buffer) uoffset(pos int) (int, error) {
	v, err := b.uint32At(pos)
	if err != nil {
		return 0, err
	}
	target := pos + int(v)
	if target < 0 || target >= len(b) {
		return 0, fmt.Errorf("%w: offset at %d points outside buffer", ErrTruncated, pos)
	}
	return target, nil
}

// table locates a table and its vtable starting at pos.
type table struct {
	b      buffer
	pos    int
	vtable int
	vtsize uint16
}

func (b buffer) table(pos int) (table, error) {
	soffset, err := b.int32At(pos)
	if err != nil {
		return table{}, err
	}
	vtable := pos - int(soffset)
	vtsize, err := b.uint16At(vtable)
	if err != nil {
		return table{}, fmt.Errorf("%w: vtable at %d", ErrTruncated, vtable)
	}
	return table{b: b, pos: pos, vtable: vtable, vtsize: vtsize}, nil
}

// fieldOffset returns the table-relative offset of the field, or 0 if the
// field is absent.
func (t table) fieldOffset(id int) int {
	slot := 4 + 2*id
	if slot+2 > int(t.vtsize) {
		return 0
	}
	off, err := t.b.uint16At(t.vtable + slot)
	if err != nil {
		return 0
	}
	return int(off)
}

// scalarByte reads a byte-sized scalar field, falling back to the schema
// default when absent.
func (t table) scalarByte(id int, def byte) byte {
	off := t.fieldOffset(id)
	if off == 0 {
		return def
	}
	pos := t.pos + off
	if pos < 0 || pos >= len(t.b) {
		return def
	}
	return t.b[pos]
}

// indirect resolves an offset-valued field (table, vector or string). The
// second result reports whether the field is present.
func (t table) indirect(id int) (int, bool, error) {
	off := t.fieldOffset(id)
	if off == 0 {
		return 0, false, nil
	}
	target, err := t.b.uoffset(t.pos + off)
	if err != nil {
		return 0, false, err
	}
	return target, true, nil
}

// vectorLen reads the element count of the vector at pos.
func (b buffer) vectorLen(pos int) (int, error) {
	n, err := b.uint32At(pos)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// vectorInt32 reads element i of an int32 vector.
func (b buffer) vectorInt32(pos, i int) (int32, error) {
	n, err := b.vectorLen(pos)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: vector index %d of %d", ErrTruncated, i, n)
	}
	return b.int32At(pos + 4 + 4*i)
}

// vectorTable resolves element i of a vector of tables.
func (b buffer) vectorTable(pos, i int) (table, error) {
	n, err := b.vectorLen(pos)
	if err != nil {
		return table{}, err
	}
	if i < 0 || i >= n {
		return table{}, fmt.Errorf("%w: vector index %d of %d", ErrTruncated, i, n)
	}
	elem := pos + 4 + 4*i
	target, err := b.uoffset(elem)
	if err != nil {
		return table{}, err
	}
	return b.table(target)
}
