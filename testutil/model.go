package testutil

import "encoding/binary"

// Fake model geometry: one subgraph with a 1x8x8x1 uint8 input and a 1x10
// int8 output.
const (
	FakeModelIfmSize = 64
	FakeModelOfmSize = 10
)

// FakeModel builds a minimal valid TFLite flatbuffer: a Model with one
// SubGraph, two tensors, one input and one output. Offsets are laid out by
// hand; the layout mirrors what the flatbuffer compiler emits for this
// shape.
func FakeModel() []byte {
	data := make([]byte, 160)
	le := binary.LittleEndian

	u32 := func(pos int, v uint32) { le.PutUint32(data[pos:], v) }
	u16 := func(pos int, v uint16) { le.PutUint16(data[pos:], v) }

	// Header: root table offset and file identifier.
	u32(0, 20)
	copy(data[4:8], "TFL3")

	// Model vtable: version (id 0), operator_codes (id 1, absent),
	// subgraphs (id 2).
	u16(8, 10)  // vtable size
	u16(10, 12) // table size
	u16(12, 4)  // version
	u16(14, 0)  // operator_codes
	u16(16, 8)  // subgraphs

	// Model table.
	u32(20, 12)      // soffset to vtable
	u32(24, 3)       // version
	u32(28, 32-28)   // subgraphs vector

	// Subgraphs vector: one subgraph.
	u32(32, 1)
	u32(36, 52-36)

	// SubGraph vtable: tensors (id 0), inputs (id 1), outputs (id 2).
	u16(40, 10)
	u16(42, 16)
	u16(44, 4)
	u16(46, 8)
	u16(48, 12)

	// SubGraph table.
	u32(52, 12)     // soffset
	u32(56, 84-56)  // tensors vector
	u32(60, 68-60)  // inputs vector
	u32(64, 76-64)  // outputs vector

	// Inputs: tensor 0. Outputs: tensor 1.
	u32(68, 1)
	u32(72, 0)
	u32(76, 1)
	u32(80, 1)

	// Tensors vector: two tensors.
	u32(84, 2)
	u32(88, 104-88)
	u32(92, 116-92)

	// Tensor vtable: shape (id 0), type (id 1).
	u16(96, 8)
	u16(98, 12)
	u16(100, 4)
	u16(102, 8)

	// Tensor 0: shape [1 8 8 1], type uint8.
	u32(104, 104-96)
	u32(108, 128-108)
	data[112] = 3 // TensorType UINT8

	// Tensor 1: shape [1 10], type int8.
	u32(116, 116-96)
	u32(120, 148-120)
	data[124] = 9 // TensorType INT8

	// Shape vectors.
	u32(128, 4)
	u32(132, 1)
	u32(136, 8)
	u32(140, 8)
	u32(144, 1)

	u32(148, 2)
	u32(152, 1)
	u32(156, 10)

	return data
}

// FakeModelBadType returns the fake model with the input tensor retyped to
// int64, which the parser must reject.
func FakeModelBadType() []byte {
	data := FakeModel()
	data[112] = 4 // TensorType INT64
	return data
}
