// Package tflite derives feature-map sizes from a TFLite model. Only the
// small slice of the flatbuffer format needed to walk Model -> SubGraph ->
// Tensor is implemented: enough to size the input tensors of the first
// subgraph and the output tensors of the last one.
package tflite

import (
	"errors"
	"fmt"
)

var (
	// ErrNotModel indicates the buffer does not carry the TFLite file
	// identifier.
	ErrNotModel = errors.New("not a TFLite model")

	// ErrTruncated indicates an offset or vector ran past the end of the
	// buffer.
	ErrTruncated = errors.New("truncated model")

	// ErrUnsupportedTensorType indicates a tensor whose element size is
	// unknown to this stack.
	ErrUnsupportedTensorType = errors.New("unsupported tensor type")
)

// fileIdentifier is the 4-byte tag following the root offset.
const fileIdentifier = "TFL3"

// Flatbuffer field ids from the TFLite schema.
const (
	modelFieldSubgraphs = 2

	subgraphFieldTensors = 0
	subgraphFieldInputs  = 1
	subgraphFieldOutputs = 2

	tensorFieldShape = 0
	tensorFieldType  = 1
)

// Tensor element types from the TFLite schema, limited to the ones the
// firmware can consume.
const (
	tensorTypeFloat32 = 0
	tensorTypeInt32   = 2
	tensorTypeUint8   = 3
	tensorTypeInt16   = 7
	tensorTypeInt8    = 9
)

func tensorTypeSize(t byte) (uint32, error) {
	switch t {
	case tensorTypeUint8, tensorTypeInt8:
		return 1, nil
	case tensorTypeInt16:
		return 2, nil
	case tensorTypeInt32, tensorTypeFloat32:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedTensorType, t)
	}
}

// ParseDims returns the byte sizes of the input feature maps of the model's
// first subgraph and the output feature maps of its last subgraph. Zero-sized
// tensors are elided.
func ParseDims(model []byte) (ifm, ofm []uint32, err error) {
	b := buffer(model)

	if len(model) < 8 || string(model[4:8]) != fileIdentifier {
		return nil, nil, ErrNotModel
	}

	root, err := b.uoffset(0)
	if err != nil {
		return nil, nil, err
	}

	modelTable, err := b.table(root)
	if err != nil {
		return nil, nil, err
	}

	subgraphs, ok, err := modelTable.indirect(modelFieldSubgraphs)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: model has no subgraphs", ErrTruncated)
	}

	count, err := b.vectorLen(subgraphs)
	if err != nil {
		return nil, nil, err
	}
	if count == 0 {
		return nil, nil, fmt.Errorf("%w: model has no subgraphs", ErrTruncated)
	}

	first, err := b.vectorTable(subgraphs, 0)
	if err != nil {
		return nil, nil, err
	}
	last, err := b.vectorTable(subgraphs, count-1)
	if err != nil {
		return nil, nil, err
	}

	ifm, err = subgraphDims(b, first, subgraphFieldInputs)
	if err != nil {
		return nil, nil, err
	}
	ofm, err = subgraphDims(b, last, subgraphFieldOutputs)
	if err != nil {
		return nil, nil, err
	}

	return ifm, ofm, nil
}

// subgraphDims sizes the tensors named by the subgraph's input or output
// tensor map.
func subgraphDims(b buffer, subgraph table, mapField int) ([]uint32, error) {
	tensors, ok, err := subgraph.indirect(subgraphFieldTensors)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: subgraph has no tensors", ErrTruncated)
	}

	tensorMap, ok, err := subgraph.indirect(mapField)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	count, err := b.vectorLen(tensorMap)
	if err != nil {
		return nil, err
	}

	var dims []uint32
	for i := 0; i < count; i++ {
		index, err := b.vectorInt32(tensorMap, i)
		if err != nil {
			return nil, err
		}

		tensorCount, err := b.vectorLen(tensors)
		if err != nil {
			return nil, err
		}
		if index < 0 || int(index) >= tensorCount {
			return nil, fmt.Errorf("%w: tensor index %d out of range", ErrTruncated, index)
		}

		tensor, err := b.vectorTable(tensors, int(index))
		if err != nil {
			return nil, err
		}

		size, err := tensorSize(b, tensor)
		if err != nil {
			return nil, err
		}
		if size > 0 {
			dims = append(dims, size)
		}
	}

	return dims, nil
}

// tensorSize is the product of the tensor's shape times its element size.
func tensorSize(b buffer, tensor table) (uint32, error) {
	elemSize, err := tensorTypeSize(tensor.scalarByte(tensorFieldType, tensorTypeFloat32))
	if err != nil {
		return 0, err
	}

	shape, ok, err := tensor.indirect(tensorFieldShape)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	count, err := b.vectorLen(shape)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	size := elemSize
	for i := 0; i < count; i++ {
		dim, err := b.vectorInt32(shape, i)
		if err != nil {
			return 0, err
		}
		if dim < 0 {
			return 0, fmt.Errorf("%w: negative dimension", ErrTruncated)
		}
		size *= uint32(dim)
	}

	return size, nil
}
