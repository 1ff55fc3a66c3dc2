package core

import (
	"encoding/binary"
	"fmt"
)

// Packed sizes of the on-wire layouts. All multi-byte fields are
// little-endian and structs carry no padding.
const (
	MsgHeaderSize          = 12
	BufferSize             = 8
	NetworkSize            = 12
	VersionRspSize         = 4
	ErrSize                = 4 + MaxErrLength
	CapabilitiesReqSize    = 8
	CapabilitiesRspSize    = 21
	InferenceReqSize       = 8 + 4 + MaxIfms*BufferSize + 4 + MaxOfms*BufferSize + NetworkSize + MaxPmus + 4
	InferenceRspSize       = 8 + 4 + MaxOfms*4 + 4 + MaxPmus + MaxPmus*4 + 4 + 8
	NetworkInfoReqSize     = 8 + NetworkSize
	NetworkInfoRspSize     = 8 + MaxDescLength + 4 + MaxIfms*4 + 4 + MaxOfms*4 + 4
	CancelInferenceReqSize = 16
	CancelInferenceRspSize = 12
)

func parseError(what string, got, want int) error {
	return NewErrorWithCause(StatusInvalidFrame, "parsing "+what,
		fmt.Errorf("payload is %d bytes, expected %d", got, want))
}

// PackMsgHeader packs a message header.
func PackMsgHeader(h MsgHeader) []byte {
	buf := make([]byte, MsgHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Type)
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
	return buf
}

// ParseMsgHeader parses a message header. The magic is not validated here;
// the mailbox checks it and logs the value it found.
func ParseMsgHeader(data []byte) (MsgHeader, error) {
	if len(data) < MsgHeaderSize {
		return MsgHeader{}, parseError("message header", len(data), MsgHeaderSize)
	}
	return MsgHeader{
		Magic:  binary.LittleEndian.Uint32(data[0:4]),
		Type:   binary.LittleEndian.Uint32(data[4:8]),
		Length: binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}

func putBuffer(buf []byte, b Buffer) {
	binary.LittleEndian.PutUint32(buf[0:4], b.Ptr)
	binary.LittleEndian.PutUint32(buf[4:8], b.Size)
}

func getBuffer(buf []byte) Buffer {
	return Buffer{
		Ptr:  binary.LittleEndian.Uint32(buf[0:4]),
		Size: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

func putNetwork(buf []byte, n Network) {
	binary.LittleEndian.PutUint32(buf[0:4], n.Kind)
	if n.Kind == NetworkIndex {
		binary.LittleEndian.PutUint32(buf[4:8], n.Index)
		binary.LittleEndian.PutUint32(buf[8:12], 0)
	} else {
		putBuffer(buf[4:12], n.Buffer)
	}
}

func getNetwork(buf []byte) Network {
	n := Network{Kind: binary.LittleEndian.Uint32(buf[0:4])}
	if n.Kind == NetworkIndex {
		n.Index = binary.LittleEndian.Uint32(buf[4:8])
	} else {
		n.Buffer = getBuffer(buf[4:12])
	}
	return n
}

// PackVersionRsp packs a version response.
func PackVersionRsp(v VersionRsp) []byte {
	return []byte{v.Major, v.Minor, v.Patch, 0}
}

// ParseVersionRsp parses a version response.
func ParseVersionRsp(data []byte) (VersionRsp, error) {
	if len(data) != VersionRspSize {
		return VersionRsp{}, parseError("version response", len(data), VersionRspSize)
	}
	return VersionRsp{Major: data[0], Minor: data[1], Patch: data[2]}, nil
}

// PackErr packs an error message.
func PackErr(e Err) []byte {
	buf := make([]byte, ErrSize)
	binary.LittleEndian.PutUint32(buf[0:4], e.Type)
	copy(buf[4:], e.Msg[:])
	return buf
}

// ParseErr parses an error message.
func ParseErr(data []byte) (Err, error) {
	if len(data) != ErrSize {
		return Err{}, parseError("error message", len(data), ErrSize)
	}
	e := Err{Type: binary.LittleEndian.Uint32(data[0:4])}
	copy(e.Msg[:], data[4:])
	return e, nil
}

// ErrString returns the NUL-terminated message string of an error frame.
func ErrString(e Err) string {
	for i, b := range e.Msg {
		if b == 0 {
			return string(e.Msg[:i])
		}
	}
	return string(e.Msg[:])
}

// PackCapabilitiesReq packs a capabilities request.
func PackCapabilitiesReq(r CapabilitiesReq) []byte {
	buf := make([]byte, CapabilitiesReqSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.UserArg)
	return buf
}

// ParseCapabilitiesReq parses a capabilities request.
func ParseCapabilitiesReq(data []byte) (CapabilitiesReq, error) {
	if len(data) != CapabilitiesReqSize {
		return CapabilitiesReq{}, parseError("capabilities request", len(data), CapabilitiesReqSize)
	}
	return CapabilitiesReq{UserArg: binary.LittleEndian.Uint64(data[0:8])}, nil
}

// PackCapabilitiesRsp packs a capabilities response.
func PackCapabilitiesRsp(r CapabilitiesRsp) []byte {
	buf := make([]byte, CapabilitiesRspSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.UserArg)
	buf[8] = r.VersionStatus
	buf[9] = r.VersionMinor
	buf[10] = r.VersionMajor
	buf[11] = r.ProductMajor
	buf[12] = r.ArchPatchRev
	buf[13] = r.ArchMinorRev
	buf[14] = r.ArchMajorRev
	buf[15] = r.DriverPatchRev
	buf[16] = r.DriverMinorRev
	buf[17] = r.DriverMajorRev
	buf[18] = r.MacsPerCC
	buf[19] = r.CmdStreamVersion
	buf[20] = r.CustomDMA
	return buf
}

// ParseCapabilitiesRsp parses a capabilities response.
func ParseCapabilitiesRsp(data []byte) (CapabilitiesRsp, error) {
	if len(data) != CapabilitiesRspSize {
		return CapabilitiesRsp{}, parseError("capabilities response", len(data), CapabilitiesRspSize)
	}
	return CapabilitiesRsp{
		UserArg:          binary.LittleEndian.Uint64(data[0:8]),
		VersionStatus:    data[8],
		VersionMinor:     data[9],
		VersionMajor:     data[10],
		ProductMajor:     data[11],
		ArchPatchRev:     data[12],
		ArchMinorRev:     data[13],
		ArchMajorRev:     data[14],
		DriverPatchRev:   data[15],
		DriverMinorRev:   data[16],
		DriverMajorRev:   data[17],
		MacsPerCC:        data[18],
		CmdStreamVersion: data[19],
		CustomDMA:        data[20],
	}, nil
}

// PackInferenceReq packs an inference request.
func PackInferenceReq(r InferenceReq) []byte {
	buf := make([]byte, InferenceReqSize)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], r.UserArg)
	offset += 8

	binary.LittleEndian.PutUint32(buf[offset:], r.IfmCount)
	offset += 4
	for i := 0; i < MaxIfms; i++ {
		putBuffer(buf[offset:], r.Ifm[i])
		offset += BufferSize
	}

	binary.LittleEndian.PutUint32(buf[offset:], r.OfmCount)
	offset += 4
	for i := 0; i < MaxOfms; i++ {
		putBuffer(buf[offset:], r.Ofm[i])
		offset += BufferSize
	}

	putNetwork(buf[offset:], r.Network)
	offset += NetworkSize

	copy(buf[offset:], r.PmuEventConfig[:])
	offset += MaxPmus

	binary.LittleEndian.PutUint32(buf[offset:], r.PmuCycleCounterEnable)

	return buf
}

// ParseInferenceReq parses an inference request.
func ParseInferenceReq(data []byte) (InferenceReq, error) {
	if len(data) != InferenceReqSize {
		return InferenceReq{}, parseError("inference request", len(data), InferenceReqSize)
	}
	var r InferenceReq
	offset := 0

	r.UserArg = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	r.IfmCount = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	for i := 0; i < MaxIfms; i++ {
		r.Ifm[i] = getBuffer(data[offset:])
		offset += BufferSize
	}

	r.OfmCount = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	for i := 0; i < MaxOfms; i++ {
		r.Ofm[i] = getBuffer(data[offset:])
		offset += BufferSize
	}

	r.Network = getNetwork(data[offset:])
	offset += NetworkSize

	copy(r.PmuEventConfig[:], data[offset:offset+MaxPmus])
	offset += MaxPmus

	r.PmuCycleCounterEnable = binary.LittleEndian.Uint32(data[offset:])

	return r, nil
}

// PackInferenceRsp packs an inference response.
func PackInferenceRsp(r InferenceRsp) []byte {
	buf := make([]byte, InferenceRspSize)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], r.UserArg)
	offset += 8

	binary.LittleEndian.PutUint32(buf[offset:], r.OfmCount)
	offset += 4
	for i := 0; i < MaxOfms; i++ {
		binary.LittleEndian.PutUint32(buf[offset:], r.OfmSize[i])
		offset += 4
	}

	binary.LittleEndian.PutUint32(buf[offset:], r.Status)
	offset += 4

	copy(buf[offset:], r.PmuEventConfig[:])
	offset += MaxPmus
	for i := 0; i < MaxPmus; i++ {
		binary.LittleEndian.PutUint32(buf[offset:], r.PmuEventCount[i])
		offset += 4
	}

	binary.LittleEndian.PutUint32(buf[offset:], r.PmuCycleCounterEnable)
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], r.PmuCycleCounterCount)

	return buf
}

// ParseInferenceRsp parses an inference response.
func ParseInferenceRsp(data []byte) (InferenceRsp, error) {
	if len(data) != InferenceRspSize {
		return InferenceRsp{}, parseError("inference response", len(data), InferenceRspSize)
	}
	var r InferenceRsp
	offset := 0

	r.UserArg = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	r.OfmCount = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	for i := 0; i < MaxOfms; i++ {
		r.OfmSize[i] = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}

	r.Status = binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	copy(r.PmuEventConfig[:], data[offset:offset+MaxPmus])
	offset += MaxPmus
	for i := 0; i < MaxPmus; i++ {
		r.PmuEventCount[i] = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}

	r.PmuCycleCounterEnable = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	r.PmuCycleCounterCount = binary.LittleEndian.Uint64(data[offset:])

	return r, nil
}

// PackNetworkInfoReq packs a network info request.
func PackNetworkInfoReq(r NetworkInfoReq) []byte {
	buf := make([]byte, NetworkInfoReqSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.UserArg)
	putNetwork(buf[8:], r.Network)
	return buf
}

// ParseNetworkInfoReq parses a network info request.
func ParseNetworkInfoReq(data []byte) (NetworkInfoReq, error) {
	if len(data) != NetworkInfoReqSize {
		return NetworkInfoReq{}, parseError("network info request", len(data), NetworkInfoReqSize)
	}
	return NetworkInfoReq{
		UserArg: binary.LittleEndian.Uint64(data[0:8]),
		Network: getNetwork(data[8:]),
	}, nil
}

// PackNetworkInfoRsp packs a network info response.
func PackNetworkInfoRsp(r NetworkInfoRsp) []byte {
	buf := make([]byte, NetworkInfoRspSize)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], r.UserArg)
	offset += 8

	copy(buf[offset:], r.Desc[:])
	offset += MaxDescLength

	binary.LittleEndian.PutUint32(buf[offset:], r.IfmCount)
	offset += 4
	for i := 0; i < MaxIfms; i++ {
		binary.LittleEndian.PutUint32(buf[offset:], r.IfmSize[i])
		offset += 4
	}

	binary.LittleEndian.PutUint32(buf[offset:], r.OfmCount)
	offset += 4
	for i := 0; i < MaxOfms; i++ {
		binary.LittleEndian.PutUint32(buf[offset:], r.OfmSize[i])
		offset += 4
	}

	binary.LittleEndian.PutUint32(buf[offset:], r.Status)

	return buf
}

// ParseNetworkInfoRsp parses a network info response.
func ParseNetworkInfoRsp(data []byte) (NetworkInfoRsp, error) {
	if len(data) != NetworkInfoRspSize {
		return NetworkInfoRsp{}, parseError("network info response", len(data), NetworkInfoRspSize)
	}
	var r NetworkInfoRsp
	offset := 0

	r.UserArg = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	copy(r.Desc[:], data[offset:offset+MaxDescLength])
	offset += MaxDescLength

	r.IfmCount = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	for i := 0; i < MaxIfms; i++ {
		r.IfmSize[i] = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}

	r.OfmCount = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	for i := 0; i < MaxOfms; i++ {
		r.OfmSize[i] = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}

	r.Status = binary.LittleEndian.Uint32(data[offset:])

	return r, nil
}

// DescString returns the NUL-terminated description of a network info
// response.
func DescString(r NetworkInfoRsp) string {
	for i, b := range r.Desc {
		if b == 0 {
			return string(r.Desc[:i])
		}
	}
	return string(r.Desc[:])
}

// PackCancelInferenceReq packs a cancel inference request.
func PackCancelInferenceReq(r CancelInferenceReq) []byte {
	buf := make([]byte, CancelInferenceReqSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.UserArg)
	binary.LittleEndian.PutUint64(buf[8:16], r.InferenceHandle)
	return buf
}

// ParseCancelInferenceReq parses a cancel inference request.
func ParseCancelInferenceReq(data []byte) (CancelInferenceReq, error) {
	if len(data) != CancelInferenceReqSize {
		return CancelInferenceReq{}, parseError("cancel inference request", len(data), CancelInferenceReqSize)
	}
	return CancelInferenceReq{
		UserArg:         binary.LittleEndian.Uint64(data[0:8]),
		InferenceHandle: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// PackCancelInferenceRsp packs a cancel inference response.
func PackCancelInferenceRsp(r CancelInferenceRsp) []byte {
	buf := make([]byte, CancelInferenceRspSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.UserArg)
	binary.LittleEndian.PutUint32(buf[8:12], r.Status)
	return buf
}

// ParseCancelInferenceRsp parses a cancel inference response.
func ParseCancelInferenceRsp(data []byte) (CancelInferenceRsp, error) {
	if len(data) != CancelInferenceRspSize {
		return CancelInferenceRsp{}, parseError("cancel inference response", len(data), CancelInferenceRspSize)
	}
	return CancelInferenceRsp{
		UserArg: binary.LittleEndian.Uint64(data[0:8]),
		Status:  binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}
