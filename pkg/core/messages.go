// Package core implements the message interface shared with the Ethos-U
// firmware. Message structs are exchanged over the shared-memory queues in a
// packed little-endian layout; the pack and parse helpers in this package are
// the only place that layout is spelled out.
package core

// Message types exchanged between the host and the firmware.
const (
	MsgTypePing uint32 = iota + 1
	MsgTypePong
	MsgTypeErr
	MsgTypeVersionReq
	MsgTypeVersionRsp
	MsgTypeCapabilitiesReq
	MsgTypeCapabilitiesRsp
	MsgTypeInferenceReq
	MsgTypeInferenceRsp
	MsgTypeNetworkInfoReq
	MsgTypeNetworkInfoRsp
	MsgTypeCancelInferenceReq
	MsgTypeCancelInferenceRsp
	MsgTypeMax
)

// Protocol constants.
const (
	// MsgMagic prefixes every frame on the queue ("UHTE" on the wire).
	MsgMagic uint32 = 0x45544855

	// MsgVersionMajor and MsgVersionMinor are the message interface version
	// this host was built against. A firmware that reports a different
	// version is logged but not rejected.
	MsgVersionMajor uint8 = 1
	MsgVersionMinor uint8 = 0
	MsgVersionPatch uint8 = 0

	// MaxIfms and MaxOfms bound the buffer arrays in an inference request.
	MaxIfms = 16
	MaxOfms = 16

	// MaxPmus is the number of PMU event slots carried by an inference.
	MaxPmus = 4

	// MaxErrLength bounds the message string in an error frame.
	MaxErrLength = 128

	// MaxDescLength bounds the network description string.
	MaxDescLength = 32

	// MaxPayloadSize is an upper bound on the payload of any known message,
	// used to size receive buffers.
	MaxPayloadSize = 512
)

// MsgHeader prefixes every message on a queue.
type MsgHeader struct {
	Magic  uint32
	Type   uint32
	Length uint32
}

// Buffer describes a DMA region to the firmware. Ptr is a 32 bit DMA address
// with any window offset already applied.
type Buffer struct {
	Ptr  uint32
	Size uint32
}

// Network source kinds.
const (
	NetworkBuffer uint32 = 0
	NetworkIndex  uint32 = 1
)

// Network names the model an inference or info request refers to: either a
// buffer in DMA memory or the index of a model baked into the firmware.
type Network struct {
	Kind   uint32
	Buffer Buffer // valid when Kind == NetworkBuffer
	Index  uint32 // valid when Kind == NetworkIndex
}

// Inference response status codes.
const (
	StatusOK uint32 = iota
	StatusError
	StatusRejected
	StatusAborted
)

// VersionRsp reports the firmware's message interface version.
type VersionRsp struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// Err is sent by the firmware when it detects a protocol error. The receive
// policy is to log the message and reset the inbound queue.
type Err struct {
	Type uint32
	Msg  [MaxErrLength]byte
}

// CapabilitiesReq requests the hardware and firmware capability bundle.
type CapabilitiesReq struct {
	UserArg uint64
}

// CapabilitiesRsp carries the hardware id, hardware configuration and driver
// version reported by the firmware.
type CapabilitiesRsp struct {
	UserArg          uint64
	VersionStatus    uint8
	VersionMinor     uint8
	VersionMajor     uint8
	ProductMajor     uint8
	ArchPatchRev     uint8
	ArchMinorRev     uint8
	ArchMajorRev     uint8
	DriverPatchRev   uint8
	DriverMinorRev   uint8
	DriverMajorRev   uint8
	MacsPerCC        uint8
	CmdStreamVersion uint8
	CustomDMA        uint8
}

// InferenceReq asks the firmware to run one inference.
type InferenceReq struct {
	UserArg               uint64
	IfmCount              uint32
	Ifm                   [MaxIfms]Buffer
	OfmCount              uint32
	Ofm                   [MaxOfms]Buffer
	Network               Network
	PmuEventConfig        [MaxPmus]uint8
	PmuCycleCounterEnable uint32
}

// InferenceRsp reports the outcome of one inference.
type InferenceRsp struct {
	UserArg               uint64
	OfmCount              uint32
	OfmSize               [MaxOfms]uint32
	Status                uint32
	PmuEventConfig        [MaxPmus]uint8
	PmuEventCount         [MaxPmus]uint32
	PmuCycleCounterEnable uint32
	PmuCycleCounterCount  uint64
}

// NetworkInfoReq asks for the dimensions and description of a network.
type NetworkInfoReq struct {
	UserArg uint64
	Network Network
}

// NetworkInfoRsp describes a network's input and output feature maps.
type NetworkInfoRsp struct {
	UserArg  uint64
	Desc     [MaxDescLength]byte
	IfmCount uint32
	IfmSize  [MaxIfms]uint32
	OfmCount uint32
	OfmSize  [MaxOfms]uint32
	Status   uint32
}

// CancelInferenceReq asks the firmware to abort a running inference,
// identified by the correlation id of its inference request.
type CancelInferenceReq struct {
	UserArg         uint64
	InferenceHandle uint64
}

// CancelInferenceRsp reports whether the cancellation was accepted.
type CancelInferenceRsp struct {
	UserArg uint64
	Status  uint32
}
