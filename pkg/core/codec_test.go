package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMsgHeaderRoundTrip(t *testing.T) {
	header := MsgHeader{Magic: MsgMagic, Type: MsgTypeInferenceReq, Length: 292}

	packed := PackMsgHeader(header)
	if len(packed) != MsgHeaderSize {
		t.Fatalf("header is %d bytes, want %d", len(packed), MsgHeaderSize)
	}

	parsed, err := ParseMsgHeader(packed)
	if err != nil {
		t.Fatalf("ParseMsgHeader: %v", err)
	}
	if diff := cmp.Diff(header, parsed); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestInferenceReqRoundTrip(t *testing.T) {
	req := InferenceReq{
		UserArg:               42,
		IfmCount:              2,
		OfmCount:              1,
		Network:               Network{Kind: NetworkBuffer, Buffer: Buffer{Ptr: 0x60001000, Size: 512}},
		PmuEventConfig:        [MaxPmus]uint8{1, 2, 3, 4},
		PmuCycleCounterEnable: 1,
	}
	req.Ifm[0] = Buffer{Ptr: 0x60100000, Size: 1024}
	req.Ifm[1] = Buffer{Ptr: 0x60200000, Size: 2048}
	req.Ofm[0] = Buffer{Ptr: 0x60300000, Size: 4096}

	packed := PackInferenceReq(req)
	if len(packed) != InferenceReqSize {
		t.Fatalf("request is %d bytes, want %d", len(packed), InferenceReqSize)
	}

	parsed, err := ParseInferenceReq(packed)
	if err != nil {
		t.Fatalf("ParseInferenceReq: %v", err)
	}
	if diff := cmp.Diff(req, parsed); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestInferenceRspRoundTrip(t *testing.T) {
	rsp := InferenceRsp{
		UserArg:               7,
		OfmCount:              1,
		Status:                StatusRejected,
		PmuEventConfig:        [MaxPmus]uint8{5, 6, 7, 8},
		PmuEventCount:         [MaxPmus]uint32{100, 200, 300, 400},
		PmuCycleCounterEnable: 1,
		PmuCycleCounterCount:  0x123456789a,
	}
	rsp.OfmSize[0] = 2048

	parsed, err := ParseInferenceRsp(PackInferenceRsp(rsp))
	if err != nil {
		t.Fatalf("ParseInferenceRsp: %v", err)
	}
	if diff := cmp.Diff(rsp, parsed); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestNetworkUnion(t *testing.T) {
	byIndex := Network{Kind: NetworkIndex, Index: 3}
	req := NetworkInfoReq{UserArg: 1, Network: byIndex}

	parsed, err := ParseNetworkInfoReq(PackNetworkInfoReq(req))
	if err != nil {
		t.Fatalf("ParseNetworkInfoReq: %v", err)
	}
	if parsed.Network.Kind != NetworkIndex || parsed.Network.Index != 3 {
		t.Errorf("index network round trip: got %+v", parsed.Network)
	}
	if parsed.Network.Buffer != (Buffer{}) {
		t.Errorf("index network carries buffer payload: %+v", parsed.Network.Buffer)
	}

	byBuffer := Network{Kind: NetworkBuffer, Buffer: Buffer{Ptr: 0x1000, Size: 64}}
	req = NetworkInfoReq{UserArg: 2, Network: byBuffer}

	parsed, err = ParseNetworkInfoReq(PackNetworkInfoReq(req))
	if err != nil {
		t.Fatalf("ParseNetworkInfoReq: %v", err)
	}
	if diff := cmp.Diff(byBuffer, parsed.Network); diff != "" {
		t.Errorf("buffer network mismatch (-want +got):\n%s", diff)
	}
}

func TestCapabilitiesRspRoundTrip(t *testing.T) {
	rsp := CapabilitiesRsp{
		UserArg:          1,
		VersionStatus:    1,
		VersionMajor:     1,
		ProductMajor:     1,
		ArchMajorRev:     1,
		DriverMajorRev:   1,
		MacsPerCC:        8,
		CmdStreamVersion: 0,
	}

	parsed, err := ParseCapabilitiesRsp(PackCapabilitiesRsp(rsp))
	if err != nil {
		t.Fatalf("ParseCapabilitiesRsp: %v", err)
	}
	if diff := cmp.Diff(rsp, parsed); diff != "" {
		t.Errorf("capabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	short := make([]byte, 4)

	if _, err := ParseInferenceRsp(short); err == nil {
		t.Error("ParseInferenceRsp accepted a short payload")
	}
	if _, err := ParseCapabilitiesRsp(short); err == nil {
		t.Error("ParseCapabilitiesRsp accepted a short payload")
	}

	var target *Error
	_, err := ParseInferenceRsp(short)
	if !errors.As(err, &target) || target.Status != StatusInvalidFrame {
		t.Errorf("short payload error is %v, want invalid frame", err)
	}
}

func TestErrString(t *testing.T) {
	var e Err
	copy(e.Msg[:], "queue corrupt")

	parsed, err := ParseErr(PackErr(e))
	if err != nil {
		t.Fatalf("ParseErr: %v", err)
	}
	if got := ErrString(parsed); got != "queue corrupt" {
		t.Errorf("ErrString = %q, want %q", got, "queue corrupt")
	}
}

func TestDescString(t *testing.T) {
	var rsp NetworkInfoRsp
	copy(rsp.Desc[:], "mobilenet")

	if got := DescString(rsp); got != "mobilenet" {
		t.Errorf("DescString = %q, want %q", got, "mobilenet")
	}

	// A description filling the whole field has no terminator.
	for i := range rsp.Desc {
		rsp.Desc[i] = 'x'
	}
	if got := DescString(rsp); len(got) != MaxDescLength {
		t.Errorf("unterminated DescString has length %d, want %d", len(got), MaxDescLength)
	}
}
