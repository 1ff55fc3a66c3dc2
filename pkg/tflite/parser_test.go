package tflite_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anthropics/purple-ethosu/pkg/tflite"
	"github.com/anthropics/purple-ethosu/testutil"
)

func TestParseDims(t *testing.T) {
	ifm, ofm, err := tflite.ParseDims(testutil.FakeModel())
	if err != nil {
		t.Fatalf("ParseDims: %v", err)
	}

	if diff := cmp.Diff([]uint32{testutil.FakeModelIfmSize}, ifm); diff != "" {
		t.Errorf("ifm dims mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{testutil.FakeModelOfmSize}, ofm); diff != "" {
		t.Errorf("ofm dims mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDimsRejectsUnknownTensorType(t *testing.T) {
	_, _, err := tflite.ParseDims(testutil.FakeModelBadType())
	if !errors.Is(err, tflite.ErrUnsupportedTensorType) {
		t.Errorf("bad tensor type error = %v, want ErrUnsupportedTensorType", err)
	}
}

func TestParseDimsRejectsForeignData(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"short":     {1, 2, 3},
		"bad ident": append([]byte{16, 0, 0, 0}, []byte("HEF1....")...),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := tflite.ParseDims(data); !errors.Is(err, tflite.ErrNotModel) {
				t.Errorf("ParseDims(%q) = %v, want ErrNotModel", name, err)
			}
		})
	}
}

func TestParseDimsRejectsTruncatedModel(t *testing.T) {
	model := testutil.FakeModel()

	for _, n := range []int{9, 40, 100} {
		if _, _, err := tflite.ParseDims(model[:n]); err == nil {
			t.Errorf("ParseDims on %d-byte prefix succeeded", n)
		}
	}
}
