package image

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := &Image{
		EntryOffset: 4,
		Code:        []byte{0x01, 0x02, 0x03, 0x04, 0x05},
		Data:        []byte("hello\x00"),
		Symbols: []Symbol{
			{Name: "main", Section: SectionCode, Offset: 0},
			{Name: "greeting", Section: SectionData, Offset: 0},
		},
	}

	var buf bytes.Buffer
	assert(t, Encode(&buf, img) == nil, "encode failed")

	got, err := Decode(&buf)
	assert(t, err == nil, "decode failed: %v", err)

	if diff := cmp.Diff(img, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX" + "\x01\x00\x00\x00" + "\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	_, err := Decode(buf)
	assert(t, err == ErrBadMagic, "expected ErrBadMagic, got %v", err)
}

func TestDecodeTruncated(t *testing.T) {
	buf := bytes.NewBufferString("STKB")
	_, err := Decode(buf)
	assert(t, err != nil, "expected truncation error")
}

func TestIdempotentEncode(t *testing.T) {
	img := &Image{EntryOffset: 0, Code: []byte{0x01}, Data: nil, Symbols: nil}

	var a, b bytes.Buffer
	assert(t, Encode(&a, img) == nil, "encode a failed")
	assert(t, Encode(&b, img) == nil, "encode b failed")
	assert(t, bytes.Equal(a.Bytes(), b.Bytes()), "expected identical bytes across encodes")
}
