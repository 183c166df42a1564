package audio

import (
	"testing"
)

func TestMulawEncodeKnownValues(t *testing.T) {
	tests := []struct {
		sample int16
		want   byte
	}{
		{0, 0xFF},
		{40, 0xFA},
		{32767, 0x80},
		{-32768, 0x00},
	}
	for _, tt := range tests {
		if got := MulawEncode(tt.sample); got != tt.want {
			t.Errorf("MulawEncode(%d) = %#02x, want %#02x", tt.sample, got, tt.want)
		}
	}
}

func TestMulawDecodeKnownValues(t *testing.T) {
	tests := []struct {
		b    byte
		want int16
	}{
		{0xFF, 0},
		{0xFA, 40},
		{0x80, 32124},
		{0x00, -32124},
	}
	for _, tt := range tests {
		if got := MulawDecode(tt.b); got != tt.want {
			t.Errorf("MulawDecode(%#02x) = %d, want %d", tt.b, got, tt.want)
		}
	}
}

// Every byte except 0x7F (negative zero, which collapses onto positive zero)
// survives a decode/encode round trip exactly.
func TestMulawByteRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if b == 0x7F {
			continue
		}
		if got := MulawEncode(MulawDecode(b)); got != b {
			t.Errorf("encode(decode(%#02x)) = %#02x", b, got)
		}
	}
}

// Companding error stays within the quantization step of the sample's
// segment.
func TestMulawSampleRoundTripError(t *testing.T) {
	for _, s := range []int16{-30000, -12345, -1000, -40, -1, 0, 1, 40, 500, 1000, 12345, 30000} {
		got := MulawDecode(MulawEncode(s))
		diff := int32(got) - int32(s)
		if diff < 0 {
			diff = -diff
		}
		limit := int32(s) / 8
		if limit < 0 {
			limit = -limit
		}
		limit += 40
		if diff > limit {
			t.Errorf("round trip %d -> %d, error %d exceeds %d", s, got, diff, limit)
		}
	}
}

func TestResampleIdentityAt8k(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := ResampleTo8k(in, 8000)
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
	out[0] = 99
	if in[0] != 1 {
		t.Error("identity resample must copy, not alias")
	}
}

func TestResampleDownsample16k(t *testing.T) {
	in := []int16{0, 10, 20, 30, 40, 50, 60, 70}
	want := []int16{0, 20, 40, 60}
	out := ResampleTo8k(in, 16000)
	if len(out) != len(want) {
		t.Fatalf("length %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResampleUpsample4k(t *testing.T) {
	in := []int16{0, 100, 200, 300}
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	out := ResampleTo8k(in, 4000)
	if len(out) != len(want) {
		t.Fatalf("length %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResampleEmpty(t *testing.T) {
	if out := ResampleTo8k(nil, 16000); out != nil {
		t.Errorf("got %v, want nil", out)
	}
}

func TestPCMBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	got := PCMBytesToInt16(Int16ToPCMBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestPCMBytesOddTrailingByteDropped(t *testing.T) {
	if got := PCMBytesToInt16([]byte{1, 2, 3}); len(got) != 1 {
		t.Errorf("got %d samples, want 1", len(got))
	}
}

func TestChunk(t *testing.T) {
	buf := make([]byte, 400)
	frames := Chunk(buf, 160)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if len(frames[0]) != 160 || len(frames[1]) != 160 || len(frames[2]) != 80 {
		t.Errorf("frame sizes %d/%d/%d, want 160/160/80",
			len(frames[0]), len(frames[1]), len(frames[2]))
	}
	if Chunk(nil, 160) != nil {
		t.Error("empty buffer should yield no frames")
	}
	if frames := Chunk(buf, 0); len(frames) != 1 || len(frames[0]) != 400 {
		t.Error("non-positive size should yield a single frame")
	}
}
