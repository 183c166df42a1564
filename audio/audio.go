// Package audio provides the raw audio conversions telephony carriers require:
// linear-PCM resampling to 8kHz, G.711 μ-law companding, and frame chunking
// for pacing audio over a media stream.
//
// All functions are pure and allocation-minimal; none hold state.
package audio

import "encoding/binary"

// G.711 μ-law companding constants.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// TargetRate is the sample rate carriers expect for call audio.
const TargetRate = 8000

// ResampleTo8k converts PCM samples from inRate to 8kHz using linear
// interpolation between neighboring samples. Input at 8kHz is returned
// as a copy unchanged. Output samples are clamped to the int16 range.
func ResampleTo8k(pcm []int16, inRate int) []int16 {
	if len(pcm) == 0 {
		return nil
	}
	if inRate <= 0 || inRate == TargetRate {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	ratio := float64(inRate) / float64(TargetRate)
	outLen := int(float64(len(pcm)) / ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(idx)
		sample := float64(pcm[idx])*(1-frac) + float64(pcm[idx+1])*frac
		out[i] = clamp16(sample)
	}
	return out
}

func clamp16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// MulawEncode compresses one 16-bit PCM sample to 8-bit μ-law per G.711.
func MulawEncode(sample int16) byte {
	v := int32(sample)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exp := byte(7)
	for mask := int32(0x4000); exp > 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mantissa := byte((v >> (exp + 3)) & 0x0F)

	return ^(sign | exp<<4 | mantissa)
}

// MulawDecode expands one 8-bit μ-law byte to a 16-bit PCM sample.
func MulawDecode(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exp := (b >> 4) & 0x07
	mantissa := b & 0x0F

	v := ((int32(mantissa) << 3) + mulawBias) << exp
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// MulawEncodeSlice compresses a PCM buffer to μ-law.
func MulawEncodeSlice(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = MulawEncode(s)
	}
	return out
}

// MulawDecodeSlice expands a μ-law buffer to PCM.
func MulawDecodeSlice(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = MulawDecode(b)
	}
	return out
}

// PCMBytesToInt16 interprets little-endian 16-bit PCM bytes as samples.
// An odd trailing byte is dropped.
func PCMBytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Int16ToPCMBytes encodes samples as little-endian 16-bit PCM bytes.
func Int16ToPCMBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Chunk slices buf into frames of at most size bytes, preserving order.
// The final frame may be short. A non-positive size yields a single frame.
func Chunk(buf []byte, size int) [][]byte {
	if len(buf) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]byte{buf}
	}
	frames := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := start + size
		if end > len(buf) {
			end = len(buf)
		}
		frames = append(frames, buf[start:end])
	}
	return frames
}
