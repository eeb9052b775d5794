package audio

import (
	"encoding/base64"
	"encoding/binary"
)

// EncodeSamples converts normalised float samples to base64-wrapped
// little-endian PCM16. Samples are clamped to [-1, 1] before conversion so
// out-of-range input saturates instead of wrapping around.
func EncodeSamples(samples []float32) string {
	if len(samples) == 0 {
		return ""
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// EncodePCM16 wraps raw little-endian PCM16 bytes in base64 for the wire.
func EncodePCM16(pcm []byte) string {
	if len(pcm) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM16 unwraps a base64 payload into raw little-endian PCM16 bytes.
// Malformed input yields nil: a corrupt audio chunk is dropped, never fatal.
// An odd trailing byte is truncated to keep whole samples.
func DecodePCM16(data string) []byte {
	if data == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// DecodeSamples unwraps a base64 payload into int16 samples.
// Malformed input yields nil.
func DecodeSamples(data string) []int16 {
	raw := DecodePCM16(data)
	if raw == nil {
		return nil
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples
}
