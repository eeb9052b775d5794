package audio

import (
	"math"
	"time"
)

// Encoding identifies the codec of an audio stream.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_s16le"
)

// Format describes the characteristics of an audio buffer.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// CaptureFormat is the microphone contract: 16 kHz mono PCM16.
func CaptureFormat() Format {
	return Format{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// PlaybackFormat is the synthesis contract: 24 kHz mono PCM16.
func PlaybackFormat() Format {
	return Format{Encoding: EncodingPCM16, SampleRate: 24000, Channels: 1, BitDepth: 16}
}

// CaptureChunkSamples is the fixed per-message capture chunk size.
const CaptureChunkSamples = 4096

// BytesPerSample returns bytes used to encode a single sample.
func BytesPerSample(format Format) int {
	if format.BitDepth <= 0 {
		return 0
	}
	return format.BitDepth / 8
}

// FrameSize returns PCM frame size in bytes (all channels for one sample point).
func FrameSize(format Format) int {
	if format.Channels <= 0 {
		return 0
	}
	bytesPerSample := BytesPerSample(format)
	if bytesPerSample <= 0 {
		return 0
	}
	return format.Channels * bytesPerSample
}

// BytesPerSecond returns byte throughput for a PCM format.
func BytesPerSecond(format Format) int {
	if format.SampleRate <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 {
		return 0
	}
	return format.SampleRate * frameSize
}

// FrameCountFromBytes converts raw PCM byte length into complete frame count.
func FrameCountFromBytes(format Format, dataLen int) int {
	if dataLen <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 {
		return 0
	}
	return dataLen / frameSize
}

// DurationFromFrames converts a PCM frame count into duration using sample rate.
func DurationFromFrames(sampleRate, frames int) time.Duration {
	if sampleRate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

// DurationFromBytes converts raw PCM byte length into duration.
func DurationFromBytes(format Format, dataLen int) time.Duration {
	return DurationFromFrames(format.SampleRate, FrameCountFromBytes(format, dataLen))
}

// ChunkSizeBytes calculates the byte size of a chunk for a format and duration.
func ChunkSizeBytes(format Format, chunkDuration time.Duration) int {
	if chunkDuration <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 || format.SampleRate <= 0 {
		return 0
	}
	samples := float64(format.SampleRate) * chunkDuration.Seconds()
	return int(math.Round(samples)) * frameSize
}
