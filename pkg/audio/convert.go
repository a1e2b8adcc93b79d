// Package audio provides the frame type and PCM format conversion used to
// bridge participant audio tracks to the transcription service's expected
// encoding (16 kHz, mono, 16-bit little-endian).
package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is the encoding the transcription service consumes.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// bytesPerSample for 16-bit PCM.
const bytesPerSample = 2

// FormatConverter converts AudioFrames to a target format. It validates PCM
// alignment and logs a warning on the first format mismatch. Create one per
// stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts a frame to the target format. If the source already
// matches the target, the frame is returned unchanged (zero allocation).
// Channels are downmixed before resampling so only one channel is resampled.
// Returns an error for PCM data that is not int16-aligned.
func (c *FormatConverter) Convert(frame AudioFrame) (AudioFrame, error) {
	if len(frame.Data)%bytesPerSample != 0 {
		return AudioFrame{}, fmt.Errorf("odd byte count %d in PCM data", len(frame.Data))
	}

	// Fast path: source matches target.
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame, nil
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data

	if frame.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	} else if frame.Channels != c.Target.Channels {
		return AudioFrame{}, fmt.Errorf("unsupported channel conversion %d -> %d",
			frame.Channels, c.Target.Channels)
	}

	if frame.SampleRate != c.Target.SampleRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}, nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
// If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < bytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / bytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ChunkSize returns the number of PCM bytes that hold duration ms of audio
// in the given format at 16-bit depth. Used to size the per-speaker send
// buffer (≈200 ms per transcription service message).
func ChunkSize(durationMs int, f Format) int {
	samples := f.SampleRate * durationMs / 1000
	return samples * f.Channels * bytesPerSample
}

// ChunkDuration returns the duration in milliseconds represented by
// chunkBytes of 16-bit PCM in the given format.
func ChunkDuration(chunkBytes int, f Format) float64 {
	samples := chunkBytes / (f.Channels * bytesPerSample)
	return float64(samples) / float64(f.SampleRate) * 1000
}

// formatString returns a human-readable string like "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
