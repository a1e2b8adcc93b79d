package audio

import (
	"bytes"
	"testing"
)

// pcm16 builds little-endian PCM bytes from int16 samples.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestConvert_FastPathNoAllocation(t *testing.T) {
	c := FormatConverter{Target: STTFormat}
	in := AudioFrame{Data: pcm16(1, 2, 3), SampleRate: 16000, Channels: 1}

	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if &out.Data[0] != &in.Data[0] {
		t.Error("fast path should return the input buffer unchanged")
	}
}

func TestConvert_OddByteCount(t *testing.T) {
	c := FormatConverter{Target: STTFormat}
	_, err := c.Convert(AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if err == nil {
		t.Fatal("expected error for odd byte count")
	}
}

func TestConvert_StereoDownmix(t *testing.T) {
	c := FormatConverter{Target: STTFormat}
	// Two stereo frames: (100, 200) and (-100, -300).
	in := AudioFrame{Data: pcm16(100, 200, -100, -300), SampleRate: 16000, Channels: 2}

	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := pcm16(150, -200)
	if !bytes.Equal(out.Data, want) {
		t.Errorf("downmix = %v, want %v", out.Data, want)
	}
	if out.Channels != 1 || out.SampleRate != 16000 {
		t.Errorf("output format = %dHz/%dch, want 16000Hz/1ch", out.SampleRate, out.Channels)
	}
}

func TestConvert_UnsupportedChannels(t *testing.T) {
	c := FormatConverter{Target: STTFormat}
	_, err := c.Convert(AudioFrame{Data: pcm16(0, 0, 0), SampleRate: 16000, Channels: 3})
	if err == nil {
		t.Fatal("expected error for 3-channel input")
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 48kHz → 16kHz should produce 1/3 of the samples.
	in := pcm16(make([]int16, 480)...)
	out := ResampleMono16(in, 48000, 16000)
	if len(out) != 160*2 {
		t.Errorf("len = %d bytes, want %d", len(out), 160*2)
	}
}

func TestResampleMono16_SameRateUnchanged(t *testing.T) {
	in := pcm16(1, 2, 3)
	out := ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	// Doubling the rate of [0, 100] should place ~50 between them.
	out := ResampleMono16(pcm16(0, 100), 8000, 16000)
	if len(out) != 4*2 {
		t.Fatalf("len = %d bytes, want 8", len(out))
	}
	mid := int16(out[2]) | int16(out[3])<<8
	if mid != 50 {
		t.Errorf("interpolated sample = %d, want 50", mid)
	}
}

func TestChunkSize(t *testing.T) {
	tests := []struct {
		durationMs int
		format     Format
		want       int
	}{
		{200, STTFormat, 6400},       // 16000 * 0.2s * 2 bytes
		{1000, STTFormat, 32000},     // one second
		{20, Format{48000, 2}, 3840}, // 48kHz stereo frame
	}
	for _, tt := range tests {
		if got := ChunkSize(tt.durationMs, tt.format); got != tt.want {
			t.Errorf("ChunkSize(%d, %v) = %d, want %d", tt.durationMs, tt.format, got, tt.want)
		}
	}
}

func TestChunkDuration_RoundTrip(t *testing.T) {
	size := ChunkSize(200, STTFormat)
	if d := ChunkDuration(size, STTFormat); d != 200 {
		t.Errorf("ChunkDuration(ChunkSize(200)) = %v, want 200", d)
	}
}

func TestStereoToMono_Clamps(t *testing.T) {
	// Both channels at min int16 would overflow without int32 arithmetic.
	out := StereoToMono(pcm16(-32768, -32768))
	got := int16(out[0]) | int16(out[1])<<8
	if got != -32768 {
		t.Errorf("clamped sample = %d, want -32768", got)
	}
}
