package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/rmtew/dictate/pkg/audio"
)

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.999, -1}
	pcm := audio.Float32ToPCM16(in)
	out := audio.PCM16ToFloat32(pcm)

	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.0/32768.0+1e-6 {
			t.Errorf("sample %d: got %f, want %f (diff %f)", i, out[i], in[i], diff)
		}
	}
}

func TestFloat32ToPCM16_RoundsToNearestStep(t *testing.T) {
	// 0.999 * 32768 = 32735.232: truncation at the wrong scale lands a full
	// step low and pushes the round-trip error past one LSB.
	pcm := audio.Float32ToPCM16([]float32{0.999, -0.999})
	got := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
	if got != 32735 {
		t.Errorf("encoded 0.999 as %d, want 32735", got)
	}
	got = int16(uint16(pcm[2]) | uint16(pcm[3])<<8)
	if got != -32735 {
		t.Errorf("encoded -0.999 as %d, want -32735", got)
	}
}

func TestFloat32ToPCM16_ClampsOutOfRange(t *testing.T) {
	pcm := audio.Float32ToPCM16([]float32{2.0, -2.0})
	out := audio.PCM16ToFloat32(pcm)
	if out[0] < 0.99 {
		t.Errorf("positive overflow not clamped to full scale: got %f", out[0])
	}
	if out[1] > -0.99 {
		t.Errorf("negative overflow not clamped to full scale: got %f", out[1])
	}
}

func TestResample_HalvesAndDoubles(t *testing.T) {
	in := make([]float32, 16000)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}

	down := audio.Resample(in, 16000, 8000)
	if len(down) != 8000 {
		t.Errorf("downsample: got %d samples, want 8000", len(down))
	}
	up := audio.Resample(in, 16000, 32000)
	if len(up) != 32000 {
		t.Errorf("upsample: got %d samples, want 32000", len(up))
	}
}

func TestResample_SameRateReturnsInput(t *testing.T) {
	in := []float32{1, 2, 3}
	out := audio.Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("expected the input slice back unchanged")
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	// Constant signal: RMS equals the amplitude.
	constant := []float32{0.5, 0.5, 0.5, 0.5}
	if got := audio.RMS(constant); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("RMS(constant 0.5) = %f, want 0.5", got)
	}
}

func TestMeanAbs(t *testing.T) {
	samples := []float32{0.5, -0.5, 0.25, -0.25}
	if got := audio.MeanAbs(samples); math.Abs(got-0.375) > 1e-6 {
		t.Errorf("MeanAbs = %f, want 0.375", got)
	}
}

func TestDuration(t *testing.T) {
	if got := audio.Duration(16000, 16000); got != time.Second {
		t.Errorf("Duration(16000, 16000) = %v, want 1s", got)
	}
	if got := audio.Duration(8000, 16000); got != 500*time.Millisecond {
		t.Errorf("Duration(8000, 16000) = %v, want 500ms", got)
	}
}
