// Package audio provides the PCM helpers the dictation pipeline is built on:
// conversions between wire formats and the canonical in-memory representation,
// WAV container encode/decode, linear resampling, and energy measurement.
//
// The canonical representation throughout the repository is mono float32 PCM
// in [-1, 1] at [DefaultSampleRate]. Everything arriving from files or capture
// devices is converted into that form at the edge.
package audio

import (
	"math"
	"time"
)

// DefaultSampleRate is the sample rate the ASR service expects, in Hz.
const DefaultSampleRate = 16000

// PCM16ToFloat32 converts 16-bit signed little-endian PCM bytes to float32
// samples in [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to 16-bit signed
// little-endian PCM bytes. Samples outside the valid range are clamped.
//
// The scale matches [PCM16ToFloat32] (1/32768) and values round to the
// nearest step, so a round trip through both is accurate to half an LSB for
// any in-range sample.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(math.Round(float64(f) * 32768.0))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. If the rates match (or either is invalid) the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx+1 < len(samples) {
			out[i] = float32(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		} else if idx < len(samples) {
			out[i] = samples[idx]
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// RMS returns the root-mean-square energy of samples, in the same [0, 1]
// scale as the samples themselves. Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// MeanAbs returns the mean absolute amplitude of samples. This is the energy
// measure the voice-activity gate uses; it is cheaper than RMS and tracks it
// closely for speech signals. Returns 0 for an empty slice.
func MeanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(len(samples))
}

// Duration returns the play time of n samples at the given rate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}
