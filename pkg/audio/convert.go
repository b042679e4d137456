package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned by [DecodePCM16] when the payload cannot hold a
// whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// ErrEmpty is returned by [DecodePCM16] for a zero-length payload.
var ErrEmpty = errors.New("audio: empty PCM16 payload")

// Float32ToPCM16 converts normalised float samples to little-endian signed
// 16-bit PCM. Samples outside [-1, 1] are clamped; negative values scale by
// 32768 and positive values by 32767 so both extremes are representable.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		s := max(-1, min(1, float64(f)))
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 decodes little-endian signed 16-bit mono PCM into a [Buffer]
// at sampleRate. Samples are divided by 32768.
func DecodePCM16(pcm []byte, sampleRate int) (Buffer, error) {
	if len(pcm) == 0 {
		return Buffer{}, ErrEmpty
	}
	if len(pcm)%2 != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768
	}
	return Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// MeanAbs returns the mean absolute amplitude of samples, or 0 for an empty
// block.
func MeanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
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
