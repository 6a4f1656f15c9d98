// Package audio handles the raw PCM returned when a session asks for the
// "pcm" format: 16-bit little-endian mono samples.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodePCM16 把小端字节流转成样本，末尾不足两字节的部分丢弃
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Resample converts mono samples between rates with linear interpolation.
// Equal rates return a copy.
func Resample(input []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: from=%d, to=%d", fromRate, toRate)
	}
	if len(input) == 0 {
		return []int16{}, nil
	}
	if fromRate == toRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out, nil
	}

	step := float64(fromRate) / float64(toRate)
	n := int((int64(len(input))*int64(toRate) + int64(fromRate) - 1) / int64(fromRate))
	out := make([]int16, n)
	last := len(input) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = input[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(input[idx])*(1-frac) + float64(input[idx+1])*frac
		out[i] = clamp16(v)
	}
	return out, nil
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}

// Duration 返回 PCM 字节数对应的播放时长（秒）
func Duration(data []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(data)/2) / float64(sampleRate)
}
