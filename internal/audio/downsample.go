package audio

import "encoding/binary"

// DownsamplePCM16 converts float32 samples at srcRate into little-endian
// 16-bit signed PCM at dstRate using nearest-sample decimation. When the
// rates match it only performs the sample-format conversion.
func DownsamplePCM16(samples []float32, srcRate, dstRate int) []byte {
	if len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return nil
	}

	outLen := len(samples)
	if srcRate != dstRate {
		outLen = len(samples) * dstRate / srcRate
		if outLen == 0 {
			return nil
		}
	}

	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		src := i
		if srcRate != dstRate {
			src = i * srcRate / dstRate
			if src >= len(samples) {
				src = len(samples) - 1
			}
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampSample(samples[src])))
	}
	return out
}

func clampSample(v float32) int16 {
	scaled := v * 32767
	switch {
	case scaled > 32767:
		return 32767
	case scaled < -32768:
		return -32768
	default:
		return int16(scaled)
	}
}
