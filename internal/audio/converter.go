package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	SampleRate8k  = 8000
	SampleRate16k = 16000
	SampleRate24k = 24000
)

// Encoding names the sample encoding of a PCM stream
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16" // 16-bit signed little-endian
	EncodingMulaw    Encoding = "mulaw"    // G.711 μ-law, 8-bit
)

// Format describes a mono audio stream
type Format struct {
	Encoding   Encoding
	SampleRate int
}

var (
	// Linear16k is the format the recognizer consumes
	Linear16k = Format{Encoding: EncodingLinear16, SampleRate: SampleRate16k}
	// Mulaw8k is the narrowband format some front ends stream
	Mulaw8k = Format{Encoding: EncodingMulaw, SampleRate: SampleRate8k}
)

// ParseFormat maps a front-end encoding name to a Format. Unknown names
// fall back to Linear16k.
func ParseFormat(name string) Format {
	switch name {
	case "mulaw", "pcmu", "audio/x-mulaw":
		return Mulaw8k
	default:
		return Linear16k
	}
}

// Decode turns data in format f into linear16 samples at outRate
func Decode(data []byte, f Format, outRate int) ([]int16, error) {
	var samples []int16
	switch f.Encoding {
	case EncodingMulaw:
		samples = make([]int16, len(data))
		for i, b := range data {
			samples[i] = mulawToLinear(b)
		}
	case EncodingLinear16, "":
		var err error
		if samples, err = BytesToSamples(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
	return resample(samples, f.SampleRate, outRate), nil
}

// Encode turns linear16 samples at inRate into bytes in format f
func Encode(samples []int16, inRate int, f Format) ([]byte, error) {
	samples = resample(samples, inRate, f.SampleRate)
	switch f.Encoding {
	case EncodingMulaw:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = linearToMulaw(s)
		}
		return out, nil
	case EncodingLinear16, "":
		return SamplesToBytes(samples), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
}

// Transcode converts a linear16 byte stream at inRate into format f
func Transcode(pcm []byte, inRate int, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return Encode(samples, inRate, f)
}

// BytesToSamples decodes little-endian 16-bit PCM
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// resample performs linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]int16, len(samples)*outputRate/inputRate)

	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		frac := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-frac) + float64(samples[idx1])*frac)
	}

	return output
}

// linearToMulaw encodes one sample with the G.711 μ-law curve
func linearToMulaw(sample int16) byte {
	const (
		clip = 32635
		bias = 0x84
	)

	var sign byte
	magnitude := int32(sample)
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	exponent := byte(7)
	for mask := int32(0x4000); magnitude&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((magnitude >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// mulawToLinear decodes one G.711 μ-law byte
func mulawToLinear(b byte) int16 {
	b = ^b
	exponent := int32((b >> 4) & 0x07)
	mantissa := int32(b & 0x0F)

	magnitude := ((mantissa << 3) + 0x84) << exponent
	magnitude -= 0x84

	if b&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
