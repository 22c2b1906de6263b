package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// SaveWAV writes mono 16-bit PCM data as a WAV file.
func SaveWAV(filename string, pcmData []int16, sampleRate int) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	dataSize := uint32(len(pcmData) * 2)
	fileSize := 36 + dataSize

	// RIFF header
	file.WriteString("RIFF")
	binary.Write(file, binary.LittleEndian, uint32(fileSize))
	file.WriteString("WAVE")

	// fmt chunk
	file.WriteString("fmt ")
	binary.Write(file, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(file, binary.LittleEndian, uint16(1))  // audio format (PCM)
	binary.Write(file, binary.LittleEndian, uint16(1))  // num channels
	binary.Write(file, binary.LittleEndian, uint32(sampleRate))
	binary.Write(file, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(file, binary.LittleEndian, uint16(2))            // block align
	binary.Write(file, binary.LittleEndian, uint16(16))           // bits per sample

	// data chunk
	file.WriteString("data")
	binary.Write(file, binary.LittleEndian, dataSize)

	for _, sample := range pcmData {
		if err := binary.Write(file, binary.LittleEndian, sample); err != nil {
			return err
		}
	}
	return nil
}

// LoadWAV reads a 16-bit PCM WAV file and returns its samples, sample rate
// and channel count. Only uncompressed PCM is supported.
func LoadWAV(filename string) ([]int16, int, int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0, 0, err
	}
	defer file.Close()

	var riff [12]byte
	if _, err := io.ReadFull(file, riff[:]); err != nil {
		return nil, 0, 0, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a WAV file: %s", filename)
	}

	var sampleRate, channels, bitsPerSample int
	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(file, chunkHdr[:]); err != nil {
			return nil, 0, 0, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHdr[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch chunkID {
		case "fmt ":
			fmtBuf := make([]byte, chunkSize)
			if _, err := io.ReadFull(file, fmtBuf); err != nil {
				return nil, 0, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(fmtBuf[0:2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported WAV format code %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(fmtBuf[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtBuf[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(fmtBuf[14:16]))
			if bitsPerSample != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported bit depth %d", bitsPerSample)
			}
		case "data":
			if sampleRate == 0 {
				return nil, 0, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			raw := make([]byte, chunkSize)
			if _, err := io.ReadFull(file, raw); err != nil {
				return nil, 0, 0, fmt.Errorf("read data chunk: %w", err)
			}
			samples := make([]int16, len(raw)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			}
			return samples, sampleRate, channels, nil
		default:
			// skip unknown chunks (LIST, fact, ...)
			if _, err := file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return nil, 0, 0, err
			}
		}
	}
}

// DownmixMono averages interleaved multi-channel samples into mono.
func DownmixMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono PCM from one sample rate to another using linear
// interpolation. Good enough for the narrowband telephone channel.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
