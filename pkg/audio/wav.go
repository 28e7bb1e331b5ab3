package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// wavFormatPCM and wavFormatFloat are the RIFF audio format tags this decoder
// accepts: integer PCM and IEEE float.
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// ErrNotWAV is returned by DecodeWAV when the input lacks a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// EncodeWAV wraps float32 mono samples in a 16-bit PCM RIFF/WAV container at
// the given sample rate. The result is suitable for multipart upload to an
// ASR service or for writing to disk.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := Float32ToPCM16(samples)

	const channels = 1
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAV file and returns its first channel as float32
// samples along with the file's sample rate. Supported encodings are 16-bit
// integer PCM and 32-bit IEEE float; multi-channel files are reduced to
// channel 0. Unknown chunks are skipped.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		format, channels, bits int
		sampleRate             int
		raw                    []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("audio: fmt chunk too short (%d bytes)", chunkSize)
			}
			format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			raw = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if raw == nil || channels == 0 {
		return nil, 0, errors.New("audio: missing fmt or data chunk")
	}

	var samples []float32
	switch {
	case format == wavFormatFloat && bits == 32:
		n := len(raw) / (4 * channels)
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			u := binary.LittleEndian.Uint32(raw[i*4*channels:])
			samples[i] = math.Float32frombits(u)
		}
	case format == wavFormatPCM && bits == 16:
		n := len(raw) / (2 * channels)
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(raw[i*2*channels:]))
			samples[i] = float32(s) / 32768.0
		}
	default:
		return nil, 0, fmt.Errorf("audio: unsupported WAV encoding: format=%d bits=%d", format, bits)
	}

	return samples, sampleRate, nil
}

// ReadWAVFile loads path and returns its samples converted to mono float32 at
// the requested rate, resampling if the file uses a different one.
func ReadWAVFile(path string, sampleRate int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	if rate != sampleRate {
		samples = Resample(samples, rate, sampleRate)
	}
	return samples, nil
}

// WriteWAVFile encodes samples as 16-bit PCM and writes them to path.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	if err := os.WriteFile(path, EncodeWAV(samples, sampleRate), 0o644); err != nil {
		return fmt.Errorf("audio: write %q: %w", path, err)
	}
	return nil
}
