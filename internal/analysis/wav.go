package analysis

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Wave format codes we can decode without external help.
const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// decodeWAV reads a RIFF/WAVE file into mono samples in [-1, 1].
// Multi-channel audio is downmixed by averaging.
func decodeWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("not a wav file: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a wav file: bad RIFF header")
	}

	var (
		format     uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		data       []byte
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("bad chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			buf := make([]byte, size)
			if _, err := io.ReadFull(f, buf); err != nil {
				return nil, 0, fmt.Errorf("bad fmt chunk: %w", err)
			}
			if len(buf) < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too short: %d bytes", len(buf))
			}
			format = binary.LittleEndian.Uint16(buf[0:2])
			channels = binary.LittleEndian.Uint16(buf[2:4])
			sampleRate = binary.LittleEndian.Uint32(buf[4:8])
			bits = binary.LittleEndian.Uint16(buf[14:16])
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, 0, fmt.Errorf("bad data chunk: %w", err)
			}
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, 0, fmt.Errorf("bad %s chunk: %w", id, err)
			}
		}

		// Chunks are word aligned.
		if size%2 == 1 {
			if _, err := f.Seek(1, io.SeekCurrent); err != nil {
				break
			}
		}
	}

	if channels == 0 || sampleRate == 0 {
		return nil, 0, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return nil, 0, fmt.Errorf("missing data chunk")
	}

	frames, err := decodeFrames(data, format, bits)
	if err != nil {
		return nil, 0, err
	}

	mono := downmix(frames, int(channels))
	return mono, int(sampleRate), nil
}

// decodeFrames converts raw sample bytes to interleaved float64 samples.
func decodeFrames(data []byte, format, bits uint16) ([]float64, error) {
	switch {
	case format == formatPCM && bits == 16:
		n := len(data) / 2
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[2*i:]))
			out[i] = float64(v) / 32768.0
		}
		return out, nil

	case format == formatPCM && bits == 8:
		out := make([]float64, len(data))
		for i, b := range data {
			out[i] = (float64(b) - 128.0) / 128.0
		}
		return out, nil

	case format == formatPCM && bits == 24:
		n := len(data) / 3
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			b := data[3*i : 3*i+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = float64(v) / 8388608.0
		}
		return out, nil

	case format == formatPCM && bits == 32:
		n := len(data) / 4
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[4*i:]))
			out[i] = float64(v) / 2147483648.0
		}
		return out, nil

	case format == formatIEEEFloat && bits == 32:
		n := len(data) / 4
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
		}
		return out, nil

	case format == formatIEEEFloat && bits == 64:
		n := len(data) / 8
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported wav encoding: format %d, %d bits", format, bits)
}

func downmix(frames []float64, channels int) []float64 {
	if channels <= 1 {
		return frames
	}
	n := len(frames) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += frames[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
