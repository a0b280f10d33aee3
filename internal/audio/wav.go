package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ErrInvalidWAV is returned for files that are not RIFF/WAVE.
var ErrInvalidWAV = errors.New("invalid wav file")

// ReadWAV loads a WAV file as normalized float samples.
func ReadWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf, err := DecodeWAV(f)
	if err != nil {
		return Buffer{}, fmt.Errorf("%s: %w", path, err)
	}
	return buf, nil
}

// DecodeWAV reads 16/24/32-bit integer PCM or 32-bit IEEE float WAV data,
// including WAVE_FORMAT_EXTENSIBLE headers.
func DecodeWAV(r io.ReadSeeker) (Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Buffer{}, ErrInvalidWAV
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("read pcm: %w", err)
	}

	format := d.WavAudioFormat
	if format == wavFormatExtensible {
		format, err = subFormat(r)
		if err != nil {
			return Buffer{}, err
		}
	}

	depth := int(d.BitDepth)
	samples := make([]float32, len(pcm.Data))
	switch {
	case format == wavFormatFloat && depth == 32:
		for i, v := range pcm.Data {
			samples[i] = math.Float32frombits(uint32(v))
		}
	case format == wavFormatPCM && (depth == 16 || depth == 24 || depth == 32):
		scale := float32(int64(1) << (depth - 1))
		for i, v := range pcm.Data {
			samples[i] = float32(v) / scale
		}
	default:
		return Buffer{}, fmt.Errorf("unsupported wav encoding: format %d, %d bits", format, depth)
	}

	return New(samples, int(d.SampleRate), int(d.NumChans))
}

// subFormat returns the leading code of the SubFormat GUID of a
// WAVE_FORMAT_EXTENSIBLE fmt chunk. The decoder drops the extension bytes.
func subFormat(r io.ReadSeeker) (uint16, error) {
	if _, err := r.Seek(12, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek fmt chunk: %w", err)
	}

	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, fmt.Errorf("find fmt chunk: %w", err)
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:]))
		if string(hdr[:4]) != "fmt " {
			if _, err := r.Seek(size+size&1, io.SeekCurrent); err != nil {
				return 0, fmt.Errorf("skip %q chunk: %w", hdr[:4], err)
			}
			continue
		}
		if size < 26 {
			return 0, fmt.Errorf("%w: extensible fmt chunk of %d bytes", ErrInvalidWAV, size)
		}
		body := make([]byte, 26)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, fmt.Errorf("read fmt chunk: %w", err)
		}
		return binary.LittleEndian.Uint16(body[24:]), nil
	}
}

// WriteWAV stores the buffer as integer PCM with the given bit depth.
// Samples outside [-1, 1] are clipped.
func WriteWAV(path string, b Buffer, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeWAV(f, b, bitDepth); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// EncodeWAV writes the buffer as integer PCM to w.
func EncodeWAV(w io.WriteSeeker, b Buffer, bitDepth int) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	full := float64(int64(1)<<(bitDepth-1)) - 1
	data := make([]int, len(b.Samples))
	for i, v := range b.Samples {
		s := math.Max(-1, math.Min(1, float64(v)))
		data[i] = int(math.Round(s * full))
	}

	enc := wav.NewEncoder(w, b.SampleRate, bitDepth, b.Channels, wavFormatPCM)
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
