// Package pcm reads and writes uncompressed PCM WAV files.
package pcm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/hearalert/soundbank/internal/dsp"
)

var (
	// ErrNotWAV is returned when the input is not a RIFF/WAVE stream.
	ErrNotWAV = errors.New("not a WAV file")
	// ErrUnsupportedFormat is returned for compressed or exotic encodings.
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

const formatPCM = 1

// OutputBitDepth is the bit depth of every file this package writes.
const OutputBitDepth = 16

// Info describes a WAV file without decoding its samples.
type Info struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Frames     int
	Duration   time.Duration
	Size       int64
}

// Probe reads the header of a WAV stream.
func Probe(r io.ReadSeeker) (Info, error) {
	d := wav.NewDecoder(r)
	return readInfo(d)
}

func readInfo(d *wav.Decoder) (Info, error) {
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
		}
		return Info{}, ErrNotWAV
	}
	if d.WavAudioFormat != formatPCM {
		return Info{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	switch d.BitDepth {
	case 16, 24, 32:
	default:
		return Info{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, d.BitDepth)
	}

	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}

	info := Info{
		Channels:   int(d.NumChans),
		SampleRate: int(d.SampleRate),
		BitDepth:   int(d.BitDepth),
	}
	frameBytes := int64(d.NumChans) * int64(d.BitDepth) / 8
	if frameBytes > 0 {
		info.Frames = int(d.PCMLen() / frameBytes)
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}

// Decode reads a WAV stream, downmixes it to mono and scales samples to
// [-1, 1].
func Decode(r io.ReadSeeker) (dsp.Waveform, Info, error) {
	d := wav.NewDecoder(r)
	info, err := readInfo(d)
	if err != nil {
		return dsp.Waveform{}, Info{}, err
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return dsp.Waveform{}, Info{}, fmt.Errorf("read PCM: %w", err)
	}

	channels := max(info.Channels, 1)
	frames := len(buf.Data) / channels
	scale := float64(int64(1)<<(info.BitDepth-1) - 1)

	w := dsp.Zeros(frames, info.SampleRate)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += float64(buf.Data[i*channels+c])
		}
		w.Samples[i] = max(-1, min(1, sum/float64(channels)/scale))
	}
	info.Frames = frames
	if info.SampleRate > 0 {
		info.Duration = time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
	}
	return w, info, nil
}

// Encode writes w as a mono 16-bit WAV stream.
func Encode(ws io.WriteSeeker, w dsp.Waveform) error {
	enc := wav.NewEncoder(ws, w.SampleRate, OutputBitDepth, 1, formatPCM)

	data := make([]int, w.Len())
	for i, s := range w.Samples {
		data[i] = dsp.ToPCM16(s)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  w.SampleRate,
		},
		Data:           data,
		SourceBitDepth: OutputBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	return nil
}

// ProbeFile probes the WAV file at path and records its size.
func ProbeFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := Probe(f)
	if err != nil {
		return Info{}, err
	}
	if st, err := f.Stat(); err == nil {
		info.Size = st.Size()
	}
	return info, nil
}

// DecodeFile decodes the WAV file at path.
func DecodeFile(path string) (dsp.Waveform, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return dsp.Waveform{}, Info{}, err
	}
	defer func() { _ = f.Close() }()

	w, info, err := Decode(f)
	if err != nil {
		return dsp.Waveform{}, Info{}, err
	}
	if st, err := f.Stat(); err == nil {
		info.Size = st.Size()
	}
	return w, info, nil
}
