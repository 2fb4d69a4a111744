// Package audio reads and writes PCM WAV files and implements the sample
// level operations used on separated stems: gain, phase-inverted mixing
// and excerpt extraction.
package audio

import (
	"math"
	"os"

	"github.com/cockroachdb/errors"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// OutputBitDepth is the bit depth of every file written by this package
const OutputBitDepth = 24

const wavFormatPCM = 1
const wavFormatExtensible = 0xFFFE

// ErrUnsupported is returned for files that are not integer PCM WAVs
var ErrUnsupported = errors.New("unsupported audio file")

// Clip is decoded audio. Samples are interleaved and normalized to [-1, 1].
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []float64
}

// Frames returns the number of sample frames
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the clip length in seconds
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

func openDecoder(path string) (*wav.Decoder, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %s", path)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, nil, errors.Wrapf(ErrUnsupported, "%s is not a wav file", path)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		f.Close()
		return nil, nil, errors.Wrapf(ErrUnsupported, "%s uses wav format %d", path, d.WavAudioFormat)
	}
	return d, f, nil
}

// SampleRate reads only the header of a WAV file
func SampleRate(path string) (int, error) {
	d, f, err := openDecoder(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return int(d.SampleRate), nil
}

// readChunk is the number of samples decoded per read
const readChunk = 8192

// Read decodes a PCM WAV file
func Read(path string) (*Clip, error) {
	d, f, err := openDecoder(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := d.FwdToPCM(); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	depth := int(d.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, errors.Wrapf(ErrUnsupported, "%s has bit depth %d", path, depth)
	}

	var samples []float64
	if bytesPerSample := (depth + 7) / 8; d.PCMSize > 0 {
		samples = make([]float64, 0, d.PCMSize/bytesPerSample)
	}

	// 8-bit wav is unsigned
	offset, scale := 0, float64(int64(1)<<uint(depth-1))
	if depth == 8 {
		offset, scale = 128, 128
	}

	buf := &goaudio.IntBuffer{Data: make([]int, readChunk)}
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", path)
		}
		if n == 0 {
			break
		}
		for _, v := range buf.Data[:n] {
			samples = append(samples, float64(v-offset)/scale)
		}
	}

	return &Clip{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Samples:    samples,
	}, nil
}

// Write encodes clip as 24-bit PCM. Samples outside [-1, 1] are clipped.
func Write(path string, clip *Clip) error {
	if clip.Channels < 1 || clip.SampleRate < 1 {
		return errors.Newf("invalid clip format: %d channels at %d Hz", clip.Channels, clip.SampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}

	const maxValue = float64(1<<(OutputBitDepth-1)) - 1

	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(math.Round(s * maxValue))
	}

	enc := wav.NewEncoder(f, clip.SampleRate, OutputBitDepth, clip.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: clip.Channels,
			SampleRate:  clip.SampleRate,
		},
		Data:           data,
		SourceBitDepth: OutputBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to finalize %s", path)
	}
	return f.Close()
}
