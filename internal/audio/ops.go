package audio

import (
	"math"

	"github.com/cockroachdb/errors"
)

// GainFactor converts a decibel change to a linear amplitude factor
func GainFactor(db float64) float64 {
	return math.Pow(10, db/20)
}

// AdjustGain writes a copy of in to out with its level changed by db
func AdjustGain(in, out string, db float64) error {
	clip, err := Read(in)
	if err != nil {
		return err
	}

	factor := GainFactor(db)
	for i := range clip.Samples {
		clip.Samples[i] *= factor
	}

	return Write(out, clip)
}

// InvertAndMix writes original minus the sum of stems to out. Stems are
// converted to the channel layout of the original; all inputs must share
// its sample rate. The result is cut to the shortest input, in which case
// truncated is true.
func InvertAndMix(original string, stems []string, out string) (truncated bool, err error) {
	base, err := Read(original)
	if err != nil {
		return false, err
	}

	frames := base.Frames()
	decoded := make([]*Clip, 0, len(stems))
	for _, path := range stems {
		clip, err := Read(path)
		if err != nil {
			return false, err
		}
		if clip.SampleRate != base.SampleRate {
			return false, errors.Newf("sample rate mismatch: %s is %d Hz, original is %d Hz",
				path, clip.SampleRate, base.SampleRate)
		}
		clip = Remix(clip, base.Channels)
		if clip.Frames() != frames {
			truncated = true
			if clip.Frames() < frames {
				frames = clip.Frames()
			}
		}
		decoded = append(decoded, clip)
	}

	n := frames * base.Channels
	mixed := &Clip{
		SampleRate: base.SampleRate,
		Channels:   base.Channels,
		Samples:    make([]float64, n),
	}
	copy(mixed.Samples, base.Samples[:n])
	for _, clip := range decoded {
		for i := 0; i < n; i++ {
			mixed.Samples[i] -= clip.Samples[i]
		}
	}

	return truncated, Write(out, mixed)
}

// Remix converts clip to the given channel count. Downmixing to mono
// averages channels; any other conversion maps channels round-robin.
func Remix(clip *Clip, channels int) *Clip {
	if clip.Channels == channels || channels < 1 {
		return clip
	}

	frames := clip.Frames()
	out := &Clip{
		SampleRate: clip.SampleRate,
		Channels:   channels,
		Samples:    make([]float64, frames*channels),
	}

	for f := 0; f < frames; f++ {
		src := clip.Samples[f*clip.Channels : (f+1)*clip.Channels]
		if channels == 1 {
			var sum float64
			for _, s := range src {
				sum += s
			}
			out.Samples[f] = sum / float64(clip.Channels)
			continue
		}
		for c := 0; c < channels; c++ {
			out.Samples[f*channels+c] = src[c%clip.Channels]
		}
	}
	return out
}

// Extract returns n frames of clip starting at frame start, clamped to the clip bounds
func Extract(clip *Clip, start, n int) *Clip {
	frames := clip.Frames()
	if start < 0 {
		start = 0
	}
	if start > frames {
		start = frames
	}
	end := start + n
	if n < 0 || end > frames {
		end = frames
	}

	samples := make([]float64, (end-start)*clip.Channels)
	copy(samples, clip.Samples[start*clip.Channels:end*clip.Channels])

	return &Clip{
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
		Samples:    samples,
	}
}
