// Package audiotest provides stand-ins for the external audio tools so the
// separation pipeline can be exercised without demucs or ffmpeg installed.
package audiotest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/audio"
	"github.com/stemsplit/api/internal/executor"
)

// DefaultStems is what the fake model produces unless told otherwise
var DefaultStems = []string{"drums", "bass", "vocals", "other"}

// WriteTone writes a sine tone WAV file
func WriteTone(path string, sampleRate, channels int, seconds float64) error {
	frames := int(float64(sampleRate) * seconds)
	clip := &audio.Clip{SampleRate: sampleRate, Channels: channels, Samples: make([]float64, frames*channels)}
	for f := 0; f < frames; f++ {
		v := 0.4 * math.Sin(2*math.Pi*220*float64(f)/float64(sampleRate))
		for c := 0; c < channels; c++ {
			clip.Samples[f*channels+c] = v
		}
	}
	return audio.Write(path, clip)
}

// Toolchain fakes the demucs and ffmpeg binaries. Demucs output stems are
// equal shares of the input, so they sum back to it.
type Toolchain struct {
	Stems []string

	// DemucsErr fails every demucs run
	DemucsErr error
	// DemucsDelay blocks demucs until the delay passes or the context ends
	DemucsDelay time.Duration
	// FFmpegErr fails every ffmpeg run
	FFmpegErr error

	mu    sync.Mutex
	calls [][]string
}

func (t *Toolchain) Executor() executor.Executor {
	return executor.Func(t.run)
}

// Calls returns every invocation as name followed by its arguments
func (t *Toolchain) Calls() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallsTo counts invocations of the named binary
func (t *Toolchain) CallsTo(name string) int {
	n := 0
	for _, call := range t.Calls() {
		if filepath.Base(call[0]) == name {
			n++
		}
	}
	return n
}

func (t *Toolchain) run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	t.mu.Lock()
	t.calls = append(t.calls, append([]string{name}, args...))
	t.mu.Unlock()

	switch filepath.Base(name) {
	case "demucs":
		return t.demucs(ctx, args)
	case "ffmpeg":
		return t.ffmpeg(args)
	default:
		return nil, errors.Newf("%s: command not found", name)
	}
}

func (t *Toolchain) demucs(ctx context.Context, args []string) ([]byte, error) {
	if t.DemucsDelay > 0 {
		select {
		case <-ctx.Done():
			return []byte("killed"), ctx.Err()
		case <-time.After(t.DemucsDelay):
		}
	}
	if t.DemucsErr != nil {
		return []byte("demucs: " + t.DemucsErr.Error()), t.DemucsErr
	}

	outDir, modelName := flagValue(args, "--out"), flagValue(args, "--name")
	input := args[len(args)-1]

	clip, err := audio.Read(input)
	if err != nil {
		return []byte(err.Error()), err
	}

	stems := t.Stems
	if stems == nil {
		stems = DefaultStems
	}

	trackDir := filepath.Join(outDir, modelName, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)))
	if err := os.MkdirAll(trackDir, 0o755); err != nil {
		return nil, err
	}

	share := 1 / float64(len(stems))
	for _, stem := range stems {
		part := &audio.Clip{SampleRate: clip.SampleRate, Channels: clip.Channels, Samples: make([]float64, len(clip.Samples))}
		for i, s := range clip.Samples {
			part.Samples[i] = s * share
		}
		if err := audio.Write(filepath.Join(trackDir, stem+".wav"), part); err != nil {
			return nil, err
		}
	}
	return []byte("separated " + strings.Join(stems, ",")), nil
}

func (t *Toolchain) ffmpeg(args []string) ([]byte, error) {
	if t.FFmpegErr != nil {
		return []byte("ffmpeg: " + t.FFmpegErr.Error()), t.FFmpegErr
	}

	input, output := flagValue(args, "-i"), args[len(args)-1]

	if strings.EqualFold(filepath.Ext(output), ".mp3") {
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		return nil, os.WriteFile(output, append([]byte("ID3"), data[:min(len(data), 64)]...), 0o644)
	}

	// resampling is faked by relabelling the rate; non-wav input becomes a tone
	clip, err := audio.Read(input)
	if err != nil {
		return nil, WriteTone(output, 44100, 2, 1)
	}
	if rate := flagValue(args, "-ar"); rate == "44100" {
		clip.SampleRate = 44100
	}
	return nil, audio.Write(output, clip)
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
