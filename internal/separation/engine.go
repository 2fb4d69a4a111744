package separation

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/audio"
	"github.com/stemsplit/api/internal/executor"
	"github.com/stemsplit/api/internal/model"
)

// TargetSampleRate is the rate the separation model expects
const TargetSampleRate = 44100

const sampleRateTolerance = 100

// InputGainDB is applied to the model input to leave headroom for the stems
const InputGainDB = -10.0

// StemSet maps a stem name ("drums", "vocals", ...) to a file path
type StemSet map[string]string

// Names returns the stem names in sorted order
func (s StemSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Config struct {
	DemucsBin string
	FFmpegBin string
	Model     string
	Device    string
	Shifts    int
	Overlap   float64
	// Stems restricts the model output; empty means every stem the model produces
	Stems []string
}

// Engine runs the demucs source separation model as a subprocess
type Engine struct {
	cfg      Config
	executor executor.Executor
}

func NewEngine(cfg Config, exec executor.Executor) *Engine {
	if cfg.Model == "" {
		cfg.Model = "htdemucs"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	if cfg.Shifts < 1 {
		cfg.Shifts = 1
	}
	return &Engine{cfg: cfg, executor: exec}
}

// Separate splits inputFile into stems. Intermediate files and the model
// output are written next to inputFile.
func (e *Engine) Separate(ctx context.Context, inputFile, prefix string) (StemSet, error) {
	workDir := filepath.Dir(inputFile)
	if prefix == "" {
		prefix = baseName(inputFile)
	}

	logger := log.WithFields(log.Fields{
		"input":  inputFile,
		"prefix": prefix,
		"model":  e.cfg.Model,
		"device": e.cfg.Device,
	})

	source, err := e.ensureSampleRate(ctx, inputFile, prefix)
	if err != nil {
		return nil, separationError(err, "failed to prepare input")
	}

	tempInput := filepath.Join(workDir, prefix+"_temp.wav")
	if err := audio.AdjustGain(source, tempInput, InputGainDB); err != nil {
		return nil, separationError(err, "failed to attenuate input")
	}
	defer func() {
		if err := os.Remove(tempInput); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).Warn("Failed to remove temporary input")
		}
	}()

	outDir := filepath.Join(workDir, "separated")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, separationError(err, "failed to create output directory")
	}

	if err := e.runDemucs(ctx, tempInput, outDir); err != nil {
		return nil, err
	}

	modelDir := filepath.Join(outDir, e.cfg.Model)
	trackDir := filepath.Join(modelDir, baseName(tempInput))
	if _, err := os.Stat(trackDir); err != nil {
		trackDir = filepath.Join(modelDir, baseName(inputFile))
	}

	stems, err := collectStems(trackDir)
	if err != nil {
		return nil, separationError(err, "failed to collect stems")
	}

	logger.WithField("stems", strings.Join(stems.Names(), ",")).Info("Separation complete")
	return stems, nil
}

func (e *Engine) ensureSampleRate(ctx context.Context, inputFile, prefix string) (string, error) {
	rate, err := audio.SampleRate(inputFile)
	if err == nil && abs(rate-TargetSampleRate) < sampleRateTolerance {
		return inputFile, nil
	}

	converted := filepath.Join(filepath.Dir(inputFile), prefix+"_44k.wav")
	log.WithFields(log.Fields{
		"input":     inputFile,
		"converted": converted,
		"rate":      rate,
	}).Info("Converting input to 44.1 kHz")

	args := []string{"-y", "-i", inputFile, "-ar", strconv.Itoa(TargetSampleRate), "-acodec", "pcm_s24le", converted}
	cmd := e.executor.Command(ctx, e.cfg.FFmpegBin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "ffmpeg conversion failed: %s", string(output))
	}
	return converted, nil
}

func (e *Engine) Args(input, outDir string) []string {
	args := []string{
		"--out", outDir,
		"--name", e.cfg.Model,
		"-d", e.cfg.Device,
		"--shifts", strconv.Itoa(e.cfg.Shifts),
		"--overlap=" + strconv.FormatFloat(e.cfg.Overlap, 'f', -1, 64),
		"--int24",
	}
	if len(e.cfg.Stems) > 0 {
		args = append(args, "--stems", strings.Join(e.cfg.Stems, ","))
	}
	return append(args, input)
}

func (e *Engine) runDemucs(ctx context.Context, input, outDir string) error {
	args := e.Args(input, outDir)

	logger := log.WithFields(log.Fields{
		"demucsBin": e.cfg.DemucsBin,
		"args":      strings.Join(args, " "),
	})
	logger.Info("Running demucs command")

	cmd := e.executor.Command(ctx, e.cfg.DemucsBin, args...)
	cmd.SetDir(filepath.Dir(outDir))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.CombineErrors(ctxErr, err)
		}
		return separationError(err, "demucs failed: "+strings.TrimSpace(string(output)))
	}

	logger.Debug(string(output))
	logger.Info("Finished demucs command")
	return nil
}

func collectStems(dir string) (StemSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "output directory not found: %s", dir)
	}

	stems := StemSet{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		stems[stemOf(entry.Name())] = filepath.Join(dir, entry.Name())
	}

	if len(stems) == 0 {
		return nil, errors.Newf("no stems in %s", dir)
	}
	return stems, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// stemOf returns the last dot-separated component before the extension,
// so "song.drums.wav" and "drums.wav" both name the drums stem.
func stemOf(path string) string {
	base := baseName(path)
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[i+1:]
	}
	return base
}

func separationError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), model.ErrSeparation)
}
