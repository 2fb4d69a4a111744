package stems

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/audio"
	"github.com/stemsplit/api/internal/executor"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/separation"
)

// OutputGainDB restores the level removed before separation
const OutputGainDB = 10.0

type Config struct {
	FFmpegBin string
	// OutputRoot is where "<prefix>_stems" directories are created.
	// Empty means next to the original file.
	OutputRoot string
}

// Processor turns raw model output into the delivered stem set
type Processor struct {
	cfg      Config
	executor executor.Executor
}

// Result of post-processing
type Result struct {
	OutputDir string
	// Stems maps stem name (including "ee") to the processed file
	Stems    map[string]string
	Warnings []string
}

func NewProcessor(cfg Config, exec executor.Executor) *Processor {
	return &Processor{cfg: cfg, executor: exec}
}

// StemFilename is the delivered file name for a stem
func StemFilename(prefix, stem string) string {
	if stem == model.StemResidual {
		return prefix + " EE.wav"
	}
	return prefix + " " + capitalize(stem) + ".wav"
}

// Process restores stem levels, derives the "ee" residual from the
// original and drops "other" once the residual exists.
func (p *Processor) Process(ctx context.Context, originalFile string, raw separation.StemSet, prefix string) (*Result, error) {
	root := p.cfg.OutputRoot
	if root == "" {
		root = filepath.Dir(originalFile)
	}

	outputDir := filepath.Join(root, prefix+"_stems")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, postProcessError(err, "failed to create output directory")
	}

	logger := log.WithFields(log.Fields{
		"outputDir": outputDir,
		"prefix":    prefix,
	})

	result := &Result{
		OutputDir: outputDir,
		Stems:     map[string]string{},
	}

	var foreground []string
	for _, name := range raw.Names() {
		if err := ctx.Err(); err != nil {
			return nil, postProcessError(err, "post-processing interrupted")
		}

		src := raw[name]
		if _, err := os.Stat(src); err != nil {
			result.warn(logger, "stem file not found: "+src)
			continue
		}

		out := filepath.Join(outputDir, StemFilename(prefix, name))
		if err := audio.AdjustGain(src, out, OutputGainDB); err != nil {
			logger.WithError(err).WithField("stem", name).Error("Failed to process stem")
			continue
		}

		result.Stems[name] = out
		if isForeground(name) {
			foreground = append(foreground, out)
		}
	}

	if len(foreground) > 0 {
		if _, err := os.Stat(originalFile); err == nil {
			p.buildResidual(ctx, logger, originalFile, foreground, prefix, result)
		} else {
			result.warn(logger, "original file missing, residual skipped")
		}
	}

	if _, ok := result.Stems[model.StemResidual]; ok {
		if other, ok := result.Stems[model.StemOther]; ok {
			if err := os.Remove(other); err != nil {
				result.warn(logger, "failed to remove other stem: "+err.Error())
			} else {
				delete(result.Stems, model.StemOther)
				logger.Info("Removed other stem in favour of ee")
			}
		}
	}

	if len(result.Stems) == 0 {
		return nil, postProcessError(errors.New("no stems written"), "post-processing produced nothing")
	}

	return result, nil
}

func (p *Processor) buildResidual(ctx context.Context, logger log.Interface, originalFile string, foreground []string, prefix string, result *Result) {
	rate, err := audio.SampleRate(foreground[0])
	if err != nil {
		result.warn(logger, "cannot read stem format: "+err.Error())
		return
	}

	original, err := p.asWav(ctx, originalFile, rate, prefix)
	if err != nil {
		result.warn(logger, "cannot decode original: "+err.Error())
		return
	}

	out := filepath.Join(result.OutputDir, StemFilename(prefix, model.StemResidual))
	truncated, err := audio.InvertAndMix(original, foreground, out)
	if err != nil {
		logger.WithError(err).Error("Failed to build ee stem")
		return
	}
	if truncated {
		result.warn(logger, "length mismatch between original and stems, ee truncated to the shorter")
	}

	result.Stems[model.StemResidual] = out
}

// asWav returns a WAV rendition of path at the given rate, converting with
// ffmpeg when the file is not already one.
func (p *Processor) asWav(ctx context.Context, path string, rate int, prefix string) (string, error) {
	if got, err := audio.SampleRate(path); err == nil && got == rate {
		return path, nil
	}

	converted := filepath.Join(filepath.Dir(path), prefix+"_original.wav")
	args := []string{"-y", "-i", path, "-ar", strconv.Itoa(rate), "-acodec", "pcm_s24le", converted}
	output, err := p.executor.Command(ctx, p.cfg.FFmpegBin, args...).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(string(output)))
	}
	return converted, nil
}

func (r *Result) warn(logger log.Interface, msg string) {
	logger.Warn(msg)
	r.Warnings = append(r.Warnings, msg)
}

func isForeground(stem string) bool {
	for _, s := range model.ForegroundStems {
		if strings.EqualFold(stem, s) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func postProcessError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), model.ErrPostProcess)
}
