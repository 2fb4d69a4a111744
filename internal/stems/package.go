package stems

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/audio"
	"github.com/stemsplit/api/internal/model"
)

// MP3Bitrate is used when packaging stems as mp3
const MP3Bitrate = "320k"

// Package archives every file in outputDir into "<outputDir>.zip". With the
// mp3 format each WAV is transcoded first; stems that fail to transcode are
// left out.
func (p *Processor) Package(ctx context.Context, outputDir string, format model.PackageFormat) (string, error) {
	if format == "" {
		format = model.PackageFormatWAV
	}
	if format != model.PackageFormatWAV && format != model.PackageFormatMP3 {
		return "", postProcessError(errors.Newf("unknown format %q", format), "cannot package stems")
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", postProcessError(err, "cannot read output directory")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	logger := log.WithFields(log.Fields{
		"outputDir": outputDir,
		"format":    format,
	})

	var mp3Dir string
	if format == model.PackageFormatMP3 {
		mp3Dir = outputDir + "_mp3"
		if err := os.MkdirAll(mp3Dir, 0o755); err != nil {
			return "", postProcessError(err, "cannot create transcode directory")
		}
		defer os.RemoveAll(mp3Dir)
	}

	zipPath := outputDir + ".zip"
	f, err := os.Create(zipPath)
	if err != nil {
		return "", postProcessError(err, "cannot create archive")
	}

	zw := zip.NewWriter(f)
	for _, name := range names {
		src := filepath.Join(outputDir, name)

		if mp3Dir != "" && strings.EqualFold(filepath.Ext(name), ".wav") {
			mp3Name := strings.TrimSuffix(name, filepath.Ext(name)) + ".mp3"
			mp3Path := filepath.Join(mp3Dir, mp3Name)
			if err := p.transcodeMP3(ctx, src, mp3Path); err != nil {
				logger.WithError(err).WithField("file", name).Warn("Failed to transcode stem, leaving it out")
				continue
			}
			src, name = mp3Path, mp3Name
		}

		if err := addToZip(zw, src, name); err != nil {
			zw.Close()
			f.Close()
			return "", postProcessError(err, "cannot write archive")
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return "", postProcessError(err, "cannot finalize archive")
	}
	if err := f.Close(); err != nil {
		return "", postProcessError(err, "cannot finalize archive")
	}

	logger.WithField("zip", zipPath).Info("Created stem package")
	return zipPath, nil
}

func (p *Processor) transcodeMP3(ctx context.Context, wavPath, mp3Path string) error {
	args := []string{"-y", "-i", wavPath, "-codec:a", "libmp3lame", "-b:a", MP3Bitrate, mp3Path}
	output, err := p.executor.Command(ctx, p.cfg.FFmpegBin, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

func addToZip(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// Preview cuts a clip of the given length in seconds out of a stem, starting
// a quarter of the way in. Stems no longer than the clip are returned as is.
func (p *Processor) Preview(stemFile string, duration float64) (string, error) {
	clip, err := audio.Read(stemFile)
	if err != nil {
		return "", postProcessError(err, "cannot read stem for preview")
	}

	n := int(duration * float64(clip.SampleRate))
	frames := clip.Frames()
	if frames <= n {
		return stemFile, nil
	}

	start := frames / 4
	if start > frames-n {
		start = frames - n
	}

	previewPath := strings.TrimSuffix(stemFile, filepath.Ext(stemFile)) + "_preview.wav"
	if err := audio.Write(previewPath, audio.Extract(clip, start, n)); err != nil {
		return "", postProcessError(err, "cannot write preview")
	}

	log.WithField("preview", previewPath).Info("Created preview clip")
	return previewPath, nil
}
