// Package encoder drives the external transcoder (FFmpeg by default) for
// the video pipeline: probing input duration, translating a configuration
// object into an argument vector, and parsing the child process's stderr
// output into progress callbacks.
package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/gwlsn/transcoder/internal/config"
	"github.com/gwlsn/transcoder/internal/taxonomy"
)

var (
	timeRe = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d{2})`)
	fpsRe  = regexp.MustCompile(`fps=\s*(\d+\.?\d*)`)
)

// ProgressFunc receives a percent-complete value in [0, 100] and an
// optional instantaneous frame rate, once per matching stderr line, plus a
// final call of (100, nil) after the process exits successfully.
type ProgressFunc func(percent float64, fps *float64)

// Transcoder drives ffmpeg.
type Transcoder struct {
	ffmpegPath string
	prober     *Prober
}

// NewTranscoder constructs a Transcoder bound to the given ffmpeg
// executable and a Prober used for the duration probe.
func NewTranscoder(ffmpegPath string, prober *Prober) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath, prober: prober}
}

// Transcode runs the full encoder-driver operation from §4.3: validate
// input, probe duration, translate cfg to an argument vector, spawn
// ffmpeg, and stream progress parsed from stderr. ctx cancellation kills
// the child process (the hard-cancellation design chosen in §9).
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string, cfg config.TranscodeConfig, onProgress ProgressFunc) error {
	if _, err := os.Stat(inputPath); err != nil {
		return taxonomy.New(taxonomy.InvalidInput, "input path does not exist: %s", inputPath)
	}

	duration, err := t.prober.Duration(ctx, inputPath)
	if err != nil {
		return err
	}

	args := cfg.BuildArgs(inputPath, outputPath)

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.Stdin = nil

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return taxonomy.Wrap(taxonomy.Platform, err, "failed to open ffmpeg stderr pipe")
	}
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return taxonomy.Wrap(taxonomy.FfmpegNotFound, err, "failed to start ffmpeg")
	}

	scanLines(stderr, func(line string) {
		percent, fps, ok := parseProgressLine(line, duration)
		if ok && onProgress != nil {
			onProgress(percent, fps)
		}
	})

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return taxonomy.Wrap(taxonomy.Cancelled, ctx.Err(), "transcode of %s cancelled", inputPath)
		}
		return taxonomy.Wrap(taxonomy.FfmpegFailed, err, "ffmpeg failed (%s)", ExitCodeOf(err))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return taxonomy.New(taxonomy.FfmpegFailed, "output file was not created")
	}

	if onProgress != nil {
		onProgress(100.0, nil)
	}

	return nil
}

// scanLines reads r line-by-line, calling fn for each, swallowing the
// scanner's own EOF/close errors (the caller observes success/failure via
// cmd.Wait instead).
func scanLines(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

// parseProgressLine extracts elapsed-time and fps from a single ffmpeg
// stderr line per §4.3 step 5. ok is false when the line carries no
// time=HH:MM:SS.ff marker.
func parseProgressLine(line string, duration float64) (percent float64, fps *float64, ok bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, nil, false
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.ParseFloat(m[3], 64)

	elapsed := float64(hours)*3600 + float64(minutes)*60 + seconds

	if duration > 0 {
		percent = math.Min(100, elapsed/duration*100)
	}

	if fm := fpsRe.FindStringSubmatch(line); fm != nil {
		if v, err := strconv.ParseFloat(fm[1], 64); err == nil {
			fps = &v
		}
	}

	return percent, fps, true
}

// ExitCodeOf extracts the process exit code from an error returned by
// cmd.Wait, for inclusion in FfmpegFailed messages.
func ExitCodeOf(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("exit code %d", exitErr.ExitCode())
	}
	return "unknown exit status"
}
