package bwf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gwlsn/transcoder/internal/logger"
	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// DefaultOriginator is the BEXT originator string written when none is
// configured.
const DefaultOriginator = "transcoder"

// Extractor drives the BWF creation pipeline (§6, "BWF creation pipeline
// (opaque collaborator)"): it shells out to ffmpeg/ffprobe for media
// handling and to an external BEXT-insertion helper for the chunk write,
// treating the helper itself as an opaque collaborator exactly as the
// spec requires.
type Extractor struct {
	ffmpegPath    string
	ffprobePath   string
	bextHelperPath string // e.g. a python3 script; empty disables BEXT writing
	originator    string
}

// NewExtractor constructs an Extractor. bextHelperPath may be empty, in
// which case ExtractBWF always falls back to a plain WAV (no BEXT chunk).
func NewExtractor(ffmpegPath, ffprobePath, bextHelperPath string) *Extractor {
	return &Extractor{
		ffmpegPath:     ffmpegPath,
		ffprobePath:    ffprobePath,
		bextHelperPath: bextHelperPath,
		originator:     DefaultOriginator,
	}
}

// ExtractBWF runs the full pipeline from §6: probe the embedded timecode,
// extract audio to a temporary WAV, compute TimeReference, and invoke the
// BEXT helper to embed it. On a helper failure it falls back to a plain
// WAV file — the operation still succeeds, matching §6's stated fallback
// behavior. A cancelled helper run is returned as Cancelled instead.
func (e *Extractor) ExtractBWF(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	if _, err := os.Stat(inputPath); err != nil {
		return taxonomy.New(taxonomy.InvalidInput, "input path does not exist: %s", inputPath)
	}

	tcString, err := e.probeTimecode(ctx, inputPath)
	if err != nil {
		logger.Warn("bwf: failed to probe timecode, defaulting", "input", inputPath, "error", err)
		tcString = "00:00:00:00"
	}

	tempWav := outputPath + ".bwf.tmp.wav"
	if err := e.extractAudio(ctx, inputPath, tempWav, sampleRate); err != nil {
		return err
	}
	defer os.Remove(tempWav)

	tc, parseErr := parseTimecode(tcString)
	if parseErr != nil {
		logger.Warn("bwf: malformed timecode, writing plain WAV", "timecode", tcString, "error", parseErr)
		return renameOrCopy(tempWav, outputPath)
	}

	timeRef, calcErr := CalculateTimeReference(tc)
	if calcErr != nil {
		logger.Warn("bwf: timecode out of range, writing plain WAV", "timecode", tcString, "error", calcErr)
		return renameOrCopy(tempWav, outputPath)
	}

	if e.bextHelperPath == "" {
		return renameOrCopy(tempWav, outputPath)
	}

	if err := e.insertBextChunk(ctx, tempWav, outputPath, timeRef, sampleRate, tcString); err != nil {
		if taxonomy.KindOf(err) == taxonomy.Cancelled {
			return err
		}
		logger.Warn("bwf: BEXT helper failed, falling back to plain WAV", "error", err)
		return renameOrCopy(tempWav, outputPath)
	}

	return nil
}

// probeTimecode runs ffprobe in key=value form and extracts the first
// "timecode=" line, accepting ';' as the field separator for drop-frame
// timecodes (the raw string is returned; parseTimecode does the
// splitting).
func (e *Extractor) probeTimecode(ctx context.Context, inputPath string) (string, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-show_entries", "format_tags=timecode:stream_tags=timecode",
		"-of", "default=noprint_wrappers=1",
		inputPath,
	)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", taxonomy.Wrap(taxonomy.Platform, err, "ffprobe timecode probe failed")
	}

	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "TAG:timecode=") {
			return strings.TrimPrefix(line, "TAG:timecode="), nil
		}
		if strings.HasPrefix(line, "timecode=") {
			return strings.TrimPrefix(line, "timecode="), nil
		}
	}

	return "00:00:00:00", nil
}

// extractAudio pulls the audio stream out to a 24-bit PCM, stereo-downmix
// WAV at sampleRate, per §6 step 2.
func (e *Extractor) extractAudio(ctx context.Context, inputPath, tempWavPath string, sampleRate int) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s24le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "2",
		tempWavPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return taxonomy.Wrap(taxonomy.Cancelled, ctx.Err(), "audio extraction of %s cancelled", tempWavPath)
		}
		return taxonomy.Wrap(taxonomy.FfmpegFailed, err, "audio extraction failed: %s", strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(tempWavPath); err != nil {
		return taxonomy.New(taxonomy.FfmpegFailed, "extracted audio file was not created")
	}

	return nil
}

// insertBextChunk shells out to the external BEXT-insertion helper,
// treated as an opaque collaborator per §6.
func (e *Extractor) insertBextChunk(ctx context.Context, tempWavPath, outputPath string, timeRef int64, sampleRate int, description string) error {
	cmd := exec.CommandContext(ctx, "python3", e.bextHelperPath,
		"--input", tempWavPath,
		"--output", outputPath,
		"--time-ref", strconv.FormatInt(timeRef, 10),
		"--sample-rate", strconv.Itoa(sampleRate),
		"--frame-rate", fmt.Sprintf("%.3f", FrameRate),
		"--description", description,
		"--originator", e.originator,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return taxonomy.Wrap(taxonomy.Cancelled, ctx.Err(), "BEXT helper for %s cancelled", outputPath)
		}
		return taxonomy.Wrap(taxonomy.Platform, err, "BEXT helper failed: %s", strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return taxonomy.New(taxonomy.Platform, "BEXT helper did not produce an output file")
	}

	return nil
}

// parseTimecode splits an HH:MM:SS:FF (or drop-frame HH:MM:SS;FF) string
// into its four components. Exactly four parts are required.
func parseTimecode(s string) (Timecode, error) {
	s = strings.ReplaceAll(s, ";", ":")
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Timecode{}, taxonomy.New(taxonomy.InvalidInput, "malformed timecode: %q", s)
	}

	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Timecode{}, taxonomy.New(taxonomy.InvalidInput, "malformed timecode component %q in %q", p, s)
		}
		vals[i] = v
	}

	return Timecode{Hours: vals[0], Minutes: vals[1], Seconds: vals[2], Frames: vals[3]}, nil
}

// renameOrCopy moves tempPath to finalPath, falling back to a copy when
// rename fails (e.g. cross-device), matching the plain-WAV fallback
// outcome described in §6.
func renameOrCopy(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err == nil {
		return nil
	}

	in, err := os.Open(tempPath)
	if err != nil {
		return taxonomy.Wrap(taxonomy.Io, err, "opening %s", tempPath)
	}
	defer in.Close()

	out, err := os.Create(finalPath)
	if err != nil {
		return taxonomy.Wrap(taxonomy.Io, err, "creating %s", finalPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return taxonomy.Wrap(taxonomy.Io, err, "copying %s to %s", tempPath, finalPath)
	}

	return out.Close()
}
