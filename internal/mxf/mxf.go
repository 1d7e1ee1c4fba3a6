// Package mxf drives an external BMX-family tool (bmxtranswrap by default)
// to detect and convert MXF essence wrapping between clip-wrapped and
// frame-wrapped layouts.
package mxf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gwlsn/transcoder/internal/logger"
	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// Wrapping is the MXF essence layout.
type Wrapping int

const (
	ClipWrapped Wrapping = iota
	FrameWrapped
)

func (w Wrapping) String() string {
	if w == FrameWrapped {
		return "frame-wrapped"
	}
	return "clip-wrapped"
}

// Rewrapper drives bmxtranswrap.
type Rewrapper struct {
	ffprobePath      string
	bmxtranswrapPath string
}

// NewRewrapper constructs a Rewrapper bound to the given ffprobe and
// bmxtranswrap executable paths.
func NewRewrapper(ffprobePath, bmxtranswrapPath string) *Rewrapper {
	return &Rewrapper{ffprobePath: ffprobePath, bmxtranswrapPath: bmxtranswrapPath}
}

// DetectWrapping inspects path and reports its current wrapping. Strategy:
// invoke the external tool's info mode and look for
// "frame-wrapped"/"Frame Wrapped" vs "clip-wrapped"/"Clip Wrapped" in its
// output; default to ClipWrapped when ambiguous or the tool is
// unavailable.
func (r *Rewrapper) DetectWrapping(ctx context.Context, path string) (Wrapping, error) {
	if _, err := os.Stat(path); err != nil {
		return ClipWrapped, taxonomy.New(taxonomy.InvalidInput, "input path does not exist: %s", path)
	}

	cmd := exec.CommandContext(ctx, r.bmxtranswrapPath, "--info", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		// Tool unavailable or refused to introspect; the spec mandates a
		// default rather than a hard failure here.
		return ClipWrapped, nil
	}

	text := out.String()
	switch {
	case strings.Contains(text, "frame-wrapped"), strings.Contains(text, "Frame Wrapped"):
		return FrameWrapped, nil
	case strings.Contains(text, "clip-wrapped"), strings.Contains(text, "Clip Wrapped"):
		return ClipWrapped, nil
	default:
		return ClipWrapped, nil
	}
}

// BatchProgressFunc reports progress across a batch_rewrap call: idx is
// the 0-based position of the file just finished, total is the batch size,
// percent is that file's own terminal progress (always 100 on success).
type BatchProgressFunc func(idx, total int, percent float64)

// Rewrap converts input to target wrapping, writing output. If the
// input's current wrapping already equals target, the file is copied
// verbatim and 100% is reported (idempotence, §8 property 9). Otherwise
// bmxtranswrap is invoked with an OP1a target pattern and
// --frame-layout separate (Frame target) or --clip-wrap (Clip target).
func (r *Rewrapper) Rewrap(ctx context.Context, inputPath, outputPath string, target Wrapping, onProgress func(percent float64)) error {
	current, err := r.DetectWrapping(ctx, inputPath)
	if err != nil {
		return err
	}

	if current == target {
		if err := copyFile(inputPath, outputPath); err != nil {
			return taxonomy.Wrap(taxonomy.Io, err, "copying %s to %s", inputPath, outputPath)
		}
		if onProgress != nil {
			onProgress(100.0)
		}
		return nil
	}

	args := []string{"-t", "op1a"}
	switch target {
	case FrameWrapped:
		args = append(args, "--frame-layout", "separate")
	case ClipWrapped:
		args = append(args, "--clip-wrap")
	}
	args = append(args, "-o", outputPath, inputPath)

	cmd := exec.CommandContext(ctx, r.bmxtranswrapPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return taxonomy.Wrap(taxonomy.Platform, err, "failed to open bmxtranswrap stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return taxonomy.Wrap(taxonomy.Platform, err, "failed to start bmxtranswrap")
	}

	// No parsable progress in bmxtranswrap's stderr; just drain it so the
	// pipe doesn't fill and block the child.
	drain(stderr)

	if err := cmd.Wait(); err != nil {
		return taxonomy.Wrap(taxonomy.Platform, err, "bmxtranswrap exited with an error")
	}

	if _, err := os.Stat(outputPath); err != nil {
		return taxonomy.New(taxonomy.Platform, "output file was not created")
	}

	if onProgress != nil {
		onProgress(100.0)
	}

	return nil
}

// ClipToFrame rewraps input from clip-wrapped to frame-wrapped.
func (r *Rewrapper) ClipToFrame(ctx context.Context, inputPath, outputPath string, onProgress func(percent float64)) error {
	return r.Rewrap(ctx, inputPath, outputPath, FrameWrapped, onProgress)
}

// FrameToClip rewraps input from frame-wrapped to clip-wrapped.
func (r *Rewrapper) FrameToClip(ctx context.Context, inputPath, outputPath string, onProgress func(percent float64)) error {
	return r.Rewrap(ctx, inputPath, outputPath, ClipWrapped, onProgress)
}

// Pair names one batch_rewrap input/output.
type Pair struct {
	Input  string
	Output string
}

// Outcome is one file's result within a batch_rewrap call.
type Outcome struct {
	Pair Pair
	Err  error
}

// BatchRewrap sequentially rewraps each pair to target. A failure on one
// file never aborts the batch; every outcome is reported independently.
func (r *Rewrapper) BatchRewrap(ctx context.Context, pairs []Pair, target Wrapping, onProgress BatchProgressFunc) []Outcome {
	outcomes := make([]Outcome, len(pairs))
	total := len(pairs)

	for i, pair := range pairs {
		err := r.Rewrap(ctx, pair.Input, pair.Output, target, func(percent float64) {
			if onProgress != nil {
				onProgress(i, total, percent)
			}
		})
		outcomes[i] = Outcome{Pair: pair, Err: err}
	}

	return outcomes
}

// mobIDLength is the fixed length of a valid Material Object ID once its
// dot/dash separators are stripped (§8 boundary check).
const mobIDLength = 64

// UnifyOptions configures a unify_mob_ids batch: every input file is
// rewrapped, if necessary, so its Material Package UID matches the target.
type UnifyOptions struct {
	InputFiles    []string
	TargetMobID   string // explicit target; takes priority over ReferenceFile
	ReferenceFile string // if set and TargetMobID is empty, read the target from this file
	OutputDir     string
	OutputType    string // bmxtranswrap -t value, e.g. "op1a" or "avid"
}

// extractMaterialPackageUID shells out to bmxtranswrap --info and parses its
// "Material Package UID" line, stripping the dot/dash grouping separators a
// raw UMID dump uses.
func (r *Rewrapper) extractMaterialPackageUID(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, r.bmxtranswrapPath, "--info", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", taxonomy.Wrap(taxonomy.Platform, err, "failed to read MXF metadata from %s", path)
	}

	for _, line := range strings.Split(out.String(), "\n") {
		if !strings.Contains(line, "Material Package UID") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		uid := strings.NewReplacer(".", "", "-", "", " ", "").Replace(parts[1])
		return uid, nil
	}

	return "", taxonomy.New(taxonomy.Platform, "could not extract Material Package UID from %s", path)
}

// UnifyMobIDs rewraps every file in opts.InputFiles so its Material Package
// UID matches the resolved target (opts.TargetMobID, else read from
// opts.ReferenceFile, else from the first input file). Files already at the
// target MOB ID are copied verbatim, matching Rewrap's idempotence. A
// missing input file is skipped with a warning rather than aborting the
// batch, consistent with the batch-never-aborts-on-per-item-failure rule
// applied elsewhere in this package.
func (r *Rewrapper) UnifyMobIDs(ctx context.Context, opts UnifyOptions) ([]string, error) {
	if len(opts.InputFiles) == 0 {
		return nil, taxonomy.New(taxonomy.InvalidInput, "no input files provided")
	}

	target := strings.NewReplacer(".", "", "-", "").Replace(opts.TargetMobID)
	var err error
	switch {
	case target != "":
		// explicit target already resolved above
	case opts.ReferenceFile != "":
		target, err = r.extractMaterialPackageUID(ctx, opts.ReferenceFile)
	default:
		target, err = r.extractMaterialPackageUID(ctx, opts.InputFiles[0])
	}
	if err != nil {
		return nil, err
	}

	if len(target) != mobIDLength {
		return nil, taxonomy.New(taxonomy.InvalidInput, "invalid MOB ID length: expected %d hex chars, got %d", mobIDLength, len(target))
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, taxonomy.Wrap(taxonomy.Io, err, "creating output directory %s", opts.OutputDir)
	}

	var outputFiles []string
	for _, inputFile := range opts.InputFiles {
		if _, statErr := os.Stat(inputFile); statErr != nil {
			logger.Warn("mxf: unify_mob_ids skipping missing file", "input", inputFile)
			continue
		}

		stem := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
		outputFile := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_unified.mxf", stem))

		current, extractErr := r.extractMaterialPackageUID(ctx, inputFile)
		if extractErr == nil && current == target {
			if err := copyFile(inputFile, outputFile); err != nil {
				return outputFiles, taxonomy.Wrap(taxonomy.Io, err, "copying %s to %s", inputFile, outputFile)
			}
			outputFiles = append(outputFiles, outputFile)
			continue
		}

		outputPrefix := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_unified", stem))
		args := []string{"-t", opts.OutputType, "-o", outputPrefix, "--mp-uid", target, inputFile}
		cmd := exec.CommandContext(ctx, r.bmxtranswrapPath, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return outputFiles, taxonomy.Wrap(taxonomy.Platform, err, "bmxtranswrap failed for %s: %s", inputFile, stderr.String())
		}

		if opts.OutputType == "avid" {
			outputFile = filepath.Join(opts.OutputDir, fmt.Sprintf("%s_unified_v0.mxf", stem))
		}
		if _, err := os.Stat(outputFile); err == nil {
			outputFiles = append(outputFiles, outputFile)
		}
	}

	return outputFiles, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
