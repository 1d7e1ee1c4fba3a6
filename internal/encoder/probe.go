package encoder

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// Prober wraps ffprobe invocations.
type Prober struct {
	ffprobePath string
}

// NewProber constructs a Prober bound to the given ffprobe executable path.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Duration probes path's container duration in seconds via ffprobe's
// key-less text output form, per §4.3 step 2. A non-success exit or
// unparseable output maps to Platform.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return 0, taxonomy.Wrap(taxonomy.Platform, err, "ffprobe duration probe failed for %s", path)
	}

	text := strings.TrimSpace(stdout.String())
	duration, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, taxonomy.Wrap(taxonomy.Platform, err, "invalid duration format: %q", text)
	}

	return duration, nil
}
