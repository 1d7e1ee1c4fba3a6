// Package platform adapts the orchestrator to the host OS: locating the
// external tools it drives, reporting CPU count for worker-pool sizing, and
// picking the right hardware-acceleration flag for the encoder driver.
package platform

import (
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// HWAccel is a per-OS hardware decode/encode acceleration method.
type HWAccel string

const (
	HWAccelNone         HWAccel = "none"
	HWAccelVideoToolbox HWAccel = "videotoolbox"
	HWAccelVAAPI        HWAccel = "vaapi"
	HWAccelD3D11VA      HWAccel = "d3d11va"
)

// DefaultHWAccel returns the hardware acceleration method native to the
// current OS: VideoToolbox on macOS, VAAPI on Linux, D3D11VA on Windows.
func DefaultHWAccel() HWAccel {
	switch runtime.GOOS {
	case "darwin":
		return HWAccelVideoToolbox
	case "linux":
		return HWAccelVAAPI
	case "windows":
		return HWAccelD3D11VA
	default:
		return HWAccelNone
	}
}

// WorkerCount returns the default worker pool size: logical CPUs minus one,
// floored at one.
func WorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// TempDir returns the directory to stage temporary output files in.
func TempDir() string {
	return os.TempDir()
}

// Tools caches resolved absolute paths for the external binaries the core
// drives, so repeated lookups don't repeatedly hit PATH.
type Tools struct {
	mu   sync.RWMutex
	path map[string]string
}

// NewTools constructs an empty resolver.
func NewTools() *Tools {
	return &Tools{path: make(map[string]string)}
}

// Find resolves name (e.g. "ffmpeg", "ffprobe", "bmxtranswrap") to an
// absolute path via configuredPath if non-empty, else via PATH lookup.
// Results are cached. Returns FfmpegNotFound (for ffmpeg) or Platform (for
// any other tool) when the binary cannot be located.
func (t *Tools) Find(name, configuredPath string) (string, error) {
	t.mu.RLock()
	if p, ok := t.path[name]; ok {
		t.mu.RUnlock()
		return p, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.path[name]; ok {
		return p, nil
	}

	candidate := configuredPath
	if candidate == "" {
		candidate = name
	}

	resolved, err := exec.LookPath(candidate)
	if err != nil {
		if name == "ffmpeg" {
			return "", taxonomy.Wrap(taxonomy.FfmpegNotFound, err, "ffmpeg not found on PATH")
		}
		return "", taxonomy.Wrap(taxonomy.Platform, err, "%s not found on PATH", name)
	}

	t.path[name] = resolved
	return resolved, nil
}

// CheckWritable verifies dir is writable by creating and removing a marker
// file in it. Used at startup to fail fast on a misconfigured temp dir.
func CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".transcoder-write-check-*")
	if err != nil {
		return taxonomy.Wrap(taxonomy.Io, err, "directory %s is not writable", dir)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
