package config

import (
	"strings"
	"testing"
)

func TestBuildArgsOrdering(t *testing.T) {
	cfg := TranscodeConfig{
		VideoCodec:      VideoProResKS,
		AudioCodec:      AudioPCM24,
		Container:       ContainerMOV,
		ProResProfile:   ProResHQ,
		VideoBitrate:    "50M",
		Resolution:      "1920x1080",
		FrameRate:       "23.976",
		AudioSampleRate: 48000,
		MapAllAudio:     true,
		ExtraArgs:       []string{"-movflags", "faststart"},
	}

	args := cfg.BuildArgs("/in.mov", "/out.mov")

	indexOf := func(flag string) int {
		for i, a := range args {
			if a == flag {
				return i
			}
		}
		return -1
	}

	// -i must come before the codec flags, which must come before the
	// stream mapping, which must come before the output path (last arg).
	if indexOf("-i") >= indexOf("-c:v") {
		t.Error("expected -i before -c:v")
	}
	if indexOf("-c:v") >= indexOf("-b:v") {
		t.Error("expected -c:v before -b:v")
	}
	if indexOf("-b:v") >= indexOf("-s") {
		t.Error("expected -b:v before -s")
	}
	if indexOf("-s") >= indexOf("-r") {
		t.Error("expected -s before -r")
	}
	if indexOf("-r") >= indexOf("-c:a") {
		t.Error("expected -r before -c:a")
	}
	if indexOf("-c:a") >= indexOf("-map") {
		t.Error("expected -c:a before -map")
	}
	if args[len(args)-1] != "/out.mov" {
		t.Errorf("output path must be the last argument, got %q", args[len(args)-1])
	}
	if args[len(args)-2] != "faststart" {
		t.Error("expected extra args to immediately precede the output path")
	}
}

func TestBuildArgsProResProfileNumber(t *testing.T) {
	cfg := TranscodeConfig{VideoCodec: VideoProResKS, ProResProfile: ProRes4444XQ, AudioCodec: AudioCopy, Container: ContainerMOV}
	args := cfg.BuildArgs("/in.mov", "/out.mov")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-profile:v 5") {
		t.Errorf("expected ProRes 4444XQ to map to profile 5, args: %v", args)
	}
}

func TestBuildArgsDnxhrProfileAndPixelFormat(t *testing.T) {
	cfg := TranscodeConfig{VideoCodec: VideoDNxHR, DnxhrProfile: DnxhrHQX, AudioCodec: AudioCopy, Container: ContainerMXF}
	args := cfg.BuildArgs("/in.mov", "/out.mxf")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "dnxhr_hqx") {
		t.Errorf("expected dnxhr_hqx profile string, args: %v", args)
	}
	if !strings.Contains(joined, "yuv422p10le") {
		t.Errorf("expected 10-bit pixel format for HQX, args: %v", args)
	}
}

func TestBuildArgsDnxhrLBUses8Bit(t *testing.T) {
	cfg := TranscodeConfig{VideoCodec: VideoDNxHR, DnxhrProfile: DnxhrLB, AudioCodec: AudioCopy, Container: ContainerMXF}
	args := cfg.BuildArgs("/in.mov", "/out.mxf")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "yuv422p") || strings.Contains(joined, "yuv422p10le") {
		t.Errorf("expected 8-bit yuv422p for LB, args: %v", args)
	}
}

func TestBuildArgsContainerFormatFlag(t *testing.T) {
	cfg := DefaultTranscodeConfig()
	cfg.Container = ContainerMP4
	args := cfg.BuildArgs("/in.mov", "/out.mp4")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f mp4") {
		t.Errorf("expected explicit -f mp4, args: %v", args)
	}
}

func TestBuildArgsAutoContainerOmitsFormatFlag(t *testing.T) {
	cfg := DefaultTranscodeConfig()
	cfg.Container = ContainerAuto
	args := cfg.BuildArgs("/in.mov", "/out.mov")
	for i, a := range args {
		if a == "-f" {
			t.Errorf("expected no explicit -f flag for ContainerAuto, found at index %d: %v", i, args)
		}
	}
}

func TestBuildArgsLutFilter(t *testing.T) {
	cfg := DefaultTranscodeConfig()
	cfg.LutPath = "/luts/rec709.cube"
	args := cfg.BuildArgs("/in.mov", "/out.mov")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "lut3d=file='/luts/rec709.cube'") {
		t.Errorf("expected a lut3d filter referencing the configured LUT, args: %v", args)
	}
}

func TestBuildArgsLutFilterEscapesEmbeddedQuote(t *testing.T) {
	cfg := DefaultTranscodeConfig()
	cfg.LutPath = "/luts/rec'709.cube"
	args := cfg.BuildArgs("/in.mov", "/out.mov")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, `lut3d=file='/luts/rec'\''709.cube'`) {
		t.Errorf("expected the embedded quote to be escaped, args: %v", args)
	}
}

func TestBuildArgsNoHWAccelOmitsFlag(t *testing.T) {
	cfg := DefaultTranscodeConfig()
	cfg.HWAccel = false
	args := cfg.BuildArgs("/in.mov", "/out.mov")
	for _, a := range args {
		if a == "-hwaccel" {
			t.Error("expected no -hwaccel flag when HWAccel is false")
		}
	}
}

func TestDefaultTranscodeConfig(t *testing.T) {
	cfg := DefaultTranscodeConfig()
	if cfg.VideoCodec != VideoProResKS {
		t.Errorf("default VideoCodec = %v, want ProResKS", cfg.VideoCodec)
	}
	if cfg.AudioCodec != AudioPCM24 {
		t.Errorf("default AudioCodec = %v, want PCM24", cfg.AudioCodec)
	}
	if cfg.AudioSampleRate != 48000 {
		t.Errorf("default AudioSampleRate = %v, want 48000", cfg.AudioSampleRate)
	}
	if !cfg.HWAccel || !cfg.MapAllAudio {
		t.Error("defaults should enable hardware acceleration and full audio mapping")
	}
}
