// Package config holds the two configuration shapes the orchestrator
// deals with: TranscodeConfig, the opaque per-job options record the
// encoder driver translates into an argument vector, and AppConfig (see
// app.go), the ambient YAML application configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/gwlsn/transcoder/internal/platform"
)

// VideoCodec selects the target video codec.
type VideoCodec string

const (
	VideoProRes   VideoCodec = "prores"
	VideoProResKS VideoCodec = "prores_ks"
	VideoDNxHD    VideoCodec = "dnxhd"
	VideoDNxHR    VideoCodec = "dnxhr"
	VideoH264     VideoCodec = "h264"
	VideoH265     VideoCodec = "h265"
	VideoCopy     VideoCodec = "copy"
)

// AudioCodec selects the target audio codec.
type AudioCodec string

const (
	AudioPCM16 AudioCodec = "pcm16"
	AudioPCM24 AudioCodec = "pcm24"
	AudioAAC   AudioCodec = "aac"
	AudioCopy  AudioCodec = "copy"
)

// Container selects the output container format.
type Container string

const (
	ContainerMOV  Container = "mov"
	ContainerMP4  Container = "mp4"
	ContainerMXF  Container = "mxf"
	ContainerWAV  Container = "wav"
	ContainerAuto Container = "auto"
)

// ProResProfile selects the Apple ProRes profile index (applies only when
// VideoCodec is ProResKS).
type ProResProfile string

const (
	ProResProxy     ProResProfile = "proxy"
	ProResLT        ProResProfile = "lt"
	ProResStandard  ProResProfile = "standard"
	ProResHQ        ProResProfile = "hq"
	ProRes4444      ProResProfile = "4444"
	ProRes4444XQ    ProResProfile = "4444xq"
)

// profileNumber returns the ffmpeg -profile:v index for a ProRes profile.
func (p ProResProfile) profileNumber() int {
	switch p {
	case ProResProxy:
		return 0
	case ProResLT:
		return 1
	case ProResStandard:
		return 2
	case ProResHQ:
		return 3
	case ProRes4444:
		return 4
	case ProRes4444XQ:
		return 5
	default:
		return 2
	}
}

// DnxhrProfile selects the DNxHR profile (applies only when VideoCodec is
// DNxHR); it also determines the 8-bit vs 10-bit pixel format.
type DnxhrProfile string

const (
	DnxhrLB   DnxhrProfile = "lb"
	DnxhrSQ   DnxhrProfile = "sq"
	DnxhrHQ   DnxhrProfile = "hq"
	DnxhrHQX  DnxhrProfile = "hqx"
	Dnxhr444  DnxhrProfile = "444"
)

// ffmpegProfile returns the ffmpeg -profile:v string for a DNxHR profile.
func (p DnxhrProfile) ffmpegProfile() string {
	switch p {
	case DnxhrLB:
		return "dnxhr_lb"
	case DnxhrSQ:
		return "dnxhr_sq"
	case DnxhrHQ:
		return "dnxhr_hq"
	case DnxhrHQX:
		return "dnxhr_hqx"
	case Dnxhr444:
		return "dnxhr_444"
	default:
		return "dnxhr_sq"
	}
}

// pixelFormat returns the pixel format a DNxHR profile encodes at: 8-bit
// yuv422p for {LB, SQ, HQ}, 10-bit yuv422p10le for {HQX, 444}.
func (p DnxhrProfile) pixelFormat() string {
	switch p {
	case DnxhrHQX, Dnxhr444:
		return "yuv422p10le"
	default:
		return "yuv422p"
	}
}

// TranscodeConfig is the opaque configuration object a job carries. The
// queue treats it as an opaque blob, stored pre-serialized on Job; the
// worker pool decodes it to pick a pipeline (and the BWF sample rate), and
// the encoder driver translates it into an argument vector.
// Kind selects between the video pipeline (empty/"transcode") and the BWF
// extraction pipeline ("bwf_extraction") per §4.2 step 6.
type TranscodeConfig struct {
	Kind string `json:"kind,omitempty"`

	VideoCodec VideoCodec `json:"video_codec"`
	AudioCodec AudioCodec `json:"audio_codec"`
	Container  Container  `json:"container"`

	ProResProfile ProResProfile `json:"prores_profile,omitempty"`
	DnxhrProfile  DnxhrProfile  `json:"dnxhr_profile,omitempty"`

	VideoBitrate     string `json:"video_bitrate,omitempty"`
	AudioBitrate     string `json:"audio_bitrate,omitempty"`
	AudioSampleRate  int    `json:"audio_sample_rate,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	FrameRate        string `json:"frame_rate,omitempty"`
	ExtraArgs        []string `json:"extra_args,omitempty"`

	HWAccel     bool   `json:"hw_accel"`
	MapAllAudio bool   `json:"map_all_audio"`
	LutPath     string `json:"lut_path,omitempty"`

	// BWFSampleRate is read only when Kind == "bwf_extraction" (§6).
	BWFSampleRate int `json:"bwf_sample_rate,omitempty"`
}

// DefaultTranscodeConfig mirrors the original's serde Default impl:
// ProResKS/PCM24/MOV/48000Hz, hardware acceleration and full audio mapping
// on.
func DefaultTranscodeConfig() TranscodeConfig {
	return TranscodeConfig{
		VideoCodec:      VideoProResKS,
		AudioCodec:      AudioPCM24,
		Container:       ContainerMOV,
		AudioSampleRate: 48000,
		ProResProfile:   ProResHQ,
		HWAccel:         true,
		MapAllAudio:     true,
	}
}

// BuildArgs translates config into the ffmpeg argument vector, in the
// exact order §4.3 mandates: hwaccel flag, input, codec, bitrate,
// resolution, frame rate, LUT filter, audio codec, audio rate/bitrate,
// stream mapping, threads, format, extra args, output.
func (c TranscodeConfig) BuildArgs(inputPath, outputPath string) []string {
	var args []string

	if c.HWAccel {
		if accel := platform.DefaultHWAccel(); accel != platform.HWAccelNone {
			args = append(args, "-hwaccel", string(accel))
		}
	}

	args = append(args, "-i", inputPath, "-y")

	args = append(args, c.videoCodecArgs()...)

	if c.VideoBitrate != "" {
		args = append(args, "-b:v", c.VideoBitrate)
	}
	if c.Resolution != "" {
		args = append(args, "-s", c.Resolution)
	}
	if c.FrameRate != "" {
		args = append(args, "-r", c.FrameRate)
	}
	if c.LutPath != "" {
		args = append(args, "-vf", fmt.Sprintf("lut3d=file='%s'", escapeFilterPath(c.LutPath)))
	}

	args = append(args, c.audioCodecArgs()...)

	if c.AudioSampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", c.AudioSampleRate))
	}
	if c.AudioBitrate != "" {
		args = append(args, "-b:a", c.AudioBitrate)
	}

	if c.MapAllAudio {
		args = append(args, "-map", "0:v:0", "-map", "0:a")
	}

	args = append(args, "-threads", "0")

	switch c.Container {
	case ContainerMOV:
		args = append(args, "-f", "mov")
	case ContainerMP4:
		args = append(args, "-f", "mp4")
	case ContainerMXF:
		args = append(args, "-f", "mxf")
	case ContainerWAV:
		args = append(args, "-f", "wav")
	case ContainerAuto, "":
		// no explicit -f; let ffmpeg infer from the output extension
	}

	args = append(args, c.ExtraArgs...)
	args = append(args, outputPath)

	return args
}

// videoCodecArgs returns the -c:v (and any profile/pixel-format) flags for
// the configured video codec; only codecs that support -profile:v emit it.
func (c TranscodeConfig) videoCodecArgs() []string {
	switch c.VideoCodec {
	case VideoProRes:
		return []string{"-c:v", "prores"}
	case VideoProResKS:
		return []string{"-c:v", "prores_ks", "-profile:v", fmt.Sprintf("%d", c.ProResProfile.profileNumber())}
	case VideoDNxHD:
		return []string{"-c:v", "dnxhd"}
	case VideoDNxHR:
		return []string{
			"-c:v", "dnxhd",
			"-profile:v", c.DnxhrProfile.ffmpegProfile(),
			"-pix_fmt", c.DnxhrProfile.pixelFormat(),
		}
	case VideoH264:
		if c.HWAccel {
			return []string{"-c:v", hwEncoderName("h264")}
		}
		return []string{"-c:v", "libx264", "-preset", "medium"}
	case VideoH265:
		if c.HWAccel {
			return []string{"-c:v", hwEncoderName("h265")}
		}
		return []string{"-c:v", "libx265", "-preset", "medium"}
	case VideoCopy:
		return []string{"-c:v", "copy"}
	default:
		return []string{"-c:v", "copy"}
	}
}

// hwEncoderName returns the platform hardware encoder name for a software
// codec family, e.g. "h264" -> "h264_videotoolbox" on macOS.
func hwEncoderName(family string) string {
	switch platform.DefaultHWAccel() {
	case platform.HWAccelVideoToolbox:
		return family + "_videotoolbox"
	case platform.HWAccelVAAPI:
		return family + "_vaapi"
	case platform.HWAccelD3D11VA:
		// D3D11VA accelerates decode only; NVENC/QSV/AMF are the usual
		// Windows hardware encoders. Default to NVENC as the common case.
		return family + "_nvenc"
	default:
		if family == "h264" {
			return "libx264"
		}
		return "libx265"
	}
}

// escapeFilterPath escapes a path for embedding as a single-quoted value
// inside an ffmpeg filtergraph expression (e.g. lut3d=file='...'). Per
// ffmpeg's filter-string escaping rules, a literal single quote inside a
// quoted value is written by closing the quote, emitting an escaped quote,
// and reopening it.
func escapeFilterPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func (c TranscodeConfig) audioCodecArgs() []string {
	switch c.AudioCodec {
	case AudioPCM16:
		return []string{"-c:a", "pcm_s16le"}
	case AudioPCM24:
		return []string{"-c:a", "pcm_s24le"}
	case AudioAAC:
		return []string{"-c:a", "aac"}
	case AudioCopy:
		return []string{"-c:a", "copy"}
	default:
		return []string{"-c:a", "copy"}
	}
}
