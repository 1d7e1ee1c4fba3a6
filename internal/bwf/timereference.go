// Package bwf implements the BEXT/BWF timecode pipeline: converting a
// captured HH:MM:SS:FF timecode into a BEXT TimeReference sample count (a
// pure function, §6), and driving the external tools that extract audio
// and embed the resulting BEXT chunk.
package bwf

import (
	"math"

	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// FrameRate is the fixed 23.976fps frame rate the TimeReference formula is
// defined against.
const FrameRate = 23.976

// multiplier converts a frame count at FrameRate into BEXT sample units
// (samples per frame at the reference sample rate the formula was derived
// for).
const multiplier = 2004.005263

// Timecode is an HH:MM:SS:FF timecode.
type Timecode struct {
	Hours   int
	Minutes int
	Seconds int
	Frames  int
}

// CalculateTimeReference computes the BEXT TimeReference for tc, per §6
// step 3: total_frames = HH*3600*FRAME_RATE + MM*60*FRAME_RATE +
// SS*FRAME_RATE + FF, then TimeReference = floor(total_frames *
// multiplier). Validates HH in [0,23], MM/SS in [0,59], FF in [0,23]
// (23.976fps has 24 frames per second, numbered 0-23); out-of-range
// fails with InvalidInput.
func CalculateTimeReference(tc Timecode) (int64, error) {
	if tc.Hours < 0 || tc.Hours > 23 {
		return 0, taxonomy.New(taxonomy.InvalidInput, "hours must be 0-23, got %d", tc.Hours)
	}
	if tc.Minutes < 0 || tc.Minutes > 59 {
		return 0, taxonomy.New(taxonomy.InvalidInput, "minutes must be 0-59, got %d", tc.Minutes)
	}
	if tc.Seconds < 0 || tc.Seconds > 59 {
		return 0, taxonomy.New(taxonomy.InvalidInput, "seconds must be 0-59, got %d", tc.Seconds)
	}
	if tc.Frames < 0 || tc.Frames > 23 {
		return 0, taxonomy.New(taxonomy.InvalidInput, "frames must be 0-23 for 23.976fps, got %d", tc.Frames)
	}

	totalFrames := float64(tc.Hours)*3600*FrameRate +
		float64(tc.Minutes)*60*FrameRate +
		float64(tc.Seconds)*FrameRate +
		float64(tc.Frames)

	return int64(math.Floor(totalFrames * multiplier)), nil
}

// DecodeTimeReference reconstructs an approximate timecode from a BEXT
// TimeReference at the given sample rate (the inverse of
// CalculateTimeReference, up to drift). multiplier is not exactly
// sampleRate/FrameRate at 48000Hz, so the decoded time drifts from the
// original as the timecode grows: 13:20:20:05 decodes to 13:21:08, so even
// hours and minutes are not guaranteed to match.
func DecodeTimeReference(timeReference int64, sampleRate int) Timecode {
	totalSeconds := float64(timeReference) / float64(sampleRate)

	hours := int(totalSeconds / 3600.0)
	remaining := math.Mod(totalSeconds, 3600.0)

	minutes := int(remaining / 60.0)
	secondsTotal := math.Mod(remaining, 60.0)

	seconds := int(secondsTotal)
	frames := int(math.Mod(secondsTotal, 1.0) * FrameRate)

	return Timecode{Hours: hours, Minutes: minutes, Seconds: seconds, Frames: frames}
}
