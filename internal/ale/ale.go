// Package ale writes Avid Log Exchange files: a plain tabular format,
// implemented here strictly to the contract in §6 (Heading/Column/Data
// blocks) with no metadata-extraction heuristics — those are an external
// collaborator's concern, out of scope for this module.
package ale

import (
	"fmt"
	"io"
	"strings"
)

// Entry is one row of the Data block.
type Entry struct {
	Name     string
	Tape     string
	StartTC  string
	EndTC    string
	Duration string
	Tracks   string
	FPS      string
}

// Write renders entries to w in the ALE format: a Heading block
// (FIELD_DELIM, VIDEO_FORMAT, AUDIO_FORMAT, FPS), a blank line, a Column
// block (tab-separated header), a blank line, and a Data block of
// tab-separated rows.
func Write(w io.Writer, videoFormat, audioFormat, fps string, entries []Entry) error {
	var b strings.Builder

	b.WriteString("Heading\n")
	b.WriteString("FIELD_DELIM\tTABS\n")
	fmt.Fprintf(&b, "VIDEO_FORMAT\t%s\n", videoFormat)
	fmt.Fprintf(&b, "AUDIO_FORMAT\t%s\n", audioFormat)
	fmt.Fprintf(&b, "FPS\t%s\n", fps)
	b.WriteString("\n")

	b.WriteString("Column\n")
	b.WriteString("Name\tTape\tStart\tEnd\tDuration\tTracks\tFPS\n")
	b.WriteString("\n")

	b.WriteString("Data\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Name, e.Tape, e.StartTC, e.EndTC, e.Duration, e.Tracks, e.FPS)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
