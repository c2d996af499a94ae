// Package stream decodes the server-push turn protocol: a text stream of
// blank-line-delimited frames, each carrying event/data lines.
package stream

import "strings"

// Decoder splits an incoming chunk sequence into discrete frames. Chunks may
// split anywhere, including mid-line and between the bytes of a CRLF pair.
// The decoder performs no interpretation of frame contents.
type Decoder struct {
	rest   string
	heldCR bool
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write buffers one chunk and returns the complete frames it closed, in
// order. Newlines are normalized (CRLF to LF) before buffering.
func (d *Decoder) Write(chunk string) []string {
	if d.heldCR {
		chunk = "\r" + chunk
		d.heldCR = false
	}
	// A trailing CR may be the first half of a CRLF split across chunks.
	if strings.HasSuffix(chunk, "\r") {
		chunk = chunk[:len(chunk)-1]
		d.heldCR = true
	}
	d.rest += strings.ReplaceAll(chunk, "\r\n", "\n")

	var frames []string
	for {
		i := strings.Index(d.rest, "\n\n")
		if i < 0 {
			break
		}
		frame := d.rest[:i]
		d.rest = d.rest[i+2:]
		if strings.TrimSpace(frame) != "" {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush returns the residual buffer as one final frame at end of input.
// A whitespace-only residue produces no frame.
func (d *Decoder) Flush() (string, bool) {
	frame := d.rest
	if d.heldCR {
		frame += "\r"
		d.heldCR = false
	}
	d.rest = ""
	if strings.TrimSpace(frame) == "" {
		return "", false
	}
	return frame, true
}
