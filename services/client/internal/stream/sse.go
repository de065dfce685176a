package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// Event types carried on a generation channel.
const (
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// Event is one framed server-push event: a token chunk, a completion marker,
// or a typed error.
type Event struct {
	Type string
	Data json.RawMessage
}

// Decoder reads newline-delimited event frames of the form
// "event: <type>\ndata: <json>\n\n". A frame may arrive split across network
// reads, so bytes accumulate in a growing buffer scanned for the blank-line
// boundary.
type Decoder struct {
	r   io.Reader
	buf []byte
	eof bool
}

// NewDecoder wraps a raw event-stream reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next complete frame, or io.EOF once the stream is
// exhausted. Frames are returned strictly in arrival order.
func (d *Decoder) Next() (Event, error) {
	for {
		if idx := bytes.Index(d.buf, []byte("\n\n")); idx >= 0 {
			frame := d.buf[:idx]
			d.buf = d.buf[idx+2:]
			if ev, ok := parseFrame(frame); ok {
				return ev, nil
			}
			continue
		}
		if d.eof {
			// Tolerate a final frame missing its trailing blank line.
			if len(d.buf) > 0 {
				frame := d.buf
				d.buf = nil
				if ev, ok := parseFrame(frame); ok {
					return ev, nil
				}
			}
			return Event{}, io.EOF
		}
		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err == io.EOF {
			d.eof = true
			continue
		}
		if err != nil {
			return Event{}, err
		}
	}
}

func parseFrame(frame []byte) (Event, bool) {
	var ev Event
	var data []string
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ev.Type == "" && len(data) == 0 {
		return Event{}, false
	}
	ev.Data = json.RawMessage(strings.Join(data, "\n"))
	return ev, true
}
