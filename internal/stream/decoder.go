package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
)

var (
	recordSep  = []byte("\n\n")
	dataPrefix = []byte("data: ")
)

// Decoder incrementally decodes events from a raw byte stream. Records may
// arrive split at arbitrary read boundaries: an unterminated trailing
// fragment is kept in an internal buffer and completed by later reads.
//
// Decoding ends at the first done record or when the underlying stream
// ends, whichever comes first. Bytes buffered past a done record are
// discarded as protocol termination. Callers distinguish a clean end from a
// truncated stream by whether they observed EventDone before io.EOF.
type Decoder struct {
	r       io.Reader
	buf     []byte  // carry-over fragment awaiting its record terminator
	pending []Event // decoded but not yet returned
	ended   bool    // done record seen or reader exhausted
	err     error   // sticky transport error
	read    [4096]byte
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next event. It returns io.EOF once the stream is over,
// or the transport error that ended it. After ctx is cancelled no further
// events are surfaced, even if already decoded.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.err != nil {
			return Event{}, d.err
		}
		if d.ended {
			return Event{}, io.EOF
		}

		n, err := d.r.Read(d.read[:])
		if n > 0 {
			d.buf = append(d.buf, d.read[:n]...)
			d.decodeBuffered()
		}
		if err != nil {
			if err == io.EOF {
				// an unterminated trailing fragment is an incomplete record
				d.ended = true
			} else {
				d.err = err
			}
		}
	}
}

// decodeBuffered splits complete records off the front of the buffer and
// appends their events to pending. The trailing fragment stays buffered.
func (d *Decoder) decodeBuffered() {
	for !d.ended {
		idx := bytes.Index(d.buf, recordSep)
		if idx < 0 {
			return
		}
		record := d.buf[:idx]
		d.buf = d.buf[idx+len(recordSep):]
		d.decodeRecord(record)
	}
}

// decodeRecord dispatches the payload lines of one record. Lines without
// the data prefix, unknown event types, and malformed JSON are skipped.
func (d *Decoder) decodeRecord(record []byte) {
	for _, line := range bytes.Split(record, []byte("\n")) {
		payload, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case EventStart, EventChunk:
			d.pending = append(d.pending, ev)
		case EventDone:
			d.pending = append(d.pending, Event{Type: EventDone})
			d.ended = true
			d.buf = nil
			return
		}
	}
}
