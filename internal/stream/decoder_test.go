package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

func frame(payload string) string {
	return "data: " + payload + "\n\n"
}

// drain decodes every event until EOF.
func drain(t *testing.T, dec *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := dec.Next(context.Background())
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}
}

func wellFormedStream() string {
	return frame(`{"type":"start","sources":{"document":true,"web":false},"contexts":[{"page_numbers":[3,5]}]}`) +
		frame(`{"type":"chunk","content":"Hel"}`) +
		frame(`{"type":"chunk","content":"lo"}`) +
		frame(`{"type":"done"}`)
}

func TestDecoderSingleRead(t *testing.T) {
	events := drain(t, NewDecoder(strings.NewReader(wellFormedStream())))

	if len(events) != 4 {
		t.Fatalf("events: got %d, want 4", len(events))
	}
	if events[0].Type != EventStart {
		t.Errorf("first event: got %s", events[0].Type)
	}
	if events[0].Sources == nil || !events[0].Sources.Document || events[0].Sources.Web {
		t.Errorf("sources: got %+v", events[0].Sources)
	}
	if len(events[0].Contexts) != 1 || !reflect.DeepEqual(events[0].Contexts[0].PageNumbers, []int{3, 5}) {
		t.Errorf("contexts: got %+v", events[0].Contexts)
	}
	if events[1].Content != "Hel" || events[2].Content != "lo" {
		t.Errorf("chunks: got %q, %q", events[1].Content, events[2].Content)
	}
	if events[3].Type != EventDone {
		t.Errorf("last event: got %s", events[3].Type)
	}
}

func TestDecoderReassemblyIsReadBoundaryIndependent(t *testing.T) {
	raw := []byte(wellFormedStream())
	want := drain(t, NewDecoder(bytes.NewReader(raw)))

	// splitting the byte stream at any offset must not change the events
	for i := 1; i < len(raw); i++ {
		dec := NewDecoder(io.MultiReader(bytes.NewReader(raw[:i]), bytes.NewReader(raw[i:])))
		got := drain(t, dec)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestDecoderOneBytePerRead(t *testing.T) {
	raw := wellFormedStream()
	want := drain(t, NewDecoder(strings.NewReader(raw)))
	got := drain(t, NewDecoder(iotest.OneByteReader(strings.NewReader(raw))))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("one-byte reads changed the event sequence: %+v", got)
	}
}

func TestDecoderSkipsMalformedRecords(t *testing.T) {
	raw := frame(`{"type":"bogus"}`) +
		frame(`{not json`) +
		frame(`{"type":"chunk","content":"ok"}`) +
		frame(`{"type":"done"}`)
	events := drain(t, NewDecoder(strings.NewReader(raw)))

	if len(events) != 2 {
		t.Fatalf("events: got %+v, want chunk+done", events)
	}
	if events[0].Content != "ok" {
		t.Errorf("chunk content: got %q", events[0].Content)
	}
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	raw := "event: message\ndata: {\"type\":\"chunk\",\"content\":\"x\"}\n\n" +
		": heartbeat\n\n" +
		frame(`{"type":"done"}`)
	events := drain(t, NewDecoder(strings.NewReader(raw)))
	if len(events) != 2 || events[0].Content != "x" {
		t.Errorf("events: got %+v", events)
	}
}

func TestDecoderDoneTerminatesEvenWithBufferedRecords(t *testing.T) {
	raw := frame(`{"type":"done"}`) + frame(`{"type":"chunk","content":"late"}`)
	events := drain(t, NewDecoder(strings.NewReader(raw)))
	if len(events) != 1 || events[0].Type != EventDone {
		t.Errorf("bytes after done must be discarded, got %+v", events)
	}
}

func TestDecoderTruncatedTailDiscarded(t *testing.T) {
	// the stream dies mid-record, no terminator
	raw := frame(`{"type":"chunk","content":"a"}`) + `data: {"type":"chunk","con`
	events := drain(t, NewDecoder(strings.NewReader(raw)))
	if len(events) != 1 || events[0].Content != "a" {
		t.Errorf("events: got %+v", events)
	}
}

func TestDecoderPropagatesTransportError(t *testing.T) {
	broken := errors.New("connection reset")
	dec := NewDecoder(io.MultiReader(
		strings.NewReader(frame(`{"type":"chunk","content":"a"}`)),
		iotest.ErrReader(broken),
	))
	if ev, err := dec.Next(context.Background()); err != nil || ev.Content != "a" {
		t.Fatalf("first event: %v, %v", ev, err)
	}
	if _, err := dec.Next(context.Background()); !errors.Is(err, broken) {
		t.Errorf("got %v, want transport error", err)
	}
}

func TestDecoderCancellationStopsDelivery(t *testing.T) {
	dec := NewDecoder(strings.NewReader(wellFormedStream()))
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := dec.Next(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	// already-decoded events must not be surfaced after cancellation
	if _, err := dec.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestDecoderMultiplePayloadLinesPerRecord(t *testing.T) {
	raw := "data: {\"type\":\"chunk\",\"content\":\"a\"}\ndata: {\"type\":\"chunk\",\"content\":\"b\"}\n\n" +
		frame(`{"type":"done"}`)
	events := drain(t, NewDecoder(strings.NewReader(raw)))
	if len(events) != 3 {
		t.Fatalf("events: got %d, want 3", len(events))
	}
	if got := events[0].Content + events[1].Content; got != "ab" {
		t.Errorf("payload order: got %q", got)
	}
}

func TestDecoderLargeChunkAcrossBuffers(t *testing.T) {
	// one record bigger than the internal read buffer
	big := strings.Repeat("x", 10000)
	raw := frame(fmt.Sprintf(`{"type":"chunk","content":"%s"}`, big)) + frame(`{"type":"done"}`)
	events := drain(t, NewDecoder(strings.NewReader(raw)))
	if len(events) != 2 || events[0].Content != big {
		t.Errorf("large chunk mangled: %d events, len %d", len(events), len(events[0].Content))
	}
}
