// Package stream decodes the answer event protocol produced by the
// document-QA service: records separated by a blank line, each carrying
// "data: <json>" payload lines.
package stream

// EventType discriminates protocol events.
type EventType string

const (
	// EventStart carries answer sources and retrieval contexts, sent once
	// before any answer text.
	EventStart EventType = "start"
	// EventChunk carries one increment of answer text.
	EventChunk EventType = "chunk"
	// EventDone terminates the stream.
	EventDone EventType = "done"
)

// Sources flags where an answer drew from.
type Sources struct {
	Document bool `json:"document"`
	Web      bool `json:"web"`
}

// Context is one retrieval context attached to a start event.
type Context struct {
	Rank        int     `json:"rank,omitempty"`
	Score       float64 `json:"score,omitempty"`
	Text        string  `json:"text,omitempty"`
	PageNumbers []int   `json:"page_numbers,omitempty"`
}

// Event is one decoded protocol event. Fields other than Type are populated
// according to the event's kind.
type Event struct {
	Type     EventType `json:"type"`
	Sources  *Sources  `json:"sources,omitempty"`
	Contexts []Context `json:"contexts,omitempty"`
	Content  string    `json:"content,omitempty"`
}
