// Package chat assembles streamed answers into chat turns and provides the
// streaming client for the document-QA ask endpoint.
package chat

import (
	"github.com/jprocode/DocAssist-AI/internal/stream"
)

// Turn is one question/answer exchange. Answer only grows; Sources and
// PageNumbers are set at most once, by the start event.
type Turn struct {
	Question    string          `json:"question"`
	Answer      string          `json:"answer"`
	Sources     *stream.Sources `json:"sources,omitempty"`
	PageNumbers []int           `json:"page_numbers,omitempty"`
	Failed      bool            `json:"failed,omitempty"`

	final bool
}

// Final reports whether the turn has been finalized and will not change.
func (t Turn) Final() bool { return t.final }

// Accumulator folds decoder events for one turn into a Turn value, exposed
// incrementally for live rendering. Not safe for concurrent use; feed it
// from the single decode loop.
type Accumulator struct {
	turn     Turn
	sawStart bool
}

// NewAccumulator creates an accumulator for a submitted question.
func NewAccumulator(question string) *Accumulator {
	return &Accumulator{turn: Turn{Question: question}}
}

// Apply folds one event into the turn and returns a snapshot of its current
// state. Events arriving after finalization are ignored.
func (a *Accumulator) Apply(ev stream.Event) Turn {
	if a.turn.final {
		return a.snapshot()
	}
	switch ev.Type {
	case stream.EventStart:
		if a.sawStart {
			// only the first start event may set sources and pages
			break
		}
		a.sawStart = true
		if ev.Sources != nil {
			src := *ev.Sources
			a.turn.Sources = &src
		}
		// Page numbers come from the first context only; later contexts are
		// ignored even when the first carries none.
		if len(ev.Contexts) > 0 && len(ev.Contexts[0].PageNumbers) > 0 {
			a.turn.PageNumbers = append([]int(nil), ev.Contexts[0].PageNumbers...)
		}
	case stream.EventChunk:
		a.turn.Answer += ev.Content
	case stream.EventDone:
		a.turn.final = true
	}
	return a.snapshot()
}

// Fail marks the turn failed and finalizes it. Used when the transport dies
// before the done record; callers should discard the partial answer rather
// than present it as complete.
func (a *Accumulator) Fail() Turn {
	a.turn.Failed = true
	a.turn.final = true
	return a.snapshot()
}

// Turn returns a snapshot of the current turn state.
func (a *Accumulator) Turn() Turn { return a.snapshot() }

// Done reports whether the turn has been finalized.
func (a *Accumulator) Done() bool { return a.turn.final }

func (a *Accumulator) snapshot() Turn {
	cp := a.turn
	if cp.Sources != nil {
		src := *cp.Sources
		cp.Sources = &src
	}
	cp.PageNumbers = append([]int(nil), a.turn.PageNumbers...)
	return cp
}
