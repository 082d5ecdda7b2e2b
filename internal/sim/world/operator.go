package world

import (
	"sort"

	"freightline.ai/internal/protocol"
)

// retainedEventCap bounds the per-operator replay ring. Clients that fall
// further behind than this must resync from OBS.
const retainedEventCap = 4096

type Operator struct {
	ID   string
	Name string

	// ResumeToken is a transport-level token used for reconnects.
	// It is intentionally NOT included in snapshots/digests.
	ResumeToken string

	// Events staged for the next OBS frame.
	Events []protocol.Event

	// Retained ring for EVENT_BATCH_REQ replay, cursored globally.
	Retained    []RetainedEvent
	EventCursor uint64

	// Rate limiting windows (per action type).
	rl map[string]*rateWindow
}

type RetainedEvent struct {
	Cursor uint64
	Event  protocol.Event
}

type rateWindow struct {
	StartTick uint64
	Count     int
	Window    uint64
	Max       int
}

func (o *Operator) initDefaults() {
	if o.rl == nil {
		o.rl = map[string]*rateWindow{}
	}
}

// addEvent stages an event for the operator's next OBS frame and retains it
// under a fresh cursor for batch replay.
func (w *World) addEvent(o *Operator, e protocol.Event) {
	w.eventCursor++
	o.Events = append(o.Events, e)
	o.Retained = append(o.Retained, RetainedEvent{Cursor: w.eventCursor, Event: e})
	if len(o.Retained) > retainedEventCap {
		o.Retained = o.Retained[len(o.Retained)-retainedEventCap:]
	}
	o.EventCursor = w.eventCursor
}

// broadcastEvent delivers an event to every operator in sorted-ID order so
// cursor assignment stays deterministic.
func (w *World) broadcastEvent(e protocol.Event) {
	for _, id := range sortedOperatorIDs(w.operators) {
		w.addEvent(w.operators[id], e)
	}
}

func sortedOperatorIDs(ops map[string]*Operator) []string {
	ids := make([]string, 0, len(ops))
	for id := range ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Operator) TakeEvents() []protocol.Event {
	ev := o.Events
	o.Events = nil
	return ev
}

// EventsAfter returns up to limit retained events with cursors past since,
// plus the cursor to resume from next time.
func (o *Operator) EventsAfter(since uint64, limit int) ([]RetainedEvent, uint64) {
	if limit <= 0 || limit > 512 {
		limit = 128
	}
	out := make([]RetainedEvent, 0, limit)
	next := since
	for _, re := range o.Retained {
		if re.Cursor <= since {
			continue
		}
		out = append(out, re)
		next = re.Cursor
		if len(out) >= limit {
			break
		}
	}
	return out, next
}

func (o *Operator) RateLimitAllow(kind string, nowTick uint64, window uint64, max int) bool {
	w, ok := o.rl[kind]
	if !ok {
		w = &rateWindow{StartTick: nowTick, Window: window, Max: max}
		o.rl[kind] = w
	}
	w.Window = window
	w.Max = max
	if w.Window == 0 || w.Max <= 0 {
		return true
	}
	if nowTick-w.StartTick >= w.Window {
		w.StartTick = nowTick
		w.Count = 0
	}
	w.Count++
	return w.Count <= w.Max
}
