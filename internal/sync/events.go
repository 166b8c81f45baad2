package sync

// EventKind identifies a run notification.
type EventKind string

// Run notifications, in the order a run emits them.
const (
	EventStart    EventKind = "start"
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
	EventEnd      EventKind = "end"
)

// User-facing messages attached to events.
const (
	MessageStart    = "Media Sync Start!!"
	MessageProgress = "Media Sync in Process!!"
	MessageEnd      = "Media Sync End!!"
	MessageError    = "Error Occurred!! Please retry."
)

// Event is emitted by a run so the caller can render progress.
type Event struct {
	Kind EventKind
	// Current and Total are set on progress events, Current starts at 1.
	Current  int
	Total    int
	Document string
	Message  string
	Err      error
}

// ProgressFunc receives run events. It is called synchronously from the run.
type ProgressFunc func(Event)

func (fn ProgressFunc) emit(ev Event) {
	if fn != nil {
		fn(ev)
	}
}
