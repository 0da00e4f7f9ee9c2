package ddd

// Aggregate is anything that buffers domain events until its unit of work
// commits. Implementations embed Ledger.
type Aggregate interface {
	PullEvents() []Event
}

// Ledger is the per-aggregate list of raised events. It belongs to the
// operation that loaded the aggregate and is not safe for concurrent use.
type Ledger struct {
	events []Event
}

// Raise appends e. Order of Raise calls is the order handlers observe.
func (l *Ledger) Raise(e Event) {
	l.events = append(l.events, e)
}

// PullEvents returns the pending events in raise order and empties the ledger.
func (l *Ledger) PullEvents() []Event {
	out := l.events
	l.events = nil
	return out
}

func (l *Ledger) Pending() int {
	return len(l.events)
}
