package store

// EventKind names a block-level change.
type EventKind string

const (
	EventBlockAdded   EventKind = "block-added"
	EventBlockUpdated EventKind = "block-updated"
	EventBlockDeleted EventKind = "block-deleted"
	EventBlockMoved   EventKind = "block-moved"
)

// Event is one block-level change notification. Remote marks changes
// that arrived through ApplyOps rather than local commands.
type Event struct {
	Kind    EventKind
	BlockID string
	Remote  bool
}

// Subscribe registers fn for change events and returns a cancel
// function. Events are delivered synchronously after the mutation
// completes; handlers may call back into the doc.
func (d *Doc) Subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// fire delivers events outside the doc lock.
func (d *Doc) fire(evs []Event) {
	if len(evs) == 0 {
		return
	}
	d.mu.Lock()
	fns := make([]func(Event), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, ev := range evs {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
