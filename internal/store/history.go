package store

import (
	"sync"

	"github.com/suyash5053/AFFiNE/internal/crdt"
)

// History is the undo manager of one replica. Every local transaction
// records the operations that would revert it; remote changes never
// enter the history. Undoing emits those inverse operations through the
// normal merge path, so an undo propagates to other replicas like any
// other edit.
type History struct {
	mu    sync.Mutex
	limit int
	undo  []histTxn
	redo  []histTxn
	depth int
	cur   []crdt.Op
}

// histTxn holds inverse ops in the order their originals were emitted.
// The ops carry no ids; fresh ones are minted on replay.
type histTxn struct {
	ops []crdt.Op
}

func newHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// CanUndo reports whether an undo step is available.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether a redo step is available.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Clear drops both stacks.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo, h.redo, h.cur, h.depth = nil, nil, nil, 0
}

func (h *History) record(op crdt.Op) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo = nil
	if h.depth > 0 {
		h.cur = append(h.cur, op)
		return
	}
	h.pushUndoLocked(histTxn{ops: []crdt.Op{op}})
}

// begin/commit nest; only the outermost pair closes the transaction.
func (h *History) begin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.depth++
}

func (h *History) commit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.depth == 0 {
		return
	}
	h.depth--
	if h.depth == 0 && len(h.cur) > 0 {
		h.pushUndoLocked(histTxn{ops: h.cur})
		h.cur = nil
	}
}

func (h *History) pushUndoLocked(t histTxn) {
	h.undo = append(h.undo, t)
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
}

func (h *History) popUndo() (histTxn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return histTxn{}, false
	}
	t := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	return t, true
}

func (h *History) pushRedo(t histTxn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo = append(h.redo, t)
}

func (h *History) popRedo() (histTxn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return histTxn{}, false
	}
	t := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	return t, true
}

func (h *History) pushUndoNoClear(t histTxn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushUndoLocked(t)
}

// Undo reverts the most recent local transaction. Returns false when
// the undo stack is empty.
func (d *Doc) Undo() bool {
	d.mu.Lock()
	txn, ok := d.history.popUndo()
	if !ok {
		d.mu.Unlock()
		return false
	}
	redoOps, evs := d.replay(txn)
	d.history.pushRedo(histTxn{ops: redoOps})
	d.mu.Unlock()
	d.fire(evs)
	return true
}

// Redo re-applies the most recently undone transaction.
func (d *Doc) Redo() bool {
	d.mu.Lock()
	txn, ok := d.history.popRedo()
	if !ok {
		d.mu.Unlock()
		return false
	}
	undoOps, evs := d.replay(txn)
	d.history.pushUndoNoClear(histTxn{ops: undoOps})
	d.mu.Unlock()
	d.fire(evs)
	return true
}

// replay applies a history transaction in reverse emission order,
// collecting the inverses that would revert it again.
func (d *Doc) replay(txn histTxn) ([]crdt.Op, []Event) {
	var inverses []crdt.Op
	evs := make([]Event, 0, len(txn.ops))
	d.muting = true
	for i := len(txn.ops) - 1; i >= 0; i-- {
		op := txn.ops[i]
		if inv, ok := d.inverseOf(op); ok {
			inverses = append(inverses, inv)
		}
		d.emit(op)
		evs = append(evs, eventFor(op))
	}
	d.muting = false
	return inverses, evs
}
