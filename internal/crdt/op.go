// Package crdt implements the replicated state under a block document: a
// map of last-writer-wins registers per block (props, placement) whose
// merge is commutative, associative and idempotent, so replicas applying
// the same operations in any delivery order converge. Sibling order is
// never decided by timestamps; it is derived from fractional order keys
// carried on link operations.
package crdt

// OpID identifies one operation with a Lamport counter and the replica
// that issued it. Ordering is by counter, then replica id, which breaks
// ties between concurrent writes deterministically.
type OpID struct {
	Counter uint64 `json:"counter"`
	Replica string `json:"replica"`
}

// Less reports whether a sorts before b.
func (a OpID) Less(b OpID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Replica < b.Replica
}

// IsZero reports whether the id is unset.
func (a OpID) IsZero() bool {
	return a.Counter == 0 && a.Replica == ""
}

// Kind enumerates the operation types.
type Kind string

const (
	// KindCreate registers a block id with its flavour. Ids are never
	// reused, so at most one create per id exists document-wide.
	KindCreate Kind = "create"
	// KindSetProp writes one prop register.
	KindSetProp Kind = "set"
	// KindDelProp tombstones one prop register.
	KindDelProp Kind = "del"
	// KindLink places a block under a parent at a fractional order key.
	// An empty parent places the document root.
	KindLink Kind = "link"
	// KindRemove tombstones a block's placement, detaching its subtree.
	KindRemove Kind = "remove"
)

// Op is one replicated operation. Fields beyond ID, Block and Kind are
// populated per kind.
type Op struct {
	ID    OpID   `json:"id"`
	Block string `json:"block"`
	Kind  Kind   `json:"kind"`

	Flavour string `json:"flavour,omitempty"`
	Version int    `json:"version,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   any    `json:"value,omitempty"`
	Parent  string `json:"parent,omitempty"`
	Order   string `json:"order,omitempty"`
}
