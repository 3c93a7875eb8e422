// Package store exposes the block tree of a single document: validated
// create/update/move/delete operations, ordered children, undo/redo and
// change events. Local commands and remote deltas both funnel into the
// replicated engine behind the Tree interface, so a replica cannot
// diverge depending on which path a change took.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suyash5053/AFFiNE/internal/crdt"
	"github.com/suyash5053/AFFiNE/internal/schema"
)

// DefaultHistoryLimit caps the undo stack unless overridden.
const DefaultHistoryLimit = 100

// Tree is the replicated state engine. *crdt.State is the default
// implementation; the store only relies on this surface, keeping the
// merge algorithm swappable.
type Tree interface {
	Replica() string
	NextID() crdt.OpID
	Apply(op crdt.Op)
	Rev() uint64
	Created(id string) bool
	Live(id string) bool
	Attached(id string) bool
	Flavour(id string) (flavour string, version int, ok bool)
	Parent(id string) (parent, order string, ok bool)
	Props(id string) (map[string]any, bool)
	Prop(id, key string) (any, bool)
	Children(parent string) []crdt.ChildRef
	BlockIDs() []string
	EncodeAsOps() []crdt.Op
}

// Meta is the document metadata carried alongside the block tree.
type Meta struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	CreateDate int64    `json:"createDate"`
	Tags       []string `json:"tags"`
}

// Block is a read-only view of one block, materialized from the
// registers at call time.
type Block struct {
	ID       string
	Flavour  string
	Version  int
	Props    map[string]any
	ParentID string
	Order    string
	ChildIDs []string
}

// Doc is one replica of a block document.
type Doc struct {
	mu     sync.Mutex
	meta   Meta
	tree   Tree
	schema *schema.Registry

	// NewID mints block ids. Swapped out in tests for deterministic
	// ids; ids must never repeat within a document's lifetime.
	NewID func() string

	history  *History
	localOps []crdt.Op

	subs    map[int]func(Event)
	nextSub int
	muting  bool
}

// New creates an empty document replica. An empty replica id gets a
// random one.
func New(docID, replica string, reg *schema.Registry) *Doc {
	if replica == "" {
		replica = uuid.NewString()
	}
	return &Doc{
		meta: Meta{
			ID:         docID,
			CreateDate: time.Now().UnixMilli(),
			Tags:       []string{},
		},
		tree:    crdt.NewState(replica),
		schema:  reg,
		NewID:   uuid.NewString,
		history: newHistory(DefaultHistoryLimit),
		subs:    make(map[int]func(Event)),
	}
}

// Schema returns the flavour registry this document validates against.
func (d *Doc) Schema() *schema.Registry { return d.schema }

// Meta returns a copy of the document metadata.
func (d *Doc) Meta() Meta {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.meta
	m.Tags = append([]string(nil), d.meta.Tags...)
	return m
}

// SetMeta replaces the document metadata, keeping the doc id.
func (d *Doc) SetMeta(m Meta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m.ID = d.meta.ID
	if m.CreateDate == 0 {
		m.CreateDate = d.meta.CreateDate
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	d.meta = m
}

// GetBlock returns the block for id, or nil when the id is unknown or
// tombstoned.
func (d *Doc) GetBlock(id string) *Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blockLocked(id)
}

// Children returns the ordered child blocks of id.
func (d *Doc) Children(id string) []*Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	refs := d.tree.Children(id)
	out := make([]*Block, 0, len(refs))
	for _, ref := range refs {
		if b := d.blockLocked(ref.ID); b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Root returns the document's root block, or nil while the document is
// empty.
func (d *Doc) Root() *Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	roots := d.tree.Children("")
	if len(roots) == 0 {
		return nil
	}
	return d.blockLocked(roots[0].ID)
}

// BlockIDs lists every live block id, including detached subtrees.
func (d *Doc) BlockIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, id := range d.tree.BlockIDs() {
		if d.tree.Live(id) {
			out = append(out, id)
		}
	}
	return out
}

// SnapshotOps exports the replica's full state as operations. Applying
// them to a fresh replica reproduces the document, history excluded.
func (d *Doc) SnapshotOps() []crdt.Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tree.EncodeAsOps()
}

// TakeLocalOps drains operations minted by this replica since the last
// call, in emission order. This is the feed a sync transport broadcasts.
func (d *Doc) TakeLocalOps() []crdt.Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := d.localOps
	d.localOps = nil
	return ops
}

// History returns the undo manager.
func (d *Doc) History() *History { return d.history }

func (d *Doc) blockLocked(id string) *Block {
	if id == "" || !d.tree.Live(id) {
		return nil
	}
	flavour, version, ok := d.tree.Flavour(id)
	if !ok {
		return nil
	}
	props, _ := d.tree.Props(id)
	parent, order, _ := d.tree.Parent(id)
	refs := d.tree.Children(id)
	childIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		childIDs = append(childIDs, ref.ID)
	}
	return &Block{
		ID:       id,
		Flavour:  flavour,
		Version:  version,
		Props:    props,
		ParentID: parent,
		Order:    order,
		ChildIDs: childIDs,
	}
}
