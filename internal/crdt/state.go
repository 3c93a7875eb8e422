package crdt

import (
	"sort"
)

// propReg is one last-writer-wins prop register. Deleted registers stay
// around as tombstones so a slow replica cannot resurrect older values.
type propReg struct {
	id      OpID
	value   any
	deleted bool
}

// linkVal is the placement register value: parent and sibling order key,
// or a removal tombstone.
type linkVal struct {
	parent  string
	order   string
	removed bool
}

type blockState struct {
	created  bool
	createID OpID
	flavour  string
	version  int
	props    map[string]propReg
	link     propLink
}

type propLink struct {
	id  OpID
	val linkVal
}

// ChildRef is one entry of a derived children list.
type ChildRef struct {
	ID    string
	Order string
}

// State is one replica's view of a document. All mutation goes through
// Apply; local operations are minted with NextID and applied through the
// same path as remote ones.
type State struct {
	replica string
	counter uint64
	blocks  map[string]*blockState

	// pending buffers ops that reference a block whose create has not
	// arrived yet. Flushed when it does.
	pending map[string][]Op

	rev       uint64
	supRev    uint64
	supCached map[string]struct{}
}

// NewState returns an empty replica state.
func NewState(replica string) *State {
	return &State{
		replica: replica,
		blocks:  make(map[string]*blockState),
		pending: make(map[string][]Op),
	}
}

// Replica returns the replica id used for locally minted operations.
func (s *State) Replica() string { return s.replica }

// NextID mints the id for a local operation, advancing the Lamport
// counter past everything seen so far.
func (s *State) NextID() OpID {
	s.counter++
	return OpID{Counter: s.counter, Replica: s.replica}
}

// Rev increases whenever an applied operation changes state. Useful for
// invalidating derived caches.
func (s *State) Rev() uint64 { return s.rev }

// Apply merges one operation. Applying the same operation twice, or
// applying operations in a different order than another replica, yields
// the same state.
func (s *State) Apply(op Op) {
	s.witness(op.ID)
	if op.Kind == KindCreate {
		s.applyCreate(op)
		return
	}
	b, ok := s.blocks[op.Block]
	if !ok || !b.created {
		s.pending[op.Block] = append(s.pending[op.Block], op)
		return
	}
	s.applyToBlock(b, op)
}

// ApplyAll merges a batch in order.
func (s *State) ApplyAll(ops []Op) {
	for _, op := range ops {
		s.Apply(op)
	}
}

func (s *State) witness(id OpID) {
	if id.Counter > s.counter {
		s.counter = id.Counter
	}
}

func (s *State) applyCreate(op Op) {
	b, ok := s.blocks[op.Block]
	if !ok {
		b = &blockState{props: make(map[string]propReg)}
		s.blocks[op.Block] = b
	}
	if b.created {
		// Duplicate delivery, or two creates raced on one id. The
		// lower op id wins so every replica keeps the same one.
		if !op.ID.Less(b.createID) {
			return
		}
	}
	b.created = true
	b.createID = op.ID
	b.flavour = op.Flavour
	b.version = op.Version
	s.rev++
	if queued := s.pending[op.Block]; len(queued) > 0 {
		delete(s.pending, op.Block)
		for _, q := range queued {
			s.applyToBlock(b, q)
		}
	}
}

func (s *State) applyToBlock(b *blockState, op Op) {
	switch op.Kind {
	case KindSetProp:
		reg := b.props[op.Key]
		if reg.id.Less(op.ID) {
			b.props[op.Key] = propReg{id: op.ID, value: op.Value}
			s.rev++
		}
	case KindDelProp:
		reg := b.props[op.Key]
		if reg.id.Less(op.ID) {
			b.props[op.Key] = propReg{id: op.ID, deleted: true}
			s.rev++
		}
	case KindLink:
		if b.link.id.Less(op.ID) {
			b.link = propLink{id: op.ID, val: linkVal{parent: op.Parent, order: op.Order}}
			s.rev++
		}
	case KindRemove:
		if b.link.id.Less(op.ID) {
			b.link = propLink{id: op.ID, val: linkVal{removed: true}}
			s.rev++
		}
	}
}

// Created reports whether the id has been registered, tombstoned or not.
func (s *State) Created(id string) bool {
	b, ok := s.blocks[id]
	return ok && b.created
}

// Live reports whether the block is created and not tombstoned. A block
// that was never placed, or sits in a detached subtree, is still live.
func (s *State) Live(id string) bool {
	b, ok := s.blocks[id]
	if !ok || !b.created {
		return false
	}
	return b.link.id.IsZero() || !b.link.val.removed
}

// Attached reports whether the block currently occupies a place in the
// tree: created, placed, not removed and not suppressed by cycle
// resolution.
func (s *State) Attached(id string) bool {
	b, ok := s.blocks[id]
	if !ok || !b.created || b.link.id.IsZero() || b.link.val.removed {
		return false
	}
	_, sup := s.suppressed()[id]
	return !sup
}

// Flavour returns the block's flavour and registered version.
func (s *State) Flavour(id string) (string, int, bool) {
	b, ok := s.blocks[id]
	if !ok || !b.created {
		return "", 0, false
	}
	return b.flavour, b.version, true
}

// Parent returns the effective parent and order key of an attached
// block. The root block reports an empty parent.
func (s *State) Parent(id string) (parent, order string, ok bool) {
	if !s.Attached(id) {
		return "", "", false
	}
	b := s.blocks[id]
	return b.link.val.parent, b.link.val.order, true
}

// Props materializes the block's live prop values.
func (s *State) Props(id string) (map[string]any, bool) {
	b, ok := s.blocks[id]
	if !ok || !b.created {
		return nil, false
	}
	out := make(map[string]any, len(b.props))
	for k, reg := range b.props {
		if !reg.deleted {
			out[k] = reg.value
		}
	}
	return out, true
}

// Prop returns one live prop value.
func (s *State) Prop(id, key string) (any, bool) {
	b, ok := s.blocks[id]
	if !ok || !b.created {
		return nil, false
	}
	reg, ok := b.props[key]
	if !ok || reg.deleted {
		return nil, false
	}
	return reg.value, true
}

// Children derives the ordered children of a parent ("" for the root
// slot) from the placement registers: attached blocks whose parent
// matches, sorted by order key with the block id as tiebreaker.
func (s *State) Children(parent string) []ChildRef {
	sup := s.suppressed()
	var out []ChildRef
	for id, b := range s.blocks {
		if !b.created || b.link.id.IsZero() || b.link.val.removed {
			continue
		}
		if b.link.val.parent != parent {
			continue
		}
		if _, bad := sup[id]; bad {
			continue
		}
		out = append(out, ChildRef{ID: id, Order: b.link.val.order})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BlockIDs lists every created block id, sorted, including detached and
// removed blocks.
func (s *State) BlockIDs() []string {
	out := make([]string, 0, len(s.blocks))
	for id, b := range s.blocks {
		if b.created {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// suppressed returns the set of blocks whose placement edge is dropped
// to break parent cycles. Cycles only arise from concurrent moves; the
// edge written last (highest op id) inside each cycle loses, which every
// replica computes identically from converged registers.
func (s *State) suppressed() map[string]struct{} {
	if s.supCached != nil && s.supRev == s.rev {
		return s.supCached
	}
	sup := make(map[string]struct{})
	for {
		cycle := s.findCycle(sup)
		if cycle == nil {
			break
		}
		worst := cycle[0]
		for _, id := range cycle[1:] {
			if s.blocks[worst].link.id.Less(s.blocks[id].link.id) {
				worst = id
			}
		}
		sup[worst] = struct{}{}
	}
	s.supCached = sup
	s.supRev = s.rev
	return sup
}

// findCycle walks parent chains (each block has at most one outgoing
// placement edge) and returns the ids of one cycle, or nil.
func (s *State) findCycle(sup map[string]struct{}) []string {
	done := make(map[string]bool)
	ids := make([]string, 0, len(s.blocks))
	for id := range s.blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, start := range ids {
		if done[start] {
			continue
		}
		seen := make(map[string]int)
		chain := []string{}
		cur := start
		for {
			b, ok := s.blocks[cur]
			if !ok || !b.created || b.link.id.IsZero() || b.link.val.removed || done[cur] {
				break
			}
			if _, skip := sup[cur]; skip {
				break
			}
			if pos, rep := seen[cur]; rep {
				return chain[pos:]
			}
			seen[cur] = len(chain)
			chain = append(chain, cur)
			if b.link.val.parent == "" {
				break
			}
			cur = b.link.val.parent
		}
		for _, id := range chain {
			done[id] = true
		}
	}
	return nil
}

// EncodeAsOps exports the full register state as a canonical operation
// list. Applying it to a fresh state reproduces this replica exactly,
// tombstones included, which is how a new replica bootstraps.
func (s *State) EncodeAsOps() []Op {
	ids := make([]string, 0, len(s.blocks))
	for id, b := range s.blocks {
		if b.created {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var ops []Op
	for _, id := range ids {
		b := s.blocks[id]
		ops = append(ops, Op{ID: b.createID, Block: id, Kind: KindCreate, Flavour: b.flavour, Version: b.version})
		keys := make([]string, 0, len(b.props))
		for k := range b.props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			reg := b.props[k]
			if reg.deleted {
				ops = append(ops, Op{ID: reg.id, Block: id, Kind: KindDelProp, Key: k})
			} else {
				ops = append(ops, Op{ID: reg.id, Block: id, Kind: KindSetProp, Key: k, Value: reg.value})
			}
		}
		if !b.link.id.IsZero() {
			if b.link.val.removed {
				ops = append(ops, Op{ID: b.link.id, Block: id, Kind: KindRemove})
			} else {
				ops = append(ops, Op{ID: b.link.id, Block: id, Kind: KindLink, Parent: b.link.val.parent, Order: b.link.val.order})
			}
		}
	}
	// carry buffered ops so a fork taken mid-sync drops nothing
	pendingBlocks := make([]string, 0, len(s.pending))
	for id := range s.pending {
		pendingBlocks = append(pendingBlocks, id)
	}
	sort.Strings(pendingBlocks)
	for _, id := range pendingBlocks {
		queued := append([]Op(nil), s.pending[id]...)
		sort.Slice(queued, func(i, j int) bool { return queued[i].ID.Less(queued[j].ID) })
		ops = append(ops, queued...)
	}
	return ops
}
