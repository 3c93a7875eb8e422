package store

import (
	"fmt"
	"sort"

	"github.com/suyash5053/AFFiNE/internal/crdt"
	"github.com/suyash5053/AFFiNE/internal/domain"
	"github.com/suyash5053/AFFiNE/internal/fractional"
	"github.com/suyash5053/AFFiNE/internal/schema"
)

// CreateBlock creates a block under parentID at the given sibling index
// and returns its id. A negative index appends. The root flavour is
// created with an empty parentID, once.
func (d *Doc) CreateBlock(parentID, flavour string, props map[string]any, index int) (string, error) {
	d.mu.Lock()
	id, evs, err := d.createLocked(parentID, flavour, props, index)
	d.mu.Unlock()
	d.fire(evs)
	return id, err
}

func (d *Doc) createLocked(parentID, flavour string, props map[string]any, index int) (string, []Event, error) {
	sch, err := d.schema.Get(flavour)
	if err != nil {
		return "", nil, err
	}
	if sch.Role == schema.RoleRoot {
		if parentID != "" {
			return "", nil, fmt.Errorf("%w: root flavour %s cannot have a parent", domain.ErrValidation, flavour)
		}
		if len(d.tree.Children("")) > 0 {
			return "", nil, fmt.Errorf("%w: document already has a root block", domain.ErrValidation)
		}
	} else {
		if parentID == "" {
			return "", nil, fmt.Errorf("%w: flavour %s requires a parent", domain.ErrValidation, flavour)
		}
		if !d.tree.Attached(parentID) {
			return "", nil, &domain.BlockNotFoundError{ID: parentID}
		}
		if err := d.checkPlacement(flavour, sch, parentID); err != nil {
			return "", nil, err
		}
	}

	merged := map[string]any{}
	if sch.Defaults != nil {
		merged = sch.Defaults()
	}
	for k, v := range props {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if sch.Validate != nil {
		if err := sch.Validate(merged); err != nil {
			return "", nil, fmt.Errorf("%w: %s props: %v", domain.ErrValidation, flavour, err)
		}
	}

	id := d.NewID()
	if d.tree.Created(id) {
		return "", nil, fmt.Errorf("%w: id %q", domain.ErrBlockExists, id)
	}

	d.history.begin()
	defer d.history.commit()
	order, err := d.placeAt(parentID, index, "")
	if err != nil {
		return "", nil, err
	}
	d.emit(crdt.Op{Block: id, Kind: crdt.KindCreate, Flavour: flavour, Version: sch.Version})
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.emit(crdt.Op{Block: id, Kind: crdt.KindSetProp, Key: k, Value: merged[k]})
	}
	d.emit(crdt.Op{Block: id, Kind: crdt.KindLink, Parent: parentID, Order: order})
	return id, []Event{{Kind: EventBlockAdded, BlockID: id}}, nil
}

// UpdateBlockProps merges a patch into the block's props. A nil value
// deletes the key. Updates resolve per field under concurrent edits.
func (d *Doc) UpdateBlockProps(id string, patch map[string]any) error {
	d.mu.Lock()
	evs, err := d.updateLocked(id, patch)
	d.mu.Unlock()
	d.fire(evs)
	return err
}

func (d *Doc) updateLocked(id string, patch map[string]any) ([]Event, error) {
	if !d.tree.Live(id) {
		return nil, &domain.BlockNotFoundError{ID: id}
	}
	if len(patch) == 0 {
		return nil, nil
	}
	flavour, _, _ := d.tree.Flavour(id)
	sch, err := d.schema.Get(flavour)
	if err != nil {
		return nil, err
	}
	if sch.Validate != nil {
		merged, _ := d.tree.Props(id)
		for k, v := range patch {
			if v == nil {
				delete(merged, k)
			} else {
				merged[k] = v
			}
		}
		if err := sch.Validate(merged); err != nil {
			return nil, fmt.Errorf("%w: %s props: %v", domain.ErrValidation, flavour, err)
		}
	}
	d.history.begin()
	defer d.history.commit()
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if patch[k] == nil {
			d.emit(crdt.Op{Block: id, Kind: crdt.KindDelProp, Key: k})
		} else {
			d.emit(crdt.Op{Block: id, Kind: crdt.KindSetProp, Key: k, Value: patch[k]})
		}
	}
	return []Event{{Kind: EventBlockUpdated, BlockID: id}}, nil
}

// DeleteBlock tombstones the block and its whole subtree. The ids stay
// reserved and are never reused.
func (d *Doc) DeleteBlock(id string) error {
	d.mu.Lock()
	evs, err := d.deleteLocked(id)
	d.mu.Unlock()
	d.fire(evs)
	return err
}

func (d *Doc) deleteLocked(id string) ([]Event, error) {
	if !d.tree.Live(id) {
		return nil, &domain.BlockNotFoundError{ID: id}
	}
	subtree := []string{id}
	for i := 0; i < len(subtree); i++ {
		for _, ref := range d.tree.Children(subtree[i]) {
			subtree = append(subtree, ref.ID)
		}
	}
	d.history.begin()
	defer d.history.commit()
	evs := make([]Event, 0, len(subtree))
	// children first so any observer sees leaves disappear before
	// their parents
	for i := len(subtree) - 1; i >= 0; i-- {
		d.emit(crdt.Op{Block: subtree[i], Kind: crdt.KindRemove})
		evs = append(evs, Event{Kind: EventBlockDeleted, BlockID: subtree[i]})
	}
	return evs, nil
}

// MoveBlock re-parents a block to newParentID at the given sibling
// index. Moving a block under itself or any of its descendants fails
// with domain.ErrCyclicMove.
func (d *Doc) MoveBlock(id, newParentID string, index int) error {
	d.mu.Lock()
	evs, err := d.moveLocked(id, newParentID, index)
	d.mu.Unlock()
	d.fire(evs)
	return err
}

func (d *Doc) moveLocked(id, newParentID string, index int) ([]Event, error) {
	if !d.tree.Live(id) {
		return nil, &domain.BlockNotFoundError{ID: id}
	}
	if newParentID == "" {
		return nil, fmt.Errorf("%w: cannot move a block into the root slot", domain.ErrValidation)
	}
	if !d.tree.Attached(newParentID) {
		return nil, &domain.BlockNotFoundError{ID: newParentID}
	}
	if id == newParentID {
		return nil, &domain.CyclicMoveError{ID: id, Parent: newParentID}
	}
	for cur := newParentID; cur != ""; {
		parent, _, ok := d.tree.Parent(cur)
		if !ok {
			break
		}
		if parent == id {
			return nil, &domain.CyclicMoveError{ID: id, Parent: newParentID}
		}
		cur = parent
	}
	flavour, _, _ := d.tree.Flavour(id)
	sch, err := d.schema.Get(flavour)
	if err != nil {
		return nil, err
	}
	if err := d.checkPlacement(flavour, sch, newParentID); err != nil {
		return nil, err
	}
	d.history.begin()
	defer d.history.commit()
	order, err := d.placeAt(newParentID, index, id)
	if err != nil {
		return nil, err
	}
	d.emit(crdt.Op{Block: id, Kind: crdt.KindLink, Parent: newParentID, Order: order})
	return []Event{{Kind: EventBlockMoved, BlockID: id}}, nil
}

// ApplyOps merges operations from another replica. Both this entry
// point and local commands feed the same engine, so delivery order and
// duplicate delivery cannot cause divergence. Remote operations do not
// enter the local undo history.
func (d *Doc) ApplyOps(ops []crdt.Op) {
	d.mu.Lock()
	var evs []Event
	for _, op := range ops {
		before := d.tree.Rev()
		d.tree.Apply(op)
		if d.tree.Rev() != before {
			ev := eventFor(op)
			ev.Remote = true
			evs = append(evs, ev)
		}
	}
	d.mu.Unlock()
	d.fire(evs)
}

// Transact groups every mutation performed inside fn into one undo
// step. Mutations stay applied even when fn returns an error; importers
// build trees top-down so any partial prefix is already valid.
func (d *Doc) Transact(fn func() error) error {
	d.mu.Lock()
	d.history.begin()
	d.mu.Unlock()
	err := fn()
	d.mu.Lock()
	d.history.commit()
	d.mu.Unlock()
	return err
}

// checkPlacement enforces the schema's parent/child flavour rules.
func (d *Doc) checkPlacement(flavour string, sch *schema.BlockSchema, parentID string) error {
	parentFlavour, _, ok := d.tree.Flavour(parentID)
	if !ok {
		return &domain.BlockNotFoundError{ID: parentID}
	}
	parentSch, err := d.schema.Get(parentFlavour)
	if err != nil {
		return err
	}
	if !parentSch.AllowsChild(flavour) || !sch.AllowsParent(parentFlavour, parentSch.Role) {
		return fmt.Errorf("%w: %s cannot be a child of %s", domain.ErrValidation, flavour, parentFlavour)
	}
	return nil
}

// placeAt returns the order key for inserting at index under parent.
// When concurrent inserts on other replicas left colliding keys at the
// insertion point, the colliding run is re-keyed first; that repair is
// just more link operations and merges like any other move.
func (d *Doc) placeAt(parent string, index int, exclude string) (string, error) {
	all := d.tree.Children(parent)
	sibs := make([]crdt.ChildRef, 0, len(all))
	for _, ref := range all {
		if ref.ID != exclude {
			sibs = append(sibs, ref)
		}
	}
	if index < 0 || index > len(sibs) {
		index = len(sibs)
	}
	var left, right string
	if index > 0 {
		left = sibs[index-1].Order
	}
	if index < len(sibs) {
		right = sibs[index].Order
	}
	if right == "" || left < right {
		return fractional.KeyBetween(left, right)
	}
	run := 0
	bound := ""
	for j := index; j < len(sibs); j++ {
		if sibs[j].Order > left {
			bound = sibs[j].Order
			break
		}
		run++
	}
	keys, err := fractional.NKeysBetween(left, bound, run+1)
	if err != nil {
		return "", err
	}
	for i := 0; i < run; i++ {
		d.emit(crdt.Op{Block: sibs[index+i].ID, Kind: crdt.KindLink, Parent: parent, Order: keys[i+1]})
	}
	return keys[0], nil
}

// emit mints an id for a local op, records its inverse for undo and
// applies it through the shared merge path.
func (d *Doc) emit(op crdt.Op) {
	op.ID = d.tree.NextID()
	if !d.muting {
		if inv, ok := d.inverseOf(op); ok {
			d.history.record(inv)
		}
	}
	d.tree.Apply(op)
	d.localOps = append(d.localOps, op)
}

// inverseOf captures the op that would revert op, given current state.
// Returned ops carry no id; one is minted when the inverse is replayed.
func (d *Doc) inverseOf(op crdt.Op) (crdt.Op, bool) {
	switch op.Kind {
	case crdt.KindSetProp, crdt.KindDelProp:
		if old, ok := d.tree.Prop(op.Block, op.Key); ok {
			return crdt.Op{Block: op.Block, Kind: crdt.KindSetProp, Key: op.Key, Value: old}, true
		}
		if op.Kind == crdt.KindDelProp {
			return crdt.Op{}, false
		}
		return crdt.Op{Block: op.Block, Kind: crdt.KindDelProp, Key: op.Key}, true
	case crdt.KindLink, crdt.KindRemove:
		if parent, order, ok := d.tree.Parent(op.Block); ok {
			return crdt.Op{Block: op.Block, Kind: crdt.KindLink, Parent: parent, Order: order}, true
		}
		if op.Kind == crdt.KindLink {
			return crdt.Op{Block: op.Block, Kind: crdt.KindRemove}, true
		}
	}
	return crdt.Op{}, false
}

func eventFor(op crdt.Op) Event {
	switch op.Kind {
	case crdt.KindCreate:
		return Event{Kind: EventBlockAdded, BlockID: op.Block}
	case crdt.KindSetProp, crdt.KindDelProp:
		return Event{Kind: EventBlockUpdated, BlockID: op.Block}
	case crdt.KindRemove:
		return Event{Kind: EventBlockDeleted, BlockID: op.Block}
	default:
		return Event{Kind: EventBlockMoved, BlockID: op.Block}
	}
}
