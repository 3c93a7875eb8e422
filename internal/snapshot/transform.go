package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suyash5053/AFFiNE/internal/domain"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/store"
)

// BlockToSnapshot exports the subtree rooted at blockID as plain data.
func (j *Job) BlockToSnapshot(ctx context.Context, doc *store.Doc, blockID string) (*BlockSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := doc.GetBlock(blockID)
	if b == nil {
		return nil, &domain.BlockNotFoundError{ID: blockID}
	}
	snap := &BlockSnapshot{
		Type:     TypeBlock,
		ID:       b.ID,
		Flavour:  b.Flavour,
		Version:  b.Version,
		Props:    normalizeProps(b.Props),
		Children: []*BlockSnapshot{},
	}
	j.checkAsset(ctx, b)
	for _, childID := range b.ChildIDs {
		child, err := j.BlockToSnapshot(ctx, doc, childID)
		if err != nil {
			return nil, err
		}
		snap.Children = append(snap.Children, child)
	}
	return snap, nil
}

// SnapshotToBlock imports a block subtree under parentID at the given
// sibling index and returns the minted root id. Every imported block
// gets a fresh id; references between imported blocks are rewritten to
// the new ids in a second pass, so forward references resolve no matter
// the traversal order. Blocks attach parent-first, which keeps every
// partial state a valid tree even if the context is cancelled midway.
func (j *Job) SnapshotToBlock(ctx context.Context, snap *BlockSnapshot, doc *store.Doc, parentID string, index int) (string, error) {
	if err := snap.Validate(); err != nil {
		return "", err
	}
	run := &importRun{job: j, doc: doc, remap: j.docRewrites()}
	var rootID string
	err := doc.Transact(func() error {
		id, err := run.tree(ctx, snap, parentID, index)
		if err != nil {
			return err
		}
		rootID = id
		return run.rewrite()
	})
	if err != nil {
		return "", err
	}
	return rootID, nil
}

// DocToSnapshot exports a whole document.
func (j *Job) DocToSnapshot(ctx context.Context, doc *store.Doc) (*DocSnapshot, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root block", domain.ErrValidation)
	}
	blocks, err := j.BlockToSnapshot(ctx, doc, root.ID)
	if err != nil {
		return nil, err
	}
	return &DocSnapshot{Type: TypePage, Meta: metaFromStore(doc.Meta()), Blocks: blocks}, nil
}

// SnapshotToDoc imports a doc snapshot into an empty document. The
// snapshot's own doc id is added to the remap table so self references
// follow the target doc.
func (j *Job) SnapshotToDoc(ctx context.Context, snap *DocSnapshot, doc *store.Doc) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if doc.Root() != nil {
		return fmt.Errorf("%w: target document already has a root block", domain.ErrValidation)
	}
	doc.SetMeta(metaToStore(snap.Meta))
	run := &importRun{job: j, doc: doc, remap: j.docRewrites()}
	run.remap[snap.Meta.ID] = doc.Meta().ID
	return doc.Transact(func() error {
		if _, err := run.tree(ctx, snap.Blocks, "", -1); err != nil {
			return err
		}
		return run.rewrite()
	})
}

// SliceToSnapshot exports the given subtrees as a paste fragment.
func (j *Job) SliceToSnapshot(ctx context.Context, doc *store.Doc, blockIDs []string) (*SliceSnapshot, error) {
	content := make([]*BlockSnapshot, 0, len(blockIDs))
	for _, id := range blockIDs {
		s, err := j.BlockToSnapshot(ctx, doc, id)
		if err != nil {
			return nil, err
		}
		content = append(content, s)
	}
	return &SliceSnapshot{
		Type:        TypeSlice,
		Content:     content,
		WorkspaceID: j.Config(ConfigWorkspaceID),
		PageID:      doc.Meta().ID,
	}, nil
}

// SnapshotToSlice imports a paste fragment under parentID starting at
// the given sibling index and returns the minted root ids.
func (j *Job) SnapshotToSlice(ctx context.Context, snap *SliceSnapshot, doc *store.Doc, parentID string, index int) ([]string, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	run := &importRun{job: j, doc: doc, remap: j.docRewrites()}
	var ids []string
	err := doc.Transact(func() error {
		for i, c := range snap.Content {
			idx := index
			if idx >= 0 {
				idx = index + i
			}
			id, err := run.tree(ctx, c, parentID, idx)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return run.rewrite()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// checkAsset verifies referenced blobs resolve during export. A missing
// blob degrades with a warning, never fails the conversion.
func (j *Job) checkAsset(ctx context.Context, b *store.Block) {
	if j.Assets == nil {
		return
	}
	if b.Flavour != schema.Image && b.Flavour != schema.Attachment {
		return
	}
	id, _ := b.Props["sourceId"].(string)
	if id == "" {
		return
	}
	if _, err := j.Assets.Get(ctx, id); err != nil {
		j.log.Warn("asset unresolved during export", "blobId", id, "flavour", b.Flavour, "error", err)
	}
}

// importRun is the state of one two-pass import.
type importRun struct {
	job     *Job
	doc     *store.Doc
	remap   map[string]string
	created []string
}

// tree is pass one: mint ids and attach blocks depth-first.
func (r *importRun) tree(ctx context.Context, snap *BlockSnapshot, parentID string, index int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !r.job.Schema.Has(snap.Flavour) {
		return "", &domain.UnknownFlavourError{Flavour: snap.Flavour}
	}
	id, err := r.doc.CreateBlock(parentID, snap.Flavour, cloneProps(snap.Props), index)
	if err != nil {
		return "", err
	}
	r.remap[snap.ID] = id
	r.created = append(r.created, id)
	for _, child := range snap.Children {
		if _, err := r.tree(ctx, child, id, -1); err != nil {
			return "", err
		}
	}
	return id, nil
}

// rewrite is pass two: re-point reference props and inline references
// at the minted ids.
func (r *importRun) rewrite() error {
	if len(r.remap) == 0 {
		return nil
	}
	for _, id := range r.created {
		b := r.doc.GetBlock(id)
		if b == nil {
			continue
		}
		sch, err := r.job.Schema.Get(b.Flavour)
		if err != nil {
			continue
		}
		patch := map[string]any{}
		for _, path := range sch.RefProps {
			if rewritePath(b.Props, path, r.remap) {
				patch[pathRoot(path)] = b.Props[pathRoot(path)]
			}
		}
		for k, v := range b.Props {
			if _, already := patch[k]; already {
				continue
			}
			if nv, changed := rewriteValueRefs(v, r.remap); changed {
				patch[k] = nv
			}
		}
		if len(patch) == 0 {
			continue
		}
		if err := r.doc.UpdateBlockProps(id, patch); err != nil {
			return err
		}
	}
	return nil
}

// rewritePath follows a dotted path into props and remaps the id value
// or id list it ends at. Mutates in place, reports whether anything
// changed.
func rewritePath(props map[string]any, path string, remap map[string]string) bool {
	segs := strings.Split(path, ".")
	cur := props
	for i := 0; i < len(segs)-1; i++ {
		next, ok := cur[segs[i]].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	leaf := segs[len(segs)-1]
	switch v := cur[leaf].(type) {
	case string:
		if to, ok := remap[v]; ok {
			cur[leaf] = to
			return true
		}
	case []string:
		changed := false
		for i, s := range v {
			if to, ok := remap[s]; ok {
				v[i] = to
				changed = true
			}
		}
		return changed
	case []any:
		changed := false
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				continue
			}
			if to, ok := remap[s]; ok {
				v[i] = to
				changed = true
			}
		}
		return changed
	}
	return false
}

func pathRoot(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// rewriteValueRefs walks an arbitrary prop value looking for delta runs
// whose reference/footnote attributes point at remapped ids.
func rewriteValueRefs(v any, remap map[string]string) (any, bool) {
	switch t := v.(type) {
	case []any:
		changed := false
		for _, e := range t {
			run, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if _, isRun := run["insert"]; !isRun {
				if _, c := rewriteValueRefs(e, remap); c {
					changed = true
				}
				continue
			}
			attrs, ok := run["attributes"].(map[string]any)
			if !ok {
				continue
			}
			if ref, ok := attrs["reference"].(map[string]any); ok {
				if pageID, ok := ref["pageId"].(string); ok {
					if to, ok := remap[pageID]; ok {
						ref["pageId"] = to
						changed = true
					}
				}
			}
			if fn, ok := attrs["footnote"].(map[string]any); ok {
				if ref, ok := fn["reference"].(map[string]any); ok {
					if docID, ok := ref["docId"].(string); ok {
						if to, ok := remap[docID]; ok {
							ref["docId"] = to
							changed = true
						}
					}
				}
			}
		}
		return t, changed
	case map[string]any:
		changed := false
		for _, e := range t {
			if _, c := rewriteValueRefs(e, remap); c {
				changed = true
			}
		}
		return t, changed
	}
	return v, false
}

// normalizeProps deep-copies props into generic JSON shapes so a
// snapshot never aliases live store state.
func normalizeProps(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		out := make(map[string]any, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		out = map[string]any{}
	}
	return out
}

func cloneProps(p map[string]any) map[string]any {
	return normalizeProps(p)
}
