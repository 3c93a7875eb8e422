// Package schema declares the block flavours a document may contain.
// Every flavour is registered explicitly at startup into a Registry; the
// store consults it before creating blocks and the snapshot transformer
// uses it to locate cross-reference props. There is no implicit global
// registration.
package schema

import (
	"sort"
	"sync"

	"github.com/suyash5053/AFFiNE/internal/domain"
)

// Role classifies where a flavour sits in the tree.
type Role string

const (
	// RoleRoot is the single document root.
	RoleRoot Role = "root"
	// RoleHub groups content blocks under the root.
	RoleHub Role = "hub"
	// RoleContent is every ordinary editable block.
	RoleContent Role = "content"
)

// BlockSchema describes one flavour.
type BlockSchema struct {
	Flavour string
	Version int
	Role    Role

	// Defaults returns a fresh props map with the flavour's initial
	// values. Callers own the returned map.
	Defaults func() map[string]any

	// RefProps names props holding ids of other docs or blocks, as
	// dotted paths. The snapshot transformer rewrites them when an
	// imported subtree renames ids.
	RefProps []string

	// Parents restricts which flavours may own this block. Nil allows
	// any hub or content container.
	Parents []string

	// Children restricts which flavours this block may own. Nil allows
	// any content flavour; an empty non-nil slice marks a leaf.
	Children []string

	// Validate checks a fully merged props map. Nil skips validation.
	Validate func(props map[string]any) error
}

// AllowsParent reports whether a block of this flavour may live under a
// parent of the given flavour and role.
func (s *BlockSchema) AllowsParent(parentFlavour string, parentRole Role) bool {
	if s.Role == RoleRoot {
		return false
	}
	if s.Parents == nil {
		return parentRole == RoleRoot || parentRole == RoleHub || parentRole == RoleContent
	}
	for _, p := range s.Parents {
		if p == parentFlavour {
			return true
		}
	}
	return false
}

// AllowsChild reports whether this flavour may own a child of the given
// flavour.
func (s *BlockSchema) AllowsChild(childFlavour string) bool {
	if s.Children == nil {
		return true
	}
	for _, c := range s.Children {
		if c == childFlavour {
			return true
		}
	}
	return false
}

// Registry holds the registered flavours.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*BlockSchema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*BlockSchema)}
}

// Register adds a flavour schema, replacing any previous registration of
// the same flavour.
func (r *Registry) Register(s *BlockSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Flavour] = s
}

// Get returns the schema for a flavour or domain.ErrUnknownFlavour.
func (r *Registry) Get(flavour string) (*BlockSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[flavour]
	if !ok {
		return nil, &domain.UnknownFlavourError{Flavour: flavour}
	}
	return s, nil
}

// Has reports whether a flavour is registered.
func (r *Registry) Has(flavour string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[flavour]
	return ok
}

// Flavours lists the registered flavour names, sorted.
func (r *Registry) Flavours() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for f := range r.schemas {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
