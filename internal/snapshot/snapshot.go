// Package snapshot defines the portable JSON tree format of a block
// document and the transformer that moves block trees between a live
// store and snapshots. Snapshots are plain data: no live references, no
// behaviour, safe to persist or ship across process boundaries.
package snapshot

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/suyash5053/AFFiNE/internal/store"
)

// Snapshot type discriminators.
const (
	TypeBlock = "block"
	TypePage  = "page"
	TypeSlice = "slice"
)

// BlockSnapshot is one block subtree.
type BlockSnapshot struct {
	Type     string           `json:"type"`
	ID       string           `json:"id"`
	Flavour  string           `json:"flavour"`
	Version  int              `json:"version,omitempty"`
	Props    map[string]any   `json:"props"`
	Children []*BlockSnapshot `json:"children"`
}

// Validate checks the snapshot's own shape; flavour resolution happens
// against the schema registry during import.
func (s *BlockSnapshot) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Type, validation.Required, validation.In(TypeBlock)),
		validation.Field(&s.ID, validation.Required),
		validation.Field(&s.Flavour, validation.Required),
	)
	if err != nil {
		return err
	}
	for _, c := range s.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Walk visits the subtree depth-first, parents before children.
func (s *BlockSnapshot) Walk(fn func(*BlockSnapshot) error) error {
	if err := fn(s); err != nil {
		return err
	}
	for _, c := range s.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// DocMeta mirrors store.Meta in the serialized form.
type DocMeta struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	CreateDate int64    `json:"createDate"`
	Tags       []string `json:"tags"`
}

// DocSnapshot is a whole document: meta plus the root block tree.
type DocSnapshot struct {
	Type   string         `json:"type"`
	Meta   DocMeta        `json:"meta"`
	Blocks *BlockSnapshot `json:"blocks"`
}

// Validate checks the document snapshot shape.
func (s *DocSnapshot) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Type, validation.Required, validation.In(TypePage)),
		validation.Field(&s.Blocks, validation.Required),
	)
	if err != nil {
		return err
	}
	if err := validation.Validate(s.Meta.ID, validation.Required); err != nil {
		return fmt.Errorf("meta.id: %w", err)
	}
	return s.Blocks.Validate()
}

// SliceSnapshot is a copy/paste fragment: content subtrees plus the
// workspace and page they came from.
type SliceSnapshot struct {
	Type        string           `json:"type"`
	Content     []*BlockSnapshot `json:"content"`
	WorkspaceID string           `json:"workspaceId"`
	PageID      string           `json:"pageId"`
}

// Validate checks the slice snapshot shape.
func (s *SliceSnapshot) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Type, validation.Required, validation.In(TypeSlice)),
	)
	if err != nil {
		return err
	}
	for _, c := range s.Content {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes a doc snapshot with stable indentation.
func (s *DocSnapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseDoc decodes and validates a doc snapshot.
func ParseDoc(data []byte) (*DocSnapshot, error) {
	var s DocSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding doc snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseBlock decodes and validates a block snapshot.
func ParseBlock(data []byte) (*BlockSnapshot, error) {
	var s BlockSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding block snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseSlice decodes and validates a slice snapshot.
func ParseSlice(data []byte) (*SliceSnapshot, error) {
	var s SliceSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding slice snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func metaFromStore(m store.Meta) DocMeta {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return DocMeta{ID: m.ID, Title: m.Title, CreateDate: m.CreateDate, Tags: tags}
}

func metaToStore(m DocMeta) store.Meta {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return store.Meta{ID: m.ID, Title: m.Title, CreateDate: m.CreateDate, Tags: tags}
}
