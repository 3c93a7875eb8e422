package schema

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/fractional"
)

// Built-in flavour names.
const (
	Page           = "affine:page"
	Note           = "affine:note"
	Surface        = "affine:surface"
	Paragraph      = "affine:paragraph"
	List           = "affine:list"
	Code           = "affine:code"
	Divider        = "affine:divider"
	Image          = "affine:image"
	Attachment     = "affine:attachment"
	Bookmark       = "affine:bookmark"
	Database       = "affine:database"
	EmbedLinkedDoc = "affine:embed-linked-doc"
	EmbedSyncedDoc = "affine:embed-synced-doc"
	Latex          = "affine:latex"
)

// Paragraph type values.
const (
	ParagraphText  = "text"
	ParagraphQuote = "quote"
)

// List type values.
const (
	ListBulleted = "bulleted"
	ListNumbered = "numbered"
	ListTodo     = "todo"
	ListToggle   = "toggle"
)

// Database column type values.
const (
	ColumnTitle       = "title"
	ColumnRichText    = "rich-text"
	ColumnSelect      = "select"
	ColumnMultiSelect = "multi-select"
	ColumnCheckbox    = "checkbox"
	ColumnNumber      = "number"
	ColumnLink        = "link"
	ColumnDate        = "date"
)

var paragraphTypes = []any{
	ParagraphText, "h1", "h2", "h3", "h4", "h5", "h6", ParagraphQuote,
}

var listTypes = []any{ListBulleted, ListNumbered, ListTodo, ListToggle}

// Builtin returns a registry populated with every built-in flavour.
func Builtin() *Registry {
	r := NewRegistry()

	r.Register(&BlockSchema{
		Flavour: Page,
		Version: 2,
		Role:    RoleRoot,
		Defaults: func() map[string]any {
			return map[string]any{"title": delta.Delta{}}
		},
		Children: []string{Note, Surface},
	})

	r.Register(&BlockSchema{
		Flavour: Note,
		Version: 1,
		Role:    RoleHub,
		Defaults: func() map[string]any {
			return map[string]any{
				"xywh":       "[0,0,800,95]",
				"background": "",
				"index":      fractional.First,
				"hidden":     false,
			}
		},
		Parents: []string{Page},
	})

	r.Register(&BlockSchema{
		Flavour: Surface,
		Version: 5,
		Role:    RoleHub,
		Defaults: func() map[string]any {
			return map[string]any{"elements": map[string]any{}}
		},
		Parents:  []string{Page},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Paragraph,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"type": ParagraphText, "text": delta.Delta{}}
		},
		Validate: func(props map[string]any) error {
			return validation.Validate(props["type"], validation.Required, validation.In(paragraphTypes...))
		},
	})

	r.Register(&BlockSchema{
		Flavour: List,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{
				"type":      ListBulleted,
				"text":      delta.Delta{},
				"checked":   false,
				"collapsed": false,
			}
		},
		Validate: func(props map[string]any) error {
			return validation.Validate(props["type"], validation.Required, validation.In(listTypes...))
		},
	})

	r.Register(&BlockSchema{
		Flavour: Code,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"language": "", "caption": "", "text": delta.Delta{}}
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Divider,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{}
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Image,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"sourceId": "", "caption": "", "width": 0, "height": 0}
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Attachment,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"sourceId": "", "name": "", "type": "", "size": 0}
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Bookmark,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"url": "", "title": "", "description": ""}
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Database,
		Version: 3,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{
				"title":   delta.Delta{},
				"columns": []any{},
				"rows":    map[string]any{},
				"cells":   map[string]any{},
			}
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: EmbedLinkedDoc,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"pageId": "", "caption": ""}
		},
		RefProps: []string{"pageId", "params.blockIds", "params.elementIds"},
		Validate: func(props map[string]any) error {
			return validation.Validate(props["pageId"], validation.Required)
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: EmbedSyncedDoc,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"pageId": "", "caption": ""}
		},
		RefProps: []string{"pageId"},
		Validate: func(props map[string]any) error {
			return validation.Validate(props["pageId"], validation.Required)
		},
		Children: []string{},
	})

	r.Register(&BlockSchema{
		Flavour: Latex,
		Version: 1,
		Role:    RoleContent,
		Defaults: func() map[string]any {
			return map[string]any{"latex": ""}
		},
		Children: []string{},
	})

	return r
}
