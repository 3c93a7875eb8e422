// Package plaintext implements the plain text adapter. Export
// flattens a snapshot tree to text lines; import turns each non-empty
// line into a paragraph.
package plaintext

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suyash5053/AFFiNE/internal/adapter"
	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/domain"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

type Adapter struct{}

var _ adapter.Adapter = (*Adapter)(nil)

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "plaintext" }

func (a *Adapter) Extensions() []string { return []string{".txt", ".text"} }

func (a *Adapter) FromDocSnapshot(ctx context.Context, snap *snapshot.DocSnapshot, job *snapshot.Job) (string, error) {
	if snap == nil || snap.Blocks == nil {
		return "", fmt.Errorf("%w: nil doc snapshot", domain.ErrValidation)
	}
	var lines []string
	if snap.Meta.Title != "" {
		lines = append(lines, snap.Meta.Title)
	}
	lines = append(lines, blockLines(snap.Blocks)...)
	return joinLines(lines), nil
}

func (a *Adapter) FromBlockSnapshot(ctx context.Context, snap *snapshot.BlockSnapshot, job *snapshot.Job) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("%w: nil block snapshot", domain.ErrValidation)
	}
	return joinLines(blockLines(snap)), nil
}

func (a *Adapter) FromSliceSnapshot(ctx context.Context, snap *snapshot.SliceSnapshot, job *snapshot.Job) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("%w: nil slice snapshot", domain.ErrValidation)
	}
	var lines []string
	for _, b := range snap.Content {
		lines = append(lines, blockLines(b)...)
	}
	return joinLines(lines), nil
}

func (a *Adapter) ToDocSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.DocSnapshot, error) {
	blocks := parseLines(content, job)
	note := newSnap(job, schema.Note, defaults(job, schema.Note), blocks...)
	pageProps := defaults(job, schema.Page)
	pageProps["title"] = delta.Delta{}
	page := newSnap(job, schema.Page, pageProps, note)
	return &snapshot.DocSnapshot{
		Type: snapshot.TypePage,
		Meta: snapshot.DocMeta{
			ID:         uuid.NewString(),
			CreateDate: time.Now().UnixMilli(),
		},
		Blocks: page,
	}, nil
}

func (a *Adapter) ToBlockSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.BlockSnapshot, error) {
	blocks := parseLines(content, job)
	return newSnap(job, schema.Note, defaults(job, schema.Note), blocks...), nil
}

func (a *Adapter) ToSliceSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.SliceSnapshot, error) {
	return &snapshot.SliceSnapshot{
		Type:        snapshot.TypeSlice,
		Content:     parseLines(content, job),
		WorkspaceID: job.Config(snapshot.ConfigWorkspaceID),
	}, nil
}

func parseLines(content string, job *snapshot.Job) []*snapshot.BlockSnapshot {
	var out []*snapshot.BlockSnapshot
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		props := map[string]any{"type": schema.ParagraphText, "text": delta.New(line)}
		out = append(out, newSnap(job, schema.Paragraph, props))
	}
	return out
}

// blockLines flattens one block and its children to text lines.
func blockLines(b *snapshot.BlockSnapshot) []string {
	if b == nil {
		return nil
	}
	var lines []string
	switch b.Flavour {
	case schema.Page, schema.Note:
		// wrappers, children only
	case schema.Surface:
		return nil
	case schema.Code, schema.Paragraph, schema.List:
		if s := textOf(b.Props, "text"); s != "" {
			lines = append(lines, strings.Split(s, "\n")...)
		}
	case schema.Latex:
		if s := stringProp(b.Props, "latex"); s != "" {
			lines = append(lines, s)
		}
	case schema.Divider:
		lines = append(lines, "---")
	case schema.Image:
		if s := stringProp(b.Props, "caption"); s != "" {
			lines = append(lines, s)
		}
	case schema.Attachment:
		if s := stringProp(b.Props, "name"); s != "" {
			lines = append(lines, s)
		}
	case schema.Bookmark:
		lines = append(lines, strings.TrimSpace(stringProp(b.Props, "title")+" "+stringProp(b.Props, "url")))
	case schema.Database:
		lines = append(lines, tsvLines(b.Props)...)
	case schema.EmbedLinkedDoc, schema.EmbedSyncedDoc:
		if s := stringProp(b.Props, "caption"); s != "" {
			lines = append(lines, s)
		} else if s := stringProp(b.Props, "pageId"); s != "" {
			lines = append(lines, s)
		}
	default:
		if s := textOf(b.Props, "text"); s != "" {
			lines = append(lines, strings.Split(s, "\n")...)
		}
	}
	for _, c := range b.Children {
		lines = append(lines, blockLines(c)...)
	}
	return lines
}

// tsvLines renders a database block as tab-separated rows.
func tsvLines(props map[string]any) []string {
	rawCols, _ := props["columns"].([]any)
	type col struct{ id, name string }
	var cols []col
	for _, rc := range rawCols {
		if m, ok := rc.(map[string]any); ok {
			cols = append(cols, col{id: stringProp(m, "id"), name: stringProp(m, "name")})
		}
	}
	if len(cols) == 0 {
		return nil
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	lines := []string{strings.Join(names, "\t")}

	rowOrder, _ := props["rows"].(map[string]any)
	type row struct{ id, order string }
	rows := make([]row, 0, len(rowOrder))
	for id, v := range rowOrder {
		o, _ := v.(string)
		rows = append(rows, row{id: id, order: o})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].order != rows[j].order {
			return rows[i].order < rows[j].order
		}
		return rows[i].id < rows[j].id
	})

	cells, _ := props["cells"].(map[string]any)
	for _, r := range rows {
		rowCells, _ := cells[r.id].(map[string]any)
		out := make([]string, len(cols))
		for i, c := range cols {
			v := rowCells[c.id]
			if d, ok := delta.Coerce(v); ok {
				out[i] = d.PlainText()
			} else if v != nil {
				out[i] = fmt.Sprint(v)
			}
			out[i] = strings.ReplaceAll(out[i], "\t", " ")
			out[i] = strings.ReplaceAll(out[i], "\n", " ")
		}
		lines = append(lines, strings.Join(out, "\t"))
	}
	return lines
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func newSnap(job *snapshot.Job, flavour string, props map[string]any, children ...*snapshot.BlockSnapshot) *snapshot.BlockSnapshot {
	version := 0
	if job != nil && job.Schema != nil {
		if sch, err := job.Schema.Get(flavour); err == nil {
			version = sch.Version
		}
	}
	return &snapshot.BlockSnapshot{
		Type:     snapshot.TypeBlock,
		ID:       uuid.NewString(),
		Flavour:  flavour,
		Version:  version,
		Props:    props,
		Children: children,
	}
}

func defaults(job *snapshot.Job, flavour string) map[string]any {
	if job != nil && job.Schema != nil {
		if sch, err := job.Schema.Get(flavour); err == nil && sch.Defaults != nil {
			return sch.Defaults()
		}
	}
	return map[string]any{}
}

func textOf(props map[string]any, key string) string {
	d, ok := delta.Coerce(props[key])
	if !ok {
		s, _ := props[key].(string)
		return s
	}
	return d.PlainText()
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
