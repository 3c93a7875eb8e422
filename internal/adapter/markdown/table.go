package markdown

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	east "github.com/yuin/goldmark/extension/ast"

	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/fractional"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

type tableColumn struct {
	id      string
	typ     string
	name    string
	options map[string]string
}

func tableColumns(props map[string]any) []tableColumn {
	raw, _ := props["columns"].([]any)
	cols := make([]tableColumn, 0, len(raw))
	for _, rc := range raw {
		m, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		col := tableColumn{
			id:   stringOf(m["id"]),
			typ:  stringOf(m["type"]),
			name: stringOf(m["name"]),
		}
		if data, ok := m["data"].(map[string]any); ok {
			if opts, ok := data["options"].([]any); ok {
				col.options = make(map[string]string, len(opts))
				for _, ro := range opts {
					if om, ok := ro.(map[string]any); ok {
						col.options[stringOf(om["id"])] = stringOf(om["value"])
					}
				}
			}
		}
		cols = append(cols, col)
	}
	return cols
}

// renderDatabase emits a database block as a pipe table. Row order
// follows the fractional row keys; cell values flatten per column
// type.
func (e *exporter) renderDatabase(b *snapshot.BlockSnapshot, indent string) chunk {
	cols := tableColumns(b.Props)
	if len(cols) == 0 {
		return chunk{text: indent + e.inline(textDelta(b.Props, "title"))}
	}

	rowOrder, _ := b.Props["rows"].(map[string]any)
	type row struct{ id, order string }
	rows := make([]row, 0, len(rowOrder))
	for id, v := range rowOrder {
		rows = append(rows, row{id: id, order: stringOf(v)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].order != rows[j].order {
			return rows[i].order < rows[j].order
		}
		return rows[i].id < rows[j].id
	})
	cells, _ := b.Props["cells"].(map[string]any)

	var lines []string
	header := make([]string, len(cols))
	sep := make([]string, len(cols))
	for i, c := range cols {
		header[i] = cellEscape(c.name)
		sep[i] = "---"
	}
	lines = append(lines, tableLine(header), tableLine(sep))

	for _, r := range rows {
		rowCells, _ := cells[r.id].(map[string]any)
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = cellEscape(e.flattenCell(c, rowCells[c.id]))
		}
		lines = append(lines, tableLine(out))
	}
	return chunk{text: indent + strings.Join(lines, "\n"+indent)}
}

func (e *exporter) flattenCell(col tableColumn, v any) string {
	if v == nil {
		return ""
	}
	switch col.typ {
	case schema.ColumnCheckbox:
		if truthy(v) {
			return "True"
		}
		return ""
	case schema.ColumnSelect:
		return col.optionLabel(stringOf(v))
	case schema.ColumnMultiSelect:
		ids := stringsOf(v)
		labels := make([]string, 0, len(ids))
		for _, id := range ids {
			labels = append(labels, col.optionLabel(id))
		}
		return strings.Join(labels, ",")
	case schema.ColumnNumber:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64)
		case int:
			return strconv.Itoa(n)
		}
	}
	if d, ok := delta.Coerce(v); ok {
		return e.inline(d)
	}
	return stringOf(v)
}

func (c tableColumn) optionLabel(id string) string {
	if label, ok := c.options[id]; ok && label != "" {
		return label
	}
	return id
}

func tableLine(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

func cellEscape(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// convertTable imports a pipe table as a database block. The first
// column becomes the title column; all others import as rich text.
func (im *importer) convertTable(t *east.Table) *snapshot.BlockSnapshot {
	var header *east.TableHeader
	var bodyRows []*east.TableRow
	for c := t.FirstChild(); c != nil; c = c.NextSibling() {
		switch r := c.(type) {
		case *east.TableHeader:
			header = r
		case *east.TableRow:
			bodyRows = append(bodyRows, r)
		}
	}

	var cols []map[string]any
	var colIDs []string
	if header != nil {
		for c := header.FirstChild(); c != nil; c = c.NextSibling() {
			cell, ok := c.(*east.TableCell)
			if !ok {
				continue
			}
			typ := schema.ColumnRichText
			if len(cols) == 0 {
				typ = schema.ColumnTitle
			}
			id := uuid.NewString()
			colIDs = append(colIDs, id)
			cols = append(cols, map[string]any{
				"id":   id,
				"type": typ,
				"name": rawInlineText(cell, im.src),
				"data": map[string]any{},
			})
		}
	}

	rowKeys, err := fractional.NKeysBetween("", "", len(bodyRows))
	if err != nil {
		rowKeys = nil
	}
	rows := make(map[string]any, len(bodyRows))
	cells := make(map[string]any, len(bodyRows))
	for i, r := range bodyRows {
		rowID := uuid.NewString()
		if i < len(rowKeys) {
			rows[rowID] = rowKeys[i]
		} else {
			rows[rowID] = fractional.First
		}
		rowCells := make(map[string]any)
		j := 0
		for c := r.FirstChild(); c != nil && j < len(colIDs); c = c.NextSibling() {
			cell, ok := c.(*east.TableCell)
			if !ok {
				continue
			}
			rowCells[colIDs[j]] = im.inlineDelta(cell)
			j++
		}
		cells[rowID] = rowCells
	}

	colsAny := make([]any, len(cols))
	for i, c := range cols {
		colsAny[i] = c
	}
	return im.snap(schema.Database, map[string]any{
		"title":   delta.Delta{},
		"columns": colsAny,
		"rows":    rows,
		"cells":   cells,
	})
}
