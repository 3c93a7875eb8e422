package markdown

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

// importer walks a parsed markdown AST into snapshot trees. One
// importer serves a single conversion call.
type importer struct {
	md           goldmark.Markdown
	job          *snapshot.Job
	src          []byte
	depths       map[int]int
	lineStarts   []int
	baseURL      string
	footLabels   map[int]string
	footPayloads map[int]delta.FootnotePayload
}

// converted pairs a built snapshot with the escaped-indent depth of
// its source line, used to reassemble paragraph nesting.
type converted struct {
	snap  *snapshot.BlockSnapshot
	depth int
}

const indentUnit = "&#x20;"

// preprocess strips escaped-space indent prefixes, recording the
// nesting depth per line, and rewrites \(...\) math delimiters to the
// dollar form so one scanner handles both. Fenced code passes through
// untouched.
func preprocess(content string) ([]byte, map[int]int) {
	depths := make(map[int]int)
	var b strings.Builder
	b.Grow(len(content))

	inFence := false
	var fenceChar byte
	var fenceLen int

	lines := strings.SplitAfter(content, "\n")
	for i, ln := range lines {
		body := strings.TrimSuffix(ln, "\n")
		hadNL := len(body) != len(ln)

		trimmed := strings.TrimLeft(body, " \t")
		if inFence {
			if runLen(trimmed, fenceChar) >= fenceLen {
				inFence = false
			}
			b.WriteString(ln)
			continue
		}
		if n := runLen(trimmed, '`'); n >= 3 {
			inFence, fenceChar, fenceLen = true, '`', n
			b.WriteString(ln)
			continue
		}
		if n := runLen(trimmed, '~'); n >= 3 {
			inFence, fenceChar, fenceLen = true, '~', n
			b.WriteString(ln)
			continue
		}

		lead := body[:len(body)-len(trimmed)]
		rest := trimmed
		units := 0
		for strings.HasPrefix(rest, indentUnit) {
			units++
			rest = rest[len(indentUnit):]
		}
		if units > 0 {
			depths[i] = units / 4
		}
		b.WriteString(lead + rewriteMathDelims(rest))
		if hadNL {
			b.WriteString("\n")
		}
	}
	return []byte(b.String()), depths
}

func runLen(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

// rewriteMathDelims turns \(...\) spans outside inline code into
// $...$ spans, applying the same digit-adjacency guard the dollar
// scanner uses so the two forms stay equivalent.
func rewriteMathDelims(line string) string {
	if !strings.Contains(line, `\(`) {
		return line
	}
	var b strings.Builder
	i := 0
	for i < len(line) {
		c := line[i]
		if c == '`' {
			j := i + runLen(line[i:], '`')
			delim := line[i:j]
			if end := strings.Index(line[j:], delim); end >= 0 {
				stop := j + end + len(delim)
				b.WriteString(line[i:stop])
				i = stop
			} else {
				b.WriteString(line[i:])
				i = len(line)
			}
			continue
		}
		if c == '\\' && i+1 < len(line) && line[i+1] == '(' {
			if close := strings.Index(line[i+2:], `\)`); close >= 0 {
				inner := line[i+2 : i+2+close]
				after := i + 2 + close + 2
				if mathSpanOK(inner) && (after >= len(line) || !isDigitByte(line[after])) {
					b.WriteString("$" + inner + "$")
					i = after
					continue
				}
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func mathSpanOK(inner string) bool {
	return inner != "" &&
		inner[0] != ' ' && !isDigitByte(inner[0]) &&
		inner[len(inner)-1] != ' '
}

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }

func newLineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func (im *importer) depthAt(n ast.Node) int {
	bl, ok := n.(interface{ Lines() *text.Segments })
	if !ok {
		return 0
	}
	segs := bl.Lines()
	if segs.Len() == 0 {
		return 0
	}
	off := segs.At(0).Start
	line := sort.Search(len(im.lineStarts), func(i int) bool { return im.lineStarts[i] > off }) - 1
	return im.depths[line]
}

// collectFootnotes indexes every footnote definition by its parsed
// index, decoding the JSON payload bodies. A definition that is not a
// payload stays unindexed and its citations fall back to literal text.
func (im *importer) collectFootnotes(doc ast.Node) {
	im.footLabels = make(map[int]string)
	im.footPayloads = make(map[int]delta.FootnotePayload)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		f, ok := n.(*east.Footnote)
		if !ok {
			return ast.WalkContinue, nil
		}
		im.footLabels[f.Index] = string(f.Ref)
		var raw strings.Builder
		for c := f.FirstChild(); c != nil; c = c.NextSibling() {
			raw.WriteString(blockRaw(c, im.src))
		}
		if p, ok := decodePayload(strings.TrimSpace(raw.String())); ok {
			im.footPayloads[f.Index] = p
		}
		return ast.WalkSkipChildren, nil
	})
}

// convertSiblings converts a run of sibling nodes, reattaching
// escaped-indent paragraphs under the paragraph chain above them.
func (im *importer) convertSiblings(first ast.Node) []*snapshot.BlockSnapshot {
	var out []*snapshot.BlockSnapshot
	var stack []*snapshot.BlockSnapshot
	for n := first; n != nil; n = n.NextSibling() {
		for _, c := range im.convertNode(n) {
			if c.snap == nil {
				continue
			}
			if c.snap.Flavour != schema.Paragraph {
				out = append(out, c.snap)
				stack = nil
				continue
			}
			d := c.depth
			if d > len(stack) {
				d = len(stack)
			}
			if d == 0 {
				out = append(out, c.snap)
				stack = stack[:0]
			} else {
				parent := stack[d-1]
				parent.Children = append(parent.Children, c.snap)
				stack = stack[:d]
			}
			stack = append(stack, c.snap)
		}
	}
	return out
}

func (im *importer) convertNode(n ast.Node) []converted {
	switch t := n.(type) {
	case *ast.Heading:
		props := map[string]any{
			"type": "h" + strconv.Itoa(t.Level),
			"text": im.inlineDelta(t),
		}
		return []converted{{snap: im.snap(schema.Paragraph, props)}}
	case *ast.Paragraph:
		return im.convertParagraph(t)
	case *ast.TextBlock:
		return im.convertParagraph(t)
	case *ast.Blockquote:
		return im.convertBlockquote(t)
	case *ast.FencedCodeBlock:
		props := map[string]any{
			"language": string(t.Language(im.src)),
			"caption":  "",
			"text":     delta.New(strings.TrimSuffix(blockRaw(t, im.src), "\n")),
		}
		return []converted{{snap: im.snap(schema.Code, props)}}
	case *ast.CodeBlock:
		props := map[string]any{
			"language": "",
			"caption":  "",
			"text":     delta.New(strings.TrimSuffix(blockRaw(t, im.src), "\n")),
		}
		return []converted{{snap: im.snap(schema.Code, props)}}
	case *ast.ThematicBreak:
		return []converted{{snap: im.snap(schema.Divider, map[string]any{})}}
	case *ast.List:
		return im.convertList(t)
	case *ast.HTMLBlock:
		raw := blockRaw(t, im.src)
		if t.HasClosure() {
			raw += string(t.ClosureLine.Value(im.src))
		}
		props := map[string]any{
			"type": schema.ParagraphText,
			"text": delta.New(strings.TrimRight(raw, "\n")),
		}
		return []converted{{snap: im.snap(schema.Paragraph, props)}}
	case *east.Table:
		return []converted{{snap: im.convertTable(t)}}
	case *east.FootnoteList:
		return nil
	default:
		if n.HasChildren() {
			var out []converted
			for _, s := range im.convertSiblings(n.FirstChild()) {
				out = append(out, converted{snap: s})
			}
			return out
		}
		return nil
	}
}

func (im *importer) convertParagraph(n ast.Node) []converted {
	raw := strings.TrimSpace(blockRaw(n, im.src))
	if strings.HasPrefix(raw, "$$") && strings.HasSuffix(raw, "$$") && len(raw) > 4 {
		inner := strings.TrimSpace(raw[2 : len(raw)-2])
		return []converted{{snap: im.snap(schema.Latex, map[string]any{"latex": inner})}}
	}
	if sn := im.soloEmbed(n); sn != nil {
		return []converted{{snap: sn}}
	}
	props := map[string]any{
		"type": schema.ParagraphText,
		"text": im.inlineDelta(n),
	}
	return []converted{{snap: im.snap(schema.Paragraph, props), depth: im.depthAt(n)}}
}

// soloEmbed promotes a paragraph whose sole inline is an image or
// link into the matching block flavour. Anything else stays inline.
func (im *importer) soloEmbed(n ast.Node) *snapshot.BlockSnapshot {
	if n.ChildCount() != 1 {
		return nil
	}
	switch t := n.FirstChild().(type) {
	case *ast.Image:
		blobID, ok := assetBlob(string(t.Destination))
		if !ok {
			return nil
		}
		return im.snap(schema.Image, map[string]any{
			"sourceId": blobID,
			"caption":  string(t.Title),
			"width":    0,
			"height":   0,
		})
	case *ast.Link:
		dest := string(t.Destination)
		label := rawInlineText(t, im.src)
		if blobID, ok := assetBlob(dest); ok {
			return im.snap(schema.Attachment, map[string]any{
				"sourceId": blobID,
				"name":     label,
				"type":     "",
				"size":     0,
			})
		}
		if pageID, params, ok := im.parseDocLink(dest); ok {
			props := map[string]any{"pageId": pageID, "caption": label}
			if pm := paramsProp(params); pm != nil {
				props["params"] = pm
			}
			return im.snap(schema.EmbedLinkedDoc, props)
		}
		return im.snap(schema.Bookmark, map[string]any{
			"url":         dest,
			"title":       label,
			"description": "",
		})
	case *ast.AutoLink:
		return im.snap(schema.Bookmark, map[string]any{
			"url":         string(t.URL(im.src)),
			"title":       "",
			"description": "",
		})
	}
	return nil
}

func (im *importer) convertBlockquote(q *ast.Blockquote) []converted {
	var out []converted
	for c := q.FirstChild(); c != nil; c = c.NextSibling() {
		if p, ok := c.(*ast.Paragraph); ok {
			props := map[string]any{
				"type": schema.ParagraphQuote,
				"text": im.inlineDelta(p),
			}
			out = append(out, converted{snap: im.snap(schema.Paragraph, props)})
			continue
		}
		out = append(out, im.convertNode(c)...)
	}
	return out
}

func (im *importer) convertList(l *ast.List) []converted {
	var out []converted
	idx := 0
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		out = append(out, converted{snap: im.convertListItem(l, item, idx)})
		idx++
	}
	return out
}

func (im *importer) convertListItem(l *ast.List, item *ast.ListItem, idx int) *snapshot.BlockSnapshot {
	props := map[string]any{
		"type":      schema.ListBulleted,
		"text":      delta.Delta{},
		"checked":   false,
		"collapsed": false,
	}
	if l.IsOrdered() {
		props["type"] = schema.ListNumbered
		if l.Start != 1 {
			// Non-default start values survive verbatim instead of
			// being renumbered from one.
			props["order"] = l.Start + idx
		}
	}

	var children []*snapshot.BlockSnapshot
	first := item.FirstChild()
	if isContentBlock(first) {
		if tc, ok := first.FirstChild().(*east.TaskCheckBox); ok {
			props["type"] = schema.ListTodo
			props["checked"] = tc.IsChecked
		}
		d := im.inlineDelta(first)
		if props["type"] == schema.ListTodo && len(d) > 0 && len(d[0].Attributes) == 0 {
			d[0].Insert = strings.TrimPrefix(d[0].Insert, " ")
			if d[0].Insert == "" {
				d = d[1:]
			}
		}
		props["text"] = d
		children = im.convertSiblings(first.NextSibling())
	} else {
		children = im.convertSiblings(first)
	}
	return im.snap(schema.List, props, children...)
}

func isContentBlock(n ast.Node) bool {
	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return true
	}
	return false
}

func (im *importer) inlineDelta(n ast.Node) delta.Delta {
	var d delta.Delta
	im.collectInline(n, nil, &d)
	return scanLatex(d.Normalize()).Normalize()
}

func (im *importer) collectInline(parent ast.Node, attrs delta.Attributes, d *delta.Delta) {
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			appendRun(d, string(n.Segment.Value(im.src)), attrs)
			if n.SoftLineBreak() || n.HardLineBreak() {
				appendRun(d, "\n", attrs)
			}
		case *ast.String:
			appendRun(d, string(n.Value), attrs)
		case *ast.CodeSpan:
			appendRun(d, rawInlineText(n, im.src), with(attrs, delta.AttrCode, true))
		case *ast.Emphasis:
			key := delta.AttrItalic
			if n.Level >= 2 {
				key = delta.AttrBold
			}
			im.collectInline(n, with(attrs, key, true), d)
		case *east.Strikethrough:
			im.collectInline(n, with(attrs, delta.AttrStrike, true), d)
		case *ast.Link:
			dest := string(n.Destination)
			if pageID, params, ok := im.parseDocLink(dest); ok {
				ref := delta.Reference{Type: "LinkedPage", PageID: pageID, Params: params}
				appendRun(d, delta.Placeholder, with(attrs, delta.AttrReference, ref))
				continue
			}
			im.collectInline(n, with(attrs, delta.AttrLink, dest), d)
		case *ast.AutoLink:
			u := string(n.URL(im.src))
			appendRun(d, string(n.Label(im.src)), with(attrs, delta.AttrLink, u))
		case *ast.Image:
			label := rawInlineText(n, im.src)
			if label == "" {
				label = string(n.Destination)
			}
			appendRun(d, label, with(attrs, delta.AttrLink, string(n.Destination)))
		case *east.FootnoteLink:
			label := im.footLabels[n.Index]
			if p, ok := im.footPayloads[n.Index]; ok {
				ref := delta.FootnoteRef{Label: label, Reference: p}
				appendRun(d, delta.Placeholder, with(attrs, delta.AttrFootnote, ref))
			} else {
				appendRun(d, "[^"+label+"]", attrs)
			}
		case *ast.RawHTML:
			appendRun(d, segmentsText(n.Segments, im.src), attrs)
		case *east.TaskCheckBox:
			// consumed by the list importer
		default:
			if c.HasChildren() {
				im.collectInline(c, attrs, d)
			}
		}
	}
}

func (im *importer) parseDocLink(dest string) (string, *delta.ReferenceParams, bool) {
	if im.baseURL == "" || !strings.HasPrefix(dest, im.baseURL+"/") {
		return "", nil, false
	}
	u, err := url.Parse(strings.TrimPrefix(dest, im.baseURL+"/"))
	if err != nil || u.Path == "" {
		return "", nil, false
	}
	q := u.Query()
	params := &delta.ReferenceParams{Mode: q.Get("mode")}
	if v := q.Get("blockIds"); v != "" {
		params.BlockIDs = strings.Split(v, ",")
	}
	if v := q.Get("elementIds"); v != "" {
		params.ElementIDs = strings.Split(v, ",")
	}
	if params.Mode == "" && params.BlockIDs == nil && params.ElementIDs == nil {
		params = nil
	}
	return u.Path, params, true
}

func (im *importer) snap(flavour string, props map[string]any, children ...*snapshot.BlockSnapshot) *snapshot.BlockSnapshot {
	version := 0
	if im.job.Schema != nil {
		if sch, err := im.job.Schema.Get(flavour); err == nil {
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

func assetBlob(dest string) (string, bool) {
	rest, ok := strings.CutPrefix(dest, "assets/")
	if !ok {
		return "", false
	}
	blobID, ok := strings.CutSuffix(rest, ".blob")
	if !ok || blobID == "" || strings.Contains(blobID, "/") {
		return "", false
	}
	return blobID, true
}

func paramsProp(params *delta.ReferenceParams) map[string]any {
	if params == nil {
		return nil
	}
	pm := map[string]any{}
	if params.Mode != "" {
		pm["mode"] = params.Mode
	}
	if len(params.BlockIDs) > 0 {
		pm["blockIds"] = params.BlockIDs
	}
	if len(params.ElementIDs) > 0 {
		pm["elementIds"] = params.ElementIDs
	}
	if len(pm) == 0 {
		return nil
	}
	return pm
}

func appendRun(d *delta.Delta, text string, attrs delta.Attributes) {
	if text == "" {
		return
	}
	var a delta.Attributes
	if len(attrs) > 0 {
		a = make(delta.Attributes, len(attrs))
		for k, v := range attrs {
			a[k] = v
		}
	}
	*d = append(*d, delta.Op{Insert: text, Attributes: a})
}

func with(attrs delta.Attributes, key string, value any) delta.Attributes {
	out := make(delta.Attributes, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[key] = value
	return out
}

func blockRaw(n ast.Node, src []byte) string {
	bl, ok := n.(interface{ Lines() *text.Segments })
	if !ok {
		return ""
	}
	var b strings.Builder
	segs := bl.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func rawInlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
		case *ast.String:
			b.Write(t.Value)
		default:
			if c.HasChildren() {
				b.WriteString(rawInlineText(c, src))
			}
		}
	}
	return b.String()
}

func segmentsText(segs *text.Segments, src []byte) string {
	if segs == nil {
		return ""
	}
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}
