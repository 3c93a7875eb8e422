package markdown

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/escape"

	"github.com/suyash5053/AFFiNE/internal/config"
	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

// chunk is one rendered block. Chunks are joined with a blank line,
// except between two list chunks, which sit on adjacent lines so the
// items parse back as one list.
type chunk struct {
	text string
	list bool
}

func joinChunks(chunks []chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			if c.list && chunks[i-1].list {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(c.text)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// exporter renders snapshot trees to markdown. One exporter serves a
// single conversion call; it carries the footnote definitions collected
// so far and the synced-doc expansion chain.
type exporter struct {
	job       *snapshot.Job
	baseURL   string
	maxDepth  int
	chain     []string
	defs      []footnoteDef
	nextLabel int
}

func newExporter(job *snapshot.Job) *exporter {
	return &exporter{
		job:      job,
		baseURL:  job.Config(snapshot.ConfigDocLinkBaseURL),
		maxDepth: job.ConfigInt(snapshot.ConfigSyncedDocDepth, config.DefaultSyncedDocDepth),
	}
}

// renderTopLevel renders each block and flushes the footnote
// definitions it cited straight after it, so a definition always
// trails the block that uses it.
func (e *exporter) renderTopLevel(ctx context.Context, blocks []*snapshot.BlockSnapshot) ([]chunk, error) {
	var out []chunk
	num := 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		e.advanceNumbering(b, &num)
		cs, err := e.renderBlock(ctx, b, "", 0, num)
		if err != nil {
			return nil, err
		}
		out = append(out, cs...)
		out = append(out, e.takeFootnotes()...)
	}
	return out, nil
}

func (e *exporter) renderBlocks(ctx context.Context, blocks []*snapshot.BlockSnapshot, indent string, prose int) ([]chunk, error) {
	var out []chunk
	num := 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		e.advanceNumbering(b, &num)
		cs, err := e.renderBlock(ctx, b, indent, prose, num)
		if err != nil {
			return nil, err
		}
		out = append(out, cs...)
	}
	return out, nil
}

// advanceNumbering tracks the running item number for numbered lists.
// An explicit order prop restarts the count; any non-numbered sibling
// resets it.
func (e *exporter) advanceNumbering(b *snapshot.BlockSnapshot, num *int) {
	if b.Flavour == schema.List && propString(b.Props, "type") == schema.ListNumbered {
		if n, ok := propInt(b.Props, "order"); ok {
			*num = n
		} else {
			*num++
		}
		return
	}
	*num = 0
}

func (e *exporter) renderBlock(ctx context.Context, b *snapshot.BlockSnapshot, indent string, prose int, num int) ([]chunk, error) {
	switch b.Flavour {
	case schema.Page, schema.Note:
		return e.renderBlocks(ctx, b.Children, indent, prose)
	case schema.Surface:
		return nil, nil
	case schema.Paragraph:
		return e.renderParagraph(ctx, b, indent, prose)
	case schema.List:
		return e.renderList(ctx, b, indent, num)
	case schema.Code:
		return []chunk{e.renderCode(b, indent)}, nil
	case schema.Divider:
		return []chunk{{text: indent + "---"}}, nil
	case schema.Image:
		return []chunk{e.renderImage(ctx, b, indent)}, nil
	case schema.Attachment:
		return []chunk{e.renderAttachment(b, indent)}, nil
	case schema.Bookmark:
		return []chunk{e.renderBookmark(b, indent)}, nil
	case schema.Latex:
		return []chunk{e.renderLatexBlock(b, indent)}, nil
	case schema.Database:
		return []chunk{e.renderDatabase(b, indent)}, nil
	case schema.EmbedLinkedDoc:
		return []chunk{e.renderDocLink(b, indent)}, nil
	case schema.EmbedSyncedDoc:
		return e.renderSyncedDoc(ctx, b, indent)
	default:
		return e.renderUnknown(ctx, b, indent, prose)
	}
}

func (e *exporter) renderParagraph(ctx context.Context, b *snapshot.BlockSnapshot, indent string, prose int) ([]chunk, error) {
	text := e.inline(textDelta(b.Props, "text"))
	typ := propString(b.Props, "type")

	var body string
	switch {
	case typ == schema.ParagraphQuote:
		body = "> " + strings.ReplaceAll(text, "\n", "\n> ")
	case len(typ) == 2 && typ[0] == 'h' && typ[1] >= '1' && typ[1] <= '6':
		body = strings.Repeat("#", int(typ[1]-'0')) + " " + text
	default:
		body = strings.Repeat("&#x20;", 4*prose) + text
	}
	out := []chunk{{text: indent + strings.ReplaceAll(body, "\n", "\n"+indent)}}

	children, err := e.renderBlocks(ctx, b.Children, indent, prose+1)
	if err != nil {
		return nil, err
	}
	return append(out, children...), nil
}

func (e *exporter) renderList(ctx context.Context, b *snapshot.BlockSnapshot, indent string, num int) ([]chunk, error) {
	typ := propString(b.Props, "type")
	var marker string
	switch typ {
	case schema.ListNumbered:
		marker = strconv.Itoa(num) + ". "
	case schema.ListTodo:
		if propBool(b.Props, "checked") {
			marker = "- [x] "
		} else {
			marker = "- [ ] "
		}
	default:
		marker = "* "
	}
	width := len(marker)
	if typ == schema.ListTodo {
		// Per CommonMark the checkbox is item content, so children
		// align under the "- " marker, not under "[x] ".
		width = 2
	}

	item := chunk{text: indent + marker + e.inline(textDelta(b.Props, "text")), list: true}
	childIndent := indent + strings.Repeat(" ", width)

	var trailing []chunk
	sawList := false
	num2 := 0
	for _, c := range b.Children {
		if c == nil {
			continue
		}
		e.advanceNumbering(c, &num2)
		cs, err := e.renderBlock(ctx, c, childIndent, 0, num2)
		if err != nil {
			return nil, err
		}
		if c.Flavour == schema.List {
			sawList = true
			trailing = append(trailing, cs...)
			continue
		}
		for _, cc := range cs {
			if sawList {
				trailing = append(trailing, cc)
			} else {
				item.text += "\n\n" + cc.text
			}
		}
	}
	return append([]chunk{item}, trailing...), nil
}

func (e *exporter) renderCode(b *snapshot.BlockSnapshot, indent string) chunk {
	content := textDelta(b.Props, "text").PlainText()
	n := longestBacktickRun(content) + 1
	if n < 3 {
		n = 3
	}
	fence := strings.Repeat("`", n)

	var sb strings.Builder
	sb.WriteString(indent + fence + propString(b.Props, "language") + "\n")
	sb.WriteString(indent + strings.ReplaceAll(content, "\n", "\n"+indent) + "\n")
	sb.WriteString(indent + fence)
	return chunk{text: sb.String()}
}

func (e *exporter) renderImage(ctx context.Context, b *snapshot.BlockSnapshot, indent string) chunk {
	blobID := propString(b.Props, "sourceId")
	if e.job.Assets != nil && blobID != "" {
		if _, err := e.job.Assets.Get(ctx, blobID); err != nil {
			e.job.Log().Warn("image blob unavailable, emitting broken link",
				"blobId", blobID, "error", err)
		}
	}
	text := "![](assets/" + blobID + ".blob"
	if caption := propString(b.Props, "caption"); caption != "" {
		text += ` "` + strings.ReplaceAll(caption, `"`, `\"`) + `"`
	}
	return chunk{text: indent + text + ")"}
}

func (e *exporter) renderAttachment(b *snapshot.BlockSnapshot, indent string) chunk {
	name := escape.MarkdownCharacters(propString(b.Props, "name"))
	return chunk{text: indent + "[" + name + "](assets/" + propString(b.Props, "sourceId") + ".blob)"}
}

func (e *exporter) renderBookmark(b *snapshot.BlockSnapshot, indent string) chunk {
	u := propString(b.Props, "url")
	title := propString(b.Props, "title")
	if title == "" || title == u {
		return chunk{text: indent + u}
	}
	return chunk{text: indent + "[" + escape.MarkdownCharacters(title) + "](" + u + ")"}
}

func (e *exporter) renderLatexBlock(b *snapshot.BlockSnapshot, indent string) chunk {
	body := "$$\n" + propString(b.Props, "latex") + "\n$$"
	return chunk{text: indent + strings.ReplaceAll(body, "\n", "\n"+indent)}
}

func (e *exporter) renderDocLink(b *snapshot.BlockSnapshot, indent string) chunk {
	pageID := propString(b.Props, "pageId")
	title := e.docTitle(pageID)
	if title == "" {
		title = propString(b.Props, "caption")
	}
	if title == "" {
		title = pageID
	}
	u := e.docLinkURL(pageID, refParamsOf(b.Props["params"]))
	if u == "" {
		return chunk{text: indent + escape.MarkdownCharacters(title)}
	}
	return chunk{text: indent + "[" + escape.MarkdownCharacters(title) + "](" + u + ")"}
}

// renderSyncedDoc inlines the target document's rendered markdown. The
// expansion chain guards against cyclic synced-doc graphs: a doc may
// appear twice in unrelated branches, but never twice on one chain.
func (e *exporter) renderSyncedDoc(ctx context.Context, b *snapshot.BlockSnapshot, indent string) ([]chunk, error) {
	pageID := propString(b.Props, "pageId")
	if e.job.Docs == nil || pageID == "" || e.onChain(pageID) || len(e.chain) >= e.maxDepth {
		return []chunk{e.renderDocLink(b, indent)}, nil
	}
	doc, ok := e.job.Docs.Doc(pageID)
	if !ok {
		return []chunk{e.renderDocLink(b, indent)}, nil
	}
	snap, err := e.job.DocToSnapshot(ctx, doc)
	if err != nil {
		e.job.Log().Warn("synced doc expansion failed, emitting link",
			"pageId", pageID, "error", err)
		return []chunk{e.renderDocLink(b, indent)}, nil
	}

	e.chain = append(e.chain, pageID)
	defer func() { e.chain = e.chain[:len(e.chain)-1] }()
	return e.renderBlocks(ctx, snap.Blocks.Children, indent, 0)
}

// renderUnknown degrades an unregistered flavour to its text content
// so one odd block never aborts a whole conversion.
func (e *exporter) renderUnknown(ctx context.Context, b *snapshot.BlockSnapshot, indent string, prose int) ([]chunk, error) {
	e.job.Log().Warn("no markdown rule for flavour, degrading to text", "flavour", b.Flavour)
	var out []chunk
	if d := textDelta(b.Props, "text"); d.Length() > 0 {
		out = append(out, chunk{text: indent + e.inline(d)})
	}
	children, err := e.renderBlocks(ctx, b.Children, indent, prose)
	if err != nil {
		return nil, err
	}
	return append(out, children...), nil
}

func (e *exporter) onChain(pageID string) bool {
	for _, id := range e.chain {
		if id == pageID {
			return true
		}
	}
	return false
}

func (e *exporter) docTitle(pageID string) string {
	if e.job.Docs == nil {
		return ""
	}
	doc, ok := e.job.Docs.Doc(pageID)
	if !ok {
		return ""
	}
	return doc.Meta().Title
}

func (e *exporter) docLinkURL(pageID string, params *delta.ReferenceParams) string {
	if e.baseURL == "" {
		return ""
	}
	u := e.baseURL + "/" + pageID
	var q []string
	if params != nil {
		if params.Mode != "" {
			q = append(q, "mode="+url.QueryEscape(params.Mode))
		}
		if len(params.BlockIDs) > 0 {
			q = append(q, "blockIds="+url.QueryEscape(strings.Join(params.BlockIDs, ",")))
		}
		if len(params.ElementIDs) > 0 {
			q = append(q, "elementIds="+url.QueryEscape(strings.Join(params.ElementIDs, ",")))
		}
	}
	if len(q) > 0 {
		u += "?" + strings.Join(q, "&")
	}
	return u
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}

func textDelta(props map[string]any, key string) delta.Delta {
	d, _ := delta.Coerce(props[key])
	return d
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func propBool(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func propInt(props map[string]any, key string) (int, bool) {
	switch v := props[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func refParamsOf(v any) *delta.ReferenceParams {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	p := &delta.ReferenceParams{Mode: stringOf(m["mode"])}
	p.BlockIDs = stringsOf(m["blockIds"])
	p.ElementIDs = stringsOf(m["elementIds"])
	if p.Mode == "" && len(p.BlockIDs) == 0 && len(p.ElementIDs) == 0 {
		return nil
	}
	return p
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func stringsOf(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
