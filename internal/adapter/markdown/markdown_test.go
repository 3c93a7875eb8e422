package markdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/suyash5053/AFFiNE/internal/config"
	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/domain"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
	"github.com/suyash5053/AFFiNE/internal/store"
)

func mdJob(mws ...snapshot.Middleware) *snapshot.Job {
	return snapshot.NewJob(schema.Builtin(), slog.New(slog.NewTextHandler(io.Discard, nil)), mws...)
}

var blkSeq int

func blk(flavour string, props map[string]any, children ...*snapshot.BlockSnapshot) *snapshot.BlockSnapshot {
	blkSeq++
	return &snapshot.BlockSnapshot{
		Type:     snapshot.TypeBlock,
		ID:       fmt.Sprintf("b%d", blkSeq),
		Flavour:  flavour,
		Version:  1,
		Props:    props,
		Children: children,
	}
}

func noteOf(blocks ...*snapshot.BlockSnapshot) *snapshot.BlockSnapshot {
	return blk(schema.Note, map[string]any{}, blocks...)
}

func pageDoc(title string, blocks ...*snapshot.BlockSnapshot) *snapshot.DocSnapshot {
	return &snapshot.DocSnapshot{
		Type: snapshot.TypePage,
		Meta: snapshot.DocMeta{ID: "doc-1", Title: title, CreateDate: 1700000000000, Tags: []string{}},
		Blocks: blk(schema.Page, map[string]any{"title": delta.New(title)},
			noteOf(blocks...)),
	}
}

func para(text string) *snapshot.BlockSnapshot {
	return blk(schema.Paragraph, map[string]any{"type": schema.ParagraphText, "text": delta.New(text)})
}

func paraTyped(typ string, d delta.Delta, children ...*snapshot.BlockSnapshot) *snapshot.BlockSnapshot {
	return blk(schema.Paragraph, map[string]any{"type": typ, "text": d}, children...)
}

func listBlock(typ, text string, checked bool, children ...*snapshot.BlockSnapshot) *snapshot.BlockSnapshot {
	return blk(schema.List, map[string]any{
		"type": typ, "text": delta.New(text), "checked": checked, "collapsed": false,
	}, children...)
}

// exportNote renders blocks under a note wrapper, without a doc title.
func exportNote(t *testing.T, job *snapshot.Job, blocks ...*snapshot.BlockSnapshot) string {
	t.Helper()
	got, err := New().FromBlockSnapshot(context.Background(), noteOf(blocks...), job)
	if err != nil {
		t.Fatalf("FromBlockSnapshot() error = %v", err)
	}
	return got
}

func importDoc(t *testing.T, job *snapshot.Job, content string) *snapshot.DocSnapshot {
	t.Helper()
	snap, err := New().ToDocSnapshot(context.Background(), content, job)
	if err != nil {
		t.Fatalf("ToDocSnapshot() error = %v", err)
	}
	return snap
}

// noteChildren digs the imported content blocks out of the page > note
// wrapper every doc import produces.
func noteChildren(t *testing.T, snap *snapshot.DocSnapshot) []*snapshot.BlockSnapshot {
	t.Helper()
	if snap.Blocks == nil || snap.Blocks.Flavour != schema.Page || len(snap.Blocks.Children) != 1 {
		t.Fatalf("imported doc root = %+v, want page with one note", snap.Blocks)
	}
	note := snap.Blocks.Children[0]
	if note.Flavour != schema.Note {
		t.Fatalf("imported wrapper flavour = %q, want %q", note.Flavour, schema.Note)
	}
	return note.Children
}

func textOf(b *snapshot.BlockSnapshot) string {
	return textDelta(b.Props, "text").PlainText()
}

type docMap map[string]*store.Doc

func (m docMap) Doc(id string) (*store.Doc, bool) {
	d, ok := m[id]
	return d, ok
}

func TestExportTitleAndHeadings(t *testing.T) {
	doc := pageDoc("Doc",
		paraTyped("h2", delta.New("Section")),
		para("plain words"),
	)
	got, err := New().FromDocSnapshot(context.Background(), doc, mdJob())
	if err != nil {
		t.Fatalf("FromDocSnapshot() error = %v", err)
	}
	want := "# Doc\n\n## Section\n\nplain words\n"
	if got != want {
		t.Errorf("FromDocSnapshot() = %q, want %q", got, want)
	}
}

func TestExportQuote(t *testing.T) {
	got := exportNote(t, mdJob(), paraTyped(schema.ParagraphQuote, delta.New("line1\nline2")))
	want := "> line1\n> line2\n"
	if got != want {
		t.Errorf("quote export = %q, want %q", got, want)
	}
}

func TestExportProseNesting(t *testing.T) {
	got := exportNote(t, mdJob(), paraTyped(schema.ParagraphText, delta.New("parent"),
		para("child"),
	))
	want := "parent\n\n&#x20;&#x20;&#x20;&#x20;child\n"
	if got != want {
		t.Errorf("nested paragraph export = %q, want %q", got, want)
	}
}

func TestExportNestedBulletedList(t *testing.T) {
	got := exportNote(t, mdJob(),
		listBlock(schema.ListBulleted, "aaa", false,
			listBlock(schema.ListBulleted, "bbb", false,
				listBlock(schema.ListBulleted, "ccc", false)),
			listBlock(schema.ListBulleted, "ddd", false),
		),
		listBlock(schema.ListBulleted, "eee", false),
	)
	want := "* aaa\n  * bbb\n    * ccc\n  * ddd\n* eee\n"
	if got != want {
		t.Errorf("nested list export = %q, want %q", got, want)
	}
}

func TestExportNumberedListNumbering(t *testing.T) {
	five := listBlock(schema.ListNumbered, "five", false)
	five.Props["order"] = 5
	got := exportNote(t, mdJob(),
		listBlock(schema.ListNumbered, "one", false),
		listBlock(schema.ListNumbered, "two", false),
		five,
	)
	want := "1. one\n2. two\n5. five\n"
	if got != want {
		t.Errorf("numbered list export = %q, want %q", got, want)
	}
}

func TestExportTodoListWithNote(t *testing.T) {
	got := exportNote(t, mdJob(),
		listBlock(schema.ListTodo, "open", false, para("note")),
		listBlock(schema.ListTodo, "done", true),
	)
	want := "- [ ] open\n\n  note\n- [x] done\n"
	if got != want {
		t.Errorf("todo list export = %q, want %q", got, want)
	}
}

func TestExportCodeFence(t *testing.T) {
	tests := []struct {
		name     string
		language string
		content  string
		want     string
	}{
		{
			name:     "plain fence with language",
			language: "python",
			content:  "import this\nprint(1)",
			want:     "```python\nimport this\nprint(1)\n```\n",
		},
		{
			name:    "fence grows past backticks in content",
			content: "fence ``` inside",
			want:    "````\nfence ``` inside\n````\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := blk(schema.Code, map[string]any{
				"language": tt.language, "caption": "", "text": delta.New(tt.content),
			})
			got := exportNote(t, mdJob(), code)
			if got != tt.want {
				t.Errorf("code export = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExportLeafBlocks(t *testing.T) {
	tests := []struct {
		name  string
		block *snapshot.BlockSnapshot
		want  string
	}{
		{
			name:  "divider",
			block: blk(schema.Divider, map[string]any{}),
			want:  "---\n",
		},
		{
			name:  "latex block",
			block: blk(schema.Latex, map[string]any{"latex": "E=mc^2"}),
			want:  "$$\nE=mc^2\n$$\n",
		},
		{
			name: "image with caption",
			block: blk(schema.Image, map[string]any{
				"sourceId": "blob1", "caption": "cap", "width": 0, "height": 0,
			}),
			want: "![](assets/blob1.blob \"cap\")\n",
		},
		{
			name: "image without caption",
			block: blk(schema.Image, map[string]any{
				"sourceId": "blob1", "caption": "", "width": 0, "height": 0,
			}),
			want: "![](assets/blob1.blob)\n",
		},
		{
			name: "attachment",
			block: blk(schema.Attachment, map[string]any{
				"sourceId": "blob2", "name": "report", "type": "", "size": 0,
			}),
			want: "[report](assets/blob2.blob)\n",
		},
		{
			name: "bookmark without title degrades to bare url",
			block: blk(schema.Bookmark, map[string]any{
				"url": "https://example.com", "title": "", "description": "",
			}),
			want: "https://example.com\n",
		},
		{
			name: "bookmark with title",
			block: blk(schema.Bookmark, map[string]any{
				"url": "https://example.com", "title": "Example site", "description": "",
			}),
			want: "[Example site](https://example.com)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exportNote(t, mdJob(), tt.block)
			if got != tt.want {
				t.Errorf("export = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExportInlineStyles(t *testing.T) {
	d := delta.Delta{
		{Insert: "bold", Attributes: delta.Attributes{delta.AttrBold: true}},
		{Insert: " and "},
		{Insert: "italic", Attributes: delta.Attributes{delta.AttrItalic: true}},
		{Insert: " and "},
		{Insert: "x=1", Attributes: delta.Attributes{delta.AttrCode: true}},
		{Insert: " and "},
		{Insert: "gone", Attributes: delta.Attributes{delta.AttrStrike: true}},
		{Insert: " "},
		{Insert: "site", Attributes: delta.Attributes{delta.AttrLink: "https://example.com"}},
	}
	got := exportNote(t, mdJob(), paraTyped(schema.ParagraphText, d))
	want := "**bold** and *italic* and `x=1` and ~~gone~~ [site](https://example.com)\n"
	if got != want {
		t.Errorf("styled export = %q, want %q", got, want)
	}
}

func TestExportInlineLatexRun(t *testing.T) {
	d := delta.Delta{
		{Insert: "Euler "},
		{Insert: delta.Placeholder, Attributes: delta.Attributes{delta.AttrLatex: `e^{i\pi}`}},
		{Insert: " rocks"},
	}
	got := exportNote(t, mdJob(), paraTyped(schema.ParagraphText, d))
	want := "Euler $e^{i\\pi}$ rocks\n"
	if got != want {
		t.Errorf("latex run export = %q, want %q", got, want)
	}
}

func TestExportFootnoteDefinitions(t *testing.T) {
	d := delta.Delta{
		{Insert: "See "},
		{Insert: delta.Placeholder, Attributes: delta.Attributes{delta.AttrFootnote: delta.FootnoteRef{
			Label:     "1",
			Reference: delta.FootnotePayload{Type: "url", URL: "https://example.com/a b"},
		}}},
		{Insert: " and "},
		{Insert: delta.Placeholder, Attributes: delta.Attributes{delta.AttrReference: delta.Reference{
			Type: "LinkedPage", PageID: "page-2",
		}}},
	}
	got := exportNote(t, mdJob(), paraTyped(schema.ParagraphText, d))
	want := "See [^1] and [^2]\n\n" +
		"[^1]: {\"type\":\"url\",\"url\":\"https%3A%2F%2Fexample.com%2Fa+b\"}\n\n" +
		"[^2]: {\"type\":\"doc\",\"docId\":\"page-2\"}\n"
	if got != want {
		t.Errorf("footnote export = %q, want %q", got, want)
	}
}

func TestExportDocLink(t *testing.T) {
	embed := func() *snapshot.BlockSnapshot {
		return blk(schema.EmbedLinkedDoc, map[string]any{
			"pageId":  "p2",
			"caption": "Other",
			"params":  map[string]any{"mode": "page", "blockIds": []any{"x", "y"}},
		})
	}

	got := exportNote(t, mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws/")), embed())
	want := "[Other](https://app.example.com/ws/p2?mode=page&blockIds=x%2Cy)\n"
	if got != want {
		t.Errorf("doc link export = %q, want %q", got, want)
	}

	got = exportNote(t, mdJob(), embed())
	if want = "Other\n"; got != want {
		t.Errorf("doc link export without base url = %q, want %q", got, want)
	}
}

func TestExportSyncedDoc(t *testing.T) {
	newDoc := func(t *testing.T, docID, title string) (*store.Doc, string) {
		t.Helper()
		d := store.New(docID, "r-"+docID, schema.Builtin())
		m := d.Meta()
		m.Title = title
		d.SetMeta(m)
		pageID, err := d.CreateBlock("", schema.Page, nil, -1)
		if err != nil {
			t.Fatalf("create page: %v", err)
		}
		noteID, err := d.CreateBlock(pageID, schema.Note, nil, -1)
		if err != nil {
			t.Fatalf("create note: %v", err)
		}
		return d, noteID
	}

	t.Run("expands target doc inline", func(t *testing.T) {
		sub, noteID := newDoc(t, "sub1", "Sub Doc")
		if _, err := sub.CreateBlock(noteID, schema.Paragraph,
			map[string]any{"text": delta.New("inner text")}, -1); err != nil {
			t.Fatalf("create paragraph: %v", err)
		}
		job := mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws"))
		job.Docs = docMap{"sub1": sub}

		got := exportNote(t, job, blk(schema.EmbedSyncedDoc, map[string]any{"pageId": "sub1"}))
		if want := "inner text\n"; got != want {
			t.Errorf("synced doc export = %q, want %q", got, want)
		}
	})

	t.Run("unknown target degrades to link", func(t *testing.T) {
		job := mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws"))
		job.Docs = docMap{}

		got := exportNote(t, job, blk(schema.EmbedSyncedDoc, map[string]any{"pageId": "missing"}))
		if want := "[missing](https://app.example.com/ws/missing)\n"; got != want {
			t.Errorf("synced doc export = %q, want %q", got, want)
		}
	})

	t.Run("cycle degrades to link", func(t *testing.T) {
		self, noteID := newDoc(t, "self", "Self Doc")
		if _, err := self.CreateBlock(noteID, schema.EmbedSyncedDoc,
			map[string]any{"pageId": "self"}, -1); err != nil {
			t.Fatalf("create embed: %v", err)
		}
		job := mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws"))
		job.Docs = docMap{"self": self}

		got := exportNote(t, job, blk(schema.EmbedSyncedDoc, map[string]any{"pageId": "self"}))
		if want := "[Self Doc](https://app.example.com/ws/self)\n"; got != want {
			t.Errorf("cyclic synced doc export = %q, want %q", got, want)
		}
	})

	t.Run("depth zero never expands", func(t *testing.T) {
		sub, noteID := newDoc(t, "sub1", "Sub Doc")
		if _, err := sub.CreateBlock(noteID, schema.Paragraph,
			map[string]any{"text": delta.New("inner text")}, -1); err != nil {
			t.Fatalf("create paragraph: %v", err)
		}
		job := mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws"), snapshot.SyncedDocDepth(0))
		job.Docs = docMap{"sub1": sub}

		got := exportNote(t, job, blk(schema.EmbedSyncedDoc, map[string]any{"pageId": "sub1"}))
		if want := "[Sub Doc](https://app.example.com/ws/sub1)\n"; got != want {
			t.Errorf("depth-limited synced doc export = %q, want %q", got, want)
		}
	})
}

func TestExportDatabaseTable(t *testing.T) {
	db := blk(schema.Database, map[string]any{
		"title": delta.New("Tasks"),
		"columns": []any{
			map[string]any{"id": "c1", "type": schema.ColumnTitle, "name": "Name", "data": map[string]any{}},
			map[string]any{"id": "c2", "type": schema.ColumnSelect, "name": "Tag", "data": map[string]any{
				"options": []any{map[string]any{"id": "o1", "value": "red"}},
			}},
			map[string]any{"id": "c3", "type": schema.ColumnCheckbox, "name": "Done", "data": map[string]any{}},
			map[string]any{"id": "c4", "type": schema.ColumnNumber, "name": "N", "data": map[string]any{}},
			map[string]any{"id": "c5", "type": schema.ColumnMultiSelect, "name": "Labels", "data": map[string]any{
				"options": []any{map[string]any{"id": "o1", "value": "red"}},
			}},
		},
		"rows": map[string]any{"r1": "a0", "r2": "a1"},
		"cells": map[string]any{
			"r1": map[string]any{
				"c1": delta.New("Task A"), "c2": "o1", "c3": true, "c4": 3.5,
				"c5": []any{"o1"},
			},
			"r2": map[string]any{
				"c1": delta.New("Task B"), "c2": "o2", "c3": false, "c4": float64(2),
				"c5": []any{"o1", "zz"},
			},
		},
	})
	got := exportNote(t, mdJob(), db)
	want := "| Name | Tag | Done | N | Labels |\n" +
		"| --- | --- | --- | --- | --- |\n" +
		"| Task A | red | True | 3.5 | red |\n" +
		"| Task B | o2 |  | 2 | red,zz |\n"
	if got != want {
		t.Errorf("database export = %q, want %q", got, want)
	}
}

func TestExportDatabaseWithoutColumns(t *testing.T) {
	db := blk(schema.Database, map[string]any{
		"title":   delta.New("Tasks"),
		"columns": []any{},
	})
	got := exportNote(t, mdJob(), db)
	if want := "Tasks\n"; got != want {
		t.Errorf("columnless database export = %q, want %q", got, want)
	}
}

func TestExportUnknownFlavourDegrades(t *testing.T) {
	var buf bytes.Buffer
	job := snapshot.NewJob(schema.Builtin(), slog.New(slog.NewTextHandler(&buf, nil)))

	odd := blk("vendor:custom", map[string]any{"text": delta.New("survives")}, para("child too"))
	got, err := New().FromBlockSnapshot(context.Background(), noteOf(odd), job)
	if err != nil {
		t.Fatalf("FromBlockSnapshot() error = %v", err)
	}
	if want := "survives\n\nchild too\n"; got != want {
		t.Errorf("unknown flavour export = %q, want %q", got, want)
	}
	if !strings.Contains(buf.String(), "no markdown rule") {
		t.Errorf("log output = %q, want degradation warning", buf.String())
	}
}

func TestExportWarnsOnMissingImageBlob(t *testing.T) {
	var buf bytes.Buffer
	job := snapshot.NewJob(schema.Builtin(), slog.New(slog.NewTextHandler(&buf, nil)))
	job.Assets = snapshot.NewMemoryAssets()

	img := blk(schema.Image, map[string]any{"sourceId": "ghost", "caption": "", "width": 0, "height": 0})
	got, err := New().FromBlockSnapshot(context.Background(), noteOf(img), job)
	if err != nil {
		t.Fatalf("FromBlockSnapshot() error = %v", err)
	}
	if want := "![](assets/ghost.blob)\n"; got != want {
		t.Errorf("export = %q, want %q", got, want)
	}
	if !strings.Contains(buf.String(), "image blob unavailable") {
		t.Errorf("log output = %q, want missing blob warning", buf.String())
	}
}

func TestExportFrontmatter(t *testing.T) {
	created := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC).UnixMilli()
	doc := pageDoc("Planning", para("hello there"))
	doc.Meta.Title = "Planning"
	doc.Meta.CreateDate = created
	doc.Meta.Tags = []string{"work", "q1"}

	job := mdJob(snapshot.FrontmatterMeta())
	got, err := New().FromDocSnapshot(context.Background(), doc, job)
	if err != nil {
		t.Fatalf("FromDocSnapshot() error = %v", err)
	}
	if !strings.HasPrefix(got, "---\n") {
		t.Fatalf("frontmatter export = %q, want leading delimiter", got)
	}
	for _, part := range []string{"title: Planning", "tags:", "created:", "hello there"} {
		if !strings.Contains(got, part) {
			t.Errorf("frontmatter export = %q, missing %q", got, part)
		}
	}

	back := importDoc(t, job, got)
	if back.Meta.Title != "Planning" {
		t.Errorf("reimported title = %q, want %q", back.Meta.Title, "Planning")
	}
	if !reflect.DeepEqual(back.Meta.Tags, []string{"work", "q1"}) {
		t.Errorf("reimported tags = %v, want [work q1]", back.Meta.Tags)
	}
	if back.Meta.CreateDate != created {
		t.Errorf("reimported create date = %d, want %d", back.Meta.CreateDate, created)
	}
}

func TestExportNilSnapshots(t *testing.T) {
	a := New()
	ctx := context.Background()
	job := mdJob()

	if _, err := a.FromDocSnapshot(ctx, nil, job); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("FromDocSnapshot(nil) error = %v, want ErrValidation", err)
	}
	if _, err := a.FromBlockSnapshot(ctx, nil, job); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("FromBlockSnapshot(nil) error = %v, want ErrValidation", err)
	}
	if _, err := a.FromSliceSnapshot(ctx, nil, job); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("FromSliceSnapshot(nil) error = %v, want ErrValidation", err)
	}
}

func TestImportTitlePromotion(t *testing.T) {
	snap := importDoc(t, mdJob(), "# My Doc\n\nbody text\n")
	if snap.Meta.Title != "My Doc" {
		t.Errorf("Meta.Title = %q, want %q", snap.Meta.Title, "My Doc")
	}
	blocks := noteChildren(t, snap)
	if len(blocks) != 1 {
		t.Fatalf("content blocks = %d, want 1 (title heading consumed)", len(blocks))
	}
	if got := textOf(blocks[0]); got != "body text" {
		t.Errorf("body text = %q, want %q", got, "body text")
	}
	title, ok := delta.Coerce(snap.Blocks.Props["title"])
	if !ok || title.PlainText() != "My Doc" {
		t.Errorf("page title prop = %v, want delta %q", snap.Blocks.Props["title"], "My Doc")
	}
}

func TestImportTitleTruncation(t *testing.T) {
	long := strings.Repeat("a", config.MaxTitleLength+40)
	snap := importDoc(t, mdJob(), "# "+long+"\n\nbody\n")
	if got := len([]rune(snap.Meta.Title)); got != config.MaxTitleLength {
		t.Errorf("title length = %d runes, want %d", got, config.MaxTitleLength)
	}
	if !strings.HasPrefix(long, snap.Meta.Title) {
		t.Error("truncated title is not a prefix of the original")
	}
	title, ok := delta.Coerce(snap.Blocks.Props["title"])
	if !ok || title.PlainText() != snap.Meta.Title {
		t.Error("page title prop does not match the truncated meta title")
	}
}

func TestImportHeadingLevels(t *testing.T) {
	snap := importDoc(t, mdJob(), "## Second\n\n### Third\n")
	blocks := noteChildren(t, snap)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	for i, want := range []string{"h2", "h3"} {
		if got := propString(blocks[i].Props, "type"); got != want {
			t.Errorf("blocks[%d] type = %q, want %q", i, got, want)
		}
	}
	if snap.Meta.Title != "" {
		t.Errorf("Meta.Title = %q, want empty (no leading h1)", snap.Meta.Title)
	}
}

func TestImportNestedBulletedList(t *testing.T) {
	blocks := noteChildren(t, importDoc(t, mdJob(), "* aaa\n  * bbb\n* ccc\n"))
	if len(blocks) != 2 {
		t.Fatalf("top-level items = %d, want 2", len(blocks))
	}
	aaa := blocks[0]
	if got := propString(aaa.Props, "type"); got != schema.ListBulleted {
		t.Errorf("item type = %q, want %q", got, schema.ListBulleted)
	}
	if got := textOf(aaa); got != "aaa" {
		t.Errorf("item text = %q, want %q", got, "aaa")
	}
	if len(aaa.Children) != 1 || textOf(aaa.Children[0]) != "bbb" {
		t.Fatalf("nested items = %+v, want single bbb child", aaa.Children)
	}
	if got := textOf(blocks[1]); got != "ccc" {
		t.Errorf("second item text = %q, want %q", got, "ccc")
	}
}

func TestImportOrderedListKeepsStart(t *testing.T) {
	blocks := noteChildren(t, importDoc(t, mdJob(), "3. three\n4. four\n"))
	if len(blocks) != 2 {
		t.Fatalf("items = %d, want 2", len(blocks))
	}
	for i, want := range []int{3, 4} {
		b := blocks[i]
		if got := propString(b.Props, "type"); got != schema.ListNumbered {
			t.Errorf("items[%d] type = %q, want %q", i, got, schema.ListNumbered)
		}
		if got, ok := propInt(b.Props, "order"); !ok || got != want {
			t.Errorf("items[%d] order = %v, want %d", i, b.Props["order"], want)
		}
	}

	// A list starting at one keeps no explicit order props.
	blocks = noteChildren(t, importDoc(t, mdJob(), "1. one\n2. two\n"))
	for i, b := range blocks {
		if _, ok := b.Props["order"]; ok {
			t.Errorf("items[%d] carries order prop %v, want none", i, b.Props["order"])
		}
	}
}

func TestImportTodoList(t *testing.T) {
	blocks := noteChildren(t, importDoc(t, mdJob(), "- [ ] open\n- [x] done\n"))
	if len(blocks) != 2 {
		t.Fatalf("items = %d, want 2", len(blocks))
	}
	tests := []struct {
		text    string
		checked bool
	}{
		{"open", false},
		{"done", true},
	}
	for i, tt := range tests {
		b := blocks[i]
		if got := propString(b.Props, "type"); got != schema.ListTodo {
			t.Errorf("items[%d] type = %q, want %q", i, got, schema.ListTodo)
		}
		if got := propBool(b.Props, "checked"); got != tt.checked {
			t.Errorf("items[%d] checked = %v, want %v", i, got, tt.checked)
		}
		if got := textOf(b); got != tt.text {
			t.Errorf("items[%d] text = %q, want %q", i, got, tt.text)
		}
	}
}

func TestImportCodeFence(t *testing.T) {
	blocks := noteChildren(t, importDoc(t, mdJob(), "```go\nfmt.Println(1)\n```\n"))
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	b := blocks[0]
	if b.Flavour != schema.Code {
		t.Fatalf("flavour = %q, want %q", b.Flavour, schema.Code)
	}
	if got := propString(b.Props, "language"); got != "go" {
		t.Errorf("language = %q, want %q", got, "go")
	}
	if got := textOf(b); got != "fmt.Println(1)" {
		t.Errorf("content = %q, want %q", got, "fmt.Println(1)")
	}
}

func TestImportBlockquote(t *testing.T) {
	blocks := noteChildren(t, importDoc(t, mdJob(), "> line1\n> line2\n"))
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	if got := propString(blocks[0].Props, "type"); got != schema.ParagraphQuote {
		t.Errorf("type = %q, want %q", got, schema.ParagraphQuote)
	}
	if got := textOf(blocks[0]); got != "line1\nline2" {
		t.Errorf("text = %q, want %q", got, "line1\nline2")
	}
}

func TestImportDividerAndHTMLBlock(t *testing.T) {
	blocks := noteChildren(t, importDoc(t, mdJob(), "before\n\n---\n\n<div>x</div>\n"))
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	if blocks[1].Flavour != schema.Divider {
		t.Errorf("blocks[1].Flavour = %q, want %q", blocks[1].Flavour, schema.Divider)
	}
	if got := textOf(blocks[2]); got != "<div>x</div>" {
		t.Errorf("html block text = %q, want %q", got, "<div>x</div>")
	}
}

func TestImportLatex(t *testing.T) {
	t.Run("inline dollar span", func(t *testing.T) {
		blocks := noteChildren(t, importDoc(t, mdJob(), "Einstein wrote $E=mc^2$ here\n"))
		d := textDelta(blocks[0].Props, "text")
		if len(d) != 3 {
			t.Fatalf("runs = %d (%+v), want 3", len(d), d)
		}
		if s, ok := delta.LatexOf(d[1].Attributes); !ok || s != "E=mc^2" {
			t.Errorf("latex attr = %v, want %q", d[1].Attributes, "E=mc^2")
		}
		if d[0].Insert != "Einstein wrote " || d[2].Insert != " here" {
			t.Errorf("surrounding runs = %q, %q", d[0].Insert, d[2].Insert)
		}
	})

	t.Run("parenthesis delimiters rewrite", func(t *testing.T) {
		blocks := noteChildren(t, importDoc(t, mdJob(), `sum \(x+y\) done`+"\n"))
		d := textDelta(blocks[0].Props, "text")
		if len(d) != 3 {
			t.Fatalf("runs = %d (%+v), want 3", len(d), d)
		}
		if s, ok := delta.LatexOf(d[1].Attributes); !ok || s != "x+y" {
			t.Errorf("latex attr = %v, want %q", d[1].Attributes, "x+y")
		}
	})

	t.Run("prices stay plain text", func(t *testing.T) {
		blocks := noteChildren(t, importDoc(t, mdJob(), "Costs $5 and $10 today\n"))
		d := textDelta(blocks[0].Props, "text")
		if len(d) != 1 || len(d[0].Attributes) != 0 {
			t.Fatalf("runs = %+v, want one plain run", d)
		}
		if d[0].Insert != "Costs $5 and $10 today" {
			t.Errorf("text = %q, want %q", d[0].Insert, "Costs $5 and $10 today")
		}
	})

	t.Run("display block", func(t *testing.T) {
		blocks := noteChildren(t, importDoc(t, mdJob(), "$$\nE=mc^2\n$$\n"))
		if len(blocks) != 1 || blocks[0].Flavour != schema.Latex {
			t.Fatalf("blocks = %+v, want one latex block", blocks)
		}
		if got := propString(blocks[0].Props, "latex"); got != "E=mc^2" {
			t.Errorf("latex = %q, want %q", got, "E=mc^2")
		}
	})
}

func TestImportSoloEmbeds(t *testing.T) {
	base := snapshot.DocLinkBaseURL("https://app.example.com/ws")
	tests := []struct {
		name    string
		content string
		flavour string
		props   map[string]any
	}{
		{
			name:    "image with asset path",
			content: "![](assets/blob9.blob \"pic\")\n",
			flavour: schema.Image,
			props:   map[string]any{"sourceId": "blob9", "caption": "pic"},
		},
		{
			name:    "attachment link",
			content: "[file](assets/blob7.blob)\n",
			flavour: schema.Attachment,
			props:   map[string]any{"sourceId": "blob7", "name": "file"},
		},
		{
			name:    "doc link",
			content: "[Other](https://app.example.com/ws/p5?mode=page)\n",
			flavour: schema.EmbedLinkedDoc,
			props: map[string]any{
				"pageId":  "p5",
				"caption": "Other",
				"params":  map[string]any{"mode": "page"},
			},
		},
		{
			name:    "external link becomes bookmark",
			content: "[plain](https://example.com/x)\n",
			flavour: schema.Bookmark,
			props:   map[string]any{"url": "https://example.com/x", "title": "plain"},
		},
		{
			name:    "bare url becomes bookmark",
			content: "https://example.com\n",
			flavour: schema.Bookmark,
			props:   map[string]any{"url": "https://example.com", "title": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := noteChildren(t, importDoc(t, mdJob(base), tt.content))
			if len(blocks) != 1 {
				t.Fatalf("blocks = %d, want 1", len(blocks))
			}
			b := blocks[0]
			if b.Flavour != tt.flavour {
				t.Fatalf("flavour = %q, want %q", b.Flavour, tt.flavour)
			}
			for k, want := range tt.props {
				if got := b.Props[k]; !reflect.DeepEqual(got, want) {
					t.Errorf("props[%q] = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestImportInlineDocLink(t *testing.T) {
	content := "go read [Spec](https://app.example.com/ws/p9?mode=page) first\n"
	blocks := noteChildren(t, importDoc(t, mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws")), content))
	d := textDelta(blocks[0].Props, "text")
	var ref delta.Reference
	found := false
	for _, op := range d {
		if r, ok := delta.ReferenceOf(op.Attributes); ok {
			ref, found = r, true
		}
	}
	if !found {
		t.Fatalf("runs = %+v, want a reference run", d)
	}
	if ref.PageID != "p9" {
		t.Errorf("reference pageId = %q, want %q", ref.PageID, "p9")
	}
	if ref.Params == nil || ref.Params.Mode != "page" {
		t.Errorf("reference params = %+v, want mode page", ref.Params)
	}
}

func TestImportFootnoteCitations(t *testing.T) {
	content := "cite [^1]\n\n[^1]: {\"type\":\"url\",\"url\":\"https%3A%2F%2Fexample.com%2Fa+b\"}\n"
	blocks := noteChildren(t, importDoc(t, mdJob(), content))
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1 (definition list skipped)", len(blocks))
	}
	d := textDelta(blocks[0].Props, "text")
	var ref delta.FootnoteRef
	found := false
	for _, op := range d {
		if f, ok := delta.FootnoteOf(op.Attributes); ok {
			ref, found = f, true
		}
	}
	if !found {
		t.Fatalf("runs = %+v, want a footnote run", d)
	}
	if ref.Label != "1" {
		t.Errorf("label = %q, want %q", ref.Label, "1")
	}
	if ref.Reference.Type != "url" || ref.Reference.URL != "https://example.com/a b" {
		t.Errorf("payload = %+v, want unescaped url payload", ref.Reference)
	}
}

func TestImportProseDepthNesting(t *testing.T) {
	content := "parent\n\n" +
		"&#x20;&#x20;&#x20;&#x20;child\n\n" +
		"&#x20;&#x20;&#x20;&#x20;&#x20;&#x20;&#x20;&#x20;grand\n"
	blocks := noteChildren(t, importDoc(t, mdJob(), content))
	if len(blocks) != 1 {
		t.Fatalf("top-level blocks = %d, want 1", len(blocks))
	}
	parent := blocks[0]
	if got := textOf(parent); got != "parent" {
		t.Errorf("parent text = %q", got)
	}
	if len(parent.Children) != 1 {
		t.Fatalf("parent children = %d, want 1", len(parent.Children))
	}
	child := parent.Children[0]
	if got := textOf(child); got != "child" {
		t.Errorf("child text = %q", got)
	}
	if len(child.Children) != 1 || textOf(child.Children[0]) != "grand" {
		t.Fatalf("grandchild = %+v, want single grand paragraph", child.Children)
	}
}

func TestImportTable(t *testing.T) {
	content := "| Name | Note |\n| --- | --- |\n| Alpha | first |\n| Beta | second |\n"
	blocks := noteChildren(t, importDoc(t, mdJob(), content))
	if len(blocks) != 1 || blocks[0].Flavour != schema.Database {
		t.Fatalf("blocks = %+v, want one database block", blocks)
	}
	props := blocks[0].Props

	cols, _ := props["columns"].([]any)
	if len(cols) != 2 {
		t.Fatalf("columns = %d, want 2", len(cols))
	}
	first, _ := cols[0].(map[string]any)
	second, _ := cols[1].(map[string]any)
	if got := stringOf(first["type"]); got != schema.ColumnTitle {
		t.Errorf("first column type = %q, want %q", got, schema.ColumnTitle)
	}
	if got := stringOf(second["type"]); got != schema.ColumnRichText {
		t.Errorf("second column type = %q, want %q", got, schema.ColumnRichText)
	}
	if got := stringOf(first["name"]); got != "Name" {
		t.Errorf("first column name = %q, want %q", got, "Name")
	}

	rows, _ := props["rows"].(map[string]any)
	cells, _ := props["cells"].(map[string]any)
	if len(rows) != 2 || len(cells) != 2 {
		t.Fatalf("rows = %d, cells = %d, want 2 each", len(rows), len(cells))
	}

	// Row order rides on the fractional keys.
	var firstRow string
	for id, key := range rows {
		if stringOf(key) == "a0" {
			firstRow = id
		}
	}
	if firstRow == "" {
		t.Fatalf("rows = %v, want one keyed a0", rows)
	}
	rowCells, _ := cells[firstRow].(map[string]any)
	cell, ok := rowCells[stringOf(first["id"])].(delta.Delta)
	if !ok || cell.PlainText() != "Alpha" {
		t.Errorf("title cell = %v, want delta %q", rowCells[stringOf(first["id"])], "Alpha")
	}
	cell, ok = rowCells[stringOf(second["id"])].(delta.Delta)
	if !ok || cell.PlainText() != "first" {
		t.Errorf("note cell = %v, want delta %q", rowCells[stringOf(second["id"])], "first")
	}
}

func TestImportMalformedContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid utf8", "bad \xff\xfe bytes"},
		{"unclosed frontmatter", "---\ntitle: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().ToDocSnapshot(context.Background(), tt.content, mdJob())
			if !errors.Is(err, domain.ErrMalformedMarkdown) {
				t.Errorf("ToDocSnapshot() error = %v, want ErrMalformedMarkdown", err)
			}
		})
	}
}

func TestSliceAndBlockImport(t *testing.T) {
	a := New()
	ctx := context.Background()
	job := mdJob(snapshot.WorkspaceID("ws-1"))

	slice, err := a.ToSliceSnapshot(ctx, "para one\n\npara two\n", job)
	if err != nil {
		t.Fatalf("ToSliceSnapshot() error = %v", err)
	}
	if slice.Type != snapshot.TypeSlice {
		t.Errorf("slice type = %q, want %q", slice.Type, snapshot.TypeSlice)
	}
	if slice.WorkspaceID != "ws-1" {
		t.Errorf("workspace id = %q, want %q", slice.WorkspaceID, "ws-1")
	}
	if len(slice.Content) != 2 || textOf(slice.Content[1]) != "para two" {
		t.Fatalf("slice content = %+v, want two paragraphs", slice.Content)
	}

	out, err := a.FromSliceSnapshot(ctx, slice, job)
	if err != nil {
		t.Fatalf("FromSliceSnapshot() error = %v", err)
	}
	if want := "para one\n\npara two\n"; out != want {
		t.Errorf("FromSliceSnapshot() = %q, want %q", out, want)
	}

	block, err := a.ToBlockSnapshot(ctx, "hello\n", job)
	if err != nil {
		t.Fatalf("ToBlockSnapshot() error = %v", err)
	}
	if block.Flavour != schema.Note || len(block.Children) != 1 {
		t.Fatalf("block import = %+v, want note wrapper with one child", block)
	}
}

// TestRoundTripStability exports a document, imports the text, exports
// again and expects byte-identical output. Every construct in the
// fixture is one whose markdown form survives a reparse unchanged.
func TestRoundTripStability(t *testing.T) {
	styled := delta.Delta{
		{Insert: "bold", Attributes: delta.Attributes{delta.AttrBold: true}},
		{Insert: " and "},
		{Insert: "italic", Attributes: delta.Attributes{delta.AttrItalic: true}},
		{Insert: " and "},
		{Insert: "code", Attributes: delta.Attributes{delta.AttrCode: true}},
		{Insert: " and "},
		{Insert: "strike", Attributes: delta.Attributes{delta.AttrStrike: true}},
		{Insert: " and "},
		{Insert: "site", Attributes: delta.Attributes{delta.AttrLink: "https://example.com"}},
	}
	mathy := delta.Delta{
		{Insert: "Euler "},
		{Insert: delta.Placeholder, Attributes: delta.Attributes{delta.AttrLatex: `e^{i\pi}`}},
		{Insert: " here"},
	}
	citing := delta.Delta{
		{Insert: "see "},
		{Insert: delta.Placeholder, Attributes: delta.Attributes{delta.AttrFootnote: delta.FootnoteRef{
			Label:     "1",
			Reference: delta.FootnotePayload{Type: "url", URL: "https://example.com/a b"},
		}}},
	}

	doc := pageDoc("Doc",
		para("plain opening words"),
		paraTyped("h2", delta.New("Section")),
		paraTyped(schema.ParagraphQuote, delta.New("line1\nline2")),
		listBlock(schema.ListBulleted, "aaa", false,
			listBlock(schema.ListBulleted, "bbb", false)),
		listBlock(schema.ListBulleted, "ccc", false),
		listBlock(schema.ListTodo, "open", false),
		listBlock(schema.ListTodo, "done", true),
		paraTyped(schema.ParagraphText, styled),
		paraTyped(schema.ParagraphText, mathy),
		blk(schema.Code, map[string]any{"language": "go", "caption": "", "text": delta.New("fmt.Println(1)")}),
		blk(schema.Divider, map[string]any{}),
		blk(schema.Bookmark, map[string]any{"url": "https://example.com", "title": "", "description": ""}),
		blk(schema.Image, map[string]any{"sourceId": "blob1", "caption": "", "width": 0, "height": 0}),
		blk(schema.Attachment, map[string]any{"sourceId": "blob7", "name": "file", "type": "", "size": 0}),
		paraTyped(schema.ParagraphText, delta.New("parent"), para("child")),
		blk(schema.Database, map[string]any{
			"title": delta.New("Grid"),
			"columns": []any{
				map[string]any{"id": "c1", "type": schema.ColumnTitle, "name": "Name", "data": map[string]any{}},
				map[string]any{"id": "c2", "type": schema.ColumnRichText, "name": "Note", "data": map[string]any{}},
			},
			"rows": map[string]any{"r1": "a0"},
			"cells": map[string]any{
				"r1": map[string]any{"c1": delta.New("Alpha"), "c2": delta.New("first")},
			},
		}),
		blk(schema.EmbedLinkedDoc, map[string]any{
			"pageId":  "p2",
			"caption": "Target",
			"params":  map[string]any{"mode": "page"},
		}),
		paraTyped(schema.ParagraphText, citing),
	)

	a := New()
	ctx := context.Background()
	job := mdJob(snapshot.DocLinkBaseURL("https://app.example.com/ws"))

	first, err := a.FromDocSnapshot(ctx, doc, job)
	if err != nil {
		t.Fatalf("first export error = %v", err)
	}
	for _, part := range []string{"# Doc", "- [x] done", "| Alpha | first |", "[^1]:"} {
		if !strings.Contains(first, part) {
			t.Fatalf("first export = %q, missing %q", first, part)
		}
	}

	back, err := a.ToDocSnapshot(ctx, first, job)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	second, err := a.FromDocSnapshot(ctx, back, job)
	if err != nil {
		t.Fatalf("second export error = %v", err)
	}
	if first != second {
		t.Errorf("round trip diverged:\nfirst:  %q\nsecond: %q", first, second)
	}
}
