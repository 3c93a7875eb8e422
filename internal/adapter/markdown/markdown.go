// Package markdown implements the bidirectional markdown adapter.
// Export walks snapshot trees into GFM text; import parses GFM back
// into snapshot trees through a goldmark AST.
package markdown

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/escape"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/suyash5053/AFFiNE/internal/adapter"
	"github.com/suyash5053/AFFiNE/internal/config"
	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/domain"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

// Adapter converts between snapshots and markdown text. Safe for
// concurrent use; per-call state lives on the exporter/importer.
type Adapter struct {
	md goldmark.Markdown
}

var _ adapter.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Footnote)),
	}
}

func (a *Adapter) Name() string { return "markdown" }

func (a *Adapter) Extensions() []string { return []string{".md", ".markdown"} }

func (a *Adapter) FromDocSnapshot(ctx context.Context, snap *snapshot.DocSnapshot, job *snapshot.Job) (string, error) {
	if snap == nil || snap.Blocks == nil {
		return "", fmt.Errorf("%w: nil doc snapshot", domain.ErrValidation)
	}
	e := newExporter(job)

	var head []chunk
	if job.Config(snapshot.ConfigFrontmatter) == "true" {
		fm, err := frontmatterChunk(snap.Meta)
		if err != nil {
			return "", err
		}
		head = append(head, fm)
	} else if snap.Meta.Title != "" {
		head = append(head, chunk{text: "# " + escape.MarkdownCharacters(snap.Meta.Title)})
	}

	body, err := e.renderTopLevel(ctx, contentBlocks(snap.Blocks))
	if err != nil {
		return "", err
	}
	return joinChunks(append(head, body...)), nil
}

func (a *Adapter) FromBlockSnapshot(ctx context.Context, snap *snapshot.BlockSnapshot, job *snapshot.Job) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("%w: nil block snapshot", domain.ErrValidation)
	}
	e := newExporter(job)
	body, err := e.renderTopLevel(ctx, contentBlocks(snap))
	if err != nil {
		return "", err
	}
	return joinChunks(body), nil
}

func (a *Adapter) FromSliceSnapshot(ctx context.Context, snap *snapshot.SliceSnapshot, job *snapshot.Job) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("%w: nil slice snapshot", domain.ErrValidation)
	}
	e := newExporter(job)
	body, err := e.renderTopLevel(ctx, snap.Content)
	if err != nil {
		return "", err
	}
	return joinChunks(body), nil
}

func (a *Adapter) ToDocSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.DocSnapshot, error) {
	fm, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, err
	}
	im := newImporter(a, job)
	blocks, err := im.parse(body)
	if err != nil {
		return nil, err
	}

	title := fm.Title
	if title == "" && len(blocks) > 0 && isHeading1(blocks[0]) {
		title = textDelta(blocks[0].Props, "text").PlainText()
		blocks = blocks[1:]
	}
	title = TruncateTitle(title)

	createDate := time.Now().UnixMilli()
	if fm.Created != "" {
		if ts, perr := time.Parse(time.RFC3339, fm.Created); perr == nil {
			createDate = ts.UnixMilli()
		}
	}

	note := im.snap(schema.Note, im.defaults(schema.Note), blocks...)
	pageProps := im.defaults(schema.Page)
	pageProps["title"] = delta.New(title)
	page := im.snap(schema.Page, pageProps, note)

	return &snapshot.DocSnapshot{
		Type: snapshot.TypePage,
		Meta: snapshot.DocMeta{
			ID:         uuid.NewString(),
			Title:      title,
			CreateDate: createDate,
			Tags:       fm.Tags,
		},
		Blocks: page,
	}, nil
}

func (a *Adapter) ToBlockSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.BlockSnapshot, error) {
	_, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, err
	}
	im := newImporter(a, job)
	blocks, err := im.parse(body)
	if err != nil {
		return nil, err
	}
	return im.snap(schema.Note, im.defaults(schema.Note), blocks...), nil
}

func (a *Adapter) ToSliceSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.SliceSnapshot, error) {
	im := newImporter(a, job)
	blocks, err := im.parse(content)
	if err != nil {
		return nil, err
	}
	return &snapshot.SliceSnapshot{
		Type:        snapshot.TypeSlice,
		Content:     blocks,
		WorkspaceID: job.Config(snapshot.ConfigWorkspaceID),
	}, nil
}

func newImporter(a *Adapter, job *snapshot.Job) *importer {
	return &importer{
		md:      a.md,
		job:     job,
		baseURL: job.Config(snapshot.ConfigDocLinkBaseURL),
	}
}

func (im *importer) parse(content string) ([]*snapshot.BlockSnapshot, error) {
	if !utf8.ValidString(content) {
		return nil, &domain.MalformedMarkdownError{Reason: "content is not valid UTF-8"}
	}
	src, depths := preprocess(content)
	im.src = src
	im.depths = depths
	im.lineStarts = newLineStarts(src)

	root := im.md.Parser().Parse(text.NewReader(src))
	im.collectFootnotes(root)
	return im.convertSiblings(root.FirstChild()), nil
}

func (im *importer) defaults(flavour string) map[string]any {
	if im.job.Schema != nil {
		if sch, err := im.job.Schema.Get(flavour); err == nil && sch.Defaults != nil {
			return sch.Defaults()
		}
	}
	return map[string]any{}
}

// contentBlocks flattens page and note wrappers down to the content
// blocks a markdown document is made of. Surfaces hold canvas data
// with no text rendering.
func contentBlocks(b *snapshot.BlockSnapshot) []*snapshot.BlockSnapshot {
	switch b.Flavour {
	case schema.Page:
		var out []*snapshot.BlockSnapshot
		for _, c := range b.Children {
			if c == nil {
				continue
			}
			out = append(out, contentBlocks(c)...)
		}
		return out
	case schema.Note:
		return b.Children
	case schema.Surface:
		return nil
	default:
		return []*snapshot.BlockSnapshot{b}
	}
}

func isHeading1(b *snapshot.BlockSnapshot) bool {
	return b.Flavour == schema.Paragraph && propString(b.Props, "type") == "h1"
}

// TruncateTitle caps an imported document title at the configured
// maximum length, in runes.
func TruncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= config.MaxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:config.MaxTitleLength])
}

// frontmatter is the YAML document header carrying doc metadata when
// the frontmatter middleware is active.
type frontmatter struct {
	Title   string   `yaml:"title,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
	Created string   `yaml:"created,omitempty"`
}

func frontmatterChunk(meta snapshot.DocMeta) (chunk, error) {
	fm := frontmatter{Title: meta.Title, Tags: meta.Tags}
	if meta.CreateDate > 0 {
		fm.Created = time.UnixMilli(meta.CreateDate).UTC().Format(time.RFC3339)
	}
	raw, err := yaml.Marshal(fm)
	if err != nil {
		return chunk{}, err
	}
	return chunk{text: "---\n" + strings.TrimRight(string(raw), "\n") + "\n---"}, nil
}

// parseFrontmatter splits an optional YAML header off the content.
// Content without a leading delimiter passes through untouched.
func parseFrontmatter(content string) (frontmatter, string, error) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return frontmatter{}, content, nil
	}
	lines := strings.Split(content, "\n")
	closing := 0
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closing = i
			break
		}
	}
	if closing == 0 {
		return frontmatter{}, "", &domain.MalformedMarkdownError{Reason: "missing closing frontmatter delimiter"}
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closing], "\n")), &fm); err != nil {
		return frontmatter{}, "", &domain.MalformedMarkdownError{Reason: "invalid YAML frontmatter: " + err.Error()}
	}
	return fm, strings.Join(lines[closing+1:], "\n"), nil
}
