// Package html implements the HTML adapter. Import sanitizes the
// markup, converts it to markdown and delegates to the markdown
// adapter; export renders the markdown form back to HTML.
package html

import (
	"bytes"
	"context"
	"fmt"
	stdhtml "html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/suyash5053/AFFiNE/internal/adapter"
	"github.com/suyash5053/AFFiNE/internal/adapter/markdown"
	"github.com/suyash5053/AFFiNE/internal/delta"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

type Adapter struct {
	inner     *markdown.Adapter
	sanitizer *sanitizer
	conv      *md.Converter
	renderer  goldmark.Markdown
}

var _ adapter.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{
		inner:     markdown.New(),
		sanitizer: newSanitizer(),
		conv:      md.NewConverter("", true, nil),
		renderer:  goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Footnote)),
	}
}

func (a *Adapter) Name() string { return "html" }

func (a *Adapter) Extensions() []string { return []string{".html", ".htm"} }

func (a *Adapter) FromDocSnapshot(ctx context.Context, snap *snapshot.DocSnapshot, job *snapshot.Job) (string, error) {
	mdText, err := a.inner.FromDocSnapshot(ctx, snap, job)
	if err != nil {
		return "", err
	}
	body, err := a.render(mdText)
	if err != nil {
		return "", err
	}
	return wrapDocument(snap.Meta.Title, body), nil
}

func (a *Adapter) FromBlockSnapshot(ctx context.Context, snap *snapshot.BlockSnapshot, job *snapshot.Job) (string, error) {
	mdText, err := a.inner.FromBlockSnapshot(ctx, snap, job)
	if err != nil {
		return "", err
	}
	return a.render(mdText)
}

func (a *Adapter) FromSliceSnapshot(ctx context.Context, snap *snapshot.SliceSnapshot, job *snapshot.Job) (string, error) {
	mdText, err := a.inner.FromSliceSnapshot(ctx, snap, job)
	if err != nil {
		return "", err
	}
	return a.render(mdText)
}

func (a *Adapter) ToDocSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.DocSnapshot, error) {
	mdText, title, err := a.toMarkdown(content)
	if err != nil {
		return nil, err
	}
	snap, err := a.inner.ToDocSnapshot(ctx, mdText, job)
	if err != nil {
		return nil, err
	}
	// The markdown pass only sees the body; a <title> fills the gap
	// when no leading heading named the document.
	if snap.Meta.Title == "" && title != "" {
		title = markdown.TruncateTitle(title)
		snap.Meta.Title = title
		if snap.Blocks != nil && snap.Blocks.Props != nil {
			snap.Blocks.Props["title"] = delta.New(title)
		}
	}
	return snap, nil
}

func (a *Adapter) ToBlockSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.BlockSnapshot, error) {
	mdText, _, err := a.toMarkdown(content)
	if err != nil {
		return nil, err
	}
	return a.inner.ToBlockSnapshot(ctx, mdText, job)
}

func (a *Adapter) ToSliceSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.SliceSnapshot, error) {
	mdText, _, err := a.toMarkdown(content)
	if err != nil {
		return nil, err
	}
	return a.inner.ToSliceSnapshot(ctx, mdText, job)
}

// toMarkdown sanitizes the input and converts it to markdown, returning
// the document title alongside when the source carried one.
func (a *Adapter) toMarkdown(content string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	// The html parser always synthesizes a body, even for fragments.
	body, err := doc.Find("body").First().Html()
	if err != nil {
		return "", "", fmt.Errorf("reading html body: %w", err)
	}

	sanitized := a.sanitizer.sanitize(body)
	mdText, err := a.conv.ConvertString(sanitized)
	if err != nil {
		return "", "", fmt.Errorf("converting html to markdown: %w", err)
	}
	return mdText, title, nil
}

func (a *Adapter) render(mdText string) (string, error) {
	var buf bytes.Buffer
	if err := a.renderer.Convert([]byte(mdText), &buf); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return buf.String(), nil
}

func wrapDocument(title, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	if title != "" {
		b.WriteString("<title>")
		b.WriteString(stdhtml.EscapeString(title))
		b.WriteString("</title>\n")
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
