package markdown

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/JohannesKaufmann/html-to-markdown/escape"

	"github.com/suyash5053/AFFiNE/internal/delta"
)

// footnoteDef is one pending definition line, flushed after the block
// that cited it.
type footnoteDef struct {
	label string
	body  string
}

func (e *exporter) takeFootnotes() []chunk {
	if len(e.defs) == 0 {
		return nil
	}
	out := make([]chunk, len(e.defs))
	for i, d := range e.defs {
		out[i] = chunk{text: "[^" + d.label + "]: " + d.body}
	}
	e.defs = e.defs[:0]
	return out
}

// inline renders a delta to inline markdown.
func (e *exporter) inline(d delta.Delta) string {
	var b strings.Builder
	for _, op := range d.Normalize() {
		b.WriteString(e.renderRun(op))
	}
	return b.String()
}

func (e *exporter) renderRun(op delta.Op) string {
	attrs := op.Attributes
	if s, ok := delta.LatexOf(attrs); ok {
		return "$" + s + "$"
	}
	if f, ok := delta.FootnoteOf(attrs); ok {
		return e.cite(f.Label, f.Reference)
	}
	if r, ok := delta.ReferenceOf(attrs); ok {
		return e.cite("", delta.FootnotePayload{Type: "doc", DocID: r.PageID})
	}
	if truthy(attrs[delta.AttrCode]) {
		return codeSpan(op.Insert)
	}

	out := escape.MarkdownCharacters(op.Insert)
	if truthy(attrs[delta.AttrBold]) {
		out = "**" + out + "**"
	}
	if truthy(attrs[delta.AttrItalic]) {
		out = "*" + out + "*"
	}
	if truthy(attrs[delta.AttrStrike]) {
		out = "~~" + out + "~~"
	}
	if u, ok := delta.LinkOf(attrs); ok {
		if out == op.Insert && op.Insert == u {
			// Bare autolink form; GFM linkifies it on re-parse.
			return u
		}
		out = "[" + out + "](" + u + ")"
	}
	return out
}

// cite emits a numbered bracket citation and queues its definition
// line. Explicit labels are kept; minted ones continue past the
// highest numeric label seen so far.
func (e *exporter) cite(label string, payload delta.FootnotePayload) string {
	if n, err := strconv.Atoi(label); err == nil && n > e.nextLabel {
		e.nextLabel = n
	}
	if label == "" {
		e.nextLabel++
		label = strconv.Itoa(e.nextLabel)
	}
	e.defs = append(e.defs, footnoteDef{label: label, body: encodePayload(payload)})
	return "[^" + label + "]"
}

// encodePayload serializes a footnote payload with its URL field
// query-escaped. encoding/json would escape &, < and > for HTML
// embedding, which the definition line format does not want.
func encodePayload(p delta.FootnotePayload) string {
	if p.URL != "" {
		p.URL = url.QueryEscape(p.URL)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "{}"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func decodePayload(raw string) (delta.FootnotePayload, bool) {
	var p delta.FootnotePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Type == "" {
		return delta.FootnotePayload{}, false
	}
	if p.URL != "" {
		if u, err := url.QueryUnescape(p.URL); err == nil {
			p.URL = u
		}
	}
	return p, true
}

func codeSpan(text string) string {
	delim := strings.Repeat("`", longestBacktickRun(text)+1)
	if strings.HasPrefix(text, "`") || strings.HasSuffix(text, "`") {
		text = " " + text + " "
	}
	return delim + text + delim
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// scanLatex splits $...$ spans out of unattributed runs. A dollar sign
// touching a digit never delimits math, so prices pass through as
// plain text.
func scanLatex(d delta.Delta) delta.Delta {
	out := make(delta.Delta, 0, len(d))
	for _, op := range d {
		if len(op.Attributes) != 0 {
			out = append(out, op)
			continue
		}
		out = append(out, splitLatex(op.Insert)...)
	}
	return out
}

func splitLatex(text string) delta.Delta {
	rs := []rune(text)
	var runs delta.Delta
	var plain []rune

	flush := func() {
		if len(plain) > 0 {
			runs = append(runs, delta.Op{Insert: string(plain)})
			plain = nil
		}
	}

	for i := 0; i < len(rs); {
		if rs[i] != '$' || !latexOpens(rs, i) {
			plain = append(plain, rs[i])
			i++
			continue
		}
		j := closingDollar(rs, i)
		if j < 0 {
			plain = append(plain, rs[i])
			i++
			continue
		}
		flush()
		runs = append(runs, delta.Op{
			Insert:     delta.Placeholder,
			Attributes: delta.Attributes{delta.AttrLatex: string(rs[i+1 : j])},
		})
		i = j + 1
	}
	flush()
	return runs
}

func latexOpens(rs []rune, i int) bool {
	if i > 0 && (rs[i-1] == '\\' || unicode.IsDigit(rs[i-1])) {
		return false
	}
	if i+1 >= len(rs) {
		return false
	}
	next := rs[i+1]
	return next != ' ' && next != '$' && next != '\n' && !unicode.IsDigit(next)
}

func closingDollar(rs []rune, open int) int {
	for j := open + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\n':
			return -1
		case '$':
			if rs[j-1] == ' ' || rs[j-1] == '\\' {
				continue
			}
			if j+1 < len(rs) && unicode.IsDigit(rs[j+1]) {
				continue
			}
			return j
		}
	}
	return -1
}
