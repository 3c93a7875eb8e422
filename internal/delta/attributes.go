package delta

import "encoding/json"

// Stylistic attribute keys. These span arbitrary ranges.
const (
	AttrBold      = "bold"
	AttrItalic    = "italic"
	AttrUnderline = "underline"
	AttrStrike    = "strike"
	AttrCode      = "code"
	AttrLink      = "link"
)

// Atomic attribute keys. These carry a structured payload and bind to a
// run of exactly one rune, which acts as the placeholder for the whole
// embedded object.
const (
	AttrReference = "reference"
	AttrFootnote  = "footnote"
	AttrLatex     = "latex"
)

// Placeholder is the insert character conventionally used for atomic
// runs.
const Placeholder = " "

var atomicAttrs = map[string]struct{}{
	AttrReference: {},
	AttrFootnote:  {},
	AttrLatex:     {},
}

func isAtomic(a Attributes) bool {
	for k := range a {
		if _, ok := atomicAttrs[k]; ok {
			return true
		}
	}
	return false
}

func atomicKey(a Attributes) (string, bool) {
	for k, v := range a {
		if v == nil {
			continue
		}
		if _, ok := atomicAttrs[k]; ok {
			return k, true
		}
	}
	return "", false
}

// ReferenceParams narrows an inline doc reference to a mode and specific
// block/element ids inside the target doc.
type ReferenceParams struct {
	Mode       string   `json:"mode,omitempty"`
	BlockIDs   []string `json:"blockIds,omitempty"`
	ElementIDs []string `json:"elementIds,omitempty"`
}

// Reference is the payload of an inline doc mention.
type Reference struct {
	Type   string           `json:"type"`
	PageID string           `json:"pageId"`
	Params *ReferenceParams `json:"params,omitempty"`
}

// FootnotePayload is the body of a footnote definition. Type selects
// which of the remaining fields apply: "url", "doc" or "attachment".
// Field order is part of the serialized form.
type FootnotePayload struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	DocID    string `json:"docId,omitempty"`
	BlobID   string `json:"blobId,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

// FootnoteRef is the attribute payload of a footnote citation run.
type FootnoteRef struct {
	Label     string          `json:"label"`
	Reference FootnotePayload `json:"reference"`
}

// LinkOf returns the link target of a run, if any.
func LinkOf(a Attributes) (string, bool) {
	s, ok := a[AttrLink].(string)
	return s, ok && s != ""
}

// LatexOf returns the latex source of an inline math run, if any.
func LatexOf(a Attributes) (string, bool) {
	s, ok := a[AttrLatex].(string)
	return s, ok && s != ""
}

// ReferenceOf decodes the reference payload of a run, tolerating both
// the typed struct and the generic map shape left by JSON decoding.
func ReferenceOf(a Attributes) (Reference, bool) {
	v, ok := a[AttrReference]
	if !ok || v == nil {
		return Reference{}, false
	}
	if r, ok := v.(Reference); ok {
		return r, true
	}
	var r Reference
	if !redecode(v, &r) || r.PageID == "" {
		return Reference{}, false
	}
	return r, true
}

// FootnoteOf decodes the footnote payload of a run.
func FootnoteOf(a Attributes) (FootnoteRef, bool) {
	v, ok := a[AttrFootnote]
	if !ok || v == nil {
		return FootnoteRef{}, false
	}
	if f, ok := v.(FootnoteRef); ok {
		return f, true
	}
	var f FootnoteRef
	if !redecode(v, &f) || f.Reference.Type == "" {
		return FootnoteRef{}, false
	}
	return f, true
}

func redecode(v any, into any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, into) == nil
}
