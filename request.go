package autoextract

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is one extraction request. The wire format is a JSON object with
// url and pageType required, a handful of well-known optional fields, and an
// open-ended extra map merged in last — see Serialize.
type Request struct {
	URL      string `validate:"required,url"`
	PageType string `validate:"required"`

	// Meta is an opaque correlation tag the server echoes back unchanged.
	Meta string

	// ArticleBodyRaw overrides the server's default (true) with the
	// library's own default (false) unless the caller sets it explicitly.
	// nil means "use the library default", not "omit the field".
	ArticleBodyRaw *bool

	// FullHtml is a true tri-state: nil means the field is omitted from the
	// wire payload entirely, letting the server apply its own default.
	FullHtml *bool

	// Extra holds additional server parameters merged into the serialized
	// dict last, so an Extra key overrides any of the named fields above.
	Extra map[string]any
}

// Bool returns a pointer to v, for populating ArticleBodyRaw/FullHtml.
func Bool(v bool) *bool { return &v }

// Validate checks the required fields via validator/v10 struct tags.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("autoextract: invalid request: %w", err)
	}
	return nil
}

// Serialize renders r as the wire-format dict: required fields, then
// ArticleBodyRaw (defaulted to false when unset), then FullHtml and Meta
// only if set, then Extra merged last so its keys win over everything above.
func (r Request) Serialize() map[string]any {
	articleBodyRaw := false
	if r.ArticleBodyRaw != nil {
		articleBodyRaw = *r.ArticleBodyRaw
	}

	out := map[string]any{
		"url":            r.URL,
		"pageType":       r.PageType,
		"articleBodyRaw": articleBodyRaw,
	}
	if r.Meta != "" {
		out["meta"] = r.Meta
	}
	if r.FullHtml != nil {
		out["fullHtml"] = *r.FullHtml
	}
	for k, v := range r.Extra {
		out[k] = v
	}
	return out
}

// Query is an ordered sequence of extraction requests, submitted and batched
// together. (*Client).ExtractRaw lets a caller bypass the typed Request
// entirely and submit already-serialized dicts (e.g. re-read from a JSONL
// file).
type Query []Request

// Serialize renders every Request in q to its wire-format dict, in order.
func (q Query) Serialize() ([]map[string]any, error) {
	out := make([]map[string]any, len(q))
	for i, r := range q {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("autoextract: query item %d: %w", i, err)
		}
		out[i] = r.Serialize()
	}
	return out, nil
}
