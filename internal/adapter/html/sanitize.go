package html

import (
	"github.com/microcosm-cc/bluemonday"
)

// sanitizer strips dangerous markup from imported HTML before it is
// converted. Safe for concurrent use.
type sanitizer struct {
	policy *bluemonday.Policy
}

// newSanitizer allows common user-generated formatting while stripping
// scripts, event handlers and javascript: URLs.
func newSanitizer() *sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowDataURIImages()
	return &sanitizer{policy: policy}
}

func (s *sanitizer) sanitize(html string) string {
	return s.policy.Sanitize(html)
}
