package snapshot

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/store"
)

// DocProvider resolves sibling documents of the workspace, needed when
// an embedded doc is expanded inline during export.
type DocProvider interface {
	Doc(pageID string) (*store.Doc, bool)
}

// Middleware customizes a job before conversions run, usually by
// writing adapter config entries. Middlewares run in registration order
// and must be idempotent; a job may re-apply its chain.
type Middleware func(*Job)

// Job is the shared context of one conversion: schema, assets, doc
// lookup and the string config map adapters read. A job is built per
// conversion and not shared across goroutines.
type Job struct {
	Schema *schema.Registry
	Assets AssetsManager
	Docs   DocProvider

	// AdapterConfigs carries middleware-provided settings as plain
	// strings, keyed by the Config* constants.
	AdapterConfigs map[string]string

	log         *slog.Logger
	middlewares []Middleware
}

// NewJob builds a job and applies the middleware chain. A nil logger
// falls back to slog.Default().
func NewJob(reg *schema.Registry, log *slog.Logger, mws ...Middleware) *Job {
	if log == nil {
		log = slog.Default()
	}
	j := &Job{
		Schema:         reg,
		AdapterConfigs: make(map[string]string),
		log:            log,
		middlewares:    mws,
	}
	j.Apply()
	return j
}

// Apply re-runs the middleware chain in order.
func (j *Job) Apply() {
	for _, mw := range j.middlewares {
		mw(j)
	}
}

// Use appends a middleware and applies it immediately.
func (j *Job) Use(mw Middleware) {
	j.middlewares = append(j.middlewares, mw)
	mw(j)
}

// Config returns one adapter config value, "" when unset.
func (j *Job) Config(key string) string {
	return j.AdapterConfigs[key]
}

// ConfigInt returns a numeric adapter config value, or def when unset
// or unparsable.
func (j *Job) ConfigInt(key string, def int) int {
	s := j.AdapterConfigs[key]
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Log returns the job logger.
func (j *Job) Log() *slog.Logger { return j.log }

// Adapter config keys written by the built-in middlewares.
const (
	ConfigDocLinkBaseURL = "docLinkBaseUrl"
	ConfigWorkspaceID    = "workspaceId"
	ConfigFrontmatter    = "docMeta:frontmatter"
	ConfigSyncedDocDepth = "embedSyncedDoc:maxDepth"

	configDocRewritePrefix = "docRewrite:"
)

// DocLinkBaseURL sets the base used when doc references are rendered as
// links, e.g. "https://example.com/workspace/abc".
func DocLinkBaseURL(base string) Middleware {
	base = strings.TrimRight(base, "/")
	return func(j *Job) {
		j.AdapterConfigs[ConfigDocLinkBaseURL] = base
	}
}

// WorkspaceID stamps slice snapshots with their workspace.
func WorkspaceID(id string) Middleware {
	return func(j *Job) {
		j.AdapterConfigs[ConfigWorkspaceID] = id
	}
}

// FrontmatterMeta makes the markdown adapter carry doc meta as YAML
// frontmatter instead of a leading heading.
func FrontmatterMeta() Middleware {
	return func(j *Job) {
		j.AdapterConfigs[ConfigFrontmatter] = "true"
	}
}

// SyncedDocDepth bounds recursive embedded-doc expansion during export.
func SyncedDocDepth(n int) Middleware {
	return func(j *Job) {
		j.AdapterConfigs[ConfigSyncedDocDepth] = strconv.Itoa(n)
	}
}

// DocRewrite registers doc id rewrite rules applied on top of the
// import remap table, for re-pointing references at import time.
func DocRewrite(rules map[string]string) Middleware {
	return func(j *Job) {
		for old, to := range rules {
			j.AdapterConfigs[configDocRewritePrefix+old] = to
		}
	}
}

// docRewrites collects middleware-registered rewrite rules.
func (j *Job) docRewrites() map[string]string {
	out := make(map[string]string)
	for k, v := range j.AdapterConfigs {
		if old, ok := strings.CutPrefix(k, configDocRewritePrefix); ok {
			out[old] = v
		}
	}
	return out
}
