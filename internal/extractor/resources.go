package extractor

import (
	"regexp"

	"github.com/starford/decksync/internal/models"
)

// resourceLinkRe matches internal resource links such as ":/0123abcd" or ":0123abcd".
var resourceLinkRe = regexp.MustCompile(`:/?([A-Za-z0-9]+)`)

// resourceSet tracks the resources referenced by one item.
type resourceSet struct {
	known map[string]models.Resource
	used  []models.Resource
	seen  map[string]struct{}
}

func newResourceSet(attached []models.Resource) *resourceSet {
	known := make(map[string]models.Resource, len(attached))
	for _, r := range attached {
		known[r.ID] = r
	}
	return &resourceSet{known: known, seen: make(map[string]struct{})}
}

// rewrite replaces links to attached resources with their flat media
// filename and records each one once. Links to unknown ids are left alone.
func (rs *resourceSet) rewrite(s string) string {
	if len(rs.known) == 0 || s == "" {
		return s
	}
	return resourceLinkRe.ReplaceAllStringFunc(s, func(m string) string {
		id := resourceLinkRe.FindStringSubmatch(m)[1]
		r, ok := rs.known[id]
		if !ok {
			return m
		}
		if _, dup := rs.seen[id]; !dup {
			rs.seen[id] = struct{}{}
			rs.used = append(rs.used, r)
		}
		return r.Filename()
	})
}

// RewriteResources applies the resource link rewrite to a single string and
// returns the resources it referenced.
func RewriteResources(s string, attached []models.Resource) (string, []models.Resource) {
	rs := newResourceSet(attached)
	out := rs.rewrite(s)
	return out, rs.used
}
