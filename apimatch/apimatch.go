// Package apimatch computes, for a canonicalized name path, the set of configured APIs
// it matches. Matching is backed by a trie keyed on path segments (one level per
// segment, mirroring a prefix tree rather than a per-character trie), ported from
// original_source's checker/api_map.rs ApiMap.
package apimatch

import (
	"capsentry/names"
)

// Name identifies one configured API, e.g. "process" or "othercrate.fs" for an API
// imported from another crate's namespace.
type Name string

type node struct {
	apis     map[Name]struct{}
	excludes map[Name]struct{}
	children map[string]*node
}

func newNode() *node {
	return &node{apis: map[Name]struct{}{}, children: map[string]*node{}}
}

// Matcher is an immutable-once-built trie of include/exclude prefix rules. A path
// matches an API if some prefix of its defining path matches an include rule for that
// API and no longer prefix matches an exclude rule for the same API (longest-exclude-
// wins), per spec.md §4.E.
type Matcher struct {
	root *node
}

// NewMatcher returns an empty Matcher; rules are added with AddInclude and AddExclude.
// Each prefix is a segment list ("std", "process") as produced by config parsing.
func NewMatcher() *Matcher {
	return &Matcher{root: newNode()}
}

// AddInclude registers prefix as an include rule for api.
func (m *Matcher) AddInclude(api Name, prefix []string) {
	m.createEntry(prefix).apis[api] = struct{}{}
}

// AddExclude registers prefix as an exclude rule for api. Excludes are stored as a
// negative marker at the same trie level; Match applies includes and excludes in
// root-to-leaf order, so a longer exclude overrides a shorter include with no separate
// rebuild step.
func (m *Matcher) AddExclude(api Name, prefix []string) {
	n := m.createEntry(prefix)
	if n.excludes == nil {
		n.excludes = map[Name]struct{}{}
	}
	n.excludes[api] = struct{}{}
}

func (m *Matcher) createEntry(path []string) *node {
	n := m.root
	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			child = newNode()
			n.children[seg] = child
		}
		n = child
	}
	return n
}

// Match returns the set of APIs that path's defining path matches, applying
// longest-exclude-wins: walking from the root toward the path's leaf, an API stays
// "active" once an include rule is crossed, and is deactivated by any deeper exclude
// rule for that same API, and reactivated by an even deeper include (longest rule of
// either kind wins along the walk).
func (m *Matcher) Match(path names.NamePath) map[Name]struct{} {
	active := map[Name]struct{}{}
	n := m.root
	applyNode(n, active)
	for i := 0; i < path.Len(); i++ {
		child, ok := n.children[path.Segment(i)]
		if !ok {
			break
		}
		n = child
		applyNode(n, active)
	}
	return active
}

func applyNode(n *node, active map[Name]struct{}) {
	for api := range n.apis {
		active[api] = struct{}{}
	}
	for api := range n.excludes {
		delete(active, api)
	}
}
