package config

import (
	"fmt"
	"strings"

	"capsentry/apimatch"
	"capsentry/apimatch/stdbundle"
)

// Snapshot is the fully resolved, immutable configuration for one build: the API
// matcher plus the permission set, ported from original_source's Config/Checker split
// (config.rs owns the raw document, checker.rs owns the derived ApiMap). A fresh
// Snapshot is built on every reload; engine swaps its pointer atomically so in-flight
// analyses keep using the snapshot they started with (spec.md §9).
type Snapshot struct {
	Matcher     *apimatch.Matcher
	Permissions *Permissions
	APINames    []string
}

// normalizePath splits a dotted or "::"-separated path into segments, per spec.md
// §3's NamePath normalization ("." as the universal separator after normalization").
func normalizePath(s string) []string {
	s = strings.ReplaceAll(s, "::", ".")
	var out []string
	for _, seg := range strings.Split(s, ".") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// BuildSnapshot resolves a RawDocument into a Snapshot: expands import_std bundles,
// namespaces imported APIs by source crate, builds the apimatch trie, and applies
// permission inheritance.
func BuildSnapshot(doc *RawDocument) (*Snapshot, error) {
	m := apimatch.NewMatcher()
	var names []string

	known, unknown := stdbundle.Names(doc.ImportStd)
	if len(unknown) > 0 {
		return nil, &ParseError{Err: fmt.Errorf("unknown import_std name(s): %s", strings.Join(unknown, ", "))}
	}
	for _, name := range known {
		rule := stdbundle.Builtins[name]
		addRule(m, apimatch.Name(name), rule.Include, rule.Exclude)
		names = append(names, name)
	}

	for apiName, raw := range doc.API {
		addRule(m, apimatch.Name(apiName), raw.Include, raw.Exclude)
		names = append(names, apiName)
	}

	// pkg.<name>.import namespaces another crate's API names as "<crate>.<api>": the
	// importing crate gets to allow_apis that namespaced name, and the exported API's
	// rules are duplicated under the namespaced name so the matcher recognizes it.
	for pkgName, raw := range doc.Pkg {
		for _, imported := range raw.Import {
			crate, api, ok := splitImport(imported)
			if !ok {
				continue
			}
			namespaced := apimatch.Name(crate + "." + api)
			if srcRaw, ok := doc.API[api]; ok {
				addRule(m, namespaced, srcRaw.Include, srcRaw.Exclude)
			} else if rule, ok := stdbundle.Builtins[api]; ok {
				addRule(m, namespaced, rule.Include, rule.Exclude)
			}
			_ = pkgName
		}
	}

	return &Snapshot{
		Matcher:     m,
		Permissions: FromConfig(doc),
		APINames:    names,
	}, nil
}

func addRule(m *apimatch.Matcher, api apimatch.Name, include, exclude []string) {
	for _, inc := range include {
		m.AddInclude(api, normalizePath(inc))
	}
	for _, exc := range exclude {
		m.AddExclude(api, normalizePath(exc))
	}
}

// splitImport parses a pkg.import entry of the form "crate.api" or "crate::api".
func splitImport(s string) (crate, api string, ok bool) {
	s = strings.ReplaceAll(s, "::", ".")
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
