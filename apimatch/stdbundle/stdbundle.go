// Package stdbundle holds the built-in API bundle expanded by a configuration
// document's top-level import_std entries, ported from original_source's
// config/built_in.rs get_built_ins.
package stdbundle

// Rule is one include or exclude prefix list for a built-in API.
type Rule struct {
	Include []string
	Exclude []string
}

// Builtins maps API name to its built-in include/exclude prefix rules.
var Builtins = map[string]Rule{
	"fs": {
		Include: []string{
			"std.fs",
			"std.os.linux.fs",
			"std.os.unix.fs",
			"std.os.unix.io",
			"std.os.wasi.fs",
			"std.os.wasi.io",
			"std.os.windows.fs",
			"std.os.windows.io",
			"std.path",
		},
	},
	"env": {
		Include: []string{"std.env"},
	},
	"net": {
		Include: []string{"std.net", "std.os.wasi.net", "std.os.windows.net"},
	},
	"unix_sockets": {
		Include: []string{"std.os.unix.net"},
	},
	"process": {
		Include: []string{"std.process", "std.unix.process", "std.windows.process"},
		Exclude: []string{"std.process.abort", "std.process.exit"},
	},
	"terminate": {
		Include: []string{"std.process.abort", "std.process.exit"},
	},
}

// Names returns the built-in API names referenced by an import_std list. Unknown
// names are returned as a second value so the caller (config) can surface a
// configuration error (spec.md §7: "unknown import_std name" aborts the build).
func Names(importStd []string) (known []string, unknown []string) {
	for _, name := range importStd {
		if _, ok := Builtins[name]; ok {
			known = append(known, name)
		} else {
			unknown = append(unknown, name)
		}
	}
	return known, unknown
}
