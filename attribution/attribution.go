// Package attribution implements the Attribution Engine (spec.md §4.H): it walks the
// reachable subgraph produced by symgraph, determines the source crate of each edge's
// caller, the APIs implied by the callee's names, applies the generic-instantiation
// correction rule, and emits (crate, api, location, backtrace) tuples as problem.Problem
// values after checking them against the configured permissions.
package attribution

import (
	"fmt"

	"capsentry/apimatch"
	"capsentry/config"
	"capsentry/cratemap"
	"capsentry/dwarfidx"
	"capsentry/names"
	"capsentry/problem"
	"capsentry/symgraph"
)

// DebugIndex is the subset of *dwarfidx.Index that attribution needs: resolving a
// linked address to a source location, and looking up a mangled name's DIE info.
// Defined as an interface so a synthetic fixture can stand in for a real DWARF index
// in tests (spec.md §8's scenario tests build graphs directly rather than compiling
// real binaries); *dwarfidx.Index satisfies it unchanged.
type DebugIndex interface {
	Lookup(addr uint64) (dwarfidx.Location, bool)
	SymbolDIE(mangledName string) (dwarfidx.DIEInfo, bool)
}

// Inputs bundles everything one linked output's attribution pass needs. All fields are
// read-only from this package's point of view: the Symbol Graph and Debug-Info Index
// are owned exclusively by the engine processing this one output (spec.md §5), while
// Matcher/Permissions/Interner are immutable for the life of the build.
type Inputs struct {
	Graph       *symgraph.Graph
	Reachable   symgraph.ReachableSet
	Roots       []int // the root set Reachable was computed from; needed for the ignore_unreachable secondary pass
	DebugIndex  DebugIndex
	CrateMap    *cratemap.Map
	Matcher     *apimatch.Matcher
	Permissions *config.Permissions
	Interner    *names.Interner
}

// Run performs one full attribution pass and returns every Problem it finds: policy
// violations (DisallowedApi) and attribution gaps (UnknownCrate, MissingDebugInfo).
// Problems are not yet sorted; callers call problem.List.Sort for
// Property 5's deterministic ordering.
func Run(in Inputs) problem.List {
	var probs problem.List
	bt := NewBacktracer(in.Graph, in.DebugIndex)

	reported := map[string]bool{} // dedup (crate, api, vertex) within one pass
	secondary := map[string]symgraph.ReachableSet{}
	candidates := in.CrateMap.Crates()

	for u := 0; u < in.Graph.NumVertices(); u++ {
		if !in.Reachable.Contains(u) {
			continue
		}
		uVertex := in.Graph.Vertex(u)
		loc, ok := locationOf(in, uVertex)
		if !ok {
			continue // dead-code fallback exhausted: spec.md §4.H step 1, "skip"
		}

		crates := in.CrateMap.CratesFor(loc.File)
		if len(crates) == 0 {
			probs.Add(problem.Problem{
				Kind:     problem.UnknownCrate,
				Severity: problem.SeverityWarning,
				Location: problem.Location{File: loc.File, Line: loc.Line, Column: loc.Column},
			})
			continue
		}

		activeCrates := make([]cratemap.ID, 0, len(crates))
		for _, crate := range crates {
			if ignoresUnreachableHere(in, secondary, candidates, crate.Package, u) {
				continue
			}
			activeCrates = append(activeCrates, crate)
		}
		if len(activeCrates) == 0 {
			continue
		}
		crates = activeCrates

		uDefining, _ := in.Interner.Split(uVertex.Name)
		uAPIs := in.Matcher.Match(uDefining)

		for _, to := range in.Graph.Edges(u) {
			apis, missingDebugInfo := referencedAPIs(in, to)
			if missingDebugInfo && len(apis) > 0 {
				key := "missing\x00" + fmt.Sprint(to)
				if !reported[key] {
					reported[key] = true
					probs.Add(problem.Problem{
						Kind:     problem.MissingDebugInfo,
						Severity: problem.SeverityWarning,
						Crate:    crates[0].String(),
						Location: problem.Location{File: loc.File, Line: loc.Line, Column: loc.Column},
						Detail:   "attribution fell back to a linkage name without DWARF debug info",
					})
				}
			}
			if len(apis) == 0 {
				continue
			}
			for _, crate := range crates {
				for api := range apis {
					if _, instantiatorOwns := uAPIs[api]; instantiatorOwns {
						// Generic-instantiation rule (spec.md §4.H step 3): u is
						// itself defined within this API's namespace, so the use
						// will be attributed at whichever call site instantiated
						// u, not here.
						continue
					}
					dedupKey := fmt.Sprintf("%s\x00%s\x00%s:%d:%d", crate, api, loc.File, loc.Line, loc.Column)
					if reported[dedupKey] {
						continue
					}
					if in.Permissions.AllowsAPI(crate.Package, string(api), scopeFor(crate.Kind)) {
						continue
					}
					reported[dedupKey] = true
					probs.Add(problem.Problem{
						Kind:      problem.DisallowedAPI,
						Severity:  problem.SeverityError,
						Crate:     crate.String(),
						API:       string(api),
						Location:  problem.Location{File: loc.File, Line: loc.Line, Column: loc.Column},
						Backtrace: bt.Trace(u),
					})
				}
			}
		}
	}
	return probs
}

// locationOf resolves u's source location via the linked address. A vertex with no
// linked address, or whose address the index cannot resolve, has no location: no
// DWARF name-only lookup is attempted, and the caller skips the vertex.
func locationOf(in Inputs, v *symgraph.Vertex) (dwarfidx.Location, bool) {
	if v.HasAddr {
		if loc, ok := in.DebugIndex.Lookup(v.Address); ok {
			return loc, true
		}
	}
	// Dead code that never made it into the linked binary has no image address, so
	// there is no way to recover a source file via the address map. A DWARF
	// name-only lookup (v.Name -> SymbolDIE) would at best recover a canonical
	// name, not a file, and the Crate-Membership Map keys strictly on source file
	// (spec.md §4.C) — so per spec.md §4.H step 1's fallback chain, this is the
	// point where attribution gives up and skips the edge.
	return dwarfidx.Location{}, false
}

// ignoresUnreachableHere reports whether pkg's configuration suppresses vertex u: pkg
// has named some crate as ignore_unreachable (config/permissions.go's IgnoresUnreachable)
// and u is reachable from the binary's real roots only via that crate's own entry
// points, per spec.md §4.G's per-crate secondary reachability pass. secondary caches one
// ReachableSet per crate name for the life of the pass; per SPEC_FULL.md §9's Open
// Question decision, the check only strips that crate's own root vertices, so it does
// not follow re-export chains into other crates' entry points.
func ignoresUnreachableHere(in Inputs, secondary map[string]symgraph.ReachableSet, candidates []string, pkg string, u int) bool {
	for _, other := range candidates {
		if !in.Permissions.IgnoresUnreachable(pkg, other) {
			continue
		}
		set, ok := secondary[other]
		if !ok {
			set = in.Graph.Reachable(rootsExcludingCrate(in, other))
			secondary[other] = set
		}
		if !set.Contains(u) {
			return true
		}
	}
	return false
}

// rootsExcludingCrate returns in.Roots with every root vertex owned by crate dropped.
// A root whose source location can't be resolved is kept, since its ownership is
// unknown and dropping it could suppress usage it has no business suppressing.
func rootsExcludingCrate(in Inputs, crate string) []int {
	filtered := make([]int, 0, len(in.Roots))
	for _, r := range in.Roots {
		loc, ok := locationOf(in, in.Graph.Vertex(r))
		if !ok {
			filtered = append(filtered, r)
			continue
		}
		owned := false
		for _, c := range in.CrateMap.CratesFor(loc.File) {
			if c.Package == crate {
				owned = true
				break
			}
		}
		if !owned {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// referencedAPIs collects the union of APIs implied by v's names, resolving anonymous
// chains to their terminal named symbols first (spec.md §4.F/§4.H step 2): the
// demangled linkage name, the DWARF canonical name, and each generic-argument path
// produced by the Name Splitter, each independently passed through the API Matcher.
func referencedAPIs(in Inputs, v int) (map[apimatch.Name]struct{}, bool) {
	apis := map[apimatch.Name]struct{}{}
	missingDebugInfo := false
	for _, t := range in.Graph.TerminalSymbols(v) {
		tv := in.Graph.Vertex(t)
		paths, hadDIE := namesFor(in, tv)
		if !hadDIE && tv.Name != "" {
			missingDebugInfo = true
		}
		for _, path := range paths {
			for api := range in.Matcher.Match(path) {
				apis[api] = struct{}{}
			}
		}
	}
	return apis, missingDebugInfo
}

func namesFor(in Inputs, v *symgraph.Vertex) ([]names.NamePath, bool) {
	var out []names.NamePath
	if v.Name != "" {
		defining, generics := in.Interner.Split(v.Name)
		if defining.Len() > 0 {
			out = append(out, defining)
		}
		out = append(out, generics...)
	}
	die, ok := in.DebugIndex.SymbolDIE(v.Name)
	if !ok {
		return out, false
	}
	if die.CanonicalName != "" && die.CanonicalName != v.Name {
		defining, generics := in.Interner.Split(die.CanonicalName)
		if defining.Len() > 0 {
			out = append(out, defining)
		}
		out = append(out, generics...)
	}
	for _, tp := range die.TypeParameters {
		p, _ := in.Interner.Split(tp)
		if p.Len() > 0 {
			out = append(out, p)
		}
	}
	return out, true
}

// scopeFor maps a crate's compilation kind to the permission scope its allow_apis are
// checked against, per spec.md §3's PermissionSet inheritance chain.
func scopeFor(kind cratemap.Kind) config.Scope {
	switch kind {
	case cratemap.KindBuildScript:
		return config.ScopeBuild
	case cratemap.KindTest:
		return config.ScopeTest
	default:
		return config.ScopeAll
	}
}
