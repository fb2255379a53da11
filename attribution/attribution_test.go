package attribution

import (
	"testing"

	"capsentry/apimatch"
	"capsentry/config"
	"capsentry/cratemap"
	"capsentry/dwarfidx"
	"capsentry/names"
	"capsentry/problem"
	"capsentry/symgraph"
)

// fakeIndex is a hand-built DebugIndex fixture: spec.md §8's scenario tests construct
// graphs directly rather than compiling a real binary to get a real DWARF section.
type fakeIndex struct {
	locs map[uint64]dwarfidx.Location
	dies map[string]dwarfidx.DIEInfo
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{locs: map[uint64]dwarfidx.Location{}, dies: map[string]dwarfidx.DIEInfo{}}
}

func (f *fakeIndex) Lookup(addr uint64) (dwarfidx.Location, bool) {
	loc, ok := f.locs[addr]
	return loc, ok
}

func (f *fakeIndex) SymbolDIE(name string) (dwarfidx.DIEInfo, bool) {
	d, ok := f.dies[name]
	return d, ok
}

func permissionsAllowing(pkg string, apis ...string) *config.Permissions {
	return config.FromConfig(&config.RawDocument{
		Pkg: map[string]config.RawPkg{
			pkg: {AllowAPIs: apis},
		},
	})
}

func permissionsIgnoringUnreachable(pkg string, otherCrates ...string) *config.Permissions {
	return config.FromConfig(&config.RawDocument{
		Pkg: map[string]config.RawPkg{
			pkg: {IgnoreUnreachable: otherCrates},
		},
	})
}

func matcherFor(api string, prefixes ...[]string) *apimatch.Matcher {
	m := apimatch.NewMatcher()
	for _, p := range prefixes {
		m.AddInclude(apimatch.Name(api), p)
	}
	return m
}

// TestUnknownCrateWhenSourceNotInCrateMap exercises Property 2: crate_of(u) is either
// defined or the edge is tagged UnknownCrate.
func TestUnknownCrateWhenSourceNotInCrateMap(t *testing.T) {
	g := symgraph.New(nil)
	caller := g.VertexForSymbol("mycrate::foo")
	g.SetAddress(caller, 0x1000)

	idx := newFakeIndex()
	idx.locs[0x1000] = dwarfidx.Location{File: "src/foo.rs", Line: 1, Column: 1}

	reachable := g.Reachable([]int{caller})

	probs := Run(Inputs{
		Graph:       g,
		Reachable:   reachable,
		DebugIndex:  idx,
		CrateMap:    cratemap.NewMap(), // empty: no manifest names src/foo.rs
		Matcher:     apimatch.NewMatcher(),
		Permissions: config.FromConfig(&config.RawDocument{}),
		Interner:    names.NewInterner(),
	})

	if len(probs.Problems) != 1 || probs.Problems[0].Kind != problem.UnknownCrate {
		t.Fatalf("problems = %+v", probs.Problems)
	}
}

// TestDisallowedAPIReported exercises the core policy check: a crate referencing an
// API it wasn't granted is reported.
func TestDisallowedAPIReported(t *testing.T) {
	g := symgraph.New(nil)
	caller := g.VertexForSymbol("mycrate::foo")
	callee := g.VertexForSymbol("std::fs::read_to_string")
	g.AddEdge(caller, callee)
	g.SetAddress(caller, 0x1000)

	idx := newFakeIndex()
	idx.locs[0x1000] = dwarfidx.Location{File: "src/foo.rs", Line: 3, Column: 5}
	idx.dies["std::fs::read_to_string"] = dwarfidx.DIEInfo{CanonicalName: "std::fs::read_to_string"}

	crates := cratemap.NewMap()
	crates.AddManifest(cratemap.ID{Package: "mycrate"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "lib", Sources: []string{"src/foo.rs"}}},
	})

	reachable := g.Reachable([]int{caller})

	probs := Run(Inputs{
		Graph:       g,
		Reachable:   reachable,
		DebugIndex:  idx,
		CrateMap:    crates,
		Matcher:     matcherFor("fs", []string{"std", "fs"}),
		Permissions: config.FromConfig(&config.RawDocument{}), // mycrate allows nothing
		Interner:    names.NewInterner(),
	})

	if len(probs.Problems) != 1 {
		t.Fatalf("problems = %+v", probs.Problems)
	}
	p := probs.Problems[0]
	if p.Crate != "mycrate" || p.API != "fs" {
		t.Fatalf("problem = %+v", p)
	}
}

// TestIgnoreUnreachableSuppressesUsageOnlyThroughCratesOwnEntryPoint exercises the
// ignore_unreachable secondary reachability pass (spec.md §4.G): mycrate's only path
// from the real roots runs through tool's own entry point, so mycrate's fs usage is
// suppressed once mycrate configures ignore_unreachable = ["tool"].
func TestIgnoreUnreachableSuppressesUsageOnlyThroughCratesOwnEntryPoint(t *testing.T) {
	g := symgraph.New(nil)
	binMain := g.VertexForSymbol("bin::main")
	toolEntry := g.VertexForSymbol("tool::entry")
	caller := g.VertexForSymbol("mycrate::foo")
	callee := g.VertexForSymbol("std::fs::read_to_string")
	g.AddEdge(toolEntry, caller)
	g.AddEdge(caller, callee)
	g.SetAddress(binMain, 0x1000)
	g.SetAddress(toolEntry, 0x2000)
	g.SetAddress(caller, 0x3000)

	idx := newFakeIndex()
	idx.locs[0x1000] = dwarfidx.Location{File: "src/main.rs", Line: 1, Column: 1}
	idx.locs[0x2000] = dwarfidx.Location{File: "src/entry.rs", Line: 1, Column: 1}
	idx.locs[0x3000] = dwarfidx.Location{File: "src/foo.rs", Line: 3, Column: 5}
	idx.dies["std::fs::read_to_string"] = dwarfidx.DIEInfo{CanonicalName: "std::fs::read_to_string"}

	crates := cratemap.NewMap()
	crates.AddManifest(cratemap.ID{Package: "bin"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "bin", Sources: []string{"src/main.rs"}}},
	})
	crates.AddManifest(cratemap.ID{Package: "tool"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "tool", Sources: []string{"src/entry.rs"}}},
	})
	crates.AddManifest(cratemap.ID{Package: "mycrate"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "lib", Sources: []string{"src/foo.rs"}}},
	})

	roots := []int{binMain, toolEntry}
	reachable := g.Reachable(roots)

	probs := Run(Inputs{
		Graph:       g,
		Reachable:   reachable,
		Roots:       roots,
		DebugIndex:  idx,
		CrateMap:    crates,
		Matcher:     matcherFor("fs", []string{"std", "fs"}),
		Permissions: permissionsIgnoringUnreachable("mycrate", "tool"),
		Interner:    names.NewInterner(),
	})

	if len(probs.Problems) != 0 {
		t.Fatalf("expected ignore_unreachable to suppress usage, got %+v", probs.Problems)
	}
}

// TestIgnoreUnreachableDoesNotSuppressUsageReachableFromRealRoots confirms that when
// mycrate's usage is ALSO reachable without tool's entry point, ignore_unreachable
// doesn't suppress it.
func TestIgnoreUnreachableDoesNotSuppressUsageReachableFromRealRoots(t *testing.T) {
	g := symgraph.New(nil)
	binMain := g.VertexForSymbol("bin::main")
	toolEntry := g.VertexForSymbol("tool::entry")
	caller := g.VertexForSymbol("mycrate::foo")
	callee := g.VertexForSymbol("std::fs::read_to_string")
	g.AddEdge(binMain, caller)
	g.AddEdge(toolEntry, caller)
	g.AddEdge(caller, callee)
	g.SetAddress(binMain, 0x1000)
	g.SetAddress(toolEntry, 0x2000)
	g.SetAddress(caller, 0x3000)

	idx := newFakeIndex()
	idx.locs[0x1000] = dwarfidx.Location{File: "src/main.rs", Line: 1, Column: 1}
	idx.locs[0x2000] = dwarfidx.Location{File: "src/entry.rs", Line: 1, Column: 1}
	idx.locs[0x3000] = dwarfidx.Location{File: "src/foo.rs", Line: 3, Column: 5}
	idx.dies["std::fs::read_to_string"] = dwarfidx.DIEInfo{CanonicalName: "std::fs::read_to_string"}

	crates := cratemap.NewMap()
	crates.AddManifest(cratemap.ID{Package: "bin"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "bin", Sources: []string{"src/main.rs"}}},
	})
	crates.AddManifest(cratemap.ID{Package: "tool"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "tool", Sources: []string{"src/entry.rs"}}},
	})
	crates.AddManifest(cratemap.ID{Package: "mycrate"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "lib", Sources: []string{"src/foo.rs"}}},
	})

	roots := []int{binMain, toolEntry}
	reachable := g.Reachable(roots)

	probs := Run(Inputs{
		Graph:       g,
		Reachable:   reachable,
		Roots:       roots,
		DebugIndex:  idx,
		CrateMap:    crates,
		Matcher:     matcherFor("fs", []string{"std", "fs"}),
		Permissions: permissionsIgnoringUnreachable("mycrate", "tool"),
		Interner:    names.NewInterner(),
	})

	if len(probs.Problems) != 1 {
		t.Fatalf("expected usage reachable from bin::main to still be reported, got %+v", probs.Problems)
	}
}

// TestAllowedAPINotReported confirms a granted API produces no Problem.
func TestAllowedAPINotReported(t *testing.T) {
	g := symgraph.New(nil)
	caller := g.VertexForSymbol("mycrate::foo")
	callee := g.VertexForSymbol("std::fs::read_to_string")
	g.AddEdge(caller, callee)
	g.SetAddress(caller, 0x1000)

	idx := newFakeIndex()
	idx.locs[0x1000] = dwarfidx.Location{File: "src/foo.rs", Line: 3, Column: 5}
	idx.dies["std::fs::read_to_string"] = dwarfidx.DIEInfo{CanonicalName: "std::fs::read_to_string"}

	crates := cratemap.NewMap()
	crates.AddManifest(cratemap.ID{Package: "mycrate"}, &cratemap.Manifest{
		Targets: []cratemap.TargetEntry{{Target: "lib", Sources: []string{"src/foo.rs"}}},
	})

	reachable := g.Reachable([]int{caller})

	probs := Run(Inputs{
		Graph:       g,
		Reachable:   reachable,
		DebugIndex:  idx,
		CrateMap:    crates,
		Matcher:     matcherFor("fs", []string{"std", "fs"}),
		Permissions: permissionsAllowing("mycrate", "fs"),
		Interner:    names.NewInterner(),
	})

	if len(probs.Problems) != 0 {
		t.Fatalf("expected no problems, got %+v", probs.Problems)
	}
}
