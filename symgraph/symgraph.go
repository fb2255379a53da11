// Package symgraph implements the Symbol Graph (spec.md §4.F) and the Reachability
// Engine built on top of it (spec.md §4.G): vertices are symbols plus synthetic
// vertices for symbol-less ("anonymous") sections; edges are relocations, resolved
// through anonymous-section chains via a short DFS with cycle breaking. Grounded on
// original_source's symbol_graph.rs (SectionInfo/Reference/SymGraph shape) and, for the
// BFS reachability walk specifically, on the conceptual shape of a forward worklist
// closure (no third-party graph library appears in the retrieval pack for this).
package symgraph

import (
	"sort"

	"go.uber.org/zap"

	"capsentry/objectfile"
)

// Vertex is one node of the graph: either a named symbol (shared across every object
// that references it, matched by mangled name) or an anonymous section (scoped to the
// object that defines it, since it has no name other objects could reference by).
type Vertex struct {
	ID        int
	Name      string // empty for anonymous vertices
	ObjectID  string // object/archive-member that defines this vertex, for anonymous vertices
	Address   uint64 // final linked address, filled in once known; 0 until then
	HasAddr   bool
	Anonymous bool
	Section   *objectfile.Section
}

type sectionKey struct {
	objectID string
	index    int
}

// Graph is the arena that owns every Vertex; edges are index pairs into it, per
// spec.md §9's "Symbol Graph is an arena of vertices with integer indices."
type Graph struct {
	log          *zap.Logger
	vertices     []*Vertex
	bySymbol     map[string]int
	bySection    map[sectionKey]int
	out          []map[int]struct{} // out[v] = set of vertices v has an edge to (multi-edges collapsed)
	danglingRefs int
}

// New returns an empty Graph. log may be nil, in which case warnings are discarded.
func New(log *zap.Logger) *Graph {
	if log == nil {
		log = zap.NewNop()
	}
	return &Graph{log: log, bySymbol: map[string]int{}, bySection: map[sectionKey]int{}}
}

func (g *Graph) newVertex(v Vertex) int {
	v.ID = len(g.vertices)
	g.vertices = append(g.vertices, &v)
	g.out = append(g.out, nil)
	return v.ID
}

// VertexForSymbol returns (creating if necessary) the vertex for a named symbol,
// shared across every object that defines or references it.
func (g *Graph) VertexForSymbol(name string) int {
	if id, ok := g.bySymbol[name]; ok {
		return id
	}
	id := g.newVertex(Vertex{Name: name})
	g.bySymbol[name] = id
	return id
}

// VertexForSection returns (creating if necessary) the synthetic vertex for a
// symbol-less section, scoped to the object that defines it.
func (g *Graph) VertexForSection(objectID string, sec *objectfile.Section) int {
	key := sectionKey{objectID: objectID, index: sec.Index}
	if id, ok := g.bySection[key]; ok {
		return id
	}
	id := g.newVertex(Vertex{ObjectID: objectID, Anonymous: true, Section: sec})
	g.bySection[key] = id
	return id
}

// Vertex returns the vertex with the given id.
func (g *Graph) Vertex(id int) *Vertex { return g.vertices[id] }

// NumVertices returns the number of vertices in the arena.
func (g *Graph) NumVertices() int { return len(g.vertices) }

// AddEdge records an edge from -> to, collapsing multi-edges per spec.md §3.
func (g *Graph) AddEdge(from, to int) {
	if g.out[from] == nil {
		g.out[from] = map[int]struct{}{}
	}
	g.out[from][to] = struct{}{}
}

// Edges returns the (deduplicated) out-edges of vertex id.
func (g *Graph) Edges(id int) []int {
	m := g.out[id]
	out := make([]int, 0, len(m))
	for to := range m {
		out = append(out, to)
	}
	sort.Ints(out)
	return out
}

// AddObject scans one object's symbols and relocations into the graph. objectID
// identifies the object ("archive:member" for archive members, per spec.md §4.A).
func (g *Graph) AddObject(objectID string, view *objectfile.ObjectView) error {
	symbols, err := view.Symbols()
	if err != nil {
		return err
	}
	relocs, err := view.Relocations()
	if err != nil {
		return err
	}

	// Build per-section sorted-by-offset symbol lists to find "the lowest-addressed
	// symbol that covers the relocation offset" (spec.md §4.F).
	bySection := map[*objectfile.Section][]*objectfile.Symbol{}
	for _, sym := range symbols {
		if sym.Section != nil {
			bySection[sym.Section] = append(bySection[sym.Section], sym)
		}
	}
	for _, syms := range bySection {
		sort.Slice(syms, func(i, j int) bool { return syms[i].Offset < syms[j].Offset })
	}

	for _, sym := range symbols {
		if sym.Section != nil || sym.Undefined {
			g.VertexForSymbol(sym.Name)
		}
	}

	for _, r := range relocs {
		fromVertex := g.coveringVertex(objectID, r, bySection)
		toVertex, ok := g.targetVertex(objectID, r)
		if !ok {
			g.danglingRefs++
			continue
		}
		g.AddEdge(fromVertex, toVertex)
	}
	return nil
}

func (g *Graph) coveringVertex(objectID string, r *objectfile.Relocation, bySection map[*objectfile.Section][]*objectfile.Symbol) int {
	syms := bySection[r.Source]
	if len(syms) == 0 {
		return g.VertexForSection(objectID, r.Source)
	}
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Offset > r.Offset })
	if i == 0 {
		return g.VertexForSection(objectID, r.Source)
	}
	return g.VertexForSymbol(syms[i-1].Name)
}

func (g *Graph) targetVertex(objectID string, r *objectfile.Relocation) (int, bool) {
	switch {
	case r.TargetSymbol != nil:
		return g.VertexForSymbol(r.TargetSymbol.Name), true
	case r.TargetSection != nil:
		return g.VertexForSection(objectID, r.TargetSection), true
	default:
		return 0, false
	}
}

// SetAddress records the final linked address of a vertex, once known from the linked
// binary's symbol table (used by attribution to map u -> source location via the
// Debug-Info Index, and by the Reachability Engine's Property 1 check).
func (g *Graph) SetAddress(id int, addr uint64) {
	g.vertices[id].Address = addr
	g.vertices[id].HasAddr = true
}

// TerminalSymbols resolves v to the set of named symbols ultimately reachable by
// following anonymous-section chains, preserving the intermediate anonymous vertex in
// the graph itself (spec.md §4.F) while giving attribution a de-duplicated, sorted
// view of which named symbols an anonymous blob (a vtable, a static, a string
// constant) ultimately leads to. The walk is redone on every call; nothing is cached.
// A cycle among anonymous sections is cut where the walk reaches a vertex already on
// its stack, with a warning logged; the cut is not placed at the lowest-addressed
// section, and every named symbol reachable through the cycle is still returned.
func (g *Graph) TerminalSymbols(v int) []int {
	if !g.vertices[v].Anonymous {
		return []int{v}
	}
	visited := map[int]bool{}
	onStack := map[int]bool{}
	seenTerminal := map[int]bool{}
	var terminals []int
	var walk func(id int)
	walk = func(id int) {
		if onStack[id] {
			g.log.Warn("anonymous section reference cycle broken", zap.Int("vertex", id))
			return
		}
		if visited[id] {
			return
		}
		visited[id] = true
		onStack[id] = true
		for _, to := range g.Edges(id) {
			if g.vertices[to].Anonymous {
				walk(to)
			} else if !seenTerminal[to] {
				seenTerminal[to] = true
				terminals = append(terminals, to)
			}
		}
		onStack[id] = false
	}
	walk(v)
	sort.Ints(terminals)
	return terminals
}
