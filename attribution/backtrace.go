package attribution

import (
	"capsentry/problem"
	"capsentry/symgraph"
)

// Backtracer reconstructs, for a given vertex, the longest chain of reverse edges
// leading back toward a root — ported from original_source's
// symbol_graph/backtrace.rs Backtracer::find_frames ("longest sequence of addresses
// leading to bin_location... just a guess that it's likely to be the most
// interesting").
type Backtracer struct {
	graph    *symgraph.Graph
	idx      DebugIndex
	backRefs map[int][]int
}

// NewBacktracer builds the reverse-edge index once for a graph, to be reused across
// every Problem emitted for one linked output.
func NewBacktracer(g *symgraph.Graph, idx DebugIndex) *Backtracer {
	back := make(map[int][]int, g.NumVertices())
	for v := 0; v < g.NumVertices(); v++ {
		for _, to := range g.Edges(v) {
			back[to] = append(back[to], v)
		}
	}
	return &Backtracer{graph: g, idx: idx, backRefs: back}
}

// Trace returns the backtrace for vertex v, innermost frame (v itself) first.
func (b *Backtracer) Trace(v int) []problem.Frame {
	visited := map[int]bool{}
	var best, candidate []int

	var walk func(id int)
	walk = func(id int) {
		if visited[id] {
			return
		}
		visited[id] = true
		candidate = append(candidate, id)
		if refs := b.backRefs[id]; len(refs) > 0 {
			for _, ref := range refs {
				walk(ref)
			}
		} else if len(candidate) > len(best) {
			best = append(best[:0:0], candidate...)
		}
		candidate = candidate[:len(candidate)-1]
	}
	walk(v)

	frames := make([]problem.Frame, 0, len(best))
	for _, id := range best {
		vert := b.graph.Vertex(id)
		frame := problem.Frame{Name: vert.Name}
		if vert.HasAddr {
			if loc, ok := b.idx.Lookup(vert.Address); ok {
				frame.Location = problem.Location{File: loc.File, Line: loc.Line, Column: loc.Column}
			}
		}
		frames = append(frames, frame)
	}
	return frames
}
