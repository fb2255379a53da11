// Package engine wires Components A-H (spec.md §4) into the one-shot pipeline that
// runs over each linked output: parse its input objects and the output itself, build
// the Symbol Graph, compute reachability, run attribution, and report Problems. It is
// the only package that owns a *symgraph.Graph or *dwarfidx.Index at a time — both are
// discarded once one linked output's Problems are reported, per spec.md §3's lifecycle
// rule. Grounded on the teacher's vulncheck.Binary/vulncheck.Source shape ("run the
// analysis, return a Result") and on internal/worker/server.go's errgroup fan-out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"capsentry/attribution"
	"capsentry/config"
	"capsentry/cratemap"
	"capsentry/dwarfidx"
	"capsentry/names"
	"capsentry/objectfile"
	"capsentry/problem"
	"capsentry/symgraph"
)

// LinkOutput describes one linked artifact to analyze: the artifact itself plus the
// input objects that went into it, as the wrapper layer would report them over
// rpcwire after intercepting a link invocation (spec.md §6).
type LinkOutput struct {
	// Path is the linked binary or shared object to open for its final symbol
	// addresses and DWARF debug info.
	Path string
	// ObjectPaths are standalone relocatable objects linked into Path.
	ObjectPaths []string
	// ArchivePaths are static archives (rlib-equivalents) linked into Path; each
	// member is parsed as its own object (spec.md §4.A).
	ArchivePaths []string
	// EntrySymbol is the binary's entry point symbol name, one Reachability Engine
	// root (spec.md §4.G).
	EntrySymbol string
	// DynamicSymbols are the names exported through the dynamic symbol table,
	// also roots.
	DynamicSymbols []string
	IsProcMacro    bool
}

// Result is the outcome of analyzing one LinkOutput.
type Result struct {
	Output   LinkOutput
	State    LinkOutputState
	Problems problem.List
	Err      error
}

// Engine holds the state that persists across an entire build: the configuration
// snapshot, the accumulated crate-membership map, and the name interner, all shared
// across concurrently analyzed linked outputs (spec.md §5): the snapshot is immutable,
// and the crate map and interner each guard their own state with a lock.
type Engine struct {
	snapshot atomic.Pointer[config.Snapshot]
	interner *names.Interner

	cratesMu sync.RWMutex
	crates   *cratemap.Map

	opts Options
	log  *zap.Logger
}

// New returns an Engine ready to analyze linked outputs once a configuration
// snapshot has been loaded.
func New(snap *config.Snapshot, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		interner: names.NewInterner(),
		crates:   cratemap.NewMap(),
		opts:     opts,
		log:      log,
	}
	e.snapshot.Store(snap)
	return e
}

// ReloadConfig atomically replaces the active configuration snapshot. In-flight
// analyses keep using the snapshot they loaded at the start of AnalyzeOne, matching
// spec.md §9's "a fresh snapshot invalidates in-flight analyses" (the invalidation is
// advisory to the caller, not enforced mid-pass: a pass that's already running to
// completion with a stale snapshot is simply a Result the caller may choose to
// discard).
func (e *Engine) ReloadConfig(snap *config.Snapshot) {
	e.snapshot.Store(snap)
}

// LoadManifest merges one crate's dependency manifest into the build-wide
// crate-membership map (spec.md §4.C). Safe to call concurrently with
// AnalyzeLinkedOutputs; a manifest loaded after a pass has already read CratesFor for
// a given output won't retroactively apply to that pass's Result.
func (e *Engine) LoadManifest(crate cratemap.ID, manifest *cratemap.Manifest) {
	e.cratesMu.Lock()
	defer e.cratesMu.Unlock()
	e.crates.AddManifest(crate, manifest)
}

// AnalyzeLinkedOutputs analyzes every output concurrently, one goroutine per output
// (spec.md §5). A failure analyzing one output never aborts the others: each result's
// own Err/Problems records what happened to it.
func (e *Engine) AnalyzeLinkedOutputs(ctx context.Context, outputs []LinkOutput) ([]Result, error) {
	results := make([]Result, len(outputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, out := range outputs {
		i, out := i, out
		g.Go(func() error {
			results[i] = e.AnalyzeOne(gctx, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AnalyzeOne runs the full Opened -> Reported pipeline for a single linked output.
func (e *Engine) AnalyzeOne(ctx context.Context, out LinkOutput) Result {
	res := Result{Output: out, State: StateOpened}

	snap := e.snapshot.Load()
	if snap == nil {
		res.Err = errors.New("engine: no configuration snapshot loaded")
		return res
	}

	linkedView, err := objectfile.Open(out.Path)
	if err != nil {
		res.Err = fmt.Errorf("opening linked output: %w", err)
		return res
	}

	graph := symgraph.New(e.log)

	var (
		dbgIndex *dwarfidx.Index
		objViews []*objectfile.ObjectView
		parseErr error
		mu       sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		idx, err := dwarfidx.Build(out.Path, linkedView.ELF())
		if err != nil {
			return fmt.Errorf("building debug-info index: %w", err)
		}
		dbgIndex = idx
		return nil
	})
	for _, p := range out.ObjectPaths {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			view, err := objectfile.Open(p)
			if err != nil {
				mu.Lock()
				parseErr = multierror.Append(parseErr, fmt.Errorf("%s: %w", p, err))
				mu.Unlock()
				return nil // one malformed input degrades this output, doesn't abort it
			}
			mu.Lock()
			objViews = append(objViews, view)
			mu.Unlock()
			return nil
		})
	}
	for _, p := range out.ArchivePaths {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			views, err := objectfile.OpenArchive(p)
			if err != nil {
				mu.Lock()
				parseErr = multierror.Append(parseErr, fmt.Errorf("%s: %w", p, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			objViews = append(objViews, views...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		res.Err = err
		res.Problems.Add(problem.Problem{Kind: problem.Internal, Severity: problem.SeverityError, Detail: err.Error()})
		return res
	}
	if dbgIndex == nil {
		res.Err = fmt.Errorf("engine: no debug-info index built for %s", out.Path)
		return res
	}
	if parseErr != nil {
		res.Problems.Add(problem.Problem{Kind: problem.Degraded, Severity: problem.SeverityWarning, Detail: parseErr.Error()})
	}

	// Fan in: the graph itself is built single-threaded, matching spec.md §5's
	// "fanning in to the single-threaded symgraph/attribution pass."
	for _, view := range objViews {
		if err := graph.AddObject(view.ID, view); err != nil {
			res.Problems.Add(problem.Problem{Kind: problem.Degraded, Severity: problem.SeverityWarning, Detail: err.Error()})
		}
	}
	res.State = StateObjectsParsed

	linkedSymbols, err := linkedView.Symbols()
	if err != nil {
		res.Err = fmt.Errorf("reading linked output symbols: %w", err)
		return res
	}
	for _, sym := range linkedSymbols {
		if sym.Name == "" || sym.Section == nil {
			continue
		}
		graph.SetAddress(graph.VertexForSymbol(sym.Name), sym.Section.Addr+sym.Offset)
	}
	res.State = StateGraphBuilt

	dynSyms, _ := linkedView.DynamicSymbols()
	dynNames := make([]string, 0, len(dynSyms))
	for _, s := range dynSyms {
		dynNames = append(dynNames, s.Name)
	}
	roots := graph.DynamicRoots(out.EntrySymbol, dynNames, out.IsProcMacro)
	reachable := graph.Reachable(roots)
	res.State = StateReachabilityComputed

	e.cratesMu.RLock()
	crates := e.crates
	e.cratesMu.RUnlock()

	probs := attribution.Run(attribution.Inputs{
		Graph:       graph,
		Reachable:   reachable,
		Roots:       roots,
		DebugIndex:  dbgIndex,
		CrateMap:    crates,
		Matcher:     snap.Matcher,
		Permissions: snap.Permissions,
		Interner:    e.interner,
	})
	res.State = StateAttributed
	res.Problems.AddAll(probs)

	if e.opts.FailOnWarnings {
		res.Problems.Promote()
	}
	res.Problems.Sort()
	res.State = StateReported
	return res
}
