package engine

import (
	"os"
	"testing"

	"capsentry/config"
	"capsentry/problem"
)

func newTestEngine(t *testing.T, doc *config.RawDocument) *Engine {
	t.Helper()
	snap, err := config.BuildSnapshot(doc)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return New(snap, Options{}, nil)
}

func TestCheckUnsafeUsageCompilerFlaggedDisallowed(t *testing.T) {
	e := newTestEngine(t, &config.RawDocument{})
	probs := e.CheckUnsafeUsage(UnsafeReport{
		CrateName:       "a",
		PackageName:     "a",
		Scope:           config.ScopeAll,
		CompilerFlagged: true,
	})
	if len(probs.Problems) != 1 || probs.Problems[0].Kind != problem.DisallowedUnsafe {
		t.Fatalf("problems = %+v", probs.Problems)
	}
}

func TestCheckUnsafeUsageAllowedProducesNothing(t *testing.T) {
	e := newTestEngine(t, &config.RawDocument{
		Pkg: map[string]config.RawPkg{"a": {AllowUnsafe: true}},
	})
	probs := e.CheckUnsafeUsage(UnsafeReport{
		CrateName:       "a",
		PackageName:     "a",
		Scope:           config.ScopeAll,
		CompilerFlagged: true,
	})
	if len(probs.Problems) != 0 {
		t.Fatalf("expected no problems, got %+v", probs.Problems)
	}
}

func TestCheckUnsafeUsageScanFindsToken(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/lib.rs"
	if err := os.WriteFile(path, []byte("fn f() {\n    unsafe { do_it(); }\n}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := newTestEngine(t, &config.RawDocument{})
	probs := e.CheckUnsafeUsage(UnsafeReport{
		CrateName:   "a",
		PackageName: "a",
		Scope:       config.ScopeAll,
		SourceFiles: []string{path},
	})
	if len(probs.Problems) != 1 || probs.Problems[0].Location.Line != 2 {
		t.Fatalf("problems = %+v", probs.Problems)
	}
}
