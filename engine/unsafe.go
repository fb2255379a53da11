package engine

import (
	"go.uber.org/zap"

	"capsentry/config"
	"capsentry/problem"
	"capsentry/unsafescan"
)

// UnsafeReport describes one crate's reported unsafe-code usage, gathered either from
// the compiler's own forbid-unsafe diagnostic or from a lexical scan of its sources.
// Ported from original_source's UnsafeUsage RPC payload (proxy/rpc.rs).
type UnsafeReport struct {
	CrateName       string
	PackageName     string
	Scope           config.Scope
	CompilerFlagged bool
	SourceFiles     []string
}

// CheckUnsafeUsage reports whether a crate's unsafe usage is permitted. When the
// compiler itself flagged the crate (CompilerFlagged), that's authoritative and no
// further scan runs. Otherwise every source file is lexically scanned, since the
// forbid-unsafe compiler flag only catches unsafe blocks in code the compiler actually
// type-checks, not macro-discarded tokens or attributes like no_mangle.
func (e *Engine) CheckUnsafeUsage(report UnsafeReport) problem.List {
	var probs problem.List

	snap := e.snapshot.Load()
	if snap.Permissions.AllowsUnsafe(report.PackageName, report.Scope) {
		return probs
	}

	if report.CompilerFlagged {
		probs.Add(problem.Problem{
			Kind:     problem.DisallowedUnsafe,
			Severity: problem.SeverityError,
			Crate:    report.CrateName,
		})
		return probs
	}

	for _, path := range report.SourceFiles {
		locs, err := unsafescan.ScanFile(path)
		if err != nil {
			e.log.Warn("unsafe scan failed", zap.String("crate", report.CrateName), zap.String("file", path), zap.Error(err))
			continue
		}
		for _, loc := range locs {
			probs.Add(problem.Problem{
				Kind:     problem.DisallowedUnsafe,
				Severity: problem.SeverityError,
				Crate:    report.CrateName,
				Location: problem.Location{File: path, Line: loc.Line, Column: loc.Column},
			})
		}
	}
	return probs
}
