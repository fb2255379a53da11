package rpcwire

import "capsentry/problem"

// FromProblems converts a problem.List into its wire representation for sending back
// to the wrapper process.
func FromProblems(linkedOutput string, probs problem.List) Problems {
	out := Problems{LinkedOutput: linkedOutput}
	for _, p := range probs.Problems {
		pj := ProblemJSON{
			Kind:     p.Kind.String(),
			Severity: p.Severity.String(),
			Crate:    p.Crate,
			API:      p.API,
			File:     p.Location.File,
			Line:     p.Location.Line,
			Column:   p.Location.Column,
			Detail:   p.Detail,
		}
		for _, f := range p.Backtrace {
			pj.Backtrace = append(pj.Backtrace, FrameJSON{
				Name:    f.Name,
				File:    f.Location.File,
				Line:    f.Location.Line,
				Column:  f.Location.Column,
				Inlined: f.Inlined,
			})
		}
		out.Problems = append(out.Problems, pj)
	}
	return out
}
