// Package problem defines the reportable outcomes of an analysis pass: disallowed API
// usage, unsafe code, configuration issues, and internal degradations.
package problem

import (
	"fmt"
	"sort"
)

// Severity distinguishes problems that should fail a build from advisory notes.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityNote:
		return "note"
	default:
		return "warning"
	}
}

// Kind identifies the shape of a Problem. Each Kind documents which of Problem's
// optional fields it populates.
type Kind int

const (
	// DisallowedAPI: Crate, API, Location, Backtrace populated. A crate referenced an
	// API it is not permitted to use.
	DisallowedAPI Kind = iota
	// DisallowedUnsafe: Crate, Location populated. A crate used unsafe code without
	// permission.
	DisallowedUnsafe
	// UnknownCrate: Location populated, Crate empty. A symbol could not be attributed
	// to any known crate.
	UnknownCrate
	// MissingDebugInfo: Crate populated. Attribution fell back to a linkage name
	// because DWARF info for the symbol was absent or split out-of-file.
	MissingDebugInfo
	// Degraded: Crate may be populated. A linked output could not be fully analyzed
	// (malformed object, missing dependency manifest) but analysis continued.
	Degraded
	// Internal: a failure confined to one linked output (e.g. its debug-info index
	// could not be built).
	Internal
	// UnusedAllowAPI: Crate, API populated. A configured allow-list entry matched
	// nothing actually used.
	UnusedAllowAPI
	// Note: Crate may be populated. Advisory information, such as a discarded weak
	// symbol conflict.
	Note
)

func (k Kind) String() string {
	switch k {
	case DisallowedAPI:
		return "disallowed-api"
	case DisallowedUnsafe:
		return "disallowed-unsafe"
	case UnknownCrate:
		return "unknown-crate"
	case MissingDebugInfo:
		return "missing-debug-info"
	case Degraded:
		return "degraded"
	case Internal:
		return "internal"
	case UnusedAllowAPI:
		return "unused-allow-api"
	case Note:
		return "note"
	default:
		return "unknown"
	}
}

// Location names a source position a Problem is attributed to.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// Frame is one entry of a reconstructed backtrace, innermost frame first.
type Frame struct {
	Name     string
	Location Location
	Inlined  bool
}

// Problem is a single reportable finding, produced by the attribution engine or by an
// earlier stage that could not make forward progress on part of its input.
type Problem struct {
	Kind     Kind
	Severity Severity
	Crate    string
	API      string
	Location Location
	Backtrace []Frame
	Detail   string
}

func (p Problem) String() string {
	switch {
	case p.API != "" && p.Crate != "":
		return fmt.Sprintf("%s: %s: crate %q uses disallowed API %q at %s", p.Severity, p.Kind, p.Crate, p.API, p.Location)
	case p.Crate != "":
		return fmt.Sprintf("%s: %s: crate %q at %s: %s", p.Severity, p.Kind, p.Crate, p.Location, p.Detail)
	default:
		return fmt.Sprintf("%s: %s at %s: %s", p.Severity, p.Kind, p.Location, p.Detail)
	}
}

// List is an ordered collection of Problems. Sort produces a deterministic total order
// so that two runs over the same inputs produce byte-identical reports (Property 5).
type List struct {
	Problems []Problem
}

func (l *List) Add(p Problem) {
	l.Problems = append(l.Problems, p)
}

func (l *List) AddAll(other List) {
	l.Problems = append(l.Problems, other.Problems...)
}

// Promote raises every Warning-severity problem to Error. Used to implement
// FailOnWarnings.
func (l *List) Promote() {
	for i := range l.Problems {
		if l.Problems[i].Severity == SeverityWarning {
			l.Problems[i].Severity = SeverityError
		}
	}
}

// HasErrors reports whether any problem in the list is an Error.
func (l List) HasErrors() bool {
	for _, p := range l.Problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Sort orders problems by (Crate, Kind, API, Location.File, Location.Line,
// Location.Column) to make report output deterministic regardless of the concurrency
// used to produce it.
func (l *List) Sort() {
	sort.SliceStable(l.Problems, func(i, j int) bool {
		a, b := l.Problems[i], l.Problems[j]
		if a.Crate != b.Crate {
			return a.Crate < b.Crate
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.API != b.API {
			return a.API < b.API
		}
		if a.Location.File != b.Location.File {
			return a.Location.File < b.Location.File
		}
		if a.Location.Line != b.Location.Line {
			return a.Location.Line < b.Location.Line
		}
		return a.Location.Column < b.Location.Column
	})
}
