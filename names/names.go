// Package names demangles and splits symbol names into a defining path plus any
// generic-argument paths, ported from original_source's NamesIterator to operate on
// already-demangled text.
package names

import (
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// Interner hash-consens path segment strings so equal segments share one pointer,
// matching the membership-test performance original_source relies on its Arc<str>
// sharing for. It is safe for concurrent use.
type Interner struct {
	mu   sync.Mutex
	seen map[string]*string
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{seen: map[string]*string{}}
}

func (in *Interner) intern(s string) *string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if p, ok := in.seen[s]; ok {
		return p
	}
	cp := s
	in.seen[s] = &cp
	return &cp
}

// NamePath is a sequence of "::" / "." separated path segments, e.g. the defining path
// of a function or the path of a generic type argument.
type NamePath struct {
	segments []*string
}

// String renders the path using "::" as original_source's diagnostics do.
func (p NamePath) String() string {
	parts := make([]string, len(p.segments))
	for i, s := range p.segments {
		parts[i] = *s
	}
	return strings.Join(parts, "::")
}

// HasPrefix reports whether other's segments are a prefix of p's segments.
func (p NamePath) HasPrefix(other NamePath) bool {
	if len(other.segments) > len(p.segments) {
		return false
	}
	for i, s := range other.segments {
		if *s != *p.segments[i] {
			return false
		}
	}
	return true
}

// Len reports the number of path segments.
func (p NamePath) Len() int { return len(p.segments) }

// Segment returns the i'th path segment.
func (p NamePath) Segment(i int) string { return *p.segments[i] }

// Split demangles raw (if it looks mangled) and splits the result into a defining path
// plus the path of each generic argument found along the way. Split never errors:
// malformed input simply yields an empty defining path.
func (in *Interner) Split(raw string) (defining NamePath, generics []NamePath) {
	text := raw
	if looksMangled(raw) {
		if demangled := demangle.Filter(raw); demangled != raw {
			text = demangled
		}
	}
	return splitDemangled(in, text)
}

func looksMangled(s string) bool {
	return strings.HasPrefix(s, "_ZN") || strings.HasPrefix(s, "_Z") || strings.HasPrefix(s, "_R")
}

// splitDemangled tokenizes demangled text into the defining path (every top-level
// segment, with generic-argument lists left out, up to the first top-level
// function-call paren) and the path of each generic argument, tracking angle-bracket depth the way original_source's
// NamesIterator tracks brace depth for `as`-casts and closures.
func splitDemangled(in *Interner, text string) (NamePath, []NamePath) {
	var defining []*string
	var generics []NamePath
	var cur strings.Builder
	depth := 0
	var genericStart int = -1

	flushSegment := func(dst *[]*string) {
		seg := strings.TrimSpace(cur.String())
		cur.Reset()
		if seg == "" {
			return
		}
		*dst = append(*dst, in.intern(seg))
	}

	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '<':
			if depth == 0 {
				flushSegment(&defining)
				genericStart = i + 1
			}
			depth++
		case c == '>':
			depth--
			if depth == 0 && genericStart >= 0 {
				inner := text[genericStart:i]
				for _, arg := range splitTopLevelCommas(inner) {
					argPath, _ := splitDemangled(in, strings.TrimSpace(arg))
					if argPath.Len() > 0 {
						generics = append(generics, argPath)
					}
				}
				genericStart = -1
			}
		case c == ':' && depth == 0 && i+1 < len(text) && text[i+1] == ':':
			flushSegment(&defining)
			i++
		case c == '(' && depth == 0:
			// Function-call parens terminate the defining path; arguments inside are
			// not part of it (they're call-site types, not the callee's own path).
			flushSegment(&defining)
			i = len(text)
			continue
		default:
			if depth == 0 {
				cur.WriteByte(c)
			}
		}
		i++
	}
	flushSegment(&defining)

	return NamePath{segments: defining}, generics
}

// splitTopLevelCommas splits s on commas that are not nested inside another angle
// bracket or paren group.
func splitTopLevelCommas(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
