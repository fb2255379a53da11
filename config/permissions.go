package config

import "sort"

// Scope identifies which phase of a package's build a permission set applies to,
// mirroring original_source's PermissionScope: All, Build, Test, FromBuild (as seen by
// a dependent's build script), FromTest (as seen by a dependent's test binary).
type Scope int

const (
	ScopeAll Scope = iota
	ScopeBuild
	ScopeTest
	ScopeFromBuild
	ScopeFromTest
)

func (s Scope) String() string {
	switch s {
	case ScopeBuild:
		return "build"
	case ScopeTest:
		return "test"
	case ScopeFromBuild:
		return "dep.build"
	case ScopeFromTest:
		return "dep.test"
	default:
		return "all"
	}
}

// parentScope returns the scope a given scope inherits unset fields from, and false if
// it has no parent. ScopeAll is the root of the inheritance chain.
func (s Scope) parentScope() (Scope, bool) {
	switch s {
	case ScopeBuild:
		return ScopeFromBuild, true
	case ScopeTest:
		return ScopeFromTest, true
	case ScopeFromBuild, ScopeFromTest:
		return ScopeAll, true
	default:
		return 0, false
	}
}

// PackageSelector names a package plus the scope a PackageConfig applies within.
type PackageSelector struct {
	Package string
	Scope   Scope
}

// PackageConfig is one package's resolved permissions within a single scope, after
// inheritance has been applied.
type PackageConfig struct {
	AllowUnsafe       bool
	AllowAPIs         []string
	Import            []string
	IgnoreUnreachable []string
}

func (p *PackageConfig) merge(parent PackageConfig) {
	if !p.AllowUnsafe {
		p.AllowUnsafe = parent.AllowUnsafe
	}
	p.AllowAPIs = unionSorted(p.AllowAPIs, parent.AllowAPIs)
	p.Import = unionSorted(p.Import, parent.Import)
	p.IgnoreUnreachable = unionSorted(p.IgnoreUnreachable, parent.IgnoreUnreachable)
}

func unionSorted(a, b []string) []string {
	set := map[string]struct{}{}
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Permissions is the fully resolved, inheritance-applied permission set for every
// package named by the configuration. It is immutable once built.
type Permissions struct {
	byKey map[PackageSelector]PackageConfig
}

// FromConfig builds Permissions from a parsed RawDocument, applying the inheritance
// chain pkg -> pkg.dep.build -> pkg.build (and symmetrically for test), ported from
// original_source's apply_inheritance.
func FromConfig(doc *RawDocument) *Permissions {
	p := &Permissions{byKey: map[PackageSelector]PackageConfig{}}
	for name, raw := range doc.Pkg {
		base := PackageConfig{
			AllowUnsafe:       raw.AllowUnsafe,
			AllowAPIs:         append([]string(nil), raw.AllowAPIs...),
			Import:            append([]string(nil), raw.Import...),
			IgnoreUnreachable: append([]string(nil), raw.IgnoreUnreachable...),
		}
		p.byKey[PackageSelector{Package: name, Scope: ScopeAll}] = base

		var depBuild, depTest *RawScope
		if raw.Dep != nil {
			depBuild, depTest = raw.Dep.Build, raw.Dep.Test
		}

		fromBuild := scopeOrEmpty(depBuild)
		fromBuild.merge(base)
		p.byKey[PackageSelector{Package: name, Scope: ScopeFromBuild}] = fromBuild

		fromTest := scopeOrEmpty(depTest)
		fromTest.merge(base)
		p.byKey[PackageSelector{Package: name, Scope: ScopeFromTest}] = fromTest

		build := scopeOrEmpty(raw.Build)
		build.merge(fromBuild)
		p.byKey[PackageSelector{Package: name, Scope: ScopeBuild}] = build

		test := scopeOrEmpty(raw.Test)
		test.merge(fromTest)
		p.byKey[PackageSelector{Package: name, Scope: ScopeTest}] = test
	}
	return p
}

func scopeOrEmpty(s *RawScope) PackageConfig {
	if s == nil {
		return PackageConfig{}
	}
	return PackageConfig{AllowUnsafe: s.AllowUnsafe, AllowAPIs: append([]string(nil), s.AllowAPIs...)}
}

// For returns the resolved PackageConfig for a package in a scope, and whether the
// package was named in the configuration at all.
func (p *Permissions) For(pkg string, scope Scope) (PackageConfig, bool) {
	cfg, ok := p.byKey[PackageSelector{Package: pkg, Scope: scope}]
	return cfg, ok
}

// AllowsAPI reports whether pkg is permitted to use api in the given scope.
func (p *Permissions) AllowsAPI(pkg, api string, scope Scope) bool {
	cfg, ok := p.For(pkg, scope)
	if !ok {
		return false
	}
	for _, a := range cfg.AllowAPIs {
		if a == api {
			return true
		}
	}
	return false
}

// AllowsUnsafe reports whether pkg is permitted to use unsafe code in the given scope.
func (p *Permissions) AllowsUnsafe(pkg string, scope Scope) bool {
	cfg, ok := p.For(pkg, scope)
	return ok && cfg.AllowUnsafe
}

// IgnoresUnreachable reports whether pkg has configured the named crate as
// ignore_unreachable (usages reachable only through that crate's own entry points are
// suppressed, per spec.md §9's Open Question decision: not applied transitively across
// re-exports).
func (p *Permissions) IgnoresUnreachable(pkg, otherCrate string) bool {
	cfg, ok := p.For(pkg, ScopeAll)
	if !ok {
		return false
	}
	for _, c := range cfg.IgnoreUnreachable {
		if c == otherCrate {
			return true
		}
	}
	return false
}
