// Package config parses the capsentry configuration document: API definitions and
// per-package permissions, with [common]/[sandbox]/[api.*]/[pkg.*] sections.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// RawDocument is the parsed TOML tree before section-specific validation, mirroring the
// raw-then-derived-views layering used throughout the teacher's flag/config parsing.
type RawDocument struct {
	Common    Common                   `toml:"common"`
	Sandbox   Sandbox                  `toml:"sandbox"`
	ImportStd []string                 `toml:"import_std"`
	API       map[string]RawAPI        `toml:"api"`
	Pkg       map[string]RawPkg        `toml:"pkg"`
}

// Common holds the [common] section.
type Common struct {
	Version    int      `toml:"version"`
	Features   []string `toml:"features"`
	BuildFlags []string `toml:"build_flags"`
	Profile    string   `toml:"profile"`
}

// Sandbox holds the [sandbox] section. capsentry only parses and stores this section for
// the (out-of-scope) sandbox runner to consume; it is never interpreted here.
type Sandbox struct {
	Kind          string   `toml:"kind"`
	AllowNetwork  bool     `toml:"allow_network"`
	BindWritable  []string `toml:"bind_writable"`
	MakeWritable  []string `toml:"make_writable"`
}

// RawAPI holds one [api.<name>] section.
type RawAPI struct {
	Include      []string `toml:"include"`
	Exclude      []string `toml:"exclude"`
	NoAutoDetect bool     `toml:"no_auto_detect"`
}

// RawPkg holds one [pkg.<name>] section, including its nested scopes.
type RawPkg struct {
	AllowUnsafe       bool              `toml:"allow_unsafe"`
	AllowAPIs         []string          `toml:"allow_apis"`
	Import            []string          `toml:"import"`
	IgnoreUnreachable []string          `toml:"ignore_unreachable"`
	Build             *RawScope         `toml:"build"`
	Test              *RawScope         `toml:"test"`
	Dep               *RawDepScope      `toml:"dep"`
}

// RawScope holds a pkg.build or pkg.test nested table.
type RawScope struct {
	AllowUnsafe bool     `toml:"allow_unsafe"`
	AllowAPIs   []string `toml:"allow_apis"`
}

// RawDepScope holds the pkg.dep nested table, itself containing build/test.
type RawDepScope struct {
	Build *RawScope `toml:"build"`
	Test  *RawScope `toml:"test"`
}

// ParseError wraps a TOML parse failure or a semantic validation failure (e.g. an
// unknown import_std name). Configuration errors abort the whole build rather than
// being logged and continued past.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a TOML document's bytes into a RawDocument.
func Parse(path string, data []byte) (*RawDocument, error) {
	var doc RawDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &doc, nil
}
