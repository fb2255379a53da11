package apimatch

import (
	"testing"

	"capsentry/names"
)

func TestIncludeMatchesPrefixAndDescendants(t *testing.T) {
	m := NewMatcher()
	m.AddInclude("fs", []string{"std", "fs"})

	in := names.NewInterner()
	p, _ := in.Split("std::fs::read_to_string")

	active := m.Match(p)
	if _, ok := active["fs"]; !ok {
		t.Fatalf("expected fs to match, got %v", active)
	}
}

func TestExcludeRemovesNarrowerMatch(t *testing.T) {
	m := NewMatcher()
	m.AddInclude("fs", []string{"std", "fs"})
	m.AddExclude("fs", []string{"std", "fs", "read_to_string"})

	in := names.NewInterner()

	broad, _ := in.Split("std::fs::write")
	if _, ok := m.Match(broad)["fs"]; !ok {
		t.Fatalf("expected std::fs::write to still match fs")
	}

	narrow, _ := in.Split("std::fs::read_to_string")
	if _, ok := m.Match(narrow)["fs"]; ok {
		t.Fatalf("expected std::fs::read_to_string to be excluded")
	}
}

// TestMonotonicity exercises Property 4: extending a matched path with more segments
// never removes an API that was already active at a shorter prefix, unless a more
// specific exclude rule applies exactly at (or above) the longer prefix.
func TestMonotonicity(t *testing.T) {
	m := NewMatcher()
	m.AddInclude("fs", []string{"std", "fs"})

	in := names.NewInterner()
	shallow, _ := in.Split("std::fs")
	deep, _ := in.Split("std::fs::read_to_string")

	shallowActive := m.Match(shallow)
	deepActive := m.Match(deep)

	for api := range shallowActive {
		if _, ok := deepActive[api]; !ok {
			t.Fatalf("API %q active at %q but not at deeper path %q", api, shallow, deep)
		}
	}
}

func TestLongestExcludeWins(t *testing.T) {
	m := NewMatcher()
	m.AddInclude("net", []string{"std", "net"})
	m.AddExclude("net", []string{"std", "net", "udp"})
	m.AddInclude("net", []string{"std", "net", "udp", "UdpSocket", "connect"})

	in := names.NewInterner()
	p, _ := in.Split("std::net::udp::UdpSocket::connect")
	if _, ok := m.Match(p)["net"]; !ok {
		t.Fatalf("expected the more specific re-include at connect to win")
	}

	sibling, _ := in.Split("std::net::udp::UdpSocket::bind")
	if _, ok := m.Match(sibling)["net"]; ok {
		t.Fatalf("expected bind to remain excluded under the udp exclude")
	}
}
