package problem

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestListSortDeterministic(t *testing.T) {
	l := List{Problems: []Problem{
		{Kind: DisallowedAPI, Crate: "zeta", API: "fs"},
		{Kind: DisallowedAPI, Crate: "alpha", API: "net"},
		{Kind: DisallowedUnsafe, Crate: "alpha"},
		{Kind: DisallowedAPI, Crate: "alpha", API: "fs"},
	}}
	l.Sort()

	want := []string{"alpha", "alpha", "alpha", "zeta"}
	var got []string
	for _, p := range l.Problems {
		got = append(got, p.Crate)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestPromote(t *testing.T) {
	l := List{Problems: []Problem{
		{Kind: UnknownCrate, Severity: SeverityWarning},
		{Kind: DisallowedAPI, Severity: SeverityError},
	}}
	l.Promote()
	for _, p := range l.Problems {
		if p.Severity == SeverityWarning {
			t.Fatalf("expected no warnings left after Promote, got %+v", p)
		}
	}
	if !l.HasErrors() {
		t.Fatal("expected HasErrors to be true")
	}
}
