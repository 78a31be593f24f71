package resolver

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gobans/pkg/model"
)

const (
	steamA = "76561198000000001"
	steamB = "76561198000000002"
	steamC = "76561198000000003"
)

func roster() []model.Player {
	return []model.Player{
		{ID: steamA, Name: "John", SquadID: "1", TeamID: 1},
		{ID: steamB, Name: "Johnny", SquadID: "1", TeamID: 1},
		{ID: steamC, Name: "Johnson", SquadID: "2", TeamID: 2},
	}
}

func names(players []model.Player) []string {
	var out []string
	for _, p := range players {
		out = append(out, p.Name)
	}
	return out
}

func mustNew(t *testing.T, opts Options) *Resolver {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return r
}

func TestResolveByNameFragment(t *testing.T) {
	type tcase struct {
		bound    float64
		players  []model.Player
		fragment string
		want     []string
	}

	tests := map[string]tcase{
		"default bound matches all": {
			players:  roster(),
			fragment: "John",
			want:     []string{"John", "Johnny", "Johnson"},
		},
		"tight bound drops long name": {
			bound:    1.6,
			players:  roster(),
			fragment: "John",
			want:     []string{"John", "Johnny"},
		},
		"case insensitive": {
			players:  roster(),
			fragment: "jOHNS",
			want:     []string{"Johnson"},
		},
		"unicode folding": {
			players:  []model.Player{{ID: "1", Name: "STRASSE"}, {ID: "2", Name: "Größe"}},
			fragment: "gröSSE",
			want:     []string{"Größe"},
		},
		"empty fragment": {
			players:  roster(),
			fragment: "",
			want:     nil,
		},
		"short fragment hits ratio bound": {
			players:  []model.Player{{ID: "1", Name: "Alexander"}},
			fragment: "al",
			want:     nil,
		},
		"no match": {
			players:  roster(),
			fragment: "XYZ",
			want:     nil,
		},
		"rune length not byte length": {
			bound:    1,
			players:  []model.Player{{ID: "1", Name: "ÉÉÉ"}},
			fragment: "ééé",
			want:     []string{"ÉÉÉ"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := mustNew(t, Options{RatioBound: tc.bound})
			got := names(r.ResolveByNameFragment(tc.players, tc.fragment))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ResolveByNameFragment(%q) mismatch (-want +got):\n%s", tc.fragment, diff)
			}
		})
	}
}

func TestResolveByExactID(t *testing.T) {
	r := mustNew(t, Options{})

	got := r.ResolveByExactID(roster(), steamB)
	if got.Name != "Johnny" {
		t.Errorf("ResolveByExactID(online) = %+v", got)
	}

	offline := "76561198999999999"
	got = r.ResolveByExactID(roster(), offline)
	if diff := cmp.Diff(model.UnknownPlayer(offline), got); diff != "" {
		t.Errorf("ResolveByExactID(offline) mismatch (-want +got):\n%s", diff)
	}
}

func TestLooksLikeID(t *testing.T) {
	r := mustNew(t, Options{})
	tests := map[string]bool{
		steamA:              true,
		"7656119800000000":  false,
		"765611980000000011": false,
		"John":              false,
		"SHA256:uNiVztksCsDhcc0u9e8BujQXVUpKZIDTMczCvj3tD2s": true,
		"SHA256:short": false,
		"":             false,
	}
	for token, want := range tests {
		if got := r.LooksLikeID(token); got != want {
			t.Errorf("LooksLikeID(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	r := mustNew(t, Options{})

	if got := r.Resolve(roster(), steamC); len(got) != 1 || got[0].Name != "Johnson" {
		t.Errorf("Resolve(id) = %+v", got)
	}
	if got := r.Resolve(nil, steamC); len(got) != 1 || !got[0].IsPlaceholder() {
		t.Errorf("Resolve(offline id) = %+v, want placeholder", got)
	}
	if got := r.Resolve(roster(), "Johnny"); len(got) != 1 || got[0].ID != steamB {
		t.Errorf("Resolve(name) = %+v", got)
	}
}

func TestNewCustomPattern(t *testing.T) {
	r := mustNew(t, Options{IDPattern: `^#\d+$`})
	if !r.LooksLikeID("#42") || r.LooksLikeID(steamA) {
		t.Errorf("custom pattern not applied")
	}
	if _, err := New(Options{IDPattern: "("}); err == nil {
		t.Errorf("New with invalid pattern: expected error")
	}
	if _, err := New(Options{RatioBound: -1}); err == nil {
		t.Errorf("New with negative bound: expected error")
	}
}
