package board

import (
	"errors"
	"slices"
	"testing"

	"github.com/hopdot/hopdot-server/pkg/proto"
)

func TestBuild_RejectsDegenerateLayouts(t *testing.T) {
	cases := []struct {
		name string
		spec LayoutSpec
	}{
		{name: "zero by zero", spec: LayoutSpec{Width: 0, Height: 0}},
		{name: "single position", spec: LayoutSpec{Width: 1, Height: 1}},
		{name: "zero width", spec: LayoutSpec{Width: 0, Height: 5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.spec)
			if !errors.Is(err, ErrInvalidLayout) {
				t.Fatalf("want ErrInvalidLayout, got %v", err)
			}
		})
	}
}

func TestBuild_DiamondAdjacency(t *testing.T) {
	// A 2x2 grid is the 4-node diamond: d0-d1, d0-d2, d1-d3, d2-d3.
	b, err := Build(LayoutSpec{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if b.Len() != 4 {
		t.Fatalf("want 4 positions, got %d", b.Len())
	}

	cases := []struct {
		a, c     proto.Position
		adjacent bool
	}{
		{"d0", "d1", true},
		{"d0", "d2", true},
		{"d1", "d3", true},
		{"d2", "d3", true},
		{"d0", "d3", false}, // diagonals don't touch
		{"d1", "d2", false},
	}
	for _, tc := range cases {
		if got := b.Adjacent(tc.a, tc.c); got != tc.adjacent {
			t.Errorf("Adjacent(%s, %s) = %v, want %v", tc.a, tc.c, got, tc.adjacent)
		}
		if got := b.Adjacent(tc.c, tc.a); got != tc.adjacent {
			t.Errorf("Adjacent(%s, %s) = %v, want %v (symmetry)", tc.c, tc.a, got, tc.adjacent)
		}
	}
}

func TestBuild_NeighborCounts(t *testing.T) {
	b, err := Build(LayoutSpec{Width: 3, Height: 3})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	cases := []struct {
		pos  proto.Position
		want int
	}{
		{"d0", 2}, // corner
		{"d1", 3}, // edge
		{"d4", 4}, // center
		{"d8", 2}, // opposite corner
	}
	for _, tc := range cases {
		if got := len(b.Neighbors(tc.pos)); got != tc.want {
			t.Errorf("neighbors of %s: got %d, want %d", tc.pos, got, tc.want)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	spec := LayoutSpec{Width: 5, Height: 3}
	a, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	b, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if !slices.Equal(a.Positions(), b.Positions()) {
		t.Fatalf("position order differs between identical builds")
	}
	for _, p := range a.Positions() {
		if !slices.Equal(a.Neighbors(p), b.Neighbors(p)) {
			t.Fatalf("neighbors of %s differ between identical builds", p)
		}
	}
}

func TestContains(t *testing.T) {
	b, err := Build(LayoutSpec{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !b.Contains("d3") {
		t.Fatalf("expected board to contain d3")
	}
	if b.Contains("d4") {
		t.Fatalf("d4 is outside a 2x2 board")
	}
	if b.Contains(proto.PlacementSource) {
		t.Fatalf("placement sentinel must never be a board position")
	}
}
