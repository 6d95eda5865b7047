// Package board builds the immutable position graph a session plays on.
// Construction is deterministic for a given layout so client and server can
// derive identical boards from the same spec without shipping the graph.
package board

import (
	"errors"
	"fmt"

	"github.com/hopdot/hopdot-server/pkg/proto"
)

var ErrInvalidLayout = errors.New("invalid layout")

// LayoutSpec describes a rectangular grid of dots with orthogonal adjacency.
type LayoutSpec struct {
	Width  uint8 `json:"width"`
	Height uint8 `json:"height"`
}

type Board struct {
	spec      LayoutSpec
	positions []proto.Position
	adjacency map[proto.Position][]proto.Position
}

// PositionAt returns the id of the dot at (x, y). Ids are stable across
// replicas: row-major index prefixed with "d".
func PositionAt(spec LayoutSpec, x, y uint8) proto.Position {
	return proto.Position(fmt.Sprintf("d%d", int(y)*int(spec.Width)+int(x)))
}

// Build constructs the board for spec. Degenerate layouts (fewer than 2
// reachable positions) fail with ErrInvalidLayout.
func Build(spec LayoutSpec) (*Board, error) {
	total := int(spec.Width) * int(spec.Height)
	if total < 2 {
		return nil, fmt.Errorf("%w: %dx%d grid has %d positions", ErrInvalidLayout, spec.Width, spec.Height, total)
	}

	b := &Board{
		spec:      spec,
		positions: make([]proto.Position, 0, total),
		adjacency: make(map[proto.Position][]proto.Position, total),
	}
	for y := uint8(0); y < spec.Height; y++ {
		for x := uint8(0); x < spec.Width; x++ {
			p := PositionAt(spec, x, y)
			b.positions = append(b.positions, p)
			var adj []proto.Position
			if y > 0 {
				adj = append(adj, PositionAt(spec, x, y-1))
			}
			if x > 0 {
				adj = append(adj, PositionAt(spec, x-1, y))
			}
			if x < spec.Width-1 {
				adj = append(adj, PositionAt(spec, x+1, y))
			}
			if y < spec.Height-1 {
				adj = append(adj, PositionAt(spec, x, y+1))
			}
			b.adjacency[p] = adj
		}
	}

	if reached := b.reachableFrom(b.positions[0]); reached < total {
		return nil, fmt.Errorf("%w: only %d of %d positions reachable", ErrInvalidLayout, reached, total)
	}
	return b, nil
}

func (b *Board) Spec() LayoutSpec { return b.spec }

func (b *Board) Len() int { return len(b.positions) }

// Positions returns all positions in deterministic (row-major) order.
// Callers must not mutate the returned slice.
func (b *Board) Positions() []proto.Position { return b.positions }

func (b *Board) Contains(p proto.Position) bool {
	_, ok := b.adjacency[p]
	return ok
}

// Neighbors returns the positions adjacent to p, in deterministic order.
// Unknown positions have no neighbors.
func (b *Board) Neighbors(p proto.Position) []proto.Position {
	return b.adjacency[p]
}

func (b *Board) Adjacent(a, c proto.Position) bool {
	for _, n := range b.adjacency[a] {
		if n == c {
			return true
		}
	}
	return false
}

func (b *Board) reachableFrom(start proto.Position) int {
	visited := map[proto.Position]bool{start: true}
	queue := []proto.Position{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range b.adjacency[cur] {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return len(visited)
}
