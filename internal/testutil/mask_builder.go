package testutil

import (
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/rle"
)

// Grid builds a grid from rows of '#' (foreground) and '.' (background).
func Grid(rows ...string) rle.Grid {
	if len(rows) == 0 {
		return rle.Grid{}
	}
	g := rle.NewGrid(len(rows), len(rows[0]))
	for y, row := range rows {
		for x, c := range row {
			g.Set(y, x, c == '#')
		}
	}
	return g
}

// MaskBuilder provides a fluent helper for constructing masks in tests.
// Example:
//
//	m := NewMaskBuilder().Rows("##..", "##..").Score(0.8).Round(2).Build()
type MaskBuilder struct {
	grid   rle.Grid
	score  float64
	round  int
	phrase string
	index  int
}

// NewMaskBuilder creates a builder with score 0.5, round 1 and a 1x1 empty grid.
func NewMaskBuilder() *MaskBuilder {
	return &MaskBuilder{grid: rle.NewGrid(1, 1), score: 0.5, round: 1, phrase: "object"}
}

// Rows sets the mask pixels (chainable).
func (b *MaskBuilder) Rows(rows ...string) *MaskBuilder { b.grid = Grid(rows...); return b }

// Grid sets the mask pixels from a grid (chainable).
func (b *MaskBuilder) Grid(g rle.Grid) *MaskBuilder { b.grid = g; return b }

// Score sets the confidence (chainable).
func (b *MaskBuilder) Score(s float64) *MaskBuilder { b.score = s; return b }

// Round sets the producing round (chainable).
func (b *MaskBuilder) Round(r int) *MaskBuilder { b.round = r; return b }

// Phrase sets the source phrase (chainable).
func (b *MaskBuilder) Phrase(p string) *MaskBuilder { b.phrase = p; return b }

// Index sets the run-scoped index (chainable).
func (b *MaskBuilder) Index(i int) *MaskBuilder { b.index = i; return b }

// Build returns the mask with its encoding and tight bounding box.
func (b *MaskBuilder) Build() core.Mask {
	m := core.Mask{
		Index:  b.index,
		RLE:    rle.Encode(b.grid),
		Height: b.grid.Height,
		Width:  b.grid.Width,
		Score:  b.score,
		Phrase: b.phrase,
		Round:  b.round,
	}
	if x, y, w, h, ok := b.grid.Bounds(); ok {
		m.Box = core.Box{float64(x), float64(y), float64(w), float64(h)}
	}
	return m
}
