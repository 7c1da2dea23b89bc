package core

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/infection-simulator/model"
)

// Pair is an unordered pair of population indices with I < J.
type Pair struct {
	I, J int
}

// SpatialIndex buckets actors into a uniform grid so contact candidates only
// come from an actor's own cell and its eight neighbours. It is rebuilt from
// scratch on every query.
type SpatialIndex struct {
	bounds    orb.Bound
	cellSize  float64
	cols      int
	rows      int
	threshold int

	cells [][]int
	// used lists the cells filled by the last query so clearing is
	// proportional to the population rather than the grid.
	used []int
	// scratch reused across queries to avoid per-step allocation.
	cand []int
}

// maxCells caps the grid size for tiny radii in huge arenas.
const maxCells = 1 << 16

// NewSpatialIndex creates a grid covering bounds. Cells are at least twice
// maxRadius wide so any touching pair shares a cell or a neighbour. Below
// threshold alive actors the index checks pairs directly.
func NewSpatialIndex(bounds orb.Bound, maxRadius float64, threshold int) *SpatialIndex {
	width := bounds.Max[0] - bounds.Min[0]
	height := bounds.Max[1] - bounds.Min[1]

	cellSize := 2 * maxRadius
	if !(cellSize > 0) {
		cellSize = math.Max(width, height)
	}
	cols, rows := gridDims(width, height, cellSize)
	for cols*rows > maxCells {
		cellSize = math.Max(cellSize*1.5, math.Sqrt(width*height/maxCells))
		cols, rows = gridDims(width, height, cellSize)
	}

	// Cell slices are allocated on first use.
	return &SpatialIndex{
		bounds:    bounds,
		cellSize:  cellSize,
		cols:      cols,
		rows:      rows,
		threshold: threshold,
		cells:     make([][]int, cols*rows),
	}
}

func gridDims(width, height, cellSize float64) (cols, rows int) {
	return int(math.Ceil(width/cellSize)) + 1, int(math.Ceil(height/cellSize)) + 1
}

// CellSize returns the grid cell edge length.
func (g *SpatialIndex) CellSize() float64 { return g.cellSize }

// Pairs returns every unordered pair of alive actors whose centres are no
// further apart than the sum of their radii. Pairs are sorted by (I, J) so
// the result is identical whichever lookup strategy ran.
func (g *SpatialIndex) Pairs(actors []*model.Actor) []Pair {
	alive := 0
	for _, a := range actors {
		if a.Alive() {
			alive++
		}
	}
	if alive < 2 {
		return nil
	}
	if alive < g.threshold {
		return directPairs(actors)
	}
	return g.gridPairs(actors)
}

func directPairs(actors []*model.Actor) []Pair {
	var out []Pair
	for i := 0; i < len(actors); i++ {
		if !actors[i].Alive() {
			continue
		}
		for j := i + 1; j < len(actors); j++ {
			if actors[j].Alive() && touching(actors[i], actors[j]) {
				out = append(out, Pair{I: i, J: j})
			}
		}
	}
	return out
}

func (g *SpatialIndex) gridPairs(actors []*model.Actor) []Pair {
	g.clear()
	for i, a := range actors {
		if !a.Alive() {
			continue
		}
		idx := g.cellIndex(a.Pos)
		if len(g.cells[idx]) == 0 {
			g.used = append(g.used, idx)
		}
		g.cells[idx] = append(g.cells[idx], i)
	}

	var out []Pair
	for i, a := range actors {
		if !a.Alive() {
			continue
		}
		col, row := g.cellCoords(a.Pos)
		g.cand = g.cand[:0]
		for dr := -1; dr <= 1; dr++ {
			r := row + dr
			if r < 0 || r >= g.rows {
				continue
			}
			for dc := -1; dc <= 1; dc++ {
				c := col + dc
				if c < 0 || c >= g.cols {
					continue
				}
				for _, j := range g.cells[r*g.cols+c] {
					// Only the lower index emits the pair.
					if j > i && touching(a, actors[j]) {
						g.cand = append(g.cand, j)
					}
				}
			}
		}
		sort.Ints(g.cand)
		for _, j := range g.cand {
			out = append(out, Pair{I: i, J: j})
		}
	}
	return out
}

func (g *SpatialIndex) clear() {
	for _, idx := range g.used {
		g.cells[idx] = g.cells[idx][:0]
	}
	g.used = g.used[:0]
}

func (g *SpatialIndex) cellCoords(p model.Vec2) (int, int) {
	col := int((p.X - g.bounds.Min[0]) / g.cellSize)
	row := int((p.Y - g.bounds.Min[1]) / g.cellSize)
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

func (g *SpatialIndex) cellIndex(p model.Vec2) int {
	col, row := g.cellCoords(p)
	return row*g.cols + col
}

func touching(a, b *model.Actor) bool {
	r := a.Params.Radius + b.Params.Radius
	return a.Pos.DistanceSqTo(b.Pos) <= r*r
}
