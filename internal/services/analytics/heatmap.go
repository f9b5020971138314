package analytics

import "math"

// Heatmap geometry. Detection centers are assumed to be in a 1920x1080 source
// frame; display points are scaled into an 800x450 canvas.
const (
	GridSize     = 100
	DisplaySize  = 20
	SourceWidth  = 1920.0
	SourceHeight = 1080.0
	CanvasWidth  = 800
	CanvasHeight = 450

	cellsPerDisplay = GridSize / DisplaySize
)

// Grid is the high resolution density counter for one camera, indexed [y][x].
type Grid struct {
	cells [GridSize][GridSize]int64
	total int64
}

// HeatmapPoint is one non-zero display cell.
type HeatmapPoint struct {
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Value int64 `json:"value"`
}

// HeatmapData is the display form of a grid.
type HeatmapData struct {
	Max  int64          `json:"max"`
	Data []HeatmapPoint `json:"data"`
}

// CellFor maps a source pixel center to grid coordinates, clamped to the grid.
func CellFor(cx, cy float64) (int, int) {
	return scaleToCell(cx, SourceWidth), scaleToCell(cy, SourceHeight)
}

func scaleToCell(v, extent float64) int {
	if math.IsNaN(v) {
		return 0
	}
	scaled := v * GridSize / extent
	if scaled < 0 {
		return 0
	}
	if scaled >= GridSize-1 {
		return GridSize - 1
	}
	return int(scaled)
}

// Add counts one detection centered at (cx, cy).
func (g *Grid) Add(cx, cy float64) {
	x, y := CellFor(cx, cy)
	g.cells[y][x]++
	g.total++
}

// Merge adds every cell of o into g.
func (g *Grid) Merge(o *Grid) {
	for y := 0; y < GridSize; y++ {
		for x := 0; x < GridSize; x++ {
			g.cells[y][x] += o.cells[y][x]
		}
	}
	g.total += o.total
}

// Total is the number of points added.
func (g *Grid) Total() int64 {
	return g.total
}

// Downsample sums each block of high resolution cells into one display cell.
func (g *Grid) Downsample() [DisplaySize][DisplaySize]int64 {
	var out [DisplaySize][DisplaySize]int64
	for y := 0; y < GridSize; y++ {
		for x := 0; x < GridSize; x++ {
			if v := g.cells[y][x]; v > 0 {
				out[y/cellsPerDisplay][x/cellsPerDisplay] += v
			}
		}
	}
	return out
}

// Snapshot returns the non-zero display cells in canvas coordinates.
func (g *Grid) Snapshot() HeatmapData {
	agg := g.Downsample()
	data := HeatmapData{Data: []HeatmapPoint{}}

	for y := 0; y < DisplaySize; y++ {
		for x := 0; x < DisplaySize; x++ {
			v := agg[y][x]
			if v <= 0 {
				continue
			}
			data.Data = append(data.Data, HeatmapPoint{
				X:     x * CanvasWidth / DisplaySize,
				Y:     y * CanvasHeight / DisplaySize,
				Value: v,
			})
			if v > data.Max {
				data.Max = v
			}
		}
	}
	return data
}
