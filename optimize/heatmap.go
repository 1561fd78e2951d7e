package optimize

import "math"

// HeatmapCell is one (x, y) aggregate of the sweep.
type HeatmapCell struct {
	X     float64
	Y     float64
	Value float64 // mean of the chosen metric across matching samples
	Count int
}

// Heatmap groups completed samples by two parameters and averages a metric
// per cell. Errored samples never contribute. The returned best cell is the
// argmax (argmin for max_drawdown).
func Heatmap(samples []Sample, paramX, paramY, metric string) ([]HeatmapCell, *HeatmapCell) {
	type acc struct {
		sum   float64
		count int
	}
	cells := make(map[[2]float64]*acc)

	for _, s := range samples {
		if s.Err != "" {
			continue
		}
		x, okX := s.Params[paramX]
		y, okY := s.Params[paramY]
		if !okX || !okY {
			continue
		}
		key := [2]float64{x, y}
		if cells[key] == nil {
			cells[key] = &acc{}
		}
		cells[key].sum += s.Metrics.ObjectiveValue(metric)
		cells[key].count++
	}

	out := make([]HeatmapCell, 0, len(cells))
	var best *HeatmapCell
	bestScore := math.Inf(-1)
	for key, a := range cells {
		cell := HeatmapCell{X: key[0], Y: key[1], Value: a.sum / float64(a.count), Count: a.count}
		out = append(out, cell)

		score := cell.Value
		if metric == ObjectiveMaxDrawdown {
			score = -score
		}
		if score > bestScore {
			bestScore = score
			c := cell
			best = &c
		}
	}
	return out, best
}
