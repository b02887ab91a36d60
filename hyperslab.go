package h5r

import (
	"fmt"
)

// Selector selects along one dimension of a hyperslab. Build values
// with Index, Range, RangeStep, From or All; missing trailing
// dimensions default to the full extent.
type Selector struct {
	start, stop, step uint64
	hasStart, hasStop bool
}

// Index selects the single position [i, i+1).
func Index(i uint64) Selector {
	return Selector{start: i, stop: i + 1, step: 1, hasStart: true, hasStop: true}
}

// All selects the full extent.
func All() Selector {
	return Selector{step: 1}
}

// Range selects [start, stop) with step 1.
func Range(start, stop uint64) Selector {
	return Selector{start: start, stop: stop, step: 1, hasStart: true, hasStop: true}
}

// RangeStep selects [start, stop) with the given step.
func RangeStep(start, stop, step uint64) Selector {
	return Selector{start: start, stop: stop, step: step, hasStart: true, hasStop: true}
}

// From selects [start, extent) with step 1.
func From(start uint64) Selector {
	return Selector{start: start, step: 1, hasStart: true}
}

// span is a normalized per-dimension selection.
type span struct {
	start, stop, step uint64
}

// count returns the number of selected positions.
func (s span) count() uint64 {
	if s.stop <= s.start {
		return 0
	}
	return (s.stop - s.start + s.step - 1) / s.step
}

// normalizeHyperslab resolves selectors against the dataset shape into
// one span per dimension.
func normalizeHyperslab(sels []Selector, shape []uint64) ([]span, error) {
	if len(sels) > len(shape) {
		return nil, fmt.Errorf("selection has %d dimensions, dataset has %d", len(sels), len(shape))
	}

	spans := make([]span, len(shape))
	for d := range shape {
		s := All()
		if d < len(sels) {
			s = sels[d]
		}
		if s.step == 0 {
			s.step = 1
		}

		sp := span{start: s.start, stop: shape[d], step: s.step}
		if s.hasStop {
			sp.stop = s.stop
		}
		if sp.stop > shape[d] {
			return nil, fmt.Errorf("dimension %d: stop %d exceeds extent %d", d, sp.stop, shape[d])
		}
		if sp.start > sp.stop {
			return nil, fmt.Errorf("dimension %d: start %d beyond stop %d", d, sp.start, sp.stop)
		}
		spans[d] = sp
	}
	return spans, nil
}

// shapeOf returns the result shape of a normalized selection.
func shapeOf(spans []span) []uint64 {
	shape := make([]uint64, len(spans))
	for d, s := range spans {
		shape[d] = s.count()
	}
	return shape
}

// chunkOriginAxes returns, per dimension, the ascending list of origins
// of chunks the selection intersects. Walking range(start, stop, step)
// in order makes the per-dimension origins non-decreasing, so comparing
// against the previous entry is enough to deduplicate; this holds for
// any step, including steps larger than the chunk extent.
func chunkOriginAxes(spans []span, chunkShape []uint64) [][]uint64 {
	axes := make([][]uint64, len(spans))
	for d, s := range spans {
		extent := chunkShape[d]
		var axis []uint64
		for j := s.start; j < s.stop; j += s.step {
			origin := (j / extent) * extent
			if len(axis) == 0 || axis[len(axis)-1] != origin {
				axis = append(axis, origin)
			}
		}
		axes[d] = axis
	}
	return axes
}

// forEachOrigin walks the Cartesian product of the origin axes in
// row-major order.
func forEachOrigin(axes [][]uint64, fn func(origin []uint64) error) error {
	for _, axis := range axes {
		if len(axis) == 0 {
			return nil
		}
	}
	idx := make([]int, len(axes))
	origin := make([]uint64, len(axes))
	for {
		for d := range axes {
			origin[d] = axes[d][idx[d]]
		}
		if err := fn(origin); err != nil {
			return err
		}
		d := len(axes) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(axes[d]) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}
