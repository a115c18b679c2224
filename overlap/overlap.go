// Package overlap removes masks that duplicate a higher scoring mask.
package overlap

import (
	"math"
	"sort"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/rle"
)

// DefaultThreshold is the IoU above which a candidate counts as a duplicate.
const DefaultThreshold = 0.9

// Options configure a Resolver.
type Options struct {
	// Threshold is the IoU a candidate must exceed against a kept mask to be
	// discarded. Values outside (0, 1] fall back to DefaultThreshold.
	Threshold float64
	Logger    logging.Logger
}

// Resolver deduplicates candidate masks by intersection over union.
type Resolver struct {
	opts Options
}

// New creates a Resolver.
func New(optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Threshold: DefaultThreshold,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Resolver{opts: opts}
}

// Threshold returns the effective IoU threshold.
func (r *Resolver) Threshold() float64 { return r.opts.Threshold }

type candidate struct {
	mask  core.Mask
	grid  rle.Grid
	area  int
	order int
}

// Resolve sorts candidates by descending score and keeps each one whose IoU
// with every already kept mask is at most the threshold. Ties are broken by
// earlier round, then by encoding content, then by input order, so the
// result does not depend on how equal candidates were ordered on input.
// Candidates whose encoding does not decode are dropped.
func (r *Resolver) Resolve(masks []core.Mask) core.MaskSet {
	cands := make([]candidate, 0, len(masks))
	for i, m := range masks {
		g, err := rle.Decode(m.RLE, m.Height, m.Width)
		if err != nil {
			r.opts.Logger.Warn("dropping undecodable mask", "phrase", m.Phrase, "round", m.Round, "error", err)
			continue
		}
		cands = append(cands, candidate{mask: m, grid: g, area: g.Area(), order: i})
	}

	sort.SliceStable(cands, func(i, j int) bool { return less(cands[i], cands[j]) })

	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		duplicate := false
		for _, k := range kept {
			if iou(c, k) > r.opts.Threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}

	out := make(core.MaskSet, len(kept))
	for i, k := range kept {
		out[i] = k.mask
	}

	return out
}

func score(m core.Mask) float64 {
	if math.IsNaN(m.Score) {
		return math.Inf(-1)
	}
	return m.Score
}

func less(a, b candidate) bool {
	if sa, sb := score(a.mask), score(b.mask); sa != sb {
		return sa > sb
	}
	if a.mask.Round != b.mask.Round {
		return a.mask.Round < b.mask.Round
	}
	if a.mask.RLE != b.mask.RLE {
		return a.mask.RLE < b.mask.RLE
	}
	if a.mask.Height != b.mask.Height {
		return a.mask.Height < b.mask.Height
	}
	if a.mask.Width != b.mask.Width {
		return a.mask.Width < b.mask.Width
	}
	return a.order < b.order
}

func iou(a, b candidate) float64 {
	if a.grid.Height != b.grid.Height || a.grid.Width != b.grid.Width {
		return 0
	}
	inter := 0
	for i, bit := range a.grid.Bits {
		if bit && b.grid.Bits[i] {
			inter++
		}
	}
	union := a.area + b.area - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// IoU returns the intersection over union of two grids. Grids of different
// shape, or two empty grids, have an IoU of 0.
func IoU(a, b rle.Grid) float64 {
	return iou(candidate{grid: a, area: a.Area()}, candidate{grid: b, area: b.Area()})
}
