package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Forest is an isolation-forest outlier estimator. Points that isolate in
// few random splits receive short average path lengths and score close to 1;
// points deep inside the data mass score close to 0.
//
// Trees are built from a fixed seed so repeated training runs over the same
// data produce the same estimator.
type Forest struct {
	Trees     []tree  `json:"trees"`
	Subsample int     `json:"subsample"`
	Threshold float64 `json:"threshold"` // contamination quantile of training scores
}

// tree is a flattened isolation tree. Children are node indexes; a node
// with Left < 0 is a leaf holding the size of the sample that reached it.
type tree struct {
	Feature []int     `json:"feature"`
	Split   []float64 `json:"split"`
	Left    []int     `json:"left"`
	Right   []int     `json:"right"`
	Size    []int     `json:"size"`
}

// ForestConfig holds hyperparameters for training.
type ForestConfig struct {
	Trees     int
	Subsample int
	Seed      int64
}

// DefaultForestConfig returns the default training hyperparameters.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:     100,
		Subsample: 256,
		Seed:      42,
	}
}

// FitForest trains an isolation forest on the scaled feature matrix.
// contamination sets the expected anomaly fraction and fixes the
// classification threshold at the matching quantile of training scores.
func FitForest(rows [][]float64, contamination float64, cfg ForestConfig) (*Forest, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("forest: no training rows")
	}
	if contamination <= 0 || contamination >= 1 {
		return nil, fmt.Errorf("forest: contamination must be in (0,1), got %v", contamination)
	}

	sub := cfg.Subsample
	if sub > len(rows) {
		sub = len(rows)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sub))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Forest{
		Trees:     make([]tree, 0, cfg.Trees),
		Subsample: sub,
	}

	for i := 0; i < cfg.Trees; i++ {
		sample := make([][]float64, sub)
		for j := range sample {
			sample[j] = rows[rng.Intn(len(rows))]
		}
		tr := tree{}
		buildNode(&tr, sample, 0, heightLimit, rng)
		f.Trees = append(f.Trees, tr)
	}

	// Threshold at the (1 - contamination) quantile of training scores:
	// anything scoring above it classifies as anomalous.
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.Score(row)
	}
	f.Threshold = quantile(scores, 1-contamination)

	return f, nil
}

// buildNode appends a node for the sample and returns its index.
func buildNode(tr *tree, sample [][]float64, depth, heightLimit int, rng *rand.Rand) int {
	idx := len(tr.Feature)
	tr.Feature = append(tr.Feature, -1)
	tr.Split = append(tr.Split, 0)
	tr.Left = append(tr.Left, -1)
	tr.Right = append(tr.Right, -1)
	tr.Size = append(tr.Size, len(sample))

	if depth >= heightLimit || len(sample) <= 1 {
		return idx
	}

	feat, split, ok := pickSplit(sample, rng)
	if !ok {
		return idx // all remaining points identical
	}

	var left, right [][]float64
	for _, row := range sample {
		if row[feat] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	tr.Feature[idx] = feat
	tr.Split[idx] = split
	tr.Left[idx] = buildNode(tr, left, depth+1, heightLimit, rng)
	tr.Right[idx] = buildNode(tr, right, depth+1, heightLimit, rng)
	return idx
}

// pickSplit chooses a random feature with spread and a random split point
// within its range. Returns ok=false when every feature is constant.
func pickSplit(sample [][]float64, rng *rand.Rand) (int, float64, bool) {
	cols := len(sample[0])
	order := rng.Perm(cols)
	for _, feat := range order {
		lo, hi := sample[0][feat], sample[0][feat]
		for _, row := range sample[1:] {
			if row[feat] < lo {
				lo = row[feat]
			}
			if row[feat] > hi {
				hi = row[feat]
			}
		}
		if hi > lo {
			return feat, lo + rng.Float64()*(hi-lo), true
		}
	}
	return 0, 0, false
}

// Score returns the isolation score for a scaled row, in (0,1), where
// higher means more isolated (more anomalous).
func (f *Forest) Score(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}

	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(row)
	}
	avg := total / float64(len(f.Trees))

	return math.Pow(2, -avg/avgPathLength(f.Subsample))
}

// Predict reports whether the row classifies as anomalous under the
// contamination threshold fixed at training time.
func (f *Forest) Predict(row []float64) bool {
	return f.Score(row) > f.Threshold
}

func (t *tree) pathLength(row []float64) float64 {
	idx := 0
	depth := 0.0
	for t.Left[idx] >= 0 {
		if row[t.Feature[idx]] < t.Split[idx] {
			idx = t.Left[idx]
		} else {
			idx = t.Right[idx]
		}
		depth++
	}
	// External node: add the expected path length of the unexpanded subtree.
	return depth + avgPathLength(t.Size[idx])
}

// avgPathLength is the expected path length of an unsuccessful BST search
// over n points, the standard isolation-forest normalization term.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
