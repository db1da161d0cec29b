// Package train defines the model-fitting boundary. Fitting is an opaque
// capability supplied by the caller (typically a gradient-boosted tree
// library behind a service) and the rest of the system only ever sees
// Fit(X, y) and Score. A small reference fitter keeps the retrain flow
// runnable end-to-end without that dependency.
package train

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/driftwatch/internal/model"
)

// Model scores a feature vector; larger means higher propensity.
type Model interface {
	Score(features []float64) float64
}

// Fitter trains a Model from a design matrix and binary labels.
type Fitter interface {
	Fit(ctx context.Context, features [][]float64, labels []int) (Model, error)
}

// FeatureNames returns the sorted union of snapshot keys across windows,
// fixing the column order of the design matrix.
func FeatureNames(windows []model.ObservationWindow) []string {
	seen := make(map[string]bool)
	for _, w := range windows {
		for name := range w.Features {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Matrix builds the design matrix and label vector from labeled windows.
// Missing snapshot keys are zero-filled.
func Matrix(windows []model.ObservationWindow, featureNames []string) ([][]float64, []int) {
	features := make([][]float64, len(windows))
	labels := make([]int, len(windows))
	for i, w := range windows {
		row := make([]float64, len(featureNames))
		for j, name := range featureNames {
			row[j] = w.Features[name]
		}
		features[i] = row
		labels[i] = w.Label
	}
	return features, labels
}

// CentroidFitter is the reference Fitter: it scores by proximity to the
// positive-class centroid relative to the negative one. Deterministic and
// dependency-free; not a substitute for real gradient-boosted training.
type CentroidFitter struct{}

// Fit computes the two class centroids.
func (CentroidFitter) Fit(_ context.Context, features [][]float64, labels []int) (Model, error) {
	if len(features) == 0 {
		return nil, eris.New("train: no training samples")
	}
	if len(features) != len(labels) {
		return nil, eris.Errorf("train: %d feature rows but %d labels", len(features), len(labels))
	}

	width := len(features[0])
	pos := make([]float64, width)
	neg := make([]float64, width)
	var nPos, nNeg float64

	for i, row := range features {
		if len(row) != width {
			return nil, eris.Errorf("train: ragged feature row %d", i)
		}
		if labels[i] != 0 {
			add(pos, row)
			nPos++
		} else {
			add(neg, row)
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return nil, eris.New("train: need both classes to fit")
	}

	scale(pos, 1/nPos)
	scale(neg, 1/nNeg)
	return &centroidModel{pos: pos, neg: neg}, nil
}

type centroidModel struct {
	pos, neg []float64
}

// Score maps the distance margin between the class centroids through a
// sigmoid, giving a propensity in (0, 1).
func (m *centroidModel) Score(features []float64) float64 {
	margin := distance(features, m.neg) - distance(features, m.pos)
	return 1 / (1 + math.Exp(-margin))
}

func add(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}

func scale(v []float64, by float64) {
	for i := range v {
		v[i] *= by
	}
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
