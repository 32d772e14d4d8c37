package storage

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/poiesic/gazette/core"
)

// Metric selects how query distance is computed. Smaller is always closer.
type Metric string

const (
	// MetricL2 is the squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is one minus cosine similarity.
	MetricCosine Metric = "cosine"
	// MetricIP is one minus the inner product.
	MetricIP Metric = "ip"
)

// ParseMetric validates a metric name. An empty name selects MetricL2.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case "":
		return MetricL2, nil
	case MetricL2, MetricCosine, MetricIP:
		return Metric(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

// Distance computes the distance between a and b. Vectors of different
// length are compared over their common prefix.
func (m Metric) Distance(a, b []float32) float32 {
	n := min(len(a), len(b))
	switch m {
	case MetricCosine:
		var dot, na, nb float64
		for i := 0; i < n; i++ {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
	case MetricIP:
		var dot float64
		for i := 0; i < n; i++ {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(1 - dot)
	default:
		var sum float64
		for i := 0; i < n; i++ {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(sum)
	}
}

// SortResults orders results by distance, then insertion sequence, then ID,
// so identical inputs always rank identically.
func SortResults(results []*core.SearchResult) {
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Record.Seq, b.Record.Seq); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
}
