package vector

import (
	"fmt"
	"math"
)

// Metric selects how similarity between two vectors is computed.
type Metric string

const (
	// MetricCosine is cosine similarity. Equals inner product for normalized vectors.
	MetricCosine Metric = "cosine"
	// MetricInnerProduct is the raw dot product.
	MetricInnerProduct Metric = "inner_product"
)

// ParseMetric returns the Metric named by s, defaulting to cosine for "".
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricInnerProduct:
		return MetricInnerProduct, nil
	}
	return "", fmt.Errorf("unknown similarity metric %q", s)
}

// Score computes the similarity between a and b under the metric.
func (m Metric) Score(a, b []float32) float64 {
	if m == MetricInnerProduct {
		return InnerProduct(a, b)
	}
	return Cosine(a, b)
}

// InnerProduct returns the dot product of two vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// Cosine returns the cosine similarity of two vectors, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	dot := InnerProduct(a, b)
	na := L2Norm(a)
	nb := L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}
