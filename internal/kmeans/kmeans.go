// Package kmeans implements the minimal 1-D two-means clustering used
// by the batch pipeline's peak-picking localization (spec.md §4.9 step
// 7), grounded on gccNMFFunctions.py's
// `KMeans(n_clusters=2).fit(peakAmplitudes)`. Only the 1-D, k=2 case is
// implemented since that is the only call site; gonum has no clustering
// package, so this is a deliberate, narrowly-scoped stdlib
// implementation rather than a general-purpose library.
package kmeans

import "sort"

// TwoMeans partitions values into two clusters by 1-D Lloyd's
// algorithm, returning the cluster index (0 or 1) for each value and
// the two cluster centers. Deterministic: the two initial centers are
// the min and max of values, so the result does not depend on
// iteration order or a random seed.
func TwoMeans(values []float64) (labels []int, centers [2]float64) {
	n := len(values)
	labels = make([]int, n)
	if n == 0 {
		return labels, centers
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	centers = [2]float64{sorted[0], sorted[n-1]}

	for iter := 0; iter < 100; iter++ {
		changed := false
		for i, v := range values {
			d0 := abs(v - centers[0])
			d1 := abs(v - centers[1])
			label := 0
			if d1 < d0 {
				label = 1
			}
			if labels[i] != label {
				labels[i] = label
				changed = true
			}
		}

		var sum [2]float64
		var count [2]int
		for i, v := range values {
			sum[labels[i]] += v
			count[labels[i]]++
		}
		for c := 0; c < 2; c++ {
			if count[c] > 0 {
				centers[c] = sum[c] / float64(count[c])
			}
		}
		if !changed && iter > 0 {
			break
		}
	}
	return labels, centers
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
