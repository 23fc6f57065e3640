package analysis

import "sort"

// BenjaminiHochberg returns step-up adjusted q-values in the input order.
// q-values are monotone in the sorted p-values and capped at 1.
func BenjaminiHochberg(pvals []float64) []float64 {
	m := len(pvals)
	q := make([]float64, m)
	if m == 0 {
		return q
	}

	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pvals[idx[a]] < pvals[idx[b]] })

	running := 1.0
	for rank := m; rank >= 1; rank-- {
		i := idx[rank-1]
		adj := pvals[i] * float64(m) / float64(rank)
		if adj < running {
			running = adj
		}
		q[i] = running
	}
	return q
}
