package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// maximizeAssignment solves the maximum-weight assignment problem for a
// square weight matrix with the Kuhn-Munkres algorithm (potentials form,
// O(n³)). It returns assignment[i] = column assigned to row i; every row is
// assigned, including to zero-weight columns, so callers decide which pairs
// count as matches.
func maximizeAssignment(weights *mat.Dense) []int {
	n, m := weights.Dims()
	if n == 0 {
		return nil
	}
	if n != m {
		panic("fusion: assignment matrix must be square")
	}

	const inf = math.MaxFloat64 / 2

	// 1-indexed; index 0 is the virtual row/column.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)
	minv := make([]float64, n+1)
	used := make([]bool, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= n; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				// Negate to turn maximization into minimization.
				cur := -weights.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	assignment := make([]int, n)
	for i := range assignment {
		assignment[i] = -1
	}
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			assignment[p[j]-1] = j - 1
		}
	}
	return assignment
}
