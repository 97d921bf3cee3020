package linalg

import (
	"fmt"
	"math"
)

// Inverse returns the inverse of a square matrix using Gauss-Jordan
// elimination with partial pivoting. It returns ErrSingular when a pivot
// vanishes relative to the largest element of the matrix.
func (m Matrix) Inverse() (Matrix, error) {
	if m.rows != m.cols {
		return Matrix{}, fmt.Errorf("%w: inverse of %dx%d", ErrDimension, m.rows, m.cols)
	}
	if !m.IsFinite() {
		return Matrix{}, ErrNotFinite
	}
	n := m.rows
	a := m.Clone()
	inv := Identity(n)
	scale := a.maxAbs()
	if scale == 0 {
		return Matrix{}, ErrSingular
	}

	for col := 0; col < n; col++ {
		p := pivotRow(a, col)
		if math.Abs(a.At(p, col)) <= conditionLimit*scale {
			return Matrix{}, ErrSingular
		}
		if p != col {
			swapRows(a, p, col)
			swapRows(inv, p, col)
		}

		d := a.At(col, col)
		for j := 0; j < n; j++ {
			a.data[col*n+j] /= d
			inv.data[col*n+j] /= d
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := a.At(r, col)
			if f == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				a.data[r*n+j] -= f * a.data[col*n+j]
				inv.data[r*n+j] -= f * inv.data[col*n+j]
			}
		}
	}
	return inv, nil
}

// Solve returns x with m·x = b. It factors a copy of m with partial
// pivoting, so m itself is left untouched.
func (m Matrix) Solve(b []float64) ([]float64, error) {
	if m.rows != m.cols {
		return nil, fmt.Errorf("%w: solve with %dx%d", ErrDimension, m.rows, m.cols)
	}
	if len(b) != m.rows {
		return nil, fmt.Errorf("%w: rhs has %d entries, want %d", ErrDimension, len(b), m.rows)
	}
	if !m.IsFinite() {
		return nil, ErrNotFinite
	}
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNotFinite
		}
	}

	n := m.rows
	a := m.Clone()
	x := make([]float64, n)
	copy(x, b)
	scale := a.maxAbs()
	if scale == 0 {
		return nil, ErrSingular
	}

	// Forward elimination.
	for col := 0; col < n; col++ {
		p := pivotRow(a, col)
		if math.Abs(a.At(p, col)) <= conditionLimit*scale {
			return nil, ErrSingular
		}
		if p != col {
			swapRows(a, p, col)
			x[p], x[col] = x[col], x[p]
		}
		for r := col + 1; r < n; r++ {
			f := a.At(r, col) / a.At(col, col)
			if f == 0 {
				continue
			}
			for j := col; j < n; j++ {
				a.data[r*n+j] -= f * a.data[col*n+j]
			}
			x[r] -= f * x[col]
		}
	}

	// Back substitution.
	for r := n - 1; r >= 0; r-- {
		s := x[r]
		for j := r + 1; j < n; j++ {
			s -= a.At(r, j) * x[j]
		}
		x[r] = s / a.At(r, r)
	}
	return x, nil
}

func pivotRow(a Matrix, col int) int {
	p := col
	best := math.Abs(a.At(col, col))
	for r := col + 1; r < a.rows; r++ {
		if v := math.Abs(a.At(r, col)); v > best {
			best = v
			p = r
		}
	}
	return p
}

func swapRows(a Matrix, i, j int) {
	n := a.cols
	for k := 0; k < n; k++ {
		a.data[i*n+k], a.data[j*n+k] = a.data[j*n+k], a.data[i*n+k]
	}
}
