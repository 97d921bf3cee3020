// Package linalg provides the small dense-matrix operations used by the
// Newton-Raphson optimizer: element access, products, inversion and linear
// solves. Matrices are row-major and backed by a single slice.
package linalg

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrSingular is returned when a matrix is singular or too ill-conditioned
	// for its inverse or a linear solve to be trusted.
	ErrSingular = errors.New("linalg: matrix is singular or ill-conditioned")

	// ErrDimension is returned when operand shapes do not match.
	ErrDimension = errors.New("linalg: dimension mismatch")

	// ErrNotFinite is returned when an operand contains NaN or Inf.
	ErrNotFinite = errors.New("linalg: matrix contains non-finite values")
)

// conditionLimit bounds the ratio between the smallest and largest pivot
// accepted during elimination.
const conditionLimit = 1e-12

// Matrix is a dense row-major matrix.
type Matrix struct {
	rows int
	cols int
	data []float64
}

// New returns a zero matrix with the given shape.
func New(rows, cols int) Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("linalg: negative dimension %dx%d", rows, cols))
	}
	return Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// Identity returns the n×n identity matrix.
func Identity(n int) Matrix {
	m := New(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// FromRows builds a matrix from a slice of equally sized rows.
func FromRows(rows [][]float64) (Matrix, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	cols := len(rows[0])
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return Matrix{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimension, i, len(r), cols)
		}
		copy(m.data[i*cols:(i+1)*cols], r)
	}
	return m, nil
}

// Rows returns the number of rows.
func (m Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m Matrix) Cols() int { return m.cols }

// At returns the element at row i, column j.
func (m Matrix) At(i, j int) float64 {
	return m.data[i*m.cols+j]
}

// Set stores v at row i, column j.
func (m Matrix) Set(i, j int, v float64) {
	m.data[i*m.cols+j] = v
}

// AddAt adds v to the element at row i, column j.
func (m Matrix) AddAt(i, j int, v float64) {
	m.data[i*m.cols+j] += v
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	c := Matrix{rows: m.rows, cols: m.cols, data: make([]float64, len(m.data))}
	copy(c.data, m.data)
	return c
}

// RowSlice returns a copy of row i.
func (m Matrix) RowSlice(i int) []float64 {
	r := make([]float64, m.cols)
	copy(r, m.data[i*m.cols:(i+1)*m.cols])
	return r
}

// Add accumulates o into m in place. Shapes must match.
func (m Matrix) Add(o Matrix) error {
	if m.rows != o.rows || m.cols != o.cols {
		return fmt.Errorf("%w: %dx%d + %dx%d", ErrDimension, m.rows, m.cols, o.rows, o.cols)
	}
	for i := range m.data {
		m.data[i] += o.data[i]
	}
	return nil
}

// Scale multiplies every element of m by f in place.
func (m Matrix) Scale(f float64) {
	for i := range m.data {
		m.data[i] *= f
	}
}

// Mul returns the product m·o.
func (m Matrix) Mul(o Matrix) (Matrix, error) {
	if m.cols != o.rows {
		return Matrix{}, fmt.Errorf("%w: %dx%d · %dx%d", ErrDimension, m.rows, m.cols, o.rows, o.cols)
	}
	out := New(m.rows, o.cols)
	for i := 0; i < m.rows; i++ {
		for k := 0; k < m.cols; k++ {
			a := m.data[i*m.cols+k]
			if a == 0 {
				continue
			}
			for j := 0; j < o.cols; j++ {
				out.data[i*o.cols+j] += a * o.data[k*o.cols+j]
			}
		}
	}
	return out, nil
}

// MulVec returns the product m·v.
func (m Matrix) MulVec(v []float64) ([]float64, error) {
	if m.cols != len(v) {
		return nil, fmt.Errorf("%w: %dx%d · %d", ErrDimension, m.rows, m.cols, len(v))
	}
	out := make([]float64, m.rows)
	for i := 0; i < m.rows; i++ {
		var s float64
		for j := 0; j < m.cols; j++ {
			s += m.data[i*m.cols+j] * v[j]
		}
		out[i] = s
	}
	return out, nil
}

// IsSymmetric reports whether m is square and symmetric within tol.
func (m Matrix) IsSymmetric(tol float64) bool {
	if m.rows != m.cols {
		return false
	}
	for i := 0; i < m.rows; i++ {
		for j := i + 1; j < m.cols; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// IsFinite reports whether every element is a finite number.
func (m Matrix) IsFinite() bool {
	for _, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (m Matrix) maxAbs() float64 {
	var mx float64
	for _, v := range m.data {
		if a := math.Abs(v); a > mx {
			mx = a
		}
	}
	return mx
}
