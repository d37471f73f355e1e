// Package sparse implements the compressed sparse row matrices used for graph
// difference operators. CSR satisfies gonum's mat.Matrix, so operators can be
// inspected and compared with the dense gonum types.
package sparse

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// CSR is an immutable compressed sparse row matrix.
// Column indices are strictly increasing within each row and no stored value is zero.
type CSR struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

var _ mat.Matrix = (*CSR)(nil)

// Zeros returns an r×c matrix without stored entries. Either dimension may be zero.
func Zeros(r, c int) (*CSR, error) {
	if r < 0 || c < 0 {
		return nil, ErrBadShape
	}
	return &CSR{rows: r, cols: c, indptr: make([]int, r+1)}, nil
}

// Identity returns the n×n identity.
func Identity(n int) (*CSR, error) {
	if n < 0 {
		return nil, ErrBadShape
	}
	m := &CSR{rows: n, cols: n, indptr: make([]int, n+1), indices: make([]int, n), data: make([]float64, n)}
	for i := 0; i < n; i++ {
		m.indptr[i+1] = i + 1
		m.indices[i] = i
		m.data[i] = 1
	}
	return m, nil
}

// Dims returns the number of rows and columns.
func (m *CSR) Dims() (r, c int) { return m.rows, m.cols }

// At returns the element at row i, column j. It panics on out-of-range indices,
// following mat.Matrix.
func (m *CSR) At(i, j int) float64 {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	lo, hi := m.indptr[i], m.indptr[i+1]
	k := lo + sort.SearchInts(m.indices[lo:hi], j)
	if k < hi && m.indices[k] == j {
		return m.data[k]
	}
	return 0
}

// T returns an implicit transpose.
func (m *CSR) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int { return len(m.data) }

// DoRowNonZero calls fn for each stored entry of row i in column order.
func (m *CSR) DoRowNonZero(i int, fn func(j int, v float64)) {
	for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
		fn(m.indices[k], m.data[k])
	}
}

// RowNNZ returns the number of stored entries in row i.
func (m *CSR) RowNNZ(i int) int { return m.indptr[i+1] - m.indptr[i] }

// RowSums returns the sum of every row.
func (m *CSR) RowSums() []float64 {
	out := make([]float64, m.rows)
	for i := 0; i < m.rows; i++ {
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			out[i] += m.data[k]
		}
	}
	return out
}

// MulVec computes dst = m·x. dst must have m's row count and x its column count.
func (m *CSR) MulVec(dst, x []float64) error {
	if len(x) != m.cols || len(dst) != m.rows {
		return fmt.Errorf("%w: %dx%d times vector of %d into %d", ErrDimensionMismatch, m.rows, m.cols, len(x), len(dst))
	}
	for i := 0; i < m.rows; i++ {
		var s float64
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			s += m.data[k] * x[m.indices[k]]
		}
		dst[i] = s
	}
	return nil
}

// MulTransVec computes dst = mᵀ·x without forming the transpose.
func (m *CSR) MulTransVec(dst, x []float64) error {
	if len(x) != m.rows || len(dst) != m.cols {
		return fmt.Errorf("%w: transpose of %dx%d times vector of %d into %d", ErrDimensionMismatch, m.rows, m.cols, len(x), len(dst))
	}
	for j := range dst {
		dst[j] = 0
	}
	for i := 0; i < m.rows; i++ {
		xi := x[i]
		if xi == 0 {
			continue
		}
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			dst[m.indices[k]] += m.data[k] * xi
		}
	}
	return nil
}

// Transpose returns mᵀ in CSR form.
func (m *CSR) Transpose() *CSR {
	t := &CSR{
		rows:    m.cols,
		cols:    m.rows,
		indptr:  make([]int, m.cols+1),
		indices: make([]int, len(m.indices)),
		data:    make([]float64, len(m.data)),
	}
	for _, j := range m.indices {
		t.indptr[j+1]++
	}
	for j := 0; j < m.cols; j++ {
		t.indptr[j+1] += t.indptr[j]
	}
	next := make([]int, m.cols)
	copy(next, t.indptr[:m.cols])
	// Rows are visited in order, so each transposed row receives increasing columns.
	for i := 0; i < m.rows; i++ {
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			j := m.indices[k]
			p := next[j]
			t.indices[p] = i
			t.data[p] = m.data[k]
			next[j]++
		}
	}
	return t
}

// Mul returns a·b.
func Mul(a, b *CSR) (*CSR, error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("%w: %dx%d times %dx%d", ErrDimensionMismatch, a.rows, a.cols, b.rows, b.cols)
	}
	out := &CSR{rows: a.rows, cols: b.cols, indptr: make([]int, a.rows+1)}

	acc := make([]float64, b.cols)
	mark := make([]int, b.cols)
	for j := range mark {
		mark[j] = -1
	}
	var touched []int
	for i := 0; i < a.rows; i++ {
		touched = touched[:0]
		for ka := a.indptr[i]; ka < a.indptr[i+1]; ka++ {
			av := a.data[ka]
			r := a.indices[ka]
			for kb := b.indptr[r]; kb < b.indptr[r+1]; kb++ {
				j := b.indices[kb]
				if mark[j] != i {
					mark[j] = i
					acc[j] = 0
					touched = append(touched, j)
				}
				acc[j] += av * b.data[kb]
			}
		}
		sort.Ints(touched)
		for _, j := range touched {
			if acc[j] != 0 {
				out.indices = append(out.indices, j)
				out.data = append(out.data, acc[j])
			}
		}
		out.indptr[i+1] = len(out.data)
	}
	return out, nil
}

// Pow returns m raised to the k-th power. m must be square; Pow(0) is the identity.
func (m *CSR) Pow(k int) (*CSR, error) {
	if m.rows != m.cols {
		return nil, ErrNonSquare
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: negative power %d", ErrBadShape, k)
	}
	result, err := Identity(m.rows)
	if err != nil {
		return nil, err
	}
	base := m
	for k > 0 {
		if k&1 == 1 {
			if result, err = Mul(result, base); err != nil {
				return nil, err
			}
		}
		k >>= 1
		if k > 0 {
			if base, err = Mul(base, base); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Dense copies m into a gonum dense matrix. An empty dimension yields nil.
func (m *CSR) Dense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	d := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		m.DoRowNonZero(i, func(j int, v float64) { d.Set(i, j, v) })
	}
	return d
}

// Builder accumulates (row, column, value) triplets. Duplicate coordinates are summed.
type Builder struct {
	rows, cols int
	entries    []triplet
}

type triplet struct {
	i, j int
	v    float64
}

// NewBuilder starts an r×c matrix.
func NewBuilder(r, c int) (*Builder, error) {
	if r < 0 || c < 0 {
		return nil, ErrBadShape
	}
	return &Builder{rows: r, cols: c}, nil
}

// Add records v at (i, j).
func (b *Builder) Add(i, j int, v float64) error {
	if i < 0 || i >= b.rows || j < 0 || j >= b.cols {
		return fmt.Errorf("%w: (%d, %d) in %dx%d", ErrOutOfRange, i, j, b.rows, b.cols)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrNaNInf
	}
	b.entries = append(b.entries, triplet{i, j, v})
	return nil
}

// Build compresses the recorded entries. Entries summing to zero are not stored.
func (b *Builder) Build() *CSR {
	entries := make([]triplet, len(b.entries))
	copy(entries, b.entries)
	sort.SliceStable(entries, func(x, y int) bool {
		if entries[x].i != entries[y].i {
			return entries[x].i < entries[y].i
		}
		return entries[x].j < entries[y].j
	})

	m := &CSR{rows: b.rows, cols: b.cols, indptr: make([]int, b.rows+1)}
	for k := 0; k < len(entries); {
		e := entries[k]
		sum := e.v
		k++
		for k < len(entries) && entries[k].i == e.i && entries[k].j == e.j {
			sum += entries[k].v
			k++
		}
		if sum == 0 {
			continue
		}
		m.indices = append(m.indices, e.j)
		m.data = append(m.data, sum)
		m.indptr[e.i+1]++
	}
	for i := 0; i < b.rows; i++ {
		m.indptr[i+1] += m.indptr[i]
	}
	return m
}
