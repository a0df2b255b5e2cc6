package tensor

import (
	"fmt"
)

func check2D(name string, t *Tensor) error {
	if t == nil {
		return fmt.Errorf("%s: nil tensor", name)
	}
	if len(t.Shape) != 2 {
		return fmt.Errorf("%s: requires 2D tensor, got shape %v", name, t.Shape)
	}
	return nil
}

// MatMul computes a @ b for a [M, K] and b [K, N].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := check2D("matmul", a); err != nil {
		return nil, err
	}
	if err := check2D("matmul", b); err != nil {
		return nil, err
	}
	m, k := a.Shape[0], a.Shape[1]
	if b.Shape[0] != k {
		return nil, fmt.Errorf("matmul: inner dimensions mismatch %v @ %v", a.Shape, b.Shape)
	}
	n := b.Shape[1]

	out, err := Zeros([]int{m, n})
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		aRow := a.Data[i*k : (i+1)*k]
		oRow := out.Data[i*n : (i+1)*n]
		for p, av := range aRow {
			if av == 0 {
				continue
			}
			bRow := b.Data[p*n : (p+1)*n]
			for j, bv := range bRow {
				oRow[j] += av * bv
			}
		}
	}
	return out, nil
}

// MatMulTransA computes a^T @ b for a [K, M] and b [K, N], giving [M, N].
func MatMulTransA(a, b *Tensor) (*Tensor, error) {
	if err := check2D("matmul_trans_a", a); err != nil {
		return nil, err
	}
	if err := check2D("matmul_trans_a", b); err != nil {
		return nil, err
	}
	k, m := a.Shape[0], a.Shape[1]
	if b.Shape[0] != k {
		return nil, fmt.Errorf("matmul_trans_a: leading dimensions mismatch %v, %v", a.Shape, b.Shape)
	}
	n := b.Shape[1]

	out, err := Zeros([]int{m, n})
	if err != nil {
		return nil, err
	}
	for p := 0; p < k; p++ {
		aRow := a.Data[p*m : (p+1)*m]
		bRow := b.Data[p*n : (p+1)*n]
		for i, av := range aRow {
			if av == 0 {
				continue
			}
			oRow := out.Data[i*n : (i+1)*n]
			for j, bv := range bRow {
				oRow[j] += av * bv
			}
		}
	}
	return out, nil
}

// MatMulTransB computes a @ b^T for a [M, K] and b [N, K], giving [M, N].
func MatMulTransB(a, b *Tensor) (*Tensor, error) {
	if err := check2D("matmul_trans_b", a); err != nil {
		return nil, err
	}
	if err := check2D("matmul_trans_b", b); err != nil {
		return nil, err
	}
	m, k := a.Shape[0], a.Shape[1]
	if b.Shape[1] != k {
		return nil, fmt.Errorf("matmul_trans_b: inner dimensions mismatch %v, %v", a.Shape, b.Shape)
	}
	n := b.Shape[0]

	out, err := Zeros([]int{m, n})
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		aRow := a.Data[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			bRow := b.Data[j*k : (j+1)*k]
			var sum float32
			for p := range aRow {
				sum += aRow[p] * bRow[p]
			}
			out.Data[i*n+j] = sum
		}
	}
	return out, nil
}

// AddRowVector adds v [N] to every row of t [M, N] in place.
func AddRowVector(t, v *Tensor) error {
	if err := check2D("add_row_vector", t); err != nil {
		return err
	}
	n := t.Shape[1]
	if len(v.Data) != n {
		return fmt.Errorf("add_row_vector: vector length %d does not match %d columns", len(v.Data), n)
	}
	for i := 0; i < t.Shape[0]; i++ {
		row := t.Data[i*n : (i+1)*n]
		for j := range row {
			row[j] += v.Data[j]
		}
	}
	return nil
}

// SumRows reduces t [M, N] over its rows, giving a length-N slice.
func SumRows(t *Tensor) ([]float32, error) {
	if err := check2D("sum_rows", t); err != nil {
		return nil, err
	}
	n := t.Shape[1]
	out := make([]float32, n)
	for i := 0; i < t.Shape[0]; i++ {
		row := t.Data[i*n : (i+1)*n]
		for j, v := range row {
			out[j] += v
		}
	}
	return out, nil
}
