package gbl

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//Entry is one cell of the sparse matrix. Inside a row Index is the feature
//id; inside a column it is the row id.
type Entry struct {
	Index int
	Value float64
}

//RowBatch is a contiguous range of rows. Row i of the batch is the global
//row BaseRowID+i.
type RowBatch struct {
	BaseRowID int
	Rows      [][]Entry
}

//ColBatch is a set of columns. Column i holds the entries of feature
//ColIndex[i], sorted ascending by feature value.
type ColBatch struct {
	ColIndex []int
	Cols     [][]Entry
}

//RowIter iterates row batches. Next must be called before Value.
type RowIter struct {
	batches []RowBatch
	at      int
}

//Next advances to the next batch.
func (it *RowIter) Next() bool {
	it.at++
	return it.at <= len(it.batches)
}

//Value returns the current batch.
func (it *RowIter) Value() RowBatch {
	return it.batches[it.at-1]
}

//ColIter iterates column batches. Next must be called before Value.
type ColIter struct {
	batches []ColBatch
	at      int
}

//Next advances to the next batch.
func (it *ColIter) Next() bool {
	it.at++
	return it.at <= len(it.batches)
}

//Value returns the current batch.
func (it *ColIter) Value() ColBatch {
	return it.batches[it.at-1]
}

//DMatrix is the in-memory feature matrix the tree makers train on. Rows are
//sparse lists of (feature, value) pairs sorted by feature id; the column
//view is built on first use with every column sorted ascending by value, so
//the exact maker can sweep it in threshold order.
type DMatrix struct {
	rows           [][]Entry
	numCol         int
	cols           [][]Entry
	bufferedRowset []int
}

//NewDMatrix builds a matrix from sparse rows. When numCol is zero the width
//is inferred from the largest feature id.
func NewDMatrix(rows [][]Entry, numCol int) (*DMatrix, error) {
	maxFid := -1
	for ridx, row := range rows {
		for i, e := range row {
			if e.Index < 0 {
				return nil, errors.Errorf("row %d: negative feature index", ridx)
			}
			if i > 0 && row[i-1].Index >= e.Index {
				return nil, errors.Errorf("row %d: feature indices must be sorted and unique", ridx)
			}
			if e.Index > maxFid {
				maxFid = e.Index
			}
		}
	}
	if numCol == 0 {
		numCol = maxFid + 1
	} else if maxFid >= numCol {
		return nil, errors.Errorf("feature index %d exceeds num_col %d", maxFid, numCol)
	}
	rowset := make([]int, len(rows))
	for i := range rowset {
		rowset[i] = i
	}
	return &DMatrix{rows: rows, numCol: numCol, bufferedRowset: rowset}, nil
}

//NewDMatrixFromDense converts a dense gonum matrix; NaN cells are treated
//as missing values.
func NewDMatrixFromDense(d *mat.Dense) (*DMatrix, error) {
	h, w := d.Dims()
	rows := make([][]Entry, h)
	for p := 0; p < h; p++ {
		row := make([]Entry, 0, w)
		for q := 0; q < w; q++ {
			v := d.At(p, q)
			if math.IsNaN(v) {
				continue
			}
			row = append(row, Entry{Index: q, Value: v})
		}
		rows[p] = row
	}
	return NewDMatrix(rows, w)
}

//NewDMatrixFromTensor converts a dense rank-2 float64 tensor; NaN cells are
//treated as missing values.
func NewDMatrixFromTensor(t *tensor.Dense) (*DMatrix, error) {
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("want a rank 2 tensor, got shape %v", shape)
	}
	data, ok := t.Data().([]float64)
	if !ok {
		return nil, errors.New("want a float64 tensor")
	}
	h, w := shape[0], shape[1]
	rows := make([][]Entry, h)
	for p := 0; p < h; p++ {
		row := make([]Entry, 0, w)
		for q := 0; q < w; q++ {
			v := data[p*w+q]
			if math.IsNaN(v) {
				continue
			}
			row = append(row, Entry{Index: q, Value: v})
		}
		rows[p] = row
	}
	return NewDMatrix(rows, w)
}

//NumRow returns the number of rows.
func (m *DMatrix) NumRow() int {
	return len(m.rows)
}

//NumCol returns the number of features.
func (m *DMatrix) NumCol() int {
	return m.numCol
}

//Row returns one sparse row.
func (m *DMatrix) Row(ridx int) []Entry {
	return m.rows[ridx]
}

//BufferedRowset is the ordered list of row ids currently in scope.
func (m *DMatrix) BufferedRowset() []int {
	return m.bufferedRowset
}

//RowIterator iterates the rows in one batch.
func (m *DMatrix) RowIterator() *RowIter {
	return &RowIter{batches: []RowBatch{{BaseRowID: 0, Rows: m.rows}}}
}

//ColIterator iterates the columns of the given feature subset in one batch.
//A nil subset means all columns.
func (m *DMatrix) ColIterator(fset []int) *ColIter {
	m.initColAccess()
	if fset == nil {
		fset = make([]int, m.numCol)
		for i := range fset {
			fset[i] = i
		}
	}
	batch := ColBatch{ColIndex: make([]int, 0, len(fset)), Cols: make([][]Entry, 0, len(fset))}
	for _, fid := range fset {
		if fid < 0 || fid >= m.numCol {
			continue
		}
		batch.ColIndex = append(batch.ColIndex, fid)
		batch.Cols = append(batch.Cols, m.cols[fid])
	}
	return &ColIter{batches: []ColBatch{batch}}
}

func (m *DMatrix) initColAccess() {
	if m.cols != nil {
		return
	}
	counts := make([]int, m.numCol)
	for _, row := range m.rows {
		for _, e := range row {
			counts[e.Index]++
		}
	}
	cols := make([][]Entry, m.numCol)
	for fid := range cols {
		cols[fid] = make([]Entry, 0, counts[fid])
	}
	for ridx, row := range m.rows {
		for _, e := range row {
			cols[e.Index] = append(cols[e.Index], Entry{Index: ridx, Value: e.Value})
		}
	}
	for fid := range cols {
		col := cols[fid]
		sort.SliceStable(col, func(i, j int) bool {
			return col[i].Value < col[j].Value
		})
	}
	m.cols = cols
}

//Shard returns a column shard of the matrix keeping only the given
//features. The row count and the global feature width stay the same, so a
//shard can train next to its peers in the distributed maker.
func (m *DMatrix) Shard(fids []int) *DMatrix {
	own := make(map[int]bool, len(fids))
	for _, fid := range fids {
		own[fid] = true
	}
	rows := make([][]Entry, len(m.rows))
	for ridx, row := range m.rows {
		kept := make([]Entry, 0, len(row))
		for _, e := range row {
			if own[e.Index] {
				kept = append(kept, e)
			}
		}
		rows[ridx] = kept
	}
	rowset := make([]int, len(rows))
	for i := range rowset {
		rowset[i] = i
	}
	return &DMatrix{rows: rows, numCol: m.numCol, bufferedRowset: rowset}
}
