package gbl

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func TestDMatrixColumnsArePresorted(t *testing.T) {
	rows := [][]Entry{
		{{Index: 0, Value: 3.0}, {Index: 2, Value: 1.0}},
		{{Index: 0, Value: 1.0}},
		{{Index: 0, Value: 2.0}, {Index: 2, Value: -4.0}},
	}
	dm := mustDMatrix(t, rows, 0)
	require.Equal(t, 3, dm.NumRow())
	require.Equal(t, 3, dm.NumCol())
	require.Equal(t, []int{0, 1, 2}, dm.BufferedRowset())

	iter := dm.ColIterator(nil)
	require.True(t, iter.Next())
	batch := iter.Value()
	require.Equal(t, []int{0, 1, 2}, batch.ColIndex)
	require.Equal(t, []Entry{{Index: 1, Value: 1.0}, {Index: 2, Value: 2.0}, {Index: 0, Value: 3.0}}, batch.Cols[0])
	require.Empty(t, batch.Cols[1])
	require.Equal(t, []Entry{{Index: 2, Value: -4.0}, {Index: 0, Value: 1.0}}, batch.Cols[2])
	require.False(t, iter.Next())

	sub := dm.ColIterator([]int{2})
	require.True(t, sub.Next())
	require.Equal(t, []int{2}, sub.Value().ColIndex)
}

func TestDMatrixRejectsUnsortedRows(t *testing.T) {
	_, err := NewDMatrix([][]Entry{{{Index: 3, Value: 1.0}, {Index: 1, Value: 2.0}}}, 0)
	require.Error(t, err)
	_, err = NewDMatrix([][]Entry{{{Index: 5, Value: 1.0}}}, 2)
	require.Error(t, err)
}

func TestDMatrixFromDenseTreatsNaNAsMissing(t *testing.T) {
	dense := mat.NewDense(2, 3, []float64{
		1.0, math.NaN(), 3.0,
		math.NaN(), 5.0, 6.0,
	})
	dm, err := NewDMatrixFromDense(dense)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Index: 0, Value: 1.0}, {Index: 2, Value: 3.0}}, dm.Row(0))
	require.Equal(t, []Entry{{Index: 1, Value: 5.0}, {Index: 2, Value: 6.0}}, dm.Row(1))
}

func TestDMatrixFromTensor(t *testing.T) {
	backing := []float64{1.0, 2.0, math.NaN(), 4.0}
	dt := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(backing))
	dm, err := NewDMatrixFromTensor(dt)
	require.NoError(t, err)
	require.Equal(t, 2, dm.NumCol())
	require.Equal(t, []Entry{{Index: 0, Value: 1.0}, {Index: 1, Value: 2.0}}, dm.Row(0))
	require.Equal(t, []Entry{{Index: 1, Value: 4.0}}, dm.Row(1))
}

func TestNpyRoundTrip(t *testing.T) {
	dense := mat.NewDense(3, 2, []float64{
		1.0, -1.0,
		0.5, 2.0,
		3.0, 0.0,
	})
	filename := filepath.Join(t.TempDir(), "features.npy")
	require.NoError(t, WriteNpy(filename, dense))

	back, err := ReadNpy(filename)
	require.NoError(t, err)
	require.True(t, mat.EqualApprox(dense, back, 1e-12))

	dm, err := ReadDMatrixNpy(filename)
	require.NoError(t, err)
	require.Equal(t, 3, dm.NumRow())
	require.Equal(t, 2, dm.NumCol())
	require.Equal(t, []Entry{{Index: 0, Value: 0.5}, {Index: 1, Value: 2.0}}, dm.Row(1))
}

func TestShardKeepsOwnedColumnsOnly(t *testing.T) {
	rows := [][]Entry{
		{{Index: 0, Value: 1.0}, {Index: 1, Value: 2.0}, {Index: 2, Value: 3.0}},
		{{Index: 1, Value: 5.0}},
	}
	dm := mustDMatrix(t, rows, 3)
	shard := dm.Shard([]int{1})
	require.Equal(t, dm.NumCol(), shard.NumCol())
	require.Equal(t, dm.NumRow(), shard.NumRow())
	require.Equal(t, []Entry{{Index: 1, Value: 2.0}}, shard.Row(0))
	require.Equal(t, []Entry{{Index: 1, Value: 5.0}}, shard.Row(1))

	iter := shard.ColIterator(nil)
	require.True(t, iter.Next())
	batch := iter.Value()
	require.Empty(t, batch.Cols[0])
	require.Len(t, batch.Cols[1], 2)
}
