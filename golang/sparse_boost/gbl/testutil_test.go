package gbl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

//syntheticRegression builds a sparse regression dataset with a few percent
//of missing cells and the squared-loss gradients of the zero model.
func syntheticRegression(nrow, ncol int, seed int64) ([][]Entry, []float64, []GradPair) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]Entry, nrow)
	target := make([]float64, nrow)
	gpair := make([]GradPair, nrow)
	for i := 0; i < nrow; i++ {
		feat := make([]float64, ncol)
		present := make([]bool, ncol)
		row := make([]Entry, 0, ncol)
		for q := 0; q < ncol; q++ {
			if rng.Float64() < 0.05 {
				continue
			}
			feat[q] = rng.NormFloat64()
			present[q] = true
			row = append(row, Entry{Index: q, Value: feat[q]})
		}
		rows[i] = row
		y := 0.0
		if present[0] {
			y += 2.0 * feat[0]
		}
		if ncol > 1 && present[1] {
			y += math.Sin(3.0 * feat[1])
		}
		if ncol > 2 && present[2] && feat[2] > 0.0 {
			y += 1.5
		}
		y += 0.1 * rng.NormFloat64()
		target[i] = y
		// squared loss around the zero prediction
		gpair[i] = GradPair{Grad: -y, Hess: 1.0}
	}
	return rows, target, gpair
}

func mustDMatrix(t *testing.T, rows [][]Entry, numCol int) *DMatrix {
	t.Helper()
	dm, err := NewDMatrix(rows, numCol)
	require.NoError(t, err)
	return dm
}

func growTree(t *testing.T, param *TrainParam, gpair []GradPair, dm *DMatrix) *RegTree {
	t.Helper()
	up, err := NewUpdater(param, SingleNode{})
	require.NoError(t, err)
	tree := NewRegTree(dm.NumCol())
	info := &BoosterInfo{NumRow: dm.NumRow(), NumCol: dm.NumCol()}
	require.NoError(t, up.Update(gpair, dm, info, []*RegTree{tree}))
	return tree
}

//treeRMSE evaluates the single-tree prediction against a target.
func treeRMSE(tree *RegTree, rows [][]Entry, target []float64) float64 {
	fv := tree.NewFeatVector()
	sum := 0.0
	for i, row := range rows {
		diff := tree.PredictRow(row, &fv, 0) - target[i]
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(rows)))
}

//checkTreeInvariants verifies the structural properties every finished
//tree must satisfy.
func checkTreeInvariants(t *testing.T, tree *RegTree) {
	t.Helper()
	internal, leaves := 0, 0
	for nid := range tree.Nodes {
		node := &tree.Nodes[nid]
		if node.IsDeleted() {
			continue
		}
		if node.IsLeaf() {
			leaves++
			require.Equal(t, -1, node.CRight, "leaf %d still fresh", nid)
			continue
		}
		internal++
		left, right := node.CLeft, node.CRight
		require.Equal(t, left+1, right, "children of %d are not consecutive", nid)
		require.Equal(t, nid, tree.Nodes[left].Parent)
		require.Equal(t, nid, tree.Nodes[right].Parent)
		require.Contains(t, []int{left, right}, node.CDefault())
		childHess := tree.Stat(left).SumHess + tree.Stat(right).SumHess
		require.InDelta(t, tree.Stat(nid).SumHess, childHess, 1e-6,
			"stats of %d do not add up", nid)
	}
	require.Equal(t, internal, leaves-tree.Param.NumRoots,
		"number of leaves minus roots must equal number of internal nodes")
}
