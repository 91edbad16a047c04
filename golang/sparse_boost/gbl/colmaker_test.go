package gbl

import (
	"reflect"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func TestColMakerSingleFeatureTwoRows(t *testing.T) {
	rows := [][]Entry{
		{{Index: 0, Value: 1.0}},
		{{Index: 0, Value: 2.0}},
	}
	gpair := []GradPair{{Grad: +1, Hess: 1}, {Grad: -1, Hess: 1}}
	param := NewTrainParam()
	param.MaxDepth = 1
	param.RegLambda = 0.0
	param.LearningRate = 0.3

	tree := growTree(t, param, gpair, mustDMatrix(t, rows, 0))

	root := &tree.Nodes[0]
	require.False(t, root.IsLeaf())
	require.Equal(t, 0, root.SplitIndex)
	require.Greater(t, root.SplitCond, 1.0)
	require.Less(t, root.SplitCond, 2.0)

	left, right := &tree.Nodes[root.CLeft], &tree.Nodes[root.CRight]
	require.True(t, left.IsLeaf())
	require.True(t, right.IsLeaf())
	require.InDelta(t, -param.LearningRate, left.LeafValue, 1e-9)
	require.InDelta(t, +param.LearningRate, right.LeafValue, 1e-9)
	checkTreeInvariants(t, tree)
}

func TestColMakerMissingValueRouting(t *testing.T) {
	rows := [][]Entry{
		{{Index: 0, Value: 1.0}},
		{{Index: 0, Value: 2.0}},
		{}, // every feature absent
	}
	gpair := []GradPair{{Grad: +2, Hess: 1}, {Grad: -2, Hess: 1}, {Grad: +5, Hess: 1}}
	param := NewTrainParam()
	param.MaxDepth = 1
	param.RegLambda = 0.0
	param.LearningRate = 0.1

	dm := mustDMatrix(t, rows, 1)
	tree := growTree(t, param, gpair, dm)

	root := &tree.Nodes[0]
	require.False(t, root.IsLeaf())
	require.True(t, root.DefaultLeft, "the default direction must join the missing row with the small values")
	require.InDelta(t, -3.5*param.LearningRate, tree.Nodes[root.CLeft].LeafValue, 1e-9)
	require.InDelta(t, +2.0*param.LearningRate, tree.Nodes[root.CRight].LeafValue, 1e-9)

	// the row with every feature absent lands in the default child
	fv := tree.NewFeatVector()
	require.Equal(t, root.CDefault(), tree.GetLeafIndex(fv.Feat, fv.Unknown, 0))
	checkTreeInvariants(t, tree)
}

func TestColMakerRowsEndInLeaves(t *testing.T) {
	rows, _, gpair := syntheticRegression(600, 5, 11)
	param := NewTrainParam()
	param.MaxDepth = 4
	param.NumThreads = 3

	dm := mustDMatrix(t, rows, 5)
	maker := NewColMaker(param)
	maker.Logger = slogt.New(t)
	tree := NewRegTree(dm.NumCol())
	info := &BoosterInfo{NumRow: dm.NumRow(), NumCol: dm.NumCol()}
	require.NoError(t, maker.Update(gpair, dm, info, []*RegTree{tree}))

	for ridx := range rows {
		nid := maker.decodePosition(ridx)
		require.True(t, tree.Nodes[nid].IsLeaf(), "row %d stopped at internal node %d", ridx, nid)
	}
	checkTreeInvariants(t, tree)
}

func TestColMakerSubsampleRepeatability(t *testing.T) {
	rows, _, gpair := syntheticRegression(400, 4, 3)
	dm := mustDMatrix(t, rows, 4)

	build := func(seed int64) *RegTree {
		param := NewTrainParam()
		param.MaxDepth = 3
		param.Subsample = 0.6
		param.Seed = seed
		return growTree(t, param, gpair, dm)
	}

	first := build(42)
	second := build(42)
	require.True(t, reflect.DeepEqual(first.Nodes, second.Nodes),
		"same seed must reproduce the same tree")
	require.True(t, reflect.DeepEqual(first.Stats, second.Stats))
}

func TestColMakerDeterministicAcrossThreadCounts(t *testing.T) {
	rows, _, gpair := syntheticRegression(5000, 8, 7)
	dm := mustDMatrix(t, rows, 8)

	var reference *RegTree
	for _, nthread := range []int{1, 2, 4, 8} {
		param := NewTrainParam()
		param.MaxDepth = 5
		param.NumThreads = nthread
		tree := growTree(t, param, gpair, dm)
		if reference == nil {
			reference = tree
			checkTreeInvariants(t, tree)
			continue
		}
		require.True(t, reflect.DeepEqual(reference.Nodes, tree.Nodes),
			"structure differs at %d threads", nthread)
		require.True(t, reflect.DeepEqual(reference.Stats, tree.Stats),
			"stats differ at %d threads", nthread)
	}
}

func TestColMakerColumnSampling(t *testing.T) {
	rows, _, gpair := syntheticRegression(500, 6, 19)
	param := NewTrainParam()
	param.MaxDepth = 3
	param.ColsampleBytree = 0.5
	param.ColsampleBylevel = 0.5
	param.Seed = 9

	tree := growTree(t, param, gpair, mustDMatrix(t, rows, 6))
	checkTreeInvariants(t, tree)

	again := growTree(t, param, gpair, mustDMatrix(t, rows, 6))
	require.True(t, reflect.DeepEqual(tree.Nodes, again.Nodes),
		"column sampling must be reproducible under a fixed seed")
}
