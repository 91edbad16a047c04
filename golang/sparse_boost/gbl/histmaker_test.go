package gbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func histParam(method string) *TrainParam {
	param := NewTrainParam()
	param.MaxDepth = 6
	param.SketchEps = 0.01
	param.TreeMethod = method
	return param
}

func TestHistMakerMatchesExactOnHeldOut(t *testing.T) {
	trainRows, trainTarget, gpair := syntheticRegression(1000, 3, 101)
	testRows, testTarget, _ := syntheticRegression(400, 3, 202)
	_ = trainTarget

	dm := mustDMatrix(t, trainRows, 3)

	exact := growTree(t, histParam("exact"), gpair, dm)
	exactRMSE := treeRMSE(exact, testRows, testTarget)

	for _, method := range []string{"approx", "quantile"} {
		tree := growTree(t, histParam(method), gpair, dm)
		checkTreeInvariants(t, tree)
		histRMSE := treeRMSE(tree, testRows, testTarget)
		require.LessOrEqual(t, histRMSE, exactRMSE*1.05,
			"tree_method %s strayed too far from the exact tree (%g vs %g)", method, histRMSE, exactRMSE)
	}
}

func TestCQHistMakerSimpleSplit(t *testing.T) {
	rows := [][]Entry{
		{{Index: 0, Value: 1.0}},
		{{Index: 0, Value: 2.0}},
	}
	gpair := []GradPair{{Grad: +1, Hess: 1}, {Grad: -1, Hess: 1}}
	param := histParam("approx")
	param.MaxDepth = 1
	param.RegLambda = 0.0
	param.LearningRate = 0.3

	tree := growTree(t, param, gpair, mustDMatrix(t, rows, 0))
	root := &tree.Nodes[0]
	require.False(t, root.IsLeaf())
	require.Equal(t, 0, root.SplitIndex)
	require.Greater(t, root.SplitCond, 1.0)
	require.LessOrEqual(t, root.SplitCond, 2.0)
	require.InDelta(t, -param.LearningRate, tree.Nodes[root.CLeft].LeafValue, 1e-6)
	require.InDelta(t, +param.LearningRate, tree.Nodes[root.CRight].LeafValue, 1e-6)
	checkTreeInvariants(t, tree)
}

func TestHistMakerRowsEndInLeaves(t *testing.T) {
	rows, _, gpair := syntheticRegression(800, 4, 23)
	dm := mustDMatrix(t, rows, 4)
	for _, mk := range []string{"approx", "quantile"} {
		param := histParam(mk)
		param.MaxDepth = 4
		var base *HistMaker
		var up Updater
		switch mk {
		case "approx":
			m := NewCQHistMaker(param, nil)
			base, up = &m.HistMaker, m
		default:
			m := NewQuantileHistMaker(param, nil)
			base, up = &m.HistMaker, m
		}
		tree := NewRegTree(dm.NumCol())
		info := &BoosterInfo{NumRow: dm.NumRow(), NumCol: dm.NumCol()}
		require.NoError(t, up.Update(gpair, dm, info, []*RegTree{tree}))
		for ridx := range rows {
			nid := base.decodePosition(ridx)
			require.True(t, tree.Nodes[nid].IsLeaf(),
				"%s: row %d stopped at internal node %d", mk, ridx, nid)
		}
		checkTreeInvariants(t, tree)
	}
}

func TestHistMakerConstantTargetStaysALeaf(t *testing.T) {
	rows := make([][]Entry, 64)
	gpair := make([]GradPair, 64)
	for i := range rows {
		rows[i] = []Entry{{Index: 0, Value: float64(i % 8)}}
		gpair[i] = GradPair{Grad: 0.0, Hess: 1.0}
	}
	param := histParam("approx")
	tree := growTree(t, param, gpair, mustDMatrix(t, rows, 1))
	require.True(t, tree.Nodes[0].IsLeaf())
	require.Equal(t, 0, tree.NumExtraNodes())
}
