package gbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetParamAliases(t *testing.T) {
	p := NewTrainParam()
	require.NoError(t, p.SetParam("eta", "0.1"))
	require.NoError(t, p.SetParam("gamma", "2.5"))
	require.NoError(t, p.SetParam("lambda", "0.25"))
	require.NoError(t, p.SetParam("max_depth", "9"))
	require.NoError(t, p.SetParam("tree_method", "approx"))
	require.NoError(t, p.SetParam("sketch_eps", "0.02"))
	require.NoError(t, p.SetParam("seed", "77"))
	// unknown names are forwarded configuration, not errors
	require.NoError(t, p.SetParam("objective", "reg:squarederror"))

	require.Equal(t, 0.1, p.LearningRate)
	require.Equal(t, 2.5, p.MinSplitLoss)
	require.Equal(t, 0.25, p.RegLambda)
	require.Equal(t, 9, p.MaxDepth)
	require.Equal(t, "approx", p.TreeMethod)
	require.Equal(t, 50, p.MaxSketchSize())
	require.Equal(t, int64(77), p.Seed)

	require.Error(t, p.SetParam("eta", "not-a-number"))
}

func TestNewUpdaterSelection(t *testing.T) {
	p := NewTrainParam()
	for _, method := range []string{"exact", "approx", "hist", "quantile", "distcol"} {
		p.TreeMethod = method
		up, err := NewUpdater(p, nil)
		require.NoError(t, err, method)
		require.NotNil(t, up, method)
	}
	p.TreeMethod = "gpu_hist"
	_, err := NewUpdater(p, nil)
	require.Error(t, err)
}
