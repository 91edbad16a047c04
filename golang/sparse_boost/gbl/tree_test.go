package gbl

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddChildsKeepsIndicesConsecutive(t *testing.T) {
	tree := NewRegTree(4)
	require.Equal(t, 1, tree.Param.NumNodes)
	require.True(t, tree.Nodes[0].IsLeaf())
	require.True(t, tree.Nodes[0].IsRoot())

	tree.AddChilds(0)
	require.Equal(t, 3, tree.Param.NumNodes)
	require.Equal(t, 1, tree.Nodes[0].CLeft)
	require.Equal(t, 2, tree.Nodes[0].CRight)
	require.Equal(t, 0, tree.Nodes[1].Parent)
	// fresh leaves stay expandable until finalized
	require.Equal(t, 0, tree.Nodes[1].CRight)
	tree.Nodes[1].SetLeaf(0.5, -1)
	require.Equal(t, -1, tree.Nodes[1].CRight)
}

func TestPredictHonorsDefaultDirection(t *testing.T) {
	tree := NewRegTree(2)
	tree.AddChilds(0)
	tree.Nodes[0].SetSplit(1, 0.5, false)
	tree.Nodes[1].SetLeaf(-1.0, -1)
	tree.Nodes[2].SetLeaf(+1.0, -1)

	fv := tree.NewFeatVector()
	// feature 1 absent: the default child is the right one
	require.Equal(t, 1.0, tree.PredictRow([]Entry{{Index: 0, Value: 3.0}}, &fv, 0))

	tree.Nodes[0].DefaultLeft = true
	require.Equal(t, -1.0, tree.PredictRow([]Entry{{Index: 0, Value: 3.0}}, &fv, 0))
	require.Equal(t, tree.Nodes[0].CLeft, tree.Nodes[0].CDefault())

	// present features steer by the split condition
	require.Equal(t, -1.0, tree.PredictRow([]Entry{{Index: 1, Value: 0.4}}, &fv, 0))
	require.Equal(t, 1.0, tree.PredictRow([]Entry{{Index: 1, Value: 0.6}}, &fv, 0))
}

func TestTreeSaveLoadRoundTrip(t *testing.T) {
	rows, _, gpair := syntheticRegression(300, 4, 77)
	param := NewTrainParam()
	param.MaxDepth = 4
	tree := growTree(t, param, gpair, mustDMatrix(t, rows, 4))

	var buf bytes.Buffer
	require.NoError(t, tree.Save(&buf))
	loaded, err := LoadRegTree(&buf)
	require.NoError(t, err)
	require.Equal(t, tree.Param, loaded.Param)
	require.Equal(t, tree.Nodes, loaded.Nodes)
	require.Equal(t, tree.Stats, loaded.Stats)

	fv := tree.NewFeatVector()
	lfv := loaded.NewFeatVector()
	for _, row := range rows[:32] {
		require.Equal(t, tree.PredictRow(row, &fv, 0), loaded.PredictRow(row, &lfv, 0))
	}
}

func TestTreeSaveFile(t *testing.T) {
	tree := NewRegTree(1)
	tree.AddChilds(0)
	tree.Nodes[0].SetSplit(0, 1.5, true)
	tree.Nodes[1].SetLeaf(-0.25, -1)
	tree.Nodes[2].SetLeaf(0.25, -1)

	filename := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, tree.SaveFile(filename))
	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	loaded, err := LoadRegTree(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, tree.Nodes, loaded.Nodes)
}

func TestDumpModel(t *testing.T) {
	tree := NewRegTree(1)
	tree.AddChilds(0)
	tree.Nodes[0].SetSplit(0, 1.5, true)
	tree.Nodes[1].SetLeaf(-0.25, -1)
	tree.Nodes[2].SetLeaf(0.25, -1)

	var buf strings.Builder
	tree.DumpModel(&buf, false)
	dump := buf.String()
	require.Contains(t, dump, "0:[f0<1.5] yes=1,no=2,missing=1")
	require.Contains(t, dump, "1:leaf=-0.25")
	require.Contains(t, dump, "2:leaf=0.25")
}

func TestDrawGraph(t *testing.T) {
	tree := NewRegTree(1)
	tree.AddChilds(0)
	tree.Nodes[0].SetSplit(0, 1.5, false)
	tree.Nodes[1].SetLeaf(-0.25, -1)
	tree.Nodes[2].SetLeaf(0.25, -1)

	graphViz, graph, err := tree.DrawGraph()
	require.NoError(t, err)
	require.NotNil(t, graphViz)
	require.NotNil(t, graph)
}
