package gbl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

//TreeNode is one node of a regression tree. The tree is stored in an array;
//CLeft and CRight hold array indices of the children and CLeft is -1 when
//the node is a leaf. A leaf keeps CRight equal to 0 while it is fresh, i.e.
//still a candidate for expansion, and -1 once it has been finalized.
type TreeNode struct {
	Parent      int
	CLeft       int
	CRight      int
	SplitIndex  int
	SplitCond   float64
	DefaultLeft bool
	LeafValue   float64
}

//IsLeaf returns whether this node carries a leaf payload.
func (n *TreeNode) IsLeaf() bool {
	return n.CLeft == -1
}

//IsRoot returns whether this node has no parent.
func (n *TreeNode) IsRoot() bool {
	return n.Parent == -1
}

//IsDeleted returns whether the node was removed by pruning.
func (n *TreeNode) IsDeleted() bool {
	return n.SplitIndex == deletedMark
}

//CDefault is the child a row goes to when the split feature is absent:
//the left child when DefaultLeft is set, the right child otherwise.
func (n *TreeNode) CDefault() int {
	if n.DefaultLeft {
		return n.CLeft
	}
	return n.CRight
}

//SetSplit turns the node into an internal node splitting on the given
//feature. The children must have been allocated already.
func (n *TreeNode) SetSplit(splitIndex int, splitCond float64, defaultLeft bool) {
	n.SplitIndex = splitIndex
	n.SplitCond = splitCond
	n.DefaultLeft = defaultLeft
}

//SetLeaf turns the node into a leaf carrying the given value. The right
//argument is the fresh-leaf marker: 0 keeps the leaf expandable, -1
//finalizes it.
func (n *TreeNode) SetLeaf(value float64, right int) {
	n.LeafValue = value
	n.CLeft = -1
	n.CRight = right
}

const deletedMark = -2

//RTreeNodeStat is the per node aggregate statistic written next to the
//structural payload.
type RTreeNodeStat struct {
	LossChg      float64
	SumHess      float64
	BaseWeight   float64
	LeafChildCnt int
}

//TreeParam is the header of a serialized tree.
type TreeParam struct {
	NumRoots       int
	NumNodes       int
	NumDeleted     int
	NumFeature     int
	MaxDepth       int
	SizeLeafVector int
}

//RegTree is an array backed regression tree with per node statistics and an
//optional vector of extra leaf outputs.
type RegTree struct {
	Param    TreeParam
	Nodes    []TreeNode
	Stats    []RTreeNodeStat
	LeafVecs [][]float64
}

//NewRegTree creates a tree holding only root leaves.
func NewRegTree(numFeature int) *RegTree {
	return NewRegTreeWithRoots(numFeature, 1)
}

//NewRegTreeWithRoots creates a tree with the given number of root leaves.
func NewRegTreeWithRoots(numFeature, numRoots int) *RegTree {
	t := &RegTree{
		Param: TreeParam{NumRoots: numRoots, NumFeature: numFeature},
	}
	for i := 0; i < numRoots; i++ {
		t.allocNode()
		t.Nodes[i].SetLeaf(0.0, 0)
	}
	return t
}

func (t *RegTree) allocNode() int {
	nid := len(t.Nodes)
	t.Nodes = append(t.Nodes, TreeNode{Parent: -1, CLeft: -1, CRight: 0})
	t.Stats = append(t.Stats, RTreeNodeStat{})
	if t.Param.SizeLeafVector > 0 {
		t.LeafVecs = append(t.LeafVecs, make([]float64, t.Param.SizeLeafVector))
	}
	t.Param.NumNodes = len(t.Nodes)
	return nid
}

//AddChilds appends two fresh leaf children to the given node. The children
//always occupy consecutive indices.
func (t *RegTree) AddChilds(nid int) {
	left := t.allocNode()
	right := t.allocNode()
	t.Nodes[nid].CLeft = left
	t.Nodes[nid].CRight = right
	t.Nodes[left].Parent = nid
	t.Nodes[right].Parent = nid
	t.Nodes[left].SetLeaf(0.0, 0)
	t.Nodes[right].SetLeaf(0.0, 0)
}

//ChangeToLeaf collapses an internal node whose children are leaves back
//into a leaf with the given value.
func (t *RegTree) ChangeToLeaf(nid int, value float64) error {
	left, right := t.Nodes[nid].CLeft, t.Nodes[nid].CRight
	if !t.Nodes[left].IsLeaf() || !t.Nodes[right].IsLeaf() {
		return errors.Errorf("ChangeToLeaf: children of node %d are not leaves", nid)
	}
	t.deleteNode(left)
	t.deleteNode(right)
	t.Nodes[nid].SetLeaf(value, -1)
	return nil
}

func (t *RegTree) deleteNode(nid int) {
	t.Nodes[nid].Parent = -1
	t.Nodes[nid].SplitIndex = deletedMark
	t.Nodes[nid].SetLeaf(0.0, -1)
	t.Param.NumDeleted++
}

//Stat gives access to the aggregate statistic of one node.
func (t *RegTree) Stat(nid int) *RTreeNodeStat {
	return &t.Stats[nid]
}

//LeafVec returns the extra output vector of one node, nil when the tree
//carries none.
func (t *RegTree) LeafVec(nid int) []float64 {
	if t.Param.SizeLeafVector == 0 {
		return nil
	}
	return t.LeafVecs[nid]
}

//GetDepth returns the depth of a node, roots being at depth zero.
func (t *RegTree) GetDepth(nid int) int {
	depth := 0
	for !t.Nodes[nid].IsRoot() {
		depth++
		nid = t.Nodes[nid].Parent
	}
	return depth
}

//MaxDepth returns the largest node depth of the tree.
func (t *RegTree) MaxDepth() int {
	maxd := 0
	for nid := range t.Nodes {
		if t.Nodes[nid].IsDeleted() {
			continue
		}
		if d := t.GetDepth(nid); d > maxd {
			maxd = d
		}
	}
	return maxd
}

//NumExtraNodes counts the nodes beyond the roots that are still alive.
func (t *RegTree) NumExtraNodes() int {
	return t.Param.NumNodes - t.Param.NumRoots - t.Param.NumDeleted
}

//FeatVector is a dense scratch representation of one sparse row used during
//prediction. One instance per worker is enough.
type FeatVector struct {
	Feat    []float64
	Unknown []bool
}

//NewFeatVector allocates a scratch vector matching the tree width.
func (t *RegTree) NewFeatVector() FeatVector {
	fv := FeatVector{
		Feat:    make([]float64, t.Param.NumFeature),
		Unknown: make([]bool, t.Param.NumFeature),
	}
	for i := range fv.Unknown {
		fv.Unknown[i] = true
	}
	return fv
}

//Fill loads a sparse row into the scratch vector.
func (fv *FeatVector) Fill(row []Entry) {
	for _, e := range row {
		fv.Feat[e.Index] = e.Value
		fv.Unknown[e.Index] = false
	}
}

//Drop clears the entries the row had set so the vector can be reused.
func (fv *FeatVector) Drop(row []Entry) {
	for _, e := range row {
		fv.Unknown[e.Index] = true
	}
}

//GetLeafIndex walks the tree from the given root and returns the leaf the
//feature vector lands in. Unknown features take the default direction.
func (t *RegTree) GetLeafIndex(feat []float64, funknown []bool, root int) int {
	nid := root
	for !t.Nodes[nid].IsLeaf() {
		split := t.Nodes[nid].SplitIndex
		if funknown[split] {
			nid = t.Nodes[nid].CDefault()
		} else if feat[split] < t.Nodes[nid].SplitCond {
			nid = t.Nodes[nid].CLeft
		} else {
			nid = t.Nodes[nid].CRight
		}
	}
	return nid
}

//Predict returns the leaf value for a dense feature vector.
func (t *RegTree) Predict(feat []float64, funknown []bool, root int) float64 {
	return t.Nodes[t.GetLeafIndex(feat, funknown, root)].LeafValue
}

//PredictRow returns the leaf value for one sparse row.
func (t *RegTree) PredictRow(row []Entry, fv *FeatVector, root int) float64 {
	fv.Fill(row)
	value := t.Predict(fv.Feat, fv.Unknown, root)
	fv.Drop(row)
	return value
}

//Save serializes the tree, header and statistics included.
func (t *RegTree) Save(w io.Writer) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal tree")
	}
	_, err = w.Write(raw)
	return errors.Wrap(err, "write tree")
}

//SaveFile serializes the tree into a file.
func (t *RegTree) SaveFile(filename string) error {
	dest, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "can't open file %s to write", filename)
	}
	defer dest.Close()
	return t.Save(dest)
}

//LoadRegTree reads back a tree written by Save.
func LoadRegTree(r io.Reader) (*RegTree, error) {
	tree := &RegTree{}
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(tree); err != nil {
		return nil, errors.Wrap(err, "decode tree")
	}
	if tree.Param.NumNodes != len(tree.Nodes) || len(tree.Nodes) != len(tree.Stats) {
		return nil, errors.New("decode tree: header does not match node array")
	}
	return tree, nil
}

//DumpModel writes an indented textual rendering of the tree.
func (t *RegTree) DumpModel(w io.Writer, withStats bool) {
	for root := 0; root < t.Param.NumRoots; root++ {
		t.dumpNode(w, root, 0, withStats)
	}
}

func (t *RegTree) dumpNode(w io.Writer, nid, depth int, withStats bool) {
	for i := 0; i < depth; i++ {
		fmt.Fprint(w, "\t")
	}
	node := &t.Nodes[nid]
	if node.IsLeaf() {
		fmt.Fprintf(w, "%d:leaf=%g", nid, node.LeafValue)
	} else {
		fmt.Fprintf(w, "%d:[f%d<%g] yes=%d,no=%d,missing=%d",
			nid, node.SplitIndex, node.SplitCond, node.CLeft, node.CRight, node.CDefault())
	}
	if withStats {
		s := t.Stats[nid]
		fmt.Fprintf(w, ",gain=%g,cover=%g", s.LossChg, s.SumHess)
	}
	fmt.Fprintln(w)
	if !node.IsLeaf() {
		t.dumpNode(w, node.CLeft, depth+1, withStats)
		t.dumpNode(w, node.CRight, depth+1, withStats)
	}
}
