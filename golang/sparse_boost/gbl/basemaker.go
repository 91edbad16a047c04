package gbl

import (
	"log/slog"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

//rowPos tracks where one row currently sits in the tree. Halted rows have
//landed in a finalized leaf or were dropped for this tree; they keep being
//routed so the node id stays valid, but no statistic collection looks at
//them anymore.
type rowPos struct {
	nid    int
	halted bool
}

//baseMaker carries the state every tree maker shares: the position of each
//row, the queue of nodes awaiting a split decision and the compact work
//index of the queued nodes.
type baseMaker struct {
	param          *TrainParam
	Logger         *slog.Logger
	position       []rowPos
	qexpand        []int
	node2workindex []int
	rng            *rand.Rand
}

func (b *baseMaker) log() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

//initData sets up position, applies the Bernoulli subsample and seeds the
//expansion queue with the roots.
func (b *baseMaker) initData(gpair []GradPair, fmat *DMatrix, rootIndex []int, tree *RegTree) error {
	if tree.Param.NumNodes != tree.Param.NumRoots {
		return errors.New("tree maker: can only grow a new tree")
	}
	if fmat.NumCol() > tree.Param.NumFeature {
		return errors.Errorf("matrix has %d features but the tree allows %d", fmat.NumCol(), tree.Param.NumFeature)
	}
	if len(gpair) != fmat.NumRow() {
		return errors.Errorf("got %d gradient pairs for %d rows", len(gpair), fmat.NumRow())
	}
	b.rng = rand.New(rand.NewSource(b.param.Seed))
	b.position = make([]rowPos, len(gpair))
	if len(rootIndex) != 0 {
		if len(rootIndex) != len(gpair) {
			return errors.Errorf("got %d root assignments for %d rows", len(rootIndex), len(gpair))
		}
		for i := range b.position {
			if rootIndex[i] >= tree.Param.NumRoots {
				return errors.Errorf("root index %d exceeds the number of roots", rootIndex[i])
			}
			b.position[i].nid = rootIndex[i]
		}
	}
	// rows deleted upstream carry a negative hessian
	for i := range b.position {
		if gpair[i].Hess < 0.0 {
			b.position[i].halted = true
		}
	}
	if b.param.Subsample < 1.0 {
		for i := range b.position {
			if gpair[i].Hess < 0.0 {
				continue
			}
			if b.rng.Float64() >= b.param.Subsample {
				b.position[i].halted = true
			}
		}
	}
	b.qexpand = b.qexpand[:0]
	for i := 0; i < tree.Param.NumRoots; i++ {
		b.qexpand = append(b.qexpand, i)
	}
	b.updateNode2WorkIndex(tree)
	return nil
}

//updateQueueExpand replaces the queue with the children of the nodes that
//got split, left child before right child.
func (b *baseMaker) updateQueueExpand(tree *RegTree) {
	newNodes := make([]int, 0, 2*len(b.qexpand))
	for _, nid := range b.qexpand {
		if !tree.Nodes[nid].IsLeaf() {
			newNodes = append(newNodes, tree.Nodes[nid].CLeft, tree.Nodes[nid].CRight)
		}
	}
	b.qexpand = newNodes
	b.updateNode2WorkIndex(tree)
}

func (b *baseMaker) updateNode2WorkIndex(tree *RegTree) {
	b.node2workindex = make([]int, tree.Param.NumNodes)
	for i := range b.node2workindex {
		b.node2workindex[i] = -1
	}
	for i, nid := range b.qexpand {
		b.node2workindex[nid] = i
	}
}

//decodePosition returns the node a row currently points at, halted or not.
func (b *baseMaker) decodePosition(ridx int) int {
	return b.position[ridx].nid
}

//setEncodePosition moves a row to a new node, preserving the halted flag.
func (b *baseMaker) setEncodePosition(ridx, nid int) {
	b.position[ridx].nid = nid
}

//active reports whether a row still takes part in statistic collection.
func (b *baseMaker) active(ridx int) bool {
	return !b.position[ridx].halted
}

//collectSplitFeatures gathers the distinct split features of the given
//nodes, sorted ascending.
func collectSplitFeatures(nodes []int, tree *RegTree, numCol int) []int {
	seen := map[int]bool{}
	for _, nid := range nodes {
		if !tree.Nodes[nid].IsLeaf() {
			fid := tree.Nodes[nid].SplitIndex
			if fid < numCol {
				seen[fid] = true
			}
		}
	}
	fsplits := make([]int, 0, len(seen))
	for fid := range seen {
		fsplits = append(fsplits, fid)
	}
	sort.Ints(fsplits)
	return fsplits
}

//setNonDefaultPositionCol routes every row that carries one of the split
//features into the matching child. Rows never seen here will be pushed to
//the default child by resetPositionCol.
func (b *baseMaker) setNonDefaultPositionCol(nodes []int, fmat *DMatrix, tree *RegTree, nthread int) {
	fsplits := collectSplitFeatures(nodes, tree, fmat.NumCol())
	iter := fmat.ColIterator(fsplits)
	for iter.Next() {
		batch := iter.Value()
		for i := range batch.Cols {
			col := batch.Cols[i]
			fid := batch.ColIndex[i]
			parallelFor(nthread, len(col), func(_, j int) {
				ridx := col[j].Index
				fvalue := col[j].Value
				nid := b.decodePosition(ridx)
				// go back to the parent, correct those who are not default
				if !tree.Nodes[nid].IsLeaf() && tree.Nodes[nid].SplitIndex == fid {
					if fvalue < tree.Nodes[nid].SplitCond {
						b.setEncodePosition(ridx, tree.Nodes[nid].CLeft)
					} else {
						b.setEncodePosition(ridx, tree.Nodes[nid].CRight)
					}
				}
			})
		}
	}
}

//resetPositionCol finishes one routing round: after the non-default pass
//has placed every row that carried a split feature, remaining rows take the
//default branch and rows sitting in finalized leaves are halted.
func (b *baseMaker) resetPositionCol(nodes []int, fmat *DMatrix, tree *RegTree, nthread int) {
	b.setNonDefaultPositionCol(nodes, fmat, tree, nthread)
	b.standardizePositions(fmat, tree, nthread)
}

//standardizePositions pushes rows still pointing at an internal node to its
//default child and halts rows that reached a finalized leaf.
func (b *baseMaker) standardizePositions(fmat *DMatrix, tree *RegTree, nthread int) {
	rowset := fmat.BufferedRowset()
	parallelFor(nthread, len(rowset), func(_, i int) {
		ridx := rowset[i]
		nid := b.decodePosition(ridx)
		if tree.Nodes[nid].IsLeaf() {
			// mark finish when it is not a fresh leaf
			if tree.Nodes[nid].CRight == -1 {
				b.position[ridx].halted = true
			}
		} else {
			b.setEncodePosition(ridx, tree.Nodes[nid].CDefault())
		}
	})
}

//getNodeStats sums the gradient pairs of the active rows per node. Partial
//sums are taken over fixed row chunks and merged in chunk order, so the
//result does not depend on the worker count.
func (b *baseMaker) getNodeStats(gpair []GradPair, fmat *DMatrix, tree *RegTree, nthread int) []GradStats {
	rowset := fmat.BufferedRowset()
	nchunk := (len(rowset) + statChunkSize - 1) / statChunkSize
	partial := make([][]GradStats, nchunk)
	parallelChunks(nthread, len(rowset), func(chunk, begin, end int) {
		stats := make([]GradStats, tree.Param.NumNodes)
		for i := begin; i < end; i++ {
			ridx := rowset[i]
			if !b.active(ridx) {
				continue
			}
			stats[b.decodePosition(ridx)].AddPair(gpair, ridx)
		}
		partial[chunk] = stats
	})
	total := make([]GradStats, tree.Param.NumNodes)
	for _, stats := range partial {
		for nid := range stats {
			total[nid].AddStats(stats[nid])
		}
	}
	return total
}

//nextLevel routes one sparse row through the split of the node it points
//at. Rows that miss the split feature take the default child.
func nextLevel(row []Entry, tree *RegTree, nid int) int {
	node := &tree.Nodes[nid]
	findex := node.SplitIndex
	for _, e := range row {
		if e.Index == findex {
			if e.Value < node.SplitCond {
				return node.CLeft
			}
			return node.CRight
		}
	}
	return node.CDefault()
}
