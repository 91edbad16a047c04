package gbl

import (
	"bytes"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

//DistColMaker wraps the exact maker for column sharded training. Each peer
//owns a subset of the features; the per node best splits are reduced across
//the peers and the rows that take a non-default direction are agreed on
//through an OR-reduced bitmap.
type DistColMaker struct {
	param   *TrainParam
	comm    Comm
	builder *ColMaker
	pruner  *TreePruner
}

//NewDistColMaker creates the distributed maker on the given communicator.
func NewDistColMaker(param *TrainParam, comm Comm) *DistColMaker {
	if comm == nil {
		comm = SingleNode{}
	}
	d := &DistColMaker{
		param:   param,
		comm:    comm,
		builder: NewColMaker(param),
		pruner:  NewTreePruner(param),
	}
	d.builder.syncSolution = d.syncBestSolution
	d.builder.setNonDefault = d.setNonDefaultPosition
	return d
}

//Update grows one tree, prunes it and broadcasts the result from rank zero
//so every peer ends up with an identical structure.
func (d *DistColMaker) Update(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, trees []*RegTree) error {
	if len(trees) != 1 {
		return errors.New("dist col maker: only support one tree at a time")
	}
	if err := d.builder.Update(gpair, fmat, info, trees); err != nil {
		return err
	}
	if err := d.pruner.Update(gpair, fmat, info, trees); err != nil {
		return err
	}
	return d.syncTree(trees[0])
}

//syncBestSolution reduces the per node candidates across the peers. The
//reduction operator is SplitEntry.Update itself.
func (d *DistColMaker) syncBestSolution(qexpand []int) error {
	vec := make([]SplitEntry, len(qexpand))
	for i, nid := range qexpand {
		vec[i] = d.builder.snode[nid].best
	}
	if err := d.comm.AllReduceSplits(vec); err != nil {
		return errors.Wrap(err, "reduce split candidates")
	}
	for i, nid := range qexpand {
		d.builder.snode[nid].best = vec[i]
	}
	return nil
}

//setNonDefaultPosition routes rows using only the locally owned columns,
//then agrees on the union of the non-default rows with the peers. A set bit
//sends the row to the non-default child.
func (d *DistColMaker) setNonDefaultPosition(nodes []int, fmat *DMatrix, tree *RegTree, nthread int) error {
	b := &d.builder.baseMaker
	fsplits := collectSplitFeatures(nodes, tree, fmat.NumCol())
	bm := bitset.New(uint(len(b.position)))
	iter := fmat.ColIterator(fsplits)
	for iter.Next() {
		batch := iter.Value()
		for i := range batch.Cols {
			col := batch.Cols[i]
			fid := batch.ColIndex[i]
			// bit writes of nearby rows share a word, keep this pass serial
			for j := range col {
				ridx := col[j].Index
				fvalue := col[j].Value
				nid := b.decodePosition(ridx)
				node := &tree.Nodes[nid]
				if node.IsLeaf() || node.SplitIndex != fid {
					continue
				}
				if fvalue < node.SplitCond {
					if !node.DefaultLeft {
						bm.Set(uint(ridx))
					}
				} else {
					if node.DefaultLeft {
						bm.Set(uint(ridx))
					}
				}
			}
		}
	}
	if err := d.comm.AllReduceBitmap(bm); err != nil {
		return errors.Wrap(err, "reduce direction bitmap")
	}
	rowset := fmat.BufferedRowset()
	var firstErr errOnce
	parallelFor(nthread, len(rowset), func(_, i int) {
		ridx := rowset[i]
		if !bm.Test(uint(ridx)) {
			return
		}
		nid := b.decodePosition(ridx)
		node := &tree.Nodes[nid]
		if node.IsLeaf() {
			firstErr.set(errors.Errorf("row %d: inconsistent reduce information", ridx))
			return
		}
		if node.DefaultLeft {
			b.setEncodePosition(ridx, node.CRight)
		} else {
			b.setEncodePosition(ridx, node.CLeft)
		}
	})
	return firstErr.err
}

//syncTree replaces every peer's tree with the one grown on rank zero.
func (d *DistColMaker) syncTree(tree *RegTree) error {
	var buf bytes.Buffer
	if d.comm.Rank() == 0 {
		if err := tree.Save(&buf); err != nil {
			return err
		}
	}
	raw, err := d.comm.Broadcast(buf.Bytes(), 0)
	if err != nil {
		return errors.Wrap(err, "broadcast tree")
	}
	if d.comm.Rank() != 0 {
		loaded, err := LoadRegTree(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		*tree = *loaded
	}
	return nil
}
