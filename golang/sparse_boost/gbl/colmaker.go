package gbl

import (
	"github.com/pkg/errors"
)

//nodeEntry is the per node bookkeeping of the exact maker: the aggregate
//statistic of the rows sitting in the node, the gain of keeping it whole,
//its optimal weight and the best split found so far.
type nodeEntry struct {
	stats    GradStats
	rootGain float64
	weight   float64
	best     SplitEntry
}

//threadEntry is the per (worker, node) accumulator of one column sweep.
type threadEntry struct {
	stats      GradStats
	lastFValue float64
	best       SplitEntry
}

//ColMaker is the exact greedy split finder. It enumerates every presorted
//column twice per level, once ascending and once descending, so both
//default directions of the missing rows are priced.
type ColMaker struct {
	baseMaker
	snode     []nodeEntry
	stemp     [][]threadEntry
	featIndex []int

	// hooks the distributed wrapper overrides
	syncSolution  func(qexpand []int) error
	setNonDefault func(nodes []int, fmat *DMatrix, tree *RegTree, nthread int) error
}

//NewColMaker creates an exact maker with the given parameters.
func NewColMaker(param *TrainParam) *ColMaker {
	c := &ColMaker{}
	c.param = param
	return c
}

//Update grows every tree in turn. The learning rate is divided by the
//number of trees so the sum of the outputs keeps the intended scale.
func (c *ColMaker) Update(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, trees []*RegTree) error {
	lr := c.param.LearningRate
	c.param.LearningRate = lr / float64(len(trees))
	defer func() { c.param.LearningRate = lr }()
	for _, tree := range trees {
		if err := c.updateTree(gpair, fmat, info, tree); err != nil {
			return err
		}
	}
	return nil
}

func (c *ColMaker) updateTree(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error {
	nthread := c.param.Nthread()
	if nthread < 1 {
		return errors.New("col maker: no worker available for per-thread temporaries")
	}
	if err := c.initData(gpair, fmat, info.RootIndex, tree); err != nil {
		return err
	}
	c.snode = c.snode[:0]
	c.stemp = make([][]threadEntry, nthread)
	c.sampleFeatures(fmat.NumCol())
	if err := c.initNewNode(gpair, fmat, tree, nthread); err != nil {
		return err
	}
	for depth := 0; depth < c.param.MaxDepth; depth++ {
		if err := c.findSplit(gpair, fmat, tree, nthread); err != nil {
			return err
		}
		if err := c.resetPosition(c.qexpand, fmat, tree, nthread); err != nil {
			return err
		}
		c.updateQueueExpand(tree)
		if err := c.initNewNode(gpair, fmat, tree, nthread); err != nil {
			return err
		}
		c.log().Debug("grew one level", "depth", depth, "frontier", len(c.qexpand), "nodes", tree.Param.NumNodes)
		if len(c.qexpand) == 0 {
			break
		}
	}
	// remaining frontier nodes become leaves
	for _, nid := range c.qexpand {
		tree.Nodes[nid].SetLeaf(c.snode[nid].weight*c.param.LearningRate, -1)
	}
	// copy the collected statistics into the tree
	for nid := 0; nid < tree.Param.NumNodes; nid++ {
		stat := tree.Stat(nid)
		stat.LossChg = c.snode[nid].best.LossChg
		stat.BaseWeight = c.snode[nid].weight
		stat.SumHess = c.snode[nid].stats.SumHess
		c.snode[nid].stats.SetLeafVec(c.param, tree.LeafVec(nid))
	}
	tree.Param.MaxDepth = tree.MaxDepth()
	return nil
}

//sampleFeatures draws the per-tree feature subset.
func (c *ColMaker) sampleFeatures(numCol int) {
	c.featIndex = make([]int, numCol)
	for i := range c.featIndex {
		c.featIndex[i] = i
	}
	if c.param.ColsampleBytree < 1.0 {
		c.rng.Shuffle(len(c.featIndex), func(i, j int) {
			c.featIndex[i], c.featIndex[j] = c.featIndex[j], c.featIndex[i]
		})
		n := int(c.param.ColsampleBytree * float64(numCol))
		if n < 1 {
			n = 1
		}
		c.featIndex = c.featIndex[:n]
	}
}

//levelFeatures draws the per-level feature subset out of the tree subset.
func (c *ColMaker) levelFeatures() []int {
	if c.param.ColsampleBylevel >= 1.0 {
		return c.featIndex
	}
	fset := append([]int(nil), c.featIndex...)
	c.rng.Shuffle(len(fset), func(i, j int) {
		fset[i], fset[j] = fset[j], fset[i]
	})
	n := int(c.param.ColsampleBylevel * float64(len(c.featIndex)))
	if n < 1 {
		n = 1
	}
	return fset[:n]
}

//initNewNode aggregates the statistic of every queued node and prepares the
//per worker accumulators.
func (c *ColMaker) initNewNode(gpair []GradPair, fmat *DMatrix, tree *RegTree, nthread int) error {
	for len(c.snode) < tree.Param.NumNodes {
		c.snode = append(c.snode, nodeEntry{})
	}
	for tid := range c.stemp {
		c.stemp[tid] = make([]threadEntry, tree.Param.NumNodes)
	}
	total := c.getNodeStats(gpair, fmat, tree, nthread)
	for _, nid := range c.qexpand {
		stats := total[nid]
		if stats.SumHess < 0.0 {
			return errors.Errorf("node %d accumulated a negative hessian sum", nid)
		}
		c.snode[nid].stats = stats
		c.snode[nid].rootGain = stats.CalcGain(c.param)
		c.snode[nid].weight = stats.CalcWeight(c.param)
		c.snode[nid].best = SplitEntry{}
	}
	return nil
}

//findSplit runs the two sweeps over every candidate column, reduces the per
//worker bests and writes the winning splits into the tree.
func (c *ColMaker) findSplit(gpair []GradPair, fmat *DMatrix, tree *RegTree, nthread int) error {
	fset := c.levelFeatures()
	iter := fmat.ColIterator(fset)
	pool := NewPool(nthread)
	for iter.Next() {
		batch := iter.Value()
		for i := range batch.Cols {
			col := batch.Cols[i]
			fid := batch.ColIndex[i]
			pool.AddTask(taskFunc(func(worker int) {
				c.enumerateSplit(col, fid, +1, gpair, worker)
				c.enumerateSplit(col, fid, -1, gpair, worker)
			}))
		}
	}
	pool.Close()
	pool.WaitAll()
	if err := c.syncBestSolution(c.qexpand); err != nil {
		return err
	}
	for _, nid := range c.qexpand {
		e := &c.snode[nid]
		if e.best.LossChg > rtEps {
			tree.AddChilds(nid)
			tree.Nodes[nid].SetSplit(e.best.SplitIndex, e.best.SplitValue, e.best.DefaultLeft)
			tree.Nodes[tree.Nodes[nid].CLeft].SetLeaf(0.0, 0)
			tree.Nodes[tree.Nodes[nid].CRight].SetLeaf(0.0, 0)
		} else {
			tree.Nodes[nid].SetLeaf(e.weight*c.param.LearningRate, -1)
		}
	}
	return nil
}

//enumerateSplit scans one presorted column in the given direction. The
//accumulator e.stats holds the rows already passed; the complement comp is
//obtained from the node total, which is where the missing rows implicitly end up and
//why the sweep direction decides the proposed default direction.
func (c *ColMaker) enumerateSplit(col []Entry, fid, dstep int, gpair []GradPair, worker int) {
	temp := c.stemp[worker]
	for _, nid := range c.qexpand {
		temp[nid].stats.Clear()
	}
	begin, end := 0, len(col)
	if dstep == -1 {
		begin, end = len(col)-1, -1
	}
	var comp GradStats
	for j := begin; j != end; j += dstep {
		ridx := col[j].Index
		fvalue := col[j].Value
		if !c.active(ridx) {
			continue
		}
		nid := c.decodePosition(ridx)
		if c.node2workindex[nid] < 0 {
			continue
		}
		e := &temp[nid]
		if e.stats.Empty() {
			e.lastFValue = fvalue
		} else if fvalue != e.lastFValue {
			if e.stats.SumHess >= c.param.MinChildWeight {
				comp.SetSubstract(c.snode[nid].stats, e.stats)
				if comp.SumHess >= c.param.MinChildWeight {
					lossChg := e.stats.CalcGain(c.param) + comp.CalcGain(c.param) - c.snode[nid].rootGain
					e.best.Update(lossChg, fid, (fvalue+e.lastFValue)*0.5, dstep == -1)
				}
			}
		}
		e.stats.AddPair(gpair, ridx)
		e.lastFValue = fvalue
	}
	// the candidate at the open end of the column, placed past the last
	// observed value so it never equals a training value
	for _, nid := range c.qexpand {
		e := &temp[nid]
		if e.stats.Empty() || e.stats.SumHess < c.param.MinChildWeight {
			continue
		}
		comp.SetSubstract(c.snode[nid].stats, e.stats)
		if comp.SumHess < c.param.MinChildWeight {
			continue
		}
		lossChg := e.stats.CalcGain(c.param) + comp.CalcGain(c.param) - c.snode[nid].rootGain
		gap := absFloat(e.lastFValue) + rtEps
		if dstep == -1 {
			gap = -gap
		}
		e.best.Update(lossChg, fid, e.lastFValue+gap, dstep == -1)
	}
}

//syncBestSolution folds the per worker bests into the node entries. The
//distributed wrapper extends this with an AllReduce over the peers.
func (c *ColMaker) syncBestSolution(qexpand []int) error {
	for _, nid := range qexpand {
		for tid := range c.stemp {
			c.snode[nid].best.UpdateEntry(c.stemp[tid][nid].best)
		}
	}
	if c.syncSolution != nil {
		return c.syncSolution(qexpand)
	}
	return nil
}

//resetPosition routes the rows of the split nodes to their children.
func (c *ColMaker) resetPosition(nodes []int, fmat *DMatrix, tree *RegTree, nthread int) error {
	if c.setNonDefault != nil {
		if err := c.setNonDefault(nodes, fmat, tree, nthread); err != nil {
			return err
		}
	} else {
		c.setNonDefaultPositionCol(nodes, fmat, tree, nthread)
	}
	c.standardizePositions(fmat, tree, nthread)
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
