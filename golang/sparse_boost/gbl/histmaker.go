package gbl

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

//histUnit is the histogram of one (node, feature) pair: the cut points and
//one statistic bucket per cut. The last cut always exceeds every observed
//value of the feature.
type histUnit struct {
	Cut  []float64
	Data []GradStats
}

//Add drops one observation into its bucket.
func (h *histUnit) Add(fvalue, grad, hess float64) error {
	i := upperBound(h.Cut, fvalue)
	if len(h.Cut) == 0 {
		return errors.New("histogram: insert into an empty unit")
	}
	if i >= len(h.Cut) {
		return errors.Errorf("histogram: fvalue %g above the cut range (cutmax %g)", fvalue, h.Cut[len(h.Cut)-1])
	}
	h.Data[i].Add(grad, hess)
	return nil
}

//upperBound returns the first index whose cut exceeds fvalue.
func upperBound(cuts []float64, fvalue float64) int {
	return sort.Search(len(cuts), func(i int) bool {
		return cuts[i] > fvalue
	})
}

//histSet is one worker's histogram storage. The cut layout (rptr and cut)
//is shared between the workers, only the statistic buckets are private.
type histSet struct {
	rptr []int
	cut  []float64
	data []GradStats
}

//unit returns the histogram of one (work index, feature) pair; the feature
//slot numFeature holds the node total.
func (hs *histSet) unit(fid, wid, numFeature int) histUnit {
	idx := fid + wid*(numFeature+1)
	return histUnit{
		Cut:  hs.cut[hs.rptr[idx]:hs.rptr[idx+1]],
		Data: hs.data[hs.rptr[idx]:hs.rptr[idx+1]],
	}
}

//nodeTotal gives access to the borrowed bucket holding the node statistic.
func (hs *histSet) nodeTotal(wid, numFeature int) *GradStats {
	idx := numFeature + wid*(numFeature+1)
	return &hs.data[hs.rptr[idx]]
}

//threadWSpace is the histogram workspace reused across the levels. The cut
//layout is rebuilt per level by the proposal step.
type threadWSpace struct {
	rptr []int
	cut  []float64
	hset []histSet
}

//initHists prepares cleared statistic storage for the given worker count
//under the current cut layout.
func (w *threadWSpace) initHists(nworker int) {
	w.hset = make([]histSet, nworker)
	for tid := range w.hset {
		w.hset[tid] = histSet{rptr: w.rptr, cut: w.cut, data: make([]GradStats, len(w.cut))}
	}
}

//aggregate folds every worker histogram into worker zero, in worker order.
func (w *threadWSpace) aggregate(nthread int) {
	parallelFor(nthread, len(w.cut), func(_, i int) {
		for tid := 1; tid < len(w.hset); tid++ {
			w.hset[0].data[i].AddStats(w.hset[tid].data[i])
		}
	})
}

//errOnce keeps the first error raised inside a parallel loop.
type errOnce struct {
	mu  sync.Mutex
	err error
}

func (e *errOnce) set(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

//HistMaker is the approximate split finder shared by the histogram based
//variants. The variants plug in how cut points are proposed and how the
//histograms are filled.
type HistMaker struct {
	baseMaker
	comm   Comm
	wspace threadWSpace

	resetPosAndPropose func(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error
	createHist         func(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error
}

//Update grows every tree in turn, rescaling the learning rate by the tree
//count for the duration of the call.
func (h *HistMaker) Update(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, trees []*RegTree) error {
	lr := h.param.LearningRate
	h.param.LearningRate = lr / float64(len(trees))
	defer func() { h.param.LearningRate = lr }()
	for _, tree := range trees {
		if err := h.updateTree(gpair, fmat, info, tree); err != nil {
			return err
		}
	}
	return nil
}

func (h *HistMaker) updateTree(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error {
	nthread := h.param.Nthread()
	if nthread < 1 {
		return errors.New("hist maker: no worker available for per-thread temporaries")
	}
	if err := h.initData(gpair, fmat, info.RootIndex, tree); err != nil {
		return err
	}
	for depth := 0; depth < h.param.MaxDepth; depth++ {
		if err := h.resetPosAndPropose(gpair, fmat, info, tree); err != nil {
			return err
		}
		if err := h.createHist(gpair, fmat, info, tree); err != nil {
			return err
		}
		if err := h.findSplit(tree, nthread); err != nil {
			return err
		}
		h.resetPositionCol(h.qexpand, fmat, tree, nthread)
		h.updateQueueExpand(tree)
		h.log().Debug("grew one level", "depth", depth, "frontier", len(h.qexpand), "nodes", tree.Param.NumNodes)
		if len(h.qexpand) == 0 {
			break
		}
	}
	for _, nid := range h.qexpand {
		tree.Nodes[nid].SetLeaf(tree.Stat(nid).BaseWeight*h.param.LearningRate, -1)
	}
	tree.Param.MaxDepth = tree.MaxDepth()
	return nil
}

//buildCuts lays out one monotone cut vector per (queued node, feature) out
//of the reduced quantile summaries, adding a sentinel above every observed
//value and the borrowed node-total slot per node.
func (h *HistMaker) buildCuts(summaries []WQSummary, numFeature int) error {
	h.wspace.cut = h.wspace.cut[:0]
	h.wspace.rptr = h.wspace.rptr[:0]
	h.wspace.rptr = append(h.wspace.rptr, 0)
	for wid := range h.qexpand {
		for fid := 0; fid < numFeature; fid++ {
			a := &summaries[wid*numFeature+fid]
			for i := 1; i < len(a.Data); i++ {
				cpt := a.Data[i].Value - rtEps
				if i == 1 || cpt > h.wspace.cut[len(h.wspace.cut)-1] {
					h.wspace.cut = append(h.wspace.cut, cpt)
				}
			}
			if len(a.Data) != 0 {
				cpt := a.Data[len(a.Data)-1].Value
				// this must be bigger than the last value in the scale
				h.wspace.cut = append(h.wspace.cut, cpt+absFloat(cpt)+rtEps)
			}
			h.wspace.rptr = append(h.wspace.rptr, len(h.wspace.cut))
		}
		// reserve one slot for the node statistic
		h.wspace.cut = append(h.wspace.cut, 0.0)
		h.wspace.rptr = append(h.wspace.rptr, len(h.wspace.cut))
	}
	if len(h.wspace.rptr) != (numFeature+1)*len(h.qexpand)+1 {
		return errors.New("hist maker: cut space inconsistent")
	}
	return nil
}

//enumerateHistSplit runs the forward and the backward sweep over the dense
//buckets of one (node, feature) histogram.
func (h *HistMaker) enumerateHistSplit(hist histUnit, nodeSum GradStats, fid int, best *SplitEntry, leftSum *GradStats) {
	if len(hist.Data) == 0 {
		return
	}
	rootGain := nodeSum.CalcGain(h.param)
	var s, c GradStats
	for i := 0; i < len(hist.Data); i++ {
		s.AddStats(hist.Data[i])
		if s.SumHess < h.param.MinChildWeight {
			continue
		}
		c.SetSubstract(nodeSum, s)
		if c.SumHess < h.param.MinChildWeight {
			continue
		}
		lossChg := s.CalcGain(h.param) + c.CalcGain(h.param) - rootGain
		if best.Update(lossChg, fid, hist.Cut[i], false) {
			*leftSum = s
		}
	}
	s.Clear()
	for i := len(hist.Data) - 1; i != 0; i-- {
		s.AddStats(hist.Data[i])
		if s.SumHess < h.param.MinChildWeight {
			continue
		}
		c.SetSubstract(nodeSum, s)
		if c.SumHess < h.param.MinChildWeight {
			continue
		}
		lossChg := s.CalcGain(h.param) + c.CalcGain(h.param) - rootGain
		if best.Update(lossChg, fid, hist.Cut[i-1], true) {
			*leftSum = c
		}
	}
}

//findSplit picks the best bucket cut per queued node and writes the
//resulting splits and statistics into the tree.
func (h *HistMaker) findSplit(tree *RegTree, nthread int) error {
	numFeature := tree.Param.NumFeature
	sol := make([]SplitEntry, len(h.qexpand))
	leftSum := make([]GradStats, len(h.qexpand))
	parallelFor(nthread, len(h.qexpand), func(_, wid int) {
		nodeSum := *h.wspace.hset[0].nodeTotal(wid, numFeature)
		for fid := 0; fid < numFeature; fid++ {
			h.enumerateHistSplit(h.wspace.hset[0].unit(fid, wid, numFeature), nodeSum, fid, &sol[wid], &leftSum[wid])
		}
	})
	for wid, nid := range h.qexpand {
		best := sol[wid]
		nodeSum := *h.wspace.hset[0].nodeTotal(wid, numFeature)
		h.setStats(tree, nid, nodeSum)
		tree.Stat(nid).LossChg = best.LossChg
		if best.LossChg > rtEps {
			tree.AddChilds(nid)
			tree.Nodes[nid].SetSplit(best.SplitIndex, best.SplitValue, best.DefaultLeft)
			tree.Nodes[tree.Nodes[nid].CLeft].SetLeaf(0.0, 0)
			tree.Nodes[tree.Nodes[nid].CRight].SetLeaf(0.0, 0)
			var rightSum GradStats
			rightSum.SetSubstract(nodeSum, leftSum[wid])
			h.setStats(tree, tree.Nodes[nid].CLeft, leftSum[wid])
			h.setStats(tree, tree.Nodes[nid].CRight, rightSum)
		} else {
			tree.Nodes[nid].SetLeaf(tree.Stat(nid).BaseWeight*h.param.LearningRate, -1)
		}
	}
	return nil
}

func (h *HistMaker) setStats(tree *RegTree, nid int, sum GradStats) {
	tree.Stat(nid).BaseWeight = sum.CalcWeight(h.param)
	tree.Stat(nid).SumHess = sum.SumHess
	sum.SetLeafVec(h.param, tree.LeafVec(nid))
}
