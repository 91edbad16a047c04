package gbl

//QuantileHistMaker proposes cut points from row batches: every batch is
//transposed into a node local column layout first, then the per (node,
//feature) sketches are fed feature by feature.
type QuantileHistMaker struct {
	HistMaker
	sketches []WQSketch
}

//NewQuantileHistMaker creates the row scanning histogram maker.
func NewQuantileHistMaker(param *TrainParam, comm Comm) *QuantileHistMaker {
	m := &QuantileHistMaker{}
	m.param = param
	if comm == nil {
		comm = SingleNode{}
	}
	m.comm = comm
	m.resetPosAndPropose = m.proposeCuts
	m.createHist = m.buildHist
	return m
}

func (m *QuantileHistMaker) proposeCuts(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error {
	numFeature := tree.Param.NumFeature
	nthread := m.param.Nthread()
	m.sketches = make([]WQSketch, len(m.qexpand)*numFeature)
	for i := range m.sketches {
		m.sketches[i].Init(info.NumRow, m.param.SketchEps)
	}
	iter := fmat.RowIterator()
	for iter.Next() {
		batch := iter.Value()
		// bring every active row to its latest leaf and halt the ones that
		// landed outside the working set
		parallelFor(nthread, len(batch.Rows), func(_, i int) {
			ridx := batch.BaseRowID + i
			if !m.active(ridx) {
				return
			}
			nid := m.decodePosition(ridx)
			if !tree.Nodes[nid].IsLeaf() {
				nid = nextLevel(batch.Rows[i], tree, nid)
				m.setEncodePosition(ridx, nid)
			}
			if m.node2workindex[nid] < 0 {
				m.position[ridx].halted = true
			}
		})
		// transpose the batch into a column layout restricted to the rows
		// that still matter
		colData := make([][]Entry, numFeature)
		for i := range batch.Rows {
			ridx := batch.BaseRowID + i
			if !m.active(ridx) {
				continue
			}
			for _, e := range batch.Rows[i] {
				colData[e.Index] = append(colData[e.Index], Entry{Index: ridx, Value: e.Value})
			}
		}
		parallelFor(nthread, numFeature, func(_, fid int) {
			for _, e := range colData[fid] {
				wid := m.node2workindex[m.decodePosition(e.Index)]
				if wid >= 0 {
					m.sketches[wid*numFeature+fid].Push(e.Value, gpair[e.Index].Hess)
				}
			}
		})
	}
	maxSize := m.param.MaxSketchSize()
	summaries := make([]WQSummary, len(m.sketches))
	for i := range m.sketches {
		summaries[i] = m.sketches[i].GetSummary()
	}
	if err := m.comm.AllReduceSummaries(summaries, maxSize); err != nil {
		return err
	}
	return m.buildCuts(summaries, numFeature)
}

func (m *QuantileHistMaker) buildHist(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error {
	numFeature := tree.Param.NumFeature
	nthread := m.param.Nthread()
	m.wspace.initHists(nthread)
	var firstErr errOnce
	iter := fmat.RowIterator()
	for iter.Next() {
		batch := iter.Value()
		parallelFor(nthread, len(batch.Rows), func(tid, i int) {
			ridx := batch.BaseRowID + i
			if !m.active(ridx) {
				return
			}
			wid := m.node2workindex[m.decodePosition(ridx)]
			if wid < 0 {
				return
			}
			hset := &m.wspace.hset[tid]
			for _, e := range batch.Rows[i] {
				unit := hset.unit(e.Index, wid, numFeature)
				if err := unit.Add(e.Value, gpair[ridx].Grad, gpair[ridx].Hess); err != nil {
					firstErr.set(err)
					return
				}
			}
			// the node statistic borrows the slot past the last feature
			hset.nodeTotal(wid, numFeature).AddPair(gpair, ridx)
		})
	}
	if firstErr.err != nil {
		return firstErr.err
	}
	m.wspace.aggregate(nthread)
	return m.comm.AllReduceStats(m.wspace.hset[0].data)
}
