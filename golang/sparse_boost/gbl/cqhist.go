package gbl

//CQHistMaker proposes cut points and fills histograms by scanning column
//batches. One pass per level builds a weighted quantile sketch per (queued
//node, feature); a column covering every row trusts the precomputed node
//statistic instead of summing its weight first.
type CQHistMaker struct {
	HistMaker
	sketches  []WQSketch
	nodeStats []GradStats
}

//NewCQHistMaker creates the column scanning histogram maker.
func NewCQHistMaker(param *TrainParam, comm Comm) *CQHistMaker {
	m := &CQHistMaker{}
	m.param = param
	if comm == nil {
		comm = SingleNode{}
	}
	m.comm = comm
	m.resetPosAndPropose = m.proposeCuts
	m.createHist = m.buildHist
	return m
}

func (m *CQHistMaker) proposeCuts(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error {
	numFeature := tree.Param.NumFeature
	nthread := m.param.Nthread()
	m.nodeStats = m.getNodeStats(gpair, fmat, tree, nthread)
	m.sketches = make([]WQSketch, len(m.qexpand)*numFeature)
	for i := range m.sketches {
		m.sketches[i].Init(info.NumRow, m.param.SketchEps)
	}
	nrows := len(fmat.BufferedRowset())
	iter := fmat.ColIterator(nil)
	pool := NewPool(nthread)
	for iter.Next() {
		batch := iter.Value()
		for i := range batch.Cols {
			col := batch.Cols[i]
			fid := batch.ColIndex[i]
			pool.AddTask(taskFunc(func(_ int) {
				m.updateSketchCol(col, fid, len(col) == nrows, gpair, numFeature)
			}))
		}
	}
	pool.Close()
	pool.WaitAll()
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

//updateSketchCol feeds one column into the per node sketches. Columns of
//a single distinct value contribute one pushed point carrying the whole
//node weight.
func (m *CQHistMaker) updateSketchCol(col []Entry, fid int, colFull bool, gpair []GradPair, numFeature int) {
	if len(col) == 0 {
		return
	}
	sumTotal := make([]float64, len(m.qexpand))
	if colFull {
		for wid, nid := range m.qexpand {
			sumTotal[wid] = m.nodeStats[nid].SumHess
		}
	} else {
		// first pass, get the sum of weight per node
		for _, e := range col {
			if !m.active(e.Index) {
				continue
			}
			wid := m.node2workindex[m.decodePosition(e.Index)]
			if wid >= 0 {
				sumTotal[wid] += gpair[e.Index].Hess
			}
		}
	}
	// with only one value there is no need for a second pass
	if col[0].Value == col[len(col)-1].Value {
		for wid := range m.qexpand {
			if sumTotal[wid] > 0.0 {
				m.sketches[wid*numFeature+fid].Push(col[0].Value, sumTotal[wid])
			}
		}
		return
	}
	for _, e := range col {
		if !m.active(e.Index) {
			continue
		}
		wid := m.node2workindex[m.decodePosition(e.Index)]
		if wid >= 0 {
			m.sketches[wid*numFeature+fid].Push(e.Value, gpair[e.Index].Hess)
		}
	}
}

func (m *CQHistMaker) buildHist(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, tree *RegTree) error {
	numFeature := tree.Param.NumFeature
	nthread := m.param.Nthread()
	// every (node, feature) unit is owned by exactly one column task, so a
	// single histogram set is enough
	m.wspace.initHists(1)
	var firstErr errOnce
	iter := fmat.ColIterator(nil)
	pool := NewPool(nthread)
	for iter.Next() {
		batch := iter.Value()
		for i := range batch.Cols {
			col := batch.Cols[i]
			fid := batch.ColIndex[i]
			pool.AddTask(taskFunc(func(_ int) {
				firstErr.set(m.updateHistCol(col, fid, gpair, numFeature))
			}))
		}
	}
	pool.Close()
	pool.WaitAll()
	if firstErr.err != nil {
		return firstErr.err
	}
	for wid, nid := range m.qexpand {
		*m.wspace.hset[0].nodeTotal(wid, numFeature) = m.nodeStats[nid]
	}
	return m.comm.AllReduceStats(m.wspace.hset[0].data)
}

func (m *CQHistMaker) updateHistCol(col []Entry, fid int, gpair []GradPair, numFeature int) error {
	if len(col) == 0 {
		return nil
	}
	units := make([]histUnit, len(m.qexpand))
	for wid := range m.qexpand {
		units[wid] = m.wspace.hset[0].unit(fid, wid, numFeature)
	}
	for _, e := range col {
		if !m.active(e.Index) {
			continue
		}
		wid := m.node2workindex[m.decodePosition(e.Index)]
		if wid < 0 {
			continue
		}
		if err := units[wid].Add(e.Value, gpair[e.Index].Grad, gpair[e.Index].Hess); err != nil {
			return err
		}
	}
	return nil
}
