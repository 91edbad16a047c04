package gbl

import "log/slog"

//TreePruner walks a finished tree bottom-up and collapses internal nodes
//whose split did not pay for itself or that sit too deep. Collapsing one
//node can expose a new prunable parent, so the walk runs to a fixed point.
type TreePruner struct {
	param  *TrainParam
	Logger *slog.Logger
}

//NewTreePruner creates a pruner with the given parameters.
func NewTreePruner(param *TrainParam) *TreePruner {
	return &TreePruner{param: param}
}

//Update prunes every tree, with the same learning rate rescaling as the
//growing makers so recomputed leaf values keep their scale.
func (p *TreePruner) Update(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, trees []*RegTree) error {
	lr := p.param.LearningRate
	p.param.LearningRate = lr / float64(len(trees))
	defer func() { p.param.LearningRate = lr }()
	for _, tree := range trees {
		p.doPrune(tree)
	}
	return nil
}

func (p *TreePruner) doPrune(tree *RegTree) {
	for nid := range tree.Nodes {
		tree.Stat(nid).LeafChildCnt = 0
	}
	npruned := 0
	for nid := 0; nid < tree.Param.NumNodes; nid++ {
		node := &tree.Nodes[nid]
		if node.IsDeleted() || !node.IsLeaf() {
			continue
		}
		npruned = p.tryPruneLeaf(tree, nid, tree.GetDepth(nid), npruned)
	}
	tree.Param.MaxDepth = tree.MaxDepth()
	if p.Logger != nil {
		p.Logger.Debug("pruned tree", "pruned", npruned, "extra_nodes", tree.NumExtraNodes())
	}
}

//tryPruneLeaf records one more leaf child at the parent and collapses the
//parent once both children are leaves and the split is not worth keeping.
func (p *TreePruner) tryPruneLeaf(tree *RegTree, nid, depth, npruned int) int {
	if tree.Nodes[nid].IsRoot() {
		return npruned
	}
	pid := tree.Nodes[nid].Parent
	s := tree.Stat(pid)
	s.LeafChildCnt++
	if s.LeafChildCnt >= 2 && (s.LossChg < p.param.MinSplitLoss ||
		(p.param.MaxDepth != 0 && depth > p.param.MaxDepth)) {
		if err := tree.ChangeToLeaf(pid, s.BaseWeight*p.param.LearningRate); err != nil {
			return npruned
		}
		return p.tryPruneLeaf(tree, pid, depth-1, npruned+2)
	}
	return npruned
}
