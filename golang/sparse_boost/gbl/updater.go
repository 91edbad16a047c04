package gbl

import "github.com/pkg/errors"

//Updater mutates freshly initialized trees into finished ones using the
//given gradient stream and feature matrix.
type Updater interface {
	Update(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, trees []*RegTree) error
}

//updaterSeq runs several updaters back to back, the way a growing maker is
//followed by the pruner.
type updaterSeq []Updater

func (seq updaterSeq) Update(gpair []GradPair, fmat *DMatrix, info *BoosterInfo, trees []*RegTree) error {
	for _, up := range seq {
		if err := up.Update(gpair, fmat, info, trees); err != nil {
			return err
		}
	}
	return nil
}

//NewUpdater selects the maker named by tree_method and chains the pruner
//behind it. The distributed maker prunes and synchronizes on its own.
func NewUpdater(param *TrainParam, comm Comm) (Updater, error) {
	switch param.TreeMethod {
	case "", "exact":
		return updaterSeq{NewColMaker(param), NewTreePruner(param)}, nil
	case "approx", "hist":
		return updaterSeq{NewCQHistMaker(param, comm), NewTreePruner(param)}, nil
	case "quantile":
		return updaterSeq{NewQuantileHistMaker(param, comm), NewTreePruner(param)}, nil
	case "distcol":
		return NewDistColMaker(param, comm), nil
	}
	return nil, errors.Errorf("unknown tree_method %q", param.TreeMethod)
}
