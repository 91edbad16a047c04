package gbl

//GradPair carries the first and the second order derivative of the loss at
//one training row under the current model. A negative Hess marks the row as
//deleted for the tree being built.
type GradPair struct {
	Grad float64
	Hess float64
}

//BoosterInfo describes the dataset the gradients were computed on.
//RootIndex optionally assigns every row to one of the tree roots.
type BoosterInfo struct {
	NumRow    int
	NumCol    int
	RootIndex []int
}

//GradStats is the additive sufficient statistic of a set of rows. It is the
//only quantity the split search ever looks at: all gain and weight formulas
//are functions of the two sums.
type GradStats struct {
	SumGrad float64
	SumHess float64
}

//Clear resets the accumulated sums.
func (s *GradStats) Clear() {
	s.SumGrad, s.SumHess = 0.0, 0.0
}

//Empty reports whether no hessian weight has been accumulated.
func (s *GradStats) Empty() bool {
	return s.SumHess == 0.0
}

//Add accumulates one raw gradient pair.
func (s *GradStats) Add(grad, hess float64) {
	s.SumGrad += grad
	s.SumHess += hess
}

//AddPair accumulates the gradient pair of one row.
func (s *GradStats) AddPair(gpair []GradPair, ridx int) {
	s.SumGrad += gpair[ridx].Grad
	s.SumHess += gpair[ridx].Hess
}

//AddStats accumulates another statistic block.
func (s *GradStats) AddStats(b GradStats) {
	s.SumGrad += b.SumGrad
	s.SumHess += b.SumHess
}

//SetSubstract sets the receiver to a minus b. Together with the parent sum
//this yields the complement child of any accumulated side, which is what
//makes the forward and the backward sweeps symmetric.
func (s *GradStats) SetSubstract(a, b GradStats) {
	s.SumGrad = a.SumGrad - b.SumGrad
	s.SumHess = a.SumHess - b.SumHess
}

//CalcGain evaluates the structure score of the accumulated rows.
func (s *GradStats) CalcGain(param *TrainParam) float64 {
	return param.calcGain(s.SumGrad, s.SumHess)
}

//CalcWeight evaluates the optimal leaf weight of the accumulated rows.
func (s *GradStats) CalcWeight(param *TrainParam) float64 {
	return param.calcWeight(s.SumGrad, s.SumHess)
}

//SetLeafVec fills the extra leaf outputs. The scalar statistic carries no
//extra outputs, so the vector is zeroed.
func (s *GradStats) SetLeafVec(param *TrainParam, vec []float64) {
	for i := range vec {
		vec[i] = 0.0
	}
}
