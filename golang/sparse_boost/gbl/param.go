package gbl

import (
	"math"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
)

//rtEps is the minimal second order statistic a node may carry before a split
//on it is considered numerically degenerate.
const rtEps = 1e-5

const rt2Eps = rtEps * 2.0

func sqr(a float64) float64 {
	return a * a
}

//TrainParam collects the training parameters recognized by every tree maker.
//Field values can be set directly or through SetParam using the textual
//configuration names.
type TrainParam struct {
	LearningRate     float64
	MinSplitLoss     float64
	MaxDepth         int
	MinChildWeight   float64
	RegLambda        float64
	RegAlpha         float64
	RegLambdaBias    float64
	Subsample        float64
	ColsampleBytree  float64
	ColsampleBylevel float64
	SketchEps        float64
	TreeMethod       string
	NumThreads       int
	Seed             int64
	SizeLeafVector   int
}

//NewTrainParam returns a parameter block filled with the default values.
func NewTrainParam() *TrainParam {
	return &TrainParam{
		LearningRate:     0.3,
		MinSplitLoss:     0.0,
		MaxDepth:         6,
		MinChildWeight:   1.0,
		RegLambda:        1.0,
		RegAlpha:         0.0,
		RegLambdaBias:    0.0,
		Subsample:        1.0,
		ColsampleBytree:  1.0,
		ColsampleBylevel: 1.0,
		SketchEps:        0.03,
		TreeMethod:       "exact",
		Seed:             0,
	}
}

//SetParam sets one parameter by name. Both the canonical names and the
//short aliases are recognized; unknown names are ignored so a caller may
//forward its whole configuration.
func (p *TrainParam) SetParam(name, val string) error {
	setFloat := func(dst *float64) error {
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.Wrapf(err, "parse parameter %s", name)
		}
		*dst = v
		return nil
	}
	setInt := func(dst *int) error {
		v, err := strconv.Atoi(val)
		if err != nil {
			return errors.Wrapf(err, "parse parameter %s", name)
		}
		*dst = v
		return nil
	}
	switch name {
	case "learning_rate", "eta":
		return setFloat(&p.LearningRate)
	case "min_split_loss", "gamma":
		return setFloat(&p.MinSplitLoss)
	case "max_depth":
		return setInt(&p.MaxDepth)
	case "min_child_weight":
		return setFloat(&p.MinChildWeight)
	case "reg_lambda", "lambda":
		return setFloat(&p.RegLambda)
	case "reg_alpha", "alpha":
		return setFloat(&p.RegAlpha)
	case "reg_lambda_bias", "lambda_bias":
		return setFloat(&p.RegLambdaBias)
	case "subsample":
		return setFloat(&p.Subsample)
	case "colsample_bytree":
		return setFloat(&p.ColsampleBytree)
	case "colsample_bylevel":
		return setFloat(&p.ColsampleBylevel)
	case "sketch_eps":
		return setFloat(&p.SketchEps)
	case "tree_method":
		p.TreeMethod = val
	case "nthread", "num_threads":
		return setInt(&p.NumThreads)
	case "seed":
		v, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse parameter %s", name)
		}
		p.Seed = v
	case "size_leaf_vector":
		return setInt(&p.SizeLeafVector)
	}
	return nil
}

//MaxSketchSize returns the entry budget of one quantile summary.
func (p *TrainParam) MaxSketchSize() int {
	return int(math.Ceil(1.0 / p.SketchEps))
}

//Nthread resolves the worker count, falling back to the machine size.
func (p *TrainParam) Nthread() int {
	if p.NumThreads > 0 {
		return p.NumThreads
	}
	return runtime.NumCPU()
}

func thresholdL1(w, alpha float64) float64 {
	if w > alpha {
		return w - alpha
	}
	if w < -alpha {
		return w + alpha
	}
	return 0.0
}

//calcGain is the structure score of a node holding the given sums.
//A hessian sum below rtEps makes the node degenerate and worth nothing.
func (p *TrainParam) calcGain(sumGrad, sumHess float64) float64 {
	if sumHess < rtEps {
		return 0.0
	}
	if p.RegAlpha == 0.0 {
		return sqr(sumGrad) / (sumHess + p.RegLambda)
	}
	return sqr(thresholdL1(sumGrad, p.RegAlpha)) / (sumHess + p.RegLambda)
}

//calcWeight is the optimal leaf weight for a node holding the given sums.
func (p *TrainParam) calcWeight(sumGrad, sumHess float64) float64 {
	if sumHess < rtEps {
		return 0.0
	}
	return -thresholdL1(sumGrad, p.RegAlpha) / (sumHess + p.RegLambda)
}
