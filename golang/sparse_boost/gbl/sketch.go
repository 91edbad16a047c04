package gbl

import (
	"math"
	"sort"
)

//SketchEntry is one point of a weighted quantile summary. RMin and RMax
//bound the weighted rank of Value and Wmin is the weight observed exactly
//at Value.
type SketchEntry struct {
	RMin  float64
	RMax  float64
	Wmin  float64
	Value float64
}

func (e *SketchEntry) rminNext() float64 {
	return e.RMin + e.Wmin
}

func (e *SketchEntry) rmaxPrev() float64 {
	return e.RMax - e.Wmin
}

//WQSummary is a bounded size summary of a weighted value distribution. The
//entries are strictly increasing in value.
type WQSummary struct {
	Data []SketchEntry
}

//TotalWeight returns the weight the summary accounts for.
func (s *WQSummary) TotalWeight() float64 {
	if len(s.Data) == 0 {
		return 0.0
	}
	return s.Data[len(s.Data)-1].RMax
}

//MinValue and MaxValue bound the observed values.
func (s *WQSummary) MinValue() float64 {
	return s.Data[0].Value
}

func (s *WQSummary) MaxValue() float64 {
	return s.Data[len(s.Data)-1].Value
}

//CopyFrom replaces the receiver with a copy of src.
func (s *WQSummary) CopyFrom(src *WQSummary) {
	s.Data = append(s.Data[:0], src.Data...)
}

//SetPrune shrinks src into at most maxSize entries. The first and the last
//entry are always kept; the interior is sampled at evenly spaced ranks.
func (s *WQSummary) SetPrune(src *WQSummary, maxSize int) {
	if len(src.Data) <= maxSize || maxSize < 3 {
		s.CopyFrom(src)
		return
	}
	data := src.Data
	begin := data[0].RMax
	rrange := data[len(data)-1].RMin - begin
	n := maxSize - 1
	out := s.Data[:0]
	out = append(out, data[0])
	i := 1
	for k := 1; k < n; k++ {
		dx2 := 2.0*(float64(k)*rrange/float64(n)) + 2.0*begin
		for i < len(data)-1 && dx2 >= data[i].RMax+data[i].RMin {
			i++
		}
		if i == len(data)-1 {
			break
		}
		if data[i].Value > out[len(out)-1].Value {
			out = append(out, data[i])
		}
	}
	if data[len(data)-1].Value > out[len(out)-1].Value {
		out = append(out, data[len(data)-1])
	}
	s.Data = out
}

//SetCombine merges two summaries. Rank bounds of values present on only one
//side are widened by the neighbor bounds of the other side, which keeps the
//result a valid summary of the union.
func (s *WQSummary) SetCombine(a, b *WQSummary) {
	if len(a.Data) == 0 {
		s.CopyFrom(b)
		return
	}
	if len(b.Data) == 0 {
		s.CopyFrom(a)
		return
	}
	out := make([]SketchEntry, 0, len(a.Data)+len(b.Data))
	i, j := 0, 0
	// aprev/bprev are the rank bounds accumulated so far on each side
	aprevRmin, bprevRmin := 0.0, 0.0
	for i < len(a.Data) && j < len(b.Data) {
		ea, eb := &a.Data[i], &b.Data[j]
		switch {
		case ea.Value == eb.Value:
			out = append(out, SketchEntry{
				RMin:  ea.RMin + eb.RMin,
				RMax:  ea.RMax + eb.RMax,
				Wmin:  ea.Wmin + eb.Wmin,
				Value: ea.Value,
			})
			aprevRmin = ea.rminNext()
			bprevRmin = eb.rminNext()
			i++
			j++
		case ea.Value < eb.Value:
			out = append(out, SketchEntry{
				RMin:  ea.RMin + bprevRmin,
				RMax:  ea.RMax + eb.rmaxPrev(),
				Wmin:  ea.Wmin,
				Value: ea.Value,
			})
			aprevRmin = ea.rminNext()
			i++
		default:
			out = append(out, SketchEntry{
				RMin:  eb.RMin + aprevRmin,
				RMax:  eb.RMax + ea.rmaxPrev(),
				Wmin:  eb.Wmin,
				Value: eb.Value,
			})
			bprevRmin = eb.rminNext()
			j++
		}
	}
	for ; i < len(a.Data); i++ {
		ea := &a.Data[i]
		out = append(out, SketchEntry{
			RMin:  ea.RMin + b.TotalWeight(),
			RMax:  ea.RMax + b.TotalWeight(),
			Wmin:  ea.Wmin,
			Value: ea.Value,
		})
	}
	for ; j < len(b.Data); j++ {
		eb := &b.Data[j]
		out = append(out, SketchEntry{
			RMin:  eb.RMin + a.TotalWeight(),
			RMax:  eb.RMax + a.TotalWeight(),
			Wmin:  eb.Wmin,
			Value: eb.Value,
		})
	}
	s.Data = out
}

type valueWeight struct {
	value  float64
	weight float64
}

//WQSketch builds a weighted quantile summary from a stream of (value,
//weight) pushes. Values are buffered and condensed when the summary is
//requested.
type WQSketch struct {
	maxSize int
	buf     []valueWeight
}

//Init prepares the sketch for a stream of at most maxRows entries with the
//given target quantile error.
func (sk *WQSketch) Init(maxRows int, eps float64) {
	size := int(math.Ceil(1.0 / eps))
	if size < 3 {
		size = 3
	}
	sk.maxSize = size
	sk.buf = sk.buf[:0]
}

//Push feeds one weighted value. Pushes with no weight carry no rank
//information and are dropped.
func (sk *WQSketch) Push(value, weight float64) {
	if weight <= 0.0 {
		return
	}
	sk.buf = append(sk.buf, valueWeight{value: value, weight: weight})
}

//GetSummary condenses the pushed stream into a summary of at most the
//configured size.
func (sk *WQSketch) GetSummary() WQSummary {
	if len(sk.buf) == 0 {
		return WQSummary{}
	}
	sort.Slice(sk.buf, func(i, j int) bool {
		return sk.buf[i].value < sk.buf[j].value
	})
	exact := WQSummary{Data: make([]SketchEntry, 0, len(sk.buf))}
	cum := 0.0
	for i := 0; i < len(sk.buf); {
		j := i
		w := 0.0
		for j < len(sk.buf) && sk.buf[j].value == sk.buf[i].value {
			w += sk.buf[j].weight
			j++
		}
		exact.Data = append(exact.Data, SketchEntry{
			RMin:  cum,
			RMax:  cum + w,
			Wmin:  w,
			Value: sk.buf[i].value,
		})
		cum += w
		i = j
	}
	var out WQSummary
	out.SetPrune(&exact, sk.maxSize)
	return out
}
