package gbl

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

//Comm is the collective communication surface the distributed makers rely
//on. Every AllReduce call must be entered by all peers with slices of equal
//length; the reduced result replaces the input in place on every peer.
type Comm interface {
	Rank() int
	WorldSize() int
	AllReduceStats(stats []GradStats) error
	AllReduceSplits(splits []SplitEntry) error
	AllReduceBitmap(bm *bitset.BitSet) error
	AllReduceSummaries(sums []WQSummary, maxSize int) error
	Broadcast(data []byte, root int) ([]byte, error)
}

//SingleNode is the degenerate communicator of a non-distributed run; every
//collective is a no-op.
type SingleNode struct{}

func (SingleNode) Rank() int                                { return 0 }
func (SingleNode) WorldSize() int                           { return 1 }
func (SingleNode) AllReduceStats([]GradStats) error         { return nil }
func (SingleNode) AllReduceSplits([]SplitEntry) error       { return nil }
func (SingleNode) AllReduceBitmap(*bitset.BitSet) error     { return nil }
func (SingleNode) AllReduceSummaries([]WQSummary, int) error { return nil }
func (SingleNode) Broadcast(data []byte, root int) ([]byte, error) {
	return data, nil
}

//LocalGroup is an in-process communicator connecting a fixed number of
//peers running in their own goroutines. It exists for tests and for single
//machine multi-shard runs.
type LocalGroup struct {
	world  int
	mu     sync.Mutex
	cond   *sync.Cond
	round  int
	inside int
	inputs []interface{}
	result interface{}
}

//NewLocalGroup creates a group of the given world size.
func NewLocalGroup(world int) *LocalGroup {
	g := &LocalGroup{world: world, inputs: make([]interface{}, world)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

//Peer returns the communicator of one rank.
func (g *LocalGroup) Peer(rank int) Comm {
	return &localPeer{group: g, rank: rank}
}

//exchange deposits one peer input, lets the last arriving peer combine all
//of them and hands the combined result to everybody.
func (g *LocalGroup) exchange(rank int, in interface{}, combine func(inputs []interface{}) interface{}) interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	round := g.round
	g.inputs[rank] = in
	g.inside++
	if g.inside == g.world {
		g.result = combine(g.inputs)
		g.inside = 0
		g.round++
		g.cond.Broadcast()
	} else {
		for round == g.round {
			g.cond.Wait()
		}
	}
	return g.result
}

type localPeer struct {
	group *LocalGroup
	rank  int
}

func (p *localPeer) Rank() int {
	return p.rank
}

func (p *localPeer) WorldSize() int {
	return p.group.world
}

func (p *localPeer) AllReduceStats(stats []GradStats) error {
	in := append([]GradStats(nil), stats...)
	res := p.group.exchange(p.rank, in, func(inputs []interface{}) interface{} {
		sum := append([]GradStats(nil), inputs[0].([]GradStats)...)
		for r := 1; r < len(inputs); r++ {
			other := inputs[r].([]GradStats)
			if len(other) != len(sum) {
				return errors.Errorf("stat AllReduce length mismatch: %d vs %d", len(other), len(sum))
			}
			for i := range sum {
				sum[i].AddStats(other[i])
			}
		}
		return sum
	})
	if err, ok := res.(error); ok {
		return err
	}
	copy(stats, res.([]GradStats))
	return nil
}

func (p *localPeer) AllReduceSplits(splits []SplitEntry) error {
	in := append([]SplitEntry(nil), splits...)
	res := p.group.exchange(p.rank, in, func(inputs []interface{}) interface{} {
		best := append([]SplitEntry(nil), inputs[0].([]SplitEntry)...)
		for r := 1; r < len(inputs); r++ {
			other := inputs[r].([]SplitEntry)
			if len(other) != len(best) {
				return errors.Errorf("split AllReduce length mismatch: %d vs %d", len(other), len(best))
			}
			for i := range best {
				best[i].UpdateEntry(other[i])
			}
		}
		return best
	})
	if err, ok := res.(error); ok {
		return err
	}
	copy(splits, res.([]SplitEntry))
	return nil
}

func (p *localPeer) AllReduceBitmap(bm *bitset.BitSet) error {
	res := p.group.exchange(p.rank, bm.Clone(), func(inputs []interface{}) interface{} {
		union := inputs[0].(*bitset.BitSet).Clone()
		for r := 1; r < len(inputs); r++ {
			union.InPlaceUnion(inputs[r].(*bitset.BitSet))
		}
		return union
	})
	res.(*bitset.BitSet).CopyFull(bm)
	return nil
}

func (p *localPeer) AllReduceSummaries(sums []WQSummary, maxSize int) error {
	in := make([]WQSummary, len(sums))
	for i := range sums {
		in[i].CopyFrom(&sums[i])
	}
	res := p.group.exchange(p.rank, in, func(inputs []interface{}) interface{} {
		acc := inputs[0].([]WQSummary)
		for r := 1; r < len(inputs); r++ {
			other := inputs[r].([]WQSummary)
			if len(other) != len(acc) {
				return errors.Errorf("summary AllReduce length mismatch: %d vs %d", len(other), len(acc))
			}
			for i := range acc {
				var combined, pruned WQSummary
				combined.SetCombine(&acc[i], &other[i])
				pruned.SetPrune(&combined, maxSize)
				acc[i] = pruned
			}
		}
		return acc
	})
	if err, ok := res.(error); ok {
		return err
	}
	reduced := res.([]WQSummary)
	for i := range sums {
		sums[i].CopyFrom(&reduced[i])
	}
	return nil
}

func (p *localPeer) Broadcast(data []byte, root int) ([]byte, error) {
	res := p.group.exchange(p.rank, append([]byte(nil), data...), func(inputs []interface{}) interface{} {
		return inputs[root]
	})
	return append([]byte(nil), res.([]byte)...), nil
}
