package chunkval

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

type (
	Population struct {
		Size       int
		Self       int
		MaxSamples int
	}
	// Sample is the outcome of one sampling attempt. A degraded sample carries
	// the reason the requested size could not be honoured; the round proceeds
	// with whatever UIDs it holds.
	Sample struct {
		UIDs     []int
		Degraded bool
		Reason   string
	}
)

type Sampler interface {
	Sample(Population) Sample
}

var _ Sampler = (*RandomSampler)(nil)

// RandomSampler picks peers uniformly at random without replacement.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomSampler(seed uint64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSampler) Sample(pop Population) Sample {
	candidates := make([]int, 0, max(pop.Size, 0))
	for uid := 0; uid < pop.Size; uid++ {
		if uid != pop.Self {
			candidates = append(candidates, uid)
		}
	}

	k := min(pop.MaxSamples, pop.Size)
	if k > 0 && k <= len(candidates) {
		return Sample{UIDs: s.pick(candidates, k)}
	}

	degraded := Sample{
		Degraded: true,
		Reason: fmt.Sprintf("cannot sample %d of %d peers excluding self (%d candidates)",
			pop.MaxSamples, pop.Size, len(candidates)),
	}
	if len(candidates) > 0 {
		degraded.UIDs = s.pick(candidates, 1)
	}
	return degraded
}

// pick runs a partial Fisher-Yates shuffle over candidates.
func (s *RandomSampler) pick(candidates []int, k int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return append([]int(nil), candidates[:k]...)
}
