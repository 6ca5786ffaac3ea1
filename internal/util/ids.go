package util

import (
	"math/rand"
	"sync/atomic"
)

const maxIDSeed = 1_000_000

// SequentialIDProvider hands out monotonically increasing ids starting at a
// random seed in [0, 1e6). Each channel and resource manager owns its own.
type SequentialIDProvider struct {
	next atomic.Uint64
}

func NewSequentialIDProvider() *SequentialIDProvider {
	return NewSequentialIDProviderFrom(uint64(rand.Intn(maxIDSeed)))
}

func NewSequentialIDProviderFrom(seed uint64) *SequentialIDProvider {
	p := &SequentialIDProvider{}
	p.next.Store(seed)
	return p
}

func (p *SequentialIDProvider) Next() uint64 {
	return p.next.Add(1) - 1
}
