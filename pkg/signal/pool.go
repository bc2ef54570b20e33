// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package signal

import (
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupFactor is the LRU cache's size relative to the bag's max size, wide
// enough to tolerate churn without the cache evicting an entry the bag
// still holds.
const dedupFactor = 8

// Pool is a concurrent bounded dedup set plus unordered bag. insert never
// blocks; sample blocks until an element is available. Fairness across
// waiters is not guaranteed, matching the pool's documented semantics.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	maxSize int
	closed  bool

	dedup *lru.Cache[uint64, struct{}]
	bag   map[uint64]Payload
}

// NewPool creates a pool with the given bag capacity. The dedup cache is
// sized to dedupFactor times maxSize.
func NewPool(maxSize int) *Pool {
	cache, err := lru.New[uint64, struct{}](maxSize * dedupFactor)
	if err != nil {
		// only returns an error for a non-positive size, which a caller
		// passing a sane maxSize never triggers.
		panic(err)
	}
	p := &Pool{
		maxSize: maxSize,
		dedup:   cache,
		bag:     make(map[uint64]Payload),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Insert adds a payload to the pool. It returns false if the payload's
// hash is already present in the dedup cache (a duplicate), true
// otherwise. On success, if the bag was empty one waiter is woken; if the
// bag now exceeds maxSize, one arbitrary existing element is evicted.
func (p *Pool) Insert(payload Payload) bool {
	h := payload.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.dedup.Get(h); ok {
		return false
	}
	p.dedup.Add(h, struct{}{})

	wasEmpty := len(p.bag) == 0
	p.bag[h] = payload

	if len(p.bag) > p.maxSize {
		p.evictLocked()
	}

	if wasEmpty {
		p.cond.Signal()
	}
	return true
}

// Sample removes and returns an arbitrary element, blocking until the bag
// is non-empty. Callers invoking Sample before any Insert block until the
// first successful insert. ok is false only when Close was called and the
// bag is, and remains, empty — the orchestrator's cooperative-shutdown
// wakeup signal.
func (p *Pool) Sample() (payload Payload, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.bag) == 0 {
		if p.closed {
			return Payload{}, false
		}
		p.cond.Wait()
	}

	for h, pl := range p.bag {
		delete(p.bag, h)
		return pl, true
	}
	// unreachable: the loop above guarantees len(p.bag) > 0
	return Payload{}, false
}

// Close marks the pool closed and wakes every blocked Sample call. The
// pool does not reject late inserts: Insert after Close still adds to the
// bag, and Sample keeps returning elements until the bag is empty.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cond.Broadcast()
}

// Len reports the current bag size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bag)
}

// evictLocked removes one arbitrary element from the bag. Called with
// p.mu held. Eviction is a bag property: the dedup cache entry is left in
// place so a re-gossiped duplicate of an evicted signal is still rejected
// for as long as it survives the cache's own LRU policy.
func (p *Pool) evictLocked() {
	n := rand.Intn(len(p.bag))
	i := 0
	for h := range p.bag {
		if i == n {
			delete(p.bag, h)
			return
		}
		i++
	}
}
