// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package buffer

import (
	"runtime"

	"go.uber.org/atomic"
)

// spinIterations is how many times Next spins before parking.
const spinIterations = 64

// ring is a lock-free bounded SPSC queue addressed by two monotonic
// sequence counters (published, consumed); claim/publish never wrap
// ahead of one outstanding slot per side, matching the processor's
// claim-fill-publish usage.
type ring struct {
	slots []Slot

	published atomic.Uint64 // slots published so far: sequence of the next slot the producer claims
	consumed  atomic.Uint64 // slots released so far: sequence of the next slot the consumer reads

	claimedIdx uint64 // producer-local: index currently claimed, valid only between Next/Publish
	takenIdx   uint64 // consumer-local: index currently taken, valid only between Next/Release

	producerWake WakeupFunc
	consumerWake WakeupFunc

	closed atomic.Bool
	notify chan struct{}
}

// NewRing returns a Queue backed by a lock-free ring buffer of capacity c
// (rounded up to a power of two) whose slots each have payload capacity
// slotCap, using HeapAlloc.
func NewRing(c, slotCap int) Queue {
	return NewRingWithAlloc(c, slotCap, HeapAlloc)
}

// NewRingWithAlloc is NewRing with an explicit slot Allocator, for the
// channel builder's useDirectBuffer/useHeapBuffer option.
func NewRingWithAlloc(c, slotCap int, alloc Allocator) Queue {
	c = nextPow2(c)
	r := &ring{
		slots:  make([]Slot, c),
		notify: make(chan struct{}, 1),
	}
	for i, data := range alloc(c, slotCap) {
		r.slots[i].Data = data
	}
	return r
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (r *ring) mask(i uint64) uint64 { return i % uint64(len(r.slots)) }

func (r *ring) Capacity() int { return len(r.slots) }

func (r *ring) Producer() Producer { return (*ringProducer)(r) }
func (r *ring) Consumer() Consumer { return (*ringConsumer)(r) }

func (r *ring) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *ring) isFull(published, consumed uint64) bool {
	return published-consumed >= uint64(len(r.slots))
}

type ringProducer ring

func (p *ringProducer) r() *ring { return (*ring)(p) }

func (p *ringProducer) TryNext() (*Slot, bool) {
	r := p.r()
	published := r.published.Load()
	consumed := r.consumed.Load()
	if r.isFull(published, consumed) {
		return nil, false
	}
	r.claimedIdx = published
	return &r.slots[r.mask(published)], true
}

func (p *ringProducer) Next() (*Slot, bool) {
	r := p.r()
	for i := 0; ; i++ {
		if r.closed.Load() {
			return nil, false
		}
		if slot, ok := p.TryNext(); ok {
			return slot, true
		}
		if i < spinIterations {
			runtime.Gosched()
			continue
		}
		<-r.notify
	}
}

func (p *ringProducer) Publish(slot *Slot) {
	r := p.r()
	wasEmpty := r.published.Load() == r.consumed.Load()
	r.published.Store(r.claimedIdx + 1)
	r.wake()
	if wasEmpty && r.consumerWake != nil {
		r.consumerWake()
	}
}

func (p *ringProducer) AttachWakeup(cb WakeupFunc) { p.r().producerWake = cb }

func (p *ringProducer) Close() {
	r := p.r()
	r.closed.Store(true)
	r.wake()
}

type ringConsumer ring

func (c *ringConsumer) r() *ring { return (*ring)(c) }

func (c *ringConsumer) TryNext() (*Slot, bool) {
	r := c.r()
	published := r.published.Load()
	consumed := r.consumed.Load()
	if consumed == published {
		return nil, false
	}
	r.takenIdx = consumed
	return &r.slots[r.mask(consumed)], true
}

func (c *ringConsumer) Next() (*Slot, bool) {
	r := c.r()
	for i := 0; ; i++ {
		if slot, ok := c.TryNext(); ok {
			return slot, true
		}
		if r.closed.Load() {
			return nil, false
		}
		if i < spinIterations {
			runtime.Gosched()
			continue
		}
		<-r.notify
	}
}

func (c *ringConsumer) Release(slot *Slot) {
	r := c.r()
	published := r.published.Load()
	consumed := r.consumed.Load()
	wasFull := r.isFull(published, consumed)
	r.consumed.Store(r.takenIdx + 1)
	r.wake()
	if wasFull && r.producerWake != nil {
		r.producerWake()
	}
}

func (c *ringConsumer) AttachWakeup(cb WakeupFunc) { c.r().consumerWake = cb }

func (c *ringConsumer) Len() int {
	r := c.r()
	return int(r.published.Load() - r.consumed.Load())
}

func (c *ringConsumer) Close() {
	r := c.r()
	r.closed.Store(true)
	r.wake()
}
