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

import "sync"

// blockingQueue implements the same Producer/Consumer contract as ring,
// using a mutex and two condition variables instead of atomics.
type blockingQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	slots  []Slot
	head   int // next slot index to claim/read
	tail   int // next slot index to publish/write
	count  int
	closed bool

	claimedIdx int
	takenIdx   int

	producerWake WakeupFunc
	consumerWake WakeupFunc
}

// NewBlocking returns a Queue backed by a mutex/condvar ring of capacity c
// whose slots each have payload capacity slotCap, using HeapAlloc.
func NewBlocking(c, slotCap int) Queue {
	return NewBlockingWithAlloc(c, slotCap, HeapAlloc)
}

// NewBlockingWithAlloc is NewBlocking with an explicit slot Allocator.
func NewBlockingWithAlloc(c, slotCap int, alloc Allocator) Queue {
	if c < 1 {
		c = 1
	}
	q := &blockingQueue{slots: make([]Slot, c)}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	for i, data := range alloc(c, slotCap) {
		q.slots[i].Data = data
	}
	return q
}

func (q *blockingQueue) Capacity() int { return len(q.slots) }

func (q *blockingQueue) Producer() Producer { return (*blockingProducer)(q) }
func (q *blockingQueue) Consumer() Consumer { return (*blockingConsumer)(q) }

type blockingProducer blockingQueue

func (p *blockingProducer) q() *blockingQueue { return (*blockingQueue)(p) }

func (p *blockingProducer) TryNext() (*Slot, bool) {
	q := p.q()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count >= len(q.slots) {
		return nil, false
	}
	q.claimedIdx = q.tail
	return &q.slots[q.claimedIdx], true
}

func (p *blockingProducer) Next() (*Slot, bool) {
	q := p.q()
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count >= len(q.slots) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed && q.count >= len(q.slots) {
		return nil, false
	}
	q.claimedIdx = q.tail
	return &q.slots[q.claimedIdx], true
}

func (p *blockingProducer) Publish(*Slot) {
	q := p.q()
	q.mu.Lock()
	q.tail = (q.claimedIdx + 1) % len(q.slots)
	q.count++
	wasEmpty := q.count == 1
	cb := q.consumerWake
	q.mu.Unlock()
	q.notEmpty.Signal()
	if wasEmpty && cb != nil {
		cb()
	}
}

func (p *blockingProducer) AttachWakeup(cb WakeupFunc) {
	q := p.q()
	q.mu.Lock()
	q.producerWake = cb
	q.mu.Unlock()
}

func (p *blockingProducer) Close() {
	q := p.q()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

type blockingConsumer blockingQueue

func (c *blockingConsumer) q() *blockingQueue { return (*blockingQueue)(c) }

func (c *blockingConsumer) TryNext() (*Slot, bool) {
	q := c.q()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil, false
	}
	q.takenIdx = q.head
	return &q.slots[q.takenIdx], true
}

func (c *blockingConsumer) Next() (*Slot, bool) {
	q := c.q()
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return nil, false
	}
	q.takenIdx = q.head
	return &q.slots[q.takenIdx], true
}

func (c *blockingConsumer) Release(*Slot) {
	q := c.q()
	q.mu.Lock()
	q.head = (q.takenIdx + 1) % len(q.slots)
	q.count--
	wasFull := q.count == len(q.slots)-1
	cb := q.producerWake
	q.mu.Unlock()
	q.notFull.Signal()
	if wasFull && cb != nil {
		cb()
	}
}

func (c *blockingConsumer) AttachWakeup(cb WakeupFunc) {
	q := c.q()
	q.mu.Lock()
	q.consumerWake = cb
	q.mu.Unlock()
}

func (c *blockingConsumer) Len() int {
	q := c.q()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (c *blockingConsumer) Close() {
	q := c.q()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}
