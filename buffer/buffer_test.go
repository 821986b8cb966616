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

package buffer_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/govoltron/reactor/buffer"
)

func testFIFO(t *testing.T, q buffer.Queue) {
	t.Helper()
	const n = 1000
	p, c := q.Producer(), q.Consumer()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			slot, ok := p.Next()
			if !ok {
				t.Errorf("producer: queue closed early at %d", i)
				return
			}
			msg := []byte(fmt.Sprintf("msg-%d", i))
			copy(slot.Data, msg)
			slot.N = len(msg)
			p.Publish(slot)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			slot, ok := c.Next()
			if !ok {
				t.Errorf("consumer: queue closed early at %d", i)
				return
			}
			want := fmt.Sprintf("msg-%d", i)
			if got := string(slot.Bytes()); got != want {
				t.Errorf("out of order: got %q want %q", got, want)
			}
			c.Release(slot)
		}
	}()
	wg.Wait()
}

func TestRingFIFO(t *testing.T) {
	testFIFO(t, buffer.NewRing(8, 64))
}

func TestBlockingFIFO(t *testing.T) {
	testFIFO(t, buffer.NewBlocking(8, 64))
}

func testNoLossUnderBackpressure(t *testing.T, q buffer.Queue) {
	t.Helper()
	p := q.Producer()
	// Fill the queue to capacity.
	for i := 0; i < q.Capacity(); i++ {
		slot, ok := p.TryNext()
		if !ok {
			t.Fatalf("expected room for slot %d of %d", i, q.Capacity())
		}
		slot.N = 0
		p.Publish(slot)
	}
	// Now full: a non-blocking claim must report backpressure, not loss.
	if _, ok := p.TryNext(); ok {
		t.Fatalf("expected TryNext to report full queue")
	}

	c := q.Consumer()
	if got, want := c.Len(), q.Capacity(); got != want {
		t.Fatalf("expected %d queued messages, got %d", want, got)
	}
	for i := 0; i < q.Capacity(); i++ {
		slot, ok := c.TryNext()
		if !ok {
			t.Fatalf("expected slot %d to be available", i)
		}
		c.Release(slot)
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("expected drained queue, got %d remaining", got)
	}
}

func TestRingNoLossUnderBackpressure(t *testing.T) {
	testNoLossUnderBackpressure(t, buffer.NewRing(4, 8))
}

func TestBlockingNoLossUnderBackpressure(t *testing.T) {
	testNoLossUnderBackpressure(t, buffer.NewBlocking(4, 8))
}

func testWakeupTransitions(t *testing.T, q buffer.Queue) {
	t.Helper()
	p, c := q.Producer(), q.Consumer()
	var consumerWoke, producerWoke int
	c.AttachWakeup(func() { consumerWoke++ })
	p.AttachWakeup(func() { producerWoke++ })

	slot, _ := p.TryNext()
	slot.N = 0
	p.Publish(slot) // empty -> non-empty
	if consumerWoke != 1 {
		t.Fatalf("expected one consumer wakeup, got %d", consumerWoke)
	}

	got, _ := c.TryNext()
	c.Release(got) // non-full -> non-full (queue wasn't full)
	if producerWoke != 0 {
		t.Fatalf("expected no producer wakeup on a non-full release, got %d", producerWoke)
	}
}

func TestRingWakeupTransitions(t *testing.T) {
	testWakeupTransitions(t, buffer.NewRing(4, 8))
}

func TestBlockingWakeupTransitions(t *testing.T) {
	testWakeupTransitions(t, buffer.NewBlocking(4, 8))
}

func TestRingClosePreventsLoss(t *testing.T) {
	q := buffer.NewRing(2, 8)
	c := q.Consumer()
	c.Close()
	if _, ok := c.Next(); ok {
		t.Fatalf("expected closed empty queue to report no more slots")
	}
}
