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

// Package buffer implements the core's Message Buffer: a bounded
// single-producer/single-consumer queue of capacity C between one
// event-loop thread and one application thread, with a Ring (lock-free)
// and a Blocking (mutex + condvar) implementation sharing one interface.
package buffer

// Slot is a reusable fixed-capacity payload owned by the queue, never
// allocated per message on the hot path.
type Slot struct {
	Data []byte
	N    int
}

// Bytes returns the filled portion of the slot.
func (s *Slot) Bytes() []byte { return s.Data[:s.N] }

// WakeupFunc is invoked on a full<->non-full or empty<->non-empty
// transition so a processor can toggle selection interest.
type WakeupFunc func()

// Producer is the event-loop-side (or application-side, depending on
// direction) half of a Message Buffer.
type Producer interface {
	// Next claims the next slot for exclusive use, blocking if the queue
	// is full. Returns false if the queue has been closed.
	Next() (*Slot, bool)
	// TryNext is the non-blocking variant of Next, used by the processor's
	// readable path so it can fall back to disabling read interest on a
	// full queue instead of blocking the event-loop thread.
	TryNext() (*Slot, bool)
	// Publish makes the previously claimed slot visible to the consumer.
	Publish(*Slot)
	// AttachWakeup registers cb to run whenever the queue becomes
	// non-full after having been full.
	AttachWakeup(cb WakeupFunc)
	// Close marks the producer side closed; outstanding Next calls
	// unblock and return false.
	Close()
}

// Consumer is the other half of a Message Buffer.
type Consumer interface {
	// Next blocks until a slot is published, then returns its payload.
	// Returns false if the queue is empty and closed.
	Next() (*Slot, bool)
	// TryNext is the non-blocking variant used by the processor's
	// writable path.
	TryNext() (*Slot, bool)
	// Release returns slot to the producer for re-claiming.
	Release(*Slot)
	// AttachWakeup registers cb to run whenever the queue becomes
	// non-empty after having been empty.
	AttachWakeup(cb WakeupFunc)
	// Close marks the consumer side closed.
	Close()
	// Len reports the number of published-but-unreleased slots.
	Len() int
}

// Queue is a bound Producer/Consumer pair, capacity C.
type Queue interface {
	Producer() Producer
	Consumer() Consumer
	Capacity() int
}
