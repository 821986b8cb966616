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

package selector

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PollTimeoutMillis is the poll timeout used when no task is pending, so
// the loop wakes periodically even without an explicit Submit.
const PollTimeoutMillis = 1

// Task runs on the owning EventLoop goroutine. Submitted tasks mutate
// selection keys and therefore must never run anywhere else.
type Task func()

// EventLoop is one of the Selector Pool's T threads: a readiness poller
// plus a task queue, executed by a single goroutine for its whole
// lifetime — each channel is bound for life to one event-loop thread.
type EventLoop struct {
	idx    int
	poller Poller
	log    *zap.Logger

	mu                sync.Mutex
	tasks             []Task
	shutdownRequested bool

	keys map[int]*Key

	closeFuture chan error
	stopped     chan struct{}
}

func newEventLoop(idx int, log *zap.Logger) (*EventLoop, error) {
	p, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}
	return &EventLoop{
		idx:         idx,
		poller:      p,
		log:         log,
		keys:        make(map[int]*Key),
		closeFuture: make(chan error, 1),
		stopped:     make(chan struct{}),
	}, nil
}

// Index returns this loop's position in the pool (used for round-robin logging).
func (el *EventLoop) Index() int { return el.idx }

// Submit enqueues task to run on this loop's goroutine and wakes the
// poller if it is currently blocked. Safe from any goroutine.
func (el *EventLoop) Submit(task Task) {
	el.mu.Lock()
	el.tasks = append(el.tasks, task)
	el.mu.Unlock()
	if err := el.poller.Wake(); err != nil {
		el.log.Warn("selector: wake failed", zap.Int("loop", el.idx), zap.Error(err))
	}
}

// Register binds key to this loop and arms its initial interest. Must be
// called via Submit unless the caller is already running on this loop.
func (el *EventLoop) Register(key *Key, interest Interest) error {
	key.loop = el
	key.setInterest(interest)
	el.keys[key.FD] = key
	return el.poller.Add(key.FD, interest)
}

// SetInterest updates a registered key's interest set. Must run on el's
// own goroutine.
func (el *EventLoop) SetInterest(key *Key, interest Interest) error {
	if key.Interest() == interest {
		return nil
	}
	key.setInterest(interest)
	return el.poller.Modify(key.FD, interest)
}

// Cancel unregisters key. Must run on el's own goroutine.
func (el *EventLoop) Cancel(key *Key) error {
	if !key.cancel.CompareAndSwap(false, true) {
		return nil
	}
	delete(el.keys, key.FD)
	return el.poller.Remove(key.FD)
}

// Run drives the loop until Shutdown is called: drain tasks, poll with a
// timeout, dispatch readiness.
func (el *EventLoop) Run() {
	defer close(el.stopped)
	for {
		if el.drainAndCheckStop() {
			return
		}
		err := el.poller.Poll(PollTimeoutMillis, el.dispatch)
		if err != nil {
			el.log.Error("selector: poll failed, loop terminating", zap.Int("loop", el.idx), zap.Error(err))
			el.closeFuture <- err
			return
		}
	}
}

func (el *EventLoop) drainAndCheckStop() (shuttingDown bool) {
	el.mu.Lock()
	tasks := el.tasks
	el.tasks = nil
	shuttingDown = el.shutdownRequested
	el.mu.Unlock()
	for _, t := range tasks {
		el.safeRun(t)
	}
	return shuttingDown
}

func (el *EventLoop) safeRun(t Task) {
	defer func() {
		if r := recover(); r != nil {
			el.log.Error("selector: task panicked", zap.Int("loop", el.idx), zap.Any("panic", r))
		}
	}()
	t()
}

func (el *EventLoop) dispatch(fd int, ready Interest) {
	key, ok := el.keys[fd]
	if !ok || key.Cancelled() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			el.log.Warn("selector: handler panicked, channel terminated", zap.Int("loop", el.idx), zap.Any("panic", r))
			_ = el.Cancel(key)
			key.Handler.Close(fmt.Errorf("selector: handler panicked: %v", r))
		}
	}()
	if ready&Acceptable != 0 {
		key.Handler.OnAcceptable()
	}
	if ready&Connectable != 0 {
		key.Handler.OnConnectable()
	}
	if ready&Readable != 0 {
		key.Handler.OnReadable()
	}
	if ready&Writable != 0 {
		key.Handler.OnWritable()
	}
}

// Shutdown requests the loop to exit after its current/next task drain and
// blocks until it has (Close on the poller happens after exit). A poll
// error that already ended the loop stays on closeFuture for the Pool to
// collect.
func (el *EventLoop) Shutdown() error {
	el.mu.Lock()
	el.shutdownRequested = true
	el.mu.Unlock()
	if err := el.poller.Wake(); err != nil {
		return err
	}
	<-el.stopped
	return el.poller.Close()
}
