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

//go:build !linux && !darwin

package selector

import (
	"sync"
	"time"
)

// portablePoller is a best-effort Poller for platforms without a native
// readiness multiplexer wired up (everything but linux/darwin). It polls
// registered descriptors is not implemented here since fd-level polling is
// inherently OS-specific; instead it provides the Add/Remove/Wake bookkeeping
// and a timer-driven Poll that relies on the caller's Handler to re-check
// readiness via non-blocking I/O, matching the degraded mode most pure-Go
// reactors fall back to outside epoll/kqueue. A negative Poll timeout
// waits at most one second rather than forever.
type portablePoller struct {
	mu     sync.Mutex
	fds    map[int]Interest
	wake   chan struct{}
	closed bool
}

func newPlatformPoller() (Poller, error) {
	return &portablePoller{fds: make(map[int]Interest), wake: make(chan struct{}, 1)}, nil
}

func (p *portablePoller) Add(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = interest
	return nil
}

func (p *portablePoller) Modify(fd int, interest Interest) error {
	return p.Add(fd, interest)
}

func (p *portablePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *portablePoller) Poll(timeoutMs int, cb func(fd int, ready Interest)) error {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs < 0 {
		timeout = time.Second
	}
	select {
	case <-p.wake:
	case <-time.After(timeout):
	}
	p.mu.Lock()
	snapshot := make(map[int]Interest, len(p.fds))
	for fd, i := range p.fds {
		snapshot[fd] = i
	}
	p.mu.Unlock()
	for fd, i := range snapshot {
		cb(fd, i)
	}
	return nil
}

func (p *portablePoller) Wake() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *portablePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
