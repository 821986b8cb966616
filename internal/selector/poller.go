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

// Package selector implements the core's Selector Pool: a fixed number of
// event-loop threads, each owning one OS-level readiness poller and a task
// queue, dispatching readiness to per-channel Handlers.
//
// Platform pollers (poller_linux.go: epoll, poller_darwin.go: kqueue,
// poller_other.go: a portable fallback) are grounded on the registration
// pattern of joeycumines-go-utilpkg's eventloop package and the
// loadBalancer/eventloop naming of the gnet reactor.
package selector

// Poller is the platform readiness primitive backing one EventLoop. An
// implementation is never used from more than one goroutine concurrently
// except for Wake, which may be called from any goroutine.
type Poller interface {
	// Add registers fd for the given interest.
	Add(fd int, interest Interest) error
	// Modify updates the interest set for a previously registered fd.
	Modify(fd int, interest Interest) error
	// Remove unregisters fd.
	Remove(fd int) error
	// Poll blocks for up to timeoutMs (a negative value waits forever, 0
	// returns immediately) and invokes cb once per ready fd with the
	// events that fired.
	Poll(timeoutMs int, cb func(fd int, ready Interest)) error
	// Wake causes a blocked Poll to return promptly; safe from any goroutine.
	Wake() error
	// Close releases OS resources held by the poller.
	Close() error
}
