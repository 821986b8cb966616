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

package processor

import (
	"sync"

	"github.com/govoltron/reactor/future"
	"github.com/govoltron/reactor/internal/selector"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Acceptor wraps a bound, listening socket that its owner registers for
// accept readiness, and for every accepted connection hands the raw,
// already-non-blocking fd and peer address to OnAccept. OnAccept is
// responsible for the rest of the server-acceptor sequence: building a
// processor with a fresh pair of queues and a cloned codec, then
// registering it with an event loop — that wiring lives in the owning
// package (it needs the channel builder's configuration), so Acceptor
// only owns the listening socket itself. The reactor package registers
// every accepted connection on the listener's own event loop; accepted
// connections are not spread across the pool's other loops.
type Acceptor struct {
	fd  int
	log *zap.Logger

	key  *selector.Key
	loop *selector.EventLoop

	// OnAccept is invoked once per accepted connection, on the acceptor's
	// own event-loop thread. The callback must not block.
	OnAccept func(connFD int, remote unix.Sockaddr)

	closeOnce sync.Once
	closeFut  *future.Future
}

var _ Processor = (*Acceptor)(nil)

// NewAcceptor wraps a bound, listening, non-blocking socket fd.
func NewAcceptor(fd int, log *zap.Logger, onAccept func(int, unix.Sockaddr)) *Acceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Acceptor{
		fd:       fd,
		log:      log,
		OnAccept: onAccept,
		closeFut: future.New(),
	}
}

func (a *Acceptor) Bind(key *selector.Key, loop *selector.EventLoop) {
	a.key = key
	a.loop = loop
}

func (a *Acceptor) CloseFuture() *future.Future { return a.closeFut }

func (a *Acceptor) OnReadable()    {}
func (a *Acceptor) OnWritable()    {}
func (a *Acceptor) OnConnectable() {}

// OnAcceptable drains every pending connection on the listening socket
// in one pass, since edge-triggered readiness only fires once per new
// batch of arrivals.
func (a *Acceptor) OnAcceptable() {
	for {
		connFD, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			a.log.Warn("acceptor: accept failed", zap.Error(err))
			return
		}
		if a.OnAccept != nil {
			a.OnAccept(connFD, sa)
		}
	}
}

func (a *Acceptor) Close(cause error) {
	a.closeOnce.Do(func() {
		teardown := func() {
			if a.key != nil && a.loop != nil {
				_ = a.loop.Cancel(a.key)
			}
			_ = unix.Close(a.fd)
			if cause != nil {
				a.closeFut.Failure(cause)
			} else {
				a.closeFut.Success()
			}
		}
		if a.loop != nil {
			a.loop.Submit(teardown)
		} else {
			teardown()
		}
	})
}
