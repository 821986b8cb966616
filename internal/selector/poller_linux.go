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

//go:build linux

package selector

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// epollPoller backs a Linux EventLoop with epoll(7) and an eventfd(2) used
// exclusively as a wake-up signal for a blocked EpollWait.
type epollPoller struct {
	epfd   int
	wakeFD int
	events []unix.EpollEvent
}

// newPlatformPoller constructs the epoll-backed Poller.
func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{epfd: epfd, wakeFD: wakeFD, events: make([]unix.EpollEvent, 128)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i&Readable != 0 || i&Acceptable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 || i&Connectable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Poll(timeoutMs int, cb func(fd int, ready Interest)) error {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		var ready Interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready |= Readable | Acceptable
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			ready |= Writable | Connectable
		}
		cb(fd, ready)
	}
	return nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakeFD, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
