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

//go:build darwin

package selector

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller backs a Darwin/BSD EventLoop with kqueue(2). A self-pipe
// (rather than a user event) is used for Wake so the implementation stays
// portable across BSD variants.
type kqueuePoller struct {
	kq       int
	wakeR    int
	wakeW    int
	eventBuf []unix.Kevent_t
}

func newPlatformPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		unix.Close(kq)
		return nil, err
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	p := &kqueuePoller{kq: kq, wakeR: fds[0], wakeW: fds[1], eventBuf: make([]unix.Kevent_t, 128)}
	changes := []unix.Kevent_t{{
		Ident:  uint64(p.wakeR),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		unix.Close(kq)
		return nil, err
	}
	return p, nil
}

func (p *kqueuePoller) change(fd int, filter int16, flags uint16) error {
	changes := []unix.Kevent_t{{Ident: uint64(fd), Filter: filter, Flags: flags}}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, interest Interest) error {
	if interest&(Readable|Acceptable) != 0 {
		if err := p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR); err != nil {
			return err
		}
	}
	if interest&(Writable|Connectable) != 0 {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR); err != nil {
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	_ = p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	_ = p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	return p.Add(fd, interest)
}

func (p *kqueuePoller) Remove(fd int) error {
	_ = p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	_ = p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	return nil
}

func (p *kqueuePoller) Poll(timeoutMs int, cb func(fd int, ready Interest)) error {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		sec := unix.NsecToTimespec(d.Nanoseconds())
		ts = &sec
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		if fd == p.wakeR {
			p.drainWake()
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			cb(fd, Readable|Acceptable)
		case unix.EVFILT_WRITE:
			cb(fd, Writable|Connectable)
		}
	}
	return nil
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeR, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *kqueuePoller) Wake() error {
	_, err := unix.Write(p.wakeW, []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.kq)
}
