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
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pool owns a fixed number of EventLoop threads and distributes new
// registrations round-robin across them.
type Pool struct {
	name  string
	loops []*EventLoop
	log   *zap.Logger

	next uint64

	wg          sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
	closeSignal chan struct{}
}

// Open starts T event-loop goroutines and returns the running Pool.
func Open(name string, t int, log *zap.Logger) (*Pool, error) {
	if t <= 0 {
		return nil, fmt.Errorf("selector: T must be positive, got %d", t)
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{name: name, log: log, closeSignal: make(chan struct{})}
	p.loops = make([]*EventLoop, t)
	for i := 0; i < t; i++ {
		el, err := newEventLoop(i, log.With(zap.String("pool", name)))
		if err != nil {
			for j := 0; j < i; j++ {
				_ = p.loops[j].Shutdown()
			}
			return nil, err
		}
		p.loops[i] = el
	}
	p.wg.Add(t)
	for _, el := range p.loops {
		el := el
		go func() {
			defer p.wg.Done()
			el.Run()
		}()
	}
	go p.awaitShutdown()
	return p, nil
}

func (p *Pool) awaitShutdown() {
	p.wg.Wait()
	var errs error
	for _, el := range p.loops {
		select {
		case err := <-el.closeFuture:
			errs = multierr.Append(errs, err)
		default:
		}
	}
	p.closeOnce.Do(func() {
		p.closeErr = errs
		close(p.closeSignal)
	})
}

// Next returns the next EventLoop in round-robin order.
func (p *Pool) Next() *EventLoop {
	idx := atomic.AddUint64(&p.next, 1) - 1
	return p.loops[idx%uint64(len(p.loops))]
}

// NumLoops returns T.
func (p *Pool) NumLoops() int { return len(p.loops) }

// CloseSignal completes once every loop has exited.
func (p *Pool) CloseSignal() <-chan struct{} { return p.closeSignal }

// Err returns the aggregate failure cause once CloseSignal has fired (nil
// on a clean shutdown): the poll errors of every loop that crashed,
// combined with multierr. A crashed loop exits on its own; the other
// loops keep running, and CloseSignal fires only once all have exited.
func (p *Pool) Err() error {
	<-p.closeSignal
	return p.closeErr
}

// Shutdown stops every event loop and waits for CloseSignal.
func (p *Pool) Shutdown() error {
	for _, el := range p.loops {
		el := el
		go func() {
			if err := el.Shutdown(); err != nil {
				p.log.Warn("selector: loop shutdown error", zap.Int("loop", el.idx), zap.Error(err))
			}
		}()
	}
	return p.Err()
}
