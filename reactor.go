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

package reactor

import (
	"github.com/govoltron/reactor/internal/selector"
	"go.uber.org/zap"
)

// PoolOption configures Open.
type PoolOption func(*poolConfig)

type poolConfig struct {
	log *zap.Logger
}

// WithPoolLogger attaches a structured logger to every event-loop thread
// in the pool. Defaults to a no-op logger.
func WithPoolLogger(log *zap.Logger) PoolOption {
	return func(c *poolConfig) { c.log = log }
}

// Pool is a fixed-size set of event-loop threads. Every Channel is bound
// for its lifetime to exactly one of the pool's loops.
type Pool struct {
	inner *selector.Pool
}

// Open starts a Pool of t event-loop threads under name (used only for
// log attribution).
func Open(name string, t int, opts ...PoolOption) (*Pool, error) {
	var cfg poolConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}
	inner, err := selector.Open(name, t, cfg.log)
	if err != nil {
		return nil, err
	}
	return &Pool{inner: inner}, nil
}

// NumLoops returns the pool's thread count, t.
func (p *Pool) NumLoops() int { return p.inner.NumLoops() }

// CloseSignal completes once every loop thread has exited.
func (p *Pool) CloseSignal() <-chan struct{} { return p.inner.CloseSignal() }

// Err blocks until CloseSignal fires and returns the aggregate failure
// cause, or nil on a clean shutdown.
func (p *Pool) Err() error { return p.inner.Err() }

// Shutdown stops every loop thread and waits for the pool to close.
func (p *Pool) Shutdown() error { return p.inner.Shutdown() }
