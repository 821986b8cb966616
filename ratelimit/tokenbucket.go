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

package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a Limiter backed by golang.org/x/time/rate. Tokens
// accrue at rate per unit; the burst cap defaults to one second's worth
// of that rate.
type TokenBucket struct {
	lim *rate.Limiter
}

// NewTokenBucket builds a limiter that admits ratePerUnit tokens each
// unit, with a default burst of one second's worth (at least 1 token).
func NewTokenBucket(ratePerUnit int, unit Unit) *TokenBucket {
	return NewTokenBucketWithBurst(ratePerUnit, unit, int(float64(ratePerUnit)/unit.duration().Seconds()))
}

// NewTokenBucketWithBurst is NewTokenBucket with an explicit burst cap.
func NewTokenBucketWithBurst(ratePerUnit int, unit Unit, burst int) *TokenBucket {
	perSecond := float64(ratePerUnit) / unit.duration().Seconds()
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Acquire reserves n tokens. When they are not available immediately,
// the reservation is cancelled so the attempt consumes nothing — the
// caller is expected to retry after wait, per the processor's
// rate-limit-denial handling (not an error, just a deferred retry).
func (b *TokenBucket) Acquire(n int) (granted bool, wait time.Duration) {
	now := time.Now()
	r := b.lim.ReserveN(now, n)
	if !r.OK() {
		// n exceeds burst: this request can never be granted as a unit.
		// Treat as an unbounded wait rather than blocking forever silently.
		return false, r.DelayFrom(now)
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}
