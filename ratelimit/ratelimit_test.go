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

package ratelimit_test

import (
	"testing"
	"time"

	"github.com/govoltron/reactor/ratelimit"
)

func TestNullAlwaysGrants(t *testing.T) {
	for _, n := range []int{0, 1, 1 << 20} {
		granted, wait := ratelimit.Null.Acquire(n)
		if !granted || wait != 0 {
			t.Fatalf("Acquire(%d): got (%v, %v), want (true, 0)", n, granted, wait)
		}
	}
}

func TestTokenBucketGrantsWithinBurst(t *testing.T) {
	b := ratelimit.NewTokenBucket(1000, ratelimit.PerSecond)
	granted, wait := b.Acquire(500)
	if !granted || wait != 0 {
		t.Fatalf("expected immediate grant within burst, got (%v, %v)", granted, wait)
	}
}

func TestTokenBucketDeniesWithoutConsumingOverBurst(t *testing.T) {
	b := ratelimit.NewTokenBucket(100, ratelimit.PerSecond)
	// First exhausts the burst (100 tokens).
	if granted, _ := b.Acquire(100); !granted {
		t.Fatalf("expected the first acquire to exhaust the burst")
	}
	// Immediately retrying must be denied, with a positive wait hint.
	granted, wait := b.Acquire(10)
	if granted {
		t.Fatalf("expected denial immediately after exhausting the burst")
	}
	if wait <= 0 {
		t.Fatalf("expected a positive wait hint, got %v", wait)
	}

	// A denial must not have consumed from the bucket: waiting out the
	// hint and retrying the same request should now succeed.
	time.Sleep(wait)
	if granted, _ := b.Acquire(10); !granted {
		t.Fatalf("expected grant after honoring the wait hint")
	}
}

func TestTokenBucketRateCeiling(t *testing.T) {
	const ratePerSec = 1000
	b := ratelimit.NewTokenBucket(ratePerSec, ratelimit.PerSecond)

	start := time.Now()
	window := 2 * time.Second
	var sent int
	for time.Since(start) < window {
		if granted, wait := b.Acquire(100); granted {
			sent += 100
		} else {
			time.Sleep(wait)
		}
	}
	elapsed := time.Since(start).Seconds()
	maxAllowed := int(float64(ratePerSec)*elapsed*1.05) + ratePerSec // + burst
	if sent > maxAllowed {
		t.Fatalf("sent %d bytes over %.2fs, exceeds ceiling %d", sent, elapsed, maxAllowed)
	}
}
