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

// Package reactor is a selector-based message I/O core: it multiplexes TCP,
// TLS and UDP channels over a small pool of event-loop threads, frames
// messages through pluggable codecs (package codec), exchanges them with
// application code through bounded SPSC queues (package buffer), and
// throttles sends with a token-bucket rate limiter (package ratelimit).
//
// It is not a protocol implementation and performs no service discovery,
// retries or reconnection; those remain the application's concern.
package reactor
