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

import "net"

// AcceptListener is notified once per connection a Bind's acceptor
// accepts, after the new Channel has been registered with the pool and
// is ready for GetInputBuffer/GetOutputBuffer.
type AcceptListener func(remote net.Addr, ch *Channel)

// CloseListener is notified exactly once when a Channel closes, whether
// cleanly (cause == nil) or due to an error.
type CloseListener func(ch *Channel, cause error)
