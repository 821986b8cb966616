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

import "github.com/govoltron/reactor/future"

// Future and Merged are re-exported at the package root so application
// code talks to connect/bind/close lifecycle events as reactor.Future
// without importing the future package directly. The processor package
// depends on future directly to avoid an import cycle through reactor.
type Future = future.Future
type Merged = future.Merged

var NewFuture = future.New
var NewMerged = future.NewMerged
