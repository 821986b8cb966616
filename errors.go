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
	"errors"

	"github.com/govoltron/reactor/processor"
)

// ErrPoolClosed is returned by Bind/Connect once the target Pool has
// already completed its CloseSignal.
var ErrPoolClosed = errors.New("reactor: pool closed")

// ErrInvalidLength, ErrInvalidEncoding, ErrTLS and ErrClosed are
// re-exported from the processor package so application code can
// errors.Is against the reactor package without an extra import.
var (
	ErrInvalidLength   = processor.ErrInvalidLength
	ErrInvalidEncoding = processor.ErrInvalidEncoding
	ErrTLS             = processor.ErrTLS
	ErrClosed          = processor.ErrClosed
)
