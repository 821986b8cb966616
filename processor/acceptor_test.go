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

package processor_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/govoltron/reactor/internal/selector"
	"github.com/govoltron/reactor/processor"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// TestAcceptorAcceptsConnection binds a Unix-domain listening socket
// (avoids picking a loopback TCP port in a test) and verifies a
// connecting peer is handed to OnAccept with a usable, connected fd.
func TestAcceptorAcceptsConnection(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "acceptor.sock")

	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(lfd)
	if err := unix.Bind(lfd, &unix.SockaddrUnix{Name: sockPath}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(lfd, 16); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := unix.SetNonblock(lfd, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}

	pool, err := selector.Open("acceptor-test", 1, zap.NewNop())
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	defer pool.Shutdown()

	accepted := make(chan int, 1)
	acceptor := processor.NewAcceptor(lfd, zap.NewNop(), func(connFD int, _ unix.Sockaddr) {
		accepted <- connFD
	})

	loop := pool.Next()
	registered := make(chan struct{})
	loop.Submit(func() {
		key := &selector.Key{FD: lfd, Handler: acceptor}
		if err := loop.Register(key, selector.Acceptable); err != nil {
			t.Errorf("register: %v", err)
		}
		acceptor.Bind(key, loop)
		close(registered)
	})
	<-registered

	cfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	defer unix.Close(cfd)
	if err := unix.Connect(cfd, &unix.SockaddrUnix{Name: sockPath}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case connFD := <-accepted:
		defer unix.Close(connFD)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
}
