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
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveTCPAddr and resolveUDPAddr resolve a network/address pair with
// the standard resolver, so hostnames and literal IPs both work.
func resolveTCPAddr(network, address string) (*net.TCPAddr, error) {
	return net.ResolveTCPAddr(network, address)
}

func resolveUDPAddr(network, address string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr(network, address)
}

// toSockaddr converts an IP/port pair into the golang.org/x/sys/unix
// representation needed for raw Connect/Bind, preferring IPv4 when the IP
// has a 4-byte form.
func toSockaddr(ip net.IP, port int) (unix.Sockaddr, int, error) {
	if v4 := ip.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], v4)
		return &sa, unix.AF_INET, nil
	}
	if v6 := ip.To16(); v6 != nil {
		var sa unix.SockaddrInet6
		sa.Port = port
		copy(sa.Addr[:], v6)
		return &sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("reactor: unresolvable IP %v", ip)
}

func sockaddrToAddr(network string, sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}

func addrPortOf(a *net.TCPAddr) (net.IP, int) {
	ip := a.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	return ip, a.Port
}

// setStreamSockBufs applies SO_SNDBUF/SO_RCVBUF to fd, the stream-channel
// (TCP/TLS) knob equivalent of ReceiveBufferSize/SendBufferSize; it is
// never applied to datagram sockets.
func setStreamSockBufs(fd, sendBufferSize, receiveBufferSize int) error {
	if sendBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferSize); err != nil {
			return err
		}
	}
	if receiveBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, receiveBufferSize); err != nil {
			return err
		}
	}
	return nil
}
