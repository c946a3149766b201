/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Conn describes what functionality we expect from a connected datagram socket
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Dialer opens a Conn to addr
type Dialer func(ctx context.Context, addr *net.UDPAddr, dscp int) (Conn, error)

// DialUDP connects a UDP socket to addr and marks outgoing packets with dscp
func DialUDP(ctx context.Context, addr *net.UDPAddr, dscp int) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("connecting to %v: %w", addr, err)
	}
	conn := c.(*net.UDPConn)
	if dscp > 0 {
		if err := setDSCP(conn, addr.IP, dscp); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting DSCP on socket: %w", err)
		}
	}
	return conn, nil
}

// setDSCP puts dscp into the upper 6 bits of TOS / traffic class
func setDSCP(conn net.Conn, ip net.IP, dscp int) error {
	tos := dscp << 2
	if ip.To4() != nil {
		return ipv4.NewConn(conn).SetTOS(tos)
	}
	return ipv6.NewConn(conn).SetTrafficClass(tos)
}

// ResolveServer resolves host and port into a UDP address
func ResolveServer(ctx context.Context, address string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	var r net.Resolver
	ips, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no ips found for %s", host)
	}
	portNum, err := net.LookupPort("udp", port)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ips[0].Unmap().AsSlice(), Port: portNum}, nil
}
