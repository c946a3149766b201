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

/*
Package responder implements simple UDP server answering TSP pings with pongs.
*/
package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/timesync/tsp/protocol"
	"github.com/facebook/timesync/tsp/timesource"
)

// task is a data structure with everything needed to work independently on a ping.
type task struct {
	conn    *net.UDPConn
	addr    *net.UDPAddr
	request []byte
}

// Server is a type for UDP server which handles pings.
type Server struct {
	Config Config
	Stats  Stats

	now   timesource.Func
	tasks chan task

	mu     sync.Mutex
	conns  []*net.UDPConn
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New creates a Server. Nothing is bound until Listen or Start.
func New(cfg Config, stats Stats) (*Server, error) {
	cfg.IPs.SetDefault()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now, err := timesource.ByName(cfg.TimeSource)
	if err != nil {
		return nil, err
	}
	return &Server{Config: cfg, Stats: stats, now: now}, nil
}

// Listen binds sockets on all configured IPs
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ip := range s.Config.IPs {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: s.Config.Port})
		if err != nil {
			for _, c := range s.conns {
				c.Close()
			}
			s.conns = nil
			return fmt.Errorf("listening on %s:%d: %w", ip, s.Config.Port, err)
		}
		s.conns = append(s.conns, conn)
	}
	return nil
}

// Addrs returns addresses of bound sockets
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.conns))
	for _, c := range s.conns {
		addrs = append(addrs, c.LocalAddr())
	}
	return addrs
}

// Serve answers pings on bound sockets until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conns := s.conns
	if len(conns) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("server is not listening")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ictx := errgroup.WithContext(ctx)
	s.eg = eg
	s.cancel = cancel
	s.tasks = make(chan task, s.Config.Workers)
	s.mu.Unlock()

	log.Infof("Creating %d goroutine workers", s.Config.Workers)
	for i := 0; i < s.Config.Workers; i++ {
		eg.Go(func() error {
			s.startWorker(ictx)
			return nil
		})
	}
	for _, conn := range conns {
		log.Infof("Starting listener on %s", conn.LocalAddr())
		eg.Go(func() error {
			s.Stats.IncListeners()
			defer s.Stats.DecListeners()
			return s.startListener(ictx, conn)
		})
	}
	eg.Go(func() error {
		<-ictx.Done()
		for _, conn := range conns {
			conn.Close()
		}
		return nil
	})
	return eg.Wait()
}

// Start binds sockets and serves pings. It blocks.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes listeners and waits for workers to finish
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	eg := s.eg
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if eg != nil {
		if err := eg.Wait(); err != nil {
			log.Errorf("[server] stopped with error: %v", err)
		}
	}
}

func (s *Server) startListener(ctx context.Context, conn *net.UDPConn) error {
	// one byte more than a ping so longer datagrams are noticed
	buf := make([]byte, protocol.PingSizeBytes+1)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Warning("listener connection closed, exiting listener server")
				return nil
			}
			log.Errorf("Failed to read packet on %s: %v", conn.LocalAddr(), err)
			s.Stats.IncReadError()
			continue
		}
		s.Stats.IncRequests()
		request := make([]byte, n)
		copy(request, buf[:n])
		select {
		case s.tasks <- task{conn: conn, addr: addr, request: request}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) startWorker(ctx context.Context) {
	s.Stats.IncWorkers()
	defer s.Stats.DecWorkers()

	// Pre-allocating response buffer
	response := make([]byte, protocol.PongSizeBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.tasks:
			s.serve(&t, response)
		}
	}
}

// serve checks the request format, stamps server time and responds
func (s *Server) serve(t *task, response []byte) {
	pong, err := s.generateResponse(t.request)
	if err != nil {
		log.Debugf("Invalid ping from %v, discarding: %v", t.addr, err)
		s.Stats.IncInvalidFormat()
		return
	}
	n, err := pong.MarshalBinaryTo(response)
	if err != nil {
		log.Errorf("Failed to encode %+v: %v", pong, err)
		return
	}
	log.Debugf("Writing response: %+v", pong)
	if _, err := t.conn.WriteToUDP(response[:n], t.addr); err != nil {
		log.Debugf("Failed to respond to the request: %v", err)
		return
	}
	s.Stats.IncResponses()
}

// generateResponse decodes ping and builds the pong echoing client time
func (s *Server) generateResponse(request []byte) (*protocol.Pong, error) {
	ping := &protocol.Ping{}
	if err := ping.UnmarshalBinary(request); err != nil {
		return nil, err
	}
	if err := ping.Validate(); err != nil {
		return nil, err
	}
	serverTime := int64(s.now()) + s.Config.ExtraOffset.Microseconds()
	return protocol.NewPong(ping, uint64(serverTime)), nil
}
