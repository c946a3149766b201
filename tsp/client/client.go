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
Package client implements TSP client which periodically pings a TSP server
and estimates offset of the server clock from the local clock.

Each tick one ping carrying local time is sent. A pong echoing the time of
the last sent ping produces a raw offset estimate assuming symmetric delay:

	rtt2   = local receive time - ping client time
	offset = server time - rtt2/2 - ping client time

Raw offsets are smoothed by a filter. Everything else is rejected and counted.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/timesync/tsp/filter"
	"github.com/facebook/timesync/tsp/protocol"
	"github.com/facebook/timesync/tsp/timesource"
)

// State of the Client lifecycle
type State int

// Client states. Stopped is terminal.
const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

var stateToString = map[State]string{
	StateCreated: "CREATED",
	StateRunning: "RUNNING",
	StateStopped: "STOPPED",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Lifecycle errors
var (
	ErrAlreadyStarted = errors.New("client is already started")
	ErrStopped        = errors.New("client is stopped")
)

// received datagrams are buffered a bit so reading never waits for processing
const inChanDepth = 16

// bigger than any valid message so oversized datagrams are detected instead of being truncated
const readBufSize = 128

type datagram struct {
	data      []byte
	localTime uint64
}

// Option alters Client construction
type Option func(*Client)

// WithLogger sets logger used by the Client
func WithLogger(l log.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithTimeSource overrides local time source from config
func WithTimeSource(f timesource.Func) Option {
	return func(c *Client) {
		c.now = f
	}
}

// WithDialer overrides how connection to the server is made
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

// WithFilter overrides offset filter from config
func WithFilter(f filter.Filter) Option {
	return func(c *Client) {
		c.filter = f
	}
}

// Client is a TSP client
type Client struct {
	cfg    *Config
	log    log.FieldLogger
	now    timesource.Func
	dial   Dialer
	filter filter.Filter
	stats  StatsServer

	// owned by the dispatch goroutine once running
	conn     Conn
	inFlight *protocol.Ping
	sendBuf  []byte

	metaMu   sync.Mutex
	metadata Metadata

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

// New creates a Client. No network activity happens until Start.
// A nil stats gets a fresh Stats which is not exported anywhere.
func New(cfg *Config, stats StatsServer, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewStats()
	}
	c := &Client{
		cfg:     cfg,
		log:     log.StandardLogger(),
		dial:    DialUDP,
		stats:   stats,
		sendBuf: make([]byte, protocol.PingSizeBytes),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.now == nil {
		now, err := timesource.ByName(cfg.TimeSource)
		if err != nil {
			return nil, err
		}
		c.now = now
	}
	if c.filter == nil {
		f, err := filter.New(cfg.Filter)
		if err != nil {
			return nil, err
		}
		c.filter = f
	}
	return c, nil
}

// State returns current lifecycle state
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Start resolves the server, opens the socket and starts ping/pong exchange in background.
// First ping is sent one interval after Start.
func (c *Client) Start(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch c.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	addr, err := ResolveServer(ctx, c.cfg.ServerAddress())
	if err != nil {
		return err
	}
	conn, err := c.dial(ctx, addr, c.cfg.DSCP)
	if err != nil {
		return err
	}
	c.conn = conn

	ctx, cancel := context.WithCancel(ctx)
	eg, ictx := errgroup.WithContext(ctx)
	inChan := make(chan *datagram, inChanDepth)
	eg.Go(func() error {
		return c.runReceiver(ictx, inChan)
	})
	eg.Go(func() error {
		return c.runDispatch(ictx, inChan)
	})
	// unblocks the receiver and marks the client stopped before Wait returns
	eg.Go(func() error {
		<-ictx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Warningf("closing connection: %v", err)
		}
		c.stateMu.Lock()
		c.state = StateStopped
		c.stateMu.Unlock()
		return nil
	})
	c.cancel = cancel
	c.eg = eg
	c.state = StateRunning
	c.log.Infof("sending pings to %v every %v", addr, c.cfg.Interval)
	return nil
}

// Stop terminates background activity and closes the socket. It is safe to call multiple times.
// After Stop returns no more datagrams are processed.
func (c *Client) Stop() {
	c.stateMu.Lock()
	prev := c.state
	c.state = StateStopped
	cancel, eg := c.cancel, c.eg
	c.stateMu.Unlock()
	if eg == nil {
		return
	}
	cancel()
	// concurrent callers all wait for background activity to finish
	err := eg.Wait()
	if prev != StateRunning {
		return
	}
	if err != nil {
		c.log.Errorf("client stopped with error: %v", err)
	}
	c.log.Info("client stopped")
}

// Wait blocks until background activity finishes, either by Stop or by cancellation of the Start context.
// Once it returns State is StateStopped.
func (c *Client) Wait() error {
	c.stateMu.Lock()
	eg := c.eg
	c.stateMu.Unlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}

// GetOffset returns current filtered offset in microseconds
func (c *Client) GetOffset() int64 {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	return c.metadata.Offset
}

// GetMetadata returns a consistent copy of the synchronization state
func (c *Client) GetMetadata() Metadata {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	return c.metadata
}

func (c *Client) runReceiver(ctx context.Context, inChan chan<- *datagram) error {
	buf := make([]byte, readBufSize)
	for {
		n, err := c.conn.Read(buf)
		localTime := c.now()
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			// connected UDP sockets report ICMP errors on read, server may come back
			c.log.Debugf("failed to read pong: %v", err)
			c.stats.UpdateCounterBy(counterReadError, 1)
			continue
		}
		d := &datagram{data: make([]byte, n), localTime: localTime}
		copy(d.data, buf[:n])
		select {
		case inChan <- d:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) runDispatch(ctx context.Context, inChan <-chan *datagram) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// ticker and context may fire together
			if ctx.Err() != nil {
				return nil
			}
			c.tick()
		case d := <-inChan:
			if ctx.Err() != nil {
				return nil
			}
			c.handleDatagram(d.data, d.localTime)
		}
	}
}

// tick sends a new ping replacing the one in flight
func (c *Client) tick() {
	ping := protocol.NewPing(c.now())
	n, err := ping.MarshalBinaryTo(c.sendBuf)
	if err != nil {
		c.log.Errorf("failed to encode ping: %v", err)
		return
	}
	sent, err := c.conn.Write(c.sendBuf[:n])
	if err != nil {
		c.log.Errorf("failed to send ping: %v", err)
		c.stats.UpdateCounterBy(counterPingSendError, 1)
		return
	}
	if sent != protocol.PingSizeBytes {
		c.log.Errorf("failed to send whole ping: sent %d of %d bytes", sent, protocol.PingSizeBytes)
		c.stats.UpdateCounterBy(counterPingShortWrite, 1)
		return
	}

	c.metaMu.Lock()
	c.metadata.PingsSent++
	c.metaMu.Unlock()
	c.inFlight = ping
	c.stats.UpdateCounterBy(counterPingSent, 1)
	c.log.Debugf("sent ping with client time %d", ping.ClientTime)
}

// handleDatagram processes a datagram received at localTime
func (c *Client) handleDatagram(b []byte, localTime uint64) {
	if len(b) != protocol.PongSizeBytes {
		c.log.Errorf("got %d bytes, expected pong of %d bytes", len(b), protocol.PongSizeBytes)
		c.stats.UpdateCounterBy(counterPongBadLength, 1)
		return
	}
	pong := &protocol.Pong{}
	if err := pong.UnmarshalBinary(b); err != nil {
		c.log.Errorf("failed to decode pong: %v", err)
		c.stats.UpdateCounterBy(counterPongBadLength, 1)
		return
	}
	if err := pong.Validate(); err != nil {
		c.log.Warningf("discarding pong: %v", err)
		if errors.Is(err, protocol.ErrUnsupportedVersion) {
			c.stats.UpdateCounterBy(counterPongBadVersion, 1)
		} else {
			c.stats.UpdateCounterBy(counterPongBadMessageID, 1)
		}
		return
	}
	ping := c.inFlight
	if ping == nil {
		c.log.Warningf("discarding pong with client time %d: no ping in flight", pong.ClientTime)
		c.stats.UpdateCounterBy(counterPongMismatch, 1)
		return
	}
	if pong.ClientTime != ping.ClientTime {
		c.log.Warningf("discarding pong: client time %d does not match ping %d", pong.ClientTime, ping.ClientTime)
		c.stats.UpdateCounterBy(counterPongMismatch, 1)
		return
	}
	// one pong per ping, so duplicates can't push received over sent
	c.inFlight = nil

	rtt2 := localTime - ping.ClientTime
	// unsigned wraparound, then reinterpreted as signed
	raw := int64(pong.ServerTime - rtt2/2 - ping.ClientTime)
	offset := c.filter.Sample(raw)

	c.metaMu.Lock()
	c.metadata.Offset = offset
	c.metadata.RTT2 = rtt2
	c.metadata.PongsReceived++
	c.metadata.LastPongTime = localTime
	c.metaMu.Unlock()

	c.stats.UpdateCounterBy(counterPongReceived, 1)
	c.stats.AddExchange(raw, rtt2)
	c.log.Debugf("exchange: rtt2=%dus raw offset=%dus filtered offset=%dus", rtt2, raw, offset)
}
