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
Package protocol implements the Time Sync Protocol (TSP) ping and pong messages.

Both messages have a fixed layout: fields are packed in declared order with
no padding, little-endian, which is what the reference server's struct codec
produces.

	Ping (10 bytes)
	0       1       2                                               10
	+-------+-------+-----------------------------------------------+
	|version|msg id |              client time (u64, us)            |
	+-------+-------+-----------------------------------------------+

	Pong (18 bytes)
	0       1       2                       10                      18
	+-------+-------+-----------------------+-----------------------+
	|version|msg id | client time (u64, us) | server time (u64, us) |
	+-------+-------+-----------------------+-----------------------+
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the only protocol version we speak
const Version uint8 = 1

// MessageID identifies the type of the message
type MessageID uint8

// Message types
const (
	MessagePing MessageID = 1
	MessagePong MessageID = 2
)

var messageIDToString = map[MessageID]string{
	MessagePing: "PING",
	MessagePong: "PONG",
}

func (m MessageID) String() string {
	if s, ok := messageIDToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
}

const (
	// PingSizeBytes is the size of the encoded Ping
	PingSizeBytes = 10
	// PongSizeBytes is the size of the encoded Pong
	PongSizeBytes = 18
)

// Errors returned while decoding or validating messages
var (
	ErrInvalidLength      = errors.New("invalid message length")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnexpectedMessage  = errors.New("unexpected message id")
)

// Ping is sent by the client. ClientTime is the local time in microseconds at send time.
type Ping struct {
	Version    uint8
	MessageID  MessageID
	ClientTime uint64
}

// NewPing returns a Ping stamped with clientTime
func NewPing(clientTime uint64) *Ping {
	return &Ping{
		Version:    Version,
		MessageID:  MessagePing,
		ClientTime: clientTime,
	}
}

// MarshalBinaryTo encodes the Ping into b, which must hold at least PingSizeBytes
func (p *Ping) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PingSizeBytes {
		return 0, fmt.Errorf("%w: buffer of %d bytes, need %d", ErrInvalidLength, len(b), PingSizeBytes)
	}
	b[0] = p.Version
	b[1] = uint8(p.MessageID)
	binary.LittleEndian.PutUint64(b[2:], p.ClientTime)
	return PingSizeBytes, nil
}

// MarshalBinary converts Ping to []byte
func (p *Ping) MarshalBinary() ([]byte, error) {
	b := make([]byte, PingSizeBytes)
	_, err := p.MarshalBinaryTo(b)
	return b, err
}

// UnmarshalBinary parses []byte into Ping. Length must match exactly.
func (p *Ping) UnmarshalBinary(b []byte) error {
	if len(b) != PingSizeBytes {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidLength, len(b), PingSizeBytes)
	}
	p.Version = b[0]
	p.MessageID = MessageID(b[1])
	p.ClientTime = binary.LittleEndian.Uint64(b[2:])
	return nil
}

// Validate checks version and message id
func (p *Ping) Validate() error {
	return validate(p.Version, p.MessageID, MessagePing)
}

// Pong is the server reply. ClientTime is echoed verbatim from the Ping,
// ServerTime is the server clock at the moment it processed the Ping.
type Pong struct {
	Version    uint8
	MessageID  MessageID
	ClientTime uint64
	ServerTime uint64
}

// NewPong builds the reply to ping
func NewPong(ping *Ping, serverTime uint64) *Pong {
	return &Pong{
		Version:    Version,
		MessageID:  MessagePong,
		ClientTime: ping.ClientTime,
		ServerTime: serverTime,
	}
}

// MarshalBinaryTo encodes the Pong into b, which must hold at least PongSizeBytes
func (p *Pong) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PongSizeBytes {
		return 0, fmt.Errorf("%w: buffer of %d bytes, need %d", ErrInvalidLength, len(b), PongSizeBytes)
	}
	b[0] = p.Version
	b[1] = uint8(p.MessageID)
	binary.LittleEndian.PutUint64(b[2:], p.ClientTime)
	binary.LittleEndian.PutUint64(b[10:], p.ServerTime)
	return PongSizeBytes, nil
}

// MarshalBinary converts Pong to []byte
func (p *Pong) MarshalBinary() ([]byte, error) {
	b := make([]byte, PongSizeBytes)
	_, err := p.MarshalBinaryTo(b)
	return b, err
}

// UnmarshalBinary parses []byte into Pong. Length must match exactly.
func (p *Pong) UnmarshalBinary(b []byte) error {
	if len(b) != PongSizeBytes {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidLength, len(b), PongSizeBytes)
	}
	p.Version = b[0]
	p.MessageID = MessageID(b[1])
	p.ClientTime = binary.LittleEndian.Uint64(b[2:])
	p.ServerTime = binary.LittleEndian.Uint64(b[10:])
	return nil
}

// Validate checks version and message id
func (p *Pong) Validate() error {
	return validate(p.Version, p.MessageID, MessagePong)
}

func validate(version uint8, got, want MessageID) error {
	if version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if got != want {
		return fmt.Errorf("%w: got %s, expected %s", ErrUnexpectedMessage, got, want)
	}
	return nil
}
