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

package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	pingPacket = &Ping{
		Version:    1,
		MessageID:  MessagePing,
		ClientTime: 0x0102030405060708,
	}
	pingBytes = []byte{1, 1, 8, 7, 6, 5, 4, 3, 2, 1}

	pongPacket = &Pong{
		Version:    1,
		MessageID:  MessagePong,
		ClientTime: 1000,
		ServerTime: 5000,
	}
	pongBytes = []byte{1, 2, 0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0x88, 0x13, 0, 0, 0, 0, 0, 0}
)

func TestPingMarshalBinary(t *testing.T) {
	b, err := pingPacket.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, pingBytes, b)
	require.Len(t, b, PingSizeBytes)
}

func TestPingUnmarshalBinary(t *testing.T) {
	p := &Ping{}
	require.NoError(t, p.UnmarshalBinary(pingBytes))
	require.Equal(t, pingPacket, p)
	require.NoError(t, p.Validate())
}

func TestPongMarshalBinary(t *testing.T) {
	b, err := pongPacket.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, pongBytes, b)
	require.Len(t, b, PongSizeBytes)
}

func TestPongUnmarshalBinary(t *testing.T) {
	p := &Pong{}
	require.NoError(t, p.UnmarshalBinary(pongBytes))
	require.Equal(t, pongPacket, p)
	require.NoError(t, p.Validate())
}

func TestMarshalBinaryToShortBuffer(t *testing.T) {
	_, err := pingPacket.MarshalBinaryTo(make([]byte, PingSizeBytes-1))
	require.ErrorIs(t, err, ErrInvalidLength)

	_, err = pongPacket.MarshalBinaryTo(make([]byte, PongSizeBytes-1))
	require.ErrorIs(t, err, ErrInvalidLength)

	// bigger buffers are fine, only the message size is reported
	n, err := pongPacket.MarshalBinaryTo(make([]byte, 128))
	require.NoError(t, err)
	require.Equal(t, PongSizeBytes, n)
}

func TestUnmarshalBinaryWrongLength(t *testing.T) {
	for _, l := range []int{0, 1, PingSizeBytes, PongSizeBytes - 1, PongSizeBytes + 1, 128} {
		p := &Pong{}
		err := p.UnmarshalBinary(make([]byte, l))
		require.ErrorIs(t, err, ErrInvalidLength, "length %d", l)
		require.Equal(t, &Pong{}, p, "no partial parse for length %d", l)
	}
	for _, l := range []int{0, PingSizeBytes - 1, PingSizeBytes + 1, PongSizeBytes} {
		p := &Ping{}
		err := p.UnmarshalBinary(make([]byte, l))
		require.ErrorIs(t, err, ErrInvalidLength, "length %d", l)
	}
}

func TestValidate(t *testing.T) {
	p := &Pong{Version: 2, MessageID: MessagePong}
	require.ErrorIs(t, p.Validate(), ErrUnsupportedVersion)

	p = &Pong{Version: Version, MessageID: MessagePing}
	err := p.Validate()
	require.ErrorIs(t, err, ErrUnexpectedMessage)
	require.False(t, errors.Is(err, ErrUnsupportedVersion))
	require.Contains(t, err.Error(), "got PING, expected PONG")

	ping := &Ping{Version: Version, MessageID: MessagePong}
	require.ErrorIs(t, ping.Validate(), ErrUnexpectedMessage)
}

func TestNewPong(t *testing.T) {
	ping := NewPing(1000)
	require.Equal(t, Version, ping.Version)
	require.Equal(t, MessagePing, ping.MessageID)

	pong := NewPong(ping, 5000)
	require.Equal(t, pongPacket, pong)
}

func TestMessageIDString(t *testing.T) {
	require.Equal(t, "PING", MessagePing.String())
	require.Equal(t, "PONG", MessagePong.String())
	require.Equal(t, "UNKNOWN(42)", MessageID(42).String())
}
