package net

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{1, 2, 3}))
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte{9}, 70000)))
	assert.Equal(t, []byte{3, 0, 0, 0, 1, 2, 3}, buf.Bytes()[:7])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Len(t, got, 70000)

	_, err = ReadFrame(&buf)
	assert.Error(t, err)
}

func TestFrameRejectsBadLength(t *testing.T) {
	assert.Error(t, WriteFrame(&bytes.Buffer{}, nil))
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	assert.Error(t, err)
	_, err = ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0x7f}))
	assert.Error(t, err)
	_, err = ReadFrame(bytes.NewReader([]byte{5, 0, 0, 0, 1}))
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	s := NewSession(server, 1, 4, 4, 0, zap.NewNop())
	s.Start()
	defer s.Close()
	assert.Equal(t, packet.StateConnected, s.State())

	go func() { _ = WriteFrame(client, []byte{packet.C_OPCODE_HEARTBEAT}) }()
	select {
	case f := <-s.InQueue:
		assert.Equal(t, []byte{packet.C_OPCODE_HEARTBEAT}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}

	s.Send([]byte{7, 0, 0})
	assert.Equal(t, 1, s.Buffered())
	s.FlushOutput()
	assert.Equal(t, 0, s.Buffered())
	got, err := ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0}, got)

	s.Close()
	assert.True(t, s.IsClosed())
	assert.Equal(t, packet.StateDisconnecting, s.State())
	s.Send([]byte{1})
	assert.Equal(t, 0, s.Buffered())
}

func TestSessionClosesSlowClient(t *testing.T) {
	_, server := net.Pipe()
	s := NewSession(server, 2, 1, 1, 0, zap.NewNop())
	// no writer goroutine: the queue fills up
	s.Send([]byte{1})
	s.Send([]byte{2})
	s.FlushOutput()
	assert.True(t, s.IsClosed())
}
