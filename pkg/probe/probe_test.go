// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-ping/ping"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/vulntor/skewprint/pkg/capture"
	"github.com/vulntor/skewprint/pkg/identity"
)

func reply(t *testing.T, id int, transmit uint32) []byte {
	t.Helper()
	body := make([]byte, timestampBodyLen)
	binary.BigEndian.PutUint16(body[0:2], uint16(id))
	binary.BigEndian.PutUint32(body[12:16], transmit)
	b, err := (&icmp.Message{Type: ipv4.ICMPTypeTimestampReply, Body: &icmp.RawBody{Data: body}}).Marshal(nil)
	require.NoError(t, err)
	return b
}

func TestMillisSinceMidnight(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 15, 250_000_000, time.UTC)
	require.Equal(t, uint32((12*3600+30*60+15)*1000+250), MillisSinceMidnight(ts))
	require.Zero(t, MillisSinceMidnight(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMarshalRequest(t *testing.T) {
	b, err := MarshalRequest(0x1234, 7, 1000)
	require.NoError(t, err)
	require.Len(t, b, 20)

	msg, err := icmp.ParseMessage(protocolICMP, b)
	require.NoError(t, err)
	require.Equal(t, ipv4.ICMPTypeTimestamp, msg.Type)
	raw := msg.Body.(*icmp.RawBody)
	require.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(raw.Data[0:2]))
	require.Equal(t, uint16(7), binary.BigEndian.Uint16(raw.Data[2:4]))
	require.Equal(t, uint32(1000), binary.BigEndian.Uint32(raw.Data[4:8]))
}

func TestParseReply(t *testing.T) {
	transmit, ok := ParseReply(reply(t, 42, 5_000_000), 42)
	require.True(t, ok)
	require.Equal(t, uint32(5_000_000), transmit)

	_, ok = ParseReply(reply(t, 43, 5_000_000), 42)
	require.False(t, ok, "foreign identifier")

	_, ok = ParseReply(reply(t, 42, uint32(capture.ICMPTimestampModulus)), 42)
	require.False(t, ok, "not milliseconds since midnight")

	req, err := MarshalRequest(42, 1, 1)
	require.NoError(t, err)
	_, ok = ParseReply(req, 42)
	require.False(t, ok, "request is not a reply")

	_, ok = ParseReply([]byte{1}, 42)
	require.False(t, ok)
}

type fakePinger struct {
	recv int
}

func (f *fakePinger) Run() error                { return nil }
func (f *fakePinger) Stop()                     {}
func (f *fakePinger) SetPrivileged(bool)        {}
func (f *fakePinger) SetCount(int)              {}
func (f *fakePinger) SetTimeout(time.Duration)  {}
func (f *fakePinger) GetTimeout() time.Duration { return 10 * time.Millisecond }
func (f *fakePinger) Statistics() *ping.Statistics {
	return &ping.Statistics{PacketsRecv: f.recv}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeConn answers every timestamp request with a reply whose transmit time
// advances by 1000 ms per request.
type fakeConn struct {
	t       *testing.T
	mu      sync.Mutex
	clock   uint32
	sent    []net.Addr
	replies chan []byte
	from    net.Addr
}

func newFakeConn(t *testing.T, start uint32) *fakeConn {
	return &fakeConn{t: t, clock: start, replies: make(chan []byte, 64)}
}

func (c *fakeConn) WriteTo(b []byte, dst net.Addr) (int, error) {
	msg, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil {
		return 0, err
	}
	raw := msg.Body.(*icmp.RawBody)
	id := int(binary.BigEndian.Uint16(raw.Data[0:2]))

	c.mu.Lock()
	c.sent = append(c.sent, dst)
	c.from = dst
	transmit := c.clock
	c.clock = uint32((uint64(c.clock) + 1000) % capture.ICMPTimestampModulus)
	c.mu.Unlock()

	c.replies <- reply(c.t, id, transmit)
	return len(b), nil
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case r := <-c.replies:
		c.mu.Lock()
		from := c.from
		c.mu.Unlock()
		return copy(b, r), from, nil
	case <-time.After(20 * time.Millisecond):
		return 0, nil, timeoutError{}
	}
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) Close() error                    { return nil }

func newTestProber(conn *fakeConn, recv int) *Prober {
	p := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	p.pingerFactory = func(string) (Pinger, error) { return &fakePinger{recv: recv}, nil }
	p.listen = func() (packetConn, error) { return conn, nil }
	return p
}

func TestProber_Run(t *testing.T) {
	conn := newFakeConn(t, uint32(capture.ICMPTimestampModulus)-2500)
	p := newTestProber(conn, 1)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan identity.Observation, 64)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, []string{"127.0.0.1"}, out) }()

	var got []identity.Observation
	for len(got) < 5 {
		select {
		case obs := <-out:
			got = append(got, obs)
		case <-time.After(2 * time.Second):
			t.Fatal("no observations")
		}
	}
	cancel()
	require.NoError(t, <-done)

	for i, obs := range got {
		require.Equal(t, identity.SourceICMP, obs.Source)
		require.Equal(t, "127.0.0.1", obs.Address)
		require.Positive(t, obs.Arrival)
		if i > 0 {
			require.Greater(t, obs.Clock, got[i-1].Clock, "clock must stay monotone across midnight")
		}
	}
	require.Equal(t, capture.ICMPTimestampModulus+500, got[3].Clock)
}

func TestProber_SkipsDeadTargets(t *testing.T) {
	p := newTestProber(newFakeConn(t, 0), 0)
	err := p.Run(context.Background(), []string{"127.0.0.1"}, make(chan identity.Observation))
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestProber_ListenFailure(t *testing.T) {
	p := newTestProber(newFakeConn(t, 0), 1)
	p.listen = func() (packetConn, error) { return nil, errors.New("operation not permitted") }
	err := p.Run(context.Background(), []string{"127.0.0.1"}, make(chan identity.Observation))
	require.ErrorContains(t, err, "operation not permitted")
}
