// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package capture

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/skewprint/pkg/identity"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dstMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func tcpFrame(t *testing.T, src, dst string, sport, dport uint16, tsval uint32, syn bool) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	opt := make([]byte, 8)
	binary.BigEndian.PutUint32(opt[:4], tsval)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		SYN:     syn,
		ACK:     !syn,
		Window:  1024,
		Options: []layers.TCPOption{
			{OptionType: layers.TCPOptionKindNop, OptionLength: 1},
			{OptionType: layers.TCPOptionKindNop, OptionLength: 1},
			{OptionType: layers.TCPOptionKindTimestamps, OptionLength: 10, OptionData: opt},
		},
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp)
}

func plainTCPFrame(t *testing.T, src, dst string) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	tcp := &layers.TCP{SrcPort: 80, DstPort: 4000, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp)
}

func icmpFrame(t *testing.T, src, dst string, typ uint8, transmit uint32) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(typ, 0), Id: 7, Seq: 1}
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[8:], transmit)
	return serialize(t, eth, ip, icmp, gopacket.Payload(body))
}

func TestFilter_BPF(t *testing.T) {
	require.Equal(t,
		"(tcp && ((tcp[12] >= 120) || (ip6[52] >= 120))) || (icmp[icmptype] == icmp-tstampreply)",
		DefaultFilter().BPF())

	f := Filter{TCP: true, Port: 443, Src: "192.0.2.1", SYN: true, Expression: "not net 10.0.0.0/8"}
	require.Equal(t,
		"tcp && ((tcp[12] >= 120) || (ip6[52] >= 120)) && port 443 && tcp[tcpflags] & tcp-syn == tcp-syn && src host 192.0.2.1 && (not net 10.0.0.0/8)",
		f.BPF())

	f = Filter{TCP: true, ICMP: true, Dst: "192.0.2.9", ACK: true}
	require.Equal(t,
		"((tcp && ((tcp[12] >= 120) || (ip6[52] >= 120)) && tcp[tcpflags] & tcp-ack == tcp-ack) || (icmp[icmptype] == icmp-tstampreply)) && dst host 192.0.2.9",
		f.BPF())

	require.Empty(t, Filter{}.BPF())
}

func TestDecoder_TCPTimestamp(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet, DefaultFilter())

	r, ok := d.Decode(tcpFrame(t, "192.0.2.1", "192.0.2.2", 443, 50000, 0xdeadbeef, false))
	require.True(t, ok)
	require.Equal(t, Reading{Source: identity.SourceTCP, Address: "192.0.2.1", Port: 443, Clock: 0xdeadbeef}, r)

	_, ok = d.Decode(plainTCPFrame(t, "192.0.2.1", "192.0.2.2"))
	require.False(t, ok, "no timestamp option")

	_, ok = d.Decode([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestDecoder_Filter(t *testing.T) {
	frame := tcpFrame(t, "192.0.2.1", "192.0.2.2", 443, 50000, 10, true)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"default", DefaultFilter(), true},
		{"tcp disabled", Filter{ICMP: true}, false},
		{"matching port", Filter{TCP: true, Port: 50000}, true},
		{"other port", Filter{TCP: true, Port: 22}, false},
		{"matching src", Filter{TCP: true, Src: "192.0.2.1"}, true},
		{"other src", Filter{TCP: true, Src: "192.0.2.2"}, false},
		{"matching dst", Filter{TCP: true, Dst: "192.0.2.2"}, true},
		{"syn only", Filter{TCP: true, SYN: true}, true},
		{"ack only", Filter{TCP: true, ACK: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := NewDecoder(layers.LinkTypeEthernet, tt.filter).Decode(frame)
			require.Equal(t, tt.want, ok)
		})
	}
}

func TestDecoder_ICMPTimestampReply(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet, DefaultFilter())

	r, ok := d.Decode(icmpFrame(t, "198.51.100.7", "192.0.2.2", layers.ICMPv4TypeTimestampReply, 43_200_123))
	require.True(t, ok)
	require.Equal(t, Reading{Source: identity.SourceICMP, Address: "198.51.100.7", Clock: 43_200_123}, r)

	_, ok = d.Decode(icmpFrame(t, "198.51.100.7", "192.0.2.2", layers.ICMPv4TypeTimestampRequest, 5))
	require.False(t, ok, "requests carry no remote clock")

	_, ok = d.Decode(icmpFrame(t, "198.51.100.7", "192.0.2.2", layers.ICMPv4TypeTimestampReply, 0x80000001))
	require.False(t, ok, "non-standard timestamp")

	_, ok = NewDecoder(layers.LinkTypeEthernet, Filter{TCP: true}).
		Decode(icmpFrame(t, "198.51.100.7", "192.0.2.2", layers.ICMPv4TypeTimestampReply, 1))
	require.False(t, ok)
}

func TestUnwrapper(t *testing.T) {
	u := NewUnwrapper(TCPTimestampModulus)
	require.Equal(t, uint64(0xfffffff0), u.Unwrap("a", 0xfffffff0))
	require.Equal(t, uint64(0xfffffff5), u.Unwrap("a", 0xfffffff5))
	require.Equal(t, TCPTimestampModulus+3, u.Unwrap("a", 3))
	require.Equal(t, uint64(0xfffffff8), u.Unwrap("a", 0xfffffff8), "late reading stays in the old epoch")
	require.Equal(t, TCPTimestampModulus+10, u.Unwrap("a", 10))
	require.Equal(t, uint64(7), u.Unwrap("b", 7))

	icmp := NewUnwrapper(ICMPTimestampModulus)
	icmp.Unwrap("h", 86_399_000)
	require.Equal(t, ICMPTimestampModulus+500, icmp.Unwrap("h", 500))
	require.Equal(t, ICMPTimestampModulus+400, icmp.Unwrap("h", 400), "small step back is reordering")

	icmp.Forget("h")
	require.Equal(t, uint64(10), icmp.Unwrap("h", 10))
}

func writePcap(t *testing.T, frames [][]byte, start time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func TestRun_FileSource(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	frames := [][]byte{
		tcpFrame(t, "192.0.2.1", "192.0.2.2", 443, 50000, 0xfffffffe, false),
		plainTCPFrame(t, "192.0.2.1", "192.0.2.2"),
		tcpFrame(t, "192.0.2.1", "192.0.2.2", 443, 50000, 5, false),
		icmpFrame(t, "198.51.100.7", "192.0.2.2", layers.ICMPv4TypeTimestampReply, 1000),
	}
	src, err := OpenFile(writePcap(t, frames, start))
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, layers.LinkTypeEthernet, src.LinkType())

	out := make(chan identity.Observation, 10)
	stats, err := Run(context.Background(), src, out, Options{Filter: DefaultFilter()}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, Stats{Packets: 4, Observations: 3, Undecodable: 1}, stats)
	close(out)

	var got []identity.Observation
	for obs := range out {
		got = append(got, obs)
	}
	require.Len(t, got, 3)
	require.Equal(t, identity.Observation{Source: identity.SourceTCP, Address: "192.0.2.1", Port: 443, Arrival: 1_700_000_000, Clock: 0xfffffffe}, got[0])
	require.Equal(t, TCPTimestampModulus+5, got[1].Clock)
	require.Equal(t, 1_700_000_002.0, got[1].Arrival)
	require.Equal(t, identity.SourceICMP, got[2].Source)
	require.Equal(t, uint64(1000), got[2].Clock)
}

func TestRun_MaxPacketsAndCancel(t *testing.T) {
	frames := make([][]byte, 5)
	for i := range frames {
		frames[i] = tcpFrame(t, "192.0.2.1", "192.0.2.2", 443, 50000, uint32(100+i), false)
	}
	path := writePcap(t, frames, time.Unix(1_700_000_000, 0))

	src, err := OpenFile(path)
	require.NoError(t, err)
	out := make(chan identity.Observation, 10)
	stats, err := Run(context.Background(), src, out, Options{Filter: DefaultFilter(), MaxPackets: 2}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Packets)
	require.NoError(t, src.Close())

	src, err = OpenFile(path)
	require.NoError(t, err)
	defer src.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err = Run(ctx, src, make(chan identity.Observation), Options{Filter: DefaultFilter()}, zerolog.Nop())
	require.NoError(t, err)
	require.Zero(t, stats.Packets)
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.pcap"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture file"), 0o644))
	_, err = OpenFile(path)
	require.Error(t, err)
}
