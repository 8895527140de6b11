// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package capture

import (
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
)

// Filter selects the packets that carry usable clock readings.
type Filter struct {
	TCP        bool
	ICMP       bool
	Port       uint16 // TCP source or destination port, 0 for any
	Src        string // sender address
	Dst        string // receiver address
	SYN        bool   // only TCP segments with SYN set
	ACK        bool   // only TCP segments with ACK set
	Expression string // extra BPF expression, live capture only
}

// DefaultFilter accepts TCP timestamps and ICMP timestamp replies.
func DefaultFilter() Filter {
	return Filter{TCP: true, ICMP: true}
}

// bpfTCPWithOptions matches TCP headers long enough to carry the timestamp
// option (data offset of at least 7 words).
const bpfTCPWithOptions = "tcp && ((tcp[12] >= 120) || (ip6[52] >= 120))"

const bpfICMPTimestampReply = "icmp[icmptype] == icmp-tstampreply"

// BPF renders the filter as a pcap filter expression.
func (f Filter) BPF() string {
	var protocols []string
	if f.TCP {
		parts := []string{bpfTCPWithOptions}
		if f.Port != 0 {
			parts = append(parts, "port "+strconv.Itoa(int(f.Port)))
		}
		if f.SYN {
			parts = append(parts, "tcp[tcpflags] & tcp-syn == tcp-syn")
		}
		if f.ACK {
			parts = append(parts, "tcp[tcpflags] & tcp-ack == tcp-ack")
		}
		protocols = append(protocols, strings.Join(parts, " && "))
	}
	if f.ICMP {
		protocols = append(protocols, bpfICMPTimestampReply)
	}

	var expr string
	switch len(protocols) {
	case 0:
		return ""
	case 1:
		expr = protocols[0]
	default:
		expr = "(" + strings.Join(protocols, ") || (") + ")"
	}

	var parts []string
	if len(protocols) > 1 && (f.Src != "" || f.Dst != "" || f.Expression != "") {
		expr = "(" + expr + ")"
	}
	parts = append(parts, expr)
	if f.Src != "" {
		parts = append(parts, "src host "+f.Src)
	}
	if f.Dst != "" {
		parts = append(parts, "dst host "+f.Dst)
	}
	if f.Expression != "" {
		parts = append(parts, "("+f.Expression+")")
	}
	return strings.Join(parts, " && ")
}

func (f Filter) matchHosts(src, dst net.IP) bool {
	if f.Src != "" && !hostEqual(f.Src, src) {
		return false
	}
	if f.Dst != "" && !hostEqual(f.Dst, dst) {
		return false
	}
	return true
}

func (f Filter) matchTCP(tcp *layers.TCP) bool {
	if !f.TCP {
		return false
	}
	if f.Port != 0 && uint16(tcp.SrcPort) != f.Port && uint16(tcp.DstPort) != f.Port {
		return false
	}
	if f.SYN && !tcp.SYN {
		return false
	}
	if f.ACK && !tcp.ACK {
		return false
	}
	return true
}

func hostEqual(want string, ip net.IP) bool {
	if parsed := net.ParseIP(want); parsed != nil {
		return parsed.Equal(ip)
	}
	return want == ip.String()
}
