// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package capture

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/vulntor/skewprint/pkg/identity"
)

// Reading is the clock value carried by one packet.
type Reading struct {
	Source  string // identity.SourceTCP or identity.SourceICMP
	Address string // sender address
	Port    uint16 // sender TCP port
	Clock   uint32 // raw TSval or ICMP transmit timestamp
}

// Decoder extracts clock readings from link-layer frames. It reuses its
// layers between calls and is not safe for concurrent use.
type Decoder struct {
	filter Filter

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	eth     layers.Ethernet
	sll     layers.LinuxSLL
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	ip6ext  layers.IPv6ExtensionSkipper
	tcp     layers.TCP
	icmp4   layers.ICMPv4
	payload gopacket.Payload
}

// NewDecoder creates a decoder for frames of the given link type.
func NewDecoder(link layers.LinkType, filter Filter) *Decoder {
	d := &Decoder{filter: filter, decoded: make([]gopacket.LayerType, 0, 8)}
	d.parser = gopacket.NewDecodingLayerParser(firstLayer(link),
		&d.eth, &d.sll, &d.dot1q, &d.ip4, &d.ip6, &d.ip6ext, &d.tcp, &d.icmp4, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

func firstLayer(link layers.LinkType) gopacket.LayerType {
	switch link {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		return layers.LayerTypeIPv6
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL
	default:
		return layers.LayerTypeEthernet
	}
}

// Decode returns the clock reading of data, if it carries one that passes
// the filter.
func (d *Decoder) Decode(data []byte) (Reading, bool) {
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return Reading{}, false
	}

	var src, dst net.IP
	for _, typ := range d.decoded {
		switch typ {
		case layers.LayerTypeIPv4:
			src, dst = d.ip4.SrcIP, d.ip4.DstIP
		case layers.LayerTypeIPv6:
			src, dst = d.ip6.SrcIP, d.ip6.DstIP
		case layers.LayerTypeTCP:
			if src == nil || !d.filter.matchHosts(src, dst) || !d.filter.matchTCP(&d.tcp) {
				return Reading{}, false
			}
			tsval, ok := tcpTimestamp(&d.tcp)
			if !ok {
				return Reading{}, false
			}
			return Reading{
				Source:  identity.SourceTCP,
				Address: src.String(),
				Port:    uint16(d.tcp.SrcPort),
				Clock:   tsval,
			}, true
		case layers.LayerTypeICMPv4:
			if !d.filter.ICMP || src == nil || !d.filter.matchHosts(src, dst) {
				return Reading{}, false
			}
			transmit, ok := icmpTransmitTime(&d.icmp4)
			if !ok {
				return Reading{}, false
			}
			return Reading{
				Source:  identity.SourceICMP,
				Address: src.String(),
				Clock:   transmit,
			}, true
		}
	}
	return Reading{}, false
}

func tcpTimestamp(tcp *layers.TCP) (uint32, bool) {
	for _, opt := range tcp.Options {
		if opt.OptionType == layers.TCPOptionKindTimestamps && len(opt.OptionData) >= 8 {
			return binary.BigEndian.Uint32(opt.OptionData[:4]), true
		}
	}
	return 0, false
}

// icmpTransmitTime returns the transmit timestamp of a timestamp reply.
// Values with the high bit set are not milliseconds since midnight and are
// rejected.
func icmpTransmitTime(icmp *layers.ICMPv4) (uint32, bool) {
	if icmp.TypeCode.Type() != layers.ICMPv4TypeTimestampReply {
		return 0, false
	}
	body := icmp.Payload
	if len(body) < 12 {
		return 0, false
	}
	transmit := binary.BigEndian.Uint32(body[8:12])
	if uint64(transmit) >= ICMPTimestampModulus {
		return 0, false
	}
	return transmit, true
}
