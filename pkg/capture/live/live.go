// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package live captures packets from a network interface with libpcap.
package live

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/vulntor/skewprint/pkg/capture"
)

// DefaultSnapLen captures whole headers with room for TCP options.
const DefaultSnapLen = 65536

// readTimeout bounds each read so that cancellation is noticed.
const readTimeout = 500 * time.Millisecond

// Source is a live capture handle.
type Source struct {
	handle *pcap.Handle
	filter string
}

// Open starts a promiscuous capture on iface. An empty iface selects the
// first capture device.
func Open(iface string, snaplen int, filter capture.Filter) (*Source, error) {
	if iface == "" {
		dev, err := DefaultInterface()
		if err != nil {
			return nil, err
		}
		iface = dev
	}
	if snaplen <= 0 {
		snaplen = DefaultSnapLen
	}

	handle, err := pcap.OpenLive(iface, int32(snaplen), true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}

	expr := filter.BPF()
	if expr != "" {
		if err := handle.SetBPFFilter(expr); err != nil {
			handle.Close()
			return nil, fmt.Errorf("install filter %q: %w", expr, err)
		}
	}
	return &Source{handle: handle, filter: expr}, nil
}

// DefaultInterface returns the first device libpcap can capture on.
func DefaultInterface() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	if len(devs) == 0 {
		return "", errors.New("no capture device found")
	}
	return devs[0].Name, nil
}

// Filter returns the installed BPF expression.
func (s *Source) Filter() string { return s.filter }

// ReadPacketData returns the next frame, or capture.ErrNoPacket when the
// read timed out.
func (s *Source) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, capture.ErrNoPacket
	}
	return data, ci, err
}

// LinkType returns the link type of the interface.
func (s *Source) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

// Close releases the handle.
func (s *Source) Close() error {
	s.handle.Close()
	return nil
}

var _ capture.PacketSource = (*Source)(nil)
