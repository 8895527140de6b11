// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrNoPacket is returned by sources when a read timed out without a packet.
// Run keeps reading after it.
var ErrNoPacket = errors.New("no packet available")

// PacketSource yields link-layer frames.
type PacketSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// FileSource reads a pcap or pcapng file.
type FileSource struct {
	f      *os.File
	reader interface {
		gopacket.PacketDataSource
		LinkType() layers.LinkType
	}
}

// OpenFile opens a capture file, detecting pcap and pcapng.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	src := &FileSource{f: f}
	// pcapng files start with a section header block.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open pcapng %s: %w", path, err)
		}
		src.reader = ng
		return src, nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open pcap %s: %w", path, err)
	}
	src.reader = r
	return src, nil
}

// ReadPacketData returns the next frame or io.EOF.
func (s *FileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return s.reader.ReadPacketData()
}

// LinkType returns the link type of the file.
func (s *FileSource) LinkType() layers.LinkType {
	return s.reader.LinkType()
}

// Close closes the file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

var _ PacketSource = (*FileSource)(nil)
var _ io.Closer = (*FileSource)(nil)
