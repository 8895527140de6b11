// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package probe

import (
	"encoding/binary"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/vulntor/skewprint/pkg/capture"
)

// protocolICMP is the IANA protocol number of ICMP for IPv4.
const protocolICMP = 1

// Timestamp message body: identifier, sequence number, then the originate,
// receive and transmit times in milliseconds since midnight UT.
const timestampBodyLen = 16

// MillisSinceMidnight returns t as an ICMP timestamp.
func MillisSinceMidnight(t time.Time) uint32 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return uint32(t.Sub(midnight) / time.Millisecond)
}

// MarshalRequest builds an ICMP timestamp request.
func MarshalRequest(id, seq int, originate uint32) ([]byte, error) {
	body := make([]byte, timestampBodyLen)
	binary.BigEndian.PutUint16(body[0:2], uint16(id))
	binary.BigEndian.PutUint16(body[2:4], uint16(seq))
	binary.BigEndian.PutUint32(body[4:8], originate)

	msg := icmp.Message{
		Type: ipv4.ICMPTypeTimestamp,
		Code: 0,
		Body: &icmp.RawBody{Data: body},
	}
	return msg.Marshal(nil)
}

// ParseReply returns the transmit time of a timestamp reply carrying id.
func ParseReply(b []byte, id int) (uint32, bool) {
	msg, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil || msg.Type != ipv4.ICMPTypeTimestampReply {
		return 0, false
	}
	raw, ok := msg.Body.(*icmp.RawBody)
	if !ok || len(raw.Data) < timestampBodyLen {
		return 0, false
	}
	if binary.BigEndian.Uint16(raw.Data[0:2]) != uint16(id) {
		return 0, false
	}
	transmit := binary.BigEndian.Uint32(raw.Data[12:16])
	if uint64(transmit) >= capture.ICMPTimestampModulus {
		return 0, false
	}
	return transmit, true
}
