// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package probe

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/spf13/cast"
)

// MaxTargets bounds the number of addresses a target list may expand to.
const MaxTargets = 65536

// ExpandTargets expands IPv4 CIDRs ("10.0.0.0/24"), full ranges
// ("10.0.0.1-10.0.0.9") and last-octet ranges ("10.0.0.1-9") into single
// addresses. Host names are kept as they are. Network and broadcast
// addresses of CIDRs up to /30 are skipped, duplicates are dropped.
func ExpandTargets(targets []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) error {
		if seen[t] {
			return nil
		}
		if len(out) >= MaxTargets {
			return fmt.Errorf("more than %d targets", MaxTargets)
		}
		seen[t] = true
		out = append(out, t)
		return nil
	}

	for _, raw := range targets {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}

		var (
			first, last netip.Addr
			err         error
		)
		switch {
		case strings.Contains(target, "/"):
			first, last, err = cidrBounds(target)
		case strings.Contains(target, "-"):
			first, last, err = rangeBounds(target)
		default:
			err = errNotRange
		}
		if errors.Is(err, errNotRange) {
			if err := add(target); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", target, err)
		}

		for a := first; a.IsValid() && a.Compare(last) <= 0; a = a.Next() {
			if err := add(a.String()); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

var errNotRange = errors.New("not an address range")

func cidrBounds(target string) (netip.Addr, netip.Addr, error) {
	prefix, err := netip.ParsePrefix(target)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}
	if !prefix.Addr().Is4() {
		return netip.Addr{}, netip.Addr{}, errors.New("only IPv4 networks can be probed")
	}
	prefix = prefix.Masked()

	bits := prefix.Bits()
	first := prefix.Addr()
	b := first.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v |= ^uint32(0) >> bits
	last := netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})

	if bits > 0 && bits < 31 {
		first = first.Next()
		last = last.Prev()
	}
	return first, last, nil
}

// rangeBounds parses "a.b.c.d-e.f.g.h" and "a.b.c.d-h". Anything else, such
// as a host name with a dash, yields errNotRange.
func rangeBounds(target string) (netip.Addr, netip.Addr, error) {
	startStr, endStr, _ := strings.Cut(target, "-")
	start, err := netip.ParseAddr(strings.TrimSpace(startStr))
	if err != nil || !start.Is4() {
		return netip.Addr{}, netip.Addr{}, errNotRange
	}

	endStr = strings.TrimSpace(endStr)
	end, err := netip.ParseAddr(endStr)
	if err != nil {
		octet, cerr := cast.ToIntE(endStr)
		if cerr != nil || octet < 0 || octet > 255 {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid range end %q", endStr)
		}
		b := start.As4()
		b[3] = byte(octet)
		end = netip.AddrFrom4(b)
	}
	if !end.Is4() {
		return netip.Addr{}, netip.Addr{}, errors.New("mixed address families")
	}
	if end.Less(start) {
		return netip.Addr{}, netip.Addr{}, errors.New("range start is after its end")
	}
	return start, end, nil
}
