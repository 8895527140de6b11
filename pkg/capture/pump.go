// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package capture

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/vulntor/skewprint/pkg/identity"
)

// Options controls Run.
type Options struct {
	Filter     Filter
	PortKeys   bool // unwrap TCP clocks per address and port
	MaxPackets int  // stop after this many frames, 0 for no limit
}

// Stats counts what Run processed.
type Stats struct {
	Packets      int
	Observations int
	Undecodable  int
}

// Run reads src until it is exhausted, MaxPackets frames were read or ctx is
// done, and sends one observation per clock reading to out.
func Run(ctx context.Context, src PacketSource, out chan<- identity.Observation, opts Options, logger zerolog.Logger) (Stats, error) {
	log := logger.With().Str("component", "capture").Logger()
	decoder := NewDecoder(src.LinkType(), opts.Filter)
	unwrappers := map[string]*Unwrapper{
		identity.SourceTCP:  NewUnwrapper(TCPTimestampModulus),
		identity.SourceICMP: NewUnwrapper(ICMPTimestampModulus),
	}

	var stats Stats
	for opts.MaxPackets <= 0 || stats.Packets < opts.MaxPackets {
		if err := ctx.Err(); err != nil {
			return stats, nil
		}

		data, ci, err := src.ReadPacketData()
		switch {
		case errors.Is(err, ErrNoPacket):
			continue
		case errors.Is(err, io.EOF):
			return stats, nil
		case err != nil:
			return stats, err
		}
		stats.Packets++

		reading, ok := decoder.Decode(data)
		if !ok {
			stats.Undecodable++
			continue
		}

		obs := identity.Observation{
			Source:  reading.Source,
			Address: reading.Address,
			Port:    reading.Port,
			Arrival: float64(ci.Timestamp.UnixNano()) / 1e9,
		}
		obs.Clock = unwrappers[reading.Source].Unwrap(obs.Key(opts.PortKeys && reading.Source == identity.SourceTCP), uint64(reading.Clock))

		select {
		case out <- obs:
			stats.Observations++
		case <-ctx.Done():
			return stats, nil
		}
	}

	log.Debug().Int("packets", stats.Packets).Msg("packet limit reached")
	return stats, nil
}
