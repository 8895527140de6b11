// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package probe actively queries remote clocks with ICMP timestamp requests.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/icmp"

	"github.com/vulntor/skewprint/pkg/capture"
	"github.com/vulntor/skewprint/pkg/identity"
)

// ErrNoTargets indicates that no probe target resolved or answered.
var ErrNoTargets = errors.New("no reachable probe targets")

// Defaults for Options.
const (
	DefaultInterval    = time.Second
	DefaultPingTimeout = 2 * time.Second
	readDeadline       = 250 * time.Millisecond
)

// Options configures a Prober.
type Options struct {
	Interval     time.Duration // time between two requests to a target
	Privileged   bool          // raw sockets for the liveness ping
	PingTimeout  time.Duration
	SkipLiveness bool
}

// packetConn is the part of icmp.PacketConn the prober uses.
type packetConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Prober sends ICMP timestamp requests to targets and turns the replies
// into observations.
type Prober struct {
	opts Options
	log  zerolog.Logger
	id   int

	pingerFactory pingerFactoryFunc
	listen        func() (packetConn, error)
	now           func() time.Time
}

// New creates a prober.
func New(opts Options, logger zerolog.Logger) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	return &Prober{
		opts:          opts,
		log:           logger.With().Str("component", "probe").Logger(),
		id:            os.Getpid() & 0xffff,
		pingerFactory: newRealPinger,
		listen: func() (packetConn, error) {
			return icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		},
		now: time.Now,
	}
}

// Run probes targets until ctx is done. Targets that do not resolve to an
// IPv4 address or do not answer a ping are skipped.
func (p *Prober) Run(ctx context.Context, targets []string, out chan<- identity.Observation) error {
	expanded, err := ExpandTargets(targets)
	if err != nil {
		return err
	}
	addrs := p.resolve(ctx, expanded)
	if len(addrs) == 0 {
		return ErrNoTargets
	}

	conn, err := p.listen()
	if err != nil {
		return fmt.Errorf("open icmp socket: %w", err)
	}
	defer conn.Close()

	recvErr := make(chan error, 1)
	go func() { recvErr <- p.receive(ctx, conn, out) }()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	seq := 0
	p.send(conn, addrs, seq)
	for {
		select {
		case <-ctx.Done():
			return <-recvErr
		case err := <-recvErr:
			return err
		case <-ticker.C:
			seq++
			p.send(conn, addrs, seq)
		}
	}
}

func (p *Prober) resolve(ctx context.Context, targets []string) []*net.IPAddr {
	var addrs []*net.IPAddr
	for _, target := range targets {
		addr, err := net.ResolveIPAddr("ip4", target)
		if err != nil {
			p.log.Warn().Err(err).Str("target", target).Msg("cannot resolve target")
			continue
		}
		if !p.opts.SkipLiveness {
			ok, err := p.alive(ctx, addr.String())
			switch {
			case err != nil:
				p.log.Warn().Err(err).Str("target", target).Msg("liveness check failed, probing anyway")
			case !ok:
				p.log.Warn().Str("target", target).Msg("target does not answer pings, skipped")
				continue
			}
		}
		p.log.Info().Str("target", addr.String()).Msg("ICMP timestamp requests started")
		addrs = append(addrs, addr)
	}
	return addrs
}

func (p *Prober) send(conn packetConn, addrs []*net.IPAddr, seq int) {
	msg, err := MarshalRequest(p.id, seq, MillisSinceMidnight(p.now()))
	if err != nil {
		p.log.Error().Err(err).Msg("cannot build timestamp request")
		return
	}
	for _, addr := range addrs {
		if _, err := conn.WriteTo(msg, addr); err != nil {
			p.log.Debug().Err(err).Str("target", addr.String()).Msg("send failed")
		}
	}
}

func (p *Prober) receive(ctx context.Context, conn packetConn, out chan<- identity.Observation) error {
	unwrap := capture.NewUnwrapper(capture.ICMPTimestampModulus)
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.SetReadDeadline(p.now().Add(readDeadline)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read icmp: %w", err)
		}

		transmit, ok := ParseReply(buf[:n], p.id)
		if !ok {
			continue
		}
		address := hostOf(from)
		obs := identity.Observation{
			Source:  identity.SourceICMP,
			Address: address,
			Arrival: float64(p.now().UnixNano()) / 1e9,
			Clock:   unwrap.Unwrap(address, uint64(transmit)),
		}
		select {
		case out <- obs:
		case <-ctx.Done():
			return nil
		}
	}
}

func hostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	default:
		return addr.String()
	}
}
