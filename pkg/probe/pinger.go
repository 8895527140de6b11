// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package probe

import (
	"context"
	"time"

	"github.com/go-ping/ping"
)

// Pinger is the subset of the go-ping API used for liveness checks.
type Pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics
	SetPrivileged(bool)
	SetCount(int)
	SetTimeout(time.Duration)
	GetTimeout() time.Duration
}

type pingerFactoryFunc func(addr string) (Pinger, error)

func newRealPinger(addr string) (Pinger, error) {
	p, err := ping.NewPinger(addr)
	if err != nil {
		return nil, err
	}
	return &realPingerAdapter{p: p}, nil
}

// alive sends a single echo request and reports whether a reply came back.
func (p *Prober) alive(ctx context.Context, addr string) (bool, error) {
	pinger, err := p.pingerFactory(addr)
	if err != nil {
		return false, err
	}
	pinger.SetPrivileged(p.opts.Privileged)
	pinger.SetCount(1)
	pinger.SetTimeout(p.opts.PingTimeout)

	opCtx, cancel := context.WithTimeout(ctx, pinger.GetTimeout()+500*time.Millisecond)
	defer cancel()
	go func() {
		<-opCtx.Done()
		pinger.Stop()
	}()

	if err := pinger.Run(); err != nil {
		return false, err
	}
	stats := pinger.Statistics()
	return stats != nil && stats.PacketsRecv > 0, nil
}

// realPingerAdapter wraps github.com/go-ping/ping.Pinger.
type realPingerAdapter struct {
	p *ping.Pinger
}

func (r *realPingerAdapter) Run() error                   { return r.p.Run() }
func (r *realPingerAdapter) Stop()                        { r.p.Stop() }
func (r *realPingerAdapter) Statistics() *ping.Statistics { return r.p.Statistics() }
func (r *realPingerAdapter) SetPrivileged(v bool)         { r.p.SetPrivileged(v) }
func (r *realPingerAdapter) SetCount(c int)               { r.p.Count = c }
func (r *realPingerAdapter) SetTimeout(t time.Duration)   { r.p.Timeout = t }
func (r *realPingerAdapter) GetTimeout() time.Duration    { return r.p.Timeout }
