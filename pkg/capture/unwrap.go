// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package capture

// Clock moduli of the supported timestamp sources.
const (
	// TCPTimestampModulus is the range of the 32-bit TCP TSval.
	TCPTimestampModulus = uint64(1) << 32
	// ICMPTimestampModulus is one day in milliseconds; ICMP timestamps
	// restart at midnight UT.
	ICMPTimestampModulus = uint64(86_400_000)
)

// Unwrapper extends wrapping clock readings into monotone 64-bit values,
// separately per key.
type Unwrapper struct {
	modulus uint64
	state   map[string]*unwrapState
}

type unwrapState struct {
	last  uint64
	epoch uint64
}

// NewUnwrapper returns an unwrapper for readings in [0, modulus).
func NewUnwrapper(modulus uint64) *Unwrapper {
	return &Unwrapper{modulus: modulus, state: make(map[string]*unwrapState)}
}

// Unwrap returns raw extended by the number of wraps seen for key. A reading
// that falls back by more than half the modulus counts as a wrap; smaller
// steps back are reordering and keep the epoch.
func (u *Unwrapper) Unwrap(key string, raw uint64) uint64 {
	st, ok := u.state[key]
	if !ok {
		u.state[key] = &unwrapState{last: raw}
		return raw
	}
	if raw > st.last && raw-st.last > u.modulus/2 && st.epoch > 0 {
		// late reading from before the last wrap
		return (st.epoch-1)*u.modulus + raw
	}
	if raw < st.last && st.last-raw > u.modulus/2 {
		st.epoch++
	}
	st.last = raw
	return st.epoch*u.modulus + raw
}

// Forget drops the state of key.
func (u *Unwrapper) Forget(key string) {
	delete(u.state, key)
}
