// Package timesync issues time synchronization requests and applies the
// cloud's response to the platform clock, grounded on protocol.cpp's
// handle_time_response. protocol.cpp reads the timestamp from queue[6..9] of
// its own raw message buffer; that index does not carry over to
// Message.Payload, from which the coap package has already stripped the
// 4-byte header, token and options. Here the timestamp is the big-endian
// uint32 at payload bytes 8..11, as in the worked example (payload
// 00 00 00 00 5F 5F 5F 5F 60 00 00 00 decodes to 0x60000000).
package timesync

import (
	"encoding/binary"
	"errors"
	"time"

	log "github.com/ndmsystems/logger"
)

// ErrShortPayload is returned when a TIME message's payload is too short to
// contain a timestamp at the expected offset.
var ErrShortPayload = errors.New("timesync: payload too short for timestamp")

const timestampOffset = 8
const timestampLength = 4

// SetClock applies a UNIX timestamp (seconds since epoch) received from the
// cloud to the platform clock.
type SetClock func(unixSeconds uint32)

// Millis returns the platform's monotonic millisecond tick, used to time
// out an outstanding request.
type Millis func() uint32

// Sync tracks a single outstanding time request.
type Sync struct {
	millis     Millis
	pending    bool
	requestedAt uint32
	timeout    uint32
}

// New creates a Sync using millis for its wall-clock reads and timeoutMs as
// the maximum time to wait for a response before Pending reports false
// again without ever having been answered.
func New(millis Millis, timeoutMs uint32) *Sync {
	return &Sync{millis: millis, timeout: timeoutMs}
}

// Request marks a time request as outstanding, called immediately after the
// driver sends the TIME request message.
func (s *Sync) Request() {
	s.pending = true
	s.requestedAt = s.millis()
	log.Debug("time sync request issued")
}

// Pending reports whether a request is outstanding and has not yet timed
// out. Callers should invoke this once per tick to decide whether to keep
// waiting or reissue the request.
func (s *Sync) Pending() bool {
	if !s.pending {
		return false
	}
	if s.millis()-s.requestedAt > s.timeout {
		log.Warning("time sync request timed out")
		s.pending = false
		return false
	}
	return true
}

// HandleResponse parses a TIME message's payload and, on success, invokes
// setClock with the UNIX seconds it carries. setClock may be nil, in which
// case the response is still parsed and cleared from Pending but discarded.
func (s *Sync) HandleResponse(payload []byte, setClock SetClock) error {
	if len(payload) < timestampOffset+timestampLength {
		return ErrShortPayload
	}
	seconds := binary.BigEndian.Uint32(payload[timestampOffset : timestampOffset+timestampLength])
	s.pending = false
	log.Infof("time sync response: %s", time.Unix(int64(seconds), 0).UTC())
	if setClock != nil {
		setClock(seconds)
	}
	return nil
}

// Reset clears any outstanding request, called when the session is torn
// down and rebuilt.
func (s *Sync) Reset() {
	s.pending = false
}
