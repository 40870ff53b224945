package protocol

import (
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/timesync"
)

// Responder lets a delegated handler (function call, variable request)
// send its own response asynchronously, after the driver has already
// returned control to its caller. It closes over the request's token; each
// response it sends goes out under a freshly allocated message id.
type Responder func(code coap.Code, payload []byte) error

// FunctionHandler is invoked for an inbound FUNCTION_CALL; it must
// eventually call respond exactly once.
type FunctionHandler func(payload []byte, respond Responder)

// VariableHandler is invoked for an inbound VARIABLE_REQUEST; it must
// eventually call respond exactly once.
type VariableHandler func(payload []byte, respond Responder)

// Callbacks is the capability record the host supplies at construction,
// gathering the several user-code entry points protocol.cpp calls
// `descriptor`/`callbacks`: function call, variable get, signal, time set,
// and lifecycle notifications. Grounded on SparkCallbacks/SparkDescriptor
// in protocol.cpp's init(), generalized from a C ABI struct copied
// byte-for-byte into a plain Go value type — struct assignment in Go
// already tolerates a caller compiled against an older field set (missing
// fields just keep their zero value), so the size-tolerant memcpy dance
// copy_and_init performs has no Go equivalent worth keeping; see
// DESIGN.md.
type Callbacks struct {
	// Millis returns a monotonically increasing millisecond tick, used to
	// pace the ack tracker, pinger, and chunked-transfer timeouts.
	Millis func() uint32

	// SetClock applies a time-sync response to the platform clock.
	SetClock timesync.SetClock

	// Signal is invoked on SIGNAL_START/SIGNAL_STOP with on=true/false.
	Signal func(on bool)

	// CallFunction handles an inbound FUNCTION_CALL. May be nil, in which
	// case the request is acknowledged with an error response.
	CallFunction FunctionHandler

	// RequestVariable handles an inbound VARIABLE_REQUEST. May be nil,
	// handled the same way as a nil CallFunction.
	RequestVariable VariableHandler

	// NotifyOTAStatusSent is called once the driver has told the cloud
	// about the outcome of the prior OTA update, via the HELLO exchange.
	NotifyOTAStatusSent func()

	// Panic is the fatal-halt capability: called when the driver hits a
	// condition it must not continue past, such as a describe manifest
	// that cannot fit in the buffer the host provided. The host is
	// expected not to return from this call.
	Panic func(reason string)

	// WasOTAUpgradeSuccessful reports the outcome of a firmware update
	// applied before this session began, folded into the HELLO flags.
	WasOTAUpgradeSuccessful bool
}

func (c Callbacks) millis() uint32 {
	if c.Millis == nil {
		return 0
	}
	return c.Millis()
}
