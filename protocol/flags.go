// Package protocol is the driver: it owns every other package in this
// module and drives the handshake, the cooperative event loop, and message
// dispatch, generalizing protocol.cpp's Protocol class from a fixed
// Particle-cloud wire dialect into the message table this module's coap
// package encodes.
package protocol

// HelloFlag is a bit in the HELLO message's single flags byte.
type HelloFlag byte

const (
	HelloFlagOTAUpgradeSuccessful   HelloFlag = 0x01
	HelloFlagDiagnosticsSupport     HelloFlag = 0x02
	HelloFlagImmediateUpdatesSupport HelloFlag = 0x04
	// 0x08 and 0x10 are reserved for HandshakeComplete/Goodbye support and
	// are never set by this driver.
	HelloFlagDeviceInitiatedDescribe HelloFlag = 0x20
)

// Flag is a driver-wide feature flag, persisted as part of the
// AppStateDescriptor's ProtocolFlags field.
type Flag uint32

const (
	// FlagDeviceInitiatedDescribe puts the driver in control of when to
	// send an application describe, rather than the cloud requesting one.
	FlagDeviceInitiatedDescribe Flag = 1 << iota
	// FlagRequireHelloResponse makes Begin wait for the cloud's HELLO
	// response before considering the handshake complete.
	FlagRequireHelloResponse
)
