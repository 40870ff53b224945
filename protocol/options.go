package protocol

import (
	"time"

	"github.com/waldow90/device-os/describe"
)

// Option configures a Driver at construction time. Grounded on the
// teacher's functional-options constructors (e.g. NewClient(opts
// ...ClientOption) in client.go), used here in place of a config-file or
// env-var layer since an embedded protocol driver has no process boundary
// to source configuration from — see SPEC_FULL.md's ambient-stack section.
type Option func(*config)

type config struct {
	ackTrackerCapacity    int
	ackTimeout            time.Duration
	helloTimeout          time.Duration
	pingInterval          time.Duration
	transferTimeout       time.Duration
	timeSyncTimeoutMillis uint32
	maxMessageLen         int
	manifest              describe.Manifest
	flags                 Flag
}

func defaultConfig() config {
	return config{
		ackTrackerCapacity:    16,
		ackTimeout:            4 * time.Second,
		helloTimeout:          4 * time.Second,
		pingInterval:          30 * time.Second,
		transferTimeout:       30 * time.Second,
		timeSyncTimeoutMillis: 10000,
		maxMessageLen:         1024,
	}
}

// WithAckTrackerCapacity bounds the number of outstanding ack handlers.
func WithAckTrackerCapacity(n int) Option {
	return func(c *config) { c.ackTrackerCapacity = n }
}

// WithAckTimeout bounds how long a confirmable send's completion handler
// waits for a reply before the ack tracker delivers protocolerr.MessageTimeout.
func WithAckTimeout(d time.Duration) Option {
	return func(c *config) { c.ackTimeout = d }
}

// WithHelloTimeout overrides the 4-second default wait for a HELLO
// response during the handshake.
func WithHelloTimeout(d time.Duration) Option {
	return func(c *config) { c.helloTimeout = d }
}

// WithPingInterval sets the idle keep-alive cadence.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) { c.pingInterval = d }
}

// WithTransferTimeout sets the chunked-transfer inactivity timeout.
func WithTransferTimeout(d time.Duration) Option {
	return func(c *config) { c.transferTimeout = d }
}

// WithMaxMessageLen bounds the size of an outgoing describe payload;
// exceeding it is fatal (see describe.Builder).
func WithMaxMessageLen(n int) Option {
	return func(c *config) { c.maxMessageLen = n }
}

// WithManifest supplies the capability manifest the describe builder
// serializes.
func WithManifest(m describe.Manifest) Option {
	return func(c *config) { c.manifest = m }
}

// WithFlags sets the driver's persisted protocol feature flags, folded
// into the HELLO message and the AppStateDescriptor.
func WithFlags(f Flag) Option {
	return func(c *config) { c.flags = f }
}
