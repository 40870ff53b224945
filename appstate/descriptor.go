// Package appstate holds the fingerprint record the driver compares
// against the channel's cached copy to suppress redundant describe/
// subscription uploads.
package appstate

// Field selects which fingerprints participate in an EqualUnder comparison.
type Field uint32

const (
	FieldSystemDescribeCRC Field = 1 << iota
	FieldAppDescribeCRC
	FieldSubscriptionsCRC
	FieldProtocolFlags

	FieldAll = FieldSystemDescribeCRC | FieldAppDescribeCRC | FieldSubscriptionsCRC | FieldProtocolFlags
)

// Descriptor is a record of four fingerprints identifying the device's
// currently-known-to-the-cloud state.
type Descriptor struct {
	SystemDescribeCRC uint32
	AppDescribeCRC    uint32
	SubscriptionsCRC  uint32
	ProtocolFlags     uint32
}

// EqualUnder reports whether d and other agree on every fingerprint
// selected by mask.
func (d Descriptor) EqualUnder(other Descriptor, mask Field) bool {
	if mask&FieldSystemDescribeCRC != 0 && d.SystemDescribeCRC != other.SystemDescribeCRC {
		return false
	}
	if mask&FieldAppDescribeCRC != 0 && d.AppDescribeCRC != other.AppDescribeCRC {
		return false
	}
	if mask&FieldSubscriptionsCRC != 0 && d.SubscriptionsCRC != other.SubscriptionsCRC {
		return false
	}
	if mask&FieldProtocolFlags != 0 && d.ProtocolFlags != other.ProtocolFlags {
		return false
	}
	return true
}

// With returns a copy of d with the fingerprint named by field replaced by
// value. field must name exactly one bit; With panics if it does not,
// since that would leave the caller's intent ambiguous.
func (d Descriptor) With(field Field, value uint32) Descriptor {
	switch field {
	case FieldSystemDescribeCRC:
		d.SystemDescribeCRC = value
	case FieldAppDescribeCRC:
		d.AppDescribeCRC = value
	case FieldSubscriptionsCRC:
		d.SubscriptionsCRC = value
	case FieldProtocolFlags:
		d.ProtocolFlags = value
	default:
		panic("appstate: With requires exactly one field bit")
	}
	return d
}

// Store is the application-state store: the collaborator that persists
// describe/subscription fingerprints across sessions, kept distinct from
// the channel per spec so that a host may back it with, say, on-device
// flash while the channel itself is a bare radio link. The driver
// brackets calls to PersistField with channel.SaveSession/LoadSession
// commands so the store observes a consistent snapshot.
type Store interface {
	// Current returns the fingerprints as currently persisted.
	Current() Descriptor

	// PersistField writes a freshly computed fingerprint for the named
	// field. Describe and subscription fingerprints are written only after
	// the corresponding update has been positively acknowledged by the
	// cloud; FieldProtocolFlags is written once the handshake completes.
	PersistField(field Field, value uint32)
}
