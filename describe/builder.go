// Package describe serializes the application/system capability manifest
// the driver reports to the cloud, and can measure the manifest's size
// without producing it (used to size an outgoing message buffer up front).
//
// New relative to the teacher (which has no manifest concept); built in
// its idiom, buffer-appender style, mirroring message/payload.go's
// buffer-oriented payload helpers and protocol.cpp's BufferAppender /
// BufferAppender2 split between "write" and "count only" appenders.
package describe

import (
	"bytes"
	"hash/crc32"

	humanize "github.com/dustin/go-humanize"
	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/protocolerr"
)

// Flags selects which sections of the manifest to produce.
type Flags uint8

const (
	Application Flags = 1 << iota
	System
	Metrics
)

const (
	// MaxFunctionKeyLength and MaxVariableKeyLength bound the length of
	// function/variable names embedded in the manifest, matching the
	// platform limits referenced by protocol.cpp's build_describe_message.
	MaxFunctionKeyLength = 64
	MaxVariableKeyLength = 64
)

// VariableType is the wire type code for a described variable; encoded in
// the manifest as the ASCII digit '0'+type.
type VariableType uint8

// Function is a callable name exposed in the manifest.
type Function struct {
	Name string
}

// Variable is a named, typed value exposed in the manifest.
type Variable struct {
	Name string
	Type VariableType
}

// SystemInfo, when non-nil, is appended verbatim (already valid JSON
// object body, no surrounding braces) as the manifest's system section.
type SystemInfo interface {
	// AppendSystemInfo writes the system info object's fields (without
	// the enclosing braces) to sink.
	AppendSystemInfo(sink *bytes.Buffer)
}

// MetricsAppender, when requested in isolation, replaces the text manifest
// with a binary blob.
type MetricsAppender interface {
	AppendMetrics(sink *bytes.Buffer)
}

// Manifest is the source data the Builder serializes.
type Manifest struct {
	Functions  []Function
	Variables  []Variable
	SystemInfo SystemInfo
	Metrics    MetricsAppender
}

// Builder produces describe payloads from a Manifest.
type Builder struct {
	manifest Manifest
}

// New creates a Builder over the given manifest.
func New(manifest Manifest) *Builder {
	return &Builder{manifest: manifest}
}

// Build produces the describe payload for the requested flags into a
// buffer of at most maxLen bytes. It returns protocolerr.DescribeOverflow
// if the manifest cannot fit — the caller must treat this as fatal (see
// SPEC_FULL.md §8, Open Question 3): shipping a silently truncated
// manifest causes the device to reconnect in a loop forever.
func (b *Builder) Build(flags Flags, maxLen int) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.write(&buf, flags, maxLen); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Measure reports the exact byte size Build would produce for flags,
// without allocating the manifest — the measure-only mode used to size an
// outgoing buffer before allocating it.
func (b *Builder) Measure(flags Flags) int {
	n, _ := b.write(nil, flags, -1)
	return n
}

// write is shared by Build and Measure: when sink is nil, it only counts
// bytes (mirroring protocol.cpp's BufferAppender2). maxLen < 0 disables
// the overflow check, used by Measure.
func (b *Builder) write(sink *bytes.Buffer, flags Flags, maxLen int) (int, error) {
	count := &countingWriter{}
	var w writer = count
	if sink != nil {
		w = multiWriter{sink, count}
	}

	if flags == Metrics && b.manifest.Metrics != nil {
		w.putByte(0x00)
		w.putByte(0x02)
		w.putByte(0x00)
		var mbuf bytes.Buffer
		b.manifest.Metrics.AppendMetrics(&mbuf)
		w.Write(mbuf.Bytes())
	} else {
		w.putByte('{')
		hasContent := false

		if flags&Application != 0 {
			hasContent = true
			w.Write([]byte(`"f":[`))
			for i, fn := range b.manifest.Functions {
				if i > 0 {
					w.putByte(',')
				}
				w.putByte('"')
				w.Write(truncate(fn.Name, MaxFunctionKeyLength))
				w.putByte('"')
			}
			w.Write([]byte(`],"v":{`))
			for i, v := range b.manifest.Variables {
				if i > 0 {
					w.putByte(',')
				}
				w.putByte('"')
				w.Write(truncate(v.Name, MaxVariableKeyLength))
				w.Write([]byte(`":`))
				w.putByte('0' + byte(v.Type))
			}
			w.putByte('}')
		}

		if flags&System != 0 && b.manifest.SystemInfo != nil {
			if hasContent {
				w.putByte(',')
			}
			var sbuf bytes.Buffer
			b.manifest.SystemInfo.AppendSystemInfo(&sbuf)
			w.Write(sbuf.Bytes())
		}
		w.putByte('}')
	}

	n := count.n
	if maxLen >= 0 && n > maxLen {
		log.Errorf("describe manifest overflowed by %d bytes (%s of %s max)",
			n-maxLen, humanize.Bytes(uint64(n)), humanize.Bytes(uint64(maxLen)))
		return n, protocolerr.DescribeOverflow
	}
	log.Debugf("built describe manifest: %s", humanize.Bytes(uint64(n)))
	return n, nil
}

func truncate(s string, max int) []byte {
	if len(s) <= max {
		return []byte(s)
	}
	return []byte(s[:max])
}

// Checksum computes a CRC32 fingerprint over the manifest bytes for the
// given flags, used to compare against the persisted AppStateDescriptor.
func (b *Builder) Checksum(flags Flags, maxLen int) (uint32, error) {
	payload, err := b.Build(flags, maxLen)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(payload), nil
}

// writer is the minimal surface Build's serialization loop needs; a
// countingWriter satisfies it without allocating, and multiWriter tees
// into both a real buffer and the counter so Build and Measure share one
// code path (matching protocol.cpp using the same build_describe_message
// against two different Appender implementations).
type writer interface {
	putByte(byte)
	Write([]byte)
}

type countingWriter struct{ n int }

func (c *countingWriter) putByte(byte)   { c.n++ }
func (c *countingWriter) Write(p []byte) { c.n += len(p) }

type multiWriter struct {
	buf *bytes.Buffer
	cnt *countingWriter
}

func (m multiWriter) putByte(b byte) {
	m.buf.WriteByte(b)
	m.cnt.putByte(b)
}
func (m multiWriter) Write(p []byte) {
	m.buf.Write(p)
	m.cnt.Write(p)
}
