// Package chunkedtransfer drives the firmware-update chunked transfer state
// machine: UPDATE_BEGIN/SAVE_BEGIN -> CHUNK* -> UPDATE_DONE, with per-chunk
// acknowledgement and aggregate CRC verification.
//
// Grounded on ARQstates.go's explicit send/receive state machine over a
// sliding window and stack/ARQLayer/blocks/receive.go's per-block
// accept-or-report-missed handling, generalized from arbitrary CoAP
// block-wise payload transfer into a firmware chunk stream backed by a
// FlashWriter capability instead of an in-memory accumulator.
package chunkedtransfer

import (
	"hash"
	"hash/crc32"
	"time"

	humanize "github.com/dustin/go-humanize"
	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/protocolerr"
)

// State is a chunked transfer's lifecycle stage.
type State int

const (
	Idle State = iota
	Receiving
	CompletePending
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Receiving:
		return "Receiving"
	case CompletePending:
		return "CompletePending"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ChunkStatus is reported back to the sender in the coded ACK for each chunk.
type ChunkStatus uint8

const (
	ChunkOK ChunkStatus = iota
	ChunkMissed
)

// FlashWriter is the host capability that actually persists firmware bytes.
type FlashWriter interface {
	// Prepare is called once at UPDATE_BEGIN with the declared final size.
	Prepare(fileSize int) error
	// WriteChunk is called once per accepted chunk, strictly in order.
	WriteChunk(data []byte) error
	// Commit is called once the aggregate CRC has been verified.
	Commit() error
	// Abort releases any flash resources without committing, called on
	// cancellation or CRC failure.
	Abort()
}

// BeginInfo carries the parameters of an UPDATE_BEGIN/SAVE_BEGIN request.
type BeginInfo struct {
	FileSize  int
	ChunkSize int
	CRC       uint32
	Flags     byte
}

// Transfer is the chunked-transfer state machine owned by the driver.
type Transfer struct {
	state State
	flash FlashWriter

	fileSize      int
	chunkSize     int
	expectedCRC   uint32
	nextChunk     int
	bytesReceived int

	crc     hash.Hash32
	timeout time.Duration
	elapsed time.Duration
}

// New creates a Transfer bound to a FlashWriter, with the given inactivity
// timeout applied while Receiving.
func New(flash FlashWriter, timeout time.Duration) *Transfer {
	return &Transfer{flash: flash, timeout: timeout, state: Idle}
}

// State reports the current lifecycle stage.
func (t *Transfer) State() State {
	return t.state
}

// Begin handles an UPDATE_BEGIN/SAVE_BEGIN. A begin received while already
// Receiving aborts the in-flight transfer and starts fresh, per spec.
func (t *Transfer) Begin(info BeginInfo) error {
	if t.state == Receiving {
		log.Warning("BEGIN received mid-transfer, aborting previous transfer")
		t.abort()
	}

	if err := t.flash.Prepare(info.FileSize); err != nil {
		t.state = Failed
		return err
	}

	t.fileSize = info.FileSize
	t.chunkSize = info.ChunkSize
	t.expectedCRC = info.CRC
	t.nextChunk = 0
	t.bytesReceived = 0
	t.crc = crc32.NewIEEE()
	t.elapsed = 0
	t.state = Receiving

	log.Infof("firmware update started: %s in %s chunks",
		humanize.Bytes(uint64(info.FileSize)), humanize.Bytes(uint64(info.ChunkSize)))
	return nil
}

// Chunk handles one CHUNK message. A chunk received while Idle or Failed is
// discarded, per spec. Chunks are accepted strictly in order: an
// out-of-order chunk is reported ChunkMissed without advancing state; the
// still-expected index is not reported back.
func (t *Transfer) Chunk(index int, data []byte) (ChunkStatus, error) {
	if t.state != Receiving {
		log.Debug("chunk discarded, transfer not receiving, state:", t.state)
		return ChunkMissed, nil
	}

	if index != t.nextChunk {
		log.Warningf("chunk out of order: got %d, expected %d", index, t.nextChunk)
		return ChunkMissed, nil
	}

	if err := t.flash.WriteChunk(data); err != nil {
		t.state = Failed
		t.flash.Abort()
		return ChunkMissed, err
	}

	t.crc.Write(data)
	t.bytesReceived += len(data)
	t.nextChunk++
	t.elapsed = 0

	if t.bytesReceived >= t.fileSize {
		t.state = CompletePending
	}

	return ChunkOK, nil
}

// Done handles UPDATE_DONE: verifies the aggregate CRC and, if it matches,
// commits the transfer; otherwise marks it Failed and returns an error.
func (t *Transfer) Done() error {
	if t.state != CompletePending && t.state != Receiving {
		log.Debug("UPDATE_DONE received outside an active transfer, state:", t.state)
		return nil
	}

	if t.crc.Sum32() != t.expectedCRC {
		log.Errorf("firmware CRC mismatch: got %08x want %08x", t.crc.Sum32(), t.expectedCRC)
		t.state = Failed
		t.flash.Abort()
		return protocolerr.IOError
	}

	if err := t.flash.Commit(); err != nil {
		t.state = Failed
		return err
	}

	log.Info("firmware update committed")
	t.state = Idle
	return nil
}

// Tick advances the inactivity timer while Receiving, cancelling the
// transfer if it has been idle longer than the configured timeout.
func (t *Transfer) Tick(dt time.Duration) {
	if t.state != Receiving {
		return
	}
	t.elapsed += dt
	if t.elapsed >= t.timeout {
		log.Warning("firmware transfer timed out")
		t.abort()
	}
}

// Cancel is called on any driver-level error, moving the machine to Idle
// and releasing flash resources.
func (t *Transfer) Cancel() {
	if t.state == Idle {
		return
	}
	t.abort()
}

func (t *Transfer) abort() {
	t.flash.Abort()
	t.state = Idle
}
