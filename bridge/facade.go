package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DriveTypeID reports the emulated drive type: double-density 3.5", 2 µs
// nominal bit-cell time.
const DriveTypeID = "35DD"

// writeBuffer accumulates the bytes passed to writeShortToBuffer until
// commitWriteBuffer flushes them as a single pending write.
type writeBuffer struct {
	side  DiskSurface
	track int
	bits  []byte // one 0/1 byte per bit, MSB-first per 16-bit word
	start int
	has   bool
}

func (b *writeBuffer) reset() {
	b.bits = b.bits[:0]
	b.has = false
}

// Bridge is the emulator-facing façade (C6): the object bound to the
// emulator's tick loop. It never blocks beyond the bounded getMFMBit /
// getMFMSpeed wait; every other operation is non-blocking and backed by
// the command queue and cache.
type Bridge struct {
	device FluxDevice
	cache  *TrackCache
	queue  *commandQueue
	worker *worker

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	currentCylinder int
	currentSide     DiskSurface
	motorOn         bool
	writeBuf        writeBuffer
	lastError       string
}

// NewBridge constructs a façade around device. The worker is not started
// until Initialise succeeds.
func NewBridge(device FluxDevice) *Bridge {
	cache := NewTrackCache()
	queue := newCommandQueue()
	return &Bridge{
		device: device,
		cache:  cache,
		queue:  queue,
		worker: newWorker(device, cache, queue),
	}
}

// Initialise opens the device, rewinds to cylinder 0, and starts the
// worker goroutine. On failure, GetLastErrorMessage reports why.
func (b *Bridge) Initialise(ctx context.Context) bool {
	if err := b.device.Open(ctx); err != nil {
		b.setError(fmt.Errorf("open device: %w", err))
		return false
	}
	if err := b.device.FindTrack0(ctx); err != nil {
		b.setError(fmt.Errorf("find track 0: %w", err))
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.worker.run(runCtx)
	}()

	return true
}

// Terminate enqueues a Terminate sentinel, joins the worker, and releases
// the device. Must never deadlock even if the device is unresponsive --
// the serial layer's own read timeout bounds Close().
func (b *Bridge) Terminate() {
	if b.cancel == nil {
		return
	}
	b.queue.enqueue(Command{Kind: CmdTerminate})
	b.cancel()
	b.wg.Wait()
}

func (b *Bridge) setError(err error) {
	b.mu.Lock()
	b.lastError = err.Error()
	b.mu.Unlock()
}

// GetLastErrorMessage returns the message from the most recent failure
// observed by Initialise or the worker.
func (b *Bridge) GetLastErrorMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastError != "" {
		return b.lastError
	}
	if b.worker.lastErr != nil {
		return b.worker.lastErr.Error()
	}
	return ""
}

// GetDriveTypeID reports the emulated drive type.
func (b *Bridge) GetDriveTypeID() string { return DriveTypeID }

// ResetDrive clears pending writes, requests the motor off, and clears
// the cache. Non-blocking.
func (b *Bridge) ResetDrive() {
	b.mu.Lock()
	b.writeBuf.reset()
	b.mu.Unlock()
	b.queue.enqueue(Command{Kind: CmdMotorOff})
	b.cache.invalidateAll()
	b.device.AbortStream()
}

// IsAtCylinder0 reports whether the façade's tracked cylinder is 0.
func (b *Bridge) IsAtCylinder0() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentCylinder == 0
}

// GetCurrentCylinderNumber returns the façade's tracked cylinder.
func (b *Bridge) GetCurrentCylinderNumber() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentCylinder
}

// IsMotorRunning reports the façade's tracked motor state.
func (b *Bridge) IsMotorRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.motorOn
}

// SetMotorStatus enqueues a motor command only if the state actually
// changes. Non-blocking.
func (b *Bridge) SetMotorStatus(side DiskSurface, on bool) {
	b.mu.Lock()
	changed := b.motorOn != on
	b.motorOn = on
	b.currentSide = side
	b.mu.Unlock()

	if !changed {
		return
	}
	kind := CmdMotorOff
	if on {
		kind = CmdMotorOn
	}
	b.queue.enqueue(Command{Kind: kind})
}

// GotoCylinder updates the façade's tracked position, resets the write
// buffer, and enqueues a coalesced Seek plus a SelectSide. Non-blocking.
func (b *Bridge) GotoCylinder(cylinder int, side DiskSurface) {
	b.mu.Lock()
	b.currentCylinder = cylinder
	b.currentSide = side
	b.writeBuf.reset()
	b.mu.Unlock()

	b.device.AbortStream()
	b.queue.enqueue(Command{Kind: CmdSeek, Cylinder: cylinder})
	b.queue.enqueue(Command{Kind: CmdSelectSide, Side: side})
}

// GetMFMBit returns the bit at pos for the façade's current position,
// blocking for up to ReadPollTimeout.
func (b *Bridge) GetMFMBit(ctx context.Context, pos int) bool {
	b.mu.Lock()
	cyl, side := b.currentCylinder, b.currentSide
	b.mu.Unlock()
	return b.cache.getBit(ctx, cyl, side, pos)
}

// GetMFMSpeed returns the clamped speed at pos for the façade's current
// position. Non-blocking.
func (b *Bridge) GetMFMSpeed(pos int) uint16 {
	b.mu.Lock()
	cyl, side := b.currentCylinder, b.currentSide
	b.mu.Unlock()
	return b.cache.getSpeed(cyl, side, pos)
}

// IsMFMPositionAtIndex reports whether pos marks the start of a revolution
// for the façade's current position.
func (b *Bridge) IsMFMPositionAtIndex(pos int) bool {
	b.mu.Lock()
	cyl, side := b.currentCylinder, b.currentSide
	b.mu.Unlock()
	return b.cache.isAtIndex(cyl, side, pos)
}

// MaxMFMBitPosition reports the current track's known length in bits.
func (b *Bridge) MaxMFMBitPosition() int {
	b.mu.Lock()
	cyl, side := b.currentCylinder, b.currentSide
	b.mu.Unlock()
	return b.cache.maxBits(cyl, side)
}

// MfmSwitchBuffer is a no-op placeholder retained from the original
// interface's explicit double-buffer nudge; promotion here is automatic
// (cache.promote), driven entirely by the worker.
func (b *Bridge) MfmSwitchBuffer() {}

// WriteShortToBuffer appends a 16-bit word (MSB first) to the pending
// write buffer. Resets the buffer automatically if side/track changed
// since the previous call.
func (b *Bridge) WriteShortToBuffer(side DiskSurface, track int, word16 uint16, pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.worker.lastWriteAt = time.Now()

	if b.writeBuf.has && (b.writeBuf.side != side || b.writeBuf.track != track) {
		b.writeBuf.reset()
	}
	if !b.writeBuf.has {
		b.writeBuf.side = side
		b.writeBuf.track = track
		b.writeBuf.start = pos
		b.writeBuf.has = true
	}

	for i := 15; i >= 0; i-- {
		bit := byte(0)
		if word16&(1<<uint(i)) != 0 {
			bit = 1
		}
		b.writeBuf.bits = append(b.writeBuf.bits, bit)
	}
}

// IsWriteProtected reports the worker's last-observed write-protect flag.
func (b *Bridge) IsWriteProtected() bool { return b.worker.writeProtected }

// IsDiskInDrive reports the worker's last-observed disk-present flag.
func (b *Bridge) IsDiskInDrive() bool { return b.worker.diskPresent }

// HasDiskChanged reports whether pollDisk has observed a disk-present
// transition since the last call, latching the event so a caller polling
// less often than pollDisk still sees it.
func (b *Bridge) HasDiskChanged() bool { return b.worker.consumeDiskChanged() }

// CommitWriteBuffer computes writeFromIndex, enqueues the accumulated
// bytes as a pending write, and invalidates the matching cache entry so
// no stale read can be served while the write is in flight.
func (b *Bridge) CommitWriteBuffer(side DiskSurface, track int) {
	b.mu.Lock()
	if !b.writeBuf.has || b.writeBuf.side != side || b.writeBuf.track != track {
		b.mu.Unlock()
		return
	}
	bits := make([]byte, len(b.writeBuf.bits))
	copy(bits, b.writeBuf.bits)
	start := b.writeBuf.start
	b.writeBuf.reset()
	b.mu.Unlock()

	maxBits := b.cache.maxBits(track, side)
	writeFromIndex := start <= 10 || start+len(bits) >= maxBits-10

	mfm := packBits(bits)
	b.cache.invalidate(track, side)
	select {
	case b.worker.pendingWrites <- pendingWrite{
		cylinder:     track,
		side:         side,
		mfm:          mfm,
		bits:         len(bits),
		writeFromIdx: writeFromIndex,
	}:
	default:
		// Pending-write channel full: drop the oldest write rather than
		// block the emulator thread, and retry once.
		<-b.worker.pendingWrites
		b.worker.pendingWrites <- pendingWrite{
			cylinder:     track,
			side:         side,
			mfm:          mfm,
			bits:         len(bits),
			writeFromIdx: writeFromIndex,
		}
	}
	b.queue.enqueue(Command{Kind: CmdWriteFlush})
}

// packBits packs a slice of 0/1 bytes (MSB-first intent) into a byte slice
// suitable for FluxDevice.WriteTrackPrecomp.
func packBits(bits []byte) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit != 0 {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}
