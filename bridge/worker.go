package bridge

import (
	"context"
	"fmt"
	"time"
)

// Scheduler timing constants.
const (
	MotorSpinUpTime = 750 * time.Millisecond
	WriteBackoff    = 100 * time.Millisecond

	MotorReadyTimeout  = 1 * time.Millisecond
	MotorBackoffTimout = 250 * time.Millisecond

	diskPollPresentWithLine    = 500 * time.Millisecond
	diskPollAbsentWithLine     = 2500 * time.Millisecond
	diskPollPresentWithoutLine = 3000 * time.Millisecond
	diskPollAbsentWithoutLine  = 3000 * time.Millisecond
)

// worker owns the FluxDevice and is the only goroutine allowed to touch it.
// It drains the command queue, runs opportunistic background reads, and
// polls for disk presence.
type worker struct {
	device FluxDevice
	cache  *TrackCache
	queue  *commandQueue

	motorOn      bool
	motorReadyAt time.Time
	lastWriteAt  time.Time
	lastDiskPoll time.Time
	diskPresent  bool
	diskChanged  bool

	actualCylinder int
	actualSide     DiskSurface

	writeProtected bool
	lastErr        error

	pendingWrites chan pendingWrite
}

type pendingWrite struct {
	cylinder      int
	side          DiskSurface
	mfm           []byte
	bits          int
	writeFromIdx  bool
}

func newWorker(device FluxDevice, cache *TrackCache, queue *commandQueue) *worker {
	return &worker{
		device:        device,
		cache:         cache,
		queue:         queue,
		pendingWrites: make(chan pendingWrite, 8),
	}
}

// run is the worker's scheduler loop. It returns when a Terminate
// command is processed or ctx is cancelled.
func (w *worker) run(ctx context.Context) {
	for {
		timeout := MotorBackoffTimout
		if w.motorReady() {
			timeout = MotorReadyTimeout
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		available := w.queue.wait(waitCtx)
		cancel()

		if ctx.Err() != nil {
			w.device.Close()
			return
		}

		if available {
			cmd, ok := w.queue.tryDequeue()
			if ok {
				if !w.processCommand(ctx, cmd) {
					return
				}
				continue
			}
		}

		w.pollDisk(ctx)

		if w.motorReady() && time.Since(w.lastWriteAt) >= WriteBackoff {
			w.backgroundRead(ctx)
		}
	}
}

// processCommand executes one dequeued command. Returns false if the
// worker should exit (a Terminate command).
func (w *worker) processCommand(ctx context.Context, cmd Command) bool {
	switch cmd.Kind {
	case CmdTerminate:
		w.device.Close()
		return false

	case CmdMotorOn:
		if err := w.device.SetMotor(ctx, true, false); err != nil {
			w.lastErr = err
			return true
		}
		w.motorOn = true
		w.motorReadyAt = time.Now().Add(MotorSpinUpTime)

	case CmdMotorOff:
		w.device.SetMotor(ctx, false, false)
		w.motorOn = false
		w.motorReadyAt = time.Time{}

	case CmdSeek:
		w.cache.noteStep()
		status, err := w.device.Seek(ctx, cmd.Cylinder, SeekNormal, false)
		if err != nil {
			w.lastErr = err
			return true
		}
		w.actualCylinder = cmd.Cylinder
		w.writeProtected = status.WriteProtected

	case CmdSelectSide:
		if err := w.device.SelectHead(ctx, cmd.Side); err != nil {
			w.lastErr = err
			return true
		}
		w.actualSide = cmd.Side
		w.cache.noteStep()

	case CmdWriteFlush:
		w.flushOneWrite(ctx)
	}
	return true
}

// motorReady reports whether the spin-up timer has elapsed.
func (w *worker) motorReady() bool {
	return w.motorOn && !w.motorReadyAt.IsZero() && time.Now().After(w.motorReadyAt)
}

// pollDisk checks disk presence on the schedule selected by whether the
// device has a dedicated disk-change line. Disk removal
// invalidates the entire cache.
func (w *worker) pollDisk(ctx context.Context) {
	var presentInterval, absentInterval time.Duration
	if w.device.HasDiskChangeLine() {
		presentInterval, absentInterval = diskPollPresentWithLine, diskPollAbsentWithLine
	} else {
		presentInterval, absentInterval = diskPollPresentWithoutLine, diskPollAbsentWithoutLine
	}

	interval := absentInterval
	if w.diskPresent {
		interval = presentInterval
	}
	if time.Since(w.lastDiskPoll) < interval {
		return
	}
	w.lastDiskPoll = time.Now()

	status, err := w.device.CheckDisk(ctx, false)
	if err != nil {
		w.lastErr = err
		return
	}
	wasPresent := w.diskPresent
	w.diskPresent = status.DiskPresent
	w.writeProtected = status.WriteProtected
	if wasPresent != w.diskPresent {
		w.diskChanged = true
	}
	if wasPresent && !w.diskPresent {
		w.cache.invalidateAll()
	}
}

// consumeDiskChanged reports whether pollDisk has observed a disk-present
// transition since the last call, clearing the latch.
func (w *worker) consumeDiskChanged() bool {
	changed := w.diskChanged
	w.diskChanged = false
	return changed
}

// backgroundRead captures one revolution into next for the currently
// active (cylinder, side), aborting the instant new work is enqueued.
//
// Once a fingerprint exists for this (cylinder, side), the device's own
// index-pulse-bounded "end of revolution" is not trusted as the exact
// boundary (index-pulse timing can jitter a few bit-cells) -- instead two revolutions'
// worth of flux are captured and the aligner (align.go) finds the true
// cut against the fingerprint. Before a fingerprint exists, there is
// nothing yet to align against, so the device's own boundary is used
// as-is and cache.promote derives the fingerprint from it.
func (w *worker) backgroundRead(ctx context.Context) {
	next := w.cache.nextBuffer(w.actualCylinder, w.actualSide)
	if next.ready {
		return
	}
	fingerprint := w.cache.fingerprintFor(w.actualCylinder, w.actualSide)

	maxRev := 1
	if len(fingerprint) > 0 {
		maxRev = 2
	}

	var bits []bool
	var speeds []uint16
	cb := func(samples []StreamSample, endOfRevolution bool) bool {
		if w.queue.size() > 0 {
			return false
		}
		for _, s := range samples {
			bits = append(bits, s.Bit)
			speeds = append(speeds, s.Speed)
		}
		return w.queue.size() == 0
	}

	if err := w.device.ReadStream(ctx, maxRev, fingerprint, cb); err != nil {
		w.lastErr = err
		return
	}
	if len(bits) == 0 {
		return
	}

	cut := len(bits)
	if len(fingerprint) > 0 {
		if aligned := alignedCutInBits(fingerprint, bits); aligned > 0 {
			cut = aligned
		}
	}

	for i := 0; i < cut; i++ {
		next.appendSample(bits[i], speeds[i])
	}
	next.ready = true
	w.cache.promote(w.actualCylinder, w.actualSide)
}

// flushOneWrite pops the oldest pending write, reseeking if needed, and
// commits it through the device, invalidating the affected cache entry.
func (w *worker) flushOneWrite(ctx context.Context) {
	var pw pendingWrite
	select {
	case pw = <-w.pendingWrites:
	default:
		return
	}

	if pw.cylinder != w.actualCylinder {
		w.cache.noteStep()
		status, err := w.device.Seek(ctx, pw.cylinder, SeekNormal, false)
		if err != nil {
			w.lastErr = err
			return
		}
		w.actualCylinder = pw.cylinder
		w.writeProtected = status.WriteProtected
	}
	if pw.side != w.actualSide {
		if err := w.device.SelectHead(ctx, pw.side); err != nil {
			w.lastErr = err
			return
		}
		w.actualSide = pw.side
	}

	usePrecomp := pw.cylinder >= 40
	err := w.device.WriteTrackPrecomp(ctx, pw.mfm, pw.bits, pw.writeFromIdx, usePrecomp)
	w.cache.invalidate(pw.cylinder, pw.side)
	w.lastWriteAt = time.Now()

	if err != nil {
		var devErr *DeviceError
		if asDeviceError(err, &devErr) && devErr.Kind == ErrWriteProtected {
			w.writeProtected = true
			return
		}
		w.lastErr = fmt.Errorf("write flush failed: %w", err)
	}
}

func asDeviceError(err error, target **DeviceError) bool {
	de, ok := err.(*DeviceError)
	if ok {
		*target = de
	}
	return ok
}
