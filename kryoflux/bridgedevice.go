package kryoflux

import (
	"context"
	"fmt"

	"github.com/sergev/fdxbridge/bridge"
)

// Open is a no-op: NewClient already resets the device and uploads
// firmware if needed.
func (c *Client) Open(ctx context.Context) error {
	return nil
}

// FindTrack0 repositions the head at cylinder 0 of the current side.
func (c *Client) FindTrack0(ctx context.Context) error {
	c.lastCylinder = 0
	if !c.motorOnState {
		return nil
	}
	if err := c.motorOn(c.lastSide, 0); err != nil {
		return bridge.NewDeviceError(bridge.ErrRewindFailure, "find track 0", err)
	}
	return nil
}

// Seek repositions the head at cylinder on the currently selected side;
// motorOn addresses side and track together so both are resent.
func (c *Client) Seek(ctx context.Context, cylinder int, speed bridge.SeekSpeed, skipDiskCheck bool) (bridge.DiskStatus, error) {
	if cylinder < 0 || cylinder >= 84 {
		return bridge.DiskStatus{}, bridge.NewDeviceError(bridge.ErrTrackRangeError, "seek", fmt.Errorf("cylinder %d out of range", cylinder))
	}
	c.lastCylinder = cylinder
	if !c.motorOnState {
		return bridge.DiskStatus{DiskPresent: true, WriteProtected: true}, nil
	}
	if err := c.motorOn(c.lastSide, cylinder); err != nil {
		return bridge.DiskStatus{}, bridge.NewDeviceError(bridge.ErrUnknown, "seek", err)
	}
	if skipDiskCheck {
		return bridge.DiskStatus{DiskPresent: true, WriteProtected: true}, nil
	}
	return c.CheckDisk(ctx, false)
}

// SelectHead re-applies motorOn for the requested side at the current
// cylinder.
func (c *Client) SelectHead(ctx context.Context, side bridge.DiskSurface) error {
	c.lastSide = 0
	if side == bridge.SurfaceUpper {
		c.lastSide = 1
	}
	if !c.motorOnState {
		return nil
	}
	if err := c.motorOn(c.lastSide, c.lastCylinder); err != nil {
		return fmt.Errorf("select head: %w", err)
	}
	return nil
}

// SetMotor turns the drive motor on or off; noWait has no counterpart and
// is ignored.
func (c *Client) SetMotor(ctx context.Context, on bool, noWait bool) error {
	if on {
		if err := c.motorOn(c.lastSide, c.lastCylinder); err != nil {
			return fmt.Errorf("set motor: %w", err)
		}
		c.motorOnState = true
		return nil
	}
	if err := c.motorOff(); err != nil {
		return fmt.Errorf("set motor: %w", err)
	}
	c.motorOnState = false
	return nil
}

// CheckDisk probes media presence by capturing a short stream and looking
// for index pulses; KryoFlux cannot write at all, so WriteProtected is
// always reported true.
func (c *Client) CheckDisk(ctx context.Context, force bool) (bridge.DiskStatus, error) {
	streamData, err := c.captureStream()
	if err != nil {
		return bridge.DiskStatus{}, fmt.Errorf("check disk: %w", err)
	}
	decoded, err := c.decodeKryoFluxStream(streamData)
	if err != nil {
		return bridge.DiskStatus{DiskPresent: false, WriteProtected: true}, nil
	}
	return bridge.DiskStatus{DiskPresent: len(decoded.IndexPulses) >= 2, WriteProtected: true}, nil
}

// ReadStream captures one stream and decodes it into MFM bitcells via the
// existing PLL pipeline; the KryoFlux firmware also captures a whole stream
// per command rather than incrementally, so the capture is one blocking
// round trip, but delivery to cb is chunked so a cancelled ctx or a
// callback asking to stop is honored mid-decode rather than only before
// capture starts.
func (c *Client) ReadStream(ctx context.Context, maxRevolutions int, fingerprint []byte, cb bridge.StreamCallback) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	streamData, err := c.captureStream()
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	decoded, err := c.decodeKryoFluxStream(streamData)
	if err != nil {
		return fmt.Errorf("read stream decode: %w", err)
	}

	bitRateKhz := uint16(500)
	mfmBytes, speeds, err := c.decodeFluxToMFM(decoded, bitRateKhz)
	if err != nil {
		return fmt.Errorf("read stream to MFM: %w", err)
	}

	const batchBits = 64
	samples := make([]bridge.StreamSample, 0, batchBits)
	bitIdx := 0
	for _, b := range mfmBytes {
		if ctx.Err() != nil {
			c.AbortStream()
			return ctx.Err()
		}
		for bit := 7; bit >= 0 && bitIdx < len(speeds); bit-- {
			samples = append(samples, bridge.StreamSample{Bit: b&(1<<bit) != 0, Speed: speeds[bitIdx]})
			bitIdx++
			if len(samples) >= batchBits {
				if !cb(samples, false) {
					c.AbortStream()
					return nil
				}
				samples = samples[:0]
			}
		}
	}
	if !cb(samples, true) {
		c.AbortStream()
		return nil
	}
	return nil
}

// WriteTrackPrecomp is not supported: KryoFlux is a read-only device,
// consistent with Write's existing behavior in write.go.
func (c *Client) WriteTrackPrecomp(ctx context.Context, mfmBits []byte, totalBits int, fromIndex bool, usePrecomp bool) error {
	return bridge.NewDeviceError(bridge.ErrNotSupported, "write track", fmt.Errorf("WriteTrackPrecomp is not supported for KryoFlux adapter"))
}

// AbortStream has no protocol-level counterpart: ReadStream above is a
// single blocking round trip.
func (c *Client) AbortStream() {}

// HasDiskChangeLine reports false: disk presence can only be inferred by
// capturing flux and checking for index pulses.
func (c *Client) HasDiskChangeLine() bool {
	return false
}
