package arduino

import (
	"context"
	"fmt"

	"github.com/sergev/fdxbridge/bridge"
)

// Open is a no-op: the serial port and firmware handshake are already
// established by NewClient, mirroring greaseweazle's split between adapter
// construction and bridge.FluxDevice.Open.
func (c *Client) Open(ctx context.Context) error {
	return nil
}

// Close closes the underlying serial port.
func (c *Client) Close() error {
	if c.port != nil {
		return c.port.Close()
	}
	return nil
}

// FindTrack0 issues the rewind command and resets the tracked
// cylinder.
func (c *Client) FindTrack0(ctx context.Context) error {
	if _, err := c.runCommand(cmdRewind, nil); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	c.lastCylinder = 0
	return nil
}

// Seek steps to cylinder using the report-back variant of the goto-track
// command ('=') so the single response byte also carries disk-present and
// write-protect state, avoiding a second round trip.
func (c *Client) Seek(ctx context.Context, cylinder int, speed bridge.SeekSpeed, skipDiskCheck bool) (bridge.DiskStatus, error) {
	if cylinder < 0 || cylinder >= numCylinders {
		return bridge.DiskStatus{}, bridge.NewDeviceError(bridge.ErrTrackRangeError, "seek", fmt.Errorf("cylinder %d out of range", cylinder))
	}

	flags := byte('0')
	if skipDiskCheck {
		flags = '1'
	}
	param := []byte(fmt.Sprintf("%02d%c", cylinder, flags))
	resp, err := c.runCommand(cmdGotoTrackRpt, param)
	if err != nil {
		return bridge.DiskStatus{}, fmt.Errorf("seek to cylinder %d: %w", cylinder, err)
	}
	c.lastCylinder = cylinder

	return bridge.DiskStatus{
		DiskPresent:    resp != respError,
		WriteProtected: resp == respWriteProtected,
	}, nil
}

// SelectHead chooses the head with the lower/upper command bytes.
func (c *Client) SelectHead(ctx context.Context, side bridge.DiskSurface) error {
	cmd := byte(cmdHead0)
	if side == bridge.SurfaceUpper {
		cmd = cmdHead1
	}
	if _, err := c.runCommand(cmd, nil); err != nil {
		return fmt.Errorf("select head: %w", err)
	}
	return nil
}

// SetMotor turns the drive motor on or off. noWait selects the
// enable-without-spin-up-delay variant available on firmware 1.8+.
func (c *Client) SetMotor(ctx context.Context, on bool, noWait bool) error {
	var cmd byte
	switch {
	case !on:
		cmd = cmdDisable
	case noWait:
		cmd = cmdEnableNoWait
	default:
		cmd = cmdEnable
	}
	if _, err := c.runCommand(cmd, nil); err != nil {
		return fmt.Errorf("set motor: %w", err)
	}
	return nil
}

// CheckDisk polls the disk-present and write-protect lines. force is
// accepted for symmetry with protocol B devices that cache the result; the
// Arduino has no such cache to bypass.
func (c *Client) CheckDisk(ctx context.Context, force bool) (bridge.DiskStatus, error) {
	presentResp, err := c.runCommand(cmdDiskPresent, nil)
	if err != nil {
		return bridge.DiskStatus{}, fmt.Errorf("check disk present: %w", err)
	}
	protectResp, err := c.runCommand(cmdWriteProtect, nil)
	if err != nil {
		return bridge.DiskStatus{}, fmt.Errorf("check write protect: %w", err)
	}
	return bridge.DiskStatus{
		DiskPresent:    presentResp == respOK,
		WriteProtected: protectResp == respOK,
	}, nil
}

// AbortStream sends the special abort byte and drains the
// acknowledgement sequence X Y Z x 1 that the sketch emits as it unwinds the
// in-flight stream. It is safe to call even if no stream is active; a
// device that isn't streaming simply won't answer and the read times out
// at the serial layer, which the caller treats as "already stopped".
func (c *Client) AbortStream() {
	c.aborting = true
	c.writeByte(cmdAbort)
	for _, want := range []byte{'X', 'Y', 'Z', 'x', '1'} {
		got, err := c.reader.ReadByte()
		if err != nil || got != want {
			break
		}
	}
	c.aborting = false
}

// HasDiskChangeLine reports false: unmodified Arduino hardware has no
// dedicated disk-change pin and must probe with CheckDisk instead.
func (c *Client) HasDiskChangeLine() bool {
	return false
}
