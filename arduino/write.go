package arduino

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sergev/fdxbridge/bridge"
	"github.com/sergev/fdxbridge/hfe"
	"github.com/sergev/fdxbridge/mfm"
)

// WriteTrackPrecomp sends the write-with-precomp command ('}'): a
// little-endian uint16 bit count, an index-sync flag byte, then the raw MFM
// bits themselves. Write precompensation is computed on the host the same
// way greaseweazle/supercardpro do it and folded into the bit stream isn't
// possible over this byte-oriented wire format (the firmware shifts whole
// bitcells, not individual transition times), so usePrecomp instead just
// gates the device's own on-board precomp via a flag byte, matching
// ArduinoInterface.cpp's writeCurrentTrackPrecomp signature.
func (c *Client) WriteTrackPrecomp(ctx context.Context, mfmBits []byte, totalBits int, fromIndex bool, usePrecomp bool) error {
	header := make([]byte, 3)
	binary.LittleEndian.PutUint16(header[0:2], uint16(totalBits))
	header[2] = '0'
	if fromIndex {
		header[2] = '1'
	}

	if _, err := c.runCommand(cmdWritePrecomp, header); err != nil {
		return fmt.Errorf("start write track: %w", err)
	}

	precompFlag := byte('0')
	if usePrecomp {
		precompFlag = '1'
	}
	if err := c.write([]byte{precompFlag}); err != nil {
		return fmt.Errorf("send precomp flag: %w", err)
	}

	if err := c.write(mfmBits); err != nil {
		return fmt.Errorf("send track data: %w", err)
	}

	resp, err := c.reader.ReadByte()
	if err != nil {
		return bridge.NewDeviceError(bridge.ErrReadResponseFailed, "write track", err)
	}
	switch resp {
	case respOK:
		return nil
	case respWriteTimeout:
		return bridge.NewDeviceError(bridge.ErrWriteTimeout, "write track", nil)
	case respFramingError:
		return bridge.NewDeviceError(bridge.ErrFramingError, "write track", nil)
	case respOverrun:
		return bridge.NewDeviceError(bridge.ErrSerialOverrun, "write track", nil)
	case respWriteProtected:
		return bridge.NewDeviceError(bridge.ErrWriteProtected, "write track", nil)
	default:
		return bridge.NewDeviceError(bridge.ErrUnknown, "write track", fmt.Errorf("unexpected response byte 0x%02x", resp))
	}
}

// Write writes the first numberOfTracks cylinders of disk to the floppy,
// enabling on-device precomp once the cylinder reaches the MFM layer's
// write-precomp start cylinder, mirroring greaseweazle/write.go's policy.
func (c *Client) Write(disk *hfe.Disk, numberOfTracks int) error {
	ctx := context.Background()

	status, err := c.CheckDisk(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to check disk status: %w", err)
	}
	if !status.DiskPresent {
		return bridge.NewDeviceError(bridge.ErrNoDiskInDrive, "write", nil)
	}
	if status.WriteProtected {
		return bridge.NewDeviceError(bridge.ErrWriteProtected, "write", nil)
	}

	if numberOfTracks > int(disk.Header.NumberOfTrack) {
		numberOfTracks = int(disk.Header.NumberOfTrack)
	}

	if err := c.SetMotor(ctx, true, false); err != nil {
		return fmt.Errorf("failed to turn on motor: %w", err)
	}
	defer c.SetMotor(ctx, false, false)

	for cyl := 0; cyl < numberOfTracks; cyl++ {
		if _, err := c.Seek(ctx, cyl, bridge.SeekNormal, false); err != nil {
			return fmt.Errorf("failed to seek to cylinder %d: %w", cyl, err)
		}
		usePrecomp := cyl >= mfm.WritePrecompStartCylinder

		for side := bridge.SurfaceLower; side <= bridge.SurfaceUpper; side++ {
			fmt.Printf("\rWriting track %d, side %d...", cyl, side)
			if err := c.SelectHead(ctx, side); err != nil {
				return fmt.Errorf("failed to select head %d: %w", side, err)
			}

			var mfmBits []byte
			if side == bridge.SurfaceLower {
				mfmBits = disk.Tracks[cyl].Side0
			} else {
				mfmBits = disk.Tracks[cyl].Side1
			}
			if len(mfmBits) == 0 {
				continue
			}

			totalBits := len(mfmBits) * 8
			if err := c.WriteTrackPrecomp(ctx, mfmBits, totalBits, true, usePrecomp); err != nil {
				return fmt.Errorf("failed to write track %d, side %d: %w", cyl, side, err)
			}
		}
	}
	fmt.Printf(" Done\n")

	return nil
}
