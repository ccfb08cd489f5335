package arduino

import (
	"context"
	"fmt"

	"github.com/sergev/fdxbridge/bridge"
)

// PrintStatus prints firmware version and drive presence to stdout.
func (c *Client) PrintStatus() {
	fmt.Printf("Arduino Floppy Reader Firmware Version: %s\n", c.version)
	fmt.Printf("Serial Number: %s\n", c.serialNumber)

	ctx := context.Background()
	if err := c.FindTrack0(ctx); err != nil {
		fmt.Printf("Floppy Drive: Not detected\n")
		return
	}

	status, err := c.CheckDisk(ctx, true)
	if err != nil {
		fmt.Printf("Floppy Drive: Detected, disk status unknown: %v\n", err)
		return
	}
	if !status.DiskPresent {
		fmt.Printf("Floppy Disk: Not inserted\n")
		return
	}
	fmt.Printf("Floppy Disk: Inserted\n")
	if status.WriteProtected {
		fmt.Printf("Write Protected: Yes\n")
	} else {
		fmt.Printf("Write Protected: No\n")
	}
}

// Erase overwrites numberOfTracks cylinders (both sides) with blank flux by
// writing an all-zero-bit MFM pattern, the protocol A equivalent of
// greaseweazle's CMD_ERASE_FLUX since the Arduino sketch has no dedicated
// erase command.
func (c *Client) Erase(numberOfTracks int) error {
	ctx := context.Background()

	if err := c.SetMotor(ctx, true, false); err != nil {
		return fmt.Errorf("failed to turn on motor: %w", err)
	}
	defer c.SetMotor(ctx, false, false)

	blankTrack := make([]byte, 6250)
	totalBits := len(blankTrack) * 8

	for cyl := 0; cyl < numberOfTracks; cyl++ {
		if _, err := c.Seek(ctx, cyl, bridge.SeekNormal, true); err != nil {
			return fmt.Errorf("failed to seek to cylinder %d: %w", cyl, err)
		}
		for side := bridge.SurfaceLower; side <= bridge.SurfaceUpper; side++ {
			fmt.Printf("\rErasing track %d, side %d...", cyl, side)
			if err := c.SelectHead(ctx, side); err != nil {
				return fmt.Errorf("failed to select head %d: %w", side, err)
			}
			if err := c.WriteTrackPrecomp(ctx, blankTrack, totalBits, false, false); err != nil {
				return fmt.Errorf("failed to erase track %d, side %d: %w", cyl, side, err)
			}
		}
	}
	fmt.Printf(" Done\n")

	return nil
}
