package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/sergev/fdxbridge/bridge"
	"github.com/sergev/fdxbridge/config"
	"github.com/spf13/cobra"
)

var bridgeCylinder int

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Exercise the emulator-facing bridge façade against the attached adapter",
	Long: `Drive the bridge façade (initialise, seek, poll bits, terminate) the way
an emulator's tick loop would, and report what it observed. Useful for
checking that a device answers the real-time bit/speed queries correctly
before wiring it to an actual emulator.`,
	Run: func(cmd *cobra.Command, args []string) {
		if floppyAdapter == nil {
			cobra.CheckErr(fmt.Errorf("adapter not available"))
		}

		device, ok := floppyAdapter.(bridge.FluxDevice)
		if !ok {
			cobra.CheckErr(fmt.Errorf("attached adapter does not implement the bridge flux-device interface"))
		}

		if bridgeCylinder < 0 || bridgeCylinder >= config.Cyls {
			cobra.CheckErr(fmt.Errorf("cylinder %d out of range for drive %q (0..%d)", bridgeCylinder, config.DriveName, config.Cyls-1))
		}

		ctx := context.Background()
		b := bridge.NewBridge(device)

		fmt.Printf("Initialising bridge against drive %q (%d tracks, %d side(s))...\n",
			config.DriveName, config.Cyls, config.Heads)
		if !b.Initialise(ctx) {
			cobra.CheckErr(fmt.Errorf("bridge initialise failed: %s", b.GetLastErrorMessage()))
		}
		defer b.Terminate()

		fmt.Printf("Drive type: %s\n", b.GetDriveTypeID())
		fmt.Printf("At cylinder 0 after rewind: %v\n", b.IsAtCylinder0())

		b.SetMotorStatus(bridge.SurfaceLower, true)
		b.GotoCylinder(bridgeCylinder, bridge.SurfaceLower)

		deadline := time.Now().Add(5 * time.Second)
		for b.GetCurrentCylinderNumber() != bridgeCylinder && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		fmt.Printf("Disk present: %v\n", b.IsDiskInDrive())
		fmt.Printf("Write protected: %v\n", b.IsWriteProtected())
		fmt.Printf("Disk changed since last check: %v\n", b.HasDiskChanged())
		fmt.Printf("Track length at cylinder %d, side 0: %d bits\n", bridgeCylinder, b.MaxMFMBitPosition())

		readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		bit := b.GetMFMBit(readCtx, 0)
		speed := b.GetMFMSpeed(0)
		fmt.Printf("Bit 0: %v, speed %d (1000 = nominal)\n", bit, speed)

		b.SetMotorStatus(bridge.SurfaceLower, false)

		if msg := b.GetLastErrorMessage(); msg != "" {
			fmt.Printf("Last error observed: %s\n", msg)
		}
	},
}

func init() {
	bridgeCmd.Flags().IntVar(&bridgeCylinder, "cylinder", 0, "cylinder to seek to for the self-test")
	rootCmd.AddCommand(bridgeCmd)
}
