package arduino

import (
	"context"
	"fmt"

	"github.com/sergev/fdxbridge/bridge"
	"github.com/sergev/fdxbridge/hfe"
)

// mappedSequence converts a raw 2-bit run-length wire code into the
// firmware's internal sequence number, mirroring outputBitSequence's
// `sequence = (mfm==0) ? 2 : mfm-1` remap. Wire code 3 maps to sequence 2,
// so the original's sequence==3 branch is unreachable here.
func mappedSequence(code byte) byte {
	return (code + 2) % 3
}

// decodeRunLength expands a 2-bit run-length code (0-3) into the zero bits
// and terminating one bit it represents, mirroring
// ArduinoInterface.cpp's outputBitSequence: `sequence`+1 zero bits
// followed by a terminating 1.
func decodeRunLength(code byte) []bool {
	sequence := mappedSequence(code)
	bits := make([]bool, int(sequence)+1, int(sequence)+2)
	bits = append(bits, true)
	return bits
}

// speedFromCode reproduces ArduinoInterface.cpp's tick-duration formula:
// ticksInNS from the 3-bit readSpeed code (already scaled ×16, as the
// firmware does at ArduinoInterface.cpp:1087) plus the run's sequence
// number, then speed as a percentage of nominal, scaled by 10 to the track
// cache's 1000=100% convention (see ArduinoFloppyBridge.cpp's read-side
// scaling).
func speedFromCode(sequence byte, readSpeed byte) uint16 {
	ticksInNS := 3000 + int(sequence)*2000 + (64+int(readSpeed)*2000)/128
	speed := ticksInNS * 100 / ((int(sequence) + 2) * 2000)
	return uint16(speed * 10)
}

// ReadStream issues the read-stream command and decodes wire bytes into
// StreamSample batches until maxRevolutions index pulses have been seen,
// the callback returns false, or ctx is cancelled.
func (c *Client) ReadStream(ctx context.Context, maxRevolutions int, fingerprint []byte, cb bridge.StreamCallback) error {
	if _, err := c.runCommand(cmdReadStream, nil); err != nil {
		return fmt.Errorf("start read stream: %w", err)
	}

	revolutions := 0
	batch := make([]bridge.StreamSample, 0, 64)

	flush := func(endOfRevolution bool) bool {
		if len(batch) == 0 && !endOfRevolution {
			return true
		}
		keep := cb(batch, endOfRevolution)
		batch = batch[:0]
		return keep
	}

	for revolutions < maxRevolutions {
		if ctx.Err() != nil {
			c.AbortStream()
			return ctx.Err()
		}

		b, err := c.reader.ReadByte()
		if err != nil {
			c.AbortStream()
			return bridge.NewDeviceError(bridge.ErrReadResponseFailed, "read stream", err)
		}

		isIndex := b&0x80 != 0
		seq1 := (b >> 5) & 0x3
		seq2 := (b >> 3) & 0x3
		readSpeed := (b & 0x7) * 16

		speed1 := speedFromCode(mappedSequence(seq1), readSpeed)
		for _, bit := range decodeRunLength(seq1) {
			batch = append(batch, bridge.StreamSample{Bit: bit, Speed: speed1})
		}
		speed2 := speedFromCode(mappedSequence(seq2), readSpeed)
		for _, bit := range decodeRunLength(seq2) {
			batch = append(batch, bridge.StreamSample{Bit: bit, Speed: speed2})
		}

		if isIndex {
			revolutions++
			if !flush(true) {
				c.AbortStream()
				return nil
			}
			continue
		}

		if len(batch) >= 64 {
			if !flush(false) {
				c.AbortStream()
				return nil
			}
		}
	}

	c.AbortStream()
	return nil
}

// Read reads numberOfTracks cylinders from the floppy disk and returns the
// decoded image, driving the same Seek/SelectHead/ReadStream primitives the
// bridge façade uses, one full revolution per side.
func (c *Client) Read(numberOfTracks int) (*hfe.Disk, error) {
	ctx := context.Background()

	if err := c.SetMotor(ctx, true, false); err != nil {
		return nil, fmt.Errorf("failed to turn on motor: %w", err)
	}
	defer c.SetMotor(ctx, false, false)

	disk := &hfe.Disk{
		Header: hfe.Header{
			NumberOfTrack:       uint8(numberOfTracks),
			NumberOfSide:        2,
			TrackEncoding:       hfe.ENC_ISOIBM_MFM,
			BitRate:             250,
			FloppyRPM:           300,
			FloppyInterfaceMode: hfe.IFM_IBMPC_DD,
			WriteProtected:      0xFF,
			WriteAllowed:        0xFF,
			SingleStep:          0xFF,
			Track0S0AltEncoding: 0xFF,
			Track0S0Encoding:    hfe.ENC_ISOIBM_MFM,
			Track0S1AltEncoding: 0xFF,
			Track0S1Encoding:    hfe.ENC_ISOIBM_MFM,
		},
		Tracks: make([]hfe.TrackData, numberOfTracks),
	}

	for cyl := 0; cyl < numberOfTracks; cyl++ {
		if _, err := c.Seek(ctx, cyl, bridge.SeekNormal, false); err != nil {
			return nil, fmt.Errorf("failed to seek to cylinder %d: %w", cyl, err)
		}
		for side := bridge.SurfaceLower; side <= bridge.SurfaceUpper; side++ {
			fmt.Printf("\rReading track %d, side %d...", cyl, side)
			if err := c.SelectHead(ctx, side); err != nil {
				return nil, fmt.Errorf("failed to select head %d: %w", side, err)
			}

			var bits []bool
			err := c.ReadStream(ctx, 1, nil, func(samples []bridge.StreamSample, endOfRevolution bool) bool {
				for _, s := range samples {
					bits = append(bits, s.Bit)
				}
				return true
			})
			if err != nil {
				return nil, fmt.Errorf("failed to read track %d, side %d: %w", cyl, side, err)
			}

			mfmBytes := packBits(bits)
			if side == bridge.SurfaceLower {
				disk.Tracks[cyl].Side0 = mfmBytes
			} else {
				disk.Tracks[cyl].Side1 = mfmBytes
			}
		}
	}
	fmt.Printf(" Done\n")

	return disk, nil
}

// packBits packs a slice of bits (MSB-first) into bytes.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}
