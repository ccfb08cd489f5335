package mfm

import (
	"github.com/sergev/fdxbridge/pll"
)

// Decoder recovers an MFM bitcell stream from raw flux transition times
// using the SCP-style phase-locked loop in the pll package.
type Decoder struct {
	pll.State
	source *pll.FluxIterator
}

// NewDecoder creates a decoder from absolute transition times in nanoseconds.
func NewDecoder(transitions []uint64, bitRateKhz uint16) *Decoder {
	d := &Decoder{source: pll.NewFluxIterator(transitions)}
	pll.Init(&d.State, bitRateKhz)
	return d
}

// NextBit returns the next bitcell: false for a clocked zero, true for a transition.
func (d *Decoder) NextBit() bool {
	return pll.NextBit(&d.State, d.source)
}

// IsDone reports whether all flux transitions have been consumed.
func (d *Decoder) IsDone() bool {
	return d.source.IsDone()
}

// Speed reports the bitcell just decoded as a percentage of nominal speed,
// 1000=100%, following the same convention as bridge.TrackCache's speed
// field.
func (d *Decoder) Speed() uint16 {
	return uint16(d.Period / d.PeriodIdeal * 1000)
}
