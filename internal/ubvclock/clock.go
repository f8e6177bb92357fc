// Package ubvclock reconstructs wall-clock time for frames carried in a
// stream whose own timestamps only make sense relative to a separately
// recorded clock-sync anchor.
package ubvclock

import (
	"errors"
	"math/big"
)

// ErrShortPayload is returned when a clock-sync record's payload is
// shorter than the fixed 8 bytes it must carry.
var ErrShortPayload = errors.New("ubvclock: short payload")

// ClockSync anchors a stream-clock DTS to a wall-clock instant. It is
// built once per 0xDA7E record and stays "current" until the next one
// arrives (§4.5).
type ClockSync struct {
	// WallClockMillis is the anchor instant, in milliseconds since the
	// device's wall clock epoch.
	WallClockMillis int64
	// DTS is the anchor's stream-clock DTS, always recorded at a 1 kHz
	// rate.
	DTS int64
}

const anchorRate = 1000

// NewClockSync parses a clock-sync record's 8-byte payload (32-bit
// wall-clock seconds, 32-bit nanoseconds) and pairs it with the record's
// own header DTS, which is always expressed in the 1 kHz stream-clock
// rate.
func NewClockSync(payload []byte, dts int64) (ClockSync, error) {
	if len(payload) < 8 {
		return ClockSync{}, ErrShortPayload
	}
	seconds := int64(uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]))
	nanos := int64(uint32(payload[4])<<24 | uint32(payload[5])<<16 | uint32(payload[6])<<8 | uint32(payload[7]))
	return ClockSync{
		WallClockMillis: seconds*1000 + nanos/1_000_000,
		DTS:             dts,
	}, nil
}

// ComputeWallClock translates frameDTS (expressed at frameRate) into a
// wall-clock tick in that same rate, using the anchor. The two terms of
// the conversion are rounded independently, each with round-half-up, to
// avoid ±1 drift that a combined formula would introduce. The result is
// saturated at zero.
func (c ClockSync) ComputeWallClock(frameDTS int64, frameRate uint32) int64 {
	wcTerm := roundHalfUpRatio(c.WallClockMillis, int64(frameRate), anchorRate)
	scTerm := roundHalfUpRatio(c.DTS, int64(frameRate), anchorRate)
	result := frameDTS + wcTerm - scTerm
	if result < 0 {
		return 0
	}
	return result
}

// WallClockTicksToMillis converts a value expressed at rate ticks/second
// back to milliseconds. It is the exact inverse of the millis->ticks
// conversion used internally, so wc_ticks_to_millis(x, 1000) == x for
// all x.
func WallClockTicksToMillis(ticks int64, rate uint32) int64 {
	return roundHalfUpRatio(ticks, 1000, int64(rate))
}

// roundHalfUpRatio computes round_half_up(value * numerator / denominator)
// using arbitrary-precision integer arithmetic, since value*numerator can
// overflow int64 for large wall-clock millisecond values multiplied by a
// 90 kHz rate.
func roundHalfUpRatio(value, numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	neg := false
	v := big.NewInt(value)
	n := big.NewInt(numerator)
	d := big.NewInt(denominator)
	if d.Sign() < 0 {
		d.Neg(d)
		neg = !neg
	}

	prod := new(big.Int).Mul(v, n)
	if prod.Sign() < 0 {
		neg = !neg
		prod.Neg(prod)
	}

	halfD := new(big.Int).Lsh(d, 0)
	doubled := new(big.Int).Lsh(prod, 1)
	doubled.Add(doubled, d)
	quotient := new(big.Int).Div(doubled, new(big.Int).Lsh(halfD, 1))

	if neg {
		quotient.Neg(quotient)
	}
	return quotient.Int64()
}
