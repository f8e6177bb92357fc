package ubvrecord

// FormatCode is the two-byte format field of a record envelope (§3/§4.2).
// HeaderLen adds each flag's byte count in turn (one if per flag) rather
// than reading it from a lookup table. The record parser that depends on
// it, ReadRecord, is in record.go of this package.
type FormatCode uint16

// PacketPosition identifies where a record sits within a (possibly split)
// frame. Only Single is observed in production traffic; the others are
// warned about and otherwise treated like Single (no reassembly, per the
// Non-goals).
type PacketPosition int

const (
	PacketPositionMiddle PacketPosition = iota // 0b00
	PacketPositionLast                         // 0b01
	PacketPositionFirst                        // 0b10
	PacketPositionSingle                       // 0b11
)

func (p PacketPosition) String() string {
	switch p {
	case PacketPositionSingle:
		return "single"
	case PacketPositionFirst:
		return "first"
	case PacketPositionLast:
		return "last"
	default:
		return "middle"
	}
}

// high-byte bit masks.
const (
	bitKeyframe          = 1 << 5
	bitCTSPresent         = 1 << 4
	bitClockRateInline    = 1 << 3
	bit64BitDTS           = 1 << 2
	bitExtraField         = 1 << 1
	bitExtraPadding       = 1 << 0
	bitDurationDoublesSize = 1 << 6
)

// clockRateTable is the fixed 16-entry clock-rate lookup table indexed by
// the low nibble of the format code's low byte (§3). Index 1 is the
// sentinel meaning "read a 32-bit clock rate from the stream".
var clockRateTable = [16]uint32{
	0, 0, 1000, 8000, 11025, 12000, 16000, 22050,
	24000, 32000, 44100, 48000, 90000, 1_000_000, 1_000_000_000, 0,
}

func (f FormatCode) highByte() byte { return byte(f >> 8) }
func (f FormatCode) lowByte() byte  { return byte(f) }

// PacketPosition returns the 2-bit packet-position field (bits 7-6 of the
// high byte).
func (f FormatCode) PacketPosition() PacketPosition {
	return PacketPosition((f.highByte() >> 6) & 0x3)
}

// Keyframe reports bit 5 of the high byte.
func (f FormatCode) Keyframe() bool {
	return f.highByte()&bitKeyframe != 0
}

// CTSPresent reports bit 4 of the high byte. The parser never reads a
// distinct CTS field (composition timestamp is always zero in observed
// data, §3 Frame entry); this accessor exists for diagnostics only.
func (f FormatCode) CTSPresent() bool {
	return f.highByte()&bitCTSPresent != 0
}

// ClockRateInline reports bit 3 of the high byte. Whether an inline clock
// rate is actually read is gated by ClockRateIndex()==1, not this bit
// (§4.1); the bit is preserved for diagnostics.
func (f FormatCode) ClockRateInline() bool {
	return f.highByte()&bitClockRateInline != 0
}

// Is64BitDTS reports bit 2 of the high byte.
func (f FormatCode) Is64BitDTS() bool {
	return f.highByte()&bit64BitDTS != 0
}

// HasExtraField reports bit 1 of the high byte.
func (f FormatCode) HasExtraField() bool {
	return f.highByte()&bitExtraField != 0
}

// ExtraPadding reports bit 0 of the high byte. Stored state only; it has
// no effect on the on-disk layout.
func (f FormatCode) ExtraPadding() bool {
	return f.highByte()&bitExtraPadding != 0
}

// DurationDoublesAsSize reports bit 6 of the high byte: when set, no
// separate duration field precedes the size field (the size itself stands
// in for duration where the two happen to coincide).
func (f FormatCode) DurationDoublesAsSize() bool {
	return f.highByte()&bitDurationDoublesSize != 0
}

// ClockRateIndex returns the low nibble of the low byte: an index into
// clockRateTable, or 1 meaning "read inline".
func (f FormatCode) ClockRateIndex() int {
	return int(f.lowByte() & 0x0F)
}

// ClockRate returns the table-resolved clock rate for this format code.
// Returns 0 when ClockRateIndex() == 1 (caller must read the inline
// value instead).
func (f FormatCode) ClockRate() uint32 {
	return clockRateTable[f.ClockRateIndex()]
}

// HeaderLen returns the total header length in bytes, including the
// 8-byte fixed prefix, computed deterministically from the format code's
// flag bits (§4.2). ReadRecord reads HeaderLen()-8 additional bytes after
// the fixed prefix.
func (f FormatCode) HeaderLen() int {
	n := 8
	if f.ClockRateIndex() == 1 {
		n += 4
	}
	if f.Is64BitDTS() {
		n += 8
	} else {
		n += 4
	}
	if f.HasExtraField() {
		n += 4
	}
	if !f.DurationDoublesAsSize() {
		n += 4
	}
	return n
}
