// Package ubvrecord decodes the record envelope used by the camera's .ubv
// container: an 8-byte fixed prefix, a variable-length header whose shape
// depends on the format code, a payload, alignment padding, and a 4-byte
// back-size trailer.
package ubvrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors for the record envelope grammar. Wrapped with context at
// the call site, following the same pattern as the relay package's box
// parsing errors.
var (
	ErrBadMagic         = errors.New("ubvrecord: bad magic byte")
	ErrChecksumMismatch = errors.New("ubvrecord: checksum mismatch")
	ErrShortPayload     = errors.New("ubvrecord: short payload")
	ErrTruncated        = errors.New("ubvrecord: unexpected truncation")
	ErrBackSizeMismatch = errors.New("ubvrecord: back-size mismatch")
)

// maxSmallPayload is the inline-payload threshold (§3): records whose data
// size is at or below this are buffered in Record.Payload; larger records
// are left on disk and addressed via PayloadOffset/DataSize.
const maxSmallPayload = 1024

// maxExtraHeader bounds the stack buffer used to read the variable part of
// the header: inline clock rate (4) + 64-bit DTS (8) + extra field (4) +
// duration (4).
const maxExtraHeader = 20

// Record is one decoded envelope. Frame payload lives only for the
// duration of a file-level call (§3 Lifecycles).
type Record struct {
	FileOffset     int64
	TrackID        uint16
	Format         FormatCode
	Sequence       uint16
	DTS            int64
	ClockRate      uint32
	Extra          uint32
	HasExtra       bool
	Duration       uint32
	HasDuration    bool
	DataSize       uint32
	PayloadOffset  int64
	TotalSize      int64
	Payload        []byte // non-nil iff DataSize <= maxSmallPayload
}

// IsKeyframe reports whether the record's format code carries the keyframe
// bit.
func (r *Record) IsKeyframe() bool {
	return r.Format.Keyframe()
}

// ReadRecord decodes one record envelope from r, which must be positioned
// at the start of the envelope. It returns (nil, nil) on a clean
// end-of-stream: either a genuine io.EOF at the boundary, or a leading
// zero byte, which the container treats as trailing zero-padding rather
// than a malformed record.
func ReadRecord(r io.ReadSeeker) (*Record, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("ubvrecord: seek current: %w", err)
	}

	var prefix [8]byte
	if n, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || (n > 0 && prefix[0] == 0x00) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading fixed prefix: %v", ErrTruncated, err)
	}

	if prefix[0] == 0x00 {
		return nil, nil
	}
	if prefix[0] != 0xA0 {
		return nil, fmt.Errorf("%w: byte0=0x%02x", ErrBadMagic, prefix[0])
	}
	if prefix[0]^prefix[1]^prefix[2] != prefix[3] {
		return nil, fmt.Errorf("%w: 0x%02x^0x%02x^0x%02x != 0x%02x", ErrChecksumMismatch, prefix[0], prefix[1], prefix[2], prefix[3])
	}

	trackID := binary.BigEndian.Uint16(prefix[1:3])
	format := FormatCode(binary.BigEndian.Uint16(prefix[4:6]))
	sequence := binary.BigEndian.Uint16(prefix[6:8])

	// HeaderLen includes the 8-byte fixed prefix already read above.
	headerLen := format.HeaderLen()
	tailLen := headerLen - 8

	var extra [maxExtraHeader]byte
	extraBuf := extra[:tailLen]
	if tailLen > 0 {
		if _, err := io.ReadFull(r, extraBuf); err != nil {
			return nil, fmt.Errorf("%w: reading header tail: %v", ErrTruncated, err)
		}
	}

	rec := &Record{
		FileOffset: start,
		TrackID:    trackID,
		Format:     format,
		Sequence:   sequence,
	}

	pos := 0
	clockRate := format.ClockRate()
	if format.ClockRateIndex() == 1 {
		clockRate = binary.BigEndian.Uint32(extraBuf[pos : pos+4])
		pos += 4
	}
	rec.ClockRate = clockRate

	if format.Is64BitDTS() {
		rec.DTS = int64(binary.BigEndian.Uint64(extraBuf[pos : pos+8]))
		pos += 8
	} else {
		rec.DTS = int64(binary.BigEndian.Uint32(extraBuf[pos : pos+4]))
		pos += 4
	}

	if format.HasExtraField() {
		rec.Extra = binary.BigEndian.Uint32(extraBuf[pos : pos+4])
		rec.HasExtra = true
		pos += 4
	}

	if !format.DurationDoublesAsSize() {
		rec.Duration = binary.BigEndian.Uint32(extraBuf[pos : pos+4])
		rec.HasDuration = true
		pos += 4
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading size field: %v", ErrTruncated, err)
	}
	dataSize := binary.BigEndian.Uint32(sizeBuf[:])
	rec.DataSize = dataSize

	payloadOffset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("ubvrecord: seek current: %w", err)
	}
	rec.PayloadOffset = payloadOffset

	pad := alignmentPad(headerLen, int(dataSize))

	if dataSize <= maxSmallPayload {
		payload := make([]byte, dataSize)
		if dataSize > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("%w: reading inline payload: %v", ErrShortPayload, err)
			}
		}
		rec.Payload = payload
		if pad > 0 {
			if _, err := r.Seek(int64(pad), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("ubvrecord: skipping alignment pad: %w", err)
			}
		}
	} else {
		if _, err := r.Seek(int64(dataSize)+int64(pad), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("ubvrecord: skipping payload+pad: %w", err)
		}
	}

	wantBackSize := uint32(int64(headerLen) + 4 + int64(dataSize) + int64(pad))
	var backSizeBuf [4]byte
	if _, err := io.ReadFull(r, backSizeBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading back-size: %v", ErrTruncated, err)
	}
	if gotBackSize := binary.BigEndian.Uint32(backSizeBuf[:]); gotBackSize != wantBackSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBackSizeMismatch, gotBackSize, wantBackSize)
	}

	rec.TotalSize = int64(wantBackSize) + 4
	return rec, nil
}

// alignmentPad computes the padding needed so that
// header_len + 4 (size field) + data_size + pad is a multiple of 4.
func alignmentPad(headerLen, dataSize int) int {
	return (4 - ((headerLen + 4 + dataSize) % 4)) % 4
}
