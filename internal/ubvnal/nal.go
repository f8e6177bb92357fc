// Package ubvnal transcodes video frame payloads between the camera's
// on-disk length-prefixed NAL form and the Annex B byte-stream form
// expected by the MP4 muxer's codec probing and packet writers.
package ubvnal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidData is returned when a length prefix claims more bytes than
// remain in the frame.
var ErrInvalidData = errors.New("ubvnal: invalid data")

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// ForEachNAL streams frame, a concatenation of 4-byte big-endian
// length-prefixed NAL units, invoking fn once per NAL with a slice
// pointing into frame (valid only for the duration of the call).
func ForEachNAL(frame []byte, fn func([]byte) error) error {
	pos := 0
	for pos < len(frame) {
		if pos+4 > len(frame) {
			return fmt.Errorf("%w: truncated length prefix at offset %d", ErrInvalidData, pos)
		}
		nalSize := int(binary.BigEndian.Uint32(frame[pos : pos+4]))
		pos += 4
		if nalSize < 0 || pos+nalSize > len(frame) {
			return fmt.Errorf("%w: length prefix %d overruns frame of %d bytes at offset %d", ErrInvalidData, nalSize, len(frame), pos)
		}
		if err := fn(frame[pos : pos+nalSize]); err != nil {
			return err
		}
		pos += nalSize
	}
	return nil
}

// ReadVideoFrameAnnexB transcodes frame's length-prefixed NAL units into
// Annex B byte-stream form (start code + NAL, no trailing start code),
// appending to out after clearing it.
func ReadVideoFrameAnnexB(frame []byte, out *bytes.Buffer) error {
	out.Reset()
	return ForEachNAL(frame, func(nal []byte) error {
		out.Write(startCode)
		out.Write(nal)
		return nil
	})
}
