package isobmff

import (
	"fmt"
	"time"
)

// GenerateTimecode formats t as a non-drop-frame HH:MM:SS:FF timecode at
// the given integer framerate (§4.9 step 6). The frame number is derived
// from the sub-second nanosecond remainder:
//
//	FF = min(framerate, floor((nanos*framerate + 5e8) / 1e9) + 1)
//
// so a nanosecond value of exactly one second (999_999_999 rounding up)
// never overflows past the last valid frame index.
func GenerateTimecode(t time.Time, framerate int) string {
	nanos := int64(t.Nanosecond())
	frame := (nanos*int64(framerate)+500_000_000)/1_000_000_000 + 1
	if int(frame) > framerate {
		frame = int64(framerate)
	}
	return fmt.Sprintf("%02d:%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second(), frame)
}
