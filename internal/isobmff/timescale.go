package isobmff

import "math"

// SafeMovVideoTimescale chooses a video timescale that keeps every DTS
// representable as a signed 32-bit integer in the boxes that store them
// (stts/ctts-adjacent fields, §4.9 step 5). It returns (0, false) when no
// reduction is necessary: maxDTS already fits (<= 2^31-1) at the
// requested rate, or rate is zero (nothing to reduce against).
//
// When reduction is necessary, the new timescale is
// floor(0.95 * MaxInt32 * rate / maxDTS), clamped to [1, rate].
func SafeMovVideoTimescale(maxDTS int64, rate uint32) (uint32, bool) {
	if rate == 0 || maxDTS <= math.MaxInt32 {
		return 0, false
	}

	reduced := (0.95 * float64(math.MaxInt32) * float64(rate)) / float64(maxDTS)
	t := int64(math.Floor(reduced))
	if t < 1 {
		t = 1
	}
	if t > int64(rate) {
		t = int64(rate)
	}
	return uint32(t), true
}
