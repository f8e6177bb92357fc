package isobmff

import (
	"bytes"
	"testing"

	gomp4 "github.com/abema/go-mp4"
)

func TestMemWriteSeekerWriteGrowsBuffer(t *testing.T) {
	var w memWriteSeeker
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte(" world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(w.buf); got != "hello world" {
		t.Errorf("buf = %q, want %q", got, "hello world")
	}
}

func TestMemWriteSeekerSeekAndOverwrite(t *testing.T) {
	var w memWriteSeeker
	w.Write([]byte("0123456789"))
	if pos, err := w.Seek(2, 0); err != nil || pos != 2 {
		t.Fatalf("Seek(2, start) = (%d, %v)", pos, err)
	}
	w.Write([]byte("XY"))
	if got := string(w.buf); got != "01XY456789" {
		t.Errorf("buf = %q, want %q", got, "01XY456789")
	}

	if pos, err := w.Seek(0, 2); err != nil || pos != 10 {
		t.Fatalf("Seek(0, end) = (%d, %v), want 10", pos, err)
	}
	w.Write([]byte("!"))
	if got := string(w.buf); got != "01XY456789!" {
		t.Errorf("buf = %q, want %q", got, "01XY456789!")
	}
}

func TestWriteSampleTablesOffsetsAreCumulativeFromBase(t *testing.T) {
	packets := []Packet{
		{Data: make([]byte, 100), Duration: 3000, Keyframe: true},
		{Data: make([]byte, 50), Duration: 3000},
		{Data: make([]byte, 75), Duration: 3000},
	}

	var w memWriteSeeker
	const base = uint32(4096)
	if err := writeSampleTables(gomp4.NewWriter(&w), packets, base); err != nil {
		t.Fatalf("writeSampleTables: %v", err)
	}

	boxes, err := gomp4.ExtractBoxWithPayload(bytes.NewReader(w.buf), nil, gomp4.BoxPath{gomp4.BoxTypeStco()})
	if err != nil {
		t.Fatalf("extracting stco: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("found %d stco boxes, want 1", len(boxes))
	}
	got := boxes[0].Payload.(*gomp4.Stco).ChunkOffset

	want := []uint32{4096, 4196, 4246}
	if len(got) != len(want) {
		t.Fatalf("stco has %d offsets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("offset[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestTrackDurationEmptyPackets(t *testing.T) {
	if got := trackDuration(nil); got != 0 {
		t.Errorf("trackDuration(nil) = %d, want 0", got)
	}
}

func TestTrackDurationLastSamplePlusDuration(t *testing.T) {
	packets := []Packet{
		{DTS: 0, Duration: 3000},
		{DTS: 3000, Duration: 3000},
		{DTS: 6000, Duration: 3000},
	}
	if got := trackDuration(packets); got != 9000 {
		t.Errorf("trackDuration = %d, want 9000", got)
	}
}

func TestTicksToTimescaleZeroFromRate(t *testing.T) {
	if got := ticksToTimescale(1000, 0, 1000); got != 0 {
		t.Errorf("ticksToTimescale with zero fromRate = %d, want 0", got)
	}
}

func TestTicksToTimescaleConversion(t *testing.T) {
	got := ticksToTimescale(90000, 90000, 1000)
	if got != 1000 {
		t.Errorf("ticksToTimescale(90000 @ 90kHz -> 1kHz) = %d, want 1000", got)
	}
}

func TestParseTimecodeFrameRoundTrip(t *testing.T) {
	frame, err := parseTimecodeFrame("10:00:00:16", 30)
	if err != nil {
		t.Fatalf("parseTimecodeFrame: %v", err)
	}
	want := int64((10*3600)*30 + 16)
	if frame != want {
		t.Errorf("frame = %d, want %d", frame, want)
	}
}

func TestParseTimecodeFrameInvalid(t *testing.T) {
	if _, err := parseTimecodeFrame("not-a-timecode", 30); err == nil {
		t.Fatal("expected error for malformed timecode")
	}
}

func TestFourCC(t *testing.T) {
	got := fourCC("hvc1")
	want := [4]byte{'h', 'v', 'c', '1'}
	if got != want {
		t.Errorf("fourCC(%q) = %v, want %v", "hvc1", got, want)
	}
}

func TestHevcNaluArraysBuildsOneArrayPerParameterSet(t *testing.T) {
	v := &VideoStream{
		CodecTag: "hevc",
		VPS:      []byte{0x01, 0x02},
		SPS:      []byte{0x03, 0x04, 0x05},
		PPS:      []byte{0x06},
	}

	arrays := hevcNaluArrays(v)
	if len(arrays) != 3 {
		t.Fatalf("len(arrays) = %d, want 3", len(arrays))
	}

	wantTypes := []uint8{hevcNALUVPS, hevcNALUSPS, hevcNALUPPS}
	wantUnits := [][]byte{v.VPS, v.SPS, v.PPS}
	for i, a := range arrays {
		if a.NaluType != wantTypes[i] {
			t.Errorf("arrays[%d].NaluType = %d, want %d", i, a.NaluType, wantTypes[i])
		}
		if a.NumNalus != 1 {
			t.Errorf("arrays[%d].NumNalus = %d, want 1", i, a.NumNalus)
		}
		if len(a.Nalus) != 1 {
			t.Fatalf("arrays[%d].Nalus len = %d, want 1", i, len(a.Nalus))
		}
		if string(a.Nalus[0].NALUnit) != string(wantUnits[i]) {
			t.Errorf("arrays[%d].Nalus[0].NALUnit = %v, want %v", i, a.Nalus[0].NALUnit, wantUnits[i])
		}
		if int(a.Nalus[0].Length) != len(wantUnits[i]) {
			t.Errorf("arrays[%d].Nalus[0].Length = %d, want %d", i, a.Nalus[0].Length, len(wantUnits[i]))
		}
	}
}

func TestHevcNaluArraysSkipsMissingVPS(t *testing.T) {
	v := &VideoStream{
		CodecTag: "hevc",
		SPS:      []byte{0x03, 0x04},
		PPS:      []byte{0x06},
	}

	arrays := hevcNaluArrays(v)
	if len(arrays) != 2 {
		t.Fatalf("len(arrays) = %d, want 2", len(arrays))
	}
	if arrays[0].NaluType != hevcNALUSPS || arrays[1].NaluType != hevcNALUPPS {
		t.Errorf("arrays types = [%d, %d], want [%d, %d]", arrays[0].NaluType, arrays[1].NaluType, hevcNALUSPS, hevcNALUPPS)
	}
}

func TestWriteVideoConfigBoxHEVCWritesAllParameterSets(t *testing.T) {
	var w memWriteSeeker
	writer := gomp4.NewWriter(&w)

	v := &VideoStream{
		CodecTag: "hevc",
		VPS:      []byte{0xAA, 0xBB},
		SPS:      []byte{0xCC, 0xDD, 0xEE},
		PPS:      []byte{0xFF},
	}
	if err := writeVideoConfigBox(writer, v); err != nil {
		t.Fatalf("writeVideoConfigBox: %v", err)
	}
	if w.buf == nil || len(w.buf) == 0 {
		t.Fatal("expected hvcC box bytes to be written")
	}
}

func TestNextTrackIDCountsOptionalTracks(t *testing.T) {
	m := &Muxer{}
	if got := nextTrackID(m); got != 2 {
		t.Errorf("video-only nextTrackID = %d, want 2", got)
	}

	m.audio = &AudioStream{}
	if got := nextTrackID(m); got != 3 {
		t.Errorf("video+audio nextTrackID = %d, want 3", got)
	}

	m.opts.StartTimecode = "00:00:00:00"
	if got := nextTrackID(m); got != 4 {
		t.Errorf("video+audio+tmcd nextTrackID = %d, want 4", got)
	}
}
