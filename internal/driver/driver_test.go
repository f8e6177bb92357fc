package driver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cambrix/ubvremux/internal/ubvanalysis"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
	"github.com/cambrix/ubvremux/internal/ubvrecord"
)

func TestDefaultBaseNameStripsLastUnderscoreSuffix(t *testing.T) {
	got := defaultBaseName("/rec/camera1_entrance_1683867154.ubv")
	want := "camera1_entrance"
	if got != want {
		t.Errorf("defaultBaseName = %q, want %q", got, want)
	}
}

func TestDefaultBaseNameNoUnderscore(t *testing.T) {
	if got := defaultBaseName("/rec/camera.ubv"); got != "camera" {
		t.Errorf("defaultBaseName = %q, want %q", got, "camera")
	}
}

func TestOutputBaseNameNoTimecodeUsesZeroes(t *testing.T) {
	a := &ubvanalysis.AnalysedPartition{}
	got := outputBaseName("/out", "camera1", a)
	want := filepath.Join("/out", "camera1_00.00.00.00")
	if got != want {
		t.Errorf("outputBaseName = %q, want %q", got, want)
	}
}

func TestOutputBaseNameUsesTimecodeWithDotsNotColons(t *testing.T) {
	a := &ubvanalysis.AnalysedPartition{
		Video: &ubvanalysis.AnalysedTrack{
			HasTimecode:   true,
			NominalFPS:    30,
			StartTimecode: time.Date(2023, 5, 12, 10, 30, 45, 0, time.UTC),
		},
	}
	got := outputBaseName("/out", "camera1", a)
	want := filepath.Join("/out", "camera1_10.30.45.01")
	if got != want {
		t.Errorf("outputBaseName = %q, want %q", got, want)
	}
}

func TestCodecExtensionKnownTrack(t *testing.T) {
	if got := codecExtension(7, "fallback"); got != "h264" {
		t.Errorf("codecExtension(h264 track) = %q, want h264", got)
	}
}

func TestCodecExtensionUnknownTrackFallsBack(t *testing.T) {
	if got := codecExtension(0xBEEF, "h264"); got != "h264" {
		t.Errorf("codecExtension(unknown) = %q, want fallback h264", got)
	}
}

func TestDetectVideoTrackFindsFirstVideoEntry(t *testing.T) {
	partitions := []ubvpartition.Partition{
		{Entries: []ubvpartition.Entry{
			ubvpartition.MetadataEntry{},
			ubvpartition.FrameEntry{FrameHeader: ubvpartition.FrameHeader{TrackID: 7}},
			ubvpartition.FrameEntry{FrameHeader: ubvpartition.FrameHeader{TrackID: 1000}},
		}},
	}
	got, err := DetectVideoTrack(partitions)
	if err != nil {
		t.Fatalf("DetectVideoTrack: %v", err)
	}
	if got != 7 {
		t.Errorf("DetectVideoTrack = %d, want 7", got)
	}
}

func TestDetectVideoTrackNoVideoReturnsError(t *testing.T) {
	partitions := []ubvpartition.Partition{
		{Entries: []ubvpartition.Entry{
			ubvpartition.FrameEntry{FrameHeader: ubvpartition.FrameHeader{TrackID: 1000}},
		}},
	}
	if _, err := DetectVideoTrack(partitions); err == nil {
		t.Fatal("expected error when no video track is present")
	}
}

func TestHasSplitPacketsAllSingleReturnsFalse(t *testing.T) {
	partitions := []ubvpartition.Partition{
		{Entries: []ubvpartition.Entry{
			ubvpartition.FrameEntry{FrameHeader: ubvpartition.FrameHeader{PacketPosition: ubvrecord.PacketPositionSingle}},
		}},
	}
	if hasSplitPackets(partitions) {
		t.Error("hasSplitPackets = true, want false")
	}
}

func TestHasSplitPacketsDetectsNonSingle(t *testing.T) {
	partitions := []ubvpartition.Partition{
		{Entries: []ubvpartition.Entry{
			ubvpartition.FrameEntry{FrameHeader: ubvpartition.FrameHeader{PacketPosition: ubvrecord.PacketPositionFirst}},
		}},
	}
	if !hasSplitPackets(partitions) {
		t.Error("hasSplitPackets = false, want true")
	}
}

func TestMaxHeaderSizeEmptyIsAtLeastOne(t *testing.T) {
	if got := maxHeaderSize(nil); got != 1 {
		t.Errorf("maxHeaderSize(nil) = %d, want 1", got)
	}
}

func TestMaxHeaderSizePicksLargest(t *testing.T) {
	headers := []ubvpartition.FrameHeader{{DataSize: 10}, {DataSize: 500}, {DataSize: 3}}
	if got := maxHeaderSize(headers); got != 500 {
		t.Errorf("maxHeaderSize = %d, want 500", got)
	}
}

func TestWriteAudioESCopiesPayloadVerbatim(t *testing.T) {
	dir := t.TempDir()
	payload := []byte{0x01, 0x02, 0x03, 0x04}

	inPath := filepath.Join(dir, "in.raw")
	if err := os.WriteFile(inPath, payload, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	in, err := os.Open(inPath)
	if err != nil {
		t.Fatalf("opening fixture: %v", err)
	}
	defer in.Close()

	headers := []ubvpartition.FrameHeader{{DataSize: uint32(len(payload)), PayloadOffset: 0}}
	outPath := filepath.Join(dir, "out.aac")
	if err := writeAudioES(in, headers, outPath); err != nil {
		t.Fatalf("writeAudioES: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("output = %x, want %x", got, payload)
	}
}

func TestFileSizeReturnsByteCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(path, make([]byte, 42), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if got := fileSize(path); got != 42 {
		t.Errorf("fileSize = %d, want 42", got)
	}
}

func TestFileSizeMissingFileReturnsZero(t *testing.T) {
	if got := fileSize(filepath.Join(t.TempDir(), "missing.mp4")); got != 0 {
		t.Errorf("fileSize(missing) = %d, want 0", got)
	}
}

func TestEventFuncLogfNilCallbackIsNoop(t *testing.T) {
	var f EventFunc
	f.logf("id", "info", "message %d", 1) // must not panic
}

func TestEventFuncLogfEmitsLogEvent(t *testing.T) {
	var got Event
	f := EventFunc(func(e Event) { got = e })
	f.logf("id1", "warn", "hello %s", "world")

	le, ok := got.(LogEvent)
	if !ok {
		t.Fatalf("event type = %T, want LogEvent", got)
	}
	if le.Severity != "warn" || le.Message != "hello world" {
		t.Errorf("LogEvent = %+v, want severity=warn message=%q", le, "hello world")
	}
}
