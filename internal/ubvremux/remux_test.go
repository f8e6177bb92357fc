package ubvremux

import (
	"testing"

	"github.com/cambrix/ubvremux/internal/ubvanalysis"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
	"github.com/cambrix/ubvremux/internal/ubvprobe"
)

func frameHeaderWithSize(size uint32) ubvpartition.FrameHeader {
	return ubvpartition.FrameHeader{DataSize: size}
}

func TestFrameDurationSingleFrame(t *testing.T) {
	if got := frameDuration([]int64{0}, 0); got != 1 {
		t.Errorf("frameDuration(single) = %d, want 1", got)
	}
}

func TestFrameDurationMiddleFrame(t *testing.T) {
	dts := []int64{0, 3000, 6000, 9000}
	if got := frameDuration(dts, 1); got != 3000 {
		t.Errorf("frameDuration(middle) = %d, want 3000", got)
	}
}

func TestFrameDurationLastFrameRepeatsPrevious(t *testing.T) {
	dts := []int64{0, 3000, 6000, 9000}
	if got := frameDuration(dts, 3); got != 3000 {
		t.Errorf("frameDuration(last) = %d, want 3000 (repeat of previous delta)", got)
	}
}

func TestFrameDurationClampsNonPositiveDelta(t *testing.T) {
	dts := []int64{0, 0, 5}
	if got := frameDuration(dts, 0); got != 1 {
		t.Errorf("frameDuration(zero delta) = %d, want 1", got)
	}
}

func TestRescaleSameRateIsNoop(t *testing.T) {
	if got := rescale(12345, 90000, 90000); got != 12345 {
		t.Errorf("rescale same rate = %d, want 12345", got)
	}
}

func TestRescaleConvertsTimebase(t *testing.T) {
	got := rescale(90000, 90000, 1000)
	if got != 1000 {
		t.Errorf("rescale(90000 @ 90kHz -> 1kHz) = %d, want 1000", got)
	}
}

func TestRescaleZeroFromRate(t *testing.T) {
	if got := rescale(100, 0, 1000); got != 100 {
		t.Errorf("rescale with zero fromRate = %d, want unchanged 100", got)
	}
}

func TestLastDTSEmpty(t *testing.T) {
	if got := lastDTS(nil); got != 0 {
		t.Errorf("lastDTS(nil) = %d, want 0", got)
	}
}

func TestLastDTSReturnsFinalElement(t *testing.T) {
	if got := lastDTS([]int64{1, 2, 3}); got != 3 {
		t.Errorf("lastDTS = %d, want 3", got)
	}
}

func TestAudioSamplesPerFrameAAC(t *testing.T) {
	if got := audioSamplesPerFrame(&ubvprobe.AudioParams{CodecTag: "aac"}); got != 1024 {
		t.Errorf("aac samples per frame = %d, want 1024", got)
	}
}

func TestAudioSamplesPerFrameOpus48k(t *testing.T) {
	if got := audioSamplesPerFrame(&ubvprobe.AudioParams{CodecTag: "ogg", SampleRate: 48000}); got != 960 {
		t.Errorf("opus@48k samples per frame = %d, want 960", got)
	}
}

func TestAudioSamplesPerFrameFallback(t *testing.T) {
	if got := audioSamplesPerFrame(&ubvprobe.AudioParams{CodecTag: "alaw", SampleRate: 8000}); got != fallbackSamplesPerFrame {
		t.Errorf("fallback samples per frame = %d, want %d", got, fallbackSamplesPerFrame)
	}
}

func TestMaxFrameSizeAcrossVideoAndAudio(t *testing.T) {
	p := &ubvanalysis.AnalysedPartition{}
	p.VideoFrames = append(p.VideoFrames, frameHeaderWithSize(100), frameHeaderWithSize(4096))
	p.AudioFrames = append(p.AudioFrames, frameHeaderWithSize(256))
	if got := maxFrameSize(p); got != 4096 {
		t.Errorf("maxFrameSize = %d, want 4096", got)
	}
}

func TestMaxFrameSizeEmptyPartitionIsAtLeastOne(t *testing.T) {
	p := &ubvanalysis.AnalysedPartition{}
	if got := maxFrameSize(p); got != 1 {
		t.Errorf("maxFrameSize(empty) = %d, want 1", got)
	}
}
