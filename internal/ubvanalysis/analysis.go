// Package ubvanalysis derives per-track, per-partition summary data
// (frame count, timescale, nominal framerate, rebased DTS sequence,
// start timecode) used to drive both the demuxer and the MP4 remuxer.
package ubvanalysis

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cambrix/ubvremux/internal/ubvclock"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
)

// ErrInvalidData covers wall-clock conversions that land outside a
// representable UTC instant; the only data-driven failure path in the
// analyser.
var ErrInvalidData = errors.New("ubvanalysis: invalid data")

// AnalysedTrack summarises one track's frames within a partition.
type AnalysedTrack struct {
	TrackID       uint16
	FrameCount    int
	ClockRate     uint32
	NominalFPS    int
	DTS           []int64
	StartTimecode time.Time
	HasTimecode   bool
	IsVideo       bool
}

// AnalysedPartition is the analyser's output for one partition: track
// counts, the selected video track (if any), the first audio track (if
// any), and the flat frame headers for both in file order.
type AnalysedPartition struct {
	VideoTrackCount int
	AudioTrackCount int
	Video           *AnalysedTrack
	Audio           *AnalysedTrack
	VideoFrames     []ubvpartition.FrameHeader
	AudioFrames     []ubvpartition.FrameHeader
}

type trackAccumulator struct {
	trackID     uint16
	clockRate   uint32
	dts         []int64
	startWC     int64
	haveStartWC bool
	isVideo     bool
}

// Analyse walks a partition's entries, restricted to the selected video
// track id and (if extractAudio) any audio track, and produces an
// AnalysedPartition per §4.6.
func Analyse(p ubvpartition.Partition, videoTrackID uint16, extractAudio bool) (*AnalysedPartition, error) {
	accs := map[uint16]*trackAccumulator{}
	order := []uint16{}
	videoSeen := map[uint16]bool{}
	audioSeen := map[uint16]bool{}

	result := &AnalysedPartition{}

	for _, e := range p.Entries {
		fe, ok := e.(ubvpartition.FrameEntry)
		if !ok {
			continue
		}
		isVideo := fe.TrackID == videoTrackID
		isAudio := !isVideo && fe.FrameHeader.Kind == "A"
		if !isVideo && !isAudio {
			continue
		}
		if isVideo {
			if !videoSeen[fe.TrackID] {
				videoSeen[fe.TrackID] = true
				result.VideoTrackCount++
			}
			result.VideoFrames = append(result.VideoFrames, fe.FrameHeader)
		}
		if isAudio {
			if !extractAudio {
				continue
			}
			if !audioSeen[fe.TrackID] {
				audioSeen[fe.TrackID] = true
				result.AudioTrackCount++
			}
			result.AudioFrames = append(result.AudioFrames, fe.FrameHeader)
		}

		acc, ok := accs[fe.TrackID]
		if !ok {
			acc = &trackAccumulator{trackID: fe.TrackID, isVideo: isVideo}
			accs[fe.TrackID] = acc
			order = append(order, fe.TrackID)
		}
		if acc.clockRate == 0 && fe.ClockRate != 0 {
			acc.clockRate = fe.ClockRate
		}
		if !acc.haveStartWC {
			acc.startWC = fe.WallClock
			acc.haveStartWC = true
		}
		acc.dts = append(acc.dts, fe.DTS)
	}

	var videoAcc, audioAcc *trackAccumulator
	for _, id := range order {
		acc := accs[id]
		if acc.isVideo && id == videoTrackID && videoAcc == nil {
			videoAcc = acc
		} else if !acc.isVideo && audioAcc == nil {
			audioAcc = acc
		}
	}

	if videoAcc != nil {
		t, err := buildTrack(videoAcc, true)
		if err != nil {
			return nil, err
		}
		result.Video = t
	}
	if audioAcc != nil {
		t, err := buildTrack(audioAcc, false)
		if err != nil {
			return nil, err
		}
		result.Audio = t
	}

	return result, nil
}

func buildTrack(acc *trackAccumulator, isVideo bool) (*AnalysedTrack, error) {
	dts := rebase(acc.dts)

	var nominalFPS int
	if isVideo {
		nominalFPS = nominalFPSFromDeltas(acc.clockRate, dts)
	} else {
		nominalFPS = int(acc.clockRate)
	}

	t := &AnalysedTrack{
		TrackID:    acc.trackID,
		FrameCount: len(dts),
		ClockRate:  acc.clockRate,
		NominalFPS: nominalFPS,
		DTS:        dts,
		IsVideo:    isVideo,
	}

	if acc.haveStartWC && acc.clockRate > 0 {
		millis := ubvclock.WallClockTicksToMillis(acc.startWC, acc.clockRate)
		tm := time.UnixMilli(millis).UTC()
		if tm.Year() < 1 || tm.Year() > 9999 {
			return nil, fmt.Errorf("%w: start timecode out of range", ErrInvalidData)
		}
		t.StartTimecode = tm
		t.HasTimecode = true
	}

	return t, nil
}

// rebase subtracts dts[0] from every element using a saturating
// subtraction, so the result never goes negative even if upstream data
// violates monotonicity.
func rebase(dts []int64) []int64 {
	if len(dts) == 0 {
		return nil
	}
	base := dts[0]
	out := make([]int64, len(dts))
	for i, v := range dts {
		d := v - base
		if d < 0 {
			d = 0
		}
		out[i] = d
	}
	return out
}

// nominalFPSFromDeltas estimates a video track's frame rate as
// round(clockRate / median(positive deltas)), clamped to at least 1.
func nominalFPSFromDeltas(clockRate uint32, dts []int64) int {
	if clockRate == 0 || len(dts) < 2 {
		return 1
	}
	deltas := make([]int64, 0, len(dts)-1)
	for i := 1; i < len(dts); i++ {
		d := dts[i] - dts[i-1]
		if d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return 1
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	med := median(deltas)
	if med <= 0 {
		return 1
	}
	fps := int((float64(clockRate)/float64(med))+0.5)
	if fps < 1 {
		fps = 1
	}
	return fps
}

func median(sorted []int64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
