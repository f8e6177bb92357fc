// Package ubvremux streams the frames of one already-analysed partition
// into a progressive MP4 file, without ever transcoding the media
// payload (§4.9).
package ubvremux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/cambrix/ubvremux/internal/isobmff"
	"github.com/cambrix/ubvremux/internal/observability"
	"github.com/cambrix/ubvremux/internal/ubvanalysis"
	"github.com/cambrix/ubvremux/internal/ubvnal"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
	"github.com/cambrix/ubvremux/internal/ubvprobe"
)

// fallbackSamplesPerFrame is used for audio codecs with no well-known
// frame size (§4.9 "Audio, constant-framerate mode").
const fallbackSamplesPerFrame = 1024

// StreamToMP4 demuxes one analysed partition straight into outputPath as
// a progressive MP4, reusing per-frame buffers across the whole write
// (§4.9 step "Buffering"). The muxer keeps every written packet, payload
// included, in memory until Close, so the partition's whole elementary
// stream is held in memory.
func StreamToMP4(ctx context.Context, inputPath string, partition *ubvanalysis.AnalysedPartition, videoTrackID uint16, outputPath string, forceRate int, fastStart bool) error {
	logger := observability.WithComponent(slog.Default(), "remux")

	if partition.Video == nil || partition.Video.FrameCount == 0 {
		logger.InfoContext(ctx, "partition has no video frames, skipping", slog.Uint64("video_track", uint64(videoTrackID)))
		return nil
	}

	videoParams, err := ubvprobe.ProbeVideo(inputPath, videoTrackID, partition.VideoFrames)
	if err != nil {
		return fmt.Errorf("ubvremux: probing video: %w", err)
	}

	var audioParams *ubvprobe.AudioParams
	if partition.Audio != nil && len(partition.AudioFrames) > 0 {
		audioParams, err = ubvprobe.ProbeAudio(inputPath, partition.Audio.TrackID, partition.Audio.ClockRate, partition.AudioFrames)
		if err != nil {
			return fmt.Errorf("ubvremux: probing audio: %w", err)
		}
	}

	logger.InfoContext(ctx, "probed codec parameters",
		slog.String("video_codec", videoParams.CodecTag),
		slog.Int("width", videoParams.Width),
		slog.Int("height", videoParams.Height))

	clockRate := partition.Video.ClockRate
	outputTimescale := clockRate
	if t, reduced := isobmff.SafeMovVideoTimescale(lastDTS(partition.Video.DTS), clockRate); reduced {
		logger.WarnContext(ctx, "reducing video timescale to keep DTS within a signed 32-bit range",
			slog.Uint64("original_rate", uint64(clockRate)), slog.Uint64("reduced_rate", uint64(t)))
		outputTimescale = t
	}

	if audioParams != nil && partition.Audio != nil {
		if maxAudioDTS := lastDTS(partition.Audio.DTS); maxAudioDTS > math.MaxInt32 {
			logger.WarnContext(ctx, "audio DTS exceeds a signed 32-bit range at its native sample rate; container fields may wrap",
				slog.Int64("max_dts", maxAudioDTS))
		}
	}

	opts := isobmff.Options{FastStart: fastStart}
	if partition.Video.HasTimecode {
		opts.StartTimecode = isobmff.GenerateTimecode(partition.Video.StartTimecode, partition.Video.NominalFPS)
	}

	muxer, err := isobmff.NewMuxer(outputPath, opts)
	if err != nil {
		return fmt.Errorf("ubvremux: opening output: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			muxer.Close()
			os.Remove(outputPath)
		}
	}()

	fourCC := ""
	if videoParams.CodecTag == "hevc" {
		fourCC = "hvc1"
	}
	muxer.AddVideoStream(isobmff.VideoStream{
		CodecTag:    videoParams.CodecTag,
		Width:       videoParams.Width,
		Height:      videoParams.Height,
		SPS:         videoParams.SPS,
		PPS:         videoParams.PPS,
		VPS:         videoParams.VPS,
		Timescale:   outputTimescale,
		AvgFrameFPS: partition.Video.NominalFPS,
		FourCC:      fourCC,
	})

	if audioParams != nil {
		var cfgBytes []byte
		if audioParams.Config != nil {
			if b, merr := audioParams.Config.Marshal(); merr == nil {
				cfgBytes = b
			}
		}
		muxer.AddAudioStream(isobmff.AudioStream{
			CodecTag:     audioParams.CodecTag,
			SampleRate:   audioParams.SampleRate,
			ChannelCount: audioParams.ChannelCount,
			Config:       cfgBytes,
		})
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("ubvremux: %w", err)
	}
	defer f.Close()

	readBuf := make([]byte, maxFrameSize(partition))
	var annexB bytes.Buffer

	if err := writeVideoPackets(ctx, muxer, f, partition.VideoFrames, partition.Video.DTS, clockRate, outputTimescale, forceRate, readBuf, &annexB); err != nil {
		return fmt.Errorf("ubvremux: writing video packets: %w", err)
	}

	if audioParams != nil {
		samplesPerFrame := audioSamplesPerFrame(audioParams)
		if err := writeAudioPackets(ctx, muxer, f, partition.AudioFrames, partition.Audio.DTS, samplesPerFrame, forceRate, readBuf); err != nil {
			return fmt.Errorf("ubvremux: writing audio packets: %w", err)
		}
	}

	if err := muxer.Close(); err != nil {
		return fmt.Errorf("ubvremux: closing output: %w", err)
	}
	closed = true

	return nil
}

func lastDTS(dts []int64) int64 {
	if len(dts) == 0 {
		return 0
	}
	return dts[len(dts)-1]
}

func maxFrameSize(p *ubvanalysis.AnalysedPartition) int {
	max := 0
	for _, h := range p.VideoFrames {
		if int(h.DataSize) > max {
			max = int(h.DataSize)
		}
	}
	for _, h := range p.AudioFrames {
		if int(h.DataSize) > max {
			max = int(h.DataSize)
		}
	}
	if max == 0 {
		max = 1
	}
	return max
}

func audioSamplesPerFrame(p *ubvprobe.AudioParams) int {
	switch {
	case p.CodecTag == "aac":
		return 1024
	case p.CodecTag == "ogg" && p.SampleRate == 48000:
		return 960
	default:
		return fallbackSamplesPerFrame
	}
}

func rescale(ticks int64, fromRate, toRate uint32) int64 {
	if fromRate == 0 || fromRate == toRate {
		return ticks
	}
	return ticks * int64(toRate) / int64(fromRate)
}

func writeVideoPackets(ctx context.Context, muxer *isobmff.Muxer, f *os.File, headers []ubvpartition.FrameHeader, dts []int64, clockRate, outputTimescale uint32, forceRate int, readBuf []byte, annexB *bytes.Buffer) error {
	for i, h := range headers {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload := readBuf[:h.DataSize]
		if h.DataSize > 0 {
			if _, err := f.ReadAt(payload, h.PayloadOffset); err != nil {
				return fmt.Errorf("reading video frame %d: %w", i, err)
			}
		}
		if err := ubvnal.ReadVideoFrameAnnexB(payload, annexB); err != nil {
			return fmt.Errorf("transcoding video frame %d: %w", i, err)
		}
		data := append([]byte(nil), annexB.Bytes()...)

		var pts, durTicks int64
		if forceRate > 0 {
			pts = int64(i)
			durTicks = 1
			pts = rescale(pts, uint32(forceRate), outputTimescale)
			durTicks = rescale(durTicks, uint32(forceRate), outputTimescale)
			if durTicks < 1 {
				durTicks = 1
			}
		} else {
			pts = rescale(dts[i], clockRate, outputTimescale)
			durTicks = rescale(frameDuration(dts, i), clockRate, outputTimescale)
			if durTicks < 1 {
				durTicks = 1
			}
		}

		if err := muxer.WriteVideoPacket(isobmff.Packet{
			Data:     data,
			PTS:      pts,
			DTS:      pts,
			Duration: uint32(durTicks),
			Keyframe: h.Keyframe,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeAudioPackets(ctx context.Context, muxer *isobmff.Muxer, f *os.File, headers []ubvpartition.FrameHeader, dts []int64, samplesPerFrame int, forceRate int, readBuf []byte) error {
	for i, h := range headers {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload := readBuf[:h.DataSize]
		if h.DataSize > 0 {
			if _, err := f.ReadAt(payload, h.PayloadOffset); err != nil {
				return fmt.Errorf("reading audio frame %d: %w", i, err)
			}
		}
		data := append([]byte(nil), payload...)

		var pts int64
		var dur uint32
		if forceRate > 0 {
			pts = int64(i * samplesPerFrame)
			dur = uint32(samplesPerFrame)
		} else {
			pts = dts[i]
			dur = uint32(frameDuration(dts, i))
		}

		if err := muxer.WriteAudioPacket(isobmff.Packet{
			Data:     data,
			PTS:      pts,
			DTS:      pts,
			Duration: dur,
		}); err != nil {
			return err
		}
	}
	return nil
}

// frameDuration is max(1, dts[i+1]-dts[i]); the last frame repeats
// the previous delta, or 1 if there is only one frame (§4.9).
func frameDuration(dts []int64, i int) int64 {
	if len(dts) == 1 {
		return 1
	}
	if i+1 < len(dts) {
		d := dts[i+1] - dts[i]
		if d < 1 {
			return 1
		}
		return d
	}
	d := dts[i] - dts[i-1]
	if d < 1 {
		return 1
	}
	return d
}
