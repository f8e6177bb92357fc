package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/cambrix/ubvremux/internal/config"
	"github.com/cambrix/ubvremux/internal/isobmff"
	"github.com/cambrix/ubvremux/internal/observability"
	"github.com/cambrix/ubvremux/internal/ubvanalysis"
	"github.com/cambrix/ubvremux/internal/ubvnal"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
	"github.com/cambrix/ubvremux/internal/ubvrecord"
	"github.com/cambrix/ubvremux/internal/ubvremux"
	"github.com/cambrix/ubvremux/internal/ubvtrack"
)

// filenameWarningMarkers are substrings that flag a recording as a
// low-resolution rotating or timelapse stream, which this build only
// partially supports (§4.10 step 1).
var filenameWarningMarkers = []string{"_2_rotating_", "_timelapse_"}

// AutoDetectWorkers returns the host's logical CPU count, used as the
// default worker-pool width when cfg.Runtime.Workers is 0 (§5).
func AutoDetectWorkers(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func newEventID() string {
	return ulid.Make().String()
}

// ProcessFiles runs ProcessFile over every path concurrently, bounded by
// cfg.ResolvedWorkers (§5). Events from every worker are
// serialised through a single mutex so one file's event stream is never
// interleaved mid-event with another's, even though files run in
// parallel. Returns the first error encountered if cfg.Runtime.FailFast
// is set; otherwise returns a combined error summarising every failed
// file, or nil if every file succeeded.
func ProcessFiles(ctx context.Context, paths []string, cfg *config.Config, onEvent EventFunc) error {
	workers := cfg.ResolvedWorkers(func() int { return AutoDetectWorkers(ctx) })

	var mu sync.Mutex
	serialized := EventFunc(func(e Event) {
		if onEvent == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onEvent(e)
	})

	sem := make(chan struct{}, workers)
	g, gctx := errgroup.WithContext(ctx)

	var errMu sync.Mutex
	var failures []string

	for _, path := range paths {
		path := path
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			if err := ProcessFile(gctx, path, cfg, serialized); err != nil {
				if cfg.Runtime.FailFast {
					return err
				}
				errMu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", path, err))
				errMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("driver: %d of %d files failed:\n%s", len(failures), len(paths), strings.Join(failures, "\n"))
	}
	return nil
}

// ProcessFile runs one .ubv file through parsing, analysis, and (per
// cfg.Remux.MP4) MP4 remuxing or raw elementary-stream demuxing,
// emitting progress events along the way (§4.10).
func ProcessFile(ctx context.Context, path string, cfg *config.Config, onEvent EventFunc) error {
	logger := observability.WithComponent(slog.Default(), "driver")

	onEvent(FileStartedEvent{ID: newEventID(), Path: path})
	for _, marker := range filenameWarningMarkers {
		if strings.Contains(path, marker) {
			onEvent.logf(newEventID(), "warn", "filename %q matches a partially-supported recording pattern (%q)", path, marker)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("driver: opening %s: %w", path, err)
	}
	defer f.Close()

	partitions, err := ubvpartition.ParseUBV(f)
	if err != nil {
		return fmt.Errorf("driver: parsing %s: %w", path, err)
	}

	if hasSplitPackets(partitions) {
		onEvent.logf(newEventID(), "warn", "%s contains split packets; reassembly is not supported and frames are treated as single packets", path)
	}

	videoTrackID := cfg.Remux.VideoTrack
	if videoTrackID == 0 {
		videoTrackID, err = DetectVideoTrack(partitions)
		if err != nil {
			return fmt.Errorf("driver: %s: %w", path, err)
		}
	}

	analysed := make([]*ubvanalysis.AnalysedPartition, 0, len(partitions))
	for _, p := range partitions {
		a, err := ubvanalysis.Analyse(p, videoTrackID, cfg.Remux.WithAudio)
		if err != nil {
			return fmt.Errorf("driver: analysing %s partition %d: %w", path, p.Index, err)
		}
		analysed = append(analysed, a)
	}

	onEvent(PartitionsFoundEvent{ID: newEventID(), Count: len(analysed)})
	if len(analysed) > 0 {
		logFirstPartitionSummary(ctx, logger, path, analysed[0])
	}

	outDir := cfg.Remux.OutputFolder
	if outDir == config.SourceFolder {
		outDir = filepath.Dir(path)
	}
	base := cfg.Remux.BaseName
	if base == "" {
		base = defaultBaseName(path)
	}

	var outputs, failures []string

	for i, a := range analysed {
		onEvent(PartitionStartedEvent{ID: newEventID(), Index: i, Total: len(analysed)})

		outBase := outputBaseName(outDir, base, a)

		if cfg.Remux.MP4 {
			outPath := outBase + ".mp4"
			stagingPath := outPath + ".tmp-" + uuid.NewString()
			var remuxErr error
			done := observability.TimedOperationWithError(ctx, logger, "remux_partition", &remuxErr)
			remuxErr = ubvremux.StreamToMP4(ctx, path, a, videoTrackID, stagingPath, cfg.Remux.ForceRate, cfg.Remux.FastStart)
			done()
			if err := remuxErr; err != nil {
				os.Remove(stagingPath)
				msg := err.Error()
				failures = append(failures, msg)
				onEvent(PartitionErrorEvent{ID: newEventID(), Index: i + 1, Message: msg})
				continue
			}
			if a.Video == nil || a.Video.FrameCount == 0 {
				// StreamToMP4 wrote nothing in this case; nothing to publish or rename.
				continue
			}
			if err := os.Rename(stagingPath, outPath); err != nil {
				os.Remove(stagingPath)
				msg := err.Error()
				failures = append(failures, msg)
				onEvent(PartitionErrorEvent{ID: newEventID(), Index: i + 1, Message: msg})
				continue
			}
			outputs = append(outputs, outPath)
			onEvent(OutputGeneratedEvent{ID: newEventID(), Path: outPath, Size: fileSize(outPath)})
			continue
		}

		written, err := demuxPartition(f, a, outBase, cfg.Remux.WithVideo, cfg.Remux.WithAudio)
		if err != nil {
			msg := err.Error()
			failures = append(failures, msg)
			onEvent(PartitionErrorEvent{ID: newEventID(), Index: i + 1, Message: msg})
			continue
		}
		for _, w := range written {
			outputs = append(outputs, w)
			onEvent(OutputGeneratedEvent{ID: newEventID(), Path: w, Size: fileSize(w)})
		}
	}

	onEvent(FileCompletedEvent{ID: newEventID(), Path: path, Outputs: outputs, Errors: failures})

	if len(failures) > 0 {
		return fmt.Errorf("driver: %s: %d partition(s) failed", path, len(failures))
	}
	return nil
}

func hasSplitPackets(partitions []ubvpartition.Partition) bool {
	for _, p := range partitions {
		for _, e := range p.Entries {
			fe, ok := e.(ubvpartition.FrameEntry)
			if ok && fe.PacketPosition != ubvrecord.PacketPositionSingle {
				return true
			}
		}
	}
	return false
}

// DetectVideoTrack scans every partition's entries for the first
// video-category track id encountered in file order (§4.10 step 3).
func DetectVideoTrack(partitions []ubvpartition.Partition) (uint16, error) {
	for _, p := range partitions {
		for _, e := range p.Entries {
			fe, ok := e.(ubvpartition.FrameEntry)
			if !ok {
				continue
			}
			if d, known := ubvtrack.Lookup(fe.TrackID); known && d.Category == ubvtrack.CategoryVideo {
				return fe.TrackID, nil
			}
		}
	}
	return 0, errors.New("no video track found to auto-detect")
}

func logFirstPartitionSummary(ctx context.Context, logger *slog.Logger, path string, a *ubvanalysis.AnalysedPartition) {
	attrs := []slog.Attr{
		slog.String("path", path),
		slog.Int("video_tracks", a.VideoTrackCount),
		slog.Int("audio_tracks", a.AudioTrackCount),
	}
	if a.Video != nil {
		attrs = append(attrs,
			slog.Int("video_frames", a.Video.FrameCount),
			slog.Int("video_fps", a.Video.NominalFPS),
			slog.Bool("has_timecode", a.Video.HasTimecode),
		)
	}
	if a.Audio != nil {
		attrs = append(attrs, slog.Int("audio_frames", a.Audio.FrameCount))
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "first partition summary", attrs...)
}

// defaultBaseName derives the output base name from the input path's
// stem with the last underscore-delimited suffix (the camera's numeric
// timestamp) stripped (§6 "Output naming").
func defaultBaseName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return stem
	}
	return stem[:idx]
}

// outputBaseName builds "{folder}/{base}_{start_timecode}" with `:` in
// the timecode replaced by `.` (§6 "Output naming").
func outputBaseName(folder, base string, a *ubvanalysis.AnalysedPartition) string {
	tc := "00.00.00.00"
	if a.Video != nil && a.Video.HasTimecode {
		fps := a.Video.NominalFPS
		if fps < 1 {
			fps = 1
		}
		tc = strings.ReplaceAll(isobmff.GenerateTimecode(a.Video.StartTimecode, fps), ":", ".")
	}
	return filepath.Join(folder, fmt.Sprintf("%s_%s", base, tc))
}

// demuxPartition writes one raw elementary-stream file per stream present
// in the partition (§4.10 step 6, demux mode).
func demuxPartition(f *os.File, a *ubvanalysis.AnalysedPartition, outBase string, withVideo, withAudio bool) ([]string, error) {
	var written []string

	if withVideo && a.Video != nil && len(a.VideoFrames) > 0 {
		ext := codecExtension(a.Video.TrackID, "h264")
		path := outBase + "." + ext
		if err := writeVideoES(f, a.VideoFrames, path); err != nil {
			return written, fmt.Errorf("demuxing video: %w", err)
		}
		written = append(written, path)
	}

	if withAudio && a.Audio != nil && len(a.AudioFrames) > 0 {
		ext := codecExtension(a.Audio.TrackID, "aac")
		path := outBase + "." + ext
		if err := writeAudioES(f, a.AudioFrames, path); err != nil {
			return written, fmt.Errorf("demuxing audio: %w", err)
		}
		written = append(written, path)
	}

	return written, nil
}

func codecExtension(trackID uint16, fallback string) string {
	d, ok := ubvtrack.Lookup(trackID)
	if !ok || d.CodecTag == "" {
		return fallback
	}
	return d.ID.String()
}

func writeVideoES(f *os.File, headers []ubvpartition.FrameHeader, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	buf := make([]byte, maxHeaderSize(headers))
	var annexB bytes.Buffer

	for _, h := range headers {
		payload := buf[:h.DataSize]
		if h.DataSize > 0 {
			if _, err := f.ReadAt(payload, h.PayloadOffset); err != nil {
				out.Close()
				return err
			}
		}
		if err := ubvnal.ReadVideoFrameAnnexB(payload, &annexB); err != nil {
			out.Close()
			return err
		}
		if _, err := out.Write(annexB.Bytes()); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}

func writeAudioES(f *os.File, headers []ubvpartition.FrameHeader, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	buf := make([]byte, maxHeaderSize(headers))

	for _, h := range headers {
		payload := buf[:h.DataSize]
		if h.DataSize > 0 {
			if _, err := f.ReadAt(payload, h.PayloadOffset); err != nil {
				out.Close()
				return err
			}
		}
		if _, err := out.Write(payload); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}

// fileSize stats path for the event payload; 0 if the stat fails, which
// should only happen if the file was removed out from under us between
// writing it and reporting it.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func maxHeaderSize(headers []ubvpartition.FrameHeader) int {
	max := 1
	for _, h := range headers {
		if int(h.DataSize) > max {
			max = int(h.DataSize)
		}
	}
	return max
}
