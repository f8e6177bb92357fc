// Package ubvpartition assembles the flat record stream of a .ubv file
// into an ordered sequence of partitions, each holding the entries that
// occurred between two partition-header records.
package ubvpartition

import (
	"fmt"
	"io"

	"github.com/cambrix/ubvremux/internal/ubvclock"
	"github.com/cambrix/ubvremux/internal/ubvrecord"
	"github.com/cambrix/ubvremux/internal/ubvtrack"
)

// EntryKind discriminates the closed set of Entry variants.
type EntryKind int

const (
	EntryClockSync EntryKind = iota
	EntryFrame
	EntryMotion
	EntrySmartEvent
	EntryJPEG
	EntrySkip
	EntryTalkback
)

// Entry is one item appended to a partition while scanning records.
// Callers switch on Kind() to recover the concrete payload.
type Entry interface {
	Kind() EntryKind
}

// ClockSyncEntry wraps a parsed clock-sync record.
type ClockSyncEntry struct {
	ubvclock.ClockSync
	FileOffset int64
}

func (ClockSyncEntry) Kind() EntryKind { return EntryClockSync }

// FrameHeader copies the record header fields a downstream consumer
// needs, without retaining the frame payload past the scan.
type FrameHeader struct {
	TrackID        uint16
	FileOffset     int64
	PayloadOffset  int64
	DataSize       uint32
	DTS            int64
	ClockRate      uint32
	Sequence       uint16
	Keyframe       bool
	PacketPosition ubvrecord.PacketPosition
	// Kind is the one-character display label ("V"/"A") from the track
	// registry.
	Kind string
	// CTS is the composition-timestamp offset; always zero in observed
	// data (§3).
	CTS int64
	// WallClock is the frame's wall-clock value, in the frame's own
	// clock rate, computed against the partition's current clock sync
	// (zero if none was active yet).
	WallClock int64
}

// FrameEntry is a media (video or audio) record.
type FrameEntry struct {
	FrameHeader
}

func (FrameEntry) Kind() EntryKind { return EntryFrame }

// MetadataEntry covers motion, smart-event, jpeg, skip, and talkback
// records, which carry no decode semantics of their own.
type MetadataEntry struct {
	TrackID    uint16
	FileOffset int64
	DataSize   uint32
	DTS        int64
	kind       EntryKind
}

func (m MetadataEntry) Kind() EntryKind { return m.kind }

// PartitionHeader is the parsed partition-header record that opened a
// partition, if one was present (the very first partition in a file may
// lack one).
type PartitionHeader struct {
	FileOffset int64
	DTS        int64
	ClockRate  uint32
	Payload    []byte
}

// Partition is an ordered index plus the entries recorded between two
// partition-header records (or the start/end of the file).
type Partition struct {
	Index   int
	Header  *PartitionHeader
	Entries []Entry
}

// ParseUBV streams records from r in file order and groups them into
// partitions per §4.5: a partition-header record starts a new partition;
// a clock-sync record becomes the "current" anchor for subsequent media
// records in addition to being appended as an entry; unknown track ids
// are skipped silently.
func ParseUBV(r io.ReadSeeker) ([]Partition, error) {
	var partitions []Partition
	var current *Partition
	var clockSync *ubvclock.ClockSync

	pushCurrent := func() {
		if current != nil {
			partitions = append(partitions, *current)
			current = nil
		}
	}

	startPartition := func() {
		pushCurrent()
		idx := len(partitions)
		current = &Partition{Index: idx}
		clockSync = nil
	}

	for {
		rec, err := ubvrecord.ReadRecord(r)
		if err != nil {
			return nil, fmt.Errorf("ubvpartition: %w", err)
		}
		if rec == nil {
			break
		}

		desc, known := ubvtrack.Lookup(rec.TrackID)
		if !known {
			continue
		}

		switch desc.ID {
		case ubvtrack.TypePartitionHeader:
			startPartition()
			if current != nil {
				current.Header = &PartitionHeader{
					FileOffset: rec.FileOffset,
					DTS:        rec.DTS,
					ClockRate:  rec.ClockRate,
					Payload:    rec.Payload,
				}
			}
			continue
		case ubvtrack.TypeClockSync:
			if current == nil {
				startPartition()
			}
			cs, err := ubvclock.NewClockSync(rec.Payload, rec.DTS)
			if err != nil {
				return nil, fmt.Errorf("ubvpartition: clock sync at offset %d: %w", rec.FileOffset, err)
			}
			clockSync = &cs
			current.Entries = append(current.Entries, ClockSyncEntry{ClockSync: cs, FileOffset: rec.FileOffset})
			continue
		}

		if current == nil {
			startPartition()
		}

		if desc.Category == ubvtrack.CategoryVideo || desc.Category == ubvtrack.CategoryAudio {
			var wc int64
			if clockSync != nil {
				wc = clockSync.ComputeWallClock(rec.DTS, rec.ClockRate)
			}
			current.Entries = append(current.Entries, FrameEntry{FrameHeader{
				TrackID:        rec.TrackID,
				FileOffset:     rec.FileOffset,
				PayloadOffset:  rec.PayloadOffset,
				DataSize:       rec.DataSize,
				DTS:            rec.DTS,
				ClockRate:      rec.ClockRate,
				Sequence:       rec.Sequence,
				Keyframe:       rec.IsKeyframe(),
				PacketPosition: rec.Format.PacketPosition(),
				Kind:           desc.Kind,
				WallClock:      wc,
			}})
			continue
		}

		var kind EntryKind
		switch desc.ID {
		case ubvtrack.TypeMotion:
			kind = EntryMotion
		case ubvtrack.TypeSmartEvent:
			kind = EntrySmartEvent
		case ubvtrack.TypeJPEG:
			kind = EntryJPEG
		case ubvtrack.TypeSkip:
			kind = EntrySkip
		case ubvtrack.TypeTalkback:
			kind = EntryTalkback
		default:
			continue
		}
		current.Entries = append(current.Entries, MetadataEntry{
			TrackID:    rec.TrackID,
			FileOffset: rec.FileOffset,
			DataSize:   rec.DataSize,
			DTS:        rec.DTS,
			kind:       kind,
		})
	}

	pushCurrent()
	return partitions, nil
}
