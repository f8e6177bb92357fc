// Package anonymise strips scene content from a .ubv capture while
// keeping it structurally parseable, so an operator can share a file
// with a vendor without leaking video/audio/motion data.
//
// It never decodes or re-encodes anything: it walks the same record
// envelope grammar as ubvrecord and zeroes payload bytes in place,
// leaving every header (and the control records that keep the file
// navigable) untouched.
package anonymise

import (
	"fmt"
	"io"
	"os"

	"github.com/cambrix/ubvremux/internal/ubvrecord"
	"github.com/cambrix/ubvremux/internal/ubvtrack"
)

// zeroChunkSize bounds the reusable zero buffer used to blank large
// payloads without allocating per-record.
const zeroChunkSize = 32 * 1024

// Anonymise copies inputPath to outputPath byte-for-byte, then re-parses
// the copy's record envelopes and zeroes the payload region of every
// media record (video, audio, motion, JPEG, smart-event, talkback, skip) in
// place. Clock-sync and partition-header records are left intact so the
// copy remains structurally parseable (§4.12).
func Anonymise(inputPath, outputPath string) error {
	if err := copyFile(inputPath, outputPath); err != nil {
		return fmt.Errorf("anonymise: %w", err)
	}

	out, err := os.OpenFile(outputPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("anonymise: reopening copy: %w", err)
	}
	defer out.Close()

	var zero [zeroChunkSize]byte

	for {
		rec, err := ubvrecord.ReadRecord(out)
		if err != nil {
			return fmt.Errorf("anonymise: %w", err)
		}
		if rec == nil {
			break
		}

		if !shouldZero(rec.TrackID) || rec.DataSize == 0 {
			continue
		}

		if err := zeroRegion(out, rec.PayloadOffset, int64(rec.DataSize), zero[:]); err != nil {
			return fmt.Errorf("anonymise: zeroing record at offset %d: %w", rec.FileOffset, err)
		}
	}

	return nil
}

// shouldZero reports whether a track's records carry scene content that
// must be blanked. Partition-header and clock-sync records (category
// control) are left alone so the file keeps its structure; unrecognized
// track ids are left alone too, since their semantics are unknown.
func shouldZero(trackID uint16) bool {
	d, ok := ubvtrack.Lookup(trackID)
	if !ok {
		return false
	}
	switch d.Category {
	case ubvtrack.CategoryVideo, ubvtrack.CategoryAudio, ubvtrack.CategoryMetadata:
		return true
	default:
		return false
	}
}

func zeroRegion(f *os.File, offset, size int64, zero []byte) error {
	for size > 0 {
		n := int64(len(zero))
		if n > size {
			n = size
		}
		if _, err := f.WriteAt(zero[:n], offset); err != nil {
			return err
		}
		offset += n
		size -= n
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
