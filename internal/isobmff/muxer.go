// Package isobmff assembles a progressive (non-fragmented) MP4 container
// from already-probed codec parameters and packet streams, using
// abema/go-mp4's box marshaling. It never transcodes media data: every
// sample is written byte-for-byte as handed to it by the remuxer.
package isobmff

import (
	"errors"
	"fmt"
	"io"
	"os"

	gomp4 "github.com/abema/go-mp4"
	"github.com/google/uuid"
)

// ErrMuxer wraps any panic recovered from the underlying box writer, so
// a malformed or unexpected codec parameter never takes down the whole
// process (§9).
var ErrMuxer = errors.New("isobmff: mux failure")

// VideoStream describes the video track to add to the container.
type VideoStream struct {
	CodecTag    string // "h264", "hevc", "av1"
	Width       int
	Height      int
	SPS, PPS    []byte
	VPS         []byte // HEVC only
	Timescale   uint32
	AvgFrameFPS int
	// FourCC is "hvc1" for HEVC, empty meaning "avc1" otherwise (§4.9
	// step 4).
	FourCC string
}

// AudioStream describes the audio track to add to the container.
type AudioStream struct {
	CodecTag     string // "aac", "ogg", "alaw"
	SampleRate   int
	ChannelCount int
	Config       []byte // AudioSpecificConfig bytes, AAC only
}

// Packet is one sample to be written to a track.
type Packet struct {
	Data      []byte
	PTS, DTS  int64
	Duration  uint32
	Keyframe  bool
}

// Options controls container-level behavior.
type Options struct {
	FastStart bool
	// StartTimecode, if non-empty, adds a "tmcd" timecode track carrying
	// this HH:MM:SS:FF string (§4.9 step 6).
	StartTimecode string
}

// Muxer incrementally builds a progressive MP4: tracks are declared,
// packets are appended to a temporary mdat scratch file, then the whole
// container (moov first when FastStart is set) is assembled on Close.
type Muxer struct {
	out     *os.File
	scratch *os.File
	opts    Options

	video *VideoStream
	audio *AudioStream

	videoPackets []Packet
	audioPackets []Packet

	tmcdOffset uint32
}

// NewMuxer opens outputPath for writing and a temporary scratch file
// (named with a uuid suffix) used to stage mdat payload (§4.9
// "Buffering"). Every staged Packet, payload included, is also kept in
// memory until Close.
func NewMuxer(outputPath string, opts Options) (*Muxer, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("isobmff: creating output: %w", err)
	}

	scratch, err := os.CreateTemp("", fmt.Sprintf("ubvremux-mdat-%s-*.tmp", uuid.NewString()))
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("isobmff: creating mdat scratch file: %w", err)
	}

	return &Muxer{out: out, scratch: scratch, opts: opts}, nil
}

// AddVideoStream registers the single video track.
func (m *Muxer) AddVideoStream(s VideoStream) {
	m.video = &s
}

// AddAudioStream registers the single audio track, if any.
func (m *Muxer) AddAudioStream(s AudioStream) {
	m.audio = &s
}

// WriteVideoPacket stages a video sample's Annex-B-transcoded bytes into
// the mdat scratch file.
func (m *Muxer) WriteVideoPacket(p Packet) error {
	if _, err := m.scratch.Write(p.Data); err != nil {
		return fmt.Errorf("isobmff: staging video packet: %w", err)
	}
	m.videoPackets = append(m.videoPackets, p)
	return nil
}

// WriteAudioPacket stages an audio sample verbatim into the mdat scratch
// file.
func (m *Muxer) WriteAudioPacket(p Packet) error {
	if _, err := m.scratch.Write(p.Data); err != nil {
		return fmt.Errorf("isobmff: staging audio packet: %w", err)
	}
	m.audioPackets = append(m.audioPackets, p)
	return nil
}

// Close assembles ftyp/moov/mdat (faststart or normal layout per
// Options), copies the scratch file into mdat, and removes the scratch
// file in both the success and failure paths.
func (m *Muxer) Close() (err error) {
	defer func() {
		m.scratch.Close()
		os.Remove(m.scratch.Name())
		if cerr := m.out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMuxer, r)
		}
	}()

	if m.video == nil {
		return errors.New("isobmff: no video stream registered")
	}

	if m.opts.StartTimecode != "" {
		frame, ferr := parseTimecodeFrame(m.opts.StartTimecode, m.video.AvgFrameFPS)
		if ferr != nil {
			return ferr
		}
		offset, serr := m.scratch.Seek(0, io.SeekCurrent)
		if serr != nil {
			return fmt.Errorf("isobmff: locating tmcd sample offset: %w", serr)
		}
		m.tmcdOffset = uint32(offset)
		var frameBuf [4]byte
		frameBuf[0] = byte(frame >> 24)
		frameBuf[1] = byte(frame >> 16)
		frameBuf[2] = byte(frame >> 8)
		frameBuf[3] = byte(frame)
		if _, werr := m.scratch.Write(frameBuf[:]); werr != nil {
			return fmt.Errorf("isobmff: staging tmcd sample: %w", werr)
		}
	}

	if _, err := m.scratch.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("isobmff: seeking mdat scratch: %w", err)
	}

	mdatSize, err := fileSize(m.scratch)
	if err != nil {
		return err
	}

	w := gomp4.NewWriter(m.out)

	if err := writeFtyp(w); err != nil {
		return err
	}

	ftypEnd, err := m.out.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("isobmff: locating ftyp end: %w", err)
	}

	const mdatHeaderSize = 8 // 32-bit size + 4CC; payloads here never near the 4GB largesize threshold.

	if m.opts.FastStart {
		// moov's serialized size doesn't depend on the numeric value of
		// its stco entries (fixed-width fields), so render it once
		// against a placeholder offset purely to measure its length,
		// then render it for real at the correct absolute mdat offset.
		var probe memWriteSeeker
		if err := writeMoov(gomp4.NewWriter(&probe), m, 0); err != nil {
			return err
		}
		mdatOffset := uint32(ftypEnd) + uint32(len(probe.buf)) + mdatHeaderSize

		if err := writeMoov(w, m, mdatOffset); err != nil {
			return err
		}
		if err := copyMdat(w, m.out, m.scratch, mdatSize); err != nil {
			return err
		}
	} else {
		mdatOffset := uint32(ftypEnd) + mdatHeaderSize
		if err := copyMdat(w, m.out, m.scratch, mdatSize); err != nil {
			return err
		}
		if err := writeMoov(w, m, mdatOffset); err != nil {
			return err
		}
	}

	return nil
}

// memWriteSeeker is a minimal in-memory io.WriteSeeker, used only to
// measure the serialized size of a moov box before its real mdat
// offset is known (faststart layout).
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.buf))
	}
	m.pos = base + offset
	return m.pos, nil
}

func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("isobmff: stat scratch: %w", err)
	}
	return fi.Size(), nil
}

func writeFtyp(w *gomp4.Writer) error {
	_, err := w.WriteBox(&gomp4.Ftyp{
		MajorBrand:       [4]byte{'i', 's', 'o', 'm'},
		MinorVersion:     0x200,
		CompatibleBrands: []gomp4.CompatibleBrandElem{{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}}, {CompatibleBrand: [4]byte{'m', 'p', '4', '1'}}},
	})
	if err != nil {
		return fmt.Errorf("isobmff: writing ftyp: %w", err)
	}
	return nil
}

func copyMdat(w *gomp4.Writer, out *os.File, scratch *os.File, size int64) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat()}); err != nil {
		return fmt.Errorf("isobmff: starting mdat: %w", err)
	}
	if _, err := io.Copy(out, io.LimitReader(scratch, size)); err != nil {
		return fmt.Errorf("isobmff: copying mdat payload: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing mdat: %w", err)
	}
	return nil
}

// writeMoov renders the movie box. mdatOffset is the absolute byte
// offset (within the final output file) of the first byte of mdat's
// payload, needed to compute each track's stco chunk offsets correctly
// regardless of whether mdat precedes or follows moov.
func writeMoov(w *gomp4.Writer, m *Muxer, mdatOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMoov()}); err != nil {
		return fmt.Errorf("isobmff: starting moov: %w", err)
	}

	videoDuration := trackDuration(m.videoPackets)
	movieTimescale := uint32(1000)
	movieDuration := ticksToTimescale(videoDuration, m.video.Timescale, movieTimescale)

	_, err := w.WriteBox(&gomp4.Mvhd{
		Timescale:   movieTimescale,
		DurationV0:  uint32(movieDuration),
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
		NextTrackID: nextTrackID(m),
	})
	if err != nil {
		return fmt.Errorf("isobmff: writing mvhd: %w", err)
	}

	if err := writeVideoTrak(w, m, 1, mdatOffset); err != nil {
		return err
	}

	videoBytes := uint32(0)
	for _, p := range m.videoPackets {
		videoBytes += uint32(len(p.Data))
	}

	trackID := uint32(2)
	audioBytes := uint32(0)
	if m.audio != nil {
		if err := writeAudioTrak(w, m, trackID, mdatOffset+videoBytes); err != nil {
			return err
		}
		for _, p := range m.audioPackets {
			audioBytes += uint32(len(p.Data))
		}
		trackID++
	}

	if m.opts.StartTimecode != "" {
		if err := writeTimecodeTrak(w, m, trackID, mdatOffset+videoBytes+audioBytes); err != nil {
			return err
		}
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing moov: %w", err)
	}
	return nil
}

func nextTrackID(m *Muxer) uint32 {
	id := uint32(2)
	if m.audio != nil {
		id++
	}
	if m.opts.StartTimecode != "" {
		id++
	}
	return id
}

func trackDuration(packets []Packet) int64 {
	if len(packets) == 0 {
		return 0
	}
	last := packets[len(packets)-1]
	return last.DTS + int64(last.Duration)
}

func ticksToTimescale(ticks int64, fromRate, toRate uint32) int64 {
	if fromRate == 0 {
		return 0
	}
	return ticks * int64(toRate) / int64(fromRate)
}

func writeVideoTrak(w *gomp4.Writer, m *Muxer, trackID uint32, mdatOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeTrak()}); err != nil {
		return fmt.Errorf("isobmff: starting video trak: %w", err)
	}

	duration := trackDuration(m.videoPackets)

	_, err := w.WriteBox(&gomp4.Tkhd{
		FullBox:  gomp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID:  trackID,
		Width:    uint32(m.video.Width) << 16,
		Height:   uint32(m.video.Height) << 16,
		Matrix:   [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
		DurationV0: uint32(duration),
	})
	if err != nil {
		return fmt.Errorf("isobmff: writing video tkhd: %w", err)
	}

	if err := writeVideoMdia(w, m, duration, mdatOffset); err != nil {
		return err
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing video trak: %w", err)
	}
	return nil
}

func writeVideoMdia(w *gomp4.Writer, m *Muxer, duration int64, mdatOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdia()}); err != nil {
		return fmt.Errorf("isobmff: starting video mdia: %w", err)
	}

	if _, err := w.WriteBox(&gomp4.Mdhd{
		Timescale:  m.video.Timescale,
		DurationV0: uint32(duration),
		Language:   [3]byte{'u', 'n', 'd'},
	}); err != nil {
		return fmt.Errorf("isobmff: writing video mdhd: %w", err)
	}

	if _, err := w.WriteBox(&gomp4.Hdlr{
		HandlerType: [4]byte{'v', 'i', 'd', 'e'},
		Name:        "VideoHandler",
	}); err != nil {
		return fmt.Errorf("isobmff: writing video hdlr: %w", err)
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMinf()}); err != nil {
		return fmt.Errorf("isobmff: starting minf: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Vmhd{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}}); err != nil {
		return fmt.Errorf("isobmff: writing vmhd: %w", err)
	}
	if err := writeDinf(w); err != nil {
		return err
	}
	if err := writeVideoStbl(w, m, mdatOffset); err != nil {
		return err
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing minf: %w", err)
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing video mdia: %w", err)
	}
	return nil
}

func writeDinf(w *gomp4.Writer) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeDinf()}); err != nil {
		return fmt.Errorf("isobmff: starting dinf: %w", err)
	}
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeDref()}); err != nil {
		return fmt.Errorf("isobmff: starting dref: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Url{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}}); err != nil {
		return fmt.Errorf("isobmff: writing url: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing dref: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing dinf: %w", err)
	}
	return nil
}

func fourCC(tag string) [4]byte {
	var b [4]byte
	copy(b[:], tag)
	return b
}

func writeVideoStbl(w *gomp4.Writer, m *Muxer, mdatOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStbl()}); err != nil {
		return fmt.Errorf("isobmff: starting video stbl: %w", err)
	}

	codecTag := m.video.FourCC
	if codecTag == "" {
		codecTag = "avc1"
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStsd()}); err != nil {
		return fmt.Errorf("isobmff: starting stsd: %w", err)
	}
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: fourCC(codecTag)}); err != nil {
		return fmt.Errorf("isobmff: starting %s: %w", codecTag, err)
	}
	if _, err := w.WriteBox(&gomp4.VisualSampleEntry{
		SampleEntry: gomp4.SampleEntry{DataReferenceIndex: 1},
		Width:       uint16(m.video.Width),
		Height:      uint16(m.video.Height),
		Horizresolution: 0x00480000,
		Vertresolution:  0x00480000,
		FrameCount:      1,
		Depth:           0x0018,
	}); err != nil {
		return fmt.Errorf("isobmff: writing visual sample entry: %w", err)
	}

	if err := writeVideoConfigBox(w, m.video); err != nil {
		return err
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing %s: %w", codecTag, err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing stsd: %w", err)
	}

	if err := writeSampleTables(w, m.videoPackets, mdatOffset); err != nil {
		return err
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing video stbl: %w", err)
	}
	return nil
}

// HEVC NAL unit types for the parameter sets carried in an hvcC box
// (ITU-T H.265 Annex B, Table 7-1).
const (
	hevcNALUVPS = 32
	hevcNALUSPS = 33
	hevcNALUPPS = 34
)

// hevcNaluArrays builds one HvcC array per non-empty parameter set, in
// VPS/SPS/PPS order, so the box's NumOfArrays always matches the NAL
// units it actually carries.
func hevcNaluArrays(v *VideoStream) []gomp4.HEVCNaluArray {
	var arrays []gomp4.HEVCNaluArray
	for _, ps := range []struct {
		naluType uint8
		unit     []byte
	}{
		{hevcNALUVPS, v.VPS},
		{hevcNALUSPS, v.SPS},
		{hevcNALUPPS, v.PPS},
	} {
		if len(ps.unit) == 0 {
			continue
		}
		arrays = append(arrays, gomp4.HEVCNaluArray{
			NaluType: ps.naluType,
			NumNalus: 1,
			Nalus: []gomp4.HEVCNalu{{
				Length:  uint16(len(ps.unit)),
				NALUnit: ps.unit,
			}},
		})
	}
	return arrays
}

func writeVideoConfigBox(w *gomp4.Writer, v *VideoStream) error {
	switch v.CodecTag {
	case "hevc":
		arrays := hevcNaluArrays(v)
		_, err := w.WriteBox(&gomp4.HvcC{
			ConfigurationVersion: 1,
			NumOfArrays:          uint8(len(arrays)),
			NaluArrays:           arrays,
		})
		if err != nil {
			return fmt.Errorf("isobmff: writing hvcC: %w", err)
		}
	default:
		_, err := w.WriteBox(&gomp4.AVCDecoderConfiguration{
			ConfigurationVersion: 1,
			SequenceParameterSets: []gomp4.AVCParameterSet{{
				Length:  uint16(len(v.SPS)),
				NALUnit: v.SPS,
			}},
			PictureParameterSets: []gomp4.AVCParameterSet{{
				Length:  uint16(len(v.PPS)),
				NALUnit: v.PPS,
			}},
		})
		if err != nil {
			return fmt.Errorf("isobmff: writing avcC: %w", err)
		}
	}
	return nil
}

func writeAudioTrak(w *gomp4.Writer, m *Muxer, trackID uint32, mdatOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeTrak()}); err != nil {
		return fmt.Errorf("isobmff: starting audio trak: %w", err)
	}

	duration := trackDuration(m.audioPackets)

	if _, err := w.WriteBox(&gomp4.Tkhd{
		FullBox:    gomp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID:    trackID,
		DurationV0: uint32(duration),
		Volume:     0x0100,
		Matrix:     [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
	}); err != nil {
		return fmt.Errorf("isobmff: writing audio tkhd: %w", err)
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdia()}); err != nil {
		return fmt.Errorf("isobmff: starting audio mdia: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Mdhd{
		Timescale:  uint32(m.audio.SampleRate),
		DurationV0: uint32(duration),
		Language:   [3]byte{'u', 'n', 'd'},
	}); err != nil {
		return fmt.Errorf("isobmff: writing audio mdhd: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}); err != nil {
		return fmt.Errorf("isobmff: writing audio hdlr: %w", err)
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMinf()}); err != nil {
		return fmt.Errorf("isobmff: starting audio minf: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Smhd{}); err != nil {
		return fmt.Errorf("isobmff: writing smhd: %w", err)
	}
	if err := writeDinf(w); err != nil {
		return err
	}
	if err := writeAudioStbl(w, m, mdatOffset); err != nil {
		return err
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing audio minf: %w", err)
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing audio mdia: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing audio trak: %w", err)
	}
	return nil
}

func writeAudioStbl(w *gomp4.Writer, m *Muxer, mdatOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStbl()}); err != nil {
		return fmt.Errorf("isobmff: starting audio stbl: %w", err)
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStsd()}); err != nil {
		return fmt.Errorf("isobmff: starting audio stsd: %w", err)
	}
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: fourCC("mp4a")}); err != nil {
		return fmt.Errorf("isobmff: starting mp4a: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.AudioSampleEntry{
		SampleEntry:     gomp4.SampleEntry{DataReferenceIndex: 1},
		ChannelCount:    uint16(m.audio.ChannelCount),
		SampleSize:      16,
		SampleRate:      uint32(m.audio.SampleRate) << 16,
	}); err != nil {
		return fmt.Errorf("isobmff: writing audio sample entry: %w", err)
	}
	if m.audio.CodecTag == "aac" {
		if _, err := w.WriteBox(&gomp4.Esds{
			Descriptors: []gomp4.Descriptor{{
				Tag: gomp4.DecoderSpecificInfoTag,
				DecSpecificInfo: &gomp4.DecoderSpecificInfo{
					Data: m.audio.Config,
				},
			}},
		}); err != nil {
			return fmt.Errorf("isobmff: writing esds: %w", err)
		}
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing mp4a: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing audio stsd: %w", err)
	}

	if err := writeSampleTables(w, m.audioPackets, mdatOffset); err != nil {
		return err
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing audio stbl: %w", err)
	}
	return nil
}

// writeSampleTables writes stts/stsc/stsz/stco/stss from the already
// mdat-resident packets. baseOffset is the absolute file offset of this
// track's first sample byte; video and audio share one mdat region
// (video written first, §4.9 steps 8-9), so each track's stco entries
// are baseOffset plus a running cumulative size over its own packets.
func writeSampleTables(w *gomp4.Writer, packets []Packet, baseOffset uint32) error {
	stts := &gomp4.Stts{}
	stsz := &gomp4.Stsz{SampleSize: 0, SampleCount: uint32(len(packets))}
	stco := &gomp4.Stco{}
	var stss *gomp4.Stss

	var runOffset uint32
	for i, p := range packets {
		stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: p.Duration})
		stsz.EntrySize = append(stsz.EntrySize, uint32(len(p.Data)))
		stco.ChunkOffset = append(stco.ChunkOffset, baseOffset+runOffset)
		runOffset += uint32(len(p.Data))
		if p.Keyframe {
			if stss == nil {
				stss = &gomp4.Stss{}
			}
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}
	}
	stts.EntryCount = uint32(len(stts.Entries))
	stsz.SampleSize = 0
	stco.EntryCount = uint32(len(stco.ChunkOffset))

	if _, err := w.WriteBox(stts); err != nil {
		return fmt.Errorf("isobmff: writing stts: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Stsc{EntryCount: 1, Entries: []gomp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: uint32(len(packets)), SampleDescriptionIndex: 1}}}); err != nil {
		return fmt.Errorf("isobmff: writing stsc: %w", err)
	}
	if _, err := w.WriteBox(stsz); err != nil {
		return fmt.Errorf("isobmff: writing stsz: %w", err)
	}
	if _, err := w.WriteBox(stco); err != nil {
		return fmt.Errorf("isobmff: writing stco: %w", err)
	}
	if stss != nil {
		stss.EntryCount = uint32(len(stss.SampleNumber))
		if _, err := w.WriteBox(stss); err != nil {
			return fmt.Errorf("isobmff: writing stss: %w", err)
		}
	}

	return nil
}

// writeTimecodeTrak adds a minimal "tmcd" track carrying a single
// sample: the starting frame count since midnight, encoded as a 32-bit
// counter value per QuickTime's timecode sample format. Close already
// staged that 4-byte sample into the mdat scratch file at m.tmcdOffset;
// sampleOffset is its absolute position in the final output file.
func writeTimecodeTrak(w *gomp4.Writer, m *Muxer, trackID uint32, sampleOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeTrak()}); err != nil {
		return fmt.Errorf("isobmff: starting tmcd trak: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Tkhd{
		FullBox:    gomp4.FullBox{Flags: [3]byte{0, 0, 0}},
		TrackID:    trackID,
		DurationV0: uint32(trackDuration(m.videoPackets)),
	}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd tkhd: %w", err)
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdia()}); err != nil {
		return fmt.Errorf("isobmff: starting tmcd mdia: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Mdhd{
		Timescale:  uint32(m.video.AvgFrameFPS),
		DurationV0: 1,
		Language:   [3]byte{'u', 'n', 'd'},
	}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd mdhd: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Hdlr{HandlerType: [4]byte{'t', 'm', 'c', 'd'}, Name: "TimeCodeHandler"}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd hdlr: %w", err)
	}

	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMinf()}); err != nil {
		return fmt.Errorf("isobmff: starting tmcd minf: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Gmhd{}); err != nil {
		return fmt.Errorf("isobmff: writing gmhd: %w", err)
	}
	if err := writeDinf(w); err != nil {
		return err
	}
	if err := writeTimecodeStbl(w, sampleOffset); err != nil {
		return err
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing tmcd minf: %w", err)
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing tmcd mdia: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing tmcd trak: %w", err)
	}
	return nil
}

// writeTimecodeStbl declares the tmcd track's single 4-byte sample.
func writeTimecodeStbl(w *gomp4.Writer, sampleOffset uint32) error {
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStbl()}); err != nil {
		return fmt.Errorf("isobmff: starting tmcd stbl: %w", err)
	}
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStsd()}); err != nil {
		return fmt.Errorf("isobmff: starting tmcd stsd: %w", err)
	}
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: fourCC("tmcd")}); err != nil {
		return fmt.Errorf("isobmff: starting tmcd sample entry: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.TimecodeSampleEntry{
		SampleEntry: gomp4.SampleEntry{DataReferenceIndex: 1},
		NumFrames:   1,
	}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd sample entry: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing tmcd sample entry: %w", err)
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing tmcd stsd: %w", err)
	}

	if _, err := w.WriteBox(&gomp4.Stts{EntryCount: 1, Entries: []gomp4.SttsEntry{{SampleCount: 1, SampleDelta: 1}}}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd stts: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Stsc{EntryCount: 1, Entries: []gomp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}}}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd stsc: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Stsz{SampleSize: 4, SampleCount: 1}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd stsz: %w", err)
	}
	if _, err := w.WriteBox(&gomp4.Stco{EntryCount: 1, ChunkOffset: []uint32{sampleOffset}}); err != nil {
		return fmt.Errorf("isobmff: writing tmcd stco: %w", err)
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("isobmff: closing tmcd stbl: %w", err)
	}
	return nil
}

// parseTimecodeFrame converts an "HH:MM:SS:FF" string into a frame
// count since midnight at the given framerate.
func parseTimecodeFrame(tc string, framerate int) (int64, error) {
	var h, mm, s, f int
	if _, err := fmt.Sscanf(tc, "%d:%d:%d:%d", &h, &mm, &s, &f); err != nil {
		return 0, fmt.Errorf("isobmff: parsing timecode %q: %w", tc, err)
	}
	return int64((h*3600+mm*60+s)*framerate + f), nil
}
