// Package ubvtrack maps the numeric track identifiers found in a .ubv
// record envelope to a closed set of semantic track types. Unity/UniFi
// Protect cameras multiplex several payload kinds (video, audio, motion,
// smart-detect events, talkback, clock sync) onto the same per-record
// track-id space; this package is the single place that knows what each
// id means.
package ubvtrack

// Type identifies the semantic kind of a track.
type Type int

// Track type constants, one per closed-set category named in the
// specification.
const (
	TypeUnknown Type = iota
	TypeVideoH264
	TypeVideoHEVC
	TypeVideoAV1
	TypeAudioAAC
	TypeAudioRaw // A-law
	TypeAudioOpus
	TypePartitionHeader
	TypeClockSync
	TypeMotion
	TypeSmartEvent
	TypeJPEG
	TypeSkip
	TypeTalkback
	TypeReserved
)

// Category groups track types for the IsVideo/IsAudio/IsMedia predicates.
type Category int

const (
	CategoryNone Category = iota
	CategoryVideo
	CategoryAudio
	CategoryControl  // partition header, clock sync
	CategoryMetadata // motion, smart event, jpeg, talkback, skip
)

// Descriptor describes one numeric track id.
type Descriptor struct {
	ID Type
	// Kind is a one-character display label ("V"/"A"), empty for
	// non-media tracks except JPEG, which is labelled "V".
	Kind string
	// CodecTag is the canonical short codec name used by the prober and
	// the MP4 muxer (e.g. "h264", "hevc", "aac"); empty for non-codec
	// tracks. JPEG carries the tag "jpeg".
	CodecTag string
	Category Category
}

// Well-known numeric track ids. Values are taken from the device's
// on-disk track registry and are stable across firmware versions.
const (
	idReserved       uint16 = 1
	idMotion         uint16 = 5
	idSkip           uint16 = 6
	idVideoH264      uint16 = 7
	idPartitionHdr   uint16 = 9
	idSmartEvent     uint16 = 10
	idAudioAAC       uint16 = 1000
	idAudioRaw       uint16 = 1001
	idAudioOpus      uint16 = 1002
	idVideoHEVC      uint16 = 1003
	idVideoAV1       uint16 = 1004
	idTalkback       uint16 = 1005
	idJPEG           uint16 = 0x4A70
	idClockSync      uint16 = 0xDA7E
)

var registry = map[uint16]Descriptor{
	idReserved:     {ID: TypeReserved, Category: CategoryNone},
	idMotion:       {ID: TypeMotion, Category: CategoryMetadata},
	idSkip:         {ID: TypeSkip, Category: CategoryMetadata},
	idVideoH264:    {ID: TypeVideoH264, Kind: "V", CodecTag: "h264", Category: CategoryVideo},
	idPartitionHdr: {ID: TypePartitionHeader, Category: CategoryControl},
	idSmartEvent:   {ID: TypeSmartEvent, Category: CategoryMetadata},
	idAudioAAC:     {ID: TypeAudioAAC, Kind: "A", CodecTag: "aac", Category: CategoryAudio},
	idAudioRaw:     {ID: TypeAudioRaw, Kind: "A", CodecTag: "alaw", Category: CategoryAudio},
	idAudioOpus:    {ID: TypeAudioOpus, Kind: "A", CodecTag: "ogg", Category: CategoryAudio},
	idVideoHEVC:    {ID: TypeVideoHEVC, Kind: "V", CodecTag: "hevc", Category: CategoryVideo},
	idVideoAV1:     {ID: TypeVideoAV1, Kind: "V", CodecTag: "av1", Category: CategoryVideo},
	idTalkback:     {ID: TypeTalkback, Category: CategoryMetadata},
	idJPEG:         {ID: TypeJPEG, Kind: "V", CodecTag: "jpeg", Category: CategoryMetadata},
	idClockSync:    {ID: TypeClockSync, Category: CategoryControl},
}

// Lookup returns the descriptor for a numeric track id, or false if the
// id is not in the closed set. Unrecognized ids are not an error
// condition; callers skip them silently (§4.5 of the partition
// assembler).
func Lookup(id uint16) (Descriptor, bool) {
	d, ok := registry[id]
	return d, ok
}

// IsVideo reports whether id names one of the video track types.
func IsVideo(id uint16) bool {
	d, ok := Lookup(id)
	return ok && d.Category == CategoryVideo
}

// IsAudio reports whether id names one of the audio track types.
func IsAudio(id uint16) bool {
	d, ok := Lookup(id)
	return ok && d.Category == CategoryAudio
}

// IsMedia reports whether id carries decodable frame payloads (video or
// audio), as opposed to control or metadata records.
func IsMedia(id uint16) bool {
	d, ok := Lookup(id)
	return ok && (d.Category == CategoryVideo || d.Category == CategoryAudio)
}

// IsControl reports whether id is a partition-header or clock-sync
// record.
func IsControl(id uint16) bool {
	d, ok := Lookup(id)
	return ok && d.Category == CategoryControl
}

// IsMetadata reports whether id is a motion/smart-event/jpeg/skip/
// talkback record.
func IsMetadata(id uint16) bool {
	d, ok := Lookup(id)
	return ok && d.Category == CategoryMetadata
}

// String returns a short human-readable name for a track type, used in
// log lines and the probe summary.
func (t Type) String() string {
	switch t {
	case TypeVideoH264:
		return "h264"
	case TypeVideoHEVC:
		return "hevc"
	case TypeVideoAV1:
		return "av1"
	case TypeAudioAAC:
		return "aac"
	case TypeAudioRaw:
		return "alaw"
	case TypeAudioOpus:
		return "opus"
	case TypePartitionHeader:
		return "partition-header"
	case TypeClockSync:
		return "clock-sync"
	case TypeMotion:
		return "motion"
	case TypeSmartEvent:
		return "smart-event"
	case TypeJPEG:
		return "jpeg"
	case TypeSkip:
		return "skip"
	case TypeTalkback:
		return "talkback"
	case TypeReserved:
		return "reserved"
	default:
		return "unknown"
	}
}
