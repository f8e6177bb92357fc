// Package ubvprobe recovers codec parameters (dimensions, sample rate,
// parameter sets) from a handful of frames of an elementary stream, so
// the MP4 muxer can build sample-entry boxes without decoding the whole
// partition.
package ubvprobe

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/cambrix/ubvremux/internal/ubvnal"
	"github.com/cambrix/ubvremux/internal/ubvpartition"
	"github.com/cambrix/ubvremux/internal/ubvtrack"
)

// ErrUnsupportedCodec is returned for a track id with no known codec
// short-name.
var ErrUnsupportedCodec = errors.New("ubvprobe: unsupported codec")

// maxProbeFrames bounds how many frames are demuxed into memory before
// scanning for parameter sets (§4.8).
const maxProbeFrames = 10

// VideoParams describes a probed video elementary stream.
type VideoParams struct {
	CodecTag string // "h264", "hevc", "av1"
	Width    int
	Height   int
	SPS      []byte
	PPS      []byte
	VPS      []byte // HEVC only
}

// AudioParams describes a probed audio elementary stream.
type AudioParams struct {
	CodecTag     string // "aac", "ogg", "alaw"
	SampleRate   int
	ChannelCount int
	Config       *mpeg4audio.Config // set only for AAC
}

// codecTagFor maps a track id to the short codec name used throughout
// the muxer (§4.8 step 1).
func codecTagFor(trackID uint16) (string, bool) {
	d, ok := ubvtrack.Lookup(trackID)
	if !ok || d.CodecTag == "" {
		return "", false
	}
	return d.CodecTag, true
}

// ProbeVideo demuxes up to the first 10 frames of headers (all assumed
// to belong to a single video track), reads their payload from the
// input file, transcodes to Annex B, and scans for SPS/PPS (and VPS for
// HEVC) to recover codec parameters.
func ProbeVideo(inputPath string, trackID uint16, headers []ubvpartition.FrameHeader) (*VideoParams, error) {
	tag, ok := codecTagFor(trackID)
	if !ok {
		return nil, fmt.Errorf("%w: track id %d", ErrUnsupportedCodec, trackID)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("ubvprobe: %w", err)
	}
	defer f.Close()

	params := &VideoParams{CodecTag: tag}
	var annexB bytes.Buffer

	n := len(headers)
	if n > maxProbeFrames {
		n = maxProbeFrames
	}

	for i := 0; i < n; i++ {
		h := headers[i]
		payload := make([]byte, h.DataSize)
		if h.DataSize > 0 {
			if _, err := f.ReadAt(payload, h.PayloadOffset); err != nil {
				return nil, fmt.Errorf("ubvprobe: reading frame payload: %w", err)
			}
		}
		if err := ubvnal.ReadVideoFrameAnnexB(payload, &annexB); err != nil {
			return nil, fmt.Errorf("ubvprobe: %w", err)
		}

		if err := scanVideoParameterSets(tag, annexB.Bytes(), params); err != nil {
			return nil, err
		}
		if params.haveAll(tag) {
			break
		}
	}

	if params.SPS == nil {
		return nil, fmt.Errorf("%w: no SPS found in first %d frames of track %d", ErrUnsupportedCodec, n, trackID)
	}

	switch tag {
	case "h264":
		var spsp h264.SPS
		if err := spsp.Unmarshal(params.SPS); err != nil {
			return nil, fmt.Errorf("ubvprobe: decoding h264 SPS: %w", err)
		}
		params.Width, params.Height = spsp.Width(), spsp.Height()
	case "hevc":
		var spsp h265.SPS
		if err := spsp.Unmarshal(params.SPS); err != nil {
			return nil, fmt.Errorf("ubvprobe: decoding hevc SPS: %w", err)
		}
		params.Width, params.Height = spsp.Width(), spsp.Height()
	case "av1":
		// Not reached: the parameter-set scan collects nothing for AV1,
		// so an AV1 track already returned ErrUnsupportedCodec above and
		// no AV1 dimensions are probed.
	}

	return params, nil
}

func (p *VideoParams) haveAll(tag string) bool {
	switch tag {
	case "h264":
		return p.SPS != nil && p.PPS != nil
	case "hevc":
		return p.SPS != nil && p.PPS != nil && p.VPS != nil
	default:
		return p.SPS != nil
	}
}

func scanVideoParameterSets(tag string, annexB []byte, out *VideoParams) error {
	var au h264.AnnexB
	if tag == "h264" || tag == "hevc" {
		if err := au.Unmarshal(annexB); err != nil {
			return fmt.Errorf("ubvprobe: %w", err)
		}
	}

	switch tag {
	case "h264":
		for _, nal := range au {
			if len(nal) == 0 {
				continue
			}
			switch h264.NALUType(nal[0] & 0x1F) {
			case h264.NALUTypeSPS:
				if out.SPS == nil {
					out.SPS = append([]byte(nil), nal...)
				}
			case h264.NALUTypePPS:
				if out.PPS == nil {
					out.PPS = append([]byte(nil), nal...)
				}
			}
		}
	case "hevc":
		for _, nal := range au {
			if len(nal) == 0 {
				continue
			}
			switch h265.NALUType((nal[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT:
				if out.VPS == nil {
					out.VPS = append([]byte(nil), nal...)
				}
			case h265.NALUType_SPS_NUT:
				if out.SPS == nil {
					out.SPS = append([]byte(nil), nal...)
				}
			case h265.NALUType_PPS_NUT:
				if out.PPS == nil {
					out.PPS = append([]byte(nil), nal...)
				}
			}
		}
	}
	return nil
}

// ProbeAudio reads the payload of the first frame only (later frames are
// not read) and, if the track is AAC, decodes it as an
// AudioSpecificConfig; for non-AAC tracks no payload is read and only
// sample rate/channel metadata implied by the track id's nominal rate is
// returned.
func ProbeAudio(inputPath string, trackID uint16, clockRate uint32, headers []ubvpartition.FrameHeader) (*AudioParams, error) {
	tag, ok := codecTagFor(trackID)
	if !ok {
		return nil, fmt.Errorf("%w: track id %d", ErrUnsupportedCodec, trackID)
	}

	params := &AudioParams{CodecTag: tag, SampleRate: int(clockRate), ChannelCount: 1}

	if tag != "aac" || len(headers) == 0 {
		return params, nil
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("ubvprobe: %w", err)
	}
	defer f.Close()

	h := headers[0]
	payload := make([]byte, h.DataSize)
	if h.DataSize > 0 {
		if _, err := f.ReadAt(payload, h.PayloadOffset); err != nil {
			return nil, fmt.Errorf("ubvprobe: reading audio frame: %w", err)
		}
	}

	var cfg mpeg4audio.AudioSpecificConfig
	if err := cfg.Unmarshal(payload); err == nil {
		params.Config = &mpeg4audio.Config{
			Type:         cfg.Type,
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.ChannelCount,
		}
		params.SampleRate = cfg.SampleRate
		params.ChannelCount = cfg.ChannelCount
	}

	return params, nil
}
