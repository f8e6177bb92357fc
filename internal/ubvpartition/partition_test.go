package ubvpartition

import (
	"bytes"
	"testing"
)

// buildRecord assembles one well-formed record envelope byte sequence,
// mirroring the grammar exercised by the ubvrecord package's own tests.
func buildRecord(trackID uint16, format uint16, sequence uint16, headerTail []byte, payload []byte) []byte {
	var buf bytes.Buffer

	var prefix [8]byte
	prefix[0] = 0xA0
	prefix[1] = byte(trackID >> 8)
	prefix[2] = byte(trackID)
	prefix[3] = prefix[0] ^ prefix[1] ^ prefix[2]
	prefix[4] = byte(format >> 8)
	prefix[5] = byte(format)
	prefix[6] = byte(sequence >> 8)
	prefix[7] = byte(sequence)
	buf.Write(prefix[:])
	buf.Write(headerTail)

	headerLen := 8 + len(headerTail)
	dataSize := len(payload)

	var sizeBuf [4]byte
	sizeBuf[0] = byte(dataSize >> 24)
	sizeBuf[1] = byte(dataSize >> 16)
	sizeBuf[2] = byte(dataSize >> 8)
	sizeBuf[3] = byte(dataSize)
	buf.Write(sizeBuf[:])
	buf.Write(payload)

	pad := (4 - ((headerLen + 4 + dataSize) % 4)) % 4
	buf.Write(make([]byte, pad))

	backSize := uint32(headerLen + 4 + dataSize + pad)
	var backSizeBuf [4]byte
	backSizeBuf[0] = byte(backSize >> 24)
	backSizeBuf[1] = byte(backSize >> 16)
	backSizeBuf[2] = byte(backSize >> 8)
	backSizeBuf[3] = byte(backSize)
	buf.Write(backSizeBuf[:])

	return buf.Bytes()
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestParseUBVBasicPartition(t *testing.T) {
	var stream bytes.Buffer

	// Partition header, track 9, 32-bit DTS, no payload.
	stream.Write(buildRecord(9, 0xC000, 0, be32(0), nil))

	// Clock sync, track 0xDA7E, 32-bit DTS=0, payload = seconds/nanos.
	csPayload := append(be32(1000), be32(0)...)
	stream.Write(buildRecord(0xDA7E, 0xC000, 0, be32(0), csPayload))

	// Video frame, track 7, keyframe, 90kHz clock rate (index 12), DTS=0.
	stream.Write(buildRecord(7, 0xE00C, 0, be32(0), []byte{0x00, 0x00, 0x00, 0x01}))

	// Video frame, track 7, non-keyframe, DTS=3000.
	stream.Write(buildRecord(7, 0xC00C, 1, be32(3000), []byte{0x00, 0x00, 0x00, 0x02}))

	// Motion record, unrelated track id, skipped? No: 5 is a known metadata id.
	stream.Write(buildRecord(5, 0xC000, 0, be32(0), nil))

	// Unknown track id entirely: must be skipped silently without error.
	stream.Write(buildRecord(65000, 0xC000, 0, be32(0), nil))

	r := bytes.NewReader(stream.Bytes())
	partitions, err := ParseUBV(r)
	if err != nil {
		t.Fatalf("ParseUBV: %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}

	p := partitions[0]
	if p.Header == nil {
		t.Fatal("expected partition header to be set")
	}

	var frames, clockSyncs, metadata int
	for _, e := range p.Entries {
		switch e.Kind() {
		case EntryFrame:
			frames++
		case EntryClockSync:
			clockSyncs++
		case EntryMotion:
			metadata++
		}
	}
	if frames != 2 {
		t.Errorf("frames = %d, want 2", frames)
	}
	if clockSyncs != 1 {
		t.Errorf("clockSyncs = %d, want 1", clockSyncs)
	}
	if metadata != 1 {
		t.Errorf("metadata = %d, want 1", metadata)
	}
}

func TestParseUBVMultiplePartitions(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(buildRecord(9, 0xC000, 0, be32(0), nil))
	stream.Write(buildRecord(7, 0xE00C, 0, be32(0), []byte{0xAA}))
	stream.Write(buildRecord(9, 0xC000, 0, be32(100), nil))
	stream.Write(buildRecord(7, 0xE00C, 0, be32(0), []byte{0xBB}))

	partitions, err := ParseUBV(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatalf("ParseUBV: %v", err)
	}
	if len(partitions) != 2 {
		t.Fatalf("len(partitions) = %d, want 2", len(partitions))
	}
	if partitions[0].Index != 0 || partitions[1].Index != 1 {
		t.Errorf("unexpected partition indices: %d, %d", partitions[0].Index, partitions[1].Index)
	}
}

func TestParseUBVNoTrailingPartitionHeader(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(buildRecord(7, 0xE00C, 0, be32(0), []byte{0xAA}))

	partitions, err := ParseUBV(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatalf("ParseUBV: %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1 (implicit partition for leading frames)", len(partitions))
	}
	if partitions[0].Header != nil {
		t.Error("expected no header for an implicit leading partition")
	}
}

func TestParseUBVEmptyStream(t *testing.T) {
	partitions, err := ParseUBV(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("ParseUBV: %v", err)
	}
	if len(partitions) != 0 {
		t.Errorf("len(partitions) = %d, want 0", len(partitions))
	}
}
