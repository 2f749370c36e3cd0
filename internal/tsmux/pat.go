package tsmux

import (
	"bytes"
	"context"
	"fmt"

	"github.com/asticode/go-astits"
)

// PacketPID returns the PID carried in a single 188-byte MPEG-TS packet's
// header, or false if packet isn't a valid-length TS packet starting with
// the sync byte.
func PacketPID(packet []byte) (uint16, bool) {
	if len(packet) != PacketSize || packet[0] != SyncByte {
		return 0, false
	}
	return uint16(packet[1]&0x1F)<<8 | uint16(packet[2]), true
}

// SplitPackets splits data into individual 188-byte TS packets, skipping
// any leading bytes before the first sync byte.
func SplitPackets(data []byte) [][]byte {
	var packets [][]byte
	for i := 0; i+PacketSize <= len(data); i += PacketSize {
		if data[i] != SyncByte {
			// Resync: scan forward for the next sync byte rather than
			// giving up, in case the segment buffer starts mid-packet.
			next := bytes.IndexByte(data[i:], SyncByte)
			if next < 0 {
				break
			}
			i += next - PacketSize // loop increment restores i+PacketSize
			continue
		}
		packets = append(packets, data[i:i+PacketSize])
	}
	return packets
}

// FindPMTPID decodes segment with go-astits to recover the PMT's PID from
// its PAT table. This is the fallback path used when the muxer's own
// cached PAT/PMT bytes from Muxer.InitializeAndGetHeader aren't available
// yet (a segment cut racing the very first header capture): rather than
// assume the PMTProgramID constant always holds, the segment's first PID-0
// packet is parsed directly, matching the conformance patch's own
// algorithm.
func FindPMTPID(segment []byte) (uint16, bool) {
	dem := astits.NewDemuxer(context.Background(), bytes.NewReader(segment))
	for {
		data, err := dem.NextData()
		if err != nil {
			return 0, false
		}
		if data.PAT == nil {
			continue
		}
		for _, prog := range data.PAT.Programs {
			if prog.ProgramMapID != 0 {
				return prog.ProgramMapID, true
			}
		}
		return 0, false
	}
}

// FindPacketAtPID returns the first raw 188-byte packet in segment whose
// PID matches pid, the second half of the PAT/PMT recovery algorithm once
// FindPMTPID has resolved the PMT's PID.
func FindPacketAtPID(segment []byte, pid uint16) ([]byte, bool) {
	for _, pkt := range SplitPackets(segment) {
		if p, ok := PacketPID(pkt); ok && p == pid {
			return pkt, true
		}
	}
	return nil, false
}

// RecoverPATPMT runs the full PAT/PMT recovery algorithm over segment:
// locate the PID-0 (PAT) packet, parse it for the PMT's PID, then locate
// the packet at that PID. Returns an error only when the segment has no
// PAT packet; when the PMT PID or its packet isn't visible it returns the
// PAT with a nil pmt and a nil error, and the caller prepends PAT alone.
func RecoverPATPMT(segment []byte) (pat, pmt []byte, err error) {
	patPkt, ok := FindPacketAtPID(segment, PATProgramID)
	if !ok {
		return nil, nil, fmt.Errorf("tsmux: no PAT packet (PID 0) found in segment")
	}

	pmtPID, ok := FindPMTPID(segment)
	if !ok {
		return patPkt, nil, nil
	}

	pmtPkt, ok := FindPacketAtPID(segment, pmtPID)
	if !ok {
		return patPkt, nil, nil
	}
	return patPkt, pmtPkt, nil
}
